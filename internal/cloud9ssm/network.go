package cloud9ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/chainguard-dev/clog"
)

const (
	defaultVPCCIDR    = "10.0.0.0/16"
	defaultSubnetCIDR = "10.0.0.0/24"
	defaultRouteCIDR  = "0.0.0.0/0"
)

var (
	ErrVPCCreate             = errors.New("failed VPC creation")
	ErrNilVPCID              = errors.New("received no error in VPC create, but the VPC ID returned was nil")
	ErrVPCModify             = errors.New("failed to modify VPC attribute")
	ErrVPCDelete             = errors.New("failed to delete VPC")
	ErrInternetGatewayCreate = errors.New("failed to create internet gateway")
	ErrNilInternetGatewayID  = errors.New("received no error in internet gateway create, but the internet gateway ID returned was nil")
	ErrInternetGatewayAttach = errors.New("failed to attach internet gateway to VPC")
	ErrInternetGatewayDetach = errors.New("failed to detach internet gateway")
	ErrInternetGatewayDelete = errors.New("failed to delete internet gateway")
	ErrRouteTableGetForVPC   = errors.New("failed to fetch route table for VPC")
	ErrNoRouteTable          = errors.New("found no route tables for the provided VPC ID")
	ErrRouteTableRouteCreate = errors.New("failed to add route to route table")
	ErrRouteTableRouteDelete = errors.New("failed to delete route table route")
	ErrSubnetCreate          = errors.New("failed to create subnet")
	ErrNilSubnetID           = errors.New("received no error in subnet create, but the subnet ID returned was nil")
	ErrSubnetModify          = errors.New("failed to modify subnet attribute")
	ErrSubnetDelete          = errors.New("failed to delete subnet")
)

// network is the public VPC the environment is placed in when the caller
// brings no environment configuration.
type network struct {
	client EC2API
	state  *NetworkState
	names  names
	tags   tags
}

var _ resource = (*network)(nil)

func (n *network) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx)

	vpcID, err := vpcCreate(ctx, n.client, defaultVPCCIDR, n.tags.with(n.names.vpc()))
	if err != nil {
		return n.teardown(), err
	}
	n.state.VPCID = vpcID
	log.Info("created VPC", "id", vpcID)

	if err := vpcEnableDNSHostnames(ctx, n.client, vpcID); err != nil {
		return n.teardown(), err
	}

	subnetID, err := subnetCreate(ctx, n.client, vpcID, defaultSubnetCIDR, n.tags.with(n.names.subnet()))
	if err != nil {
		return n.teardown(), err
	}
	n.state.SubnetID = subnetID
	log.Info("created VPC subnet", "id", subnetID)

	if err := subnetMapPublicIP(ctx, n.client, subnetID); err != nil {
		return n.teardown(), err
	}

	igwID, err := internetGatewayCreate(ctx, n.client, n.tags.with(n.names.internetGateway()))
	if err != nil {
		return n.teardown(), err
	}
	n.state.InternetGatewayID = igwID
	log.Info("created internet gateway", "id", igwID)

	if err := internetGatewayAttach(ctx, n.client, vpcID, igwID); err != nil {
		return n.teardown(), err
	}
	n.state.GatewayAttached = true
	log.Info("internet gateway attached to VPC", "internet_gateway_id", igwID, "vpc_id", vpcID)

	// The VPC's main route table is created along with it, but the create
	// response doesn't reference it.
	rtbID, err := routeTableGetForVPC(ctx, n.client, vpcID)
	if err != nil {
		return n.teardown(), err
	}
	if err := routeTableIGWRouteCreate(ctx, n.client, rtbID, defaultRouteCIDR, igwID); err != nil {
		return n.teardown(), err
	}
	n.state.RouteTableID = rtbID
	log.Info("created default route to internet gateway", "rtb_id", rtbID)

	return n.teardown(), nil
}

// teardown unwinds the network in the reverse order it was built.
func (n *network) teardown() Teardown {
	if n.state.VPCID == "" {
		return nil
	}
	return func(ctx context.Context) error {
		s := *n.state
		stack := new(Stack)
		stack.Push(func(ctx context.Context) error {
			clog.FromContext(ctx).Info("deleting VPC", "id", s.VPCID)
			return ignoreNotFound(vpcDelete(ctx, n.client, s.VPCID))
		})
		if s.SubnetID != "" {
			stack.Push(func(ctx context.Context) error {
				clog.FromContext(ctx).Info("deleting VPC subnet", "id", s.SubnetID)
				return ignoreNotFound(subnetDelete(ctx, n.client, s.SubnetID))
			})
		}
		if s.InternetGatewayID != "" {
			stack.Push(func(ctx context.Context) error {
				clog.FromContext(ctx).Info("deleting internet gateway", "id", s.InternetGatewayID)
				return ignoreNotFound(internetGatewayDelete(ctx, n.client, s.InternetGatewayID))
			})
		}
		if s.GatewayAttached {
			stack.Push(func(ctx context.Context) error {
				clog.FromContext(ctx).Info("detaching internet gateway", "id", s.InternetGatewayID)
				return ignoreNotFound(internetGatewayDetach(ctx, n.client, s.VPCID, s.InternetGatewayID))
			})
		}
		if s.RouteTableID != "" {
			stack.Push(func(ctx context.Context) error {
				clog.FromContext(ctx).Info("deleting route table route", "rtb_id", s.RouteTableID)
				return ignoreNotFound(routeTableRouteDelete(ctx, n.client, s.RouteTableID, defaultRouteCIDR))
			})
		}
		return stack.Destroy(ctx)
	}
}

func vpcCreate(ctx context.Context, client EC2API, vpcCIDR string, t tags) (string, error) {
	log := clog.FromContext(ctx).With("cidr", vpcCIDR)
	log.Debug("creating VPC")
	result, err := client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         aws.String(vpcCIDR),
		TagSpecifications: t.ec2Specification(types.ResourceTypeVpc),
	})
	if err != nil {
		log.Error("VPC creation failed", "error", err)
		return "", fmt.Errorf("%w: %w", ErrVPCCreate, err)
	}
	if result.Vpc == nil || result.Vpc.VpcId == nil {
		log.Error("VPC creation failed", "error", ErrNilVPCID)
		return "", ErrNilVPCID
	}
	return *result.Vpc.VpcId, nil
}

// vpcEnableDNSHostnames lets the SSM agent on the instance resolve the
// service endpoints by name.
func vpcEnableDNSHostnames(ctx context.Context, client EC2API, vpcID string) error {
	_, err := client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
		VpcId:              aws.String(vpcID),
		EnableDnsHostnames: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVPCModify, err)
	}
	return nil
}

func vpcDelete(ctx context.Context, client EC2API, vpcID string) error {
	_, err := client.DeleteVpc(ctx, &ec2.DeleteVpcInput{
		VpcId: aws.String(vpcID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVPCDelete, err)
	}
	return nil
}

func internetGatewayCreate(ctx context.Context, client EC2API, t tags) (string, error) {
	igwResult, err := client.CreateInternetGateway(ctx, &ec2.CreateInternetGatewayInput{
		TagSpecifications: t.ec2Specification(types.ResourceTypeInternetGateway),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInternetGatewayCreate, err)
	}
	if igwResult.InternetGateway == nil || igwResult.InternetGateway.InternetGatewayId == nil {
		return "", ErrNilInternetGatewayID
	}
	return *igwResult.InternetGateway.InternetGatewayId, nil
}

func internetGatewayAttach(ctx context.Context, client EC2API, vpcID, igwID string) error {
	_, err := client.AttachInternetGateway(ctx, &ec2.AttachInternetGatewayInput{
		VpcId:             &vpcID,
		InternetGatewayId: &igwID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayAttach, err)
	}
	return nil
}

func internetGatewayDetach(ctx context.Context, client EC2API, vpcID, igwID string) error {
	_, err := client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
		InternetGatewayId: &igwID,
		VpcId:             &vpcID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayDetach, err)
	}
	return nil
}

func internetGatewayDelete(ctx context.Context, client EC2API, igwID string) error {
	_, err := client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{
		InternetGatewayId: &igwID,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternetGatewayDelete, err)
	}
	return nil
}

func routeTableGetForVPC(ctx context.Context, client EC2API, vpcID string) (string, error) {
	result, err := client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{
		Filters: []types.Filter{
			{
				Name:   aws.String("vpc-id"),
				Values: []string{vpcID},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRouteTableGetForVPC, err)
	}
	for _, rtb := range result.RouteTables {
		if rtb.RouteTableId != nil {
			return *rtb.RouteTableId, nil
		}
	}
	return "", ErrNoRouteTable
}

func routeTableIGWRouteCreate(ctx context.Context, client EC2API, rtbID, destCIDR, igwID string) error {
	result, err := client.CreateRoute(ctx, &ec2.CreateRouteInput{
		RouteTableId:         &rtbID,
		GatewayId:            &igwID,
		DestinationCidrBlock: &destCIDR,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteTableRouteCreate, err)
	}
	if result.Return == nil || !*result.Return {
		return ErrRouteTableRouteCreate
	}
	return nil
}

func routeTableRouteDelete(ctx context.Context, client EC2API, rtbID, destCIDR string) error {
	_, err := client.DeleteRoute(ctx, &ec2.DeleteRouteInput{
		RouteTableId:         &rtbID,
		DestinationCidrBlock: &destCIDR,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteTableRouteDelete, err)
	}
	return nil
}

func subnetCreate(ctx context.Context, client EC2API, vpcID, subnetCIDR string, t tags) (string, error) {
	result, err := client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
		VpcId:             &vpcID,
		CidrBlock:         &subnetCIDR,
		TagSpecifications: t.ec2Specification(types.ResourceTypeSubnet),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetCreate, err)
	}
	if result.Subnet == nil || result.Subnet.SubnetId == nil {
		return "", fmt.Errorf("%w: %w", ErrSubnetCreate, ErrNilSubnetID)
	}
	return *result.Subnet.SubnetId, nil
}

// subnetMapPublicIP gives the environment's instance a public address, which
// Cloud9 needs to reach it without a NAT.
func subnetMapPublicIP(ctx context.Context, client EC2API, subnetID string) error {
	_, err := client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
		SubnetId:            aws.String(subnetID),
		MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubnetModify, err)
	}
	return nil
}

func subnetDelete(ctx context.Context, client EC2API, subnetID string) error {
	_, err := client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{
		SubnetId: aws.String(subnetID),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubnetDelete, err)
	}
	return nil
}
