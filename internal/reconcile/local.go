package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/chainguard-dev/clog"
)

// EnvironmentTagKey is the tag Cloud9 puts on an environment's instance.
const EnvironmentTagKey = "aws:cloud9:environment"

const targetKeyInstanceIDs = "InstanceIds"

var (
	errAssociationDescribe = errors.New("failed to describe association")
	errNoTargets           = errors.New("association has no resolvable targets")
	errInstanceDescribe    = errors.New("failed to describe instances")
	errNoInstance          = errors.New("no instance matches the association targets")
	errProfileDescribe     = errors.New("failed to describe instance profile associations")
	errProfileAssociate    = errors.New("failed to associate instance profile")
	errProfileReplace      = errors.New("failed to replace instance profile association")
	errInstanceReboot      = errors.New("failed to reboot instance")
)

// EC2API is the subset of the EC2 client used to swap an instance profile.
type EC2API interface {
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeIamInstanceProfileAssociations(ctx context.Context, params *ec2.DescribeIamInstanceProfileAssociationsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeIamInstanceProfileAssociationsOutput, error)
	AssociateIamInstanceProfile(ctx context.Context, params *ec2.AssociateIamInstanceProfileInput, optFns ...func(*ec2.Options)) (*ec2.AssociateIamInstanceProfileOutput, error)
	ReplaceIamInstanceProfileAssociation(ctx context.Context, params *ec2.ReplaceIamInstanceProfileAssociationInput, optFns ...func(*ec2.Options)) (*ec2.ReplaceIamInstanceProfileAssociationOutput, error)
	RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
}

// SSMAPI is the subset of the SSM client used to resolve association
// targets.
type SSMAPI interface {
	DescribeAssociation(ctx context.Context, params *ssm.DescribeAssociationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeAssociationOutput, error)
}

// LocalInvoker performs the reattachment in-process. It honors the same
// contract as the bundled function: a procedure failure is reported in the
// Response, not as an error.
type LocalInvoker struct {
	EC2 EC2API
	SSM SSMAPI
}

var _ Invoker = (*LocalInvoker)(nil)

func (l *LocalInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	resp, err := l.reattach(ctx, req)
	if err != nil {
		return &Response{Status: StatusFailed, Reason: err.Error()}, nil
	}
	return resp, nil
}

func (l *LocalInvoker) reattach(ctx context.Context, req Request) (*Response, error) {
	log := clog.FromContext(ctx)

	filters, err := l.targetFilters(ctx, req)
	if err != nil {
		return nil, err
	}

	instanceID, err := l.findInstance(ctx, filters)
	if err != nil {
		return nil, err
	}
	log = log.With("instance_id", instanceID)

	current, err := l.EC2.DescribeIamInstanceProfileAssociations(ctx, &ec2.DescribeIamInstanceProfileAssociationsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("instance-id"), Values: []string{instanceID}},
			{Name: aws.String("state"), Values: []string{"associating", "associated"}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errProfileDescribe, err)
	}

	switch {
	case len(current.IamInstanceProfileAssociations) == 0:
		log.Info("associating instance profile")
		if _, err := l.EC2.AssociateIamInstanceProfile(ctx, &ec2.AssociateIamInstanceProfileInput{
			InstanceId:         aws.String(instanceID),
			IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{Arn: aws.String(req.ProfileArn)},
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", errProfileAssociate, err)
		}
	default:
		assoc := current.IamInstanceProfileAssociations[0]
		if assoc.IamInstanceProfile != nil && aws.ToString(assoc.IamInstanceProfile.Arn) == req.ProfileArn {
			log.Info("instance profile already attached")
			return &Response{Status: StatusSuccess, InstanceID: instanceID}, nil
		}
		log.Info("replacing instance profile association", "association_id", aws.ToString(assoc.AssociationId))
		if _, err := l.EC2.ReplaceIamInstanceProfileAssociation(ctx, &ec2.ReplaceIamInstanceProfileAssociationInput{
			AssociationId:      assoc.AssociationId,
			IamInstanceProfile: &ec2types.IamInstanceProfileSpecification{Arn: aws.String(req.ProfileArn)},
		}); err != nil {
			return nil, fmt.Errorf("%w: %w", errProfileReplace, err)
		}
	}

	// Restart the SSM agent under the new profile.
	log.Info("rebooting instance")
	if _, err := l.EC2.RebootInstances(ctx, &ec2.RebootInstancesInput{
		InstanceIds: []string{instanceID},
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", errInstanceReboot, err)
	}

	return &Response{Status: StatusSuccess, InstanceID: instanceID, Changed: true}, nil
}

// targetFilters turns the association targets into instance filters,
// falling back to the environment tag.
func (l *LocalInvoker) targetFilters(ctx context.Context, req Request) ([]ec2types.Filter, error) {
	out, err := l.SSM.DescribeAssociation(ctx, &ssm.DescribeAssociationInput{
		Name:          aws.String(req.DocumentName),
		AssociationId: aws.String(req.AssociationID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errAssociationDescribe, err)
	}

	var filters []ec2types.Filter
	if out.AssociationDescription != nil {
		for _, target := range out.AssociationDescription.Targets {
			key := aws.ToString(target.Key)
			switch {
			case key == targetKeyInstanceIDs:
				filters = append(filters, ec2types.Filter{Name: aws.String("instance-id"), Values: target.Values})
			case strings.HasPrefix(key, "tag:"):
				filters = append(filters, ec2types.Filter{Name: aws.String(key), Values: target.Values})
			}
		}
	}
	if len(filters) == 0 && req.EnvironmentID != "" {
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("tag:" + EnvironmentTagKey),
			Values: []string{req.EnvironmentID},
		})
	}
	if len(filters) == 0 {
		return nil, errNoTargets
	}
	return filters, nil
}

func (l *LocalInvoker) findInstance(ctx context.Context, filters []ec2types.Filter) (string, error) {
	filters = append(filters, ec2types.Filter{
		Name:   aws.String("instance-state-name"),
		Values: []string{"pending", "running", "stopping", "stopped"},
	})
	out, err := l.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{Filters: filters})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errInstanceDescribe, err)
	}
	for _, r := range out.Reservations {
		for _, i := range r.Instances {
			if i.InstanceId != nil {
				return *i.InstanceId, nil
			}
		}
	}
	return "", errNoInstance
}
