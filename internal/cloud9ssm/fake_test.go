package cloud9ssm

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloud9"
	c9types "github.com/aws/aws-sdk-go-v2/service/cloud9/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	fakeAccount       = "123456789012"
	fakeEnvironmentID = "0123456789abcdef0123456789abcdef"
	fakeAssociationID = "8a2f3f5c-0000-4000-8000-000000000000"
	fakeInstanceID    = "i-0123456789abcdef0"
)

// fakeAWS implements every client the construct uses. Each call is recorded
// as "service:Operation"; errors queued for an operation are returned one
// per call, in order.
type fakeAWS struct {
	mu         sync.Mutex
	operations []string
	failures   map[string][]error

	environmentStatuses []c9types.EnvironmentStatus
	functionStates      []lambdatypes.State
	invokePayload       string

	createEnvironment *cloud9.CreateEnvironmentEC2Input
	createDocument    *ssm.CreateDocumentInput
	createAssociation *ssm.CreateAssociationInput
	createFunction    *lambda.CreateFunctionInput
	invokes           []*lambda.InvokeInput
	rolePolicies      map[string]string
	trustPolicies     map[string]string
	associatedProfile string
}

func newFakeAWS() *fakeAWS {
	return &fakeAWS{
		failures:      make(map[string][]error),
		rolePolicies:  make(map[string]string),
		trustPolicies: make(map[string]string),
		invokePayload: fmt.Sprintf(`{"status":"SUCCESS","instance_id":%q,"changed":true}`, fakeInstanceID),
	}
}

func (f *fakeAWS) clients() Clients {
	return Clients{EC2: f, IAM: f, SSM: f, Lambda: f, Cloud9: f}
}

// fail queues errs for op.
func (f *fakeAWS) fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

func (f *fakeAWS) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = append(f.operations, op)
	if errs := f.failures[op]; len(errs) > 0 {
		f.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeAWS) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.operations...)
}

func (f *fakeAWS) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.operations = nil
}

// EC2

func (f *fakeAWS) CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	if err := f.record("ec2:CreateVpc"); err != nil {
		return nil, err
	}
	return &ec2.CreateVpcOutput{Vpc: &ec2types.Vpc{VpcId: aws.String("vpc-1")}}, nil
}

func (f *fakeAWS) DeleteVpc(ctx context.Context, params *ec2.DeleteVpcInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	return &ec2.DeleteVpcOutput{}, f.record("ec2:DeleteVpc")
}

func (f *fakeAWS) ModifyVpcAttribute(ctx context.Context, params *ec2.ModifyVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	return &ec2.ModifyVpcAttributeOutput{}, f.record("ec2:ModifyVpcAttribute")
}

func (f *fakeAWS) CreateInternetGateway(ctx context.Context, params *ec2.CreateInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.CreateInternetGatewayOutput, error) {
	if err := f.record("ec2:CreateInternetGateway"); err != nil {
		return nil, err
	}
	return &ec2.CreateInternetGatewayOutput{InternetGateway: &ec2types.InternetGateway{InternetGatewayId: aws.String("igw-1")}}, nil
}

func (f *fakeAWS) AttachInternetGateway(ctx context.Context, params *ec2.AttachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.AttachInternetGatewayOutput, error) {
	return &ec2.AttachInternetGatewayOutput{}, f.record("ec2:AttachInternetGateway")
}

func (f *fakeAWS) DetachInternetGateway(ctx context.Context, params *ec2.DetachInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DetachInternetGatewayOutput, error) {
	return &ec2.DetachInternetGatewayOutput{}, f.record("ec2:DetachInternetGateway")
}

func (f *fakeAWS) DeleteInternetGateway(ctx context.Context, params *ec2.DeleteInternetGatewayInput, optFns ...func(*ec2.Options)) (*ec2.DeleteInternetGatewayOutput, error) {
	return &ec2.DeleteInternetGatewayOutput{}, f.record("ec2:DeleteInternetGateway")
}

func (f *fakeAWS) DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error) {
	if err := f.record("ec2:DescribeRouteTables"); err != nil {
		return nil, err
	}
	return &ec2.DescribeRouteTablesOutput{RouteTables: []ec2types.RouteTable{{RouteTableId: aws.String("rtb-1")}}}, nil
}

func (f *fakeAWS) CreateRoute(ctx context.Context, params *ec2.CreateRouteInput, optFns ...func(*ec2.Options)) (*ec2.CreateRouteOutput, error) {
	if err := f.record("ec2:CreateRoute"); err != nil {
		return nil, err
	}
	return &ec2.CreateRouteOutput{Return: aws.Bool(true)}, nil
}

func (f *fakeAWS) DeleteRoute(ctx context.Context, params *ec2.DeleteRouteInput, optFns ...func(*ec2.Options)) (*ec2.DeleteRouteOutput, error) {
	return &ec2.DeleteRouteOutput{}, f.record("ec2:DeleteRoute")
}

func (f *fakeAWS) CreateSubnet(ctx context.Context, params *ec2.CreateSubnetInput, optFns ...func(*ec2.Options)) (*ec2.CreateSubnetOutput, error) {
	if err := f.record("ec2:CreateSubnet"); err != nil {
		return nil, err
	}
	return &ec2.CreateSubnetOutput{Subnet: &ec2types.Subnet{SubnetId: aws.String("subnet-1")}}, nil
}

func (f *fakeAWS) ModifySubnetAttribute(ctx context.Context, params *ec2.ModifySubnetAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifySubnetAttributeOutput, error) {
	return &ec2.ModifySubnetAttributeOutput{}, f.record("ec2:ModifySubnetAttribute")
}

func (f *fakeAWS) DeleteSubnet(ctx context.Context, params *ec2.DeleteSubnetInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSubnetOutput, error) {
	return &ec2.DeleteSubnetOutput{}, f.record("ec2:DeleteSubnet")
}

func (f *fakeAWS) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	if err := f.record("ec2:DescribeInstances"); err != nil {
		return nil, err
	}
	return &ec2.DescribeInstancesOutput{Reservations: []ec2types.Reservation{{
		Instances: []ec2types.Instance{{InstanceId: aws.String(fakeInstanceID)}},
	}}}, nil
}

func (f *fakeAWS) DescribeIamInstanceProfileAssociations(ctx context.Context, params *ec2.DescribeIamInstanceProfileAssociationsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeIamInstanceProfileAssociationsOutput, error) {
	return &ec2.DescribeIamInstanceProfileAssociationsOutput{}, f.record("ec2:DescribeIamInstanceProfileAssociations")
}

func (f *fakeAWS) AssociateIamInstanceProfile(ctx context.Context, params *ec2.AssociateIamInstanceProfileInput, optFns ...func(*ec2.Options)) (*ec2.AssociateIamInstanceProfileOutput, error) {
	if err := f.record("ec2:AssociateIamInstanceProfile"); err != nil {
		return nil, err
	}
	f.associatedProfile = aws.ToString(params.IamInstanceProfile.Arn)
	return &ec2.AssociateIamInstanceProfileOutput{}, nil
}

func (f *fakeAWS) ReplaceIamInstanceProfileAssociation(ctx context.Context, params *ec2.ReplaceIamInstanceProfileAssociationInput, optFns ...func(*ec2.Options)) (*ec2.ReplaceIamInstanceProfileAssociationOutput, error) {
	return &ec2.ReplaceIamInstanceProfileAssociationOutput{}, f.record("ec2:ReplaceIamInstanceProfileAssociation")
}

func (f *fakeAWS) RebootInstances(ctx context.Context, params *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error) {
	return &ec2.RebootInstancesOutput{}, f.record("ec2:RebootInstances")
}

// IAM

func (f *fakeAWS) CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if err := f.record("iam:CreateRole"); err != nil {
		return nil, err
	}
	name := aws.ToString(params.RoleName)
	f.trustPolicies[name] = aws.ToString(params.AssumeRolePolicyDocument)
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{
		RoleName: params.RoleName,
		Arn:      aws.String("arn:aws:iam::" + fakeAccount + ":role/" + name),
	}}, nil
}

func (f *fakeAWS) DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error) {
	return &iam.DeleteRoleOutput{}, f.record("iam:DeleteRole")
}

func (f *fakeAWS) AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	return &iam.AttachRolePolicyOutput{}, f.record("iam:AttachRolePolicy")
}

func (f *fakeAWS) DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error) {
	return &iam.DetachRolePolicyOutput{}, f.record("iam:DetachRolePolicy")
}

func (f *fakeAWS) PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	if err := f.record("iam:PutRolePolicy"); err != nil {
		return nil, err
	}
	f.rolePolicies[aws.ToString(params.RoleName)] = aws.ToString(params.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

func (f *fakeAWS) DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	return &iam.DeleteRolePolicyOutput{}, f.record("iam:DeleteRolePolicy")
}

func (f *fakeAWS) CreateInstanceProfile(ctx context.Context, params *iam.CreateInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.CreateInstanceProfileOutput, error) {
	if err := f.record("iam:CreateInstanceProfile"); err != nil {
		return nil, err
	}
	return &iam.CreateInstanceProfileOutput{InstanceProfile: &iamtypes.InstanceProfile{
		InstanceProfileName: params.InstanceProfileName,
		Arn:                 aws.String("arn:aws:iam::" + fakeAccount + ":instance-profile/" + aws.ToString(params.InstanceProfileName)),
	}}, nil
}

func (f *fakeAWS) DeleteInstanceProfile(ctx context.Context, params *iam.DeleteInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.DeleteInstanceProfileOutput, error) {
	return &iam.DeleteInstanceProfileOutput{}, f.record("iam:DeleteInstanceProfile")
}

func (f *fakeAWS) AddRoleToInstanceProfile(ctx context.Context, params *iam.AddRoleToInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.AddRoleToInstanceProfileOutput, error) {
	return &iam.AddRoleToInstanceProfileOutput{}, f.record("iam:AddRoleToInstanceProfile")
}

func (f *fakeAWS) RemoveRoleFromInstanceProfile(ctx context.Context, params *iam.RemoveRoleFromInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.RemoveRoleFromInstanceProfileOutput, error) {
	return &iam.RemoveRoleFromInstanceProfileOutput{}, f.record("iam:RemoveRoleFromInstanceProfile")
}

// SSM

func (f *fakeAWS) CreateDocument(ctx context.Context, params *ssm.CreateDocumentInput, optFns ...func(*ssm.Options)) (*ssm.CreateDocumentOutput, error) {
	if err := f.record("ssm:CreateDocument"); err != nil {
		return nil, err
	}
	f.createDocument = params
	return &ssm.CreateDocumentOutput{DocumentDescription: &ssmtypes.DocumentDescription{Name: params.Name}}, nil
}

func (f *fakeAWS) DeleteDocument(ctx context.Context, params *ssm.DeleteDocumentInput, optFns ...func(*ssm.Options)) (*ssm.DeleteDocumentOutput, error) {
	return &ssm.DeleteDocumentOutput{}, f.record("ssm:DeleteDocument")
}

func (f *fakeAWS) CreateAssociation(ctx context.Context, params *ssm.CreateAssociationInput, optFns ...func(*ssm.Options)) (*ssm.CreateAssociationOutput, error) {
	if err := f.record("ssm:CreateAssociation"); err != nil {
		return nil, err
	}
	f.createAssociation = params
	return &ssm.CreateAssociationOutput{AssociationDescription: &ssmtypes.AssociationDescription{
		AssociationId: aws.String(fakeAssociationID),
		Name:          params.Name,
		Targets:       params.Targets,
	}}, nil
}

func (f *fakeAWS) DeleteAssociation(ctx context.Context, params *ssm.DeleteAssociationInput, optFns ...func(*ssm.Options)) (*ssm.DeleteAssociationOutput, error) {
	return &ssm.DeleteAssociationOutput{}, f.record("ssm:DeleteAssociation")
}

func (f *fakeAWS) DescribeAssociation(ctx context.Context, params *ssm.DescribeAssociationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeAssociationOutput, error) {
	if err := f.record("ssm:DescribeAssociation"); err != nil {
		return nil, err
	}
	desc := &ssmtypes.AssociationDescription{AssociationId: params.AssociationId, Name: params.Name}
	if f.createAssociation != nil {
		desc.Targets = f.createAssociation.Targets
	}
	return &ssm.DescribeAssociationOutput{AssociationDescription: desc}, nil
}

// Lambda

func (f *fakeAWS) CreateFunction(ctx context.Context, params *lambda.CreateFunctionInput, optFns ...func(*lambda.Options)) (*lambda.CreateFunctionOutput, error) {
	if err := f.record("lambda:CreateFunction"); err != nil {
		return nil, err
	}
	f.createFunction = params
	return &lambda.CreateFunctionOutput{
		FunctionName: params.FunctionName,
		FunctionArn:  aws.String("arn:aws:lambda:us-west-2:" + fakeAccount + ":function:" + aws.ToString(params.FunctionName)),
		State:        lambdatypes.StatePending,
	}, nil
}

func (f *fakeAWS) GetFunction(ctx context.Context, params *lambda.GetFunctionInput, optFns ...func(*lambda.Options)) (*lambda.GetFunctionOutput, error) {
	if err := f.record("lambda:GetFunction"); err != nil {
		return nil, err
	}
	state := lambdatypes.StateActive
	f.mu.Lock()
	if len(f.functionStates) > 0 {
		state, f.functionStates = f.functionStates[0], f.functionStates[1:]
	}
	f.mu.Unlock()
	return &lambda.GetFunctionOutput{Configuration: &lambdatypes.FunctionConfiguration{
		FunctionName: params.FunctionName,
		State:        state,
		StateReason:  aws.String("fake state reason"),
	}}, nil
}

func (f *fakeAWS) DeleteFunction(ctx context.Context, params *lambda.DeleteFunctionInput, optFns ...func(*lambda.Options)) (*lambda.DeleteFunctionOutput, error) {
	return &lambda.DeleteFunctionOutput{}, f.record("lambda:DeleteFunction")
}

func (f *fakeAWS) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if err := f.record("lambda:Invoke"); err != nil {
		return nil, err
	}
	f.invokes = append(f.invokes, params)
	return &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(f.invokePayload)}, nil
}

// Cloud9

func (f *fakeAWS) CreateEnvironmentEC2(ctx context.Context, params *cloud9.CreateEnvironmentEC2Input, optFns ...func(*cloud9.Options)) (*cloud9.CreateEnvironmentEC2Output, error) {
	if err := f.record("cloud9:CreateEnvironmentEC2"); err != nil {
		return nil, err
	}
	f.createEnvironment = params
	return &cloud9.CreateEnvironmentEC2Output{EnvironmentId: aws.String(fakeEnvironmentID)}, nil
}

func (f *fakeAWS) DescribeEnvironmentStatus(ctx context.Context, params *cloud9.DescribeEnvironmentStatusInput, optFns ...func(*cloud9.Options)) (*cloud9.DescribeEnvironmentStatusOutput, error) {
	if err := f.record("cloud9:DescribeEnvironmentStatus"); err != nil {
		return nil, err
	}
	status := c9types.EnvironmentStatusReady
	f.mu.Lock()
	if len(f.environmentStatuses) > 0 {
		status, f.environmentStatuses = f.environmentStatuses[0], f.environmentStatuses[1:]
	}
	f.mu.Unlock()
	return &cloud9.DescribeEnvironmentStatusOutput{Status: status, Message: aws.String("fake status message")}, nil
}

func (f *fakeAWS) DeleteEnvironment(ctx context.Context, params *cloud9.DeleteEnvironmentInput, optFns ...func(*cloud9.Options)) (*cloud9.DeleteEnvironmentOutput, error) {
	return &cloud9.DeleteEnvironmentOutput{}, f.record("cloud9:DeleteEnvironment")
}
