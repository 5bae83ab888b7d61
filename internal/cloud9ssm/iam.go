package cloud9ssm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/chainguard-dev/clog"
)

const (
	// AWS IAM policy document values.
	iamPolicyVersion    = "2012-10-17"
	iamEffectAllow      = "Allow"
	awsServiceEC2       = "ec2.amazonaws.com"
	awsServiceLambda    = "lambda.amazonaws.com"
	stsActionAssumeRole = "sts:AssumeRole"

	// AWS managed policies.
	ssmManagedInstanceCorePolicyArn = "arn:aws:iam::aws:policy/AmazonSSMManagedInstanceCore"
	lambdaBasicExecutionPolicyArn   = "arn:aws:iam::aws:policy/service-role/AWSLambdaBasicExecutionRole"
)

var (
	errIAMRoleCreate                = errors.New("failed to create IAM role")
	errIAMRoleAttachPolicy          = errors.New("failed to attach policy to IAM role")
	errIAMRolePutPolicy             = errors.New("failed to put inline policy on IAM role")
	errIAMInstanceProfileCreate     = errors.New("failed to create IAM instance profile")
	errIAMInstanceProfileAddRole    = errors.New("failed to add role to instance profile")
	errIAMRoleDetachPolicy          = errors.New("failed to detach policy from IAM role")
	errIAMRoleDeletePolicy          = errors.New("failed to delete inline policy from IAM role")
	errIAMInstanceProfileRemoveRole = errors.New("failed to remove role from instance profile")
	errIAMInstanceProfileDelete     = errors.New("failed to delete IAM instance profile")
	errIAMRoleDelete                = errors.New("failed to delete IAM role")
	errTrustPolicyMarshal           = errors.New("failed to marshal trust policy")
)

// trustPolicy allows the given service principal to assume a role.
func trustPolicy(service string) (string, error) {
	policy := map[string]any{
		"Version": iamPolicyVersion,
		"Statement": []map[string]any{
			{
				"Effect": iamEffectAllow,
				"Principal": map[string]any{
					"Service": service,
				},
				"Action": stsActionAssumeRole,
			},
		},
	}

	out, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTrustPolicyMarshal, err)
	}
	return string(out), nil
}

// iamRoleCreate creates an IAM role assumable by service.
func iamRoleCreate(ctx context.Context, client IAMAPI, roleName, service, description string, tags ...iamtypes.Tag) (string, error) {
	log := clog.FromContext(ctx)

	trust, err := trustPolicy(service)
	if err != nil {
		return "", err
	}

	log.Info("creating IAM role", "role_name", roleName, "service", service)
	result, err := client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(trust),
		Description:              aws.String(description),
		Tags:                     tags,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errIAMRoleCreate, err)
	}
	if result.Role == nil || result.Role.Arn == nil {
		return "", fmt.Errorf("%w: no role returned", errIAMRoleCreate)
	}

	log.Info("successfully created IAM role", "role_name", roleName, "role_arn", *result.Role.Arn)
	return *result.Role.Arn, nil
}

// iamRoleAttachPolicy attaches an AWS managed policy to an IAM role.
func iamRoleAttachPolicy(ctx context.Context, client IAMAPI, roleName, policyArn string) error {
	log := clog.FromContext(ctx)

	log.Info("attaching policy to IAM role", "role_name", roleName, "policy_arn", policyArn)
	_, err := client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleAttachPolicy, err)
	}
	return nil
}

// iamRolePutPolicy sets an inline policy on an IAM role.
func iamRolePutPolicy(ctx context.Context, client IAMAPI, roleName, policyName, policy string) error {
	log := clog.FromContext(ctx)

	log.Info("putting inline policy on IAM role", "role_name", roleName, "policy_name", policyName)
	_, err := client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyName:     aws.String(policyName),
		PolicyDocument: aws.String(policy),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRolePutPolicy, err)
	}
	return nil
}

// iamInstanceProfileCreate creates an IAM instance profile.
func iamInstanceProfileCreate(ctx context.Context, client IAMAPI, profileName string, tags ...iamtypes.Tag) (string, error) {
	log := clog.FromContext(ctx)

	log.Info("creating IAM instance profile", "profile_name", profileName)
	result, err := client.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		Tags:                tags,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errIAMInstanceProfileCreate, err)
	}
	if result.InstanceProfile == nil || result.InstanceProfile.Arn == nil {
		return "", fmt.Errorf("%w: no instance profile returned", errIAMInstanceProfileCreate)
	}

	log.Info("successfully created IAM instance profile", "profile_name", profileName, "profile_arn", *result.InstanceProfile.Arn)
	return *result.InstanceProfile.Arn, nil
}

// iamInstanceProfileAddRole adds an IAM role to an instance profile.
func iamInstanceProfileAddRole(ctx context.Context, client IAMAPI, profileName, roleName string) error {
	log := clog.FromContext(ctx)

	log.Info("adding role to instance profile", "profile_name", profileName, "role_name", roleName)
	_, err := client.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		RoleName:            aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileAddRole, err)
	}
	return nil
}

// Cleanup functions.

func iamRoleDetachPolicy(ctx context.Context, client IAMAPI, roleName, policyArn string) error {
	clog.FromContext(ctx).Info("detaching policy from IAM role", "role_name", roleName, "policy_arn", policyArn)
	_, err := client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyArn),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDetachPolicy, err)
	}
	return nil
}

func iamRoleDeletePolicy(ctx context.Context, client IAMAPI, roleName, policyName string) error {
	clog.FromContext(ctx).Info("deleting inline policy from IAM role", "role_name", roleName, "policy_name", policyName)
	_, err := client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(roleName),
		PolicyName: aws.String(policyName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDeletePolicy, err)
	}
	return nil
}

func iamInstanceProfileRemoveRole(ctx context.Context, client IAMAPI, profileName, roleName string) error {
	clog.FromContext(ctx).Info("removing role from instance profile", "profile_name", profileName, "role_name", roleName)
	_, err := client.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
		RoleName:            aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileRemoveRole, err)
	}
	return nil
}

func iamInstanceProfileDelete(ctx context.Context, client IAMAPI, profileName string) error {
	clog.FromContext(ctx).Info("deleting IAM instance profile", "profile_name", profileName)
	_, err := client.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: aws.String(profileName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMInstanceProfileDelete, err)
	}
	return nil
}

func iamRoleDelete(ctx context.Context, client IAMAPI, roleName string) error {
	clog.FromContext(ctx).Info("deleting IAM role", "role_name", roleName)
	_, err := client.DeleteRole(ctx, &iam.DeleteRoleInput{
		RoleName: aws.String(roleName),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", errIAMRoleDelete, err)
	}
	return nil
}

// serviceRole is an IAM role with managed and optional inline policies,
// recorded into caller owned state fields as it is built.
type serviceRole struct {
	client      IAMAPI
	service     string
	description string
	managed     []string
	tags        []iamtypes.Tag

	name       *string
	arn        *string
	policyName *string
}

// create builds the role. policy is the inline policy document, empty for
// none.
func (r *serviceRole) create(ctx context.Context, name, policyName, policy string) error {
	arn, err := iamRoleCreate(ctx, r.client, name, r.service, r.description, r.tags...)
	if err != nil {
		return err
	}
	*r.name, *r.arn = name, arn

	for _, p := range r.managed {
		if err := iamRoleAttachPolicy(ctx, r.client, name, p); err != nil {
			return err
		}
	}

	if policy != "" {
		if err := iamRolePutPolicy(ctx, r.client, name, policyName, policy); err != nil {
			return err
		}
		*r.policyName = policyName
	}
	return nil
}

// teardown removes the role as recorded, or returns nil when it was never
// created. Detaching a managed policy that was never attached is not an
// error.
func (r *serviceRole) teardown() Teardown {
	if *r.name == "" {
		return nil
	}
	return func(ctx context.Context) error {
		name := *r.name
		if *r.policyName != "" {
			if err := ignoreNotFound(iamRoleDeletePolicy(ctx, r.client, name, *r.policyName)); err != nil {
				return err
			}
		}
		for _, p := range r.managed {
			if err := ignoreNotFound(iamRoleDetachPolicy(ctx, r.client, name, p)); err != nil {
				return err
			}
		}
		return ignoreNotFound(iamRoleDelete(ctx, r.client, name))
	}
}
