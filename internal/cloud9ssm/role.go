package cloud9ssm

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/grant"
)

const (
	ec2RoleDescription      = "Role of the Cloud9 environment instance, used to run the SSM document"
	functionRoleDescription = "Execution role of the Cloud9 instance profile reattachment function"
)

// instanceRole is the role the environment's instance executes the document
// as. Its inline policy is rendered from the grants accumulated before
// Apply.
type instanceRole struct {
	role   serviceRole
	name   string
	policy string
	grants *grant.Tracker
}

var _ resource = (*instanceRole)(nil)

func newInstanceRole(client IAMAPI, state *State, n names, t tags, grants *grant.Tracker) *instanceRole {
	return &instanceRole{
		role: serviceRole{
			client:      client,
			service:     awsServiceEC2,
			description: ec2RoleDescription,
			managed:     []string{ssmManagedInstanceCorePolicyArn},
			tags:        t.with(n.role()).iam(),
			name:        &state.RoleName,
			arn:         &state.RoleArn,
			policyName:  &state.RolePolicyName,
		},
		name:   n.role(),
		policy: n.rolePolicy(),
		grants: grants,
	}
}

func (r *instanceRole) create(ctx context.Context) (Teardown, error) {
	var policy string
	if !r.grants.Empty() {
		var err error
		if policy, err = r.grants.Policy(); err != nil {
			return nil, err
		}
	}
	clog.FromContext(ctx).Debug("rendered instance role policy", "scopes", r.grants.Scopes())

	if err := r.role.create(ctx, r.name, r.policy, policy); err != nil {
		return r.teardown(), fmt.Errorf("instance role: %w", err)
	}
	return r.teardown(), nil
}

func (r *instanceRole) teardown() Teardown { return r.role.teardown() }

// instanceProfile wraps the instance role so it can be attached to the
// environment's instance.
type instanceProfile struct {
	client IAMAPI
	state  *State
	name   string
	tags   tags
}

var _ resource = (*instanceProfile)(nil)

func (p *instanceProfile) create(ctx context.Context) (Teardown, error) {
	arn, err := iamInstanceProfileCreate(ctx, p.client, p.name, p.tags.with(p.name).iam()...)
	if err != nil {
		return nil, err
	}
	p.state.InstanceProfileName, p.state.InstanceProfileArn = p.name, arn

	if err := iamInstanceProfileAddRole(ctx, p.client, p.name, p.state.RoleName); err != nil {
		return p.teardown(), err
	}
	p.state.ProfileRoleAdded = true

	return p.teardown(), nil
}

func (p *instanceProfile) teardown() Teardown {
	if p.state.InstanceProfileName == "" {
		return nil
	}
	return func(ctx context.Context) error {
		if p.state.ProfileRoleAdded {
			if err := ignoreNotFound(iamInstanceProfileRemoveRole(ctx, p.client, p.state.InstanceProfileName, p.state.RoleName)); err != nil {
				return err
			}
		}
		return ignoreNotFound(iamInstanceProfileDelete(ctx, p.client, p.state.InstanceProfileName))
	}
}
