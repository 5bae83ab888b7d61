package cloud9ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloud9"
	c9types "github.com/aws/aws-sdk-go-v2/service/cloud9/types"
	"github.com/chainguard-dev/clog"
)

var (
	errEnvironmentCreate   = errors.New("failed to create Cloud9 environment")
	errEnvironmentStatus   = errors.New("failed to describe Cloud9 environment status")
	errEnvironmentFailed   = errors.New("environment failed to become ready")
	errEnvironmentNotReady = errors.New("timed out waiting for Cloud9 environment")
	errEnvironmentDelete   = errors.New("failed to delete Cloud9 environment")
)

// environment is the Cloud9 EC2 environment. Cloud9 launches and tags the
// instance itself; the association finds it through that tag.
type environment struct {
	client  Cloud9API
	state   *State
	name    string
	props   EnvironmentProps
	tags    tags
	timing  timing
	network bool
}

var _ resource = (*environment)(nil)

func (e *environment) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx).With("name", e.name)

	subnetID := e.props.SubnetID
	if e.network {
		subnetID = e.state.Network.SubnetID
	}

	input := &cloud9.CreateEnvironmentEC2Input{
		Name:               aws.String(e.name),
		InstanceType:       aws.String(e.props.InstanceType),
		ImageId:            aws.String(e.props.ImageID),
		ConnectionType:     c9types.ConnectionType(e.props.ConnectionType),
		ClientRequestToken: aws.String(e.state.RunID),
		Tags:               e.tags.cloud9(),
	}
	if subnetID != "" {
		input.SubnetId = aws.String(subnetID)
	}
	if e.props.AutomaticStopTimeMinutes > 0 {
		input.AutomaticStopTimeMinutes = aws.Int32(e.props.AutomaticStopTimeMinutes)
	}
	if e.props.OwnerArn != "" {
		input.OwnerArn = aws.String(e.props.OwnerArn)
	}
	if e.props.Description != "" {
		input.Description = aws.String(e.props.Description)
	}

	log.Info("creating Cloud9 environment", "instance_type", e.props.InstanceType, "subnet_id", subnetID)
	out, err := e.client.CreateEnvironmentEC2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errEnvironmentCreate, err)
	}
	if out.EnvironmentId == nil {
		return nil, fmt.Errorf("%w: no environment ID returned", errEnvironmentCreate)
	}
	e.state.EnvironmentID = *out.EnvironmentId
	log = log.With("environment_id", e.state.EnvironmentID)
	log.Info("created Cloud9 environment")

	if err := e.waitReady(ctx); err != nil {
		return e.teardown(), err
	}
	log.Info("Cloud9 environment is ready")

	return e.teardown(), nil
}

func (e *environment) waitReady(ctx context.Context) error {
	log := clog.FromContext(ctx)
	for range e.timing.pollLimit {
		out, err := e.client.DescribeEnvironmentStatus(ctx, &cloud9.DescribeEnvironmentStatusInput{
			EnvironmentId: aws.String(e.state.EnvironmentID),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", errEnvironmentStatus, err)
		}
		switch out.Status {
		case c9types.EnvironmentStatusReady:
			return nil
		case c9types.EnvironmentStatusError:
			return fmt.Errorf("%w: %s", errEnvironmentFailed, aws.ToString(out.Message))
		}
		log.Info("waiting for Cloud9 environment to be ready", "status", out.Status)
		if err := sleep(ctx, e.timing.poll); err != nil {
			return err
		}
	}
	return errEnvironmentNotReady
}

func (e *environment) teardown() Teardown {
	if e.state.EnvironmentID == "" {
		return nil
	}
	return func(ctx context.Context) error {
		id := e.state.EnvironmentID
		clog.FromContext(ctx).Info("deleting Cloud9 environment", "environment_id", id)
		_, err := e.client.DeleteEnvironment(ctx, &cloud9.DeleteEnvironmentInput{
			EnvironmentId: aws.String(id),
		})
		if err := ignoreNotFound(err); err != nil {
			return fmt.Errorf("%w: %w", errEnvironmentDelete, err)
		}
		return nil
	}
}
