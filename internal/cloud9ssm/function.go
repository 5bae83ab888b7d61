package cloud9ssm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/grant"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/reconcile"
)

const functionDescription = "Reattaches the Cloud9 instance profile after the SSM document ran"

var (
	errFunctionCreate    = errors.New("failed to create reconciler function")
	errFunctionGet       = errors.New("failed to get reconciler function")
	errFunctionFailed    = errors.New("reconciler function failed to become active")
	errFunctionNotActive = errors.New("timed out waiting for reconciler function")
	errFunctionDelete    = errors.New("failed to delete reconciler function")
)

// reconcilerFunction deploys the bundled reattachment procedure and its
// execution role. In local mode there is nothing to deploy.
type reconcilerFunction struct {
	client  LambdaAPI
	state   *State
	mode    ReconcilerMode
	role    serviceRole
	names   names
	grants  *grant.Tracker
	timeout int32
	tags    tags
	timing  timing
}

var _ resource = (*reconcilerFunction)(nil)

func newReconcilerFunction(clients Clients, state *State, n names, t tags, grants *grant.Tracker, rp ReconcilerProps, tm timing) *reconcilerFunction {
	return &reconcilerFunction{
		client: clients.Lambda,
		state:  state,
		mode:   rp.Mode,
		role: serviceRole{
			client:      clients.IAM,
			service:     awsServiceLambda,
			description: functionRoleDescription,
			managed:     []string{lambdaBasicExecutionPolicyArn},
			tags:        t.with(n.functionRole()).iam(),
			name:        &state.FunctionRoleName,
			arn:         &state.FunctionRoleArn,
			policyName:  &state.FunctionRolePolicyName,
		},
		names:   n,
		grants:  grants,
		timeout: int32(rp.Timeout.Seconds()),
		tags:    t,
		timing:  tm,
	}
}

func (f *reconcilerFunction) create(ctx context.Context) (Teardown, error) {
	if f.mode == ReconcilerModeLocal {
		clog.FromContext(ctx).Info("reconciler runs in-process, no function to deploy")
		return nil, nil
	}

	policy, err := f.grants.Policy()
	if err != nil {
		return nil, err
	}
	if err := f.role.create(ctx, f.names.functionRole(), f.names.functionPolicy(), policy); err != nil {
		return f.teardown(), fmt.Errorf("reconciler role: %w", err)
	}

	pkg, err := reconcile.Package()
	if err != nil {
		return f.teardown(), err
	}

	name := f.names.function()
	log := clog.FromContext(ctx).With("function_name", name)
	input := &lambda.CreateFunctionInput{
		FunctionName: aws.String(name),
		Description:  aws.String(functionDescription),
		Role:         aws.String(f.state.FunctionRoleArn),
		Runtime:      reconcile.FunctionRuntime,
		Handler:      aws.String(reconcile.FunctionHandler),
		PackageType:  types.PackageTypeZip,
		Code:         &types.FunctionCode{ZipFile: pkg},
		Timeout:      aws.Int32(f.timeout),
		Tags:         f.tags.with(name).lambda(),
	}

	// Retry CreateFunction to handle IAM eventual consistency.
	// The execution role may not be assumable right after creation.
	var out *lambda.CreateFunctionOutput
	backoff := f.timing.backoff
	for attempt := 1; attempt <= f.timing.retryLimit; attempt++ {
		out, err = f.client.CreateFunction(ctx, input)
		if err == nil {
			break
		}
		if !isRolePropagationError(err) || attempt == f.timing.retryLimit {
			return f.teardown(), fmt.Errorf("%w: %w", errFunctionCreate, err)
		}
		log.Debug("execution role not ready, retrying", "attempt", attempt, "backoff", backoff)
		if err := sleep(ctx, backoff); err != nil {
			return f.teardown(), err
		}
		backoff = min(backoff*2, f.timing.backoffMax)
	}
	f.state.FunctionName = name
	f.state.FunctionArn = aws.ToString(out.FunctionArn)
	log.Info("created reconciler function", "function_arn", f.state.FunctionArn)

	if err := f.waitActive(ctx); err != nil {
		return f.teardown(), err
	}
	log.Info("reconciler function is active")

	return f.teardown(), nil
}

func isRolePropagationError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == "InvalidParameterValueException" &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "cannot be assumed")
}

func (f *reconcilerFunction) waitActive(ctx context.Context) error {
	log := clog.FromContext(ctx)
	for range f.timing.pollLimit {
		out, err := f.client.GetFunction(ctx, &lambda.GetFunctionInput{
			FunctionName: aws.String(f.state.FunctionName),
		})
		if err != nil {
			return fmt.Errorf("%w: %w", errFunctionGet, err)
		}
		if out.Configuration == nil {
			return fmt.Errorf("%w: no configuration returned", errFunctionGet)
		}
		switch out.Configuration.State {
		case types.StateActive:
			return nil
		case types.StateFailed:
			return fmt.Errorf("%w: %s", errFunctionFailed, aws.ToString(out.Configuration.StateReason))
		}
		log.Info("waiting for reconciler function to be active", "state", out.Configuration.State)
		if err := sleep(ctx, f.timing.poll); err != nil {
			return err
		}
	}
	return errFunctionNotActive
}

func (f *reconcilerFunction) teardown() Teardown {
	roleTeardown := f.role.teardown()
	if f.state.FunctionName == "" && roleTeardown == nil {
		return nil
	}
	return func(ctx context.Context) error {
		stack := new(Stack)
		stack.Push(roleTeardown)
		if name := f.state.FunctionName; name != "" {
			stack.Push(func(ctx context.Context) error {
				clog.FromContext(ctx).Info("deleting reconciler function", "function_name", name)
				_, err := f.client.DeleteFunction(ctx, &lambda.DeleteFunctionInput{
					FunctionName: aws.String(name),
				})
				if err := ignoreNotFound(err); err != nil {
					return fmt.Errorf("%w: %w", errFunctionDelete, err)
				}
				return nil
			})
		}
		return stack.Destroy(ctx)
	}
}
