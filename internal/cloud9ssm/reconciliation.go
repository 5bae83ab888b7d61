package cloud9ssm

import (
	"context"
	"time"

	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/reconcile"
)

// reconciliation is the terminal step: it blocks until the instance profile
// is attached to the environment's instance. It leaves nothing to tear down.
type reconciliation struct {
	clients Clients
	state   *State
	mode    ReconcilerMode
	wait    time.Duration
}

var _ resource = (*reconciliation)(nil)

func (r *reconciliation) invoker() reconcile.Invoker {
	if r.mode == ReconcilerModeLocal {
		return &reconcile.LocalInvoker{EC2: r.clients.EC2, SSM: r.clients.SSM}
	}
	return &reconcile.LambdaInvoker{Client: r.clients.Lambda, FunctionName: r.state.FunctionName}
}

func (r *reconciliation) create(ctx context.Context) (Teardown, error) {
	bridge := &reconcile.Bridge{Invoker: r.invoker(), Timeout: r.wait}
	resp, err := bridge.Reconcile(ctx, reconcile.Request{
		DocumentName:  r.state.DocumentName,
		ProfileArn:    r.state.InstanceProfileArn,
		AssociationID: r.state.AssociationID,
		EnvironmentID: r.state.EnvironmentID,
	})
	if err != nil {
		return nil, err
	}
	r.state.ReconciledInstanceID = resp.InstanceID
	return nil, nil
}

func (r *reconciliation) teardown() Teardown { return nil }
