// Package reconcile restores the instance profile attachment of a Cloud9
// environment's instance after its SSM document has run, by invoking a
// one-shot remote procedure and blocking until it reports back.
//
// The procedure is reached through an [Invoker]. [LambdaInvoker] calls the
// bundled function synchronously, [LocalInvoker] performs the same contract
// in-process against the EC2 and SSM APIs.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
)

// DefaultTimeout bounds a single reconciliation.
const DefaultTimeout = 15 * time.Minute

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

var (
	ErrInvalidRequest       = errors.New("invalid reconciliation request")
	ErrReconciliationFailed = errors.New("instance profile reconciliation failed")
)

// Request carries the correlation identifiers the remote procedure needs to
// find the instance and the profile to attach to it.
type Request struct {
	DocumentName  string `json:"document_name"`
	ProfileArn    string `json:"profile_arn"`
	AssociationID string `json:"association_id"`

	// EnvironmentID is optional. It lets procedures that predate association
	// lookups find the instance by its Cloud9 environment tag.
	EnvironmentID string `json:"environment_id,omitempty"`
}

// Validate checks every required identifier is set.
func (r Request) Validate() error {
	var errs error
	if r.DocumentName == "" {
		errs = errors.Join(errs, fmt.Errorf("%w: document name is required", ErrInvalidRequest))
	}
	if r.ProfileArn == "" {
		errs = errors.Join(errs, fmt.Errorf("%w: profile ARN is required", ErrInvalidRequest))
	}
	if r.AssociationID == "" {
		errs = errors.Join(errs, fmt.Errorf("%w: association ID is required", ErrInvalidRequest))
	}
	return errs
}

// Response is the procedure's report.
type Response struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	Changed    bool   `json:"changed,omitempty"`
}

func (r *Response) Succeeded() bool { return r != nil && r.Status == StatusSuccess }

// Invoker performs one reconciliation and reports its outcome.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// FailureError is returned for every failed reconciliation, whether the
// procedure reported a failure, could not be reached, or timed out. It
// matches ErrReconciliationFailed with errors.Is.
type FailureError struct {
	Reason string
	Err    error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", ErrReconciliationFailed, e.Reason)
}

func (e *FailureError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrReconciliationFailed}
	}
	return []error{ErrReconciliationFailed, e.Err}
}

// Bridge runs a reconciliation as one blocking unit of work with a bounded
// wait. It never retries.
type Bridge struct {
	Invoker Invoker
	Timeout time.Duration
}

// Reconcile validates req and blocks until the procedure reports, the
// timeout elapses or ctx is done.
func (b *Bridge) Reconcile(ctx context.Context, req Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := clog.FromContext(ctx).With(
		"document_name", req.DocumentName,
		"association_id", req.AssociationID,
		"profile_arn", req.ProfileArn,
	)
	log.Info("invoking instance profile reconciliation", "timeout", timeout)

	resp, err := b.Invoker.Invoke(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &FailureError{Reason: fmt.Sprintf("timed out after %s", timeout), Err: ctx.Err()}
		}
		return nil, &FailureError{Reason: err.Error(), Err: err}
	}
	if !resp.Succeeded() {
		reason := "procedure reported no status"
		if resp != nil && resp.Reason != "" {
			reason = resp.Reason
		}
		log.Error("instance profile reconciliation failed", "reason", reason)
		return resp, &FailureError{Reason: reason}
	}

	log.Info("instance profile reconciliation complete", "instance_id", resp.InstanceID, "changed", resp.Changed)
	return resp, nil
}
