package cloud9ssm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/smithy-go"
)

// notFoundCodes are the API error codes, across services, that mean the
// resource is already gone.
var notFoundCodes = map[string]struct{}{
	"NoSuchEntity":              {},
	"NotFoundException":         {},
	"ResourceNotFoundException": {},
	"InvalidDocument":           {},
	"AssociationDoesNotExist":   {},
	"Gateway.NotAttached":       {},
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	code := apiErr.ErrorCode()
	if strings.HasSuffix(code, ".NotFound") {
		return true
	}
	_, ok := notFoundCodes[code]
	return ok
}

// ignoreNotFound lets a teardown succeed when its resource was never created
// or is already deleted.
func ignoreNotFound(err error) error {
	if isNotFound(err) {
		return nil
	}
	return err
}

// timing holds the waits used while polling AWS. Tests shrink them.
type timing struct {
	poll       time.Duration
	pollLimit  int
	backoff    time.Duration
	backoffMax time.Duration
	retryLimit int
}

var defaultTiming = timing{
	poll:       5 * time.Second,
	pollLimit:  120,
	backoff:    2 * time.Second,
	backoffMax: 30 * time.Second,
	retryLimit: 10,
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
