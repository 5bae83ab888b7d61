package reconcile

import (
	"archive/zip"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/chainguard-dev/clog"
)

// Runtime requirements of the bundled procedure.
const (
	FunctionRuntime = types.RuntimePython312
	FunctionHandler = "index.handler"

	functionSourceFile = "index.py"
)

var (
	//go:embed assets/profile_attach.py
	functionSource []byte

	errLambdaInvoke       = errors.New("failed to invoke reconciliation function")
	errLambdaStatus       = errors.New("reconciliation function returned an unexpected status")
	errLambdaFunction     = errors.New("reconciliation function raised an error")
	errMalformedResponse  = errors.New("malformed reconciliation response")
	errPayloadMarshal     = errors.New("failed to marshal reconciliation request")
	errFunctionPackageZip = errors.New("failed to package reconciliation function")
)

// LambdaAPI is the subset of the Lambda client used to invoke the procedure.
type LambdaAPI interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaInvoker invokes a deployed copy of the bundled procedure
// synchronously.
type LambdaInvoker struct {
	Client       LambdaAPI
	FunctionName string
}

var _ Invoker = (*LambdaInvoker)(nil)

func (l *LambdaInvoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	log := clog.FromContext(ctx).With("function_name", l.FunctionName)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errPayloadMarshal, err)
	}

	log.Info("invoking reconciliation function")
	out, err := l.Client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(l.FunctionName),
		InvocationType: types.InvocationTypeRequestResponse,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errLambdaInvoke, err)
	}
	if out.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d: %s", errLambdaStatus, out.StatusCode, string(out.Payload))
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("%w: %q: %s", errLambdaFunction, *out.FunctionError, string(out.Payload))
	}

	var resp Response
	if err := json.Unmarshal(out.Payload, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", errMalformedResponse, err)
	}
	log.Debug("reconciliation function returned", "status", resp.Status, "reason", resp.Reason)
	return &resp, nil
}

// Package returns the bundled procedure as a Lambda deployment package.
func Package() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	w, err := zw.Create(functionSourceFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errFunctionPackageZip, err)
	}
	if _, err := w.Write(functionSource); err != nil {
		return nil, fmt.Errorf("%w: %w", errFunctionPackageZip, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %w", errFunctionPackageZip, err)
	}
	return buf.Bytes(), nil
}
