package reconcile

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLambdaClient struct {
	invokeFunc func(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

func (m *mockLambdaClient) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	return m.invokeFunc(ctx, params, optFns...)
}

func TestLambdaInvoker(t *testing.T) {
	tests := []struct {
		name          string
		output        *lambda.InvokeOutput
		err           error
		expectedError error
		expectedResp  *Response
	}{
		{
			name:         "success",
			output:       &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`{"status":"SUCCESS","instance_id":"i-0123","changed":true}`)},
			expectedResp: &Response{Status: StatusSuccess, InstanceID: "i-0123", Changed: true},
		},
		{
			name:         "procedure reported failure",
			output:       &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`{"status":"FAILED","reason":"boom"}`)},
			expectedResp: &Response{Status: StatusFailed, Reason: "boom"},
		},
		{
			name:          "invoke error",
			err:           fmt.Errorf("AccessDeniedException"),
			expectedError: errLambdaInvoke,
		},
		{
			name:          "unexpected status code",
			output:        &lambda.InvokeOutput{StatusCode: 500},
			expectedError: errLambdaStatus,
		},
		{
			name:          "unhandled function error",
			output:        &lambda.InvokeOutput{StatusCode: 200, FunctionError: aws.String("Unhandled"), Payload: []byte(`{"errorMessage":"KeyError"}`)},
			expectedError: errLambdaFunction,
		},
		{
			name:          "malformed payload",
			output:        &lambda.InvokeOutput{StatusCode: 200, Payload: []byte(`not json`)},
			expectedError: errMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured *lambda.InvokeInput
			invoker := &LambdaInvoker{
				FunctionName: "dev-reconciler",
				Client: &mockLambdaClient{
					invokeFunc: func(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
						captured = params
						return tt.output, tt.err
					},
				},
			}

			resp, err := invoker.Invoke(t.Context(), validRequest)

			require.NotNil(t, captured)
			assert.Equal(t, "dev-reconciler", *captured.FunctionName)
			assert.Equal(t, types.InvocationTypeRequestResponse, captured.InvocationType)

			var sent map[string]any
			require.NoError(t, json.Unmarshal(captured.Payload, &sent))
			assert.Equal(t, validRequest.DocumentName, sent["document_name"])
			assert.Equal(t, validRequest.ProfileArn, sent["profile_arn"])
			assert.Equal(t, validRequest.AssociationID, sent["association_id"])
			assert.NotContains(t, sent, "environment_id")

			if tt.expectedError != nil {
				require.ErrorIs(t, err, tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedResp, resp)
		})
	}
}

func TestPackage(t *testing.T) {
	pkg, err := Package()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(pkg), int64(len(pkg)))
	require.NoError(t, err)
	require.Len(t, zr.File, 1)
	assert.Equal(t, functionSourceFile, zr.File[0].Name)

	f, err := zr.File[0].Open()
	require.NoError(t, err)
	defer f.Close()
	src, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Contains(t, string(src), "def handler(event, context):")
}
