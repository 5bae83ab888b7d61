package cloud9ssm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateEncoding(t *testing.T) {
	s := &State{
		RunID:   "run",
		Mode:    ReconcilerModeLocal,
		Network: NetworkState{VPCID: "vpc-1", GatewayAttached: true},
	}
	raw, err := s.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"run","mode":"local","network":{"vpc_id":"vpc-1","gateway_attached":true}}`, raw)

	decoded, err := DecodeState(raw)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	raw, err = (&State{RunID: "run"}).Encode()
	require.NoError(t, err)
	assert.NotContains(t, raw, "network")

	_, err = DecodeState("{")
	require.ErrorIs(t, err, errStateDecode)
}

func TestNames(t *testing.T) {
	n := newNames("My Env")
	assert.Equal(t, "my-env-CustomCloud9SsmEc2Role", n.role())
	assert.Equal(t, "my-env-SsmAssociation", n.association())

	long := newNames(strings.Repeat("ab-", 30))
	assert.LessOrEqual(t, len(long.prefix), maxPrefixLength)
	assert.False(t, strings.HasSuffix(long.prefix, "-"))
	for _, name := range []string{long.role(), long.instanceProfile(), long.functionRole(), long.functionPolicy()} {
		assert.LessOrEqual(t, len(name), 64, name)
	}
}

func TestTags(t *testing.T) {
	base := newTags("run", map[string]string{tagKeyProject: "mine", "team": "infra"})
	named := base.with("thing")

	assert.Equal(t, []string{tagKeyName, tagKeyProject, tagKeyRunID, "team"}, named.keys())
	assert.Equal(t, "mine", named[tagKeyProject])
	assert.NotContains(t, base, tagKeyName, "with copies")
	assert.Len(t, named.iam(), 4)
	assert.Len(t, named.cloud9(), 4)
}

func TestPropsValidate(t *testing.T) {
	tests := []struct {
		name    string
		props   Props
		wantErr error
	}{
		{name: "defaults", props: Props{}},
		{
			name:    "nameless document",
			props:   Props{Document: &DocumentProps{}, Reconciler: ReconcilerProps{Mode: "bogus"}},
			wantErr: document.ErrMissingDocumentName,
		},
		{name: "unknown mode", props: Props{Reconciler: ReconcilerProps{Mode: "bogus"}}, wantErr: ErrInvalidConfig},
		{name: "timeout too long", props: Props{Reconciler: ReconcilerProps{Timeout: time.Hour}}, wantErr: ErrInvalidConfig},
		{name: "negative wait", props: Props{Reconciler: ReconcilerProps{Wait: -time.Second}}, wantErr: ErrInvalidConfig},
		{
			name:    "negative stop time",
			props:   Props{Environment: &EnvironmentProps{AutomaticStopTimeMinutes: -1}},
			wantErr: ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.props.applyDefaults()
			err := tt.props.validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestPropsDefaults(t *testing.T) {
	p := Props{}
	p.applyDefaults()
	assert.Equal(t, DefaultEBSSize, p.EBSSize)
	assert.Equal(t, ReconcilerModeLambda, p.Reconciler.Mode)
	assert.Equal(t, DefaultReconcilerTimeout, p.Reconciler.Timeout)

	p = Props{Document: &DocumentProps{Name: "custom"}, Environment: &EnvironmentProps{}}
	p.applyDefaults()
	assert.Zero(t, p.EBSSize, "custom documents are never resized implicitly")
	assert.Equal(t, document.TypeCommand, p.Document.Type)
	assert.Equal(t, document.FormatYAML, p.Document.Format)
	assert.Equal(t, DefaultInstanceType, p.Environment.InstanceType)
	assert.Equal(t, DefaultImageID, p.Environment.ImageID)
}

func TestSkipTeardown(t *testing.T) {
	t.Setenv(SkipTeardownEnv, "")
	assert.False(t, skipTeardown())
	t.Setenv(SkipTeardownEnv, "1")
	assert.True(t, skipTeardown())
	t.Setenv(SkipTeardownEnv, "nope")
	assert.False(t, skipTeardown())
}

func TestIsNotFound(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want bool
	}{
		{err: &smithy.GenericAPIError{Code: "NoSuchEntity"}, want: true},
		{err: &smithy.GenericAPIError{Code: "InvalidVpcID.NotFound"}, want: true},
		{err: fmt.Errorf("wrapped: %w", &smithy.GenericAPIError{Code: "ResourceNotFoundException"}), want: true},
		{err: &smithy.GenericAPIError{Code: "AccessDenied"}},
		{err: errors.New("NoSuchEntity")},
		{err: nil},
	} {
		assert.Equal(t, tt.want, isNotFound(tt.err), "%v", tt.err)
	}
	assert.NoError(t, ignoreNotFound(&smithy.GenericAPIError{Code: "AssociationDoesNotExist"}))
}
