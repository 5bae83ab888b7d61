package cloud9ssm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/document"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/reconcile"
)

// SkipTeardownEnv names the environment variable which, when true, leaves
// partially created resources in place after a failed Apply.
const SkipTeardownEnv = "CLOUD9SSM_SKIP_TEARDOWN"

const (
	// DefaultEBSSize is the volume size, in GiB, the default document resizes
	// the environment's instance to.
	DefaultEBSSize = 100

	DefaultInstanceType             = "t3.small"
	DefaultImageID                  = "amazonlinux-2023-x86_64"
	DefaultConnectionType           = "CONNECT_SSH"
	DefaultAutomaticStopTimeMinutes = 30

	// DefaultReconcilerTimeout is the reconciler function's execution timeout.
	DefaultReconcilerTimeout = 60 * time.Second
	maxReconcilerTimeout     = 900 * time.Second
)

// ReconcilerMode selects where the profile reattachment runs.
type ReconcilerMode string

const (
	// ReconcilerModeLambda deploys the bundled procedure as a Lambda function
	// and invokes it synchronously.
	ReconcilerModeLambda ReconcilerMode = "lambda"

	// ReconcilerModeLocal runs the same procedure from the provider process.
	ReconcilerModeLocal ReconcilerMode = "local"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Props configures a Construct. Nil Document or Environment select the
// bundled defaults; a non-nil value replaces the default entirely.
type Props struct {
	Region string

	Document    *DocumentProps
	Environment *EnvironmentProps

	// EBSSize is only used with the default document.
	EBSSize int

	Reconciler ReconcilerProps

	Tags map[string]string
}

// DocumentProps describes a caller supplied SSM document.
type DocumentProps struct {
	Name    string
	Type    document.Type
	Format  document.Format
	Content string
}

// EnvironmentProps describes the Cloud9 EC2 environment. Without a subnet
// Cloud9 places the instance in the account's default VPC.
type EnvironmentProps struct {
	InstanceType             string
	ImageID                  string
	SubnetID                 string
	ConnectionType           string
	AutomaticStopTimeMinutes int32
	OwnerArn                 string
	Description              string
}

type ReconcilerProps struct {
	Mode ReconcilerMode

	// Timeout is the function's own execution timeout.
	Timeout time.Duration

	// Wait bounds how long Apply blocks on the reconciliation.
	Wait time.Duration
}

func (p *Props) applyDefaults() {
	if p.Document == nil && p.EBSSize == 0 {
		p.EBSSize = DefaultEBSSize
	}
	if p.Document != nil {
		if p.Document.Type == "" {
			p.Document.Type = document.TypeCommand
		}
		if p.Document.Format == "" {
			p.Document.Format = document.FormatYAML
		}
	}

	if p.Environment != nil {
		if p.Environment.InstanceType == "" {
			p.Environment.InstanceType = DefaultInstanceType
		}
		if p.Environment.ImageID == "" {
			p.Environment.ImageID = DefaultImageID
		}
		if p.Environment.ConnectionType == "" {
			p.Environment.ConnectionType = DefaultConnectionType
		}
	}

	if p.Reconciler.Mode == "" {
		p.Reconciler.Mode = ReconcilerModeLambda
	}
	if p.Reconciler.Timeout == 0 {
		p.Reconciler.Timeout = DefaultReconcilerTimeout
	}
	if p.Reconciler.Wait == 0 {
		p.Reconciler.Wait = reconcile.DefaultTimeout
	}
}

func (p *Props) validate() error {
	// Checked first so a nameless document never gets anything declared
	// around it.
	if p.Document != nil && p.Document.Name == "" {
		return document.ErrMissingDocumentName
	}

	var errs error
	switch p.Reconciler.Mode {
	case ReconcilerModeLambda, ReconcilerModeLocal:
	default:
		errs = errors.Join(errs, fmt.Errorf("%w: unknown reconciler mode %q", ErrInvalidConfig, p.Reconciler.Mode))
	}
	if p.Reconciler.Timeout < time.Second || p.Reconciler.Timeout > maxReconcilerTimeout {
		errs = errors.Join(errs, fmt.Errorf("%w: reconciler timeout %s must be between 1s and %s", ErrInvalidConfig, p.Reconciler.Timeout, maxReconcilerTimeout))
	}
	if p.Reconciler.Wait < 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: reconcile wait must not be negative", ErrInvalidConfig))
	}
	if p.Environment != nil && p.Environment.AutomaticStopTimeMinutes < 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: automatic stop time must not be negative", ErrInvalidConfig))
	}
	return errs
}

// defaultEnvironment is used together with the default network.
func defaultEnvironment() EnvironmentProps {
	return EnvironmentProps{
		InstanceType:             DefaultInstanceType,
		ImageID:                  DefaultImageID,
		ConnectionType:           DefaultConnectionType,
		AutomaticStopTimeMinutes: DefaultAutomaticStopTimeMinutes,
	}
}

func skipTeardown() bool {
	v, _ := strconv.ParseBool(os.Getenv(SkipTeardownEnv))
	return v
}
