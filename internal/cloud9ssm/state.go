package cloud9ssm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

var (
	errStateEncode = errors.New("failed to encode construct state")
	errStateDecode = errors.New("failed to decode construct state")
)

// State records everything Apply created. It is all Destroy needs.
type State struct {
	RunID string         `json:"run_id"`
	Mode  ReconcilerMode `json:"mode,omitempty"`

	Network NetworkState `json:"network,omitzero"`

	EnvironmentID string `json:"environment_id,omitempty"`

	RoleName       string `json:"role_name,omitempty"`
	RoleArn        string `json:"role_arn,omitempty"`
	RolePolicyName string `json:"role_policy_name,omitempty"`

	InstanceProfileName string `json:"instance_profile_name,omitempty"`
	InstanceProfileArn  string `json:"instance_profile_arn,omitempty"`
	ProfileRoleAdded    bool   `json:"profile_role_added,omitempty"`

	DocumentName  string `json:"document_name,omitempty"`
	AssociationID string `json:"association_id,omitempty"`

	FunctionName           string `json:"function_name,omitempty"`
	FunctionArn            string `json:"function_arn,omitempty"`
	FunctionRoleName       string `json:"function_role_name,omitempty"`
	FunctionRoleArn        string `json:"function_role_arn,omitempty"`
	FunctionRolePolicyName string `json:"function_role_policy_name,omitempty"`

	ReconciledInstanceID string `json:"reconciled_instance_id,omitempty"`
}

// NetworkState holds the default network, when one was built.
type NetworkState struct {
	VPCID             string `json:"vpc_id,omitempty"`
	InternetGatewayID string `json:"internet_gateway_id,omitempty"`
	GatewayAttached   bool   `json:"gateway_attached,omitempty"`
	RouteTableID      string `json:"route_table_id,omitempty"`
	SubnetID          string `json:"subnet_id,omitempty"`
}

// Encode serializes the state for storage between runs.
func (s *State) Encode() (string, error) {
	out, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errStateEncode, err)
	}
	return string(out), nil
}

func DecodeState(raw string) (*State, error) {
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%w: %w", errStateDecode, err)
	}
	return &s, nil
}

// maxPrefixLength leaves room for the longest suffix within the 64 character
// IAM role name limit.
const maxPrefixLength = 38

// names are the physical names derived from the construct id.
type names struct {
	prefix string
}

func newNames(id string) names {
	p := slug.Make(id)
	if len(p) > maxPrefixLength {
		p = strings.TrimRight(p[:maxPrefixLength], "-")
	}
	return names{prefix: p}
}

func (n names) vpc() string             { return n.prefix + "-VPC" }
func (n names) subnet() string          { return n.prefix + "-PublicSubnet" }
func (n names) internetGateway() string { return n.prefix + "-IGW" }
func (n names) environment() string     { return n.prefix + "-Cloud9Ec2Environment" }
func (n names) role() string            { return n.prefix + "-CustomCloud9SsmEc2Role" }
func (n names) rolePolicy() string      { return n.prefix + "-CustomCloud9SsmEc2Policy" }
func (n names) instanceProfile() string { return n.prefix + "-CustomCloud9SsmEc2Profile" }
func (n names) document() string        { return n.prefix + "-CustomCloudSsm-SsmDocument" }
func (n names) association() string     { return n.prefix + "-SsmAssociation" }
func (n names) function() string        { return n.prefix + "-ProfileAttach" }
func (n names) functionRole() string    { return n.prefix + "-ProfileAttachRole" }
func (n names) functionPolicy() string  { return n.prefix + "-ProfileAttachPolicy" }
