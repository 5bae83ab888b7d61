// Package grant accumulates the IAM actions an identity needs as features are
// enabled, and renders them into a single policy document.
package grant

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ScopeAll is the resource scope matching every resource.
const ScopeAll = "*"

const (
	iamPolicyVersion = "2012-10-17"
	iamEffectAllow   = "Allow"
)

var (
	// ResizeStorageActions are needed by the EBS resize document step.
	ResizeStorageActions = []string{
		"ec2:DescribeInstances",
		"ec2:ModifyVolume",
		"ec2:DescribeVolumesModifications",
	}

	// ReconcilerActions are needed by the profile reattachment procedure to
	// find the environment's instance through the association targets and to
	// swap its instance profile.
	ReconcilerActions = []string{
		"ec2:DescribeInstances",
		"ec2:AssociateIamInstanceProfile",
		"ec2:ReplaceIamInstanceProfileAssociation",
		"ec2:DescribeIamInstanceProfileAssociations",
		"ec2:RebootInstances",
		"iam:ListInstanceProfiles",
		"iam:PassRole",
		"ssm:DescribeAssociation",
		"ssm:DescribeAssociationExecutions",
	}
)

var (
	ErrEmptyPolicy   = errors.New("no actions have been granted")
	errPolicyMarshal = errors.New("failed to marshal policy document")
)

// Tracker is the set of actions granted to one identity, keyed by resource
// scope. Grants are never revoked.
type Tracker struct {
	grants map[string]map[string]struct{}
}

func New() *Tracker {
	return &Tracker{grants: make(map[string]map[string]struct{})}
}

// Grant unions actions into the set granted on scope.
func (t *Tracker) Grant(scope string, actions ...string) {
	if len(actions) == 0 {
		return
	}
	if t.grants == nil {
		t.grants = make(map[string]map[string]struct{})
	}
	set, ok := t.grants[scope]
	if !ok {
		set = make(map[string]struct{}, len(actions))
		t.grants[scope] = set
	}
	for _, action := range actions {
		set[action] = struct{}{}
	}
}

// Has reports whether every action is granted on scope.
func (t *Tracker) Has(scope string, actions ...string) bool {
	set := t.grants[scope]
	for _, action := range actions {
		if _, ok := set[action]; !ok {
			return false
		}
	}
	return true
}

// Actions returns the sorted actions granted on scope.
func (t *Tracker) Actions(scope string) []string {
	return slices.Sorted(maps.Keys(t.grants[scope]))
}

// Scopes returns the sorted scopes with at least one granted action.
func (t *Tracker) Scopes() []string {
	return slices.Sorted(maps.Keys(t.grants))
}

func (t *Tracker) Empty() bool { return len(t.grants) == 0 }

type policyDocument struct {
	Version   string      `json:"Version"`
	Statement []statement `json:"Statement"`
}

type statement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource []string `json:"Resource"`
}

// Policy renders the tracked grants as one IAM policy document, with one
// statement per scope.
func (t *Tracker) Policy() (string, error) {
	if t.Empty() {
		return "", ErrEmptyPolicy
	}

	doc := policyDocument{Version: iamPolicyVersion}
	for _, scope := range t.Scopes() {
		doc.Statement = append(doc.Statement, statement{
			Effect:   iamEffectAllow,
			Action:   t.Actions(scope),
			Resource: []string{scope},
		})
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errPolicyMarshal, err)
	}
	return string(out), nil
}
