package cloud9ssm

import (
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	c9types "github.com/aws/aws-sdk-go-v2/service/cloud9/types"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

const (
	// These are some well-known AWS tag keys.
	//
	// 'Name' is well-known within AWS itself, the rest are commonly used in
	// Terraform managed accounts.
	tagKeyName    = "Name"
	tagKeyProject = "Project"
	tagKeyRunID   = "cloud9ssm:run-id"

	tagDefaultProject = "terraform-provider-cloud9ssm"
)

// tags is the flat key-value set applied to every created resource.
// Caller tags win over the defaults.
type tags map[string]string

func newTags(runID string, extra map[string]string) tags {
	t := tags{
		tagKeyProject: tagDefaultProject,
		tagKeyRunID:   runID,
	}
	maps.Copy(t, extra)
	return t
}

// with returns a copy of t carrying the given Name tag.
func (t tags) with(name string) tags {
	out := maps.Clone(t)
	if out == nil {
		out = tags{}
	}
	out[tagKeyName] = name
	return out
}

func (t tags) keys() []string { return slices.Sorted(maps.Keys(t)) }

// ec2Specification produces a tag specification for one EC2 resource type.
//
// A 'TagSpecification' is just AWS' term for metadata, defined as key-value
// pairs, associated with a particular 'types.ResourceType'.
func (t tags) ec2Specification(rt ec2types.ResourceType) []ec2types.TagSpecification {
	out := make([]ec2types.Tag, 0, len(t))
	for _, k := range t.keys() {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return []ec2types.TagSpecification{{ResourceType: rt, Tags: out}}
}

func (t tags) iam() []iamtypes.Tag {
	out := make([]iamtypes.Tag, 0, len(t))
	for _, k := range t.keys() {
		out = append(out, iamtypes.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return out
}

func (t tags) ssm() []ssmtypes.Tag {
	out := make([]ssmtypes.Tag, 0, len(t))
	for _, k := range t.keys() {
		out = append(out, ssmtypes.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return out
}

func (t tags) cloud9() []c9types.Tag {
	out := make([]c9types.Tag, 0, len(t))
	for _, k := range t.keys() {
		out = append(out, c9types.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return out
}

// lambda tags are a plain map.
func (t tags) lambda() map[string]string { return maps.Clone(t) }
