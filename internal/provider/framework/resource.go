package framework

import (
	"context"

	"github.com/hashicorp/terraform-plugin-framework/resource"
)

// WithTypeName can be embedded into [resource.Resource] implementations to
// automatically wire up the resource's name as the resource name appended to
// the provider name.
type WithTypeName string

func (w WithTypeName) Metadata(
	_ context.Context, req resource.MetadataRequest, resp *resource.MetadataResponse,
) {
	resp.TypeName = req.ProviderTypeName + "_" + string(w)
}

// WithNoOpRead can be embedded into [resource.Resource] implementations whose
// state is only ever written by Create.
type WithNoOpRead struct{}

func (w WithNoOpRead) Read(_ context.Context, _ resource.ReadRequest, _ *resource.ReadResponse) {
}

// WithPlanUpdate can be embedded into [resource.Resource] implementations
// where every attribute but timeouts requires replacement. The plan is
// accepted as the new state unchanged.
type WithPlanUpdate struct{}

func (w WithPlanUpdate) Update(_ context.Context, req resource.UpdateRequest, resp *resource.UpdateResponse) {
	resp.State.Raw = req.Plan.Raw.Copy()
}
