package framework

import (
	"context"
	"testing"

	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/tfsdk"
	"github.com/hashicorp/terraform-plugin-go/tftypes"
	"github.com/stretchr/testify/require"
)

func TestWithTypeName(t *testing.T) {
	var resp resource.MetadataResponse
	WithTypeName("environment").Metadata(context.Background(), resource.MetadataRequest{ProviderTypeName: "cloud9ssm"}, &resp)
	require.Equal(t, "cloud9ssm_environment", resp.TypeName)
}

func TestWithPlanUpdate(t *testing.T) {
	typ := tftypes.Object{AttributeTypes: map[string]tftypes.Type{"name": tftypes.String}}
	plan := tftypes.NewValue(typ, map[string]tftypes.Value{
		"name": tftypes.NewValue(tftypes.String, "env"),
	})

	req := resource.UpdateRequest{Plan: tfsdk.Plan{Raw: plan}}
	var resp resource.UpdateResponse
	WithPlanUpdate{}.Update(context.Background(), req, &resp)

	require.False(t, resp.Diagnostics.HasError())
	require.True(t, resp.State.Raw.Equal(plan))
}
