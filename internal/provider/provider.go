package provider

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/cloud9ssm"
	log2 "github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/log"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/datasource"
	"github.com/hashicorp/terraform-plugin-framework/provider"
	"github.com/hashicorp/terraform-plugin-framework/provider/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
)

var _ provider.Provider = &Cloud9SSMProvider{}

// Cloud9SSMProvider defines the provider implementation.
type Cloud9SSMProvider struct {
	// version is set to the provider version on release, "dev" when the
	// provider is built and ran locally, and "test" when running acceptance
	// testing.
	version string
}

// Cloud9SSMProviderModel describes the provider data model.
type Cloud9SSMProviderModel struct {
	Region types.String         `tfsdk:"region"`
	Tags   types.Map            `tfsdk:"tags"`
	Log    *ProviderLoggerModel `tfsdk:"log"`
}

type ProviderLoggerModel struct {
	File *ProviderLoggerFileModel `tfsdk:"file"`
}

type ProviderLoggerFileModel struct {
	Directory types.String `tfsdk:"directory"`
	Format    types.String `tfsdk:"format"`
}

func (p *Cloud9SSMProvider) Metadata(ctx context.Context, req provider.MetadataRequest, resp *provider.MetadataResponse) {
	resp.TypeName = "cloud9ssm"
	resp.Version = p.version
}

func (p *Cloud9SSMProvider) Schema(ctx context.Context, req provider.SchemaRequest, resp *provider.SchemaResponse) {
	resp.Schema = schema.Schema{
		MarkdownDescription: "Provisions Cloud9 EC2 environments customized by SSM documents.",
		Attributes: map[string]schema.Attribute{
			"region": schema.StringAttribute{
				Description: "The AWS region to create environments in. If not provided, the region of the default AWS configuration is used.",
				Optional:    true,
			},
			"tags": schema.MapAttribute{
				Description: "Tags applied to every resource the provider creates.",
				ElementType: types.StringType,
				Optional:    true,
			},
			"log": schema.SingleNestedAttribute{
				Optional: true,
				Attributes: map[string]schema.Attribute{
					"file": schema.SingleNestedAttribute{
						Description: "Output logs to a file per environment.",
						Optional:    true,
						Attributes: map[string]schema.Attribute{
							"format": schema.StringAttribute{
								Description: "The format of the log entries (text|json).",
								Optional:    true,
								Validators: []validator.String{
									stringvalidator.OneOf(log2.FormatText, log2.FormatJSON),
								},
							},
							"directory": schema.StringAttribute{
								Description: "The directory to write the log files to.",
								Optional:    true,
							},
						},
					},
				},
			},
		},
	}
}

func (p *Cloud9SSMProvider) Configure(ctx context.Context, req provider.ConfigureRequest, resp *provider.ConfigureResponse) {
	var data Cloud9SSMProviderModel
	resp.Diagnostics.Append(req.Config.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	var opts []func(*config.LoadOptions) error
	if region := data.Region.ValueString(); region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		resp.Diagnostics.AddError("failed to load AWS configuration", err.Error())
		return
	}

	store := NewProviderStore(cloud9ssm.NewClients(cfg), cfg.Region)

	tags := make(map[string]string)
	if diags := data.Tags.ElementsAs(ctx, &tags, false); diags.HasError() {
		resp.Diagnostics.Append(diags...)
		return
	}
	store.tags = tags

	if data.Log != nil && data.Log.File != nil {
		store.logsDirectory = data.Log.File.Directory.ValueString()
		store.logsFormat = data.Log.File.Format.ValueString()
	}

	resp.DataSourceData = store
	resp.ResourceData = store
}

func (p *Cloud9SSMProvider) Resources(_ context.Context) []func() resource.Resource {
	return []func() resource.Resource{
		NewEnvironmentResource,
	}
}

func (p *Cloud9SSMProvider) DataSources(ctx context.Context) []func() datasource.DataSource {
	return nil
}

func New(version string) func() provider.Provider {
	return func() provider.Provider {
		return &Cloud9SSMProvider{
			version: version,
		}
	}
}
