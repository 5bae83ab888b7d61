package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/cloud9ssm"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/document"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/provider/framework"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/reconcile"
	"github.com/hashicorp/terraform-plugin-framework-timeouts/resource/timeouts"
	"github.com/hashicorp/terraform-plugin-framework-validators/int64validator"
	"github.com/hashicorp/terraform-plugin-framework-validators/stringvalidator"
	"github.com/hashicorp/terraform-plugin-framework/diag"
	"github.com/hashicorp/terraform-plugin-framework/resource"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/int64planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/listplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/objectplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/planmodifier"
	"github.com/hashicorp/terraform-plugin-framework/resource/schema/stringplanmodifier"
	"github.com/hashicorp/terraform-plugin-framework/schema/validator"
	"github.com/hashicorp/terraform-plugin-framework/types"
	"github.com/hashicorp/terraform-plugin-framework/types/basetypes"
)

const (
	defaultEnvironmentCreateTimeout = 30 * time.Minute
	defaultEnvironmentDeleteTimeout = 20 * time.Minute
)

var _ resource.ResourceWithConfigure = &EnvironmentResource{}

func NewEnvironmentResource() resource.Resource {
	return &EnvironmentResource{WithTypeName: "environment"}
}

// EnvironmentResource defines the resource implementation.
type EnvironmentResource struct {
	framework.WithTypeName
	framework.WithNoOpRead
	framework.WithPlanUpdate

	store *ProviderStore
}

// EnvironmentResourceModel describes the resource data model.
type EnvironmentResourceModel struct {
	Id                 types.String                `tfsdk:"id"`
	Name               types.String                `tfsdk:"name"`
	EBSSize            types.Int64                 `tfsdk:"ebs_size"`
	Document           *EnvironmentDocumentModel   `tfsdk:"document"`
	DocumentSteps      []string                    `tfsdk:"document_steps"`
	DocumentParameters []string                    `tfsdk:"document_parameters"`
	Environment        *EnvironmentConfigModel     `tfsdk:"environment"`
	Reconciler         *EnvironmentReconcilerModel `tfsdk:"reconciler"`
	Timeouts           timeouts.Value              `tfsdk:"timeouts"`

	EnvironmentID      types.String `tfsdk:"environment_id"`
	RoleName           types.String `tfsdk:"role_name"`
	RoleArn            types.String `tfsdk:"role_arn"`
	InstanceProfileArn types.String `tfsdk:"instance_profile_arn"`
	DocumentName       types.String `tfsdk:"document_name"`
	AssociationID      types.String `tfsdk:"association_id"`
	InstanceID         types.String `tfsdk:"instance_id"`
	State              types.String `tfsdk:"state"`
}

type EnvironmentDocumentModel struct {
	Name           types.String `tfsdk:"name"`
	DocumentType   types.String `tfsdk:"document_type"`
	DocumentFormat types.String `tfsdk:"document_format"`
	Content        types.String `tfsdk:"content"`
}

type EnvironmentConfigModel struct {
	InstanceType             types.String `tfsdk:"instance_type"`
	ImageID                  types.String `tfsdk:"image_id"`
	SubnetID                 types.String `tfsdk:"subnet_id"`
	ConnectionType           types.String `tfsdk:"connection_type"`
	AutomaticStopTimeMinutes types.Int64  `tfsdk:"automatic_stop_time_minutes"`
	OwnerArn                 types.String `tfsdk:"owner_arn"`
	Description              types.String `tfsdk:"description"`
}

type EnvironmentReconcilerModel struct {
	Mode           types.String `tfsdk:"mode"`
	TimeoutSeconds types.Int64  `tfsdk:"timeout_seconds"`
	WaitSeconds    types.Int64  `tfsdk:"wait_seconds"`
}

func (r *EnvironmentResource) Schema(ctx context.Context, _ resource.SchemaRequest, resp *resource.SchemaResponse) {
	replace := []planmodifier.String{stringplanmodifier.RequiresReplace()}
	computed := func(description string) schema.StringAttribute {
		return schema.StringAttribute{
			Description: description,
			Computed:    true,
			PlanModifiers: []planmodifier.String{
				stringplanmodifier.UseStateForUnknown(),
			},
		}
	}

	resp.Schema = schema.Schema{
		MarkdownDescription: "A Cloud9 EC2 environment customized by an SSM document. The instance role the document needs is attached to the environment's instance once the document is associated.",
		Attributes: map[string]schema.Attribute{
			"id": computed("The Cloud9 environment ID, or the run ID when the environment was never created."),
			"name": schema.StringAttribute{
				Description:   "The name every created resource is derived from.",
				Required:      true,
				PlanModifiers: replace,
				Validators: []validator.String{
					stringvalidator.LengthAtLeast(1),
				},
			},
			"ebs_size": schema.Int64Attribute{
				Description: "The size, in GiB, the environment's volume is resized to. Defaults to 100 with the bundled document. With a custom document the resize step is only added when this is set.",
				Optional:    true,
				PlanModifiers: []planmodifier.Int64{
					int64planmodifier.RequiresReplace(),
				},
				Validators: []validator.Int64{
					int64validator.AtLeast(1),
				},
			},
			"document": schema.SingleNestedAttribute{
				Description: "A custom SSM document replacing the bundled one.",
				Optional:    true,
				PlanModifiers: []planmodifier.Object{
					objectplanmodifier.RequiresReplace(),
				},
				Attributes: map[string]schema.Attribute{
					"name": schema.StringAttribute{
						Description: "The name of the SSM document.",
						Optional:    true,
					},
					"document_type": schema.StringAttribute{
						Description: "The SSM document type (Command|Automation).",
						Optional:    true,
						Validators: []validator.String{
							stringvalidator.OneOf(string(document.TypeCommand), string(document.TypeAutomation)),
						},
					},
					"document_format": schema.StringAttribute{
						Description: "The format the document is sent to SSM in (YAML|JSON).",
						Optional:    true,
						Validators: []validator.String{
							stringvalidator.OneOf(string(document.FormatYAML), string(document.FormatJSON)),
						},
					},
					"content": schema.StringAttribute{
						Description: "The document content, as YAML or JSON.",
						Optional:    true,
					},
				},
			},
			"document_steps": schema.ListAttribute{
				Description: "YAML sequences of steps appended to the document's mainSteps, in order.",
				Optional:    true,
				ElementType: basetypes.StringType{},
				PlanModifiers: []planmodifier.List{
					listplanmodifier.RequiresReplace(),
				},
			},
			"document_parameters": schema.ListAttribute{
				Description: "YAML mappings merged into the document's parameters, in order.",
				Optional:    true,
				ElementType: basetypes.StringType{},
				PlanModifiers: []planmodifier.List{
					listplanmodifier.RequiresReplace(),
				},
			},
			"environment": schema.SingleNestedAttribute{
				Description: "The Cloud9 environment configuration. Without it a public VPC is created for the environment.",
				Optional:    true,
				PlanModifiers: []planmodifier.Object{
					objectplanmodifier.RequiresReplace(),
				},
				Attributes: map[string]schema.Attribute{
					"instance_type": schema.StringAttribute{
						Description: "The EC2 instance type.",
						Optional:    true,
					},
					"image_id": schema.StringAttribute{
						Description: "The Cloud9 image ID or SSM parameter path of the AMI.",
						Optional:    true,
					},
					"subnet_id": schema.StringAttribute{
						Description: "The subnet to launch the instance in. Cloud9 uses the default VPC when unset.",
						Optional:    true,
					},
					"connection_type": schema.StringAttribute{
						Description: "The Cloud9 connection type (CONNECT_SSH|CONNECT_SSM).",
						Optional:    true,
						Validators: []validator.String{
							stringvalidator.OneOf("CONNECT_SSH", "CONNECT_SSM"),
						},
					},
					"automatic_stop_time_minutes": schema.Int64Attribute{
						Description: "Minutes of inactivity after which the instance is stopped.",
						Optional:    true,
						Validators: []validator.Int64{
							int64validator.Between(0, 20160),
						},
					},
					"owner_arn": schema.StringAttribute{
						Description: "The ARN of the environment owner.",
						Optional:    true,
					},
					"description": schema.StringAttribute{
						Description: "The environment description.",
						Optional:    true,
					},
				},
			},
			"reconciler": schema.SingleNestedAttribute{
				Description: "Where and how long the instance profile reattachment runs.",
				Optional:    true,
				PlanModifiers: []planmodifier.Object{
					objectplanmodifier.RequiresReplace(),
				},
				Attributes: map[string]schema.Attribute{
					"mode": schema.StringAttribute{
						Description: "lambda deploys the reattachment as a Lambda function, local runs it from the provider.",
						Optional:    true,
						Validators: []validator.String{
							stringvalidator.OneOf(string(cloud9ssm.ReconcilerModeLambda), string(cloud9ssm.ReconcilerModeLocal)),
						},
					},
					"timeout_seconds": schema.Int64Attribute{
						Description: "The Lambda function timeout.",
						Optional:    true,
						Validators: []validator.Int64{
							int64validator.Between(1, 900),
						},
					},
					"wait_seconds": schema.Int64Attribute{
						Description: "How long to wait for the reattachment to report back.",
						Optional:    true,
						Validators: []validator.Int64{
							int64validator.AtLeast(1),
						},
					},
				},
			},
			"timeouts": timeouts.Attributes(ctx, timeouts.Opts{
				Create: true,
				Delete: true,
			}),
			"environment_id":       computed("The Cloud9 environment ID."),
			"role_name":            computed("The name of the instance role."),
			"role_arn":             computed("The ARN of the instance role."),
			"instance_profile_arn": computed("The ARN of the instance profile attached to the environment's instance."),
			"document_name":        computed("The name of the SSM document."),
			"association_id":       computed("The ID of the SSM association."),
			"instance_id":          computed("The ID of the environment's EC2 instance."),
			"state":                computed("Everything that was created, used to destroy it."),
		},
	}
}

func (r *EnvironmentResource) Configure(ctx context.Context, req resource.ConfigureRequest, resp *resource.ConfigureResponse) {
	if req.ProviderData == nil {
		return
	}

	store, ok := req.ProviderData.(*ProviderStore)
	if !ok {
		resp.Diagnostics.AddError("invalid provider data", fmt.Sprintf("expected *ProviderStore, got %T", req.ProviderData))
		return
	}
	r.store = store
}

func (r *EnvironmentResource) Create(ctx context.Context, req resource.CreateRequest, resp *resource.CreateResponse) {
	var data EnvironmentResourceModel
	resp.Diagnostics.Append(req.Plan.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	state, ds := r.do(ctx, &data)
	resp.Diagnostics.Append(ds...)
	if state == nil {
		return
	}

	// Resources may remain even when do failed; record them so they are
	// destroyed with the tainted resource.
	resp.Diagnostics.Append(data.setState(state)...)
	resp.Diagnostics.Append(resp.State.Set(ctx, &data)...)
}

func (r *EnvironmentResource) do(ctx context.Context, data *EnvironmentResourceModel) (*cloud9ssm.State, diag.Diagnostics) {
	var ds diag.Diagnostics
	name := data.Name.ValueString()

	timeout, diags := data.Timeouts.Create(ctx, defaultEnvironmentCreateTimeout)
	if diags.HasError() {
		return nil, diags
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, done := r.store.Logger(ctx, name)
	defer done()

	if !r.store.Reserve(name) {
		ds.AddError("environment is already being applied", fmt.Sprintf("another %q environment is in progress in this run", name))
		return nil, ds
	}
	defer r.store.Release(name)

	c, err := cloud9ssm.New(name, data.props(r.store), r.store.clients)
	if err != nil {
		return nil, append(ds, errorDiagnostic(err))
	}
	if err := data.customize(c); err != nil {
		return nil, append(ds, errorDiagnostic(err))
	}

	clog.InfoContext(ctx, "applying environment", "steps", len(c.Document().Steps()))
	state, err := c.Apply(ctx)
	if err != nil {
		ds.Append(errorDiagnostic(err))
		if state != nil {
			ds.AddWarning("resources may remain", "not everything created before the failure was torn down; destroying the resource retries the teardown")
		}
	}
	return state, ds
}

func (r *EnvironmentResource) Delete(ctx context.Context, req resource.DeleteRequest, resp *resource.DeleteResponse) {
	var data EnvironmentResourceModel
	resp.Diagnostics.Append(req.State.Get(ctx, &data)...)
	if resp.Diagnostics.HasError() {
		return
	}

	timeout, diags := data.Timeouts.Delete(ctx, defaultEnvironmentDeleteTimeout)
	resp.Diagnostics.Append(diags...)
	if resp.Diagnostics.HasError() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, done := r.store.Logger(ctx, data.Name.ValueString())
	defer done()

	if data.State.ValueString() == "" {
		return
	}
	state, err := cloud9ssm.DecodeState(data.State.ValueString())
	if err != nil {
		resp.Diagnostics.AddError("invalid environment state", err.Error())
		return
	}
	if err := cloud9ssm.Destroy(ctx, r.store.clients, state); err != nil {
		resp.Diagnostics.AddError("failed to destroy environment", err.Error())
	}
}

// props maps the model onto the construct configuration. Null attributes
// map to zero values, which select the construct defaults.
func (m *EnvironmentResourceModel) props(store *ProviderStore) cloud9ssm.Props {
	p := cloud9ssm.Props{
		Region: store.region,
		Tags:   store.Tags(),
	}

	if m.Document == nil {
		p.EBSSize = int(m.EBSSize.ValueInt64())
	} else {
		p.Document = &cloud9ssm.DocumentProps{
			Name:    m.Document.Name.ValueString(),
			Type:    document.Type(m.Document.DocumentType.ValueString()),
			Format:  document.Format(m.Document.DocumentFormat.ValueString()),
			Content: m.Document.Content.ValueString(),
		}
	}

	if e := m.Environment; e != nil {
		p.Environment = &cloud9ssm.EnvironmentProps{
			InstanceType:             e.InstanceType.ValueString(),
			ImageID:                  e.ImageID.ValueString(),
			SubnetID:                 e.SubnetID.ValueString(),
			ConnectionType:           e.ConnectionType.ValueString(),
			AutomaticStopTimeMinutes: int32(e.AutomaticStopTimeMinutes.ValueInt64()),
			OwnerArn:                 e.OwnerArn.ValueString(),
			Description:              e.Description.ValueString(),
		}
	}

	if rc := m.Reconciler; rc != nil {
		p.Reconciler = cloud9ssm.ReconcilerProps{
			Mode:    cloud9ssm.ReconcilerMode(rc.Mode.ValueString()),
			Timeout: time.Duration(rc.TimeoutSeconds.ValueInt64()) * time.Second,
			Wait:    time.Duration(rc.WaitSeconds.ValueInt64()) * time.Second,
		}
	}
	return p
}

// customize applies the document additions to a declared construct.
func (m *EnvironmentResourceModel) customize(c *cloud9ssm.Construct) error {
	for _, steps := range m.DocumentSteps {
		if err := c.AddDocumentSteps(steps); err != nil {
			return err
		}
	}
	for _, params := range m.DocumentParameters {
		if err := c.AddDocumentParameters(params); err != nil {
			return err
		}
	}
	if m.Document != nil && !m.EBSSize.IsNull() {
		return c.ResizeEBSTo(int(m.EBSSize.ValueInt64()))
	}
	return nil
}

func (m *EnvironmentResourceModel) setState(s *cloud9ssm.State) diag.Diagnostics {
	raw, err := s.Encode()
	if err != nil {
		return diag.Diagnostics{diag.NewErrorDiagnostic("failed to record environment state", err.Error())}
	}

	id := s.EnvironmentID
	if id == "" {
		id = s.RunID
	}
	m.Id = types.StringValue(id)
	m.EnvironmentID = types.StringValue(s.EnvironmentID)
	m.RoleName = types.StringValue(s.RoleName)
	m.RoleArn = types.StringValue(s.RoleArn)
	m.InstanceProfileArn = types.StringValue(s.InstanceProfileArn)
	m.DocumentName = types.StringValue(s.DocumentName)
	m.AssociationID = types.StringValue(s.AssociationID)
	m.InstanceID = types.StringValue(s.ReconciledInstanceID)
	m.State = types.StringValue(raw)
	return nil
}

// errorDiagnostic names the failure by its kind.
func errorDiagnostic(err error) diag.Diagnostic {
	summary := "failed to apply environment"
	switch {
	case errors.Is(err, document.ErrMissingDocumentName):
		summary = "missing document name"
	case errors.Is(err, document.ErrMalformedFragment):
		summary = "malformed document fragment"
	case errors.Is(err, document.ErrInvalidSize):
		summary = "invalid EBS size"
	case errors.Is(err, cloud9ssm.ErrInvalidConfig):
		summary = "invalid configuration"
	case errors.Is(err, reconcile.ErrReconciliationFailed):
		summary = "instance profile reconciliation failed"
	}
	return diag.NewErrorDiagnostic(summary, err.Error())
}
