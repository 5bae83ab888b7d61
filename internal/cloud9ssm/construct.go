// Package cloud9ssm provisions a Cloud9 EC2 environment customized by an SSM
// document.
//
// A Construct declares a fixed set of resources: the environment (and a
// default network for it), the instance role and its instance profile, the
// SSM document and its association, and the reconciler that reattaches the
// instance profile once the document has run. Apply realizes them in
// dependency order, blocking on the reconciliation, and tears everything
// down again if any step fails. Destroy removes what a State recorded.
package cloud9ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/document"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/grant"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/graph"
	log2 "github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/log"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/o11y"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logical ids of the declared resources.
const (
	NodeNetwork            = "Network"
	NodeEnvironment        = "Environment"
	NodeRole               = "Role"
	NodeInstanceProfile    = "InstanceProfile"
	NodeDocument           = "Document"
	NodeAssociation        = "Association"
	NodeReconcilerFunction = "ReconcilerFunction"
	NodeReconciliation     = "Reconciliation"
)

var (
	ErrInvalidGraph   = errors.New("invalid resource graph")
	ErrAlreadyApplied = errors.New("construct has already been applied")
	ErrRollback       = errors.New("failed to tear down partially applied construct")
	errInvalidID      = errors.New("invalid construct id")
)

// resource is one node of the construct's graph.
//
// create records what it builds into the construct State as it goes, and
// returns the teardown for whatever exists, also when it fails part way.
// teardown builds the same teardown from recorded State alone, nil when
// nothing was recorded.
type resource interface {
	create(ctx context.Context) (Teardown, error)
	teardown() Teardown
}

// Role is the handle on the instance role. Actions granted through it before
// Apply end up in the role's inline policy.
type Role struct {
	Name string
	*grant.Tracker
}

type Construct struct {
	id      string
	names   names
	props   Props
	clients Clients
	tags    tags
	timing  timing

	doc            *document.Document
	roleGrants     *grant.Tracker
	functionGrants *grant.Tracker

	graph     *graph.Graph
	resources map[string]resource
	state     *State
	stack     *Stack
}

// New declares the construct's resources. Nothing is created until Apply.
//
// A caller supplied document without a name is rejected before anything is
// declared.
func New(id string, props Props, clients Clients) (*Construct, error) {
	return newConstruct(id, props, clients, defaultTiming)
}

func newConstruct(id string, props Props, clients Clients, tm timing) (*Construct, error) {
	n := newNames(id)
	if n.prefix == "" {
		return nil, fmt.Errorf("%w: %q has no characters usable in AWS names", errInvalidID, id)
	}
	props.applyDefaults()
	if err := props.validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	c := &Construct{
		id:             id,
		names:          n,
		props:          props,
		clients:        clients,
		tags:           newTags(runID, props.Tags),
		timing:         tm,
		roleGrants:     grant.New(),
		functionGrants: grant.New(),
		state:          &State{RunID: runID, Mode: props.Reconciler.Mode},
		stack:          new(Stack),
	}

	if err := c.declareDocument(); err != nil {
		return nil, err
	}
	c.functionGrants.Grant(grant.ScopeAll, grant.ReconcilerActions...)

	g, err := declareGraph(c.networked())
	if err != nil {
		return nil, err
	}
	c.graph = g
	c.resources = c.declareResources()

	return c, nil
}

func (c *Construct) declareDocument() error {
	if c.props.Document == nil {
		doc, err := document.Default(c.names.document())
		if err != nil {
			return err
		}
		c.doc = doc
		return c.ResizeEBSTo(c.props.EBSSize)
	}

	p := c.props.Document
	doc, err := document.Parse(p.Name, p.Type, p.Format, p.Content)
	if err != nil {
		return err
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	c.doc = doc
	return nil
}

// networked reports whether the construct builds its own network, which it
// does when the caller brings no environment configuration.
func (c *Construct) networked() bool { return c.props.Environment == nil }

func (c *Construct) environmentProps() EnvironmentProps {
	if c.props.Environment == nil {
		return defaultEnvironment()
	}
	return *c.props.Environment
}

// declareResources binds every graph node to its implementation.
func (c *Construct) declareResources() map[string]resource {
	res := map[string]resource{
		NodeEnvironment: &environment{
			client:  c.clients.Cloud9,
			state:   c.state,
			name:    c.names.environment(),
			props:   c.environmentProps(),
			tags:    c.tags,
			timing:  c.timing,
			network: c.networked(),
		},
		NodeRole: newInstanceRole(c.clients.IAM, c.state, c.names, c.tags, c.roleGrants),
		NodeInstanceProfile: &instanceProfile{
			client: c.clients.IAM,
			state:  c.state,
			name:   c.names.instanceProfile(),
			tags:   c.tags,
		},
		NodeDocument: &ssmDocument{
			client: c.clients.SSM,
			state:  c.state,
			doc:    c.doc,
			tags:   c.tags,
		},
		NodeAssociation: &association{
			client: c.clients.SSM,
			state:  c.state,
			name:   c.names.association(),
		},
		NodeReconcilerFunction: newReconcilerFunction(c.clients, c.state, c.names, c.tags, c.functionGrants, c.props.Reconciler, c.timing),
		NodeReconciliation: &reconciliation{
			clients: c.clients,
			state:   c.state,
			mode:    c.props.Reconciler.Mode,
			wait:    c.props.Reconciler.Wait,
		},
	}
	if c.networked() {
		res[NodeNetwork] = &network{
			client: c.clients.EC2,
			state:  &c.state.Network,
			names:  c.names,
			tags:   c.tags,
		}
	}
	return res
}

// declaredNodes lists the logical ids in declaration order, which is also
// the tie-break for the realization order.
func declaredNodes(networked bool) []string {
	var nodes []string
	if networked {
		nodes = append(nodes, NodeNetwork)
	}
	return append(nodes,
		NodeEnvironment,
		NodeRole,
		NodeInstanceProfile,
		NodeDocument,
		NodeAssociation,
		NodeReconcilerFunction,
		NodeReconciliation,
	)
}

func declaredEdges(networked bool) []graph.Edge {
	var edges []graph.Edge
	if networked {
		edges = append(edges, graph.Edge{From: NodeEnvironment, To: NodeNetwork})
	}
	return append(edges,
		graph.Edge{From: NodeInstanceProfile, To: NodeRole},
		graph.Edge{From: NodeAssociation, To: NodeEnvironment},
		graph.Edge{From: NodeAssociation, To: NodeDocument},
		graph.Edge{From: NodeReconciliation, To: NodeInstanceProfile},
		graph.Edge{From: NodeReconciliation, To: NodeAssociation},
		graph.Edge{From: NodeReconciliation, To: NodeReconcilerFunction},
	)
}

func declareGraph(networked bool) (*graph.Graph, error) {
	g, err := graph.New(declaredNodes(networked), declaredEdges(networked))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidGraph, err)
	}
	if err := checkGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// checkGraph enforces that the reconciliation is the single terminal node
// and directly follows both the instance profile and the association.
func checkGraph(g *graph.Graph) error {
	terminals := g.Terminals()
	if len(terminals) != 1 || terminals[0] != NodeReconciliation {
		return fmt.Errorf("%w: terminals %v, want [%s]", ErrInvalidGraph, terminals, NodeReconciliation)
	}
	for _, dep := range []string{NodeInstanceProfile, NodeAssociation} {
		if !g.DependsOn(NodeReconciliation, dep) {
			return fmt.Errorf("%w: %s must follow %s", ErrInvalidGraph, NodeReconciliation, dep)
		}
	}
	return nil
}

// AddDocumentSteps appends a YAML sequence of steps to the document's
// mainSteps.
func (c *Construct) AddDocumentSteps(steps string) error { return c.doc.AddSteps(steps) }

// AddDocumentParameters merges a YAML mapping into the document's
// parameters.
func (c *Construct) AddDocumentParameters(parameters string) error {
	return c.doc.AddParameters(parameters)
}

// ResizeEBSTo adds the EBS resize step and grants the instance role what the
// step needs.
func (c *Construct) ResizeEBSTo(sizeGiB int) error {
	return c.doc.ResizeStorageTo(sizeGiB, c.roleGrants)
}

func (c *Construct) Role() Role {
	return Role{Name: c.names.role(), Tracker: c.roleGrants}
}

func (c *Construct) Graph() *graph.Graph { return c.graph }

func (c *Construct) Document() *document.Document { return c.doc }

// State returns a copy of what has been recorded so far.
func (c *Construct) State() *State {
	s := *c.state
	return &s
}

// Apply realizes every resource in graph order. It blocks until the
// reconciliation reports back. On failure everything created so far is torn
// down, unless SkipTeardownEnv is set, and a State is only returned when
// resources may remain.
func (c *Construct) Apply(ctx context.Context) (*State, error) {
	if c.doc.Sealed() {
		return nil, ErrAlreadyApplied
	}
	c.doc.Seal()

	ctx, span := otel.Tracer(o11y.TracerName).Start(ctx, "cloud9ssm.Apply", trace.WithAttributes(
		attribute.String(o11y.AttrConstructID, c.id),
		attribute.String(o11y.AttrRunID, c.state.RunID),
		attribute.String(o11y.AttrMode, string(c.props.Reconciler.Mode)),
	))
	defer span.End()

	ctx = log2.WithConstruct(ctx, c.id, c.state.RunID)
	log2.Info(ctx, "applying construct", "order", c.graph.Order(), "sources", c.graph.Sources())

	for _, id := range c.graph.Order() {
		if err := c.create(ctx, id); err != nil {
			log2.Error(ctx, "resource failed", o11y.AttrResource, id, "dependents", c.graph.Dependents(id))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return c.rollback(ctx, err)
		}
	}

	log2.Info(ctx, "construct applied",
		"environment_id", c.state.EnvironmentID,
		"association_id", c.state.AssociationID,
		"instance_id", c.state.ReconciledInstanceID,
	)
	return c.State(), nil
}

func (c *Construct) create(ctx context.Context, id string) error {
	ctx, span := otel.Tracer(o11y.TracerName).Start(ctx, "cloud9ssm.create "+id, trace.WithAttributes(
		attribute.String(o11y.AttrResource, id),
	))
	defer span.End()

	ctx = log2.WithResource(ctx, id)
	log2.Info(ctx, "creating resource")

	teardown, err := c.resources[id].create(ctx)
	c.stack.Push(teardown)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w", id, err)
	}
	return nil
}

func (c *Construct) rollback(ctx context.Context, cause error) (*State, error) {
	if skipTeardown() {
		log2.Warn(ctx, "skipping teardown of partially applied construct", "env", SkipTeardownEnv, "pending", c.stack.Len())
		return c.State(), cause
	}

	log2.Error(ctx, "apply failed, tearing down created resources", "error", cause, "pending", c.stack.Len())
	if err := c.stack.Destroy(ctx); err != nil {
		return c.State(), errors.Join(cause, fmt.Errorf("%w: %w", ErrRollback, err))
	}
	return nil, cause
}

// Destroy tears down everything state records, in the reverse of the order
// it was created in. Resources that are already gone are skipped.
func Destroy(ctx context.Context, clients Clients, state *State) error {
	if state == nil {
		return nil
	}

	c := &Construct{
		clients:        clients,
		props:          Props{Reconciler: ReconcilerProps{Mode: state.Mode}},
		timing:         defaultTiming,
		roleGrants:     grant.New(),
		functionGrants: grant.New(),
		state:          state,
		stack:          new(Stack),
	}
	networked := state.Network.VPCID != ""
	if !networked {
		c.props.Environment = &EnvironmentProps{}
	}

	g, err := declareGraph(networked)
	if err != nil {
		return err
	}
	resources := c.declareResources()
	// Pushed in realization order so the stack pops them in g.ReverseOrder().
	for _, id := range g.Order() {
		c.stack.Push(resources[id].teardown())
	}

	ctx = log2.WithConstruct(ctx, "", state.RunID)
	log2.Info(ctx, "destroying construct", "order", g.ReverseOrder(), "pending", c.stack.Len())
	return c.stack.Destroy(ctx)
}
