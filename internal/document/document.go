// Package document builds the SSM automation document applied to the Cloud9
// environment's instance.
//
// A document starts either empty, from caller supplied content, or from the
// bundled default, and is then grown from YAML fragments: steps are appended
// to mainSteps in call order, parameters are overlaid last-writer-wins. Once
// the document is handed to the provisioning layer it is sealed.
package document

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/grant"
	"gopkg.in/yaml.v3"
)

// Type is the SSM document type.
type Type string

const (
	TypeCommand    Type = "Command"
	TypeAutomation Type = "Automation"
)

// Format is the encoding the document content is sent to SSM in.
type Format string

const (
	FormatYAML Format = "YAML"
	FormatJSON Format = "JSON"
)

const (
	keyParameters = "parameters"
	keyMainSteps  = "mainSteps"

	// sizePlaceholder is substituted in the bundled resize step template.
	sizePlaceholder = "{{ size }}"
)

var (
	ErrMalformedFragment   = errors.New("malformed document fragment")
	ErrMissingDocumentName = errors.New("the document name must be specified")
	ErrInvalidSize         = errors.New("storage size must be a positive number of GiB")
	ErrUnknownType         = errors.New("unknown document type")
	ErrUnknownFormat       = errors.New("unknown document format")
	ErrSealed              = errors.New("document has been handed to the provisioning layer")
	errDocumentMarshal     = errors.New("failed to marshal document content")
)

var (
	//go:embed assets/default_document.yml
	defaultContent string

	//go:embed assets/resize_ebs_step.yml
	resizeStepTemplate string
)

// Granter receives the capability grants a document feature needs on the
// identity the document executes as.
type Granter interface {
	Grant(scope string, actions ...string)
}

// Document is an SSM automation document under construction. It is owned by
// a single construct and is not safe for concurrent mutation.
type Document struct {
	Name   string
	Type   Type
	Format Format

	content map[string]any
	sealed  bool
}

// New returns a document with empty content.
func New(name string, typ Type, format Format) *Document {
	return &Document{
		Name:    name,
		Type:    typ,
		Format:  format,
		content: make(map[string]any),
	}
}

// Default returns the bundled default Command document under the given name.
func Default(name string) (*Document, error) {
	return Parse(name, TypeCommand, FormatYAML, defaultContent)
}

// Parse builds a document from caller supplied content. JSON content is
// accepted since it is also valid YAML.
func Parse(name string, typ Type, format Format, content string) (*Document, error) {
	d := New(name, typ, format)
	if strings.TrimSpace(content) == "" {
		return d, nil
	}

	node, err := parseFragment(content)
	if err != nil {
		return nil, err
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: document content must be a mapping", ErrMalformedFragment)
	}
	if err := node.Decode(&d.content); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFragment, err)
	}
	if err := d.checkSections(); err != nil {
		return nil, err
	}
	return d, nil
}

// checkSections rejects content whose mainSteps or parameters could not be
// extended without losing what is already there. A null section counts as
// absent.
func (d *Document) checkSections() error {
	if v, ok := d.content[keyMainSteps]; ok && v != nil {
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("%w: %s must be a sequence", ErrMalformedFragment, keyMainSteps)
		}
	}
	if v, ok := d.content[keyParameters]; ok && v != nil {
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("%w: %s must be a mapping", ErrMalformedFragment, keyParameters)
		}
	}
	return nil
}

// Validate checks the properties SSM requires before the document can be
// declared.
func (d *Document) Validate() error {
	if d.Name == "" {
		return ErrMissingDocumentName
	}
	switch d.Type {
	case TypeCommand, TypeAutomation:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, d.Type)
	}
	switch d.Format {
	case FormatYAML, FormatJSON:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, d.Format)
	}
	return nil
}

// AddSteps appends the steps of a YAML sequence fragment to mainSteps, in
// the order given. The document is left untouched if the fragment is not a
// sequence.
func (d *Document) AddSteps(fragment string) error {
	if d.sealed {
		return ErrSealed
	}

	node, err := parseFragment(fragment)
	if err != nil {
		return err
	}
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("%w: steps must be a sequence", ErrMalformedFragment)
	}

	var steps []any
	if err := node.Decode(&steps); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFragment, err)
	}

	d.content[keyMainSteps] = append(d.Steps(), steps...)
	return nil
}

// AddParameters overlays the parameters of a YAML mapping fragment onto the
// document's parameters. New values win on key collision.
func (d *Document) AddParameters(fragment string) error {
	if d.sealed {
		return ErrSealed
	}

	node, err := parseFragment(fragment)
	if err != nil {
		return err
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: parameters must be a mapping", ErrMalformedFragment)
	}

	var params map[string]any
	if err := node.Decode(&params); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedFragment, err)
	}

	merged := d.Parameters()
	maps.Copy(merged, params)
	d.content[keyParameters] = merged
	return nil
}

// ResizeStorageTo appends the bundled EBS resize step sized to sizeGiB, and
// grants the permissions the step needs through g.
//
// Calling it more than once appends one resize step per call.
func (d *Document) ResizeStorageTo(sizeGiB int, g Granter) error {
	if sizeGiB <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSize, sizeGiB)
	}

	steps := strings.ReplaceAll(resizeStepTemplate, sizePlaceholder, strconv.Itoa(sizeGiB))
	if err := d.AddSteps(steps); err != nil {
		return err
	}

	if g != nil {
		g.Grant(grant.ScopeAll, grant.ResizeStorageActions...)
	}
	return nil
}

// Steps returns a copy of mainSteps.
func (d *Document) Steps() []any {
	steps, _ := d.content[keyMainSteps].([]any)
	return slices.Clone(steps)
}

// Parameters returns a copy of the parameters section.
func (d *Document) Parameters() map[string]any {
	params, _ := d.content[keyParameters].(map[string]any)
	out := make(map[string]any, len(params))
	maps.Copy(out, params)
	return out
}

// Seal freezes the document. Every later mutation fails with ErrSealed.
func (d *Document) Seal() { d.sealed = true }

// Sealed reports whether the document has been sealed.
func (d *Document) Sealed() bool { return d.sealed }

// Marshal renders the content in the document's format.
func (d *Document) Marshal() (string, error) {
	var (
		out []byte
		err error
	)
	switch d.Format {
	case FormatJSON:
		out, err = json.Marshal(d.content)
	default:
		out, err = yaml.Marshal(d.content)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", errDocumentMarshal, err)
	}
	return string(out), nil
}

// parseFragment returns the root node of a single YAML document.
func parseFragment(fragment string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(fragment), &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFragment, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: empty fragment", ErrMalformedFragment)
	}
	return doc.Content[0], nil
}
