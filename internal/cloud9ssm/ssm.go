package cloud9ssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/document"
	"github.com/chainguard-dev/terraform-provider-cloud9ssm/internal/reconcile"
)

var (
	errDocumentCreate    = errors.New("failed to create SSM document")
	errDocumentDelete    = errors.New("failed to delete SSM document")
	errAssociationCreate = errors.New("failed to create SSM association")
	errAssociationDelete = errors.New("failed to delete SSM association")
)

// ssmDocument registers the sealed document with SSM.
type ssmDocument struct {
	client SSMAPI
	state  *State
	doc    *document.Document
	tags   tags
}

var _ resource = (*ssmDocument)(nil)

func (d *ssmDocument) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx).With("document_name", d.doc.Name)

	content, err := d.doc.Marshal()
	if err != nil {
		return nil, err
	}

	log.Info("creating SSM document", "document_type", d.doc.Type, "document_format", d.doc.Format)
	if _, err := d.client.CreateDocument(ctx, &ssm.CreateDocumentInput{
		Name:           aws.String(d.doc.Name),
		Content:        aws.String(content),
		DocumentType:   ssmtypes.DocumentType(d.doc.Type),
		DocumentFormat: ssmtypes.DocumentFormat(d.doc.Format),
		Tags:           d.tags.ssm(),
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", errDocumentCreate, err)
	}
	d.state.DocumentName = d.doc.Name
	log.Info("created SSM document")

	return d.teardown(), nil
}

func (d *ssmDocument) teardown() Teardown {
	if d.state.DocumentName == "" {
		return nil
	}
	return func(ctx context.Context) error {
		name := d.state.DocumentName
		clog.FromContext(ctx).Info("deleting SSM document", "document_name", name)
		_, err := d.client.DeleteDocument(ctx, &ssm.DeleteDocumentInput{
			Name: aws.String(name),
		})
		if err := ignoreNotFound(err); err != nil {
			return fmt.Errorf("%w: %w", errDocumentDelete, err)
		}
		return nil
	}
}

// association applies the document to the instance Cloud9 tags with the
// environment id.
type association struct {
	client SSMAPI
	state  *State
	name   string
}

var _ resource = (*association)(nil)

// associationTargets selects the environment's instance by the tag Cloud9
// applies to it.
func associationTargets(environmentID string) []ssmtypes.Target {
	return []ssmtypes.Target{{
		Key:    aws.String("tag:" + reconcile.EnvironmentTagKey),
		Values: []string{environmentID},
	}}
}

func (a *association) create(ctx context.Context) (Teardown, error) {
	log := clog.FromContext(ctx).With("document_name", a.state.DocumentName, "environment_id", a.state.EnvironmentID)

	log.Info("creating SSM association")
	out, err := a.client.CreateAssociation(ctx, &ssm.CreateAssociationInput{
		Name:            aws.String(a.state.DocumentName),
		AssociationName: aws.String(a.name),
		Targets:         associationTargets(a.state.EnvironmentID),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errAssociationCreate, err)
	}
	if out.AssociationDescription == nil || out.AssociationDescription.AssociationId == nil {
		return nil, fmt.Errorf("%w: no association ID returned", errAssociationCreate)
	}
	a.state.AssociationID = *out.AssociationDescription.AssociationId
	log.Info("created SSM association", "association_id", a.state.AssociationID)

	return a.teardown(), nil
}

func (a *association) teardown() Teardown {
	if a.state.AssociationID == "" {
		return nil
	}
	return func(ctx context.Context) error {
		id := a.state.AssociationID
		clog.FromContext(ctx).Info("deleting SSM association", "association_id", id)
		_, err := a.client.DeleteAssociation(ctx, &ssm.DeleteAssociationInput{
			AssociationId: aws.String(id),
		})
		if err := ignoreNotFound(err); err != nil {
			return fmt.Errorf("%w: %w", errAssociationDelete, err)
		}
		return nil
	}
}
