package template

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/deploymentobject"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
	"github.com/colliery-io/brokkr-sub000/pkg/stack"
)

// Service encapsulates template business logic for one tenant.
type Service struct {
	store  *Store
	dbtx   db.DBTX
	logger *slog.Logger
}

// NewService creates a template Service backed by a tenant-scoped connection.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), dbtx: dbtx, logger: logger}
}

// checksum returns the SHA-256 hex digest of a template's content and schema
// combined, so that any change to either invalidates the checksum.
func checksum(templateContent, parametersSchema string) string {
	sum := sha256.Sum256([]byte(templateContent + "\x00" + parametersSchema))
	return hex.EncodeToString(sum[:])
}

func (s *Service) toResponse(ctx context.Context, row Row) (Response, error) {
	resp := row.ToResponse()
	labels, err := s.store.ListLabels(ctx, row.ID)
	if err != nil {
		return Response{}, err
	}
	anns, err := s.store.ListAnnotations(ctx, row.ID)
	if err != nil {
		return Response{}, err
	}
	resp.Labels = labels
	resp.Annotations = anns
	return resp, nil
}

// Create validates the template body and parameter schema, then inserts the
// next version of (generator_id, name), per §4.4 steps 1-2.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	if err := ValidateSyntax(req.TemplateContent); err != nil {
		return Response{}, err
	}
	if _, err := ValidateSchema(req.ParametersSchema); err != nil {
		return Response{}, err
	}
	for _, l := range req.Labels {
		if err := labeling.ValidateLabel(l); err != nil {
			return Response{}, err
		}
	}
	for _, a := range req.Annotations {
		if err := labeling.ValidateAnnotation(a); err != nil {
			return Response{}, err
		}
	}

	version, err := s.store.NextVersion(ctx, req.GeneratorID, req.Name)
	if err != nil {
		return Response{}, err
	}
	sum := checksum(req.TemplateContent, req.ParametersSchema)

	row, err := s.store.Create(ctx, req.GeneratorID, req.Name, req.Description, req.TemplateContent, req.ParametersSchema, sum, version)
	if err != nil {
		return Response{}, fmt.Errorf("creating template: %w", err)
	}
	for _, l := range req.Labels {
		if err := s.store.AddLabel(ctx, row.ID, l); err != nil {
			return Response{}, err
		}
	}
	for _, a := range req.Annotations {
		if err := s.store.AddAnnotation(ctx, row.ID, a); err != nil {
			return Response{}, err
		}
	}
	return s.toResponse(ctx, row)
}

// Get returns a single template version.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// GetRow returns the raw row, used by callers that only need GeneratorID.
func (s *Service) GetRow(ctx context.Context, id uuid.UUID) (Row, error) {
	return s.store.Get(ctx, id)
}

// List returns the latest live version of every template, optionally scoped
// to one owning generator.
func (s *Service) List(ctx context.Context, generatorID *uuid.UUID) ([]Response, error) {
	var rows []Row
	var err error
	if generatorID != nil {
		rows, err = s.store.List(ctx, generatorID)
	} else {
		rows, err = s.store.ListAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for _, row := range rows {
		resp, err := s.toResponse(ctx, row)
		if err != nil {
			return nil, err
		}
		items = append(items, resp)
	}
	return items, nil
}

// Delete soft-deletes a template version.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, id)
}

func (s *Service) AddLabel(ctx context.Context, id uuid.UUID, label string) error {
	if err := labeling.ValidateLabel(label); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.AddLabel(ctx, id, label)
}

func (s *Service) AddAnnotation(ctx context.Context, id uuid.UUID, a labeling.Annotation) error {
	if err := labeling.ValidateAnnotation(a); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.AddAnnotation(ctx, id, a)
}

// Instantiate implements §4.4 steps 3-5: check the template is compatible
// with the target stack's tags, validate the supplied parameters against
// the template's schema, render the manifest, and insert it as a new
// deployment object in the stack.
func (s *Service) Instantiate(ctx context.Context, beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, stackSvc *stack.Service, doSvc *deploymentobject.Service, stackID uuid.UUID, req InstantiateRequest) (deploymentobject.Response, error) {
	tmpl, err := s.store.Get(ctx, req.TemplateID)
	if err != nil {
		return deploymentobject.Response{}, err
	}
	templateLabels, err := s.store.ListLabels(ctx, tmpl.ID)
	if err != nil {
		return deploymentobject.Response{}, err
	}
	templateAnns, err := s.store.ListAnnotations(ctx, tmpl.ID)
	if err != nil {
		return deploymentobject.Response{}, err
	}

	stackLabels, stackAnns, err := stackSvc.LabelsAndAnnotations(ctx, stackID)
	if err != nil {
		return deploymentobject.Response{}, err
	}

	compat := CheckCompatibility(templateLabels, templateAnns, stackLabels, stackAnns)
	if !compat.Compatible {
		return deploymentobject.Response{}, brokerr.New(brokerr.KindUnprocessable,
			"template is not compatible with the target stack's labels and annotations").
			WithDetails(map[string]any{
				"missing_labels":      compat.MissingLabels,
				"missing_annotations": compat.MissingAnnotations,
			})
	}

	if err := ValidateParameters(tmpl.ParametersSchema, req.Parameters); err != nil {
		return deploymentobject.Response{}, err
	}

	rendered, err := Render(ctx, tmpl.TemplateContent, req.Parameters)
	if err != nil {
		return deploymentobject.Response{}, err
	}

	return doSvc.CreateFromRendered(ctx, beginner, stackID, rendered)
}
