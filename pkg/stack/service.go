package stack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// Service encapsulates stack business logic for one tenant.
type Service struct {
	store  *Store
	dbtx   db.DBTX
	logger *slog.Logger
}

// NewService creates a stack Service backed by a tenant-scoped connection.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), dbtx: dbtx, logger: logger}
}

func (s *Service) toResponse(ctx context.Context, row Row) (Response, error) {
	labels, err := s.store.ListLabels(ctx, row.ID)
	if err != nil {
		return Response{}, err
	}
	anns, err := s.store.ListAnnotations(ctx, row.ID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		GeneratorID: row.GeneratorID,
		Labels:      labels,
		Annotations: anns,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}, nil
}

// Create inserts a new stack along with its initial labels and annotations.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
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

	row, err := s.store.Create(ctx, req.Name, req.Description, req.GeneratorID)
	if err != nil {
		return Response{}, fmt.Errorf("creating stack: %w", err)
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

// Get returns a single stack.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// GetRow returns the raw row, used by components (templates, deployment
// objects) that need GeneratorID without paying for label/annotation fetches.
func (s *Service) GetRow(ctx context.Context, id uuid.UUID) (Row, error) {
	return s.store.Get(ctx, id)
}

// List returns all live stacks, optionally scoped to one generator.
func (s *Service) List(ctx context.Context, generatorID *uuid.UUID) ([]Response, error) {
	rows, err := s.store.List(ctx, generatorID)
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
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

// Update updates a stack's editable fields.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Response, error) {
	row, err := s.store.Update(ctx, id, req.Name, req.Description)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// Delete soft-deletes a stack, excluding it from routing.
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

func (s *Service) RemoveLabel(ctx context.Context, id uuid.UUID, label string) error {
	return s.store.RemoveLabel(ctx, id, label)
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

func (s *Service) RemoveAnnotation(ctx context.Context, id uuid.UUID, key string) error {
	return s.store.RemoveAnnotation(ctx, id, key)
}

// EligibleStacksForAgent returns every live stack the given agent may target,
// per the §4.3 applicable-set rule (explicit target, shared label, or
// shared annotation).
func (s *Service) EligibleStacksForAgent(ctx context.Context, agentID uuid.UUID) ([]Row, error) {
	return s.store.AgentEligibleStacks(ctx, agentID)
}

// LabelsAndAnnotations returns the raw tag sets for a stack, used by the
// template-compatibility check (§4.4).
func (s *Service) LabelsAndAnnotations(ctx context.Context, id uuid.UUID) ([]string, []labeling.Annotation, error) {
	labels, err := s.store.ListLabels(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	anns, err := s.store.ListAnnotations(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return labels, anns, nil
}
