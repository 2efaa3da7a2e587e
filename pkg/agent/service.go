package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// Service encapsulates agent business logic for one tenant.
type Service struct {
	store      *Store
	conn       *pgxpool.Conn
	tenantSlug string
	logger     *slog.Logger
}

// NewService creates an agent Service backed by a tenant-scoped connection.
// conn is also used to open the transaction that pairs an agent row with its
// global PAK credential on creation.
func NewService(conn *pgxpool.Conn, tenantSlug string, logger *slog.Logger) *Service {
	return &Service{
		store:      NewStore(conn),
		conn:       conn,
		tenantSlug: tenantSlug,
		logger:     logger,
	}
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

	resp := Response{
		ID:          row.ID,
		Name:        row.Name,
		ClusterName: row.ClusterName,
		Status:      row.Status,
		Labels:      labels,
		Annotations: anns,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.LastHeartbeat.Valid {
		t := row.LastHeartbeat.Time
		resp.LastHeartbeat = &t
	}
	return resp, nil
}

// Create registers a new agent, issuing a one-time plaintext PAK.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	for _, l := range req.Labels {
		if err := labeling.ValidateLabel(l); err != nil {
			return CreateResponse{}, err
		}
	}
	for _, a := range req.Annotations {
		if err := labeling.ValidateAnnotation(a); err != nil {
			return CreateResponse{}, err
		}
	}

	raw, hash, _ := auth.GeneratePAK()

	var row Row
	err := db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		var err error
		row, err = CreateTx(ctx, tx, s.tenantSlug, CreateParams{
			Name:        req.Name,
			ClusterName: req.ClusterName,
			PAKHash:     hash,
		})
		if err != nil {
			return err
		}
		store := NewStore(tx)
		for _, l := range req.Labels {
			if err := store.AddLabel(ctx, row.ID, l); err != nil {
				return err
			}
		}
		for _, a := range req.Annotations {
			if err := store.AddAnnotation(ctx, row.ID, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating agent: %w", err)
	}

	resp, err := s.toResponse(ctx, row)
	if err != nil {
		return CreateResponse{}, err
	}
	return CreateResponse{Response: resp, PAK: raw}, nil
}

// Get returns a single agent.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// List returns all live agents, optionally filtered by label.
func (s *Service) List(ctx context.Context, labels []string, mode FilterMode) ([]Response, error) {
	var rows []Row
	var err error
	if len(labels) > 0 {
		rows, err = s.store.FilterByLabels(ctx, labels, mode)
	} else {
		rows, err = s.store.List(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
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

// Heartbeat updates last_heartbeat and optionally status for the agent
// identified by id.
func (s *Service) Heartbeat(ctx context.Context, id uuid.UUID, status string) (Response, error) {
	row, err := s.store.UpdateHeartbeat(ctx, id, status)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// Delete soft-deletes an agent, excluding it from routing.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, id)
}

// AddLabel attaches a validated label to an agent.
func (s *Service) AddLabel(ctx context.Context, id uuid.UUID, label string) error {
	if err := labeling.ValidateLabel(label); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.AddLabel(ctx, id, label)
}

// RemoveLabel detaches a label from an agent.
func (s *Service) RemoveLabel(ctx context.Context, id uuid.UUID, label string) error {
	return s.store.RemoveLabel(ctx, id, label)
}

// AddAnnotation attaches a validated annotation to an agent.
func (s *Service) AddAnnotation(ctx context.Context, id uuid.UUID, a labeling.Annotation) error {
	if err := labeling.ValidateAnnotation(a); err != nil {
		return err
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return err
	}
	return s.store.AddAnnotation(ctx, id, a)
}

// RemoveAnnotation detaches an annotation from an agent.
func (s *Service) RemoveAnnotation(ctx context.Context, id uuid.UUID, key string) error {
	return s.store.RemoveAnnotation(ctx, id, key)
}

// AddTarget records an explicit (agent, stack) routing edge, after
// confirming the agent is live.
func (s *Service) AddTarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	if _, err := s.store.Get(ctx, agentID); err != nil {
		return err
	}
	return s.store.AddTarget(ctx, agentID, stackID)
}

// RemoveTarget removes an explicit (agent, stack) routing edge.
func (s *Service) RemoveTarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	return s.store.RemoveTarget(ctx, agentID, stackID)
}

// Eligible reports whether agent A is eligible to claim or receive work
// destined for an entity, given whether the entity explicitly targets A
// (explicitlyTargeted) and the entity's labels and annotations, per the
// OR-matching rule shared by
// the work-order scheduler and the deployment-object router.
func (s *Service) Eligible(ctx context.Context, agentID uuid.UUID, explicitlyTargeted bool, entityLabels []string, entityAnnotations []labeling.Annotation) (bool, error) {
	if explicitlyTargeted {
		return true, nil
	}
	agentLabels, err := s.store.ListLabels(ctx, agentID)
	if err != nil {
		return false, err
	}
	if labeling.AnyLabelMatches(entityLabels, agentLabels) {
		return true, nil
	}
	agentAnns, err := s.store.ListAnnotations(ctx, agentID)
	if err != nil {
		return false, err
	}
	return labeling.AnyAnnotationMatches(entityAnnotations, agentAnns), nil
}

// Touch is a convenience used by callers that only need to confirm an agent
// exists and is live (e.g. authorization checks) without fetching its tags.
func (s *Service) Touch(ctx context.Context, id uuid.UUID) error {
	_, err := s.store.Get(ctx, id)
	return err
}
