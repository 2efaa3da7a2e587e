package deploymentobject

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"gopkg.in/yaml.v3"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/webhook"
)

// Service encapsulates deployment-object business logic for one tenant.
type Service struct {
	store  *Store
	dbtx   db.DBTX
	logger *slog.Logger
}

// NewService creates a deployment-object Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), dbtx: dbtx, logger: logger}
}

// Checksum returns the SHA-256 hex digest of manifest content.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// validateYAML confirms content parses as YAML, per the §3 invariant.
func validateYAML(content string) error {
	var v any
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return brokerr.Wrap(brokerr.KindInvalid, "yaml_content does not parse as YAML", err)
	}
	return nil
}

// Create inserts a new deployment object into a stack.
func (s *Service) Create(ctx context.Context, beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, stackID uuid.UUID, req CreateRequest) (Response, error) {
	if !req.IsDeletionMarker {
		if err := validateYAML(req.YAMLContent); err != nil {
			return Response{}, err
		}
	}
	checksum := Checksum(req.YAMLContent)

	var row Row
	err := db.WithTx(ctx, beginner, func(tx pgx.Tx) error {
		var err error
		row, err = Create(ctx, tx, stackID, req.YAMLContent, checksum, req.IsDeletionMarker)
		if err != nil {
			return err
		}
		return webhook.Emit(ctx, tx, "deploymentobject.created", row.ToResponse())
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating deployment object: %w", err)
	}
	return row.ToResponse(), nil
}

// CreateFromRendered inserts a deployment object whose content was produced
// by template instantiation (§4.4 step 5); the rendered content is still
// checked as YAML before it is inserted.
func (s *Service) CreateFromRendered(ctx context.Context, beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}, stackID uuid.UUID, renderedYAML string) (Response, error) {
	if err := validateYAML(renderedYAML); err != nil {
		return Response{}, err
	}
	checksum := Checksum(renderedYAML)

	var row Row
	err := db.WithTx(ctx, beginner, func(tx pgx.Tx) error {
		var err error
		row, err = Create(ctx, tx, stackID, renderedYAML, checksum, false)
		if err != nil {
			return err
		}
		return webhook.Emit(ctx, tx, "deploymentobject.created", row.ToResponse())
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating deployment object from template: %w", err)
	}
	return row.ToResponse(), nil
}

// Get returns a single deployment object.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return row.ToResponse(), nil
}

// Delete soft-deletes a deployment object.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, id)
}

// Acknowledge records a successful DEPLOY/SUCCESS event from an agent.
func (s *Service) Acknowledge(ctx context.Context, deploymentObjectID, agentID uuid.UUID) error {
	return s.store.RecordAck(ctx, deploymentObjectID, agentID)
}

// ApplicableSet computes the manifest set an agent must currently apply,
// per §4.3: full mode returns the latest live object per eligible stack,
// deduplicated by stack_id; incremental mode returns every live object the
// agent has not yet acknowledged. Both are sorted by descending sequence_id.
func (s *Service) ApplicableSet(ctx context.Context, eligibleStackIDs []uuid.UUID, agentID uuid.UUID, mode Mode) ([]Response, error) {
	var rows []Row
	var err error

	switch mode {
	case ModeIncremental:
		rows, err = s.store.UnacknowledgedByStacks(ctx, eligibleStackIDs, agentID)
	default:
		rows, err = s.store.LatestByStacks(ctx, eligibleStackIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("computing applicable deployment objects: %w", err)
	}

	items := make([]Response, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.ToResponse())
	}
	return items, nil
}

// ListByStack returns every live deployment object for a stack, newest first.
func (s *Service) ListByStack(ctx context.Context, stackID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListLiveByStack(ctx, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment objects: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.ToResponse())
	}
	return items, nil
}
