package diagnostic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

// DefaultRetention is used when a create request omits retention_minutes.
const DefaultRetention = 60 * time.Minute

// Service encapsulates diagnostic business logic for one tenant.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a diagnostic Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Response is the wire representation of a diagnostic.
type Response struct {
	ID                 uuid.UUID       `json:"id"`
	AgentID            uuid.UUID       `json:"agent_id"`
	DeploymentObjectID *uuid.UUID      `json:"deployment_object_id,omitempty"`
	DiagnosticType     string          `json:"diagnostic_type"`
	Status             string          `json:"status"`
	RequestDetail      json.RawMessage `json:"request_detail,omitempty"`
	ResultDetail       json.RawMessage `json:"result_detail,omitempty"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	ExpiresAt          time.Time       `json:"expires_at"`
	ClaimedAt          *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func toResponse(row Row) Response {
	resp := Response{
		ID:             row.ID,
		AgentID:        row.AgentID,
		DiagnosticType: row.DiagnosticType,
		Status:         row.Status,
		RequestDetail:  row.RequestDetail,
		ResultDetail:   row.ResultDetail,
		ExpiresAt:      row.ExpiresAt,
		CreatedAt:      row.CreatedAt,
	}
	if row.DeploymentObjectID.Valid {
		id := uuid.UUID(row.DeploymentObjectID.Bytes)
		resp.DeploymentObjectID = &id
	}
	if row.ErrorMessage.Valid {
		resp.ErrorMessage = &row.ErrorMessage.String
	}
	if row.ClaimedAt.Valid {
		t := row.ClaimedAt.Time
		resp.ClaimedAt = &t
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time
		resp.CompletedAt = &t
	}
	return resp
}

// CreateRequest is the JSON body for creating a diagnostic.
type CreateRequest struct {
	AgentID            uuid.UUID       `json:"agent_id" validate:"required"`
	DeploymentObjectID *uuid.UUID      `json:"deployment_object_id"`
	DiagnosticType     string          `json:"diagnostic_type" validate:"required"`
	RequestDetail      json.RawMessage `json:"request_detail"`
	RetentionMinutes   int             `json:"retention_minutes"`
}

// Create records a new pending diagnostic request for an agent. Only an
// admin may request one (enforced by the caller).
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	retention := DefaultRetention
	if req.RetentionMinutes > 0 {
		retention = time.Duration(req.RetentionMinutes) * time.Minute
	}
	detail := req.RequestDetail
	if detail == nil {
		detail = json.RawMessage(`{}`)
	}

	row, err := s.store.Create(ctx, req.AgentID, req.DeploymentObjectID, req.DiagnosticType, detail, retention)
	if err != nil {
		return Response{}, fmt.Errorf("creating diagnostic: %w", err)
	}
	return toResponse(row), nil
}

// Get returns a single diagnostic.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return toResponse(row), nil
}

// ListPendingForAgent returns every diagnostic awaiting claim by agentID.
func (s *Service) ListPendingForAgent(ctx context.Context, agentID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListPendingForAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing pending diagnostics: %w", err)
	}
	return toResponses(rows), nil
}

// ListByAgent returns every diagnostic ever requested for agentID.
func (s *Service) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing diagnostics: %w", err)
	}
	return toResponses(rows), nil
}

func toResponses(rows []Row) []Response {
	items := make([]Response, 0, len(rows))
	for _, row := range rows {
		items = append(items, toResponse(row))
	}
	return items
}

// Claim transitions a pending diagnostic to claimed by the requesting
// agent.
func (s *Service) Claim(ctx context.Context, id, agentID uuid.UUID) (Response, error) {
	row, err := s.store.Claim(ctx, id, agentID)
	if err != nil {
		return Response{}, err
	}
	return toResponse(row), nil
}

// SubmitRequest is the JSON body for submitting a diagnostic result.
type SubmitRequest struct {
	Success      bool            `json:"success"`
	ResultDetail json.RawMessage `json:"result_detail"`
	ErrorMessage string          `json:"error_message"`
}

// Submit records a diagnostic's result and transitions it to a terminal
// status. Only the agent that claimed it may submit (enforced by the
// caller and the store's conditional UPDATE).
func (s *Service) Submit(ctx context.Context, id, agentID uuid.UUID, req SubmitRequest) (Response, error) {
	var errMsg *string
	if req.ErrorMessage != "" {
		errMsg = &req.ErrorMessage
	}
	detail := req.ResultDetail
	if detail == nil {
		detail = json.RawMessage(`{}`)
	}

	row, err := s.store.Submit(ctx, id, agentID, req.Success, detail, errMsg)
	if err != nil {
		return Response{}, err
	}
	return toResponse(row), nil
}

// ExpirePending is the periodic sweep transitioning overdue pending or
// claimed diagnostics to expired (§4.6).
func (s *Service) ExpirePending(ctx context.Context) (int64, error) {
	return s.store.ExpirePending(ctx)
}

// RunCleanup is the periodic sweep deleting old terminal diagnostics.
func (s *Service) RunCleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.store.CleanupOlderThan(ctx, maxAge)
}

// ErrNotAssigned describes a caller who is neither admin nor the assigned
// agent trying to claim or submit a diagnostic. No function in this package
// returns it; the handlers reject such callers with 403 themselves.
var ErrNotAssigned = brokerr.New(brokerr.KindForbidden, "not authorized for this diagnostic")
