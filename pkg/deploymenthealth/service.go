package deploymenthealth

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

var validStatuses = map[string]bool{
	StatusHealthy:  true,
	StatusDegraded: true,
	StatusFailing:  true,
	StatusUnknown:  true,
}

// Service encapsulates deployment-health business logic for one tenant.
type Service struct {
	store  *Store
	logger *slog.Logger
}

// NewService creates a deploymenthealth Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), logger: logger}
}

// Response is the wire representation of a health snapshot.
type Response struct {
	AgentID            uuid.UUID       `json:"agent_id"`
	DeploymentObjectID uuid.UUID       `json:"deployment_object_id"`
	Status             string          `json:"status"`
	Summary            json.RawMessage `json:"summary,omitempty"`
	CheckedAt          time.Time       `json:"checked_at"`
}

func toResponse(row Row) Response {
	return Response{
		AgentID:            row.AgentID,
		DeploymentObjectID: row.DeploymentObjectID,
		Status:             row.Status,
		Summary:            row.Summary,
		CheckedAt:          row.CheckedAt,
	}
}

func toResponses(rows []Row) []Response {
	items := make([]Response, 0, len(rows))
	for _, row := range rows {
		items = append(items, toResponse(row))
	}
	return items
}

// ReportRequest is the JSON body an agent posts to report the health of a
// deployment object it runs.
type ReportRequest struct {
	DeploymentObjectID uuid.UUID       `json:"deployment_object_id" validate:"required"`
	Status             string          `json:"status" validate:"required"`
	Summary            json.RawMessage `json:"summary"`
}

// Report upserts the health snapshot an agent reports.
func (s *Service) Report(ctx context.Context, agentID uuid.UUID, req ReportRequest) (Response, error) {
	if !validStatuses[req.Status] {
		return Response{}, brokerr.Newf(brokerr.KindInvalid, "invalid status %q", req.Status)
	}
	summary := req.Summary
	if summary == nil {
		summary = json.RawMessage(`{}`)
	}

	row, err := s.store.Upsert(ctx, agentID, req.DeploymentObjectID, req.Status, summary)
	if err != nil {
		return Response{}, fmt.Errorf("reporting deployment health: %w", err)
	}
	return toResponse(row), nil
}

// Get returns a single (agent, deployment object) health snapshot.
func (s *Service) Get(ctx context.Context, agentID, deploymentObjectID uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, agentID, deploymentObjectID)
	if err != nil {
		return Response{}, err
	}
	return toResponse(row), nil
}

// ListByDeploymentObject returns every agent's health snapshot for a
// deployment object.
func (s *Service) ListByDeploymentObject(ctx context.Context, deploymentObjectID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListByDeploymentObject(ctx, deploymentObjectID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment health: %w", err)
	}
	return toResponses(rows), nil
}

// ListByAgent returns every deployment object health snapshot an agent has
// reported.
func (s *Service) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Response, error) {
	rows, err := s.store.ListByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment health: %w", err)
	}
	return toResponses(rows), nil
}
