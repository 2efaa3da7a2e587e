package workorder

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
	"github.com/colliery-io/brokkr-sub000/pkg/webhook"
)

// beginner is the narrow transaction-starting interface every tenant
// connection satisfies.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service encapsulates work-order business logic for one tenant.
type Service struct {
	store  *Store
	dbtx   db.DBTX
	logger *slog.Logger
}

// NewService creates a work-order Service.
func NewService(dbtx db.DBTX, logger *slog.Logger) *Service {
	return &Service{store: NewStore(dbtx), dbtx: dbtx, logger: logger}
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

// Create inserts a new PENDING work order with its targets, labels and
// annotations.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Response, error) {
	maxRetries := DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	backoffSeconds := DefaultBackoffSeconds
	if req.BackoffSeconds != nil {
		backoffSeconds = *req.BackoffSeconds
	}
	claimTimeout := DefaultClaimTimeoutSeconds
	if req.ClaimTimeoutSeconds != nil {
		claimTimeout = *req.ClaimTimeoutSeconds
	}
	if maxRetries < 0 || backoffSeconds < 0 || claimTimeout <= 0 {
		return Response{}, brokerr.New(brokerr.KindInvalid, "max_retries and backoff_seconds must be non-negative and claim_timeout_seconds positive")
	}

	row, err := s.store.Create(ctx, CreateParams{
		WorkType:            req.WorkType,
		YAMLContent:         req.YAMLContent,
		MaxRetries:          maxRetries,
		BackoffSeconds:      backoffSeconds,
		ClaimTimeoutSeconds: claimTimeout,
	})
	if err != nil {
		return Response{}, fmt.Errorf("creating work order: %w", err)
	}

	for _, agentID := range req.TargetAgentIDs {
		if err := s.store.AddTarget(ctx, row.ID, agentID); err != nil {
			return Response{}, err
		}
	}
	for _, label := range req.Labels {
		if err := labeling.ValidateLabel(label); err != nil {
			return Response{}, err
		}
		if err := s.store.AddLabel(ctx, row.ID, label); err != nil {
			return Response{}, err
		}
	}
	for _, ann := range req.Annotations {
		if err := labeling.ValidateAnnotation(ann); err != nil {
			return Response{}, err
		}
		if err := s.store.AddAnnotation(ctx, row.ID, ann); err != nil {
			return Response{}, err
		}
	}

	return s.toResponse(ctx, row)
}

// Get returns a single queued work order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// List returns every queued work order.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, err
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

// Delete cancels a queued work order without archiving it.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

// ListClaimable returns every PENDING work order an agent is eligible to
// claim, optionally filtered by work type.
func (s *Service) ListClaimable(ctx context.Context, agentID uuid.UUID, workType string) ([]Response, error) {
	rows, err := s.store.ListPendingForAgent(ctx, agentID, workType)
	if err != nil {
		return nil, err
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

// Claim atomically assigns a PENDING work order to an agent, rejecting the
// attempt with NotFound if the agent is not eligible or the work order has
// already been claimed (§8.2 — claims are conditional updates, so exactly
// one concurrent caller wins the row).
func (s *Service) Claim(ctx context.Context, workOrderID, agentID uuid.UUID) (Response, error) {
	eligible, err := s.store.IsAgentEligible(ctx, workOrderID, agentID)
	if err != nil {
		return Response{}, err
	}
	if !eligible {
		return Response{}, brokerr.New(brokerr.KindNotFound, "work order not found")
	}

	row, err := s.store.Claim(ctx, workOrderID, agentID)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// Release returns a claimed work order to PENDING.
func (s *Service) Release(ctx context.Context, workOrderID, agentID uuid.UUID) (Response, error) {
	row, err := s.store.Release(ctx, workOrderID, agentID)
	if err != nil {
		return Response{}, err
	}
	return s.toResponse(ctx, row)
}

// CompleteSuccess archives a work order as a success and removes it from
// the active queue.
func (s *Service) CompleteSuccess(ctx context.Context, b beginner, workOrderID uuid.UUID, req CompleteSuccessRequest) (LogResponse, error) {
	var resultMessage *string
	if req.ResultMessage != "" {
		resultMessage = &req.ResultMessage
	}

	var logRow LogRow
	err := db.WithTx(ctx, b, func(tx pgx.Tx) error {
		var err error
		logRow, err = CompleteSuccess(ctx, tx, workOrderID, resultMessage)
		if err != nil {
			return err
		}
		return webhook.Emit(ctx, tx, "workorder.completed", logRow.ToResponse())
	})
	if err != nil {
		return LogResponse{}, fmt.Errorf("completing work order: %w", err)
	}
	return logRow.ToResponse(), nil
}

// CompleteFailureResult reports whether the work order was archived
// (terminal) or rescheduled for retry.
type CompleteFailureResult struct {
	Terminal bool
	Log      *LogResponse
}

// CompleteFailure records a failed attempt, either scheduling a retry with
// exponential backoff or archiving the work order as terminally failed
// (§4.2, §8.3).
func (s *Service) CompleteFailure(ctx context.Context, b beginner, workOrderID uuid.UUID, req CompleteFailureRequest) (CompleteFailureResult, error) {
	var outcome CompleteFailureOutcome
	err := db.WithTx(ctx, b, func(tx pgx.Tx) error {
		var err error
		outcome, err = CompleteFailure(ctx, tx, workOrderID, req.ErrorMessage, req.Retryable)
		if err != nil || !outcome.Archived {
			return err
		}
		return webhook.Emit(ctx, tx, "workorder.failed", outcome.Log.ToResponse())
	})
	if err != nil {
		return CompleteFailureResult{}, fmt.Errorf("recording work order failure: %w", err)
	}
	if !outcome.Archived {
		return CompleteFailureResult{Terminal: false}, nil
	}
	logResp := outcome.Log.ToResponse()
	return CompleteFailureResult{Terminal: true, Log: &logResp}, nil
}

// AddLabel attaches a label to a work order.
func (s *Service) AddLabel(ctx context.Context, workOrderID uuid.UUID, label string) error {
	if err := labeling.ValidateLabel(label); err != nil {
		return err
	}
	return s.store.AddLabel(ctx, workOrderID, label)
}

// AddAnnotation attaches an annotation to a work order.
func (s *Service) AddAnnotation(ctx context.Context, workOrderID uuid.UUID, a labeling.Annotation) error {
	if err := labeling.ValidateAnnotation(a); err != nil {
		return err
	}
	return s.store.AddAnnotation(ctx, workOrderID, a)
}

// ProcessRetryPending resets work orders whose backoff has elapsed back to
// PENDING; invoked periodically from internal/maintenance.
func (s *Service) ProcessRetryPending(ctx context.Context) (int64, error) {
	return s.store.ProcessRetryPending(ctx)
}

// ProcessStaleClaims reclaims work orders whose claim outlived its timeout;
// invoked periodically from internal/maintenance.
func (s *Service) ProcessStaleClaims(ctx context.Context) (int64, error) {
	return s.store.ProcessStaleClaims(ctx)
}
