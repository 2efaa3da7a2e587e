// Package diagnostic implements the agent diagnostic RPC protocol: an
// admin asks an agent to run a diagnostic, the agent claims and submits a
// result, and stale requests expire on their own (§4.6).
package diagnostic

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusExpired   = "expired"
)

// Store provides database operations for diagnostics, scoped to one
// tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a diagnostic Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const diagnosticColumns = `id, agent_id, deployment_object_id, diagnostic_type, status,
	request_detail, result_detail, error_message, expires_at, claimed_at, completed_at, created_at`

// Row represents a row from the diagnostics table.
type Row struct {
	ID                 uuid.UUID
	AgentID            uuid.UUID
	DeploymentObjectID pgtype.UUID
	DiagnosticType     string
	Status             string
	RequestDetail      json.RawMessage
	ResultDetail       json.RawMessage
	ErrorMessage       pgtype.Text
	ExpiresAt          time.Time
	ClaimedAt          pgtype.Timestamptz
	CompletedAt        pgtype.Timestamptz
	CreatedAt          time.Time
}

func scanRow(row pgx.Row) (Row, error) {
	var r Row
	err := row.Scan(&r.ID, &r.AgentID, &r.DeploymentObjectID, &r.DiagnosticType, &r.Status,
		&r.RequestDetail, &r.ResultDetail, &r.ErrorMessage, &r.ExpiresAt, &r.ClaimedAt, &r.CompletedAt, &r.CreatedAt)
	return r, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.ID, &r.AgentID, &r.DeploymentObjectID, &r.DiagnosticType, &r.Status,
			&r.RequestDetail, &r.ResultDetail, &r.ErrorMessage, &r.ExpiresAt, &r.ClaimedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning diagnostic row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating diagnostic rows: %w", err)
	}
	return items, nil
}

// Create inserts a new pending diagnostic request naming the target agent
// and, optionally, the deployment object it concerns.
func (s *Store) Create(ctx context.Context, agentID uuid.UUID, deploymentObjectID *uuid.UUID, diagnosticType string, requestDetail json.RawMessage, retention time.Duration) (Row, error) {
	query := `INSERT INTO diagnostics (agent_id, deployment_object_id, diagnostic_type, request_detail, expires_at)
	VALUES ($1, $2, $3, $4, now() + $5) RETURNING ` + diagnosticColumns
	return scanRow(s.dbtx.QueryRow(ctx, query, agentID, deploymentObjectID, diagnosticType, requestDetail, retention))
}

// Get returns a single diagnostic by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + diagnosticColumns + ` FROM diagnostics WHERE id = $1`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "diagnostic not found")
		}
		return Row{}, fmt.Errorf("getting diagnostic: %w", err)
	}
	return row, nil
}

// ListPendingForAgent returns every pending diagnostic targeting agentID,
// oldest first, so an agent polling for work claims in order.
func (s *Store) ListPendingForAgent(ctx context.Context, agentID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + diagnosticColumns + ` FROM diagnostics
	WHERE agent_id = $1 AND status = '` + StatusPending + `' ORDER BY created_at`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing pending diagnostics: %w", err)
	}
	return scanRows(rows)
}

// ListByAgent returns every diagnostic for agentID regardless of status.
func (s *Store) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + diagnosticColumns + ` FROM diagnostics WHERE agent_id = $1 ORDER BY created_at DESC`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing diagnostics: %w", err)
	}
	return scanRows(rows)
}

// Claim atomically transitions a pending diagnostic to claimed. The
// conditional WHERE clause makes concurrent claims race-safe, mirroring
// work orders' claim pattern: exactly one caller's UPDATE matches, every
// other caller's affects zero rows and reports conflict (§4.6).
func (s *Store) Claim(ctx context.Context, id, agentID uuid.UUID) (Row, error) {
	query := `UPDATE diagnostics SET status = '` + StatusClaimed + `', claimed_at = now()
	WHERE id = $1 AND agent_id = $2 AND status = '` + StatusPending + `'
	RETURNING ` + diagnosticColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, agentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindConflict, "diagnostic is not pending for this agent")
		}
		return Row{}, fmt.Errorf("claiming diagnostic: %w", err)
	}
	return row, nil
}

// Submit atomically records a result and transitions a claimed diagnostic
// to its terminal status. Only a diagnostic claimed by agentID may be
// submitted against.
func (s *Store) Submit(ctx context.Context, id, agentID uuid.UUID, success bool, resultDetail json.RawMessage, errorMessage *string) (Row, error) {
	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	query := `UPDATE diagnostics SET status = $3, result_detail = $4, error_message = $5, completed_at = now()
	WHERE id = $1 AND agent_id = $2 AND status = '` + StatusClaimed + `'
	RETURNING ` + diagnosticColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, agentID, status, resultDetail, errorMessage))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindConflict, "diagnostic is not claimed by this agent")
		}
		return Row{}, fmt.Errorf("submitting diagnostic result: %w", err)
	}
	return row, nil
}

// ExpirePending transitions pending or claimed diagnostics whose
// expires_at has elapsed to expired, returning the count affected.
func (s *Store) ExpirePending(ctx context.Context) (int64, error) {
	tag, err := s.dbtx.Exec(ctx, `UPDATE diagnostics SET status = '`+StatusExpired+`', completed_at = now()
	WHERE status IN ('`+StatusPending+`', '`+StatusClaimed+`') AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("expiring diagnostics: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CleanupOlderThan deletes terminal diagnostics completed more than maxAge
// ago.
func (s *Store) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int64, error) {
	hours := int(maxAge.Hours())
	tag, err := s.dbtx.Exec(ctx, `DELETE FROM diagnostics
	WHERE status IN ('`+StatusCompleted+`', '`+StatusFailed+`', '`+StatusExpired+`')
	AND completed_at < now() - ($1 || ' hours')::interval`, hours)
	if err != nil {
		return 0, fmt.Errorf("cleaning up diagnostics: %w", err)
	}
	return tag.RowsAffected(), nil
}
