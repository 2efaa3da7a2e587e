// Package deploymenthealth tracks the latest health snapshot an agent has
// reported for a deployment object it is running: healthy, degraded,
// failing, or unknown, upserted on (agent_id, deployment_object_id).
package deploymenthealth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusFailing  = "failing"
	StatusUnknown  = "unknown"
)

// Store provides database operations for deployment health snapshots,
// scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a deploymenthealth Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const healthColumns = `agent_id, deployment_object_id, status, summary, checked_at`

// Row represents a row from the deployment_health table.
type Row struct {
	AgentID            uuid.UUID
	DeploymentObjectID uuid.UUID
	Status             string
	Summary            json.RawMessage
	CheckedAt          time.Time
}

func scanRow(row pgx.Row) (Row, error) {
	var h Row
	err := row.Scan(&h.AgentID, &h.DeploymentObjectID, &h.Status, &h.Summary, &h.CheckedAt)
	return h, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var h Row
		if err := rows.Scan(&h.AgentID, &h.DeploymentObjectID, &h.Status, &h.Summary, &h.CheckedAt); err != nil {
			return nil, fmt.Errorf("scanning deployment health row: %w", err)
		}
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment health rows: %w", err)
	}
	return items, nil
}

// Upsert records the latest health snapshot an agent reports for a
// deployment object, replacing any prior snapshot for the same pair.
func (s *Store) Upsert(ctx context.Context, agentID, deploymentObjectID uuid.UUID, status string, summary json.RawMessage) (Row, error) {
	query := `INSERT INTO deployment_health (agent_id, deployment_object_id, status, summary, checked_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (agent_id, deployment_object_id)
	DO UPDATE SET status = $3, summary = $4, checked_at = now()
	RETURNING ` + healthColumns
	return scanRow(s.dbtx.QueryRow(ctx, query, agentID, deploymentObjectID, status, summary))
}

// Get returns the health snapshot for one (agent, deployment object) pair.
func (s *Store) Get(ctx context.Context, agentID, deploymentObjectID uuid.UUID) (Row, error) {
	query := `SELECT ` + healthColumns + ` FROM deployment_health WHERE agent_id = $1 AND deployment_object_id = $2`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, agentID, deploymentObjectID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "no health snapshot for this agent and deployment object")
		}
		return Row{}, fmt.Errorf("getting deployment health: %w", err)
	}
	return row, nil
}

// ListByDeploymentObject returns every agent's health snapshot for a
// deployment object, most recently checked first.
func (s *Store) ListByDeploymentObject(ctx context.Context, deploymentObjectID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + healthColumns + ` FROM deployment_health WHERE deployment_object_id = $1 ORDER BY checked_at DESC`
	rows, err := s.dbtx.Query(ctx, query, deploymentObjectID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment health by object: %w", err)
	}
	return scanRows(rows)
}

// ListByAgent returns every deployment object's latest health snapshot as
// reported by one agent, most recently checked first.
func (s *Store) ListByAgent(ctx context.Context, agentID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + healthColumns + ` FROM deployment_health WHERE agent_id = $1 ORDER BY checked_at DESC`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment health by agent: %w", err)
	}
	return scanRows(rows)
}
