package deploymentobject

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

// Store provides database operations for deployment objects, scoped to one
// tenant schema. It never exposes an UPDATE of yaml_content, yaml_checksum,
// stack_id, or sequence_id: those columns are write-once at insert, enforcing
// the §4.3 immutability invariant structurally rather than by runtime check.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a deployment-object Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const doColumns = `id, stack_id, yaml_content, yaml_checksum, sequence_id, is_deletion_marker, submitted_at, deleted_at`

// Row represents a row from the deployment_objects table.
type Row struct {
	ID               uuid.UUID
	StackID          uuid.UUID
	YAMLContent      string
	YAMLChecksum     string
	SequenceID       int64
	IsDeletionMarker bool
	SubmittedAt      time.Time
	DeletedAt        pgtype.Timestamptz
}

// ToResponse converts a Row to a Response DTO.
func (row *Row) ToResponse() Response {
	resp := Response{
		ID:               row.ID,
		StackID:          row.StackID,
		YAMLContent:      row.YAMLContent,
		YAMLChecksum:     row.YAMLChecksum,
		SequenceID:       row.SequenceID,
		IsDeletionMarker: row.IsDeletionMarker,
		SubmittedAt:      row.SubmittedAt,
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time
		resp.DeletedAt = &t
	}
	return resp
}

func scanRow(row pgx.Row) (Row, error) {
	var d Row
	err := row.Scan(&d.ID, &d.StackID, &d.YAMLContent, &d.YAMLChecksum, &d.SequenceID, &d.IsDeletionMarker, &d.SubmittedAt, &d.DeletedAt)
	return d, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var d Row
		if err := rows.Scan(&d.ID, &d.StackID, &d.YAMLContent, &d.YAMLChecksum, &d.SequenceID, &d.IsDeletionMarker, &d.SubmittedAt, &d.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning deployment object row: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deployment object rows: %w", err)
	}
	return items, nil
}

// Create inserts a new deployment object, locking the stack row for the
// duration of the transaction to keep sequence_id monotone per-stack even
// under concurrent inserts.
func Create(ctx context.Context, tx pgx.Tx, stackID uuid.UUID, yamlContent, checksum string, isDeletionMarker bool) (Row, error) {
	if _, err := tx.Exec(ctx, `SELECT id FROM stacks WHERE id = $1 FOR UPDATE`, stackID); err != nil {
		return Row{}, fmt.Errorf("locking stack for sequence assignment: %w", err)
	}

	query := `INSERT INTO deployment_objects (stack_id, yaml_content, yaml_checksum, sequence_id, is_deletion_marker)
	VALUES ($1, $2, $3, COALESCE((SELECT MAX(sequence_id) FROM deployment_objects WHERE stack_id = $1), 0) + 1, $4)
	RETURNING ` + doColumns
	row, err := scanRow(tx.QueryRow(ctx, query, stackID, yamlContent, checksum, isDeletionMarker))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Row{}, brokerr.New(brokerr.KindConflict, "a live deployment object with this checksum already exists in the stack")
		}
		return Row{}, fmt.Errorf("creating deployment object: %w", err)
	}
	return row, nil
}

// Get returns a single live deployment object.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + doColumns + ` FROM deployment_objects WHERE id = $1 AND deleted_at IS NULL`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "deployment object not found")
		}
		return Row{}, fmt.Errorf("getting deployment object: %w", err)
	}
	return row, nil
}

// ListLiveByStack returns every live deployment object for a stack, newest first.
func (s *Store) ListLiveByStack(ctx context.Context, stackID uuid.UUID) ([]Row, error) {
	query := `SELECT ` + doColumns + ` FROM deployment_objects WHERE stack_id = $1 AND deleted_at IS NULL ORDER BY sequence_id DESC`
	rows, err := s.dbtx.Query(ctx, query, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing deployment objects: %w", err)
	}
	return scanRows(rows)
}

// LatestByStacks returns the latest live deployment object per stack id
// (highest sequence_id), for full-mode routing.
func (s *Store) LatestByStacks(ctx context.Context, stackIDs []uuid.UUID) ([]Row, error) {
	if len(stackIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT ON (stack_id) ` + doColumns + `
	FROM deployment_objects
	WHERE stack_id = ANY($1) AND deleted_at IS NULL
	ORDER BY stack_id, sequence_id DESC`
	rows, err := s.dbtx.Query(ctx, query, stackIDs)
	if err != nil {
		return nil, fmt.Errorf("listing latest deployment objects: %w", err)
	}
	items, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	sortBySequenceDesc(items)
	return items, nil
}

// UnacknowledgedByStacks returns every live deployment object for the given
// stacks that the agent has not yet acknowledged via a successful
// DEPLOY/SUCCESS event, for incremental-mode routing.
func (s *Store) UnacknowledgedByStacks(ctx context.Context, stackIDs []uuid.UUID, agentID uuid.UUID) ([]Row, error) {
	if len(stackIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + doColumns + ` FROM deployment_objects d
	WHERE d.stack_id = ANY($1) AND d.deleted_at IS NULL
	AND NOT EXISTS (
		SELECT 1 FROM agent_deployment_acks a
		WHERE a.deployment_object_id = d.id AND a.agent_id = $2
	)
	ORDER BY d.sequence_id DESC`
	rows, err := s.dbtx.Query(ctx, query, stackIDs, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing unacknowledged deployment objects: %w", err)
	}
	return scanRows(rows)
}

// RecordAck records a successful DEPLOY/SUCCESS acknowledgment from an agent
// for a deployment object, idempotent.
func (s *Store) RecordAck(ctx context.Context, deploymentObjectID, agentID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO agent_deployment_acks (deployment_object_id, agent_id, acked_at)
	VALUES ($1, $2, now()) ON CONFLICT (deployment_object_id, agent_id) DO UPDATE SET acked_at = now()`, deploymentObjectID, agentID)
	if err != nil {
		return fmt.Errorf("recording deployment ack: %w", err)
	}
	return nil
}

// SoftDelete marks a deployment object as a logically removed; idempotent.
// This is the only mutation the store permits on an existing row besides
// is_deletion_marker, per the immutability invariant.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE deployment_objects SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting deployment object: %w", err)
	}
	return nil
}

func sortBySequenceDesc(items []Row) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].SequenceID > items[j-1].SequenceID; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
