package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
)

// Store provides database operations for agents, scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates an agent Store backed by the given tenant-scoped connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const agentColumns = `id, name, cluster_name, status, last_heartbeat, pak_hash, created_at, updated_at, deleted_at`

// Row represents a row from the agents table.
type Row struct {
	ID            uuid.UUID
	Name          string
	ClusterName   string
	Status        string
	LastHeartbeat pgtype.Timestamptz
	PAKHash       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     pgtype.Timestamptz
}

func scanRow(row pgx.Row) (Row, error) {
	var a Row
	err := row.Scan(&a.ID, &a.Name, &a.ClusterName, &a.Status, &a.LastHeartbeat, &a.PAKHash, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return a, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var a Row
		if err := rows.Scan(&a.ID, &a.Name, &a.ClusterName, &a.Status, &a.LastHeartbeat, &a.PAKHash, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return items, nil
}

// CreateParams holds parameters for inserting a new agent.
type CreateParams struct {
	Name        string
	ClusterName string
	PAKHash     string
}

// CreateTx inserts the agent row and its global PAK credential inside an
// already-open transaction. The caller (Service) owns the transaction
// boundary so the agent row and its credential commit or roll back together.
func CreateTx(ctx context.Context, tx pgx.Tx, tenantSlug string, p CreateParams) (Row, error) {
	query := `INSERT INTO agents (name, cluster_name, status, pak_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + agentColumns
	row, err := scanRow(tx.QueryRow(ctx, query, p.Name, p.ClusterName, StatusInactive, p.PAKHash))
	if err != nil {
		return Row{}, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO public.pak_credentials (key_hash, kind, principal_id, tenant_slug)
	VALUES ($1, 'agent', $2, $3)`, p.PAKHash, row.ID, tenantSlug)
	if err != nil {
		return Row{}, fmt.Errorf("recording pak credential: %w", err)
	}

	return row, nil
}

// Get returns a single live agent by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1 AND deleted_at IS NULL`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "agent not found")
		}
		return Row{}, fmt.Errorf("getting agent: %w", err)
	}
	return row, nil
}

// List returns all live agents ordered by name.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE deleted_at IS NULL ORDER BY name`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	return scanRows(rows)
}

// UpdateHeartbeat sets last_heartbeat to now and optionally updates status.
func (s *Store) UpdateHeartbeat(ctx context.Context, id uuid.UUID, status string) (Row, error) {
	query := `UPDATE agents SET last_heartbeat = now(), updated_at = now(), status = COALESCE(NULLIF($2, ''), status)
	WHERE id = $1 AND deleted_at IS NULL
	RETURNING ` + agentColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, status))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "agent not found")
		}
		return Row{}, fmt.Errorf("updating heartbeat: %w", err)
	}
	return row, nil
}

// SoftDelete marks an agent as deleted; idempotent.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE agents SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting agent: %w", err)
	}
	return nil
}

// --- Labels ---

// AddLabel attaches a label to an agent; idempotent on (agent_id, label).
func (s *Store) AddLabel(ctx context.Context, agentID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO agent_labels (agent_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`, agentID, label)
	if err != nil {
		return fmt.Errorf("adding agent label: %w", err)
	}
	return nil
}

// RemoveLabel detaches a label from an agent.
func (s *Store) RemoveLabel(ctx context.Context, agentID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM agent_labels WHERE agent_id = $1 AND label = $2`, agentID, label)
	if err != nil {
		return fmt.Errorf("removing agent label: %w", err)
	}
	return nil
}

// ListLabels returns every label attached to an agent.
func (s *Store) ListLabels(ctx context.Context, agentID uuid.UUID) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT label FROM agent_labels WHERE agent_id = $1 ORDER BY label`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing agent labels: %w", err)
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scanning agent label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// --- Annotations ---

// AddAnnotation attaches an annotation to an agent, upserting the value.
func (s *Store) AddAnnotation(ctx context.Context, agentID uuid.UUID, a labeling.Annotation) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO agent_annotations (agent_id, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (agent_id, key) DO UPDATE SET value = EXCLUDED.value`, agentID, a.Key, a.Value)
	if err != nil {
		return fmt.Errorf("adding agent annotation: %w", err)
	}
	return nil
}

// RemoveAnnotation detaches an annotation from an agent by key.
func (s *Store) RemoveAnnotation(ctx context.Context, agentID uuid.UUID, key string) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM agent_annotations WHERE agent_id = $1 AND key = $2`, agentID, key)
	if err != nil {
		return fmt.Errorf("removing agent annotation: %w", err)
	}
	return nil
}

// ListAnnotations returns every annotation attached to an agent.
func (s *Store) ListAnnotations(ctx context.Context, agentID uuid.UUID) ([]labeling.Annotation, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT key, value FROM agent_annotations WHERE agent_id = $1 ORDER BY key`, agentID)
	if err != nil {
		return nil, fmt.Errorf("listing agent annotations: %w", err)
	}
	defer rows.Close()
	var anns []labeling.Annotation
	for rows.Next() {
		var a labeling.Annotation
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning agent annotation: %w", err)
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

// --- Targets ---

// AddTarget records an explicit (agent, stack) routing edge.
func (s *Store) AddTarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO agent_targets (agent_id, stack_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, agentID, stackID)
	if err != nil {
		return fmt.Errorf("adding agent target: %w", err)
	}
	return nil
}

// RemoveTarget removes an explicit (agent, stack) routing edge.
func (s *Store) RemoveTarget(ctx context.Context, agentID, stackID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM agent_targets WHERE agent_id = $1 AND stack_id = $2`, agentID, stackID)
	if err != nil {
		return fmt.Errorf("removing agent target: %w", err)
	}
	return nil
}

// HasTarget reports whether an explicit (agent, stack) edge exists.
func (s *Store) HasTarget(ctx context.Context, agentID, stackID uuid.UUID) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM agent_targets WHERE agent_id = $1 AND stack_id = $2)`, agentID, stackID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking agent target: %w", err)
	}
	return exists, nil
}

// FilterMode selects AND/OR semantics for label and annotation filters (§4.1).
type FilterMode string

const (
	FilterModeAnd FilterMode = "AND"
	FilterModeOr  FilterMode = "OR"
)

// FilterByLabels returns live agents matching the given labels under AND/OR
// semantics: AND requires every label present, OR requires any.
func (s *Store) FilterByLabels(ctx context.Context, labels []string, mode FilterMode) ([]Row, error) {
	if len(labels) == 0 {
		return s.List(ctx)
	}

	var query string
	if mode == FilterModeAnd {
		query = `SELECT ` + agentColumns + ` FROM agents a
		WHERE a.deleted_at IS NULL
		AND (SELECT COUNT(DISTINCT label) FROM agent_labels WHERE agent_id = a.id AND label = ANY($1)) = $2
		ORDER BY a.name`
		rows, err := s.dbtx.Query(ctx, query, labels, len(labels))
		if err != nil {
			return nil, fmt.Errorf("filtering agents by labels (AND): %w", err)
		}
		return scanRows(rows)
	}

	query = `SELECT DISTINCT ` + prefixColumns("a", agentColumns) + ` FROM agents a
	JOIN agent_labels l ON l.agent_id = a.id
	WHERE a.deleted_at IS NULL AND l.label = ANY($1)
	ORDER BY a.name`
	rows, err := s.dbtx.Query(ctx, query, labels)
	if err != nil {
		return nil, fmt.Errorf("filtering agents by labels (OR): %w", err)
	}
	return scanRows(rows)
}

func prefixColumns(alias, _ string) string {
	return fmt.Sprintf("%s.id, %s.name, %s.cluster_name, %s.status, %s.last_heartbeat, %s.pak_hash, %s.created_at, %s.updated_at, %s.deleted_at",
		alias, alias, alias, alias, alias, alias, alias, alias, alias)
}
