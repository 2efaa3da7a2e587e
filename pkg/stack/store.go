package stack

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

// Store provides database operations for stacks, scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a stack Store backed by the given tenant-scoped connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const stackColumns = `id, name, description, generator_id, created_at, updated_at, deleted_at`

// Row represents a row from the stacks table.
type Row struct {
	ID          uuid.UUID
	Name        string
	Description string
	GeneratorID uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   pgtype.Timestamptz
}

func scanRow(row pgx.Row) (Row, error) {
	var s Row
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.GeneratorID, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt)
	return s, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var s Row
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.GeneratorID, &s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning stack row: %w", err)
		}
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stack rows: %w", err)
	}
	return items, nil
}

// Create inserts a new stack.
func (s *Store) Create(ctx context.Context, name, description string, generatorID uuid.UUID) (Row, error) {
	query := `INSERT INTO stacks (name, description, generator_id) VALUES ($1, $2, $3) RETURNING ` + stackColumns
	return scanRow(s.dbtx.QueryRow(ctx, query, name, description, generatorID))
}

// Get returns a single live stack by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + stackColumns + ` FROM stacks WHERE id = $1 AND deleted_at IS NULL`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "stack not found")
		}
		return Row{}, fmt.Errorf("getting stack: %w", err)
	}
	return row, nil
}

// List returns all live stacks ordered by name, optionally scoped to a generator.
func (s *Store) List(ctx context.Context, generatorID *uuid.UUID) ([]Row, error) {
	var rows pgx.Rows
	var err error
	if generatorID != nil {
		rows, err = s.dbtx.Query(ctx, `SELECT `+stackColumns+` FROM stacks WHERE deleted_at IS NULL AND generator_id = $1 ORDER BY name`, *generatorID)
	} else {
		rows, err = s.dbtx.Query(ctx, `SELECT `+stackColumns+` FROM stacks WHERE deleted_at IS NULL ORDER BY name`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing stacks: %w", err)
	}
	return scanRows(rows)
}

// Update updates a stack's editable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, name, description string) (Row, error) {
	query := `UPDATE stacks SET name = $2, description = $3, updated_at = now()
	WHERE id = $1 AND deleted_at IS NULL RETURNING ` + stackColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, name, description))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "stack not found")
		}
		return Row{}, fmt.Errorf("updating stack: %w", err)
	}
	return row, nil
}

// SoftDelete marks a stack as deleted; idempotent.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE stacks SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting stack: %w", err)
	}
	return nil
}

// --- Labels ---

func (s *Store) AddLabel(ctx context.Context, stackID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO stack_labels (stack_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`, stackID, label)
	if err != nil {
		return fmt.Errorf("adding stack label: %w", err)
	}
	return nil
}

func (s *Store) RemoveLabel(ctx context.Context, stackID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM stack_labels WHERE stack_id = $1 AND label = $2`, stackID, label)
	if err != nil {
		return fmt.Errorf("removing stack label: %w", err)
	}
	return nil
}

func (s *Store) ListLabels(ctx context.Context, stackID uuid.UUID) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT label FROM stack_labels WHERE stack_id = $1 ORDER BY label`, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing stack labels: %w", err)
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scanning stack label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// --- Annotations ---

func (s *Store) AddAnnotation(ctx context.Context, stackID uuid.UUID, a labeling.Annotation) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO stack_annotations (stack_id, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (stack_id, key) DO UPDATE SET value = EXCLUDED.value`, stackID, a.Key, a.Value)
	if err != nil {
		return fmt.Errorf("adding stack annotation: %w", err)
	}
	return nil
}

func (s *Store) RemoveAnnotation(ctx context.Context, stackID uuid.UUID, key string) error {
	_, err := s.dbtx.Exec(ctx, `DELETE FROM stack_annotations WHERE stack_id = $1 AND key = $2`, stackID, key)
	if err != nil {
		return fmt.Errorf("removing stack annotation: %w", err)
	}
	return nil
}

func (s *Store) ListAnnotations(ctx context.Context, stackID uuid.UUID) ([]labeling.Annotation, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT key, value FROM stack_annotations WHERE stack_id = $1 ORDER BY key`, stackID)
	if err != nil {
		return nil, fmt.Errorf("listing stack annotations: %w", err)
	}
	defer rows.Close()
	var anns []labeling.Annotation
	for rows.Next() {
		var a labeling.Annotation
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning stack annotation: %w", err)
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

// AgentEligibleStacks returns every live stack an agent may target: via
// explicit (agent, stack) target, shared label, or shared annotation
// (key and value). Grounds the §4.3 applicable-set computation.
func (s *Store) AgentEligibleStacks(ctx context.Context, agentID uuid.UUID) ([]Row, error) {
	query := `
	SELECT DISTINCT ` + prefixed("s") + ` FROM stacks s
	WHERE s.deleted_at IS NULL AND (
		EXISTS (SELECT 1 FROM agent_targets t WHERE t.agent_id = $1 AND t.stack_id = s.id)
		OR EXISTS (
			SELECT 1 FROM stack_labels sl
			JOIN agent_labels al ON al.label = sl.label
			WHERE sl.stack_id = s.id AND al.agent_id = $1
		)
		OR EXISTS (
			SELECT 1 FROM stack_annotations sa
			JOIN agent_annotations aa ON aa.key = sa.key AND aa.value = sa.value
			WHERE sa.stack_id = s.id AND aa.agent_id = $1
		)
	)
	ORDER BY s.name`
	rows, err := s.dbtx.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("computing agent-eligible stacks: %w", err)
	}
	return scanRows(rows)
}

func prefixed(alias string) string {
	return fmt.Sprintf("%s.id, %s.name, %s.description, %s.generator_id, %s.created_at, %s.updated_at, %s.deleted_at",
		alias, alias, alias, alias, alias, alias, alias)
}
