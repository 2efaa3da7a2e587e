package template

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

// Store provides database operations for stack templates, scoped to one
// tenant schema. A new revision inserts a new version row rather than
// updating in place; the only update to a stack_templates row is the soft
// delete that sets deleted_at.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a template Store backed by the given tenant-scoped connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const templateColumns = `id, generator_id, name, description, version, template_content, parameters_schema, checksum, created_at, deleted_at`

// Row represents a row from the stack_templates table.
type Row struct {
	ID               uuid.UUID
	GeneratorID      pgtype.UUID
	Name             string
	Description      string
	Version          int
	TemplateContent  string
	ParametersSchema string
	Checksum         string
	CreatedAt        time.Time
	DeletedAt        pgtype.Timestamptz
}

// ToResponse converts a Row to the minimal fields shared across responses;
// callers attach Labels/Annotations separately.
func (r Row) ToResponse() Response {
	resp := Response{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Version:          r.Version,
		TemplateContent:  r.TemplateContent,
		ParametersSchema: r.ParametersSchema,
		Checksum:         r.Checksum,
		CreatedAt:        r.CreatedAt,
	}
	if r.GeneratorID.Valid {
		id := uuid.UUID(r.GeneratorID.Bytes)
		resp.GeneratorID = &id
	}
	return resp
}

func scanRow(row pgx.Row) (Row, error) {
	var t Row
	err := row.Scan(&t.ID, &t.GeneratorID, &t.Name, &t.Description, &t.Version,
		&t.TemplateContent, &t.ParametersSchema, &t.Checksum, &t.CreatedAt, &t.DeletedAt)
	return t, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var t Row
		if err := rows.Scan(&t.ID, &t.GeneratorID, &t.Name, &t.Description, &t.Version,
			&t.TemplateContent, &t.ParametersSchema, &t.Checksum, &t.CreatedAt, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		items = append(items, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating template rows: %w", err)
	}
	return items, nil
}

func generatorParam(generatorID *uuid.UUID) pgtype.UUID {
	if generatorID == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgtype.UUID{Bytes: *generatorID, Valid: true}
}

// NextVersion returns the version number for a new revision of
// (generatorID, name): one more than the highest existing version, or 1 if
// none exists. generatorID uses IS NOT DISTINCT FROM so that two system
// templates (generator_id NULL) sharing a name are versioned together.
func (s *Store) NextVersion(ctx context.Context, generatorID *uuid.UUID, name string) (int, error) {
	var max int
	err := s.dbtx.QueryRow(ctx, `
	SELECT COALESCE(MAX(version), 0) FROM stack_templates
	WHERE generator_id IS NOT DISTINCT FROM $1 AND name = $2`,
		generatorParam(generatorID), name).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("computing next template version: %w", err)
	}
	return max + 1, nil
}

// Create inserts a new template version.
func (s *Store) Create(ctx context.Context, generatorID *uuid.UUID, name, description, templateContent, parametersSchema, checksum string, version int) (Row, error) {
	query := `INSERT INTO stack_templates
	(generator_id, name, description, version, template_content, parameters_schema, checksum)
	VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING ` + templateColumns
	return scanRow(s.dbtx.QueryRow(ctx, query, generatorParam(generatorID), name, description, version, templateContent, parametersSchema, checksum))
}

// Get returns a single live template version by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + templateColumns + ` FROM stack_templates WHERE id = $1 AND deleted_at IS NULL`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "template not found")
		}
		return Row{}, fmt.Errorf("getting template: %w", err)
	}
	return row, nil
}

// Latest returns the highest-versioned live row for (generatorID, name).
func (s *Store) Latest(ctx context.Context, generatorID *uuid.UUID, name string) (Row, error) {
	query := `SELECT ` + templateColumns + ` FROM stack_templates
	WHERE generator_id IS NOT DISTINCT FROM $1 AND name = $2 AND deleted_at IS NULL
	ORDER BY version DESC LIMIT 1`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, generatorParam(generatorID), name))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "template not found")
		}
		return Row{}, fmt.Errorf("getting latest template: %w", err)
	}
	return row, nil
}

// List returns the latest live version of every template, optionally scoped
// to one generator (pass nil to list only system templates with generatorID
// a non-nil zero UUID is not supported; use ListAll for every template
// regardless of owner).
func (s *Store) List(ctx context.Context, generatorID *uuid.UUID) ([]Row, error) {
	query := `SELECT DISTINCT ON (generator_id, name) ` + templateColumns + `
	FROM stack_templates
	WHERE deleted_at IS NULL AND generator_id IS NOT DISTINCT FROM $1
	ORDER BY generator_id, name, version DESC`
	rows, err := s.dbtx.Query(ctx, query, generatorParam(generatorID))
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return scanRows(rows)
}

// ListAll returns the latest live version of every template regardless of
// owning generator, used by Service.List when no generator filter is given.
func (s *Store) ListAll(ctx context.Context) ([]Row, error) {
	query := `SELECT DISTINCT ON (generator_id, name) ` + templateColumns + `
	FROM stack_templates
	WHERE deleted_at IS NULL
	ORDER BY generator_id, name, version DESC`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return scanRows(rows)
}

// SoftDelete marks the one template version id as deleted; other versions
// of the same (generator_id, name) stay live.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE stack_templates SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting template: %w", err)
	}
	return nil
}

// --- Labels ---

func (s *Store) AddLabel(ctx context.Context, templateID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO template_labels (template_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`, templateID, label)
	if err != nil {
		return fmt.Errorf("adding template label: %w", err)
	}
	return nil
}

func (s *Store) ListLabels(ctx context.Context, templateID uuid.UUID) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT label FROM template_labels WHERE template_id = $1 ORDER BY label`, templateID)
	if err != nil {
		return nil, fmt.Errorf("listing template labels: %w", err)
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scanning template label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// --- Annotations ---

func (s *Store) AddAnnotation(ctx context.Context, templateID uuid.UUID, a labeling.Annotation) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO template_annotations (template_id, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (template_id, key) DO UPDATE SET value = EXCLUDED.value`, templateID, a.Key, a.Value)
	if err != nil {
		return fmt.Errorf("adding template annotation: %w", err)
	}
	return nil
}

func (s *Store) ListAnnotations(ctx context.Context, templateID uuid.UUID) ([]labeling.Annotation, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT key, value FROM template_annotations WHERE template_id = $1 ORDER BY key`, templateID)
	if err != nil {
		return nil, fmt.Errorf("listing template annotations: %w", err)
	}
	defer rows.Close()
	var anns []labeling.Annotation
	for rows.Next() {
		var a labeling.Annotation
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning template annotation: %w", err)
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}
