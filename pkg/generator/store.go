package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

// Store provides database operations for generators, scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a generator Store backed by the given tenant-scoped connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const generatorColumns = `id, name, description, pak_hash, created_at, updated_at, deleted_at`

// Row represents a row from the generators table.
type Row struct {
	ID          uuid.UUID
	Name        string
	Description string
	PAKHash     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   pgtype.Timestamptz
}

// ToResponse converts a Row to a Response DTO.
func (row *Row) ToResponse() Response {
	return Response{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func scanRow(row pgx.Row) (Row, error) {
	var g Row
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.PAKHash, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt)
	return g, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		var g Row
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.PAKHash, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning generator row: %w", err)
		}
		items = append(items, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating generator rows: %w", err)
	}
	return items, nil
}

// CreateParams holds parameters for inserting a new generator.
type CreateParams struct {
	Name        string
	Description string
	PAKHash     string
}

// CreateTx inserts the generator row and its global PAK credential inside an
// already-open transaction.
func CreateTx(ctx context.Context, tx pgx.Tx, tenantSlug string, p CreateParams) (Row, error) {
	query := `INSERT INTO generators (name, description, pak_hash)
	VALUES ($1, $2, $3)
	RETURNING ` + generatorColumns
	row, err := scanRow(tx.QueryRow(ctx, query, p.Name, p.Description, p.PAKHash))
	if err != nil {
		return Row{}, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO public.pak_credentials (key_hash, kind, principal_id, tenant_slug)
	VALUES ($1, 'generator', $2, $3)`, p.PAKHash, row.ID, tenantSlug)
	if err != nil {
		return Row{}, fmt.Errorf("recording pak credential: %w", err)
	}
	return row, nil
}

// Get returns a single live generator by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + generatorColumns + ` FROM generators WHERE id = $1 AND deleted_at IS NULL`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "generator not found")
		}
		return Row{}, fmt.Errorf("getting generator: %w", err)
	}
	return row, nil
}

// List returns all live generators ordered by name.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	query := `SELECT ` + generatorColumns + ` FROM generators WHERE deleted_at IS NULL ORDER BY name`
	rows, err := s.dbtx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing generators: %w", err)
	}
	return scanRows(rows)
}

// Update updates a generator's editable fields.
func (s *Store) Update(ctx context.Context, id uuid.UUID, name, description string) (Row, error) {
	query := `UPDATE generators SET name = $2, description = $3, updated_at = now()
	WHERE id = $1 AND deleted_at IS NULL
	RETURNING ` + generatorColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, name, description))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "generator not found")
		}
		return Row{}, fmt.Errorf("updating generator: %w", err)
	}
	return row, nil
}

// SoftDelete marks a generator as deleted; idempotent.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE generators SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft-deleting generator: %w", err)
	}
	return nil
}
