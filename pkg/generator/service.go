package generator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/db"
)

// Service encapsulates generator business logic for one tenant.
type Service struct {
	store      *Store
	conn       *pgxpool.Conn
	tenantSlug string
	logger     *slog.Logger
}

// NewService creates a generator Service backed by a tenant-scoped connection.
func NewService(conn *pgxpool.Conn, tenantSlug string, logger *slog.Logger) *Service {
	return &Service{store: NewStore(conn), conn: conn, tenantSlug: tenantSlug, logger: logger}
}

// Create registers a new generator, issuing a one-time plaintext PAK.
func (s *Service) Create(ctx context.Context, req CreateRequest) (CreateResponse, error) {
	raw, hash, _ := auth.GeneratePAK()

	var row Row
	err := db.WithTx(ctx, s.conn, func(tx pgx.Tx) error {
		var err error
		row, err = CreateTx(ctx, tx, s.tenantSlug, CreateParams{
			Name:        req.Name,
			Description: req.Description,
			PAKHash:     hash,
		})
		return err
	})
	if err != nil {
		return CreateResponse{}, fmt.Errorf("creating generator: %w", err)
	}
	return CreateResponse{Response: row.ToResponse(), PAK: raw}, nil
}

// Get returns a single generator.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Response, error) {
	row, err := s.store.Get(ctx, id)
	if err != nil {
		return Response{}, err
	}
	return row.ToResponse(), nil
}

// List returns all live generators.
func (s *Service) List(ctx context.Context) ([]Response, error) {
	rows, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing generators: %w", err)
	}
	items := make([]Response, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].ToResponse())
	}
	return items, nil
}

// Update updates a generator's editable fields.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (Response, error) {
	row, err := s.store.Update(ctx, id, req.Name, req.Description)
	if err != nil {
		return Response{}, err
	}
	return row.ToResponse(), nil
}

// Delete soft-deletes a generator.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.SoftDelete(ctx, id)
}

// Exists confirms a generator is live, used by stack/template ownership checks.
func (s *Service) Exists(ctx context.Context, id uuid.UUID) error {
	_, err := s.store.Get(ctx, id)
	return err
}
