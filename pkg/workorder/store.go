package workorder

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

// Store provides database operations for work orders, scoped to one tenant schema.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a work order Store.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const workOrderColumns = `id, work_type, yaml_content, status, claimed_by, claimed_at,
	claim_timeout_seconds, max_retries, retry_count, backoff_seconds,
	next_retry_after, last_error, last_error_at, created_at, updated_at`

// Row represents a row from the work_orders table.
type Row struct {
	ID                  uuid.UUID
	WorkType            string
	YAMLContent         string
	Status              string
	ClaimedBy           pgtype.UUID
	ClaimedAt           pgtype.Timestamptz
	ClaimTimeoutSeconds int
	MaxRetries          int
	RetryCount          int
	BackoffSeconds      int
	NextRetryAfter      pgtype.Timestamptz
	LastError           pgtype.Text
	LastErrorAt         pgtype.Timestamptz
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ToResponse converts a Row to the response shape; callers attach
// Labels/Annotations separately.
func (row Row) ToResponse() Response {
	resp := Response{
		ID:                  row.ID,
		WorkType:            row.WorkType,
		YAMLContent:         row.YAMLContent,
		Status:              row.Status,
		ClaimTimeoutSeconds: row.ClaimTimeoutSeconds,
		MaxRetries:          row.MaxRetries,
		RetryCount:          row.RetryCount,
		BackoffSeconds:      row.BackoffSeconds,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
	if row.ClaimedBy.Valid {
		id := uuid.UUID(row.ClaimedBy.Bytes)
		resp.ClaimedBy = &id
	}
	if row.ClaimedAt.Valid {
		t := row.ClaimedAt.Time
		resp.ClaimedAt = &t
	}
	if row.NextRetryAfter.Valid {
		t := row.NextRetryAfter.Time
		resp.NextRetryAfter = &t
	}
	if row.LastError.Valid {
		resp.LastError = &row.LastError.String
	}
	if row.LastErrorAt.Valid {
		t := row.LastErrorAt.Time
		resp.LastErrorAt = &t
	}
	return resp
}

func scanRow(row pgx.Row) (Row, error) {
	var w Row
	err := row.Scan(&w.ID, &w.WorkType, &w.YAMLContent, &w.Status, &w.ClaimedBy, &w.ClaimedAt,
		&w.ClaimTimeoutSeconds, &w.MaxRetries, &w.RetryCount, &w.BackoffSeconds,
		&w.NextRetryAfter, &w.LastError, &w.LastErrorAt, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func scanRows(rows pgx.Rows) ([]Row, error) {
	defer rows.Close()
	var items []Row
	for rows.Next() {
		w, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning work order row: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating work order rows: %w", err)
	}
	return items, nil
}

// CreateParams holds parameters for inserting a new work order.
type CreateParams struct {
	WorkType            string
	YAMLContent         string
	MaxRetries          int
	BackoffSeconds      int
	ClaimTimeoutSeconds int
}

// Create inserts a new PENDING work order.
func (s *Store) Create(ctx context.Context, p CreateParams) (Row, error) {
	query := `INSERT INTO work_orders
	(work_type, yaml_content, status, max_retries, backoff_seconds, claim_timeout_seconds)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + workOrderColumns
	return scanRow(s.dbtx.QueryRow(ctx, query, p.WorkType, p.YAMLContent, StatusPending,
		p.MaxRetries, p.BackoffSeconds, p.ClaimTimeoutSeconds))
}

// Get returns a single queued work order.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Row, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1`
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "work order not found")
		}
		return Row{}, fmt.Errorf("getting work order: %w", err)
	}
	return row, nil
}

// List returns every queued work order, oldest first.
func (s *Store) List(ctx context.Context) ([]Row, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+workOrderColumns+` FROM work_orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing work orders: %w", err)
	}
	return scanRows(rows)
}

// Delete removes a queued work order outright (no log entry), used for
// administrative cancellation rather than a completion path.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := s.dbtx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting work order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return brokerr.New(brokerr.KindNotFound, "work order not found")
	}
	return nil
}

// ListPendingForAgent returns every PENDING work order the agent may claim:
// explicitly targeted, OR sharing a label, OR sharing an annotation.
func (s *Store) ListPendingForAgent(ctx context.Context, agentID uuid.UUID, workType string) ([]Row, error) {
	query := `
	SELECT DISTINCT ` + prefixed("w") + ` FROM work_orders w
	WHERE w.status = '` + StatusPending + `' AND ($2 = '' OR w.work_type = $2) AND (
		EXISTS (SELECT 1 FROM work_order_targets t WHERE t.work_order_id = w.id AND t.agent_id = $1)
		OR EXISTS (
			SELECT 1 FROM work_order_labels wl
			JOIN agent_labels al ON al.label = wl.label
			WHERE wl.work_order_id = w.id AND al.agent_id = $1
		)
		OR EXISTS (
			SELECT 1 FROM work_order_annotations wa
			JOIN agent_annotations aa ON aa.key = wa.key AND aa.value = wa.value
			WHERE wa.work_order_id = w.id AND aa.agent_id = $1
		)
	)
	ORDER BY w.created_at`
	rows, err := s.dbtx.Query(ctx, query, agentID, workType)
	if err != nil {
		return nil, fmt.Errorf("listing pending work orders for agent: %w", err)
	}
	return scanRows(rows)
}

// IsAgentEligible reports whether agentID may claim workOrderID via any
// targeting mechanism, used to gate Claim with a clear error before the
// atomic update is attempted.
func (s *Store) IsAgentEligible(ctx context.Context, workOrderID, agentID uuid.UUID) (bool, error) {
	var eligible bool
	err := s.dbtx.QueryRow(ctx, `
	SELECT
		EXISTS (SELECT 1 FROM work_order_targets WHERE work_order_id = $1 AND agent_id = $2)
		OR EXISTS (
			SELECT 1 FROM work_order_labels wl
			JOIN agent_labels al ON al.label = wl.label
			WHERE wl.work_order_id = $1 AND al.agent_id = $2
		)
		OR EXISTS (
			SELECT 1 FROM work_order_annotations wa
			JOIN agent_annotations aa ON aa.key = wa.key AND aa.value = wa.value
			WHERE wa.work_order_id = $1 AND aa.agent_id = $2
		)`, workOrderID, agentID).Scan(&eligible)
	if err != nil {
		return false, fmt.Errorf("checking work order eligibility: %w", err)
	}
	return eligible, nil
}

// Claim atomically transitions a PENDING work order to CLAIMED. The
// conditional WHERE clause is what makes concurrent claims race-safe:
// exactly one caller's UPDATE matches a row and returns it; every other
// caller's UPDATE affects zero rows and reports not-found (§8.2).
func (s *Store) Claim(ctx context.Context, id, agentID uuid.UUID) (Row, error) {
	query := `UPDATE work_orders SET status = '` + StatusClaimed + `', claimed_by = $2, claimed_at = now(), updated_at = now()
	WHERE id = $1 AND status = '` + StatusPending + `'
	RETURNING ` + workOrderColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, agentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindNotFound, "work order not found or already claimed")
		}
		return Row{}, fmt.Errorf("claiming work order: %w", err)
	}
	return row, nil
}

// Release returns a claimed work order to PENDING; only the claiming agent
// (or admin, enforced by the caller) may release it.
func (s *Store) Release(ctx context.Context, id, agentID uuid.UUID) (Row, error) {
	query := `UPDATE work_orders SET status = '` + StatusPending + `', claimed_by = NULL, claimed_at = NULL, updated_at = now()
	WHERE id = $1 AND status = '` + StatusClaimed + `' AND claimed_by = $2
	RETURNING ` + workOrderColumns
	row, err := scanRow(s.dbtx.QueryRow(ctx, query, id, agentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return Row{}, brokerr.New(brokerr.KindConflict, "work order is not claimed by this agent")
		}
		return Row{}, fmt.Errorf("releasing work order: %w", err)
	}
	return row, nil
}

const logColumns = `id, work_type, created_at, claimed_at, completed_at, claimed_by, success, retries_attempted, result_message, yaml_content`

// LogRow represents a row from the work_order_log table.
type LogRow struct {
	ID               uuid.UUID
	WorkType         string
	CreatedAt        time.Time
	ClaimedAt        pgtype.Timestamptz
	CompletedAt      time.Time
	ClaimedBy        pgtype.UUID
	Success          bool
	RetriesAttempted int
	ResultMessage    pgtype.Text
	YAMLContent      string
}

// ToResponse converts a LogRow to its response shape.
func (row LogRow) ToResponse() LogResponse {
	resp := LogResponse{
		ID:               row.ID,
		WorkType:         row.WorkType,
		CreatedAt:        row.CreatedAt,
		CompletedAt:      row.CompletedAt,
		Success:          row.Success,
		RetriesAttempted: row.RetriesAttempted,
		YAMLContent:      row.YAMLContent,
	}
	if row.ClaimedAt.Valid {
		t := row.ClaimedAt.Time
		resp.ClaimedAt = &t
	}
	if row.ClaimedBy.Valid {
		id := uuid.UUID(row.ClaimedBy.Bytes)
		resp.ClaimedBy = &id
	}
	if row.ResultMessage.Valid {
		resp.ResultMessage = &row.ResultMessage.String
	}
	return resp
}

func scanLogRow(row pgx.Row) (LogRow, error) {
	var l LogRow
	err := row.Scan(&l.ID, &l.WorkType, &l.CreatedAt, &l.ClaimedAt, &l.CompletedAt, &l.ClaimedBy,
		&l.Success, &l.RetriesAttempted, &l.ResultMessage, &l.YAMLContent)
	return l, err
}

// CompleteSuccess archives a work order as a success and removes it from
// the active queue, inside an externally managed transaction.
func CompleteSuccess(ctx context.Context, tx pgx.Tx, workOrderID uuid.UUID, resultMessage *string) (LogRow, error) {
	wo, err := scanRow(tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, workOrderID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return LogRow{}, brokerr.New(brokerr.KindNotFound, "work order not found")
		}
		return LogRow{}, fmt.Errorf("loading work order: %w", err)
	}

	query := `INSERT INTO work_order_log
	(id, work_type, created_at, claimed_at, completed_at, claimed_by, success, retries_attempted, result_message, yaml_content)
	VALUES ($1, $2, $3, $4, now(), $5, true, $6, $7, $8)
	RETURNING ` + logColumns
	logRow, err := scanLogRow(tx.QueryRow(ctx, query, wo.ID, wo.WorkType, wo.CreatedAt, wo.ClaimedAt, wo.ClaimedBy, wo.RetryCount, resultMessage, wo.YAMLContent))
	if err != nil {
		return LogRow{}, fmt.Errorf("archiving work order log: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, workOrderID); err != nil {
		return LogRow{}, fmt.Errorf("removing completed work order: %w", err)
	}
	return logRow, nil
}

// CompleteFailureOutcome reports what CompleteFailure did.
type CompleteFailureOutcome struct {
	Archived bool // true if the work order was moved to the log (terminal)
	Log      LogRow
}

// CompleteFailure either schedules a retry with exponential backoff or, if
// the failure is non-retryable or retries are exhausted, archives the work
// order as a failure, inside an externally managed transaction (§4.2, §8.3).
func CompleteFailure(ctx context.Context, tx pgx.Tx, workOrderID uuid.UUID, errorMessage string, retryable bool) (CompleteFailureOutcome, error) {
	wo, err := scanRow(tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, workOrderID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return CompleteFailureOutcome{}, brokerr.New(brokerr.KindNotFound, "work order not found")
		}
		return CompleteFailureOutcome{}, fmt.Errorf("loading work order: %w", err)
	}

	newRetryCount := wo.RetryCount + 1

	if !retryable || newRetryCount > wo.MaxRetries {
		query := `INSERT INTO work_order_log
		(id, work_type, created_at, claimed_at, completed_at, claimed_by, success, retries_attempted, result_message, yaml_content)
		VALUES ($1, $2, $3, $4, now(), $5, false, $6, $7, $8)
		RETURNING ` + logColumns
		logRow, err := scanLogRow(tx.QueryRow(ctx, query, wo.ID, wo.WorkType, wo.CreatedAt, wo.ClaimedAt, wo.ClaimedBy, wo.RetryCount, errorMessage, wo.YAMLContent))
		if err != nil {
			return CompleteFailureOutcome{}, fmt.Errorf("archiving failed work order: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, workOrderID); err != nil {
			return CompleteFailureOutcome{}, fmt.Errorf("removing failed work order: %w", err)
		}
		return CompleteFailureOutcome{Archived: true, Log: logRow}, nil
	}

	nextRetry := BackoffDuration(wo.BackoffSeconds, newRetryCount)
	_, err = tx.Exec(ctx, `UPDATE work_orders SET
		status = '`+StatusRetryPending+`', retry_count = $2, next_retry_after = now() + $3::interval,
		claimed_by = NULL, claimed_at = NULL, last_error = $4, last_error_at = now(), updated_at = now()
		WHERE id = $1`,
		workOrderID, newRetryCount, fmt.Sprintf("%d seconds", int64(nextRetry.Seconds())), errorMessage)
	if err != nil {
		return CompleteFailureOutcome{}, fmt.Errorf("scheduling work order retry: %w", err)
	}
	return CompleteFailureOutcome{Archived: false}, nil
}

// ProcessRetryPending resets RETRY_PENDING work orders whose backoff has
// elapsed back to PENDING, using the database's own clock.
func (s *Store) ProcessRetryPending(ctx context.Context) (int64, error) {
	ct, err := s.dbtx.Exec(ctx, `UPDATE work_orders SET status = '`+StatusPending+`', next_retry_after = NULL, updated_at = now()
	WHERE status = '`+StatusRetryPending+`' AND next_retry_after <= now()`)
	if err != nil {
		return 0, fmt.Errorf("processing retry-pending work orders: %w", err)
	}
	return ct.RowsAffected(), nil
}

// ProcessStaleClaims resets CLAIMED work orders whose claim has outlived
// claim_timeout_seconds back to PENDING, using the database's own clock.
func (s *Store) ProcessStaleClaims(ctx context.Context) (int64, error) {
	ct, err := s.dbtx.Exec(ctx, `UPDATE work_orders SET status = '`+StatusPending+`', claimed_by = NULL, claimed_at = NULL, updated_at = now()
	WHERE status = '`+StatusClaimed+`' AND claimed_at + (claim_timeout_seconds || ' seconds')::interval < now()`)
	if err != nil {
		return 0, fmt.Errorf("processing stale claims: %w", err)
	}
	return ct.RowsAffected(), nil
}

// --- Targets ---

func (s *Store) AddTarget(ctx context.Context, workOrderID, agentID uuid.UUID) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO work_order_targets (work_order_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, workOrderID, agentID)
	if err != nil {
		return fmt.Errorf("adding work order target: %w", err)
	}
	return nil
}

func (s *Store) ListTargets(ctx context.Context, workOrderID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT agent_id FROM work_order_targets WHERE work_order_id = $1`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("listing work order targets: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning work order target: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Labels ---

func (s *Store) AddLabel(ctx context.Context, workOrderID uuid.UUID, label string) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO work_order_labels (work_order_id, label) VALUES ($1, $2) ON CONFLICT DO NOTHING`, workOrderID, label)
	if err != nil {
		return fmt.Errorf("adding work order label: %w", err)
	}
	return nil
}

func (s *Store) ListLabels(ctx context.Context, workOrderID uuid.UUID) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT label FROM work_order_labels WHERE work_order_id = $1 ORDER BY label`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("listing work order labels: %w", err)
	}
	defer rows.Close()
	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("scanning work order label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// --- Annotations ---

func (s *Store) AddAnnotation(ctx context.Context, workOrderID uuid.UUID, a labeling.Annotation) error {
	_, err := s.dbtx.Exec(ctx, `INSERT INTO work_order_annotations (work_order_id, key, value) VALUES ($1, $2, $3)
	ON CONFLICT (work_order_id, key) DO UPDATE SET value = EXCLUDED.value`, workOrderID, a.Key, a.Value)
	if err != nil {
		return fmt.Errorf("adding work order annotation: %w", err)
	}
	return nil
}

func (s *Store) ListAnnotations(ctx context.Context, workOrderID uuid.UUID) ([]labeling.Annotation, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT key, value FROM work_order_annotations WHERE work_order_id = $1 ORDER BY key`, workOrderID)
	if err != nil {
		return nil, fmt.Errorf("listing work order annotations: %w", err)
	}
	defer rows.Close()
	var anns []labeling.Annotation
	for rows.Next() {
		var a labeling.Annotation
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, fmt.Errorf("scanning work order annotation: %w", err)
		}
		anns = append(anns, a)
	}
	return anns, rows.Err()
}

func prefixed(alias string) string {
	return fmt.Sprintf(`%s.id, %s.work_type, %s.yaml_content, %s.status, %s.claimed_by, %s.claimed_at,
	%s.claim_timeout_seconds, %s.max_retries, %s.retry_count, %s.backoff_seconds,
	%s.next_retry_after, %s.last_error, %s.last_error_at, %s.created_at, %s.updated_at`,
		alias, alias, alias, alias, alias, alias, alias, alias, alias, alias, alias, alias, alias, alias, alias)
}
