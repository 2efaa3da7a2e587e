package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the audit log API.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates an audit log Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Routes returns the /api/v1/audit-log router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	return r
}

// ListRow is one entry in the audit log listing response.
type ListRow struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	ActorKind  string     `json:"actor_kind"`
	Action     string     `json:"action"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	conn := tenant.ConnFromContext(r.Context())

	var total int
	if err := conn.QueryRow(r.Context(), `SELECT count(*) FROM audit_log`).Scan(&total); err != nil {
		h.logger.Error("counting audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to count audit log")
		return
	}

	rows, err := conn.Query(r.Context(), `
		SELECT id, actor_id, actor_kind, action, entity_type, entity_id, created_at
		FROM audit_log ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		params.PageSize, params.Offset)
	if err != nil {
		h.logger.Error("listing audit log", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}
	defer rows.Close()

	items := make([]ListRow, 0, params.PageSize)
	for rows.Next() {
		var row ListRow
		var actorID *uuid.UUID
		if err := rows.Scan(&row.ID, &actorID, &row.ActorKind, &row.Action, &row.EntityType, &row.EntityID, &row.CreatedAt); err != nil {
			h.logger.Error("scanning audit log row", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
			return
		}
		row.ActorID = actorID
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		h.logger.Error("iterating audit log rows", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, params, total))
}
