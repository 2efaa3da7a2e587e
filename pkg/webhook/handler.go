package webhook

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/internal/sealedbytes"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the webhook subscriptions API.
// Subscription management is admin-only; there is no agent-facing surface
// here since deliveries are pushed out, never pulled.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
	sealer *sealedbytes.Sealer
}

// NewHandler creates a webhook Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer, sealer *sealedbytes.Sealer) *Handler {
	return &Handler{logger: logger, audit: audit, sealer: sealer}
}

// Routes returns a chi.Router with all webhook subscription routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleSetEnabled)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.sealer, h.logger)
}

func requireAdmin(r *http.Request) bool {
	identity := auth.FromContext(r.Context())
	return identity != nil && identity.Kind == auth.KindAdmin
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(r) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin required")
		return
	}

	var req CreateSubscriptionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.service(r).CreateSubscription(r.Context(), req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "webhook_subscription.create", "webhook_subscription", sub.ID, nil)
	}
	httpserver.Respond(w, http.StatusCreated, sub)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(r) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin required")
		return
	}

	subs, err := h.service(r).List(r.Context())
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, subs)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(r) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid subscription ID")
		return
	}

	sub, err := h.service(r).Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, sub)
}

// SetEnabledRequest is the JSON body for PATCH /webhooks/{id}.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(r) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid subscription ID")
		return
	}

	var req SetEnabledRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "enabled is required")
		return
	}

	if err := h.service(r).SetEnabled(r.Context(), id, *req.Enabled); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "webhook_subscription.set_enabled", "webhook_subscription", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(r) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin required")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid subscription ID")
		return
	}

	if err := h.service(r).Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "webhook_subscription.delete", "webhook_subscription", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
