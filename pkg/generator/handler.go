package generator

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the generators API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a generator Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns a chi.Router with all generator routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	t := tenant.FromContext(r.Context())
	return NewService(conn, t.Slug, h.logger)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin authorization required")
		return false
	}
	return true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	resp, err := svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating generator", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "create", "generator", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc := h.service(r)
	items, err := svc.List(r.Context())
	if err != nil {
		h.logger.Error("listing generators", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"generators": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid generator ID")
		return
	}

	svc := h.service(r)
	resp, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid generator ID")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	resp, err := svc.Update(r.Context(), id, req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "update", "generator", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid generator ID")
		return
	}

	svc := h.service(r)
	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "generator", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
