package stack

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the stacks API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a stack Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns a chi.Router with all stack routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/labels", h.handleAddLabel)
		r.Delete("/labels/{label}", h.handleRemoveLabel)
		r.Post("/annotations", h.handleAddAnnotation)
	})
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

// ownerOrAdmin authorizes mutation of a generator-owned resource: only
// admin or the owning generator may act.
func ownerOrAdmin(r *http.Request, ownerGeneratorID uuid.UUID) bool {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		return false
	}
	return identity.Kind == auth.KindAdmin || (identity.Kind == auth.KindGenerator && identity.PrincipalID == ownerGeneratorID)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil || !(identity.Kind == auth.KindAdmin || (identity.Kind == auth.KindGenerator && identity.PrincipalID == req.GeneratorID)) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized to create stacks for this generator")
		return
	}

	svc := h.service(r)
	resp, err := svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating stack", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "create", "stack", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var generatorID *uuid.UUID
	if v := r.URL.Query().Get("generator_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid generator_id")
			return
		}
		generatorID = &id
	}

	svc := h.service(r)
	items, err := svc.List(r.Context(), generatorID)
	if err != nil {
		h.logger.Error("listing stacks", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"stacks": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
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
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	svc := h.service(r)
	existing, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if !ownerOrAdmin(r, existing.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	var req UpdateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := svc.Update(r.Context(), id, req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name})
		h.audit.LogFromRequest(r, "update", "stack", resp.ID, detail)
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	svc := h.service(r)
	existing, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if !ownerOrAdmin(r, existing.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "stack", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	var req struct {
		Label string `json:"label" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	existing, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if !ownerOrAdmin(r, existing.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	if err := svc.AddLabel(r.Context(), id, req.Label); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleRemoveLabel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	svc := h.service(r)
	existing, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if !ownerOrAdmin(r, existing.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	if err := svc.RemoveLabel(r.Context(), id, chi.URLParam(r, "label")); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	var req labeling.Annotation
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	existing, err := svc.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if !ownerOrAdmin(r, existing.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	if err := svc.AddAnnotation(r.Context(), id, req); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
