package template

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/deploymentobject"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
	"github.com/colliery-io/brokkr-sub000/pkg/stack"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the templates API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a template Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns the /api/v1/templates router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
		r.Post("/labels", h.handleAddLabel)
		r.Post("/annotations", h.handleAddAnnotation)
	})
	return r
}

// InstantiateHandler serves POST /api/v1/stacks/{id}/instantiate-template,
// mounted by internal/app's mountRoutes since it is keyed by stack id.
func (h *Handler) InstantiateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stackID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
			return
		}

		conn := tenant.ConnFromContext(r.Context())
		stackSvc := stack.NewService(conn, h.logger)
		stackRow, err := stackSvc.GetRow(r.Context(), stackID)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		if !ownerOrAdmin(r, &stackRow.GeneratorID) {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
			return
		}

		var req InstantiateRequest
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}

		svc := h.service(r)
		doSvc := deploymentobject.NewService(conn, h.logger)
		resp, err := svc.Instantiate(r.Context(), conn, stackSvc, doSvc, stackID, req)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}

		if h.audit != nil {
			detail, _ := json.Marshal(map[string]string{"template_id": req.TemplateID.String(), "stack_id": stackID.String()})
			h.audit.LogFromRequest(r, "instantiate", "deployment_object", resp.ID, detail)
		}
		httpserver.Respond(w, http.StatusCreated, resp)
	}
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

// ownerOrAdmin authorizes mutation of a template: admin may always act; a
// generator may act on its own templates (ownerGeneratorID non-nil and
// matching) but never on system templates (ownerGeneratorID nil).
func ownerOrAdmin(r *http.Request, ownerGeneratorID *uuid.UUID) bool {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		return false
	}
	if identity.Kind == auth.KindAdmin {
		return true
	}
	return ownerGeneratorID != nil && identity.Kind == auth.KindGenerator && identity.PrincipalID == *ownerGeneratorID
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if !ownerOrAdmin(r, req.GeneratorID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized to create this template")
		return
	}

	svc := h.service(r)
	resp, err := svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating template", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]any{"name": resp.Name, "version": resp.Version})
		h.audit.LogFromRequest(r, "create", "template", resp.ID, detail)
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
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"templates": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
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

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	svc := h.service(r)
	existing, err := svc.GetRow(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	var ownerID *uuid.UUID
	if existing.GeneratorID.Valid {
		id := uuid.UUID(existing.GeneratorID.Bytes)
		ownerID = &id
	}
	if !ownerOrAdmin(r, ownerID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this template")
		return
	}

	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "template", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	var req struct {
		Label string `json:"label" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	existing, err := svc.GetRow(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	var ownerID *uuid.UUID
	if existing.GeneratorID.Valid {
		gid := uuid.UUID(existing.GeneratorID.Bytes)
		ownerID = &gid
	}
	if !ownerOrAdmin(r, ownerID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this template")
		return
	}

	if err := svc.AddLabel(r.Context(), id, req.Label); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid template ID")
		return
	}

	var req labeling.Annotation
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	existing, err := svc.GetRow(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	var ownerID *uuid.UUID
	if existing.GeneratorID.Valid {
		gid := uuid.UUID(existing.GeneratorID.Bytes)
		ownerID = &gid
	}
	if !ownerOrAdmin(r, ownerID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this template")
		return
	}

	if err := svc.AddAnnotation(r.Context(), id, req); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
