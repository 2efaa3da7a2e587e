package workorder

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

// Handler provides HTTP handlers for the work-order queue API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a work-order Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns the /api/v1/work-orders router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
	r.Delete("/{id}", h.handleDelete)
	r.Post("/{id}/labels", h.handleAddLabel)
	r.Post("/{id}/annotations", h.handleAddAnnotation)
	r.Post("/{id}/claim", h.handleClaim)
	r.Post("/{id}/release", h.handleRelease)
	r.Post("/{id}/complete-success", h.handleCompleteSuccess)
	r.Post("/{id}/complete-failure", h.handleCompleteFailure)
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "admin authorization required")
		return false
	}
	return true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	svc := h.service(r)
	resp, err := svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating work order", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"work_type": resp.WorkType})
		h.audit.LogFromRequest(r, "create", "work_order", resp.ID, detail)
	}
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc := h.service(r)

	if agentIDStr := r.URL.Query().Get("agent_id"); agentIDStr != "" {
		agentID, err := uuid.Parse(agentIDStr)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent_id")
			return
		}
		identity := auth.FromContext(r.Context())
		if identity == nil || !identity.IsAdminOrSelf(agentID) {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
			return
		}
		items, err := svc.ListClaimable(r.Context(), agentID, r.URL.Query().Get("work_type"))
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"work_orders": items, "count": len(items)})
		return
	}

	if !h.requireAdmin(w, r) {
		return
	}
	items, err := svc.List(r.Context())
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"work_orders": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
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
	if !h.requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	svc := h.service(r)
	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "work_order", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	var req struct {
		Label string `json:"label" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	svc := h.service(r)
	if err := svc.AddLabel(r.Context(), id, req.Label); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	var req labeling.Annotation
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	svc := h.service(r)
	if err := svc.AddAnnotation(r.Context(), id, req); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	var req struct {
		AgentID uuid.UUID `json:"agent_id" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil || !identity.IsAdminOrSelf(req.AgentID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
		return
	}

	svc := h.service(r)
	resp, err := svc.Claim(r.Context(), id, req.AgentID)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"agent_id": req.AgentID.String()})
		h.audit.LogFromRequest(r, "claim", "work_order", id, detail)
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	var req struct {
		AgentID uuid.UUID `json:"agent_id" validate:"required"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil || !identity.IsAdminOrSelf(req.AgentID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
		return
	}

	svc := h.service(r)
	resp, err := svc.Release(r.Context(), id, req.AgentID)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleCompleteSuccess(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAgent {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only an agent may complete a work order")
		return
	}

	var req CompleteSuccessRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	svc := NewService(conn, h.logger)
	resp, err := svc.CompleteSuccess(r.Context(), conn, id, req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "complete_success", "work_order", id, nil)
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleCompleteFailure(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid work order ID")
		return
	}
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAgent {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only an agent may complete a work order")
		return
	}

	var req CompleteFailureRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	svc := NewService(conn, h.logger)
	result, err := svc.CompleteFailure(r.Context(), conn, id, req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		detail, _ := json.Marshal(map[string]bool{"terminal": result.Terminal})
		h.audit.LogFromRequest(r, "complete_failure", "work_order", id, detail)
	}
	if result.Terminal {
		httpserver.Respond(w, http.StatusOK, result.Log)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": StatusRetryPending})
}
