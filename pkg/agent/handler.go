package agent

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
	"github.com/colliery-io/brokkr-sub000/pkg/deploymenthealth"
	"github.com/colliery-io/brokkr-sub000/pkg/diagnostic"
	"github.com/colliery-io/brokkr-sub000/pkg/labeling"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// eventDeploySuccess is the agent event type that acknowledges a
// deployment object, per §4.3's incremental-mode definition.
const eventDeploySuccess = "DEPLOY/SUCCESS"

// EventRequest is the JSON body for POST /agents/{id}/events.
type EventRequest struct {
	Type               string    `json:"type" validate:"required"`
	DeploymentObjectID uuid.UUID `json:"deployment_object_id"`
}

// Handler provides HTTP handlers for the agents API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates an agent Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// Routes returns a chi.Router with all agent routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Delete("/", h.handleDelete)
		r.Post("/heartbeat", h.handleHeartbeat)
		r.Post("/labels", h.handleAddLabel)
		r.Delete("/labels/{label}", h.handleRemoveLabel)
		r.Post("/annotations", h.handleAddAnnotation)
		r.Post("/targets", h.handleAddTarget)
		r.Delete("/targets/{stackID}", h.handleRemoveTarget)
		r.Post("/events", h.handleEvent)
		r.Get("/applicable-deployment-objects", deploymentobject.NewHandler(h.logger, h.audit).ApplicableDeploymentObjectsHandler())
		r.Get("/diagnostics/pending", diagnostic.NewHandler(h.logger, h.audit).PendingForAgentHandler())
		r.Post("/health", deploymenthealth.NewHandler(h.logger).ReportHandler())
	})
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	t := tenant.FromContext(r.Context())
	return NewService(conn, t.Slug, h.logger)
}

// requireSelfOrAdmin authorizes a request on an agent's own resources: the
// calling PAK must resolve to that exact agent, or to admin.
func requireSelfOrAdmin(r *http.Request, id uuid.UUID) bool {
	identity := auth.FromContext(r.Context())
	return identity.IsAdminOrSelf(id)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may create agents")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	resp, err := svc.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating agent", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": resp.Name, "cluster_name": resp.ClusterName})
		h.audit.LogFromRequest(r, "create", "agent", resp.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	svc := h.service(r)

	var labels []string
	mode := FilterModeOr
	if v := r.URL.Query()["label"]; len(v) > 0 {
		labels = v
	}
	if r.URL.Query().Get("label_mode") == "AND" {
		mode = FilterModeAnd
	}

	items, err := svc.List(r.Context(), labels, mode)
	if err != nil {
		h.logger.Error("listing agents", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"agents": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}
	if !requireSelfOrAdmin(r, id) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
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
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may delete agents")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}

	svc := h.service(r)
	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "agent", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}
	if !requireSelfOrAdmin(r, id) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
		return
	}

	var req HeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	resp, err := svc.Heartbeat(r.Context(), id, req.Status)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

// handleEvent records an agent-reported lifecycle event. Only DEPLOY/SUCCESS
// is currently meaningful: it acknowledges a deployment object so it drops
// out of incremental-mode routing (§4.3).
func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}
	if !requireSelfOrAdmin(r, id) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
		return
	}

	var req EventRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if req.Type != eventDeploySuccess {
		httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if req.DeploymentObjectID == uuid.Nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "deployment_object_id is required for DEPLOY/SUCCESS")
		return
	}

	conn := tenant.ConnFromContext(r.Context())
	doSvc := deploymentobject.NewService(conn, h.logger)
	if err := doSvc.Acknowledge(r.Context(), req.DeploymentObjectID, id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "event.deploy_success", "deployment_object", req.DeploymentObjectID, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddLabel(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may tag agents")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
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

func (h *Handler) handleRemoveLabel(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may tag agents")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}

	svc := h.service(r)
	if err := svc.RemoveLabel(r.Context(), id, chi.URLParam(r, "label")); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleAddAnnotation(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may tag agents")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
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

func (h *Handler) handleAddTarget(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may set agent targets")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}

	var req TargetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	if err := svc.AddTarget(r.Context(), id, req.StackID); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleRemoveTarget(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAdmin {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may set agent targets")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
		return
	}
	stackID, err := uuid.Parse(chi.URLParam(r, "stackID"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	svc := h.service(r)
	if err := svc.RemoveTarget(r.Context(), id, stackID); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}
