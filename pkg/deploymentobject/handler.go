package deploymentobject

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/stack"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the deployment-objects API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a deployment-object Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

// StackRoutes returns the /api/v1/stacks/{id}/deployment-objects router.
func (h *Handler) StackRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleListByStack)
	return r
}

// ItemRoutes returns the /api/v1/deployment-objects/{id} router.
func (h *Handler) ItemRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleGet)
	r.Delete("/", h.handleDelete)
	return r
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
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

	identity := auth.FromContext(r.Context())
	if identity == nil || !(identity.Kind == auth.KindAdmin || (identity.Kind == auth.KindGenerator && identity.PrincipalID == stackRow.GeneratorID)) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this stack")
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	svc := h.service(r)
	resp, err := svc.Create(r.Context(), conn, stackID, req)
	if err != nil {
		h.logger.Error("creating deployment object", "error", err)
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"stack_id": stackID.String(), "checksum": resp.YAMLChecksum})
		h.audit.LogFromRequest(r, "create", "deployment_object", resp.ID, detail)
	}
	httpserver.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleListByStack(w http.ResponseWriter, r *http.Request) {
	stackID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid stack ID")
		return
	}

	svc := h.service(r)
	items, err := svc.ListByStack(r.Context(), stackID)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"deployment_objects": items, "count": len(items)})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment object ID")
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
	if identity == nil || identity.Kind == auth.KindAgent {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized to delete deployment objects")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment object ID")
		return
	}

	svc := h.service(r)
	if err := svc.Delete(r.Context(), id); err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "deployment_object", id, nil)
	}
	httpserver.Respond(w, http.StatusNoContent, nil)
}

// ApplicableDeploymentObjectsHandler serves GET
// /api/v1/agents/{id}/applicable-deployment-objects?mode=full|incremental (§4.3).
// It is mounted from pkg/agent's routes since it is keyed by agent id, but
// lives here because it depends on the deployment-object router. Both
// services are rebuilt from the request's tenant-scoped connection, not
// passed in pre-built, since a connection is only valid for the lifetime
// of one request.
func (h *Handler) ApplicableDeploymentObjectsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
			return
		}

		identity := auth.FromContext(r.Context())
		if identity == nil || !identity.IsAdminOrSelf(agentID) {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
			return
		}

		mode := Mode(r.URL.Query().Get("mode"))
		if mode == "" {
			mode = ModeFull
		}
		if mode != ModeFull && mode != ModeIncremental {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "mode must be full or incremental")
			return
		}

		conn := tenant.ConnFromContext(r.Context())
		stackSvc := stack.NewService(conn, h.logger)
		eligibleStacks, err := stackSvc.EligibleStacksForAgent(r.Context(), agentID)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		stackIDs := make([]uuid.UUID, 0, len(eligibleStacks))
		for _, s := range eligibleStacks {
			stackIDs = append(stackIDs, s.ID)
		}

		svc := h.service(r)
		items, err := svc.ApplicableSet(r.Context(), stackIDs, agentID, mode)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"deployment_objects": items, "count": len(items), "mode": mode})
	}
}
