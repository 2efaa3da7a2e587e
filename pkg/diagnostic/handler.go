package diagnostic

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/audit"
	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for the diagnostics API.
type Handler struct {
	logger *slog.Logger
	audit  *audit.Writer
}

// NewHandler creates a diagnostic Handler.
func NewHandler(logger *slog.Logger, audit *audit.Writer) *Handler {
	return &Handler{logger: logger, audit: audit}
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

// Routes returns the /api/v1/diagnostics/{id} router: read, claim, and
// submit a result. Creation is keyed by deployment object id and is
// mounted separately by internal/app's mountRoutes (§6).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Post("/claim", h.handleClaim)
		r.Post("/result", h.handleSubmit)
	})
	return r
}

// CreateForDeploymentObjectHandler creates a diagnostic request against
// the deployment object named in the URL, mounted by internal/app's
// mountRoutes as POST /deployment-objects/{id}/diagnostics.
func (h *Handler) CreateForDeploymentObjectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := auth.FromContext(r.Context())
		if identity == nil || identity.Kind != auth.KindAdmin {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only admin may request diagnostics")
			return
		}

		deploymentObjectID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment object ID")
			return
		}

		var req CreateRequest
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}
		req.DeploymentObjectID = &deploymentObjectID

		resp, err := h.service(r).Create(r.Context(), req)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}

		if h.audit != nil {
			h.audit.LogFromRequest(r, "diagnostic.create", "diagnostic", resp.ID, nil)
		}
		httpserver.Respond(w, http.StatusCreated, resp)
	}
}

// PendingForAgentHandler lists pending diagnostics for a given agent,
// mounted from pkg/agent's routes since it is keyed by agent id.
func (h *Handler) PendingForAgentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		agentID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid agent ID")
			return
		}

		identity := auth.FromContext(r.Context())
		if !identity.IsAdminOrSelf(agentID) {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this agent")
			return
		}

		items, err := h.service(r).ListPendingForAgent(r.Context(), agentID)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"diagnostics": items, "count": len(items)})
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid diagnostic ID")
		return
	}

	resp, err := h.service(r).Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	identity := auth.FromContext(r.Context())
	if !identity.IsAdminOrSelf(resp.AgentID) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "not authorized for this diagnostic")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid diagnostic ID")
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAgent {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only the target agent may claim a diagnostic")
		return
	}

	resp, err := h.service(r).Claim(r.Context(), id, identity.PrincipalID)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid diagnostic ID")
		return
	}

	identity := auth.FromContext(r.Context())
	if identity == nil || identity.Kind != auth.KindAgent {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "only the claiming agent may submit a diagnostic result")
		return
	}

	var req SubmitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service(r).Submit(r.Context(), id, identity.PrincipalID, req)
	if err != nil {
		httpserver.RespondBrokerErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "diagnostic.submit", "diagnostic", resp.ID, nil)
	}
	httpserver.Respond(w, http.StatusOK, resp)
}
