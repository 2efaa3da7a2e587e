package deploymenthealth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colliery-io/brokkr-sub000/internal/auth"
	"github.com/colliery-io/brokkr-sub000/internal/httpserver"
	"github.com/colliery-io/brokkr-sub000/pkg/tenant"
)

// Handler provides HTTP handlers for deployment health reporting.
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a deploymenthealth Handler.
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

func (h *Handler) service(r *http.Request) *Service {
	conn := tenant.ConnFromContext(r.Context())
	return NewService(conn, h.logger)
}

// ReportHandler accepts an agent's health report for one of its
// deployment objects, mounted from pkg/agent's routes as POST
// /agents/{id}/health.
func (h *Handler) ReportHandler() http.HandlerFunc {
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

		var req ReportRequest
		if !httpserver.DecodeAndValidate(w, r, &req) {
			return
		}

		resp, err := h.service(r).Report(r.Context(), agentID, req)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, resp)
	}
}

// ListForDeploymentObjectHandler lists every agent's health snapshot for a
// deployment object, mounted by internal/app's mountRoutes as
// GET /deployment-objects/{id}/health.
func (h *Handler) ListForDeploymentObjectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment object ID")
			return
		}

		items, err := h.service(r).ListByDeploymentObject(r.Context(), id)
		if err != nil {
			httpserver.RespondBrokerErr(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"deployment_health": items, "count": len(items)})
	}
}
