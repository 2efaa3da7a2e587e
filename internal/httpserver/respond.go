package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/colliery-io/brokkr-sub000/internal/brokerr"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// RespondError writes a JSON error response.
func RespondError(w http.ResponseWriter, status int, err string, message string) {
	Respond(w, status, ErrorResponse{
		Error:   err,
		Message: message,
	})
}

// RespondBrokerErr maps a brokerr.Error's Kind to its §7 HTTP status and
// writes the envelope, including any Details the kind attached (e.g. the
// missing labels/annotations a template-stack mismatch reports).
func RespondBrokerErr(w http.ResponseWriter, err error) {
	kind := brokerr.KindOf(err)
	status := kind.HTTPStatus()

	resp := ErrorResponse{
		Error:   kind.String(),
		Message: err.Error(),
	}

	var be *brokerr.Error
	if errors.As(err, &be) && be.Details != nil {
		resp.Details = be.Details
	}

	Respond(w, status, resp)
}
