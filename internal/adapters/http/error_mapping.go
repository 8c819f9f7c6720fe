package httpadapter

import (
	"net/http"

	"github.com/kirillkom/policy-router/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrCancelled):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrPlanning):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrRetrievalExhausted), domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: requestIDFromContext(r.Context())}
	if se, ok := domain.AsStageError(err); ok {
		resp.Reason = string(se.Reason)
		resp.Stage = string(se.Stage)
	}
	writeJSON(w, mapErrorToHTTPStatus(err), resp)
}
