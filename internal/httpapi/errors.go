package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"castbot/internal/broadcast"
	"castbot/internal/scheduler"
	"castbot/internal/upload"
	logx "castbot/pkg/logx"
)

type errorBody struct {
	Error          string `json:"error"`
	Classification string `json:"classification,omitempty"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, broadcast.ErrValidation),
		errors.Is(err, scheduler.ErrScheduling),
		errors.Is(err, upload.ErrUnsupportedType),
		errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, broadcast.ErrConfiguration):
		return http.StatusServiceUnavailable
	case errors.Is(err, broadcast.ErrProvider), errors.Is(err, broadcast.ErrVerification):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		s.log.Warn("request failed",
			logx.String("route", routeLabel(r)),
			logx.String("request_id", RequestID(r.Context())),
			logx.Err(err),
		)
	}
	writeError(w, code, err.Error(), broadcast.Classification(err))
}

func writeError(w http.ResponseWriter, code int, msg, class string) {
	writeJSON(w, code, errorBody{Error: msg, Classification: class})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
