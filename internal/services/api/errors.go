package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func statusFor(err error) (int, string) {
	var verr validator.ValidationErrors
	switch {
	case errors.Is(err, notification.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, notification.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, notification.ErrNotRetryable):
		return http.StatusConflict, "not_retryable"
	case errors.Is(err, notification.ErrInvalidArgument), errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, notification.ErrStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
		if code == http.StatusInternalServerError {
			msg = http.StatusText(code)
		}
	}
	writeJSON(w, code, errorBody{Error: msg, Code: kind, RequestID: ActorFrom(r.Context()).RequestID})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
