package http

import (
	"errors"
	"net/http"

	"nova-battle-service/internal/domain"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type errorBody struct {
	Message string `json:"message"`
}

// statusFor translates domain errors into HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrQuestionPoolExhausted):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrBattleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyFinished), errors.Is(err, domain.ErrBattleExpired):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", fields...)
		msg = "internal server error"
	} else {
		h.log.Warn("request rejected", fields...)
	}
	writeJSON(w, status, errorBody{Message: msg})
}
