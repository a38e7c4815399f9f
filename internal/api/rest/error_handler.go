package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
)

// ErrorHandler translates service errors into HTTP responses.
type ErrorHandler struct {
	logger *slog.Logger
}

func NewErrorHandler(logger *slog.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError writes the error as a JSON envelope with the mapped status.
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := h.classify(r.Context(), err)

	if status >= 500 {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResponseEnvelope{
		Success: false,
		Error: &ErrorResponse{
			Code:    code,
			Message: message,
		},
	})
}

func (h *ErrorHandler) classify(ctx context.Context, err error) (status int, code, message string) {
	var appErr *errors.AppError
	switch {
	case stderrors.As(err, &appErr):
		return appErr.StatusCode, appErr.Code, appErr.Message
	case stderrors.Is(err, context.Canceled):
		return http.StatusRequestTimeout, "REQUEST_CANCELLED", "request was cancelled"
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "REQUEST_TIMEOUT", "request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred"
	}
}
