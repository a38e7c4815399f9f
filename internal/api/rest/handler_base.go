package rest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/caresentry/caregiver-safeguard-backend/internal/domain/errors"
)

// ResponseEnvelope wraps every JSON response body.
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    *ResponseMeta  `json:"meta,omitempty"`
}

// ErrorResponse is the error half of the envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta carries response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// BaseHandler bundles the helpers every endpoint handler needs.
type BaseHandler struct {
	validator    *validator.Validate
	errorHandler *ErrorHandler
	logger       *slog.Logger
	apiVersion   string
}

func NewBaseHandler(logger *slog.Logger) *BaseHandler {
	return &BaseHandler{
		validator:    validator.New(),
		errorHandler: NewErrorHandler(logger),
		logger:       logger,
		apiVersion:   "v1",
	}
}

// DecodeAndValidate parses the JSON body into dst and runs struct validation.
func (h *BaseHandler) DecodeAndValidate(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_BODY",
			fmt.Sprintf("invalid request body: %v", err))
	}
	if err := h.validator.Struct(dst); err != nil {
		return errors.NewValidationError("VALIDATION_FAILED", err.Error())
	}
	return nil
}

// PathUUID parses the named path value as a UUID.
func (h *BaseHandler) PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID",
			fmt.Sprintf("invalid %s: %q", name, raw))
	}
	return id, nil
}

// QueryWindow parses an optional ?window= duration, falling back to def.
func (h *BaseHandler) QueryWindow(r *http.Request, def time.Duration) (time.Duration, error) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return def, nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		return 0, errors.NewValidationError("INVALID_WINDOW",
			fmt.Sprintf("invalid window: %q", raw))
	}
	return window, nil
}

// WriteJSON writes a success envelope with the given status.
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta: &ResponseMeta{
			Timestamp: time.Now().UTC(),
			Version:   h.apiVersion,
		},
	}); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// WriteError delegates to the error handler.
func (h *BaseHandler) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	h.errorHandler.HandleError(w, r, err)
}
