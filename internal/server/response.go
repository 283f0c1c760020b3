package server

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/devrev/entitydb/internal/errors"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// handleError maps err to its HTTP status and writes the error body.
func (h *Handlers) handleError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := errors.HTTPStatus(err)
	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errors.GetCode(err).String(),
		Message:   err.Error(),
		RequestID: r.Header.Get(requestIDHeader),
	}
	var ee *errors.EntityError
	if stderrors.As(err, &ee) && len(ee.Details) > 0 {
		resp.Details = ee.Details
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", resp.RequestID),
			zap.Error(err))
	} else {
		h.logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("error_code", resp.ErrorCode),
			zap.Error(err))
	}
	writeErrorResponse(w, statusCode, resp)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

// decodeJSON reads a bounded request body. Numbers decode as json.Number
// so integer values keep full precision.
func (h *Handlers) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return errors.InvalidArgument("request body is empty", nil)
		}
		return errors.InvalidArgument("invalid request body", err)
	}
	return nil
}
