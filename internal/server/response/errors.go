package response

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/guided-traffic/bodyparser/internal/server/middleware"
	"github.com/guided-traffic/bodyparser/pkg/bodyparser"
)

// ErrorBody is the JSON document written for failed requests
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a failed request
type ErrorDetail struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorWriter handles JSON error responses
type ErrorWriter struct {
	logger *logrus.Entry
}

// NewErrorWriter creates a new error response writer
func NewErrorWriter(logger *logrus.Entry) *ErrorWriter {
	return &ErrorWriter{
		logger: logger,
	}
}

// WriteError renders err with the status its classification carries.
// Unclassified errors become 500. Server errors do not expose their message.
// It satisfies bodyparser.ErrorHandler.
func (e *ErrorWriter) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode := http.StatusInternalServerError
	errorType := "internal"
	message := err.Error()
	fields := logrus.Fields{}

	if be, ok := bodyparser.AsError(err); ok {
		statusCode = be.StatusCode()
		errorType = be.Type
		fields = be.Fields()
	}

	if statusCode >= 500 {
		message = http.StatusText(statusCode)
	}

	requestID := middleware.RequestIDFrom(r.Context())
	fields["method"] = r.Method
	fields["path"] = r.URL.Path
	fields["status_code"] = statusCode
	if requestID != "" {
		fields["request_id"] = requestID
	}

	// Log the error with appropriate level
	logEntry := e.logger.WithError(err).WithFields(fields)
	if statusCode >= 500 {
		logEntry.Error("Request body ingestion failed")
	} else {
		logEntry.Warn("Request body rejected")
	}

	e.WriteJSON(w, statusCode, ErrorBody{Error: ErrorDetail{
		Type:      errorType,
		Message:   message,
		Status:    statusCode,
		RequestID: requestID,
	}})
}

// WriteGenericError writes an error response with a custom type and message
func (e *ErrorWriter) WriteGenericError(w http.ResponseWriter, statusCode int, errorType, message string) {
	e.WriteJSON(w, statusCode, ErrorBody{Error: ErrorDetail{
		Type:    errorType,
		Message: message,
		Status:  statusCode,
	}})
}

// WriteJSON writes v as a JSON document
func (e *ErrorWriter) WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		e.logger.WithError(err).Error("Failed to write JSON response")
	}
}
