package handlers

import (
	"net/http"

	"github.com/achouhan93/ClusterTalk/services"
	"github.com/achouhan93/ClusterTalk/utils"
	"go.uber.org/zap"
)

// statusForError maps a domain error type to its HTTP status
func statusForError(errType services.ErrorType) int {
	switch errType {
	case services.ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeRetrievalUnavailable,
		services.ErrorTypeGenerationUnavailable,
		services.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case services.ErrorTypeGenerationMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps domain errors to HTTP responses.
// Only the public message reaches the client; the cause is logged.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	errType := services.GetErrorType(err)
	status := statusForError(errType)

	code, message := string(errType), services.PublicMessage(err)
	var details map[string]interface{}
	if errType == "" || errType == services.ErrorTypeInternal {
		code, message = string(services.ErrorTypeInternal), services.ErrInternal.Message
	} else if d := services.GetErrorDetails(err); len(d) > 0 {
		details = d
	}

	level := zap.DebugLevel
	if status >= http.StatusInternalServerError {
		level = zap.ErrorLevel
	}
	logger.Log(level, "service error",
		zap.String("error_type", code),
		zap.Int("status", status),
		zap.Error(err))

	if err := utils.WriteError(w, status, code, message, details); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError writes a 400 invalid_request; field failures from
// Validate or QueryInt are listed in details.
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	message := err.Error()
	var details map[string]interface{}
	if fields, ok := utils.AsFieldErrors(err); ok {
		message = "Validation failed"
		details = make(map[string]interface{}, len(fields))
		for field, reason := range fields {
			details[field] = reason
		}
	}

	if err := utils.WriteError(w, http.StatusBadRequest, string(services.ErrorTypeInvalidRequest), message, details); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
