package handlers

import (
	"net/http"

	"github.com/windfire/security-auth/services"
	"github.com/windfire/security-auth/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// Only the client-facing message of the error is written.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	message := services.PublicMessage(err)
	details := services.GetErrorDetails(err)
	if len(details) == 0 {
		details = nil
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, r, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, r, message, details)

	case services.IsUnauthorizedError(err):
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeErr = utils.WriteUnauthorized(w, r, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, r, message)

	case services.IsExternalError(err):
		// provider outages are not the caller's fault
		logger.Warn("identity provider unavailable", zap.Error(err))
		writeErr = utils.WriteServiceUnavailable(w, r, message)

	case services.IsInternalError(err):
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, r, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, r, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles errors from request decoding and validation
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	var writeErr error
	if utils.IsValidationError(err) {
		details := make(map[string]interface{})
		for k, v := range utils.GetValidationFields(err) {
			details[k] = v
		}
		writeErr = utils.WriteBadRequest(w, r, "Validation failed", details)
	} else {
		writeErr = utils.WriteBadRequest(w, r, "Invalid request body", nil)
	}

	if writeErr != nil {
		logger.Error("failed to write validation error response", zap.Error(writeErr))
	}
}
