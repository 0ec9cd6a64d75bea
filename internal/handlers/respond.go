package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	apierrors "appauth-service/pkg/errors"

	"go.uber.org/zap"
)

// success builds the client-facing success envelope around the
// operation-specific fields.
func success(fields map[string]interface{}) map[string]interface{} {
	fields["result"] = "success"
	return fields
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// sendError renders the protocol error envelope. Failures that carry no
// protocol code are collapsed into the generic error and logged with their
// cause.
func sendError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var serviceErr *apierrors.ServiceError
	if errors.As(err, &serviceErr) {
		if serviceErr.Err != nil {
			logger.Error("Request failed", zap.Error(err))
		}
		serviceErr.WriteJSON(w)
		return
	}
	logger.Error("Unclassified failure", zap.Error(err))
	apierrors.ErrGeneric.WriteJSON(w)
}
