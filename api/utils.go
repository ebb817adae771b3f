package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"lumen/core"
	"lumen/storage"
)

// maxBodyBytes bounds request bodies; the largest legitimate payload is a
// procedure with a few dozen measurements.
const maxBodyBytes = 1 << 20

// writeError writes an error response to the client and logs it.
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		if err != nil {
			logger.Errorw(message, "error", err.Error(), "status_code", statusCode)
		} else {
			logger.Errorw(message, "status_code", statusCode)
		}
	}
	http.Error(w, message, statusCode)
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil && logger != nil {
		logger.Errorw("Failed to encode response", "error", err)
	}
}

// decodeJSONBody decodes a JSON request body with a size limit and strict
// field checking.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

// writeStorageError maps storage and validation errors to HTTP status codes.
func (a *API) writeStorageError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error(), nil, a.logger)
	case errors.Is(err, storage.ErrPatientNotFound),
		errors.Is(err, storage.ErrProcedureNotFound),
		errors.Is(err, storage.ErrStudyNotFound),
		errors.Is(err, storage.ErrUserNotFound),
		errors.Is(err, storage.ErrBackupNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil, a.logger)
	case errors.Is(err, storage.ErrDuplicatePatientID),
		errors.Is(err, storage.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err.Error(), nil, a.logger)
	case errors.Is(err, storage.ErrInvalidBackup):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil, a.logger)
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", err, a.logger)
	}
}

// parsePagination reads limit/offset query parameters with sane bounds.
func parsePagination(r *http.Request, defaultLimit, maxLimit int) (limit, offset int) {
	limit = defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
