package api

import (
	"net/http"
)

// exportAll streams the complete denormalized patient tree: every patient
// with every procedure and its measurements, from one consistent snapshot.
func (a *API) exportAll(w http.ResponseWriter, r *http.Request) {
	exports, err := a.exportStorage.ExportAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Export failed", err, a.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patients": exports,
		"count":    len(exports),
	}, a.logger)
}

// listAudit returns recent audit trail entries, newest first. When a
// table and record_id are supplied, the history of that record is returned
// instead.
func (a *API) listAudit(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	table := r.URL.Query().Get("table")
	recordID := r.URL.Query().Get("record_id")

	if table != "" && recordID != "" {
		entries, err := a.auditStorage.ListByRecord(r.Context(), table, recordID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to read audit trail", err, a.logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"count":   len(entries),
		}, a.logger)
		return
	}

	limit, offset := parsePagination(r, 100, 1000)
	entries, err := a.auditStorage.List(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read audit trail", err, a.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	}, a.logger)
}
