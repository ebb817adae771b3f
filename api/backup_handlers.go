package api

import (
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"
)

// createBackup triggers an on-demand snapshot of the full database.
func (a *API) createBackup(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	path, err := a.backups.CreateManualBackup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Backup failed", err, a.logger)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"artifact": filepath.Base(path),
	}, a.logger)
}

// listBackups returns all retained backup artifacts, newest first.
func (a *API) listBackups(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	infos, err := a.backups.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list backups", err, a.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backups": infos,
		"count":   len(infos),
	}, a.logger)
}

// getBackup returns the parsed contents of a named backup artifact.
func (a *API) getBackup(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	name := mux.Vars(r)["name"]
	envelope, err := a.backups.RetrieveBackup(name)
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope, a.logger)
}
