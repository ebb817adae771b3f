package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"lumen/core"
)

type createProcedureRequest struct {
	StudyName     string                  `json:"study_name" validate:"required,max=255"`
	ProcedureDate string                  `json:"procedure_date" validate:"required"`
	Notes         string                  `json:"notes,omitempty"`
	Measurements  []core.MeasurementInput `json:"measurements" validate:"required,min=1"`
}

// createProcedure records a procedure with its vessel measurements as one
// atomic unit under the named study.
func (a *API) createProcedure(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	var req createProcedureRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body", err, a.logger)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid procedure payload", err, a.logger)
		return
	}

	created, err := a.procStorage.CreateProcedure(r.Context(), patientID, req.StudyName,
		req.ProcedureDate, req.Measurements, req.Notes, UserIDFrom(r.Context()))
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created, a.logger)
}

// getProcedures returns a patient's procedures newest-first, each with its
// measurements in recorded order.
func (a *API) getProcedures(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientID"]

	procedures, err := a.procStorage.GetProcedures(r.Context(), patientID)
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"procedures": procedures,
		"count":      len(procedures),
	}, a.logger)
}
