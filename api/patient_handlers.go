package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"lumen/core"
)

type createPatientRequest struct {
	PatientID   string `json:"patient_id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=255"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Gender      string `json:"gender" validate:"required"`
}

// createPatient registers a new patient record.
func (a *API) createPatient(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body", err, a.logger)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid patient payload", err, a.logger)
		return
	}

	patient := &core.Patient{
		PatientID:   req.PatientID,
		Name:        req.Name,
		DateOfBirth: req.DateOfBirth,
		Gender:      req.Gender,
		CreatedBy:   UserIDFrom(r.Context()),
	}

	created, err := a.patientStorage.CreatePatient(r.Context(), patient)
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created, a.logger)
}

// listPatients returns patients newest-first with live procedure counts.
func (a *API) listPatients(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 100, 1000)

	patients, err := a.patientStorage.ListPatients(r.Context(), limit, offset)
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patients": patients,
		"count":    len(patients),
	}, a.logger)
}

// deletePatient removes a patient and all dependent records.
func (a *API) deletePatient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := a.patientStorage.DeletePatient(r.Context(), id, UserIDFrom(r.Context())); err != nil {
		a.writeStorageError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
