// Package core defines the clinical record domain types shared across the
// storage, backup, and API layers.
package core

import (
	"time"
)

// User roles
const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
	RolePhysician  = "physician"
)

// Gender values accepted for patients
const (
	GenderMale   = "M"
	GenderFemale = "F"
	GenderOther  = "Other"
)

// DateLayout is the calendar date format used for date_of_birth and
// procedure_date throughout the system.
const DateLayout = "2006-01-02"

// User is an identity referenced by created_by / performed_by fields.
// Users are never hard-deleted, only deactivated.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	PasswordHash string     `json:"-"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Patient is a clinical patient record. PatientID is the human-assigned
// external identifier, unique across all patients (exact string match).
type Patient struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	Name        string    `json:"name"`
	DateOfBirth string    `json:"date_of_birth"`
	Gender      string    `json:"gender"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// ProcedureCount is computed at query time, never stored.
	ProcedureCount int `json:"procedure_count"`
}

// Study is a named clinical protocol that procedures belong to. Studies are
// created lazily the first time a procedure references an unseen name.
type Study struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
}

// Procedure is a single angiography encounter for a patient, tied to a
// named study. A procedure and its vessel measurements are created as one
// atomic unit.
type Procedure struct {
	ID            string              `json:"id"`
	PatientID     string              `json:"patient_id"`
	StudyID       string              `json:"study_id"`
	StudyName     string              `json:"study_name"`
	ProcedureDate string              `json:"procedure_date"`
	PerformedBy   string              `json:"performed_by"`
	Notes         string              `json:"notes"`
	CreatedAt     time.Time           `json:"created_at"`
	Measurements  []VesselMeasurement `json:"measurements"`
}

// VesselMeasurement is one stenosis-percentage reading for a named vessel
// within a procedure. StenosisPercentage is in [0, 100] inclusive.
type VesselMeasurement struct {
	ID                 string  `json:"id"`
	ProcedureID        string  `json:"procedure_id"`
	VesselName         string  `json:"vessel_name"`
	StenosisPercentage float64 `json:"stenosis_percentage"`
	MeasurementMethod  string  `json:"measurement_method,omitempty"`
	Notes              string  `json:"notes,omitempty"`
	Seq                int     `json:"seq"`
}

// MeasurementInput is the caller-supplied shape for a vessel measurement on
// procedure creation, before IDs and ordering are assigned.
type MeasurementInput struct {
	VesselName         string  `json:"vessel_name"`
	StenosisPercentage float64 `json:"stenosis_percentage"`
	MeasurementMethod  string  `json:"measurement_method,omitempty"`
	Notes              string  `json:"notes,omitempty"`
}

// AuditEntry records who changed what. Entries are append-only and never
// mutated or deleted by normal flow.
type AuditEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    string    `json:"action"`
	TableName string    `json:"table_name"`
	RecordID  string    `json:"record_id"`
	OldValues string    `json:"old_values,omitempty"`
	NewValues string    `json:"new_values,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit actions
const (
	AuditActionCreate = "create"
	AuditActionUpdate = "update"
	AuditActionDelete = "delete"
)

// PatientExport is the denormalized patient tree produced by the export
// service: patient fields joined with every procedure and its measurements.
type PatientExport struct {
	Patient
	Procedures []Procedure `json:"procedures"`
}

// ValidRole reports whether role is one of the known user roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTechnician, RolePhysician:
		return true
	}
	return false
}

// ValidGender reports whether g is one of the accepted gender values.
func ValidGender(g string) bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther:
		return true
	}
	return false
}
