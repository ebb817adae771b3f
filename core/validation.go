package core

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// patientIDPattern restricts external patient identifiers to letters,
// digits, and hyphens. Comparison for uniqueness is exact (case-sensitive).
var patientIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidationError reports malformed or out-of-range input. It is an
// expected, recoverable outcome surfaced directly to the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ValidatePatientID checks the external patient identifier format.
func ValidatePatientID(id string) error {
	if id == "" {
		return NewValidationError("patient_id", "is required")
	}
	if !patientIDPattern.MatchString(id) {
		return NewValidationError("patient_id", "must contain only letters, digits, and hyphens")
	}
	return nil
}

// ValidateDate checks that s is a calendar date in ISO form (YYYY-MM-DD).
func ValidateDate(field, s string) error {
	if s == "" {
		return NewValidationError(field, "is required")
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return NewValidationError(field, "must be a date in YYYY-MM-DD form")
	}
	return nil
}

// ValidatePatient checks all patient fields before persistence.
func ValidatePatient(patientID, name, dateOfBirth, gender string) error {
	if err := ValidatePatientID(patientID); err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return NewValidationError("name", "is required")
	}
	if err := ValidateDate("date_of_birth", dateOfBirth); err != nil {
		return err
	}
	if !ValidGender(gender) {
		return NewValidationError("gender", "must be M, F, or Other")
	}
	return nil
}

// ValidateMeasurements checks the vessel measurement sequence before the
// procedure transaction begins. The sequence must be non-empty, each vessel
// name non-empty, and each percentage in [0, 100] inclusive.
func ValidateMeasurements(measurements []MeasurementInput) error {
	if len(measurements) == 0 {
		return NewValidationError("vessel_measurements", "at least one measurement is required")
	}
	for i, m := range measurements {
		if strings.TrimSpace(m.VesselName) == "" {
			return NewValidationError("vessel_measurements", fmt.Sprintf("measurement %d: vessel_name is required", i))
		}
		if m.StenosisPercentage < 0 || m.StenosisPercentage > 100 {
			return NewValidationError("vessel_measurements",
				fmt.Sprintf("measurement %d: stenosis_percentage %.2f out of range [0, 100]", i, m.StenosisPercentage))
		}
	}
	return nil
}
