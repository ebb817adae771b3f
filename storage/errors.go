package storage

import "errors"

// Storage error constants
var (
	// ErrPatientNotFound is returned when a patient is not found
	ErrPatientNotFound = errors.New("patient not found")

	// ErrProcedureNotFound is returned when a procedure is not found
	ErrProcedureNotFound = errors.New("procedure not found")

	// ErrStudyNotFound is returned when a study is not found
	ErrStudyNotFound = errors.New("study not found")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicatePatientID is returned when the external patient_id is
	// already taken by another patient
	ErrDuplicatePatientID = errors.New("patient_id already exists")

	// ErrDuplicateEmail is returned when a user email is already taken
	// (comparison is case-insensitive)
	ErrDuplicateEmail = errors.New("email already exists")

	// ErrBackupNotFound is returned when a backup artifact is not found
	ErrBackupNotFound = errors.New("backup not found")

	// ErrInvalidBackup is returned when a backup artifact is missing its
	// metadata or data sections
	ErrInvalidBackup = errors.New("invalid backup artifact")

	// ErrDatabaseClosed is returned when attempting to use a closed
	// database connection
	ErrDatabaseClosed = errors.New("database is closed")
)
