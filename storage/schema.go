package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SchemaVersion identifies the entity schema embedded in backup manifests.
const SchemaVersion = 1

// createTables provisions the fixed entity schema and indices. Idempotent:
// safe to run on every startup.
func (s *SQLite) createTables() error {
	schema := `
	-- Users: identity referenced by created_by / performed_by.
	-- Email uniqueness is case-insensitive (COLLATE NOCASE).
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL COLLATE NOCASE UNIQUE,
		name TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('admin', 'technician', 'physician')),
		password_hash TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		last_login DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_users_active ON users(active);

	-- Patients: patient_id is the human-assigned external identifier,
	-- unique by exact (case-sensitive) match.
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		date_of_birth TEXT NOT NULL,
		gender TEXT NOT NULL CHECK (gender IN ('M', 'F', 'Other')),
		created_by TEXT REFERENCES users(id),
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients(created_at DESC);

	-- Studies: named clinical protocols, created lazily on first reference.
	CREATE TABLE IF NOT EXISTS studies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS procedures (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		study_id TEXT NOT NULL REFERENCES studies(id),
		study_name TEXT NOT NULL,
		procedure_date TEXT NOT NULL,
		performed_by TEXT REFERENCES users(id),
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_procedures_patient_id ON procedures(patient_id);
	CREATE INDEX IF NOT EXISTS idx_procedures_date ON procedures(procedure_date DESC);

	-- Vessel measurements: seq preserves insertion order within a procedure.
	CREATE TABLE IF NOT EXISTS vessel_measurements (
		id TEXT PRIMARY KEY,
		procedure_id TEXT NOT NULL REFERENCES procedures(id) ON DELETE CASCADE,
		vessel_name TEXT NOT NULL,
		stenosis_percentage REAL NOT NULL CHECK (stenosis_percentage >= 0 AND stenosis_percentage <= 100),
		measurement_method TEXT,
		notes TEXT,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vessel_measurements_procedure_id ON vessel_measurements(procedure_id);

	-- Audit log: append-only, never mutated or deleted by normal flow.
	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT,
		action TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		old_values TEXT NOT NULL DEFAULT '',
		new_values TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_log_table_record ON audit_log(table_name, record_id);
	`

	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// validateDatabasePath rejects paths that could escape the working
// directory or hit special device files. In-memory and temp-dir paths are
// allowed for tests.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}

	if filepath.IsAbs(dbPath) && dbPath != ":memory:" {
		if !strings.Contains(dbPath, os.TempDir()) {
			return fmt.Errorf("absolute paths not allowed: %s", dbPath)
		}
	}

	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}

	return nil
}
