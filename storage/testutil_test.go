package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lumen/core"
)

// newTestSQLite creates a file-backed database in a per-test temp directory
// so both the read and write pools see the same data.
func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return sqlite
}

// createTestUser inserts a user directly and returns its ID.
func createTestUser(t *testing.T, sqlite *SQLite, email string) string {
	t.Helper()

	id := uuid.New().String()
	_, err := sqlite.DB.Exec(`
		INSERT INTO users (id, email, name, role, password_hash, active, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		id, email, "Test User", core.RoleTechnician, "hash", time.Now().UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	return id
}

// createTestPatient persists a patient through the storage layer.
func createTestPatient(t *testing.T, patients *PatientStorage, patientID, createdBy string) *core.Patient {
	t.Helper()

	created, err := patients.CreatePatient(context.Background(), &core.Patient{
		PatientID:   patientID,
		Name:        "Jane Doe",
		DateOfBirth: "1975-03-14",
		Gender:      core.GenderFemale,
		CreatedBy:   createdBy,
	})
	require.NoError(t, err)

	return created
}
