package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lumen/core"
	"lumen/storage"
)

// newTestStore builds a populated storage layer and an export service over
// a temp-dir database.
func newTestStore(t *testing.T) (*storage.SQLite, *storage.ExportStorage) {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return sqlite, storage.NewExportStorage(sqlite, logger)
}

func seedPatientWithProcedure(t *testing.T, sqlite *storage.SQLite) {
	t.Helper()

	logger := sqlite.Logger
	audit := storage.NewAuditStorage(sqlite, logger)
	patients := storage.NewPatientStorage(sqlite, audit, logger)
	procedures := storage.NewProcedureStorage(sqlite, patients, audit, logger)

	_, err := patients.CreatePatient(context.Background(), &core.Patient{
		PatientID:   "MRN-001",
		Name:        "Jane Doe",
		DateOfBirth: "1975-03-14",
		Gender:      core.GenderFemale,
	})
	require.NoError(t, err)

	_, err = procedures.CreateProcedure(context.Background(), "MRN-001", "CORONARY-2026", "2026-01-10",
		[]core.MeasurementInput{
			{VesselName: "LAD", StenosisPercentage: 45},
			{VesselName: "RCA", StenosisPercentage: 20},
		}, "", "")
	require.NoError(t, err)
}

func TestManager_CreateAndRetrieveRoundTrip(t *testing.T) {
	sqlite, export := newTestStore(t)
	seedPatientWithProcedure(t, sqlite)

	dir := t.TempDir()
	manager, err := NewManager(export, dir, 0, 0, sqlite.Logger)
	require.NoError(t, err)

	path, err := manager.CreateManualBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	envelope, err := manager.RetrieveBackup(filepath.Base(path))
	require.NoError(t, err)
	require.NotNil(t, envelope.Metadata)
	require.NotNil(t, envelope.Data)

	assert.Equal(t, KindManual, envelope.Metadata.Kind)
	assert.Equal(t, storage.SchemaVersion, envelope.Metadata.SchemaVersion)
	assert.Equal(t, 1, envelope.Metadata.Counts["patients"])
	assert.Equal(t, 1, envelope.Metadata.Counts["procedures"])
	assert.Equal(t, 2, envelope.Metadata.Counts["vessel_measurements"])

	require.Len(t, envelope.Data.Patients, 1)
	assert.Equal(t, "MRN-001", envelope.Data.Patients[0].PatientID)
	require.Len(t, envelope.Data.VesselMeasurements, 2)
}

func TestManager_RetentionPrunesOldest(t *testing.T) {
	sqlite, export := newTestStore(t)

	dir := t.TempDir()
	manager, err := NewManager(export, dir, 3, 2, sqlite.Logger)
	require.NoError(t, err)

	var paths []string
	for i := 0; i < 5; i++ {
		path, err := manager.CreateManualBackup(context.Background())
		require.NoError(t, err)
		paths = append(paths, path)
	}

	infos, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, infos, 3)

	// Newest three survive, oldest two are gone.
	surviving := map[string]bool{}
	for _, info := range infos {
		surviving[info.Name] = true
	}
	assert.True(t, surviving[filepath.Base(paths[4])])
	assert.True(t, surviving[filepath.Base(paths[3])])
	assert.True(t, surviving[filepath.Base(paths[2])])
	assert.NoFileExists(t, paths[0])
	assert.NoFileExists(t, paths[1])
}

func TestManager_RetentionIsPerKind(t *testing.T) {
	sqlite, export := newTestStore(t)

	dir := t.TempDir()
	manager, err := NewManager(export, dir, 2, 1, sqlite.Logger)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := manager.CreateManualBackup(context.Background())
		require.NoError(t, err)
		manager.CreateAutoBackup(context.Background())
	}

	infos, err := manager.ListBackups()
	require.NoError(t, err)

	var manual, auto int
	for _, info := range infos {
		switch info.Kind {
		case KindManual:
			manual++
		case KindAuto:
			auto++
		}
	}
	assert.Equal(t, 2, manual)
	assert.Equal(t, 1, auto)
}

func TestManager_ListNewestFirst(t *testing.T) {
	sqlite, export := newTestStore(t)

	manager, err := NewManager(export, t.TempDir(), 0, 0, sqlite.Logger)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := manager.CreateManualBackup(context.Background())
		require.NoError(t, err)
	}

	infos, err := manager.ListBackups()
	require.NoError(t, err)
	require.Len(t, infos, 3)
	// Artifact names embed the timestamp, so newest-first means
	// lexicographically descending.
	assert.Greater(t, infos[0].Name, infos[1].Name)
	assert.Greater(t, infos[1].Name, infos[2].Name)
}

func TestManager_RetrieveRejectsBadNames(t *testing.T) {
	sqlite, export := newTestStore(t)

	manager, err := NewManager(export, t.TempDir(), 0, 0, sqlite.Logger)
	require.NoError(t, err)

	for _, name := range []string{
		"",
		"../../etc/passwd",
		"backup_manual_x/evil.json",
		"notes.txt",
		"restore_manual_20260101T000000.000000000.json",
	} {
		_, err := manager.RetrieveBackup(name)
		assert.ErrorIs(t, err, storage.ErrInvalidBackup, name)
	}

	_, err = manager.RetrieveBackup("backup_manual_20260101T000000.000000000.json")
	assert.ErrorIs(t, err, storage.ErrBackupNotFound)
}

func TestManager_RetrieveRejectsMalformedEnvelope(t *testing.T) {
	sqlite, export := newTestStore(t)

	dir := t.TempDir()
	manager, err := NewManager(export, dir, 0, 0, sqlite.Logger)
	require.NoError(t, err)

	cases := map[string]string{
		"backup_manual_20260101T000000.000000001.json": `{not json`,
		"backup_manual_20260101T000000.000000002.json": `{"data": {}}`,
		"backup_manual_20260101T000000.000000003.json": `{"metadata": {"kind": "manual"}}`,
	}
	for name, contents := range cases {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o600))
		_, err := manager.RetrieveBackup(name)
		assert.ErrorIs(t, err, storage.ErrInvalidBackup, name)
	}
}

func TestManager_AutoBackupSwallowsFailures(t *testing.T) {
	sqlite, export := newTestStore(t)

	manager, err := NewManager(export, t.TempDir(), 0, 0, sqlite.Logger)
	require.NoError(t, err)

	// Close the database so the snapshot must fail. Auto backups only log.
	require.NoError(t, sqlite.Close())
	manager.CreateAutoBackup(context.Background())

	infos, err := manager.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, infos)
}
