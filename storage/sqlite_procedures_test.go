package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lumen/core"
)

func TestProcedureStorage_CreateWithMeasurements(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)

	createTestPatient(t, patients, "MRN-001", "")

	created, err := procedures.CreateProcedure(context.Background(), "MRN-001", "CORONARY-2026", "2026-04-10",
		[]core.MeasurementInput{
			{VesselName: "LAD", StenosisPercentage: 70.5, MeasurementMethod: "QCA"},
			{VesselName: "RCA", StenosisPercentage: 0},
			{VesselName: "LCX", StenosisPercentage: 100},
		}, "post-stent review", "")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "CORONARY-2026", created.StudyName)
	assert.NotEmpty(t, created.StudyID)
	require.Len(t, created.Measurements, 3)

	got, err := procedures.GetProcedures(context.Background(), "MRN-001")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0].Measurements, 3)

	// Measurements come back in recorded order, boundaries included.
	assert.Equal(t, "LAD", got[0].Measurements[0].VesselName)
	assert.Equal(t, "RCA", got[0].Measurements[1].VesselName)
	assert.Equal(t, "LCX", got[0].Measurements[2].VesselName)
	assert.Equal(t, 0.0, got[0].Measurements[1].StenosisPercentage)
	assert.Equal(t, 100.0, got[0].Measurements[2].StenosisPercentage)
	assert.Equal(t, "QCA", got[0].Measurements[0].MeasurementMethod)
	assert.Equal(t, "post-stent review", got[0].Notes)
}

func TestProcedureStorage_InvalidMeasurementPersistsNothing(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)

	createTestPatient(t, patients, "MRN-001", "")

	_, err := procedures.CreateProcedure(context.Background(), "MRN-001", "CORONARY-2026", "2026-04-10",
		[]core.MeasurementInput{
			{VesselName: "LAD", StenosisPercentage: 40},
			{VesselName: "RCA", StenosisPercentage: 100.1},
		}, "", "")
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)

	var procCount, measCount, studyCount int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM procedures`).Scan(&procCount))
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM vessel_measurements`).Scan(&measCount))
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM studies`).Scan(&studyCount))
	assert.Zero(t, procCount)
	assert.Zero(t, measCount)
	assert.Zero(t, studyCount, "validation happens before the study is created")
}

func TestProcedureStorage_RejectsEmptyAndOutOfRange(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)

	createTestPatient(t, patients, "MRN-001", "")

	cases := []struct {
		name         string
		measurements []core.MeasurementInput
	}{
		{"empty sequence", nil},
		{"negative percentage", []core.MeasurementInput{{VesselName: "LAD", StenosisPercentage: -0.1}}},
		{"over 100", []core.MeasurementInput{{VesselName: "LAD", StenosisPercentage: 100.01}}},
		{"blank vessel name", []core.MeasurementInput{{VesselName: "  ", StenosisPercentage: 50}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := procedures.CreateProcedure(context.Background(), "MRN-001", "S", "2026-01-01", tc.measurements, "", "")
			var verr *core.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestProcedureStorage_UnknownPatient(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)

	_, err := procedures.CreateProcedure(context.Background(), "MRN-missing", "S", "2026-01-01",
		[]core.MeasurementInput{{VesselName: "LAD", StenosisPercentage: 10}}, "", "")
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestProcedureStorage_StudyGetOrCreate(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)
	studies := NewStudyStorage(sqlite, sqlite.Logger)

	createTestPatient(t, patients, "MRN-001", "")
	measurements := []core.MeasurementInput{{VesselName: "LAD", StenosisPercentage: 20}}

	first, err := procedures.CreateProcedure(context.Background(), "MRN-001", "CAROTID-2026", "2026-01-01", measurements, "", "")
	require.NoError(t, err)
	second, err := procedures.CreateProcedure(context.Background(), "MRN-001", "CAROTID-2026", "2026-02-01", measurements, "", "")
	require.NoError(t, err)

	assert.Equal(t, first.StudyID, second.StudyID, "same name resolves to the same study")

	all, err := studies.ListStudies(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	study, err := studies.GetByName(context.Background(), "CAROTID-2026")
	require.NoError(t, err)
	assert.Equal(t, first.StudyID, study.ID)
}

func TestProcedureStorage_GetProcedures_NewestFirst(t *testing.T) {
	sqlite := newTestSQLite(t)
	audit := NewAuditStorage(sqlite, sqlite.Logger)
	patients := NewPatientStorage(sqlite, audit, sqlite.Logger)
	procedures := NewProcedureStorage(sqlite, patients, audit, sqlite.Logger)

	createTestPatient(t, patients, "MRN-001", "")
	measurements := []core.MeasurementInput{{VesselName: "LAD", StenosisPercentage: 20}}

	for _, date := range []string{"2026-01-05", "2026-03-20", "2026-02-11"} {
		_, err := procedures.CreateProcedure(context.Background(), "MRN-001", "S", date, measurements, "", "")
		require.NoError(t, err)
	}

	got, err := procedures.GetProcedures(context.Background(), "MRN-001")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "2026-03-20", got[0].ProcedureDate)
	assert.Equal(t, "2026-02-11", got[1].ProcedureDate)
	assert.Equal(t, "2026-01-05", got[2].ProcedureDate)
}
