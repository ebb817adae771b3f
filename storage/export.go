package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lumen/core"
)

// ExportStorage produces read-only views of the full store: the
// denormalized patient tree for external reporting, and flat point-in-time
// snapshots for the backup coordinator. No side effects, no audit entries.
type ExportStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewExportStorage creates the export storage.
func NewExportStorage(sqlite *SQLite, logger *zap.SugaredLogger) *ExportStorage {
	return &ExportStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// Snapshot is a coherent point-in-time copy of every entity table. All
// tables are read inside one transaction, so a procedure can never
// reference a patient absent from the same snapshot.
type Snapshot struct {
	Users              []core.User              `json:"users"`
	Patients           []core.Patient           `json:"patients"`
	Studies            []core.Study             `json:"studies"`
	Procedures         []core.Procedure         `json:"procedures"`
	VesselMeasurements []core.VesselMeasurement `json:"vessel_measurements"`
}

// Counts returns per-table record counts for the snapshot.
func (s *Snapshot) Counts() map[string]int {
	return map[string]int{
		"users":               len(s.Users),
		"patients":            len(s.Patients),
		"studies":             len(s.Studies),
		"procedures":          len(s.Procedures),
		"vessel_measurements": len(s.VesselMeasurements),
	}
}

// Snapshot reads every table inside a single read transaction on the read
// pool. WAL snapshot isolation means concurrent writers are neither blocked
// nor observed mid-cascade.
func (es *ExportStorage) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := es.sqlite.ReadDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{}

	if snap.Users, err = snapshotUsers(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Studies, err = snapshotStudies(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Patients, err = snapshotPatients(ctx, tx); err != nil {
		return nil, err
	}
	if snap.Procedures, err = snapshotProcedures(ctx, tx); err != nil {
		return nil, err
	}
	if snap.VesselMeasurements, err = snapshotMeasurements(ctx, tx); err != nil {
		return nil, err
	}

	return snap, nil
}

// ExportAll returns the denormalized patient -> procedures -> measurements
// tree for every patient, built from one coherent snapshot.
func (es *ExportStorage) ExportAll(ctx context.Context) ([]*core.PatientExport, error) {
	snap, err := es.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	measurementsByProcedure := make(map[string][]core.VesselMeasurement)
	for _, vm := range snap.VesselMeasurements {
		measurementsByProcedure[vm.ProcedureID] = append(measurementsByProcedure[vm.ProcedureID], vm)
	}

	proceduresByPatient := make(map[string][]core.Procedure)
	for _, p := range snap.Procedures {
		p.Measurements = measurementsByProcedure[p.ID]
		proceduresByPatient[p.PatientID] = append(proceduresByPatient[p.PatientID], p)
	}

	exports := make([]*core.PatientExport, 0, len(snap.Patients))
	for _, patient := range snap.Patients {
		procedures := proceduresByPatient[patient.ID]
		patient.ProcedureCount = len(procedures)
		exports = append(exports, &core.PatientExport{
			Patient:    patient,
			Procedures: procedures,
		})
	}

	return exports, nil
}

func snapshotUsers(ctx context.Context, tx *sql.Tx) ([]core.User, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, email, name, role, password_hash, active, created_at, last_login
		FROM users ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot users: %w", err)
	}
	defer rows.Close()

	var users []core.User
	for rows.Next() {
		var user core.User
		var active int
		var createdAt string
		var lastLogin sql.NullString

		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Role,
			&user.PasswordHash, &active, &createdAt, &lastLogin); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		user.Active = active == 1
		user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastLogin.Valid {
			if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
				user.LastLogin = &t
			}
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func snapshotStudies(ctx context.Context, tx *sql.Tx) ([]core.Study, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, description, active FROM studies ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot studies: %w", err)
	}
	defer rows.Close()

	var studies []core.Study
	for rows.Next() {
		var study core.Study
		var active int
		if err := rows.Scan(&study.ID, &study.Name, &study.Description, &active); err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		study.Active = active == 1
		studies = append(studies, study)
	}
	return studies, rows.Err()
}

func snapshotPatients(ctx context.Context, tx *sql.Tx) ([]core.Patient, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, patient_id, name, date_of_birth, gender, created_by, created_at, updated_at
		FROM patients ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot patients: %w", err)
	}
	defer rows.Close()

	var patients []core.Patient
	for rows.Next() {
		var patient core.Patient
		var createdBy sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&patient.ID, &patient.PatientID, &patient.Name,
			&patient.DateOfBirth, &patient.Gender, &createdBy, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}

		if createdBy.Valid {
			patient.CreatedBy = createdBy.String
		}
		patient.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		patient.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

func snapshotProcedures(ctx context.Context, tx *sql.Tx) ([]core.Procedure, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, patient_id, study_id, study_name, procedure_date, performed_by, notes, created_at
		FROM procedures ORDER BY procedure_date DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot procedures: %w", err)
	}
	defer rows.Close()

	var procedures []core.Procedure
	for rows.Next() {
		var procedure core.Procedure
		var performedBy sql.NullString
		var createdAt string

		if err := rows.Scan(&procedure.ID, &procedure.PatientID, &procedure.StudyID,
			&procedure.StudyName, &procedure.ProcedureDate, &performedBy,
			&procedure.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan procedure: %w", err)
		}

		if performedBy.Valid {
			procedure.PerformedBy = performedBy.String
		}
		procedure.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		procedures = append(procedures, procedure)
	}
	return procedures, rows.Err()
}

func snapshotMeasurements(ctx context.Context, tx *sql.Tx) ([]core.VesselMeasurement, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, procedure_id, vessel_name, stenosis_percentage, measurement_method, notes, seq
		FROM vessel_measurements ORDER BY procedure_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot vessel measurements: %w", err)
	}
	defer rows.Close()

	var measurements []core.VesselMeasurement
	for rows.Next() {
		var vm core.VesselMeasurement
		var method, notes sql.NullString

		if err := rows.Scan(&vm.ID, &vm.ProcedureID, &vm.VesselName,
			&vm.StenosisPercentage, &method, &notes, &vm.Seq); err != nil {
			return nil, fmt.Errorf("failed to scan vessel measurement: %w", err)
		}

		if method.Valid {
			vm.MeasurementMethod = method.String
		}
		if notes.Valid {
			vm.Notes = notes.String
		}
		measurements = append(measurements, vm)
	}
	return measurements, rows.Err()
}
