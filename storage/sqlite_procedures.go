package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen/core"
	"lumen/metrics"
)

// ProcedureStorage handles clinical procedures and their vessel
// measurements. A procedure and its measurement sequence always persist as
// one atomic unit.
type ProcedureStorage struct {
	sqlite   *SQLite
	patients *PatientStorage
	audit    *AuditStorage
	logger   *zap.SugaredLogger
}

// NewProcedureStorage creates a SQLite-backed procedure storage.
func NewProcedureStorage(sqlite *SQLite, patients *PatientStorage, audit *AuditStorage, logger *zap.SugaredLogger) *ProcedureStorage {
	return &ProcedureStorage{
		sqlite:   sqlite,
		patients: patients,
		audit:    audit,
		logger:   logger,
	}
}

// CreateProcedure persists a procedure with its ordered vessel measurement
// sequence. The named study is resolved or created inside the same
// transaction, so either every row lands or none do. Input shape is
// validated before the transaction begins. Returns ErrPatientNotFound if
// the external patient id resolves to nothing.
func (prs *ProcedureStorage) CreateProcedure(ctx context.Context, patientExternalID, studyName, procedureDate string, measurements []core.MeasurementInput, notes, actorID string) (*core.Procedure, error) {
	start := time.Now()

	if strings.TrimSpace(studyName) == "" {
		return nil, core.NewValidationError("study_name", "is required")
	}
	if err := core.ValidateDate("procedure_date", procedureDate); err != nil {
		return nil, err
	}
	if err := core.ValidateMeasurements(measurements); err != nil {
		return nil, err
	}

	patient, err := prs.patients.GetByPatientID(ctx, patientExternalID)
	if err != nil {
		return nil, err
	}

	procedure := &core.Procedure{
		ID:            uuid.New().String(),
		PatientID:     patient.ID,
		ProcedureDate: procedureDate,
		PerformedBy:   actorID,
		Notes:         notes,
		CreatedAt:     time.Now().UTC(),
	}

	err = prs.sqlite.WithTransaction(func(tx *sql.Tx) error {
		study, err := getOrCreateStudyTx(ctx, tx, studyName)
		if err != nil {
			return err
		}
		procedure.StudyID = study.ID
		procedure.StudyName = study.Name

		var performedBy interface{}
		if actorID != "" {
			performedBy = actorID
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO procedures (id, patient_id, study_id, study_name, procedure_date, performed_by, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			procedure.ID,
			procedure.PatientID,
			procedure.StudyID,
			procedure.StudyName,
			procedure.ProcedureDate,
			performedBy,
			procedure.Notes,
			procedure.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert procedure: %w", err)
		}

		for i, m := range measurements {
			vm := core.VesselMeasurement{
				ID:                 uuid.New().String(),
				ProcedureID:        procedure.ID,
				VesselName:         m.VesselName,
				StenosisPercentage: m.StenosisPercentage,
				MeasurementMethod:  m.MeasurementMethod,
				Notes:              m.Notes,
				Seq:                i,
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO vessel_measurements (id, procedure_id, vessel_name, stenosis_percentage, measurement_method, notes, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				vm.ID,
				vm.ProcedureID,
				vm.VesselName,
				vm.StenosisPercentage,
				nullable(vm.MeasurementMethod),
				nullable(vm.Notes),
				vm.Seq,
			)
			if err != nil {
				return fmt.Errorf("failed to insert vessel measurement %d: %w", i, err)
			}

			procedure.Measurements = append(procedure.Measurements, vm)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	newValues, _ := json.Marshal(procedure)
	prs.audit.Record(ctx, actorID, core.AuditActionCreate, "procedures", procedure.ID, "", string(newValues))

	metrics.RecordMutations.WithLabelValues("procedures", "create").Inc()
	metrics.MutationDuration.Observe(time.Since(start).Seconds())

	prs.logger.Infow("Created procedure",
		"procedure_id", procedure.ID,
		"patient_id", patientExternalID,
		"study", procedure.StudyName,
		"measurements", len(procedure.Measurements))
	return procedure, nil
}

// GetProcedures returns a patient's procedures ordered by procedure_date
// descending, each carrying its measurement sequence in insertion order.
// Returns ErrPatientNotFound if the external patient id is unknown.
func (prs *ProcedureStorage) GetProcedures(ctx context.Context, patientExternalID string) ([]*core.Procedure, error) {
	patient, err := prs.patients.GetByPatientID(ctx, patientExternalID)
	if err != nil {
		return nil, err
	}

	rows, err := prs.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, patient_id, study_id, study_name, procedure_date, performed_by, notes, created_at
		FROM procedures
		WHERE patient_id = ?
		ORDER BY procedure_date DESC, created_at DESC
	`, patient.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query procedures: %w", err)
	}
	defer rows.Close()

	var procedures []*core.Procedure
	for rows.Next() {
		procedure, err := scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		procedures = append(procedures, procedure)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating procedures: %w", err)
	}

	for _, procedure := range procedures {
		measurements, err := prs.measurementsFor(ctx, procedure.ID)
		if err != nil {
			return nil, err
		}
		procedure.Measurements = measurements
	}

	return procedures, nil
}

// measurementsFor returns a procedure's measurements in insertion order.
func (prs *ProcedureStorage) measurementsFor(ctx context.Context, procedureID string) ([]core.VesselMeasurement, error) {
	rows, err := prs.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, procedure_id, vessel_name, stenosis_percentage, measurement_method, notes, seq
		FROM vessel_measurements
		WHERE procedure_id = ?
		ORDER BY seq
	`, procedureID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vessel measurements: %w", err)
	}
	defer rows.Close()

	var measurements []core.VesselMeasurement
	for rows.Next() {
		var vm core.VesselMeasurement
		var method, vmNotes sql.NullString

		err := rows.Scan(
			&vm.ID,
			&vm.ProcedureID,
			&vm.VesselName,
			&vm.StenosisPercentage,
			&method,
			&vmNotes,
			&vm.Seq,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vessel measurement: %w", err)
		}

		if method.Valid {
			vm.MeasurementMethod = method.String
		}
		if vmNotes.Valid {
			vm.Notes = vmNotes.String
		}
		measurements = append(measurements, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vessel measurements: %w", err)
	}

	return measurements, nil
}

func scanProcedure(rows *sql.Rows) (*core.Procedure, error) {
	var procedure core.Procedure
	var performedBy sql.NullString
	var createdAt string

	err := rows.Scan(
		&procedure.ID,
		&procedure.PatientID,
		&procedure.StudyID,
		&procedure.StudyName,
		&procedure.ProcedureDate,
		&performedBy,
		&procedure.Notes,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan procedure: %w", err)
	}

	if performedBy.Valid {
		procedure.PerformedBy = performedBy.String
	}
	procedure.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &procedure, nil
}

// nullable maps an empty string to NULL for optional TEXT columns.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
