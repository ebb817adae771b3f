package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen/core"
	"lumen/metrics"
)

// PatientStorage handles patient persistence.
type PatientStorage struct {
	sqlite *SQLite
	audit  *AuditStorage
	logger *zap.SugaredLogger
}

// NewPatientStorage creates a SQLite-backed patient storage.
func NewPatientStorage(sqlite *SQLite, audit *AuditStorage, logger *zap.SugaredLogger) *PatientStorage {
	return &PatientStorage{
		sqlite: sqlite,
		audit:  audit,
		logger: logger,
	}
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure on
// the given column. Uniqueness races are resolved by the storage engine,
// not by check-then-write.
func isUniqueViolation(err error, column string) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: "+column)
}

// CreatePatient validates and persists a new patient. The caller supplies
// PatientID, Name, DateOfBirth, Gender, and CreatedBy; storage assigns the
// row ID and timestamps. Returns ErrDuplicatePatientID if the external
// patient_id is already taken.
func (ps *PatientStorage) CreatePatient(ctx context.Context, patient *core.Patient) (*core.Patient, error) {
	start := time.Now()

	if err := core.ValidatePatient(patient.PatientID, patient.Name, patient.DateOfBirth, patient.Gender); err != nil {
		return nil, err
	}

	patient.ID = uuid.New().String()
	now := time.Now().UTC()
	patient.CreatedAt = now
	patient.UpdatedAt = now

	var createdBy interface{}
	if patient.CreatedBy != "" {
		createdBy = patient.CreatedBy
	}

	query := `
		INSERT INTO patients (id, patient_id, name, date_of_birth, gender, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := ps.sqlite.DB.ExecContext(ctx, query,
		patient.ID,
		patient.PatientID,
		patient.Name,
		patient.DateOfBirth,
		patient.Gender,
		createdBy,
		patient.CreatedAt.Format(time.RFC3339),
		patient.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err, "patients.patient_id") {
			return nil, ErrDuplicatePatientID
		}
		return nil, fmt.Errorf("failed to create patient: %w", err)
	}

	newValues, _ := json.Marshal(patient)
	ps.audit.Record(ctx, patient.CreatedBy, core.AuditActionCreate, "patients", patient.ID, "", string(newValues))

	metrics.RecordMutations.WithLabelValues("patients", "create").Inc()
	metrics.MutationDuration.Observe(time.Since(start).Seconds())

	ps.logger.Infow("Created patient", "patient_id", patient.PatientID, "id", patient.ID)
	return patient, nil
}

// GetByPatientID resolves a patient by the external patient identifier
// (exact, case-sensitive match).
func (ps *PatientStorage) GetByPatientID(ctx context.Context, patientID string) (*core.Patient, error) {
	query := `
		SELECT id, patient_id, name, date_of_birth, gender, created_by, created_at, updated_at
		FROM patients
		WHERE patient_id = ?
	`
	return ps.scanOne(ps.sqlite.ReadDB.QueryRowContext(ctx, query, patientID))
}

// GetByID resolves a patient by row ID.
func (ps *PatientStorage) GetByID(ctx context.Context, id string) (*core.Patient, error) {
	query := `
		SELECT id, patient_id, name, date_of_birth, gender, created_by, created_at, updated_at
		FROM patients
		WHERE id = ?
	`
	return ps.scanOne(ps.sqlite.ReadDB.QueryRowContext(ctx, query, id))
}

func (ps *PatientStorage) scanOne(row *sql.Row) (*core.Patient, error) {
	var patient core.Patient
	var createdBy sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&patient.ID,
		&patient.PatientID,
		&patient.Name,
		&patient.DateOfBirth,
		&patient.Gender,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	if createdBy.Valid {
		patient.CreatedBy = createdBy.String
	}
	patient.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	patient.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &patient, nil
}

// ListPatients returns patients ordered by created_at descending, each
// annotated with a live procedure count computed at query time.
func (ps *PatientStorage) ListPatients(ctx context.Context, limit, offset int) ([]*core.Patient, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT p.id, p.patient_id, p.name, p.date_of_birth, p.gender, p.created_by,
		       p.created_at, p.updated_at,
		       (SELECT COUNT(*) FROM procedures pr WHERE pr.patient_id = p.id) AS procedure_count
		FROM patients p
		ORDER BY p.created_at DESC, p.id
		LIMIT ? OFFSET ?
	`

	rows, err := ps.sqlite.ReadDB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var patients []*core.Patient
	for rows.Next() {
		var patient core.Patient
		var createdBy sql.NullString
		var createdAt, updatedAt string

		err := rows.Scan(
			&patient.ID,
			&patient.PatientID,
			&patient.Name,
			&patient.DateOfBirth,
			&patient.Gender,
			&createdBy,
			&createdAt,
			&updatedAt,
			&patient.ProcedureCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}

		if createdBy.Valid {
			patient.CreatedBy = createdBy.String
		}
		patient.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		patient.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

		patients = append(patients, &patient)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patients: %w", err)
	}

	return patients, nil
}

// DeletePatient removes a patient and cascades over its procedures and
// their vessel measurements inside one transaction: measurements first,
// then procedures, then the patient row. A second call for the same id
// returns ErrPatientNotFound. One summarized audit entry is written per
// call, carrying the deleted row counts.
func (ps *PatientStorage) DeletePatient(ctx context.Context, id string, actorID string) error {
	start := time.Now()

	patient, err := ps.GetByID(ctx, id)
	if err != nil {
		return err
	}

	var measurementsDeleted, proceduresDeleted int64

	err = ps.sqlite.WithTransaction(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM vessel_measurements
			WHERE procedure_id IN (SELECT id FROM procedures WHERE patient_id = ?)
		`, id)
		if err != nil {
			return fmt.Errorf("failed to delete vessel measurements: %w", err)
		}
		measurementsDeleted, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM procedures WHERE patient_id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete procedures: %w", err)
		}
		proceduresDeleted, _ = res.RowsAffected()

		res, err = tx.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete patient: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrPatientNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	oldValues, _ := json.Marshal(map[string]interface{}{
		"patient":              patient,
		"procedures_deleted":   proceduresDeleted,
		"measurements_deleted": measurementsDeleted,
	})
	ps.audit.Record(ctx, actorID, core.AuditActionDelete, "patients", id, string(oldValues), "")

	metrics.RecordMutations.WithLabelValues("patients", "delete").Inc()
	metrics.MutationDuration.Observe(time.Since(start).Seconds())

	ps.logger.Infow("Deleted patient",
		"patient_id", patient.PatientID,
		"procedures_deleted", proceduresDeleted,
		"measurements_deleted", measurementsDeleted)
	return nil
}
