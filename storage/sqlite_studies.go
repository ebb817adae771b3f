package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen/core"
)

// StudyStorage handles named clinical study records. Studies are created
// lazily the first time a procedure references an unseen name and are never
// deleted by normal flow.
type StudyStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewStudyStorage creates a SQLite-backed study storage.
func NewStudyStorage(sqlite *SQLite, logger *zap.SugaredLogger) *StudyStorage {
	return &StudyStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

// getOrCreateStudyTx resolves a study by name inside tx, creating it if
// unseen. Implemented as INSERT OR IGNORE followed by a re-read so that
// concurrent creators cannot produce duplicate rows. Name matching is
// case-sensitive exact.
func getOrCreateStudyTx(ctx context.Context, tx *sql.Tx, name string) (*core.Study, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO studies (id, name, description, active)
		VALUES (?, ?, '', 1)
	`, uuid.New().String(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert study: %w", err)
	}

	var study core.Study
	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, description, active FROM studies WHERE name = ?
	`, name).Scan(&study.ID, &study.Name, &study.Description, &active)
	if err != nil {
		return nil, fmt.Errorf("failed to read study after upsert: %w", err)
	}
	study.Active = active == 1

	return &study, nil
}

// GetByName retrieves a study by exact name.
func (ss *StudyStorage) GetByName(ctx context.Context, name string) (*core.Study, error) {
	var study core.Study
	var active int
	err := ss.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, name, description, active FROM studies WHERE name = ?
	`, name).Scan(&study.ID, &study.Name, &study.Description, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get study: %w", err)
	}
	study.Active = active == 1
	return &study, nil
}

// ListStudies returns all studies ordered by name.
func (ss *StudyStorage) ListStudies(ctx context.Context) ([]*core.Study, error) {
	rows, err := ss.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, name, description, active FROM studies ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query studies: %w", err)
	}
	defer rows.Close()

	var studies []*core.Study
	for rows.Next() {
		var study core.Study
		var active int
		if err := rows.Scan(&study.ID, &study.Name, &study.Description, &active); err != nil {
			return nil, fmt.Errorf("failed to scan study: %w", err)
		}
		study.Active = active == 1
		studies = append(studies, &study)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating studies: %w", err)
	}

	return studies, nil
}
