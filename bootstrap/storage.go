package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"lumen/backup"
	"lumen/config"
	"lumen/storage"
)

// StorageComponents bundles the persistence layer handed to the API and CLI.
type StorageComponents struct {
	SQLite           *storage.SQLite
	AuditStorage     *storage.AuditStorage
	PatientStorage   *storage.PatientStorage
	StudyStorage     *storage.StudyStorage
	ProcedureStorage *storage.ProcedureStorage
	UserStorage      *storage.UserStorage
	ExportStorage    *storage.ExportStorage
	BackupManager    *backup.Manager
}

// InitSQLite opens the database and runs schema creation.
func InitSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	sugar.Infow("SQLite ready", "path", cfg.GetSQLitePath())
	return sqlite, nil
}

// InitStorage wires all storage components on top of an open database.
func InitStorage(sqlite *storage.SQLite, cfg *config.Config, sugar *zap.SugaredLogger) (*StorageComponents, error) {
	audit := storage.NewAuditStorage(sqlite, sugar)
	patients := storage.NewPatientStorage(sqlite, audit, sugar)
	studies := storage.NewStudyStorage(sqlite, sugar)
	procedures := storage.NewProcedureStorage(sqlite, patients, audit, sugar)
	users := storage.NewUserStorage(sqlite, audit, sugar)
	export := storage.NewExportStorage(sqlite, sugar)

	backups, err := backup.NewManager(export, cfg.GetBackupDir(), cfg.Backup.ManualCap, cfg.Backup.AutoCap, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backup manager: %w", err)
	}

	return &StorageComponents{
		SQLite:           sqlite,
		AuditStorage:     audit,
		PatientStorage:   patients,
		StudyStorage:     studies,
		ProcedureStorage: procedures,
		UserStorage:      users,
		ExportStorage:    export,
		BackupManager:    backups,
	}, nil
}
