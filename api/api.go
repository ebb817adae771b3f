// Package api exposes the clinical record service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lumen/backup"
	"lumen/config"
	"lumen/core"
	"lumen/storage"
)

// PatientStorer interface for patient storage
type PatientStorer interface {
	CreatePatient(ctx context.Context, patient *core.Patient) (*core.Patient, error)
	GetByPatientID(ctx context.Context, patientID string) (*core.Patient, error)
	GetByID(ctx context.Context, id string) (*core.Patient, error)
	ListPatients(ctx context.Context, limit, offset int) ([]*core.Patient, error)
	DeletePatient(ctx context.Context, id string, actorID string) error
}

// ProcedureStorer interface for procedure storage
type ProcedureStorer interface {
	CreateProcedure(ctx context.Context, patientExternalID, studyName, procedureDate string, measurements []core.MeasurementInput, notes, actorID string) (*core.Procedure, error)
	GetProcedures(ctx context.Context, patientExternalID string) ([]*core.Procedure, error)
}

// UserStorer interface for user storage
type UserStorer interface {
	CreateUser(ctx context.Context, user *core.User) (*core.User, error)
	GetUserByEmail(ctx context.Context, email string) (*core.User, error)
	GetUserByID(ctx context.Context, id string) (*core.User, error)
	UpdateLastLogin(ctx context.Context, id string) error
	DeactivateUser(ctx context.Context, id, actorID string) error
	ListUsers(ctx context.Context) ([]*core.User, error)
}

// Exporter interface for the full-database export service
type Exporter interface {
	ExportAll(ctx context.Context) ([]*core.PatientExport, error)
}

// AuditReader interface for reading the audit trail
type AuditReader interface {
	List(ctx context.Context, limit, offset int) ([]*core.AuditEntry, error)
	ListByRecord(ctx context.Context, table, recordID string) ([]*core.AuditEntry, error)
}

// BackupManager interface for snapshot artifacts
type BackupManager interface {
	CreateManualBackup(ctx context.Context) (string, error)
	ListBackups() ([]backup.Info, error)
	RetrieveBackup(name string) (*backup.Envelope, error)
}

// API holds the HTTP server and its storage dependencies.
type API struct {
	router         *mux.Router
	server         *http.Server
	patientStorage PatientStorer
	procStorage    ProcedureStorer
	userStorage    UserStorer
	exportStorage  Exporter
	auditStorage   AuditReader
	backups        BackupManager
	sqlite         *storage.SQLite
	config         *config.Config
	logger         *zap.SugaredLogger
}

// NewAPI creates a new API server
func NewAPI(patientStorage PatientStorer, procStorage ProcedureStorer, userStorage UserStorer, exportStorage Exporter, auditStorage AuditReader, backups BackupManager, sqlite *storage.SQLite, cfg *config.Config, logger *zap.SugaredLogger) *API {
	api := &API{
		router:         mux.NewRouter(),
		patientStorage: patientStorage,
		procStorage:    procStorage,
		userStorage:    userStorage,
		exportStorage:  exportStorage,
		auditStorage:   auditStorage,
		backups:        backups,
		sqlite:         sqlite,
		config:         cfg,
		logger:         logger,
	}
	api.setupRoutes()
	return api
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.HandleFunc("/api/auth/login", a.login).Methods("POST")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())

	// Everything below requires a valid token when auth is enabled.
	authed := a.router.PathPrefix("/api").Subrouter()
	authed.Use(a.jwtAuthMiddleware)

	authed.HandleFunc("/patients", a.createPatient).Methods("POST")
	authed.HandleFunc("/patients", a.listPatients).Methods("GET")
	authed.HandleFunc("/patients/{id}", a.deletePatient).Methods("DELETE")
	authed.HandleFunc("/patients/{patientID}/procedures", a.createProcedure).Methods("POST")
	authed.HandleFunc("/patients/{patientID}/procedures", a.getProcedures).Methods("GET")
	authed.HandleFunc("/export", a.exportAll).Methods("GET")
	authed.HandleFunc("/backups", a.createBackup).Methods("POST")
	authed.HandleFunc("/backups", a.listBackups).Methods("GET")
	authed.HandleFunc("/backups/{name}", a.getBackup).Methods("GET")
	authed.HandleFunc("/audit", a.listAudit).Methods("GET")
	authed.HandleFunc("/users", a.createUser).Methods("POST")
	authed.HandleFunc("/users", a.listUsers).Methods("GET")
	authed.HandleFunc("/users/{id}/deactivate", a.deactivateUser).Methods("POST")
}

// Start starts the API server
func (a *API) Start(port string) error {
	a.server = &http.Server{
		Addr:              port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServe()
}

// StartTLS starts the API server with TLS
func (a *API) StartTLS(port, certFile, keyFile string) error {
	a.server = &http.Server{
		Addr:              port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a.server.ListenAndServeTLS(certFile, keyFile)
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck reports database reachability.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if a.sqlite != nil {
		if err := a.sqlite.HealthCheck(); err != nil {
			status["status"] = "degraded"
			status["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status, a.logger)
}
