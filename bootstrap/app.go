// Package bootstrap wires configuration, storage, backups, and the API
// server into a running application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"lumen/api"
	"lumen/backup"
	"lumen/config"
	"lumen/core"
)

// App holds every long-lived component of the service.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Storage   *StorageComponents
	Scheduler *backup.Scheduler
	APIServer *api.API
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{}

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("Lumen clinical record service starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := InitSQLite(cfg, sugar)
	if err != nil {
		return nil, err
	}

	components, err := InitStorage(sqlite, cfg, sugar)
	if err != nil {
		sqlite.Close()
		return nil, err
	}
	app.Storage = components

	app.Scheduler = backup.NewScheduler(components.BackupManager, cfg.Backup.Interval, sugar)

	app.APIServer = api.NewAPI(
		components.PatientStorage,
		components.ProcedureStorage,
		components.UserStorage,
		components.ExportStorage,
		components.AuditStorage,
		components.BackupManager,
		sqlite,
		cfg,
		sugar,
	)

	firstRunResult, err := app.runFirstRunSetup(ctx)
	if err != nil {
		sugar.Errorf("First-run setup encountered errors: %v", err)
	} else if firstRunResult.IsFirstRun {
		sugar.Infow("First-run setup completed",
			"admin_created", firstRunResult.AdminCreated,
			"admin_email", firstRunResult.AdminEmail)
	}

	return app, nil
}

// Start starts the backup scheduler and the API server.
func (a *App) Start(ctx context.Context) error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start backup scheduler: %w", err)
	}

	port := fmt.Sprintf(":%d", a.Config.API.Port)
	go func() {
		var err error
		if a.Config.API.TLS {
			a.Sugar.Infow("API server starting with TLS", "port", port)
			err = a.APIServer.StartTLS(port, a.Config.API.CertFile, a.Config.API.KeyFile)
		} else {
			a.Sugar.Infow("API server starting", "port", port)
			err = a.APIServer.Start(port)
		}
		if err != nil && err != http.ErrServerClosed {
			a.Sugar.Errorw("API server failed", "error", err)
		}
	}()

	return nil
}

// WaitForShutdown blocks until SIGINT or SIGTERM.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. The final backup runs
// after the API stops accepting writes and before the database closes.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.Sugar.Info("Phase 1: Stopping API server...")
	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	a.Sugar.Info("Phase 2: Stopping backup scheduler...")
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	a.Sugar.Info("Phase 3: Writing final backup...")
	if a.Storage != nil && a.Storage.BackupManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if path, err := a.Storage.BackupManager.CreateManualBackup(ctx); err != nil {
			a.Sugar.Errorw("Final backup failed", "error", err)
		} else {
			a.Sugar.Infow("Final backup written", "artifact", path)
		}
	}

	a.Sugar.Info("Phase 4: Closing database connections...")
	if a.Storage != nil && a.Storage.SQLite != nil {
		if err := a.Storage.SQLite.Close(); err != nil {
			a.Sugar.Errorw("Failed to close SQLite", "error", err)
		}
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}

// FirstRunResult reports what first-run setup did.
type FirstRunResult struct {
	IsFirstRun   bool
	AdminCreated bool
	AdminEmail   string
}

// runFirstRunSetup creates the initial admin account on an empty database.
func (a *App) runFirstRunSetup(ctx context.Context) (*FirstRunResult, error) {
	result := &FirstRunResult{}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	userCount, err := a.Storage.UserStorage.CountUsers(ctx)
	if err != nil || userCount == 0 {
		result.IsFirstRun = true
	}
	if !result.IsFirstRun {
		return result, nil
	}

	a.Sugar.Info("========================================")
	a.Sugar.Info("FIRST RUN DETECTED - Running initial setup")
	a.Sugar.Info("========================================")

	if !a.Config.Auth.Enabled {
		a.Sugar.Info("Auth disabled, skipping admin account creation")
		return result, nil
	}

	adminEmail := "admin@localhost"
	adminPassword, err := GenerateSecurePassword(24)
	if err != nil {
		return result, fmt.Errorf("failed to generate admin password: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), a.Config.Auth.BcryptCost)
	if err != nil {
		return result, fmt.Errorf("failed to hash admin password: %w", err)
	}

	adminUser := &core.User{
		Email:        adminEmail,
		Name:         "Administrator",
		Role:         core.RoleAdmin,
		PasswordHash: string(hashedPassword),
		Active:       true,
	}

	if _, err := a.Storage.UserStorage.CreateUser(ctx, adminUser); err != nil {
		a.Sugar.Warnf("Failed to create admin user: %v", err)
		return result, nil
	}

	result.AdminCreated = true
	result.AdminEmail = adminEmail

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "     DEFAULT ADMIN CREDENTIALS\n")
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "  Email:    %s\n", adminEmail)
	fmt.Fprintf(os.Stderr, "  Password: %s\n", adminPassword)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "  IMPORTANT: This password will NOT be\n")
	fmt.Fprintf(os.Stderr, "  shown again! Store it securely now.\n")
	fmt.Fprintf(os.Stderr, "========================================\n\n")

	return result, nil
}
