// Package cmd provides command-line administration for the clinical
// record service.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"lumen/bootstrap"
	"lumen/config"
	"lumen/core"
	"lumen/storage"
)

// Global flags for admin commands
var (
	outputJSON bool
	noColor    bool
)

// defaultTimeout bounds every CLI database operation.
const defaultTimeout = 5 * time.Minute

// NewAdminCmd creates the 'admin' command tree.
func NewAdminCmd() *cobra.Command {
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Administer the clinical record service",
		Long: `Administer users, backups, and exports directly against the database.

These commands open the database file themselves and must not run while the
server is running against the same file.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	adminCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	adminCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	adminCmd.AddCommand(newUserCmd())
	adminCmd.AddCommand(newBackupCmd())
	adminCmd.AddCommand(newExportCmd())

	return adminCmd
}

// initComponents opens the database and wires the storage layer for CLI use.
func initComponents(ctx context.Context) (*bootstrap.StorageComponents, *config.Config, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ResolveDataPaths()

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	sugar := logger.Sugar()

	sqlite, err := storage.NewSQLite(cfg.GetSQLitePath(), sugar)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	components, err := bootstrap.InitStorage(sqlite, cfg, sugar)
	if err != nil {
		sqlite.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		sqlite.Close()
		logger.Sync()
	}
	return components, cfg, cleanup, nil
}

// newUserCmd creates the 'user' subcommand tree.
func newUserCmd() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	userCmd.AddCommand(newUserCreateCmd())
	userCmd.AddCommand(newUserListCmd())
	userCmd.AddCommand(newUserDeactivateCmd())
	return userCmd
}

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		name     string
		role     string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if !core.ValidRole(role) {
				return fmt.Errorf("unknown role %q (valid: %s, %s, %s)",
					role, core.RoleAdmin, core.RoleTechnician, core.RolePhysician)
			}
			if len(password) < 12 {
				return fmt.Errorf("password must be at least 12 characters")
			}

			components, cfg, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			hash, err := bcrypt.GenerateFromPassword([]byte(password), cfg.Auth.BcryptCost)
			if err != nil {
				return fmt.Errorf("failed to hash password: %w", err)
			}

			user := &core.User{
				Email:        email,
				Name:         name,
				Role:         role,
				PasswordHash: string(hash),
				Active:       true,
			}

			created, err := components.UserStorage.CreateUser(ctx, user)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			if outputJSON {
				return outputAsJSON(created)
			}
			successColor.Printf("User created: %s (%s, %s)\n", created.Email, created.Role, created.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (required)")
	cmd.Flags().StringVar(&role, "role", core.RoleTechnician, "Role: admin, technician, or physician")
	cmd.Flags().StringVar(&password, "password", "", "Initial password (required, min 12 chars)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("password")

	return cmd
}

func newUserListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			users, err := components.UserStorage.ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if outputJSON {
				return outputAsJSON(users)
			}
			renderUsersTable(users)
			return nil
		},
	}
}

func newUserDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <user-id>",
		Short: "Deactivate a user account",
		Long:  "Disable an account without deleting it. Audit references to the user remain intact.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := components.UserStorage.DeactivateUser(ctx, args[0], ""); err != nil {
				return fmt.Errorf("failed to deactivate user: %w", err)
			}

			successColor.Printf("User %s deactivated\n", args[0])
			return nil
		},
	}
}

// newBackupCmd creates the 'backup' subcommand tree.
func newBackupCmd() *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage database backups",
	}
	backupCmd.AddCommand(newBackupCreateCmd())
	backupCmd.AddCommand(newBackupListCmd())
	backupCmd.AddCommand(newBackupShowCmd())
	return backupCmd
}

func newBackupCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a backup now",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var s *spinner.Spinner
			if !outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Creating backup..."
				s.Start()
			}

			path, err := components.BackupManager.CreateManualBackup(ctx)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(map[string]string{"artifact": path})
			}
			successColor.Printf("Backup written: %s\n", path)
			return nil
		},
	}
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List retained backup artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			infos, err := components.BackupManager.ListBackups()
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if outputJSON {
				return outputAsJSON(infos)
			}
			renderBackupsTable(infos)
			return nil
		},
	}
}

func newBackupShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <artifact-name>",
		Short: "Show the contents of a backup artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			envelope, err := components.BackupManager.RetrieveBackup(args[0])
			if err != nil {
				return fmt.Errorf("failed to retrieve backup: %w", err)
			}

			if outputJSON {
				return outputAsJSON(envelope)
			}
			renderBackupDetails(args[0], envelope)
			return nil
		},
	}
}

// newExportCmd creates the 'export' subcommand.
func newExportCmd() *cobra.Command {
	var (
		format     string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all patient records",
		Long:  "Export every patient with every procedure and measurement from one consistent snapshot.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (valid: json, yaml)", format)
			}

			components, _, cleanup, err := initComponents(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var s *spinner.Spinner
			if outputFile != "" {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Exporting..."
				s.Start()
			}

			exports, err := components.ExportStorage.ExportAll(ctx)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			var data []byte
			switch format {
			case "yaml":
				data, err = yaml.Marshal(exports)
			default:
				data, err = json.MarshalIndent(exports, "", "  ")
			}
			if err != nil {
				return fmt.Errorf("failed to encode export: %w", err)
			}

			if outputFile == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(outputFile, data, 0600); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}
			successColor.Printf("Exported %d patients to %s\n", len(exports), outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write to file instead of stdout")

	return cmd
}
