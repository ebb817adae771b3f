package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen/core"
	"lumen/metrics"
)

// UserStorage handles user identity records. Password hashing is the
// caller's responsibility; this layer stores and returns hashes only.
// Users are deactivated, never hard-deleted.
type UserStorage struct {
	sqlite *SQLite
	audit  *AuditStorage
	logger *zap.SugaredLogger
}

// NewUserStorage creates a SQLite-backed user storage.
func NewUserStorage(sqlite *SQLite, audit *AuditStorage, logger *zap.SugaredLogger) *UserStorage {
	return &UserStorage{
		sqlite: sqlite,
		audit:  audit,
		logger: logger,
	}
}

// CreateUser persists a new user. Email uniqueness is case-insensitive and
// enforced by the storage layer; a duplicate returns ErrDuplicateEmail.
func (us *UserStorage) CreateUser(ctx context.Context, user *core.User) (*core.User, error) {
	if user.Email == "" {
		return nil, core.NewValidationError("email", "is required")
	}
	if user.Name == "" {
		return nil, core.NewValidationError("name", "is required")
	}
	if !core.ValidRole(user.Role) {
		return nil, core.NewValidationError("role", "must be admin, technician, or physician")
	}
	if user.PasswordHash == "" {
		return nil, core.NewValidationError("password_hash", "is required")
	}

	user.ID = uuid.New().String()
	user.Active = true
	user.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO users (id, email, name, role, password_hash, active, created_at, last_login)
		VALUES (?, ?, ?, ?, ?, 1, ?, NULL)
	`

	_, err := us.sqlite.DB.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Role,
		user.PasswordHash,
		user.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err, "users.email") {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	newValues, _ := json.Marshal(user)
	us.audit.Record(ctx, user.ID, core.AuditActionCreate, "users", user.ID, "", string(newValues))

	metrics.RecordMutations.WithLabelValues("users", "create").Inc()

	us.logger.Infow("Created user", "email", user.Email, "role", user.Role)
	return user, nil
}

// GetUserByEmail retrieves a user by email (case-insensitive).
func (us *UserStorage) GetUserByEmail(ctx context.Context, email string) (*core.User, error) {
	query := `
		SELECT id, email, name, role, password_hash, active, created_at, last_login
		FROM users
		WHERE email = ?
	`
	return us.scanOne(us.sqlite.ReadDB.QueryRowContext(ctx, query, email))
}

// GetUserByID retrieves a user by ID.
func (us *UserStorage) GetUserByID(ctx context.Context, id string) (*core.User, error) {
	query := `
		SELECT id, email, name, role, password_hash, active, created_at, last_login
		FROM users
		WHERE id = ?
	`
	return us.scanOne(us.sqlite.ReadDB.QueryRowContext(ctx, query, id))
}

func (us *UserStorage) scanOne(row *sql.Row) (*core.User, error) {
	var user core.User
	var active int
	var createdAt string
	var lastLogin sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Role,
		&user.PasswordHash,
		&active,
		&createdAt,
		&lastLogin,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.Active = active == 1
	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastLogin.Valid {
		if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
			user.LastLogin = &t
		}
	}

	return &user, nil
}

// UpdateLastLogin stamps the user's last successful login time.
func (us *UserStorage) UpdateLastLogin(ctx context.Context, id string) error {
	result, err := us.sqlite.DB.ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeactivateUser marks a user inactive. Users are never hard-deleted so
// historical created_by / performed_by references stay resolvable.
func (us *UserStorage) DeactivateUser(ctx context.Context, id, actorID string) error {
	user, err := us.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	result, err := us.sqlite.DB.ExecContext(ctx, `UPDATE users SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}

	oldValues, _ := json.Marshal(user)
	us.audit.Record(ctx, actorID, core.AuditActionUpdate, "users", id, string(oldValues), `{"active":false}`)

	metrics.RecordMutations.WithLabelValues("users", "update").Inc()

	us.logger.Infow("Deactivated user", "email", user.Email)
	return nil
}

// ListUsers retrieves all users ordered by creation time descending.
func (us *UserStorage) ListUsers(ctx context.Context) ([]*core.User, error) {
	rows, err := us.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, email, name, role, password_hash, active, created_at, last_login
		FROM users
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*core.User
	for rows.Next() {
		var user core.User
		var active int
		var createdAt string
		var lastLogin sql.NullString

		err := rows.Scan(
			&user.ID,
			&user.Email,
			&user.Name,
			&user.Role,
			&user.PasswordHash,
			&active,
			&createdAt,
			&lastLogin,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}

		user.Active = active == 1
		user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if lastLogin.Valid {
			if t, err := time.Parse(time.RFC3339, lastLogin.String); err == nil {
				user.LastLogin = &t
			}
		}

		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// CountUsers returns the total number of users. Used by first-run setup.
func (us *UserStorage) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := us.sqlite.ReadDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
