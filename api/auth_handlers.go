package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"lumen/storage"
)

var validate = validator.New()

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
}

// login authenticates a user and issues a JWT.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	if !a.config.Auth.Enabled {
		writeError(w, http.StatusNotImplemented, "Authentication is disabled in configuration", nil, a.logger)
		return
	}

	var creds loginRequest
	if err := a.decodeJSONBody(w, r, &creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body", err, a.logger)
		return
	}
	if err := validate.Struct(creds); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid login credentials format", err, a.logger)
		return
	}

	user, err := a.userStorage.GetUserByEmail(r.Context(), creds.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			// Burn a bcrypt comparison so missing users cost the same as
			// wrong passwords.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$12$XXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXXX"),
				[]byte(creds.Password))
			writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, a.logger)
			return
		}
		writeError(w, http.StatusInternalServerError, "Authentication failed", err, a.logger)
		return
	}

	if !user.Active {
		a.logger.Warnw("Login attempt for deactivated user", "email", creds.Email)
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, a.logger)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		a.logger.Warnw("Failed login attempt", "email", creds.Email)
		writeError(w, http.StatusUnauthorized, "Invalid credentials", nil, a.logger)
		return
	}

	token, err := generateJWT(user, a.config)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate token", err, a.logger)
		return
	}

	if err := a.userStorage.UpdateLastLogin(r.Context(), user.ID); err != nil {
		a.logger.Warnw("Failed to update last login", "user_id", user.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(a.config.Auth.JWTExpiry),
		UserID:    user.ID,
		Role:      user.Role,
	}, a.logger)
}
