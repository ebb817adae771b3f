package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"lumen/core"
)

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=255"`
	Role     string `json:"role" validate:"required"`
	Password string `json:"password" validate:"required,min=12,max=128"`
}

// createUser registers a new user account. Admin only.
func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	var req createUserRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON in request body", err, a.logger)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user payload", err, a.logger)
		return
	}
	if !core.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Unknown role", nil, a.logger)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), a.config.Auth.BcryptCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password", err, a.logger)
		return
	}

	user := &core.User{
		Email:        req.Email,
		Name:         req.Name,
		Role:         req.Role,
		PasswordHash: string(hash),
		Active:       true,
	}

	created, err := a.userStorage.CreateUser(r.Context(), user)
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created, a.logger)
}

// listUsers returns all user accounts. Admin only.
func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	users, err := a.userStorage.ListUsers(r.Context())
	if err != nil {
		a.writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	}, a.logger)
}

// deactivateUser disables an account without deleting it, preserving audit
// references. Admin only.
func (a *API) deactivateUser(w http.ResponseWriter, r *http.Request) {
	if !a.requireAdmin(w, r) {
		return
	}

	id := mux.Vars(r)["id"]
	if id == UserIDFrom(r.Context()) {
		writeError(w, http.StatusBadRequest, "Cannot deactivate your own account", nil, a.logger)
		return
	}

	if err := a.userStorage.DeactivateUser(r.Context(), id, UserIDFrom(r.Context())); err != nil {
		a.writeStorageError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
