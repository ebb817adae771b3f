package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"lumen/backup"
	"lumen/config"
	"lumen/core"
	"lumen/storage"
)

// newTestAPI wires an API over a temp-dir database with auth disabled, so
// the middleware grants admin access to every request.
func newTestAPI(t *testing.T) (*API, *storage.SQLite) {
	t.Helper()

	logger := zaptest.NewLogger(t).Sugar()
	sqlite, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	audit := storage.NewAuditStorage(sqlite, logger)
	patients := storage.NewPatientStorage(sqlite, audit, logger)
	procedures := storage.NewProcedureStorage(sqlite, patients, audit, logger)
	users := storage.NewUserStorage(sqlite, audit, logger)
	export := storage.NewExportStorage(sqlite, logger)

	backups, err := backup.NewManager(export, t.TempDir(), 0, 0, logger)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Auth.Enabled = false
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.Auth.JWTExpiry = time.Hour

	return NewAPI(patients, procedures, users, export, audit, backups, sqlite, cfg, logger), sqlite
}

func doJSON(t *testing.T, api *API, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	return rec
}

func TestAPI_CreatePatient(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN-001",
		"name":          "Jane Doe",
		"date_of_birth": "1975-03-14",
		"gender":        "F",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created core.Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "MRN-001", created.PatientID)

	// Duplicate identifier conflicts.
	rec = doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN-001",
		"name":          "Someone Else",
		"date_of_birth": "1980-01-01",
		"gender":        "M",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Malformed input is a client error.
	rec = doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN 002",
		"name":          "Bad ID",
		"date_of_birth": "1980-01-01",
		"gender":        "M",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListPatients(t *testing.T) {
	api, _ := newTestAPI(t)

	for i := 1; i <= 3; i++ {
		rec := doJSON(t, api, "POST", "/api/patients", map[string]string{
			"patient_id":    fmt.Sprintf("MRN-%03d", i),
			"name":          "Patient",
			"date_of_birth": "1980-01-01",
			"gender":        "Other",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, api, "GET", "/api/patients", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Patients []core.Patient `json:"patients"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Count)
	assert.Len(t, resp.Patients, 3)
}

func TestAPI_ProceduresLifecycle(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN-001",
		"name":          "Jane Doe",
		"date_of_birth": "1975-03-14",
		"gender":        "F",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, api, "POST", "/api/patients/MRN-001/procedures", map[string]interface{}{
		"study_name":     "CORONARY-2026",
		"procedure_date": "2026-04-10",
		"measurements": []map[string]interface{}{
			{"vessel_name": "LAD", "stenosis_percentage": 70.5},
			{"vessel_name": "RCA", "stenosis_percentage": 0},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created core.Procedure
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Len(t, created.Measurements, 2)

	// Out-of-range measurement rejects the whole procedure.
	rec = doJSON(t, api, "POST", "/api/patients/MRN-001/procedures", map[string]interface{}{
		"study_name":     "CORONARY-2026",
		"procedure_date": "2026-04-11",
		"measurements": []map[string]interface{}{
			{"vessel_name": "LAD", "stenosis_percentage": 100.1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown patient is a 404.
	rec = doJSON(t, api, "POST", "/api/patients/MRN-missing/procedures", map[string]interface{}{
		"study_name":     "S",
		"procedure_date": "2026-04-11",
		"measurements": []map[string]interface{}{
			{"vessel_name": "LAD", "stenosis_percentage": 10},
		},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, api, "GET", "/api/patients/MRN-001/procedures", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Procedures []core.Procedure `json:"procedures"`
		Count      int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count, "the rejected procedure must not persist")
}

func TestAPI_DeletePatient(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN-001",
		"name":          "Jane Doe",
		"date_of_birth": "1975-03-14",
		"gender":        "F",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created core.Patient
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, api, "DELETE", "/api/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, api, "DELETE", "/api/patients/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_ExportAndBackups(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api, "POST", "/api/patients", map[string]string{
		"patient_id":    "MRN-001",
		"name":          "Jane Doe",
		"date_of_birth": "1975-03-14",
		"gender":        "F",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, api, "GET", "/api/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var export struct {
		Patients []core.PatientExport `json:"patients"`
		Count    int                  `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	assert.Equal(t, 1, export.Count)

	rec = doJSON(t, api, "POST", "/api/backups", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var backupResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backupResp))
	artifact := backupResp["artifact"]
	require.NotEmpty(t, artifact)

	rec = doJSON(t, api, "GET", "/api/backups", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list struct {
		Backups []backup.Info `json:"backups"`
		Count   int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = doJSON(t, api, "GET", "/api/backups/"+artifact, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope backup.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Metadata)
	assert.Equal(t, 1, envelope.Metadata.Counts["patients"])

	rec = doJSON(t, api, "GET", "/api/backups/backup_manual_20200101T000000.000000000.json", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_UserManagement(t *testing.T) {
	api, _ := newTestAPI(t)

	rec := doJSON(t, api, "POST", "/api/users", map[string]string{
		"email":    "alice@example.com",
		"name":     "Alice",
		"role":     "physician",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created core.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)

	// Duplicate email, case-insensitive.
	rec = doJSON(t, api, "POST", "/api/users", map[string]string{
		"email":    "ALICE@example.com",
		"name":     "Imposter",
		"role":     "admin",
		"password": "correct-horse-battery",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, api, "GET", "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, api, "POST", "/api/users/"+created.ID+"/deactivate", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPI_HealthCheck(t *testing.T) {
	api, sqlite := newTestAPI(t)

	rec := doJSON(t, api, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, sqlite.Close())
	rec = doJSON(t, api, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_AuthFlow(t *testing.T) {
	api, _ := newTestAPI(t)
	api.config.Auth.Enabled = true

	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame-12345"), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := api.userStorage.CreateUser(context.Background(), &core.User{
		Email:        "alice@example.com",
		Name:         "Alice",
		Role:         core.RoleAdmin,
		PasswordHash: string(hash),
		Active:       true,
	})
	require.NoError(t, err)

	// No token, no access.
	rec := doJSON(t, api, "GET", "/api/patients", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong password.
	rec = doJSON(t, api, "POST", "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "wrong-password-123",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct credentials issue a token.
	rec = doJSON(t, api, "POST", "/api/auth/login", map[string]string{
		"email":    "alice@example.com",
		"password": "open-sesame-12345",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	require.NotEmpty(t, login.Token)
	assert.Equal(t, user.ID, login.UserID)

	req := httptest.NewRequest("GET", "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	recAuth := httptest.NewRecorder()
	api.router.ServeHTTP(recAuth, req)
	assert.Equal(t, http.StatusOK, recAuth.Code)

	// Login stamps last_login.
	got, err := api.userStorage.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastLogin)

	// Garbage token is rejected.
	req = httptest.NewRequest("GET", "/api/patients", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	recBad := httptest.NewRecorder()
	api.router.ServeHTTP(recBad, req)
	assert.Equal(t, http.StatusUnauthorized, recBad.Code)
}

func TestAPI_DeactivatedUserCannotLogin(t *testing.T) {
	api, _ := newTestAPI(t)
	api.config.Auth.Enabled = true

	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame-12345"), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := api.userStorage.CreateUser(context.Background(), &core.User{
		Email:        "bob@example.com",
		Name:         "Bob",
		Role:         core.RoleTechnician,
		PasswordHash: string(hash),
		Active:       true,
	})
	require.NoError(t, err)
	require.NoError(t, api.userStorage.DeactivateUser(context.Background(), user.ID, ""))

	rec := doJSON(t, api, "POST", "/api/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "open-sesame-12345",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
