// Package backup produces and retains point-in-time snapshots of the
// clinical record store.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"lumen/metrics"
	"lumen/storage"
)

// Backup kinds
const (
	KindManual = "manual"
	KindAuto   = "auto"
)

// Default retention caps per kind
const (
	DefaultManualCap = 50
	DefaultAutoCap   = 10
)

// artifactTimeLayout names artifacts deterministically from the creation
// timestamp. Nanosecond resolution keeps names unique and lexicographically
// chronological.
const artifactTimeLayout = "20060102T150405.000000000"

// Metadata is the self-describing header of a backup artifact.
type Metadata struct {
	Kind          string         `json:"kind"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
	Counts        map[string]int `json:"counts"`
}

// Envelope is the persisted artifact shape: metadata plus the full data
// payload keyed by entity table.
type Envelope struct {
	Metadata *Metadata         `json:"metadata"`
	Data     *storage.Snapshot `json:"data"`
}

// Info describes one retained backup artifact.
type Info struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Kind      string    `json:"kind"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager creates, lists, retrieves, and prunes backup artifacts. It only
// reads the store; it never mutates clinical data.
type Manager struct {
	export    *storage.ExportStorage
	dir       string
	manualCap int
	autoCap   int
	logger    *zap.SugaredLogger
}

// NewManager creates a backup manager writing artifacts under dir. Caps of
// zero or below fall back to the defaults.
func NewManager(export *storage.ExportStorage, dir string, manualCap, autoCap int, logger *zap.SugaredLogger) (*Manager, error) {
	if manualCap <= 0 {
		manualCap = DefaultManualCap
	}
	if autoCap <= 0 {
		autoCap = DefaultAutoCap
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Manager{
		export:    export,
		dir:       dir,
		manualCap: manualCap,
		autoCap:   autoCap,
		logger:    logger,
	}, nil
}

// CreateManualBackup snapshots every table, writes a manual artifact, and
// prunes manual artifacts beyond the retention cap. Returns the artifact
// path. Failures surface to the caller.
func (m *Manager) CreateManualBackup(ctx context.Context) (string, error) {
	return m.create(ctx, KindManual, m.manualCap)
}

// CreateAutoBackup is the unattended-timer variant: identical to a manual
// backup but kind=auto with a smaller cap, and failures are logged and
// swallowed so a backup problem can never crash the process.
func (m *Manager) CreateAutoBackup(ctx context.Context) {
	if _, err := m.create(ctx, KindAuto, m.autoCap); err != nil {
		metrics.BackupFailures.WithLabelValues(KindAuto).Inc()
		m.logger.Errorw("Auto backup failed", "error", err)
	}
}

func (m *Manager) create(ctx context.Context, kind string, cap int) (string, error) {
	snap, err := m.export.Snapshot(ctx)
	if err != nil {
		if kind == KindManual {
			metrics.BackupFailures.WithLabelValues(kind).Inc()
		}
		return "", fmt.Errorf("failed to snapshot store: %w", err)
	}

	now := time.Now().UTC()
	envelope := &Envelope{
		Metadata: &Metadata{
			Kind:          kind,
			CreatedAt:     now,
			SchemaVersion: storage.SchemaVersion,
			Counts:        snap.Counts(),
		},
		Data: snap,
	}

	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup envelope: %w", err)
	}

	name := fmt.Sprintf("backup_%s_%s.json", kind, now.Format(artifactTimeLayout))
	path := filepath.Join(m.dir, name)

	if err := os.WriteFile(path, data, 0o600); err != nil {
		if kind == KindManual {
			metrics.BackupFailures.WithLabelValues(kind).Inc()
		}
		return "", fmt.Errorf("failed to write backup artifact: %w", err)
	}

	metrics.BackupsCreated.WithLabelValues(kind).Inc()
	m.logger.Infow("Backup created",
		"kind", kind,
		"path", path,
		"patients", envelope.Metadata.Counts["patients"],
		"procedures", envelope.Metadata.Counts["procedures"])

	if err := m.prune(kind, cap); err != nil {
		// Retention failure does not invalidate the snapshot just written
		m.logger.Errorw("Backup pruning failed", "kind", kind, "error", err)
	}

	return path, nil
}

// prune deletes the oldest artifacts of one kind, by file modification
// time, until at most cap remain.
func (m *Manager) prune(kind string, cap int) error {
	infos, err := m.list()
	if err != nil {
		return err
	}

	var ofKind []Info
	for _, info := range infos {
		if info.Kind == kind {
			ofKind = append(ofKind, info)
		}
	}
	if len(ofKind) <= cap {
		return nil
	}

	// infos is newest-first; everything past the cap goes
	for _, victim := range ofKind[cap:] {
		if err := os.Remove(victim.Path); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", victim.Name, err)
		}
		metrics.BackupsPruned.WithLabelValues(kind).Inc()
		m.logger.Infow("Pruned old backup", "kind", kind, "name", victim.Name)
	}

	return nil
}

// ListBackups returns all retained artifacts, manual and auto, sorted
// newest-first.
func (m *Manager) ListBackups() ([]Info, error) {
	return m.list()
}

func (m *Manager) list() ([]Info, error) {
	files, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		kind, ok := kindFromName(file.Name())
		if !ok {
			continue
		}

		info, err := file.Info()
		if err != nil {
			m.logger.Warnw("Failed to stat backup file", "file", file.Name(), "error", err)
			continue
		}

		backups = append(backups, Info{
			Name:      file.Name(),
			Path:      filepath.Join(m.dir, file.Name()),
			Kind:      kind,
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	// Newest first; artifact names embed the creation timestamp, so the
	// name breaks ties when modification times collide.
	sort.Slice(backups, func(i, j int) bool {
		if backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})

	return backups, nil
}

// RetrieveBackup reads and parses one artifact by name. The payload is
// returned to the caller; it is never applied back into live storage.
func (m *Manager) RetrieveBackup(name string) (*Envelope, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrBackupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup artifact: %w", err)
	}

	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidBackup, err)
	}
	if envelope.Metadata == nil {
		return nil, fmt.Errorf("%w: missing metadata section", storage.ErrInvalidBackup)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("%w: missing data section", storage.ErrInvalidBackup)
	}

	return &envelope, nil
}

// kindFromName parses the backup kind out of an artifact file name.
func kindFromName(name string) (string, bool) {
	if !strings.HasSuffix(name, ".json") {
		return "", false
	}
	switch {
	case strings.HasPrefix(name, "backup_manual_"):
		return KindManual, true
	case strings.HasPrefix(name, "backup_auto_"):
		return KindAuto, true
	}
	return "", false
}

// validateArtifactName rejects names that could escape the backup
// directory.
func validateArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty artifact name", storage.ErrInvalidBackup)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: artifact name contains path separators", storage.ErrInvalidBackup)
	}
	if _, ok := kindFromName(name); !ok {
		return fmt.Errorf("%w: unrecognized artifact name %q", storage.ErrInvalidBackup, name)
	}
	return nil
}
