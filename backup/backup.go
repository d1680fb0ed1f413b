// Package backup snapshots the agency database on a schedule and prunes old copies.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/agency/store"
)

const (
	filePrefix = "agency_data_backup_"
	fileSuffix = ".db"
)

// Manager writes backups of one database into a directory, keeping the newest Keep.
type Manager struct {
	db     *store.DB
	dir    string
	keep   int
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source used to name backups.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager. keep below 1 is treated as 1.
func New(db *store.DB, dir string, keep int, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if keep < 1 {
		keep = 1
	}
	m := &Manager{db: db, dir: dir, keep: keep, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run writes a new backup and prunes the oldest beyond the retention count. It
// returns the path of the new file.
func (m *Manager) Run(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := filepath.Join(m.dir, filePrefix+m.now().UTC().Format("20060102_150405")+fileSuffix)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("backup %s already exists", path)
	}
	if err := m.db.BackupTo(ctx, path); err != nil {
		return "", fmt.Errorf("backup database: %w", err)
	}
	m.logger.Info("database backup created", slog.String("path", path))

	if err := m.prune(); err != nil {
		m.logger.Warn("prune backups", slog.Any("err", err))
	}
	return path, nil
}

// List returns existing backup paths, oldest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	paths := []string{}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileSuffix) {
			paths = append(paths, filepath.Join(m.dir, name))
		}
	}
	// Timestamps are fixed-width, so lexical order is chronological.
	slices.Sort(paths)
	return paths, nil
}

func (m *Manager) prune() error {
	paths, err := m.List()
	if err != nil {
		return err
	}
	for len(paths) > m.keep {
		if err := os.Remove(paths[0]); err != nil {
			return fmt.Errorf("remove %s: %w", paths[0], err)
		}
		m.logger.Debug("old backup removed", slog.String("path", paths[0]))
		paths = paths[1:]
	}
	return nil
}
