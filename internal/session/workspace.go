package session

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maauso/outro-api/internal/metrics"
	"github.com/maauso/outro-api/internal/session/id"
)

// Workspace is the process-wide staging root that holds session files.
// It carries no state besides the directory itself.
type Workspace struct {
	root   string
	logger *slog.Logger
}

// NewWorkspace creates a Workspace rooted at root.
// If root is empty, a directory under os.TempDir() is used.
// The directory is created if it doesn't exist; calling NewWorkspace again
// for the same root is harmless.
func NewWorkspace(root string, logger *slog.Logger) (*Workspace, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "outro-api")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	return &Workspace{root: root, logger: logger}, nil
}

// Root returns the staging directory path.
func (w *Workspace) Root() string {
	return w.root
}

// Open starts a new session with a fresh unique ID.
func (w *Workspace) Open() *Session {
	s := &Session{
		ID:     id.Generate(),
		dir:    w.root,
		logger: w.logger,
		status: StatusOpen,
		seen:   make(map[string]struct{}),
	}
	metrics.SessionsOpen.Inc()
	return s
}

// Sweep removes session files older than olderThan. They can only exist if a
// previous process died before cleaning up, so Sweep is meant to run once at
// startup. Files not named like session files are left alone.
func (w *Workspace) Sweep(olderThan time.Duration) (int, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return 0, fmt.Errorf("read staging directory: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isSessionFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(w.root, entry.Name())
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			w.logger.Warn("failed to remove stale session file",
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		w.logger.Info("removed stale session files",
			slog.String("root", w.root),
			slog.Int("count", removed),
		)
	}
	return removed, nil
}

func isSessionFile(name string) bool {
	prefix, _, ok := strings.Cut(name, "_")
	return ok && id.Valid(prefix)
}
