package video

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Workspace is a private temp directory for one job's downloads. Every
// tracked path is removed exactly once by Cleanup.
type Workspace struct {
	dir    string
	remove func(string) error
	logger *slog.Logger

	mu      sync.Mutex
	paths   []string
	cleaned bool
}

// WorkspaceOption configures a Workspace.
type WorkspaceOption func(*Workspace)

// WithRemover replaces os.RemoveAll, for tests that count deletions.
func WithRemover(fn func(string) error) WorkspaceOption {
	return func(w *Workspace) {
		if fn != nil {
			w.remove = fn
		}
	}
}

// WithWorkspaceLogger sets the logger used to report cleanup failures.
func WithWorkspaceLogger(l *slog.Logger) WorkspaceOption {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWorkspace creates a uniquely named directory under base (os.TempDir()
// when empty).
func NewWorkspace(base string, opts ...WorkspaceOption) (*Workspace, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("video: create workspace base: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "enrich-*")
	if err != nil {
		return nil, fmt.Errorf("video: create workspace: %w", err)
	}
	w := &Workspace{dir: dir, remove: os.RemoveAll, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string { return w.dir }

// Track registers path for removal and returns it. Empty paths and paths
// already tracked are ignored.
func (w *Workspace) Track(path string) string {
	if path == "" {
		return path
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range w.paths {
		if p == path {
			return path
		}
	}
	w.paths = append(w.paths, path)
	return path
}

// Paths returns the tracked paths in the order they were added.
func (w *Workspace) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.paths))
	copy(out, w.paths)
	return out
}

// Cleanup removes every tracked path, then the directory. Later calls are
// no-ops.
func (w *Workspace) Cleanup() error {
	w.mu.Lock()
	if w.cleaned {
		w.mu.Unlock()
		return nil
	}
	w.cleaned = true
	paths := w.paths
	w.paths = nil
	w.mu.Unlock()

	var errs []error
	for _, p := range paths {
		if err := w.remove(p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(w.dir); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		w.logger.Warn("workspace cleanup incomplete", "dir", filepath.Base(w.dir), "error", err)
		return err
	}
	return nil
}
