// Package workspace manages the per-execution scratch directories that are
// bind-mounted into execution containers.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sakif/code-runner/internal/apperror"
	"github.com/sakif/code-runner/internal/language"
)

const (
	dirPrefix = "exec-"
	// InputFile is the stdin payload name inside a workspace.
	InputFile = "input.txt"
)

// Workspace is one execution's directory on the host.
type Workspace struct {
	ID         string
	Path       string
	SourceFile string
	HasInput   bool
}

// Manager creates and destroys workspaces under a single root directory.
type Manager struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger
}

// NewManager returns a manager rooted at root. The root is created if missing.
func NewManager(fsys afero.Fs, root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "coderunner")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if ok, _ := afero.DirExists(fsys, abs); !ok {
		if err := fsys.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create workspace root: %w", err)
		}
	}
	return &Manager{fs: fsys, root: abs, logger: logger}, nil
}

// Root returns the absolute directory holding all workspaces.
func (m *Manager) Root() string {
	return m.root
}

// Create allocates a fresh directory for executionID. An existing directory
// with the same name is an error, never reused.
func (m *Manager) Create(executionID string) (*Workspace, error) {
	if executionID == "" || strings.ContainsAny(executionID, `/\`) || strings.Contains(executionID, "..") {
		return nil, apperror.Infrastructure("create workspace", fmt.Errorf("invalid execution id %q", executionID))
	}

	path := filepath.Join(m.root, dirPrefix+executionID)
	if _, err := m.fs.Stat(path); err == nil {
		return nil, apperror.Infrastructure("create workspace", fmt.Errorf("%s already exists", path))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, apperror.Infrastructure("create workspace", err)
	}

	if err := m.fs.Mkdir(path, 0o777); err != nil {
		return nil, apperror.Infrastructure("create workspace", err)
	}
	// Mkdir is subject to umask; the container user is not the owner.
	if err := m.fs.Chmod(path, 0o777); err != nil {
		_ = m.fs.RemoveAll(path)
		return nil, apperror.Infrastructure("create workspace", err)
	}

	m.logger.Debug("workspace created", slog.String("executionId", executionID), slog.String("path", path))
	return &Workspace{ID: executionID, Path: path}, nil
}

// WriteSource writes code under the file name the profile dictates.
func (m *Manager) WriteSource(ws *Workspace, profile language.Profile, code string) error {
	name := profile.FileName(code)
	if err := afero.WriteFile(m.fs, filepath.Join(ws.Path, name), []byte(code), 0o644); err != nil {
		return apperror.Infrastructure("write source", err)
	}
	ws.SourceFile = name
	return nil
}

// WriteInput writes the stdin payload. Empty input writes nothing.
func (m *Manager) WriteInput(ws *Workspace, input string) error {
	if input == "" {
		return nil
	}
	if err := afero.WriteFile(m.fs, filepath.Join(ws.Path, InputFile), []byte(input), 0o644); err != nil {
		return apperror.Infrastructure("write input", err)
	}
	ws.HasInput = true
	return nil
}

// Destroy removes the workspace recursively. It is safe to call more than once
// and returns the error only so callers can log it.
func (m *Manager) Destroy(ws *Workspace) error {
	if ws == nil {
		return nil
	}
	if err := m.fs.RemoveAll(ws.Path); err != nil {
		m.logger.Warn("failed to remove workspace",
			slog.String("executionId", ws.ID),
			slog.String("path", ws.Path),
			slog.String("error", err.Error()),
		)
		return err
	}
	m.logger.Debug("workspace removed", slog.String("executionId", ws.ID))
	return nil
}

// Sweep removes workspace directories last modified before now-olderThan.
// It returns how many were removed. Anything that is not an exec-* directory
// is left alone.
func (m *Manager) Sweep(olderThan time.Duration) (int, error) {
	entries, err := afero.ReadDir(m.fs, m.root)
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), dirPrefix) {
			continue
		}
		if e.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if err := m.fs.RemoveAll(path); err != nil {
			m.logger.Warn("failed to sweep workspace", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		removed++
	}
	return removed, nil
}
