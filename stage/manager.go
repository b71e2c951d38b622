// Package stage mediates local-file to remote-run artifact transport
// with per-stage load and skip-log policies. An acquisition borrows a
// path under the manager's scratch directory, optionally preloads it
// from a source run, hands it to the caller, and uploads the result to
// a destination run when the scope exits.
package stage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/runkv/runstore"
)

// Manager owns a scratch directory and the stage policies that steer
// acquisitions. It is not safe for concurrent use of the same scratch
// path.
type Manager struct {
	client  runstore.Client
	scratch string
	keep    bool
	log     *slog.Logger

	destination string
	loadAll     string
	loadByStage map[string]string
	skipAll     bool
	skipStages  map[string]bool
}

type ManagerOption func(*Manager)

// WithScratchDir pins the scratch directory instead of a fresh
// temporary directory at Init.
func WithScratchDir(dir string) ManagerOption {
	return func(m *Manager) { m.scratch = dir }
}

// WithKeepScratch suppresses scratch-directory removal on Cleanup.
func WithKeepScratch() ManagerOption {
	return func(m *Manager) { m.keep = true }
}

func WithLogger(log *slog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func NewManager(client runstore.Client, opts ...ManagerOption) (*Manager, error) {
	if client == nil {
		return nil, errors.New("run store client is required")
	}
	m := &Manager{
		client:      client,
		loadByStage: map[string]string{},
		skipStages:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m, nil
}

// Init ensures the scratch directory exists. Safe to call repeatedly.
func (m *Manager) Init() error {
	if m.scratch != "" {
		if err := os.MkdirAll(m.scratch, 0o755); err != nil {
			return fmt.Errorf("create scratch dir: %w", err)
		}
		return nil
	}
	dir, err := os.MkdirTemp("", "runkv_")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	m.scratch = dir
	return nil
}

// Cleanup removes the scratch directory unless keep-scratch is set and
// clears its reference. Acquisitions after Cleanup allocate a fresh
// scratch directory.
func (m *Manager) Cleanup() error {
	if m.scratch == "" {
		return nil
	}
	dir := m.scratch
	m.scratch = ""
	if m.keep {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

// ScratchDir returns the current scratch directory, empty before Init.
func (m *Manager) ScratchDir() string { return m.scratch }

// SetDestination sets the fallback destination run used when an
// acquisition names none.
func (m *Manager) SetDestination(runID string) { m.destination = runID }

// SetLoad maps stages to a source run. With no stages the mapping
// applies to every staged acquisition.
func (m *Manager) SetLoad(runID string, stages ...string) {
	if len(stages) == 0 {
		m.loadAll = runID
		return
	}
	for _, s := range stages {
		m.loadByStage[s] = runID
	}
}

// SetSkipLog marks stages whose acquisitions skip the exit upload.
// With no stages the policy applies to every staged acquisition.
func (m *Manager) SetSkipLog(stages ...string) {
	if len(stages) == 0 {
		m.skipAll = true
		return
	}
	for _, s := range stages {
		m.skipStages[s] = true
	}
}

// WillLoad reports whether each named stage resolves to a source run.
// With no arguments it reports whether any load mapping is set.
func (m *Manager) WillLoad(stages ...string) bool {
	if len(stages) == 0 {
		return m.loadAll != "" || len(m.loadByStage) > 0
	}
	for _, s := range stages {
		if m.sourceFor(s) == "" {
			return false
		}
	}
	return true
}

func (m *Manager) sourceFor(stage string) string {
	if stage == "" {
		return ""
	}
	if id, ok := m.loadByStage[stage]; ok {
		return id
	}
	return m.loadAll
}

func (m *Manager) skipFor(stage string) bool {
	if stage == "" {
		return false
	}
	return m.skipAll || m.skipStages[stage]
}

// scratchPath resolves a caller-relative path under the scratch
// directory, rejecting paths that escape it.
func (m *Manager) scratchPath(rel string) (string, error) {
	rel = strings.TrimSuffix(rel, string(filepath.Separator))
	rel = strings.TrimSuffix(rel, "/")
	if strings.TrimSpace(rel) == "" {
		return "", errors.New("path is required")
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the scratch dir", rel)
	}
	return filepath.Join(m.scratch, cleaned), nil
}
