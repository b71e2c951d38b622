package stage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type acquireOptions struct {
	stage        string
	artifactPath string
	sourceRun    string
	destRun      string
	skipLog      bool
	skipLogSet   bool
	deleteLocal  bool
}

type Option func(*acquireOptions)

// WithStage names the stage the acquisition belongs to so the
// manager's per-stage policies apply.
func WithStage(name string) Option {
	return func(o *acquireOptions) { o.stage = name }
}

// WithArtifactPath overrides the remote artifact path. The default is
// the base name of the local path.
func WithArtifactPath(p string) Option {
	return func(o *acquireOptions) { o.artifactPath = p }
}

// WithSourceRun forces a load from the given run, overriding any
// per-stage mapping.
func WithSourceRun(runID string) Option {
	return func(o *acquireOptions) { o.sourceRun = runID }
}

// WithDestinationRun overrides the manager's fallback destination for
// the exit upload.
func WithDestinationRun(runID string) Option {
	return func(o *acquireOptions) { o.destRun = runID }
}

// WithSkipLog overrides the per-stage skip-log policy for this call.
func WithSkipLog(skip bool) Option {
	return func(o *acquireOptions) {
		o.skipLog = skip
		o.skipLogSet = true
	}
}

// WithDelete controls removal of the local artifact after the exit
// path. Defaults to true.
func WithDelete(del bool) Option {
	return func(o *acquireOptions) { o.deleteLocal = del }
}

func newAcquireOptions(opts []Option) acquireOptions {
	o := acquireOptions{deleteLocal: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithArtifact acquires a single file under the scratch directory for
// the duration of fn. The exit path runs on every return from fn; a
// body error and an exit error are both surfaced.
func (m *Manager) WithArtifact(ctx context.Context, filePath string, fn func(*Resource) error, opts ...Option) error {
	o := newAcquireOptions(opts)
	if err := m.Init(); err != nil {
		return err
	}
	local, err := m.scratchPath(filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	remote := o.artifactPath
	if remote == "" {
		remote = filepath.Base(local)
	}

	loaded := false
	source := o.sourceRun
	if source == "" {
		source = m.sourceFor(o.stage)
	}
	if source != "" {
		got, err := m.client.DownloadArtifact(ctx, source, remote, filepath.Dir(local))
		if err != nil {
			return fmt.Errorf("load artifact %s: %w", remote, err)
		}
		if got != local {
			if err := os.Rename(got, local); err != nil {
				return fmt.Errorf("place loaded artifact: %w", err)
			}
		}
		loaded = true
	}

	skip := m.skipFor(o.stage)
	if o.skipLogSet {
		skip = o.skipLog
	}
	res := &Resource{path: local, loaded: loaded, skip: skip}
	bodyErr := fn(res)
	exitErr := m.saveFile(ctx, o, local, remote, loaded, skip)
	return errors.Join(bodyErr, exitErr)
}

func (m *Manager) saveFile(ctx context.Context, o acquireOptions, local, remote string, loaded, skip bool) error {
	if !skip {
		if _, err := os.Stat(local); err != nil {
			if os.IsNotExist(err) && !loaded {
				return fmt.Errorf("%s: %w", remote, ErrNotProduced)
			}
			return fmt.Errorf("stat artifact: %w", err)
		}
		dest := o.destRun
		if dest == "" {
			dest = m.destination
		}
		if dest == "" {
			return ErrNoDestination
		}
		if err := m.client.UploadArtifact(ctx, dest, local, remote); err != nil {
			return fmt.Errorf("save artifact %s: %w", remote, err)
		}
	}
	if o.deleteLocal {
		if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
			m.log.Warn("remove local artifact", "path", local, "error", err)
		}
	}
	return nil
}

// WithArtifactDir is WithArtifact for a directory tree. Loads pull the
// remote directory's contents, the exit path uploads the whole local
// tree, and deletion removes the tree.
func (m *Manager) WithArtifactDir(ctx context.Context, dirPath string, fn func(*Resource) error, opts ...Option) error {
	o := newAcquireOptions(opts)
	if err := m.Init(); err != nil {
		return err
	}
	local, err := m.scratchPath(dirPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	remote := o.artifactPath
	if remote == "" {
		remote = filepath.Base(local)
	}

	loaded := false
	source := o.sourceRun
	if source == "" {
		source = m.sourceFor(o.stage)
	}
	if source != "" {
		got, err := m.client.DownloadArtifactDir(ctx, source, remote, filepath.Dir(local))
		if err != nil {
			return fmt.Errorf("load artifact dir %s: %w", remote, err)
		}
		if got != local {
			if err := os.Rename(got, local); err != nil {
				return fmt.Errorf("place loaded artifact dir: %w", err)
			}
		}
		loaded = true
	}

	skip := m.skipFor(o.stage)
	if o.skipLogSet {
		skip = o.skipLog
	}
	res := &Resource{path: local, loaded: loaded, skip: skip, isDir: true}
	bodyErr := fn(res)
	exitErr := m.saveDir(ctx, o, local, remote, loaded, skip)
	return errors.Join(bodyErr, exitErr)
}

func (m *Manager) saveDir(ctx context.Context, o acquireOptions, local, remote string, loaded, skip bool) error {
	if !skip {
		info, err := os.Stat(local)
		if err != nil {
			if os.IsNotExist(err) && !loaded {
				return fmt.Errorf("%s: %w", remote, ErrNotProduced)
			}
			return fmt.Errorf("stat artifact dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", local)
		}
		dest := o.destRun
		if dest == "" {
			dest = m.destination
		}
		if dest == "" {
			return ErrNoDestination
		}
		if err := m.client.UploadArtifactDir(ctx, dest, local, remote); err != nil {
			return fmt.Errorf("save artifact dir %s: %w", remote, err)
		}
	}
	if o.deleteLocal {
		if err := os.RemoveAll(local); err != nil {
			m.log.Warn("remove local artifact dir", "path", local, "error", err)
		}
	}
	return nil
}
