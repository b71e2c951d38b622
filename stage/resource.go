package stage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resource describes one acquired artifact for the duration of an
// acquisition body.
type Resource struct {
	path   string
	loaded bool
	skip   bool
	isDir  bool
}

// Path returns the local path of the artifact file or directory.
func (r *Resource) Path() string { return r.path }

// Loaded reports whether the artifact was downloaded from a source
// run before the body ran.
func (r *Resource) Loaded() bool { return r.loaded }

// SkipLog reports whether the exit path will skip the upload.
func (r *Resource) SkipLog() bool { return r.skip }

// IsDir reports whether the resource is a directory tree.
func (r *Resource) IsDir() bool { return r.isDir }

// FilePath resolves a relative path inside a directory resource and
// creates its parent directories.
func (r *Resource) FilePath(rel string) (string, error) {
	if !r.isDir {
		return "", errors.New("resource is not a directory")
	}
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." || filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid relative path %q", rel)
	}
	p := filepath.Join(r.path, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	return p, nil
}
