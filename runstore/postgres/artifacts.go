package postgres

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/animus-labs/runkv/objectstore"
	"github.com/animus-labs/runkv/runstore"
)

// runPrefix resolves the object-store key prefix of a run, checking
// the run exists on the way. Deleted runs keep readable artifacts.
func (s *Store) runPrefix(ctx context.Context, runID string) (string, error) {
	run, err := s.readRun(ctx, runID)
	if err != nil {
		return "", err
	}
	return objectstore.RunPrefix(run.ExperimentID, run.ID), nil
}

// activeRunPrefix is runPrefix restricted to active runs, for the
// upload paths.
func (s *Store) activeRunPrefix(ctx context.Context, runID string) (string, error) {
	run, err := s.readRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if run.Lifecycle == runstore.LifecycleDeleted {
		return "", fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	return objectstore.RunPrefix(run.ExperimentID, run.ID), nil
}

func normalizeArtifactPath(p string) string {
	return strings.Trim(path.Clean("/"+filepath.ToSlash(p)), "/")
}

func (s *Store) UploadArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	if s == nil || s.artifacts == nil {
		return fmt.Errorf("store not initialized")
	}
	prefix, err := s.activeRunPrefix(ctx, runID)
	if err != nil {
		return err
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(localPath)
	}
	rel := normalizeArtifactPath(artifactPath)
	if rel == "" || rel == "." {
		return errors.New("artifact path is required")
	}
	return s.artifacts.UploadFile(ctx, path.Join(prefix, rel), localPath)
}

func (s *Store) UploadArtifactDir(ctx context.Context, runID, localDir, artifactPath string) error {
	if s == nil || s.artifacts == nil {
		return fmt.Errorf("store not initialized")
	}
	prefix, err := s.activeRunPrefix(ctx, runID)
	if err != nil {
		return err
	}
	localDir = strings.TrimSuffix(localDir, string(filepath.Separator))
	if artifactPath == "" {
		artifactPath = filepath.Base(localDir)
	}
	rel := normalizeArtifactPath(artifactPath)
	return objectstore.UploadTree(ctx, s.artifacts, path.Join(prefix, rel), localDir)
}

func (s *Store) DownloadArtifact(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if s == nil || s.artifacts == nil {
		return "", fmt.Errorf("store not initialized")
	}
	prefix, err := s.runPrefix(ctx, runID)
	if err != nil {
		return "", err
	}
	rel := normalizeArtifactPath(artifactPath)
	if rel == "" || rel == "." {
		return "", errors.New("artifact path is required")
	}
	dest := filepath.Join(destDir, filepath.FromSlash(rel))
	if err := s.artifacts.DownloadFile(ctx, path.Join(prefix, rel), dest); err != nil {
		if errors.Is(err, objectstore.ErrNotExist) {
			return "", fmt.Errorf("artifact %s of run %s: %w", artifactPath, runID, runstore.ErrNotFound)
		}
		return "", err
	}
	return dest, nil
}

func (s *Store) DownloadArtifactDir(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if s == nil || s.artifacts == nil {
		return "", fmt.Errorf("store not initialized")
	}
	prefix, err := s.runPrefix(ctx, runID)
	if err != nil {
		return "", err
	}
	rel := normalizeArtifactPath(artifactPath)
	dest := destDir
	key := prefix
	if rel != "" && rel != "." {
		dest = filepath.Join(destDir, filepath.FromSlash(rel))
		key = path.Join(prefix, rel)
	}
	if err := objectstore.DownloadTree(ctx, s.artifacts, key, dest); err != nil {
		if errors.Is(err, objectstore.ErrNotExist) {
			return "", fmt.Errorf("artifact %s of run %s: %w", artifactPath, runID, runstore.ErrNotFound)
		}
		return "", err
	}
	return dest, nil
}
