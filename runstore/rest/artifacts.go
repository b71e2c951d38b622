package rest

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

var errNoArtifactStore = errors.New("artifact store is not configured")

// runPrefix resolves the object key prefix for a run. Deleted runs
// resolve too so their artifacts stay readable.
func (c *Client) runPrefix(ctx context.Context, runID string) (string, error) {
	experimentID, ok := c.expByRun[runID]
	if !ok {
		wire, err := c.getWireRun(ctx, runID)
		if err != nil {
			return "", err
		}
		experimentID = wire.Info.ExperimentID
	}
	return objectstore.RunPrefix(experimentID, runID), nil
}

// activeRunPrefix is runPrefix restricted to active runs.
func (c *Client) activeRunPrefix(ctx context.Context, runID string) (string, error) {
	wire, err := c.getWireRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if wire.Info.LifecycleStage == string(runstore.LifecycleDeleted) {
		return "", fmt.Errorf("run %s: %w", runID, runstore.ErrDeleted)
	}
	return objectstore.RunPrefix(wire.Info.ExperimentID, runID), nil
}

func normalizeArtifactPath(p string) string {
	return strings.Trim(path.Clean("/"+filepath.ToSlash(p)), "/")
}

func (c *Client) UploadArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	if c.artifacts == nil {
		return errNoArtifactStore
	}
	prefix, err := c.activeRunPrefix(ctx, runID)
	if err != nil {
		return err
	}
	artifactPath = normalizeArtifactPath(artifactPath)
	if artifactPath == "" || artifactPath == "." {
		artifactPath = filepath.Base(localPath)
	}
	return c.artifacts.UploadFile(ctx, path.Join(prefix, artifactPath), localPath)
}

func (c *Client) UploadArtifactDir(ctx context.Context, runID, localDir, artifactPath string) error {
	if c.artifacts == nil {
		return errNoArtifactStore
	}
	prefix, err := c.activeRunPrefix(ctx, runID)
	if err != nil {
		return err
	}
	localDir = strings.TrimSuffix(localDir, string(filepath.Separator))
	artifactPath = normalizeArtifactPath(artifactPath)
	if artifactPath == "" || artifactPath == "." {
		artifactPath = filepath.Base(localDir)
	}
	return objectstore.UploadTree(ctx, c.artifacts, path.Join(prefix, artifactPath), localDir)
}

func (c *Client) DownloadArtifact(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if c.artifacts == nil {
		return "", errNoArtifactStore
	}
	prefix, err := c.runPrefix(ctx, runID)
	if err != nil {
		return "", err
	}
	artifactPath = normalizeArtifactPath(artifactPath)
	if artifactPath == "" || artifactPath == "." {
		return "", errors.New("artifact path is required")
	}
	dest := filepath.Join(destDir, filepath.FromSlash(artifactPath))
	err = c.artifacts.DownloadFile(ctx, path.Join(prefix, artifactPath), dest)
	if errors.Is(err, objectstore.ErrNotExist) {
		return "", fmt.Errorf("artifact %s: %w", artifactPath, runstore.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Client) DownloadArtifactDir(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if c.artifacts == nil {
		return "", errNoArtifactStore
	}
	prefix, err := c.runPrefix(ctx, runID)
	if err != nil {
		return "", err
	}
	artifactPath = normalizeArtifactPath(artifactPath)
	key := prefix
	dest := destDir
	if artifactPath != "" && artifactPath != "." {
		key = path.Join(prefix, artifactPath)
		dest = filepath.Join(destDir, filepath.FromSlash(artifactPath))
	}
	err = objectstore.DownloadTree(ctx, c.artifacts, key, dest)
	if errors.Is(err, objectstore.ErrNotExist) {
		return "", fmt.Errorf("artifact %s: %w", artifactPath, runstore.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return dest, nil
}
