package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/runkv/runstore"
)

func cleanArtifactPath(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return "", nil
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact path escapes run root: %q", p)
	}
	return clean, nil
}

func (s *Store) UploadArtifact(ctx context.Context, runID, localPath, artifactPath string) error {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	if artifactPath == "" {
		artifactPath = filepath.Base(localPath)
	}
	rel, err := cleanArtifactPath(artifactPath)
	if err != nil {
		return err
	}
	if rel == "" {
		return fmt.Errorf("artifact path is required")
	}
	return copyLocalFile(localPath, filepath.Join(s.artifactRoot(runID), rel))
}

func (s *Store) UploadArtifactDir(ctx context.Context, runID, localDir, artifactPath string) error {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	localDir = strings.TrimSuffix(localDir, string(filepath.Separator))
	if artifactPath == "" {
		artifactPath = filepath.Base(localDir)
	}
	rel, err := cleanArtifactPath(artifactPath)
	if err != nil {
		return err
	}
	dest := filepath.Join(s.artifactRoot(runID), rel)
	return copyLocalTree(localDir, dest)
}

func (s *Store) DownloadArtifact(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.readRun(runID); err != nil {
		return "", err
	}
	rel, err := cleanArtifactPath(artifactPath)
	if err != nil {
		return "", err
	}
	if rel == "" {
		return "", fmt.Errorf("artifact path is required")
	}
	src := filepath.Join(s.artifactRoot(runID), rel)
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("artifact %s of run %s: %w", artifactPath, runID, runstore.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat artifact %s: %w", artifactPath, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("artifact %s of run %s is a directory", artifactPath, runID)
	}
	dest := filepath.Join(destDir, rel)
	if err := copyLocalFile(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (s *Store) DownloadArtifactDir(ctx context.Context, runID, artifactPath, destDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := s.readRun(runID); err != nil {
		return "", err
	}
	rel, err := cleanArtifactPath(artifactPath)
	if err != nil {
		return "", err
	}
	src := filepath.Join(s.artifactRoot(runID), rel)
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("artifact %s of run %s: %w", artifactPath, runID, runstore.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("stat artifact %s: %w", artifactPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("artifact %s of run %s is not a directory", artifactPath, runID)
	}
	dest := filepath.Join(destDir, rel)
	if err := copyLocalTree(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyLocalFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dst, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return out.Close()
}

func copyLocalTree(srcDir, dstDir string) error {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dstDir, err)
	}
	return filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dstDir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyLocalFile(p, target)
	})
}
