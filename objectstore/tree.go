package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// UploadTree stores every regular file under localDir with its
// relative slash path appended to keyPrefix.
func UploadTree(ctx context.Context, store Store, keyPrefix, localDir string) error {
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := path.Join(keyPrefix, filepath.ToSlash(rel))
		if err := store.UploadFile(ctx, key, p); err != nil {
			return fmt.Errorf("upload %s: %w", rel, err)
		}
		return nil
	})
}

// DownloadTree fetches every object under keyPrefix into destDir,
// rebuilding the relative layout. It returns ErrNotExist when the
// prefix holds no objects.
func DownloadTree(ctx context.Context, store Store, keyPrefix, destDir string) error {
	prefix := strings.TrimSuffix(keyPrefix, "/") + "/"
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("prefix %s: %w", keyPrefix, ErrNotExist)
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		local := filepath.Join(destDir, filepath.FromSlash(rel))
		if err := store.DownloadFile(ctx, key, local); err != nil {
			return err
		}
	}
	return nil
}
