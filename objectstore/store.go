// Package objectstore moves artifact bytes between local paths and a
// bucket-like backend. Keys are slash-separated and relative to the
// configured bucket or root directory. Run artifacts live under the
// conventional prefix returned by RunPrefix.
package objectstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotExist marks a key with no stored object behind it.
var ErrNotExist = errors.New("objectstore: object does not exist")

// Store is the artifact byte transport. Implementations move whole
// files; directory trees are composed on top by UploadTree and
// DownloadTree.
type Store interface {
	// UploadFile stores the local file under key.
	UploadFile(ctx context.Context, key, localPath string) error
	// DownloadFile fetches the object at key into localPath, creating
	// parent directories. Missing keys yield ErrNotExist.
	DownloadFile(ctx context.Context, key, localPath string) error
	// List returns all keys under the prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object at key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}

// RunPrefix is the key prefix holding a run's artifacts.
func RunPrefix(experimentID, runID string) string {
	return fmt.Sprintf("experiments/%s/runs/%s/artifacts", experimentID, runID)
}
