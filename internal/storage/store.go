// Package storage abstracts the object store holding uploaded receipt images.
package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/chrisraro/Giya-sub000/internal/config"
)

// ObjectStore is the narrow surface the pipeline needs: receipts are uploaded
// elsewhere, the pipeline only deletes the source image after processing.
type ObjectStore interface {
	Delete(ctx context.Context, path string) error
}

// LocalStore keeps receipt images under a root directory on local disk.
type LocalStore struct {
	root string
}

func NewLocalStore(cfg *config.StorageConfig) *LocalStore {
	return &LocalStore{root: cfg.Root}
}

// Delete removes the image file. A path that is already gone is not an error:
// the delete is best effort and may be retried.
func (s *LocalStore) Delete(ctx context.Context, path string) error {
	// Anchor the path under root so a stored path can never escape it.
	full := filepath.Join(s.root, filepath.Clean("/"+path))
	err := os.Remove(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
