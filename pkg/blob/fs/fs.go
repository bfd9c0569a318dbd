package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/pagefs/pkg/blob"
)

// FSBlobStore implements blob.Store on the local filesystem.
//
// Blobs are laid out as {basePath}/{hash[0:2]}/{hash} so no single directory
// grows unbounded. Writes go to a temp file in the target directory and are
// renamed into place, so readers never observe a partially written page.
// Concurrent writers of the same hash are harmless: the bytes are identical
// and the last rename wins.
type FSBlobStore struct {
	basePath string
}

// NewFSBlobStore creates a filesystem blob store rooted at basePath,
// creating the directory if it doesn't exist.
func NewFSBlobStore(ctx context.Context, basePath string) (*FSBlobStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSBlobStore{basePath: basePath}, nil
}

// blobPath returns the full path for a given hash.
func (s *FSBlobStore) blobPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.basePath, "_", hash)
	}
	return filepath.Join(s.basePath, hash[:2], hash)
}

func (s *FSBlobStore) Put(ctx context.Context, hash string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename blob: %w", err)
	}

	return nil
}

func (s *FSBlobStore) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.blobPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", hash, blob.ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return data, nil
}

func (s *FSBlobStore) Exists(ctx context.Context, hash string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(s.blobPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob %s: %w", hash, err)
	}
	return true, nil
}

func (s *FSBlobStore) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.blobPath(hash))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob %s: %w", hash, err)
	}
	return nil
}

func (s *FSBlobStore) List(ctx context.Context) ([]blob.Info, error) {
	var infos []blob.Info

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".blob-") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		infos = append(infos, blob.Info{
			Hash:    d.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}

	return infos, nil
}
