package cloudblob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemBackend implements Backend using the local filesystem.
// Buckets map to directories under basePath.
type FilesystemBackend struct {
	basePath string
	locks    *StripedLocks // Fine-grained locking per key
}

// NewFilesystemBackend creates a new filesystem backend with 32 lock stripes
func NewFilesystemBackend(basePath string) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(DefaultLockStripes),
	}
}

// NewFilesystemBackendWithStripes creates a filesystem backend with custom stripe count
func NewFilesystemBackendWithStripes(basePath string, stripes int) *FilesystemBackend {
	return &FilesystemBackend{
		basePath: basePath,
		locks:    NewStripedLocks(stripes),
	}
}

func (b *FilesystemBackend) getPath(bucket, key string) string {
	return filepath.Join(b.basePath, bucket, filepath.FromSlash(key))
}

func (b *FilesystemBackend) InitConnection(ctx context.Context) error {
	return os.MkdirAll(b.basePath, DefaultDirPermissions)
}

func (b *FilesystemBackend) HeadDoc(ctx context.Context, bucket, path string) (bool, error) {
	_, err := os.Stat(b.getPath(bucket, path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *FilesystemBackend) ReadDoc(ctx context.Context, bucket, path string) (Document, error) {
	unlock := b.locks.RLock(bucket + "/" + path)
	data, err := os.ReadFile(b.getPath(bucket, path))
	unlock()

	if err != nil {
		if os.IsNotExist(err) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"bucket": bucket,
				"key":    path,
			})
		}
		if os.IsPermission(err) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return decodeDocument(data)
}

// WriteDoc writes through a temp file and rename so readers never observe a
// partially written document.
func (b *FilesystemBackend) WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	full := b.getPath(bucket, path)
	if err := os.MkdirAll(filepath.Dir(full), DefaultDirPermissions); err != nil {
		return nil, err
	}

	unlock := b.locks.Lock(bucket + "/" + path)
	defer unlock()

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return nil, err
	}
	return doc, nil
}

func (b *FilesystemBackend) ListDocs(ctx context.Context, bucket, prefix string, max int, cursor string) (*ListPage, error) {
	root := filepath.Join(b.basePath, bucket)
	searchPath := b.getPath(bucket, prefix)

	// Return an empty page if the prefix directory doesn't exist
	if _, err := os.Stat(searchPath); os.IsNotExist(err) {
		return &ListPage{Results: []string{}}, nil
	}

	var paths []string
	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		// Forward slashes for consistency with object stores
		paths = append(paths, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pageEntityPaths(paths, prefix, max, cursor), nil
}

func (b *FilesystemBackend) Ping(ctx context.Context, bucket string) error {
	info, err := os.Stat(b.basePath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("base path is not a directory: %s", b.basePath)
	}

	// Verify write access
	testFile := filepath.Join(b.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), DefaultFilePermissions); err != nil {
		return fmt.Errorf("cannot write to base path: %w", err)
	}
	os.Remove(testFile)

	return nil
}
