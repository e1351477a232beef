package cloudblob

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend implements Backend in process memory. It is the default
// backend of a Datastore and the test double used throughout this package.
// Documents are stored JSON-encoded so callers never share maps with the store.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string][]byte)}
}

func (b *MemoryBackend) InitConnection(ctx context.Context) error {
	return nil
}

func (b *MemoryBackend) HeadDoc(ctx context.Context, bucket, path string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.buckets[bucket][path]
	return ok, nil
}

func (b *MemoryBackend) ReadDoc(ctx context.Context, bucket, path string) (Document, error) {
	b.mu.RLock()
	data, ok := b.buckets[bucket][path]
	b.mu.RUnlock()

	if !ok {
		return nil, WithContext(ErrNotFound, map[string]interface{}{
			"bucket": bucket,
			"key":    path,
		})
	}
	return decodeDocument(data)
}

func (b *MemoryBackend) WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buckets[bucket] == nil {
		b.buckets[bucket] = make(map[string][]byte)
	}
	b.buckets[bucket][path] = data
	return doc, nil
}

func (b *MemoryBackend) ListDocs(ctx context.Context, bucket, prefix string, max int, cursor string) (*ListPage, error) {
	b.mu.RLock()
	paths := make([]string, 0, len(b.buckets[bucket]))
	for path := range b.buckets[bucket] {
		paths = append(paths, path)
	}
	b.mu.RUnlock()

	return pageEntityPaths(paths, prefix, max, cursor), nil
}

func (b *MemoryBackend) Ping(ctx context.Context, bucket string) error {
	return nil
}

// Len returns the number of stored objects in a bucket
func (b *MemoryBackend) Len(bucket string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.buckets[bucket])
}

// pageEntityPaths turns a flat set of storage paths into one page of entity
// keys. The cursor is the last path of the previous page (start-after).
func pageEntityPaths(paths []string, prefix string, max int, cursor string) *ListPage {
	sort.Strings(paths)

	page := &ListPage{Results: []string{}}
	var last string
	for _, path := range paths {
		if cursor != "" && path <= cursor {
			continue
		}
		if !IsEntityPath(prefix, path) {
			continue
		}
		if max > 0 && len(page.Results) == max {
			page.Next = last
			break
		}
		page.Results = append(page.Results, KeyFromPath(path))
		last = path
	}
	return page
}
