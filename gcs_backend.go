package cloudblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSBackend implements Backend using Google Cloud Storage
type GCSBackend struct {
	client *storage.Client
}

// GCSConfig contains GCS-specific configuration
type GCSConfig struct {
	ProjectID       string
	CredentialsFile string // Path to service account JSON file (optional, uses ADC if empty)
}

// NewGCSBackend creates a new GCS backend
func NewGCSBackend(ctx context.Context, cfg GCSConfig) (*GCSBackend, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSBackend{client: client}, nil
}

func (b *GCSBackend) InitConnection(ctx context.Context) error {
	return nil
}

func (b *GCSBackend) HeadDoc(ctx context.Context, bucket, path string) (bool, error) {
	_, err := b.client.Bucket(bucket).Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *GCSBackend) ReadDoc(ctx context.Context, bucket, path string) (Document, error) {
	reader, err := b.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"bucket": bucket,
				"key":    path,
			})
		}
		return nil, err
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

func (b *GCSBackend) WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	writer := b.client.Bucket(bucket).Object(path).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	if writer.Attrs() == nil {
		return Document{}, nil
	}
	return doc, nil
}

// ListDocs pages through objects with the iterator pager so the continuation
// token round-trips to the caller untouched.
func (b *GCSBackend) ListDocs(ctx context.Context, bucket, prefix string, max int, cursor string) (*ListPage, error) {
	it := b.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var objects []*storage.ObjectAttrs
	page := &ListPage{Results: []string{}}

	if max > 0 {
		next, err := iterator.NewPager(it, max, cursor).NextPage(&objects)
		if err != nil {
			return nil, err
		}
		page.Next = next
	} else {
		for {
			attrs, err := it.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return nil, err
			}
			objects = append(objects, attrs)
		}
	}

	for _, attrs := range objects {
		if IsEntityPath(prefix, attrs.Name) {
			page.Results = append(page.Results, KeyFromPath(attrs.Name))
		}
	}
	return page, nil
}

// Ping checks bucket access
func (b *GCSBackend) Ping(ctx context.Context, bucket string) error {
	_, err := b.client.Bucket(bucket).Attrs(ctx)
	return err
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
