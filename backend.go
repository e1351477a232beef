package cloudblob

import (
	"context"
	"fmt"
)

// Backend defines the storage capability the Datastore consumes.
// Implementations address documents by bucket and an opaque path built with
// BuildKey, and must be safe for concurrent use.
type Backend interface {
	// InitConnection establishes connection state. Called once by New.
	InitConnection(ctx context.Context) error

	// HeadDoc reports whether a document exists at path
	HeadDoc(ctx context.Context, bucket, path string) (bool, error)

	// ReadDoc returns the document at path or ErrNotFound
	ReadDoc(ctx context.Context, bucket, path string) (Document, error)

	// WriteDoc persists doc at path and returns the persisted form.
	// An empty acknowledgment means the write was not confirmed.
	WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error)

	// ListDocs returns entity keys (not documents) directly under prefix.
	// max <= 0 lets the backend pick its page size. cursor is the Next value
	// of a previous page, or "" to start from the beginning.
	ListDocs(ctx context.Context, bucket, prefix string, max int, cursor string) (*ListPage, error)
}

// HealthChecker is implemented by backends that can verify bucket access
type HealthChecker interface {
	Ping(ctx context.Context, bucket string) error
}

// ListPage is one page of entity keys returned by a backend
type ListPage struct {
	Next    string   // opaque continuation token, "" when exhausted
	Results []string // entity keys in listing order
}

// Backend type names accepted by BackendConfig
const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
	BackendMinIO      = "minio"
	BackendGCS        = "gcs"
)

// BackendConfig holds configuration for any backend
type BackendConfig struct {
	Type            string `yaml:"type"`             // "memory", "filesystem", "s3", "minio", "gcs"
	BasePath        string `yaml:"base_path"`        // Root directory (filesystem only)
	Region          string `yaml:"region"`           // AWS region (s3 only)
	Endpoint        string `yaml:"endpoint"`         // Custom endpoint (s3-compatible services, minio)
	AccessKeyID     string `yaml:"access_key_id"`    // Static credentials (minio)
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	ProjectID       string `yaml:"project_id"`       // GCS project
	CredentialsFile string `yaml:"credentials_file"` // GCS service account file, ADC if empty
	EncryptionKey   string `yaml:"encryption_key"`   // base64 AES-256 key, enables EncryptionBackend
}

// Validate checks if the BackendConfig is valid
func (c BackendConfig) Validate() error {
	if c.EncryptionKey != "" {
		if _, err := ParseEncryptionKey(c.EncryptionKey); err != nil {
			return err
		}
	}

	switch c.Type {
	case "", BackendMemory:
		// No additional validation needed
	case BackendFilesystem:
		if c.BasePath == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "BasePath",
				"reason": "filesystem backend requires a base path",
			})
		}
	case BackendS3:
		if c.Region == "" && c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Region/Endpoint",
				"reason": "S3 backend requires either Region or Endpoint",
			})
		}
	case BackendMinIO:
		if c.Endpoint == "" {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Endpoint",
				"reason": "MinIO backend requires an endpoint",
			})
		}
	case BackendGCS:
		// Credentials fall back to ADC
	default:
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Type",
			"value":  c.Type,
			"reason": "unknown backend type",
		})
	}
	return nil
}

// NewBackend builds a backend from configuration, wrapped in an
// EncryptionBackend when an encryption key is set
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	backend, err := newBaseBackend(ctx, cfg)
	if err != nil || cfg.EncryptionKey == "" {
		return backend, err
	}
	key, err := ParseEncryptionKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return NewEncryptionBackend(backend, key)
}

func newBaseBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case BackendFilesystem:
		return NewFilesystemBackend(cfg.BasePath), nil
	case BackendS3:
		backend, err := NewS3BackendFromConfig(ctx, cfg.Region, cfg.Endpoint)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case BackendMinIO:
		backend, err := NewMinIOBackend(MinIOConfig{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	case BackendGCS:
		backend, err := NewGCSBackend(ctx, GCSConfig{
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unsupported backend type %q", cfg.Type)
}
