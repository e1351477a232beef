package cloudblob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Backend implements Backend using AWS S3 (or S3-compatible storage)
type S3Backend struct {
	client *s3.Client
}

// NewS3Backend creates a new S3 backend around an existing client
func NewS3Backend(client *s3.Client) *S3Backend {
	return &S3Backend{client: client}
}

// NewS3BackendFromConfig builds a client from the default AWS credential
// chain. endpoint is optional and switches to path-style addressing.
func NewS3BackendFromConfig(ctx context.Context, region, endpoint string) (*S3Backend, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Backend(client), nil
}

// InitConnection is a no-op; the SDK client connects lazily
func (b *S3Backend) InitConnection(ctx context.Context) error {
	return nil
}

func (b *S3Backend) HeadDoc(ctx context.Context, bucket, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) || strings.Contains(err.Error(), "NotFound") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (b *S3Backend) ReadDoc(ctx context.Context, bucket, path string) (Document, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) || strings.Contains(err.Error(), "NoSuchKey") {
			return nil, WithContext(ErrNotFound, map[string]interface{}{
				"bucket": bucket,
				"key":    path,
			})
		}
		if strings.Contains(err.Error(), "AccessDenied") {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	defer func() { _ = result.Body.Close() }() //nolint:errcheck // Deferred close

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, err
	}
	return decodeDocument(data)
}

// WriteDoc stores the document and acknowledges it only when S3 returns an ETag
func (b *S3Backend) WriteDoc(ctx context.Context, bucket, path string, doc Document) (Document, error) {
	data, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	out, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, err
	}
	if aws.ToString(out.ETag) == "" {
		return Document{}, nil
	}
	return doc, nil
}

// ListDocs lists one page of objects. MaxKeys bounds the raw object count, so
// a page may hold fewer entity keys than max when snapshots share the prefix.
func (b *S3Backend) ListDocs(ctx context.Context, bucket, prefix string, max int, cursor string) (*ListPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if max > 0 {
		input.MaxKeys = aws.Int32(int32(max))
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	output, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}

	page := &ListPage{Results: []string{}}
	for _, obj := range output.Contents {
		path := aws.ToString(obj.Key)
		if IsEntityPath(prefix, path) {
			page.Results = append(page.Results, KeyFromPath(path))
		}
	}
	if aws.ToBool(output.IsTruncated) {
		page.Next = aws.ToString(output.NextContinuationToken)
	}
	return page, nil
}

// Ping checks if the bucket is accessible
func (b *S3Backend) Ping(ctx context.Context, bucket string) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	return err
}

// EnsureBucket creates bucket if HeadBucket cannot see it
func (b *S3Backend) EnsureBucket(ctx context.Context, bucket string) error {
	if err := b.Ping(ctx, bucket); err == nil {
		return nil
	}
	_, err := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}
