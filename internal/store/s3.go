package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"canonical-go/internal/canonical"
	"canonical-go/internal/config"
)

// metadataChecksumKey is the S3 object metadata key holding the SHA-256
// of the object body. Put uses it for write-once conflict detection
// without re-downloading the object.
const metadataChecksumKey = "record-sha256"

// S3Store is an S3-backed implementation of the ResourceStore interface.
// Resource keys map to object keys under an optional bucket prefix.
// Context deadlines and cancellation propagate to every request; request
// failures surface as ErrBackendUnavailable for the caller to retry.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3 store from configuration. Credentials fall
// back to the default AWS credential chain when not set explicitly.
func NewS3Store(ctx context.Context, cfg config.StoreConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 store requires s3_bucket to be set")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	prefix := cfg.S3Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   cfg.S3Bucket,
		prefix:   prefix,
	}, nil
}

func (s *S3Store) objectKey(key string) string { return s.prefix + key }

// Put stores data under key with write-once semantics. Conflict detection
// compares the SHA-256 recorded in object metadata; objects written by
// other tooling without that metadata are compared byte-for-byte.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	checksum := sha256Hex(data)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	switch {
	case err == nil:
		existing := head.Metadata[metadataChecksumKey]
		if existing == "" {
			stored, err := s.Get(ctx, key)
			if err != nil {
				return "", err
			}
			if bytes.Equal(stored, data) {
				return checksum, nil
			}
			return "", fmt.Errorf("%w: key %s already holds different content", canonical.ErrConflict, key)
		}
		if existing == checksum {
			return checksum, nil
		}
		return "", fmt.Errorf("%w: key %s already holds different content", canonical.ErrConflict, key)
	case !isS3NotFound(err):
		return "", fmt.Errorf("%w: head %s: %v", canonical.ErrBackendUnavailable, key, err)
	}

	if err := s.upload(ctx, key, data, checksum); err != nil {
		return "", err
	}
	return checksum, nil
}

// Update overwrites key unconditionally. Reserved for unsealed listing
// shard files.
func (s *S3Store) Update(ctx context.Context, key string, data []byte) error {
	return s.upload(ctx, key, data, sha256Hex(data))
}

func (s *S3Store) upload(ctx context.Context, key string, data []byte, checksum string) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.objectKey(key)),
		Body:     bytes.NewReader(data),
		Metadata: map[string]string{metadataChecksumKey: checksum},
	})
	if err != nil {
		return fmt.Errorf("%w: uploading %s: %v", canonical.ErrBackendUnavailable, key, err)
	}
	return nil
}

// Get retrieves the bytes stored under key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", canonical.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: fetching %s: %v", canonical.ErrBackendUnavailable, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", canonical.ErrBackendUnavailable, key, err)
	}
	return data, nil
}

// Exists reports whether key is present.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: head %s: %v", canonical.ErrBackendUnavailable, key, err)
}

// ListPrefix pages through ListObjectsV2 results, calling fn for each key
// under prefix. S3 returns keys in lexicographic order.
func (s *S3Store) ListPrefix(ctx context.Context, prefix string, fn func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: listing %s: %v", canonical.ErrBackendUnavailable, prefix, err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if err := fn(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

// Compile-time check that S3Store implements the ResourceStore interface
var _ canonical.ResourceStore = (*S3Store)(nil)
