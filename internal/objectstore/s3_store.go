package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/book-expert/narration-service/internal/core"
)

// ErrS3BucketEmpty indicates an S3 store configured without a bucket.
var ErrS3BucketEmpty = errors.New("s3 bucket cannot be empty")

// S3Client is the subset of the S3 API used by S3ObjectStore. *s3.Client
// satisfies it.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options describes how to reach an S3-compatible endpoint.
type S3Options struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds an *s3.Client from static settings. An empty Endpoint uses
// the AWS default for Region. Empty keys leave the SDK default chain unset, which
// suits anonymous buckets and local emulators.
func NewS3Client(opts S3Options) *s3.Client {
	clientOpts := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.UsePathStyle,
	}

	if opts.Endpoint != "" {
		clientOpts.BaseEndpoint = aws.String(opts.Endpoint)
	}

	if opts.AccessKeyID != "" {
		creds := aws.Credentials{
			AccessKeyID:     opts.AccessKeyID,
			SecretAccessKey: opts.SecretAccessKey,
			Source:          "narration-service-config",
		}

		clientOpts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	}

	return s3.New(clientOpts)
}

// S3ObjectStore implements core.ObjectStore on an S3 bucket. Keys are placed
// under an optional prefix.
type S3ObjectStore struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 returns a store for bucket. Pass "" for no prefix.
func NewS3(client S3Client, bucket, prefix string) (*S3ObjectStore, error) {
	if bucket == "" {
		return nil, ErrS3BucketEmpty
	}

	return &S3ObjectStore{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3ObjectStore) key(name string) string {
	if s.prefix == "" {
		return name
	}

	return s.prefix + "/" + name
}

// Download retrieves an object. A missing object yields core.ErrObjectNotFound.
func (s *S3ObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, s.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(out.Body)
	closeErr := out.Body.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload writes an object with a single PutObject call.
func (s *S3ObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes an object. S3 reports success for missing keys, so a HeadObject
// probe runs first to keep the core.ErrObjectNotFound contract.
func (s *S3ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return fmt.Errorf("%w: '%s' in bucket '%s'", core.ErrObjectNotFound, key, s.bucket)
		}

		return fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", key, s.bucket, err)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}

var _ core.ObjectStore = (*S3ObjectStore)(nil)
