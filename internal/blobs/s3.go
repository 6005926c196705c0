package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/ignite/scrub-gateway/internal/metrics"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store stores blobs in one S3 (or S3-compatible) bucket.
type S3Store struct {
	client   s3API
	uploader *manager.Uploader
	bucket   string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewS3Client builds an S3 client, pointed at endpoint with path-style
// addressing when endpoint is set.
func NewS3Client(cfg aws.Config, endpoint string) *s3.Client {
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
}

// NewS3Store creates a store over bucket. timeout bounds each call; large
// uploads are split into parts by the upload manager.
func NewS3Store(client *s3.Client, bucket string, timeout time.Duration, m *metrics.Metrics) *S3Store {
	return newS3Store(client, bucket, timeout, m)
}

func newS3Store(client s3API, bucket string, timeout time.Duration, m *metrics.Metrics) *S3Store {
	return &S3Store{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 4
		}),
		bucket:  bucket,
		timeout: timeout,
		metrics: m,
	}
}

func (s *S3Store) Bucket() string { return s.bucket }

func (s *S3Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// isMissing reports whether err is S3's answer for an absent key.
func isMissing(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body, contentType, err := Sniff(body, contentType)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	s.metrics.ObserveGateway("blobs", "put", err, time.Since(start))
	if err != nil {
		return fmt.Errorf("uploading %s to S3 bucket %s: %w", key, s.bucket, err)
	}
	return nil
}

// Get opens the object for reading. The timeout covers the whole read, so
// the returned body releases it on Close.
func (s *S3Store) Get(ctx context.Context, key string) (*Object, bool, error) {
	ctx, cancel := s.withTimeout(ctx)

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isMissing(err) {
		cancel()
		s.metrics.ObserveGateway("blobs", "get", nil, time.Since(start))
		return nil, false, nil
	}
	s.metrics.ObserveGateway("blobs", "get", err, time.Since(start))
	if err != nil {
		cancel()
		return nil, false, fmt.Errorf("getting %s from S3 bucket %s: %w", key, s.bucket, err)
	}

	obj := &Object{
		Body:        &cancelOnClose{ReadCloser: out.Body, cancel: cancel},
		ContentType: aws.ToString(out.ContentType),
		Size:        aws.ToInt64(out.ContentLength),
	}
	return obj, true, nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isMissing(err) {
		s.metrics.ObserveGateway("blobs", "head", nil, time.Since(start))
		return false, nil
	}
	s.metrics.ObserveGateway("blobs", "head", err, time.Since(start))
	if err != nil {
		return false, fmt.Errorf("checking %s in S3 bucket %s: %w", key, s.bucket, err)
	}
	return true, nil
}

func (s *S3Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("checking S3 bucket %s: %w", s.bucket, err)
	}
	return nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
