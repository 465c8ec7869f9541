package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// largeObjectSize is the size above which uploads are split into parts.
const largeObjectSize = 8 * 1024 * 1024

// S3Config points at an S3-compatible bucket.
type S3Config struct {
	Endpoint      string `yaml:"endpoint"` // e.g. http://127.0.0.1:9000 for MinIO; empty for AWS
	Region        string `yaml:"region"`
	Bucket        string `yaml:"bucket"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PublicBaseURL string `yaml:"public_base_url"`
	MaxRetries    uint64 `yaml:"max_retries"`
}

// S3Store uploads to S3 or any S3-compatible server.
type S3Store struct {
	cfg      S3Config
	client   *s3.Client
	uploader *manager.Uploader
	logger   *zap.Logger
}

// NewS3Store connects to the configured bucket. No request is made until
// the first upload.
func NewS3Store(cfg S3Config, logger *zap.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = largeObjectSize
	})

	return &S3Store{
		cfg:      cfg,
		client:   client,
		uploader: uploader,
		logger:   logger.With(zap.String("component", "S3Store")),
	}, nil
}

// Upload writes data and returns its public URL. Transient failures are
// retried with exponential backoff.
func (s *S3Store) Upload(ctx context.Context, data []byte, filename string, opts UploadOptions) (*Object, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	key := ObjectKey(opts, filename)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	b := retry.WithMaxRetries(s.cfg.MaxRetries, retry.NewExponential(200*time.Millisecond))
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType),
		})
		if err != nil {
			s.logger.Warn("upload attempt failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	return &Object{Key: key, PublicURL: s.PublicURL(key), Size: len(data)}, nil
}

// PublicURL is where a key is served from.
func (s *S3Store) PublicURL(key string) string {
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
	case s.cfg.Endpoint != "":
		return strings.TrimRight(s.cfg.Endpoint, "/") + "/" + s.cfg.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.Bucket, s.cfg.Region, key)
}
