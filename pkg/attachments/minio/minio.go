// Package minio stores attachment files in an S3 compatible bucket.
package minio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fieldserv/onboarding/pkg/attachments"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultRegion = "us-east-1"

var ErrInvalidConfig = errors.New("invalid s3 configuration")

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ParseURL reads a config from s3://access:secret@host:port/bucket?ssl=true&region=eu-west-1.
func ParseURL(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if u.Scheme != "s3" && u.Scheme != "minio" {
		return Config{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}

	cfg := Config{
		Endpoint: u.Host,
		Bucket:   strings.Trim(u.Path, "/"),
		Region:   u.Query().Get("region"),
	}

	if u.User != nil {
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
	}

	if ssl := u.Query().Get("ssl"); ssl != "" {
		cfg.UseSSL, err = strconv.ParseBool(ssl)
		if err != nil {
			return Config{}, fmt.Errorf("%w: ssl must be a boolean", ErrInvalidConfig)
		}
	}

	return cfg, nil
}

// Storage implements attachments.Storage on top of a minio client.
type Storage struct {
	client *minio.Client
	bucket string
	region string
	now    func() time.Time

	initOnce sync.Once
	initErr  error
}

var _ attachments.Storage = (*Storage)(nil)

func NewStorage(cfg Config) (*Storage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}

	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)

	if access == "" || secret == "" {
		return nil, fmt.Errorf("%w: access key and secret key are required", ErrInvalidConfig)
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: bucket is required", ErrInvalidConfig)
	}

	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}

	return &Storage{
		client: client,
		bucket: bucket,
		region: region,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Storage) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err

			return
		}

		if exists {
			return
		}

		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})

	return s.initErr
}

func (s *Storage) Upload(ctx context.Context, processID, stepID string, file attachments.File) (models.Attachment, error) {
	if err := file.Validate(); err != nil {
		return models.Attachment{}, err
	}

	if err := s.ensureBucket(ctx); err != nil {
		return models.Attachment{}, fmt.Errorf("ensure bucket: %w", err)
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	size := file.Size
	if size == 0 {
		size = -1
	}

	id := uuid.NewString()
	key := attachments.ObjectKey(processID, stepID, id, file.Name)

	info, err := s.client.PutObject(ctx, s.bucket, key, file.Content, size, minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"process-id": processID,
			"step-id":    stepID,
		},
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to upload attachment: %w", err)
	}

	return models.Attachment{
		ID:          id,
		Name:        file.Name,
		URL:         s.client.EndpointURL().JoinPath(s.bucket, key).String(),
		Key:         key,
		Size:        info.Size,
		ContentType: contentType,
		UploadedAt:  s.now(),
	}, nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (s *Storage) Delete(ctx context.Context, attachment models.Attachment) error {
	if attachment.Key == "" {
		return fmt.Errorf("%w: attachment %s has no key", attachments.ErrNotFound, attachment.ID)
	}

	err := s.client.RemoveObject(ctx, s.bucket, attachment.Key, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to delete attachment %s: %w", attachment.ID, err)
	}

	return nil
}

// PresignedURL returns a time limited download link for an attachment.
func (s *Storage) PresignedURL(ctx context.Context, attachment models.Attachment, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, attachment.Key, expiry, nil)
	if err != nil {
		return "", err
	}

	return u.String(), nil
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	return s.ensureBucket(ctx)
}
