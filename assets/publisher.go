// Package assets publishes pipeline artifacts to S3-compatible object
// storage and hands back the stable public URLs the rest of the system
// stores on the job record.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/teranos/shopreel/errors"
)

// Config holds object storage connection settings
type Config struct {
	Endpoint        string // host[:port], no scheme
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string // Optional CDN/proxy base; falls back to the endpoint
	UseSSL          bool
	Logger          *zap.SugaredLogger
}

// Publisher stores artifacts in a single bucket
type Publisher struct {
	client *minio.Client
	config Config
	logger *zap.SugaredLogger
}

// NewPublisher creates a Publisher for the configured bucket
func NewPublisher(config Config) (*Publisher, error) {
	if config.Endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}

	return &Publisher{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet. Called once
// at startup so Publish never races bucket creation.
func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.config.Bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %s", p.config.Bucket)
	}
	if exists {
		return nil
	}

	if err := p.client.MakeBucket(ctx, p.config.Bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %s", p.config.Bucket)
	}

	p.logger.Infow("Created storage bucket", "bucket", p.config.Bucket)
	return nil
}

// Publish stores data under key and returns its public URL. The content
// type is sniffed from the bytes so downstream consumers get a usable
// header without callers having to thread it through.
func (p *Publisher) Publish(ctx context.Context, data []byte, key string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("nothing to publish")
	}
	if key == "" {
		return "", errors.New("object key is required")
	}

	contentType := http.DetectContentType(data)

	_, err := p.client.PutObject(ctx, p.config.Bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", errors.Wrapf(err, "failed to store object %s", key)
	}

	url := p.PublicURL(key)
	p.logger.Debugw("Published artifact",
		"key", key,
		"size", len(data),
		"content_type", contentType,
		"url", url)

	return url, nil
}

// PublicURL returns the URL an object is reachable at. A configured
// PublicBaseURL (CDN or reverse proxy in front of the bucket) wins over
// the raw endpoint form.
func (p *Publisher) PublicURL(key string) string {
	if p.config.PublicBaseURL != "" {
		return strings.TrimRight(p.config.PublicBaseURL, "/") + "/" + key
	}

	scheme := "http"
	if p.config.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, p.config.Endpoint, p.config.Bucket, key)
}

// ObjectKey builds a bucket key for a job artifact. The random suffix
// keeps remediation rounds from overwriting earlier artifacts for the
// same job.
func ObjectKey(jobID, kind, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	suffix := uuid.New().String()[:8]
	return path.Join(jobID, fmt.Sprintf("%s-%s.%s", kind, suffix, ext))
}
