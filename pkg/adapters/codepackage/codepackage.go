// Package codepackage stores flow sources in an S3-compatible bucket so a
// deployment can point at the exact code it was created from.
package codepackage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config holds the bucket connection
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Validate checks the connection settings
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("S3 endpoint is required")
	}
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

// ObjectStore is the subset of the minio client used here
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Packager uploads flow sources keyed by content hash
type Packager struct {
	store  ObjectStore
	bucket string
	region string
	logger *zap.Logger

	once      sync.Once
	bucketErr error
}

// New creates a packager backed by minio
func New(cfg Config, logger *zap.Logger) (*Packager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return NewWithStore(client, cfg.Bucket, cfg.Region, logger), nil
}

// NewWithStore creates a packager over an existing object store
func NewWithStore(store ObjectStore, bucket, region string, logger *zap.Logger) *Packager {
	return &Packager{store: store, bucket: bucket, region: region, logger: logger}
}

// Key returns the object key of a flow source
func Key(flowName string, contents []byte) string {
	sum := sha256.Sum256(contents)
	return flowName + "/" + hex.EncodeToString(sum[:])
}

// URL returns the s3:// URL of an object
func URL(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}

// Upload stores contents and returns its URL. Identical contents map to the
// same key, so re-uploading is harmless.
func (p *Packager) Upload(ctx context.Context, flowName string, contents []byte) (string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return "", err
	}

	key := Key(flowName, contents)
	_, err := p.store.PutObject(ctx, p.bucket, key, bytes.NewReader(contents), int64(len(contents)), minio.PutObjectOptions{
		ContentType: "application/x-yaml",
		UserMetadata: map[string]string{
			"flow-name": flowName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload code package: %w", err)
	}

	url := URL(p.bucket, key)
	p.logger.Info("uploaded code package",
		zap.String("flow_name", flowName),
		zap.String("url", url),
		zap.Int("size", len(contents)))
	return url, nil
}

func (p *Packager) ensureBucket(ctx context.Context) error {
	p.once.Do(func() {
		exists, err := p.store.BucketExists(ctx, p.bucket)
		if err != nil {
			p.bucketErr = fmt.Errorf("failed to check bucket %s: %w", p.bucket, err)
			return
		}
		if exists {
			return
		}
		if err := p.store.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			p.bucketErr = fmt.Errorf("failed to create bucket %s: %w", p.bucket, err)
		}
	})
	return p.bucketErr
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
