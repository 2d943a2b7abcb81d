// Package storage holds the object-store backing for job artifacts.
//
// The store doubles as the result cache: the remote execution jobs upload
// their outputs straight into the bucket under fingerprint-derived names,
// so a cache entry is always byte-identical to what a fresh run would
// produce. This package only ever checks existence and mints URLs; it has
// no artifact write path of its own.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type S3Store struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("storage endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("storage access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init storage client: %w", err)
	}

	return &S3Store{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Exists reports whether an artifact is present. Lookup failures count as
// a miss: a wasted resubmission is safe, serving an error to the caller
// is not.
func (s *S3Store) Exists(ctx context.Context, object string) bool {
	object = strings.TrimSpace(object)
	if object == "" {
		return false
	}
	if err := s.ensureBucket(ctx); err != nil {
		log.Warn().Err(err).Str("object", object).Msg("cache lookup skipped, bucket unavailable")
		return false
	}
	_, err := s.client.StatObject(ctx, s.bucketName, object, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code != "NoSuchKey" && errResp.Code != "NoSuchBucket" {
			log.Warn().Err(err).Str("object", object).Msg("cache lookup failed, treating as miss")
		}
		return false
	}
	return true
}

// SignedGetURL mints a time-limited read URL for a finished artifact.
func (s *S3Store) SignedGetURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("store is nil")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", fmt.Errorf("object is required")
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, object, expiry, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// SignedPutURL mints the upload target handed to a remote job as its
// output argument. The job PUTs the artifact here without holding any
// credentials of ours.
func (s *S3Store) SignedPutURL(ctx context.Context, object string, expiry time.Duration) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("store is nil")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", fmt.Errorf("object is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return "", fmt.Errorf("ensure bucket: %w", err)
	}
	u, err := s.client.PresignedPutObject(ctx, s.bucketName, object, expiry)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
