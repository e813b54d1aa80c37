package aws

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
)

const pkcs12ContentType = "application/x-pkcs12"

// ObjectStore uploads certificate bundles to an S3 bucket under a prefix.
type ObjectStore struct {
	client Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewObjectStore creates a store writing to s3://bucket/prefix.
func NewObjectStore(client Client, bucket, prefix string, logger *slog.Logger) *ObjectStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ObjectStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key is the object key used for a file: prefix/fileID/filename.
func (s *ObjectStore) Key(fileID, filename string) string {
	return path.Join(s.prefix, fileID, filename)
}

// Upload stores data and returns the object's virtual-hosted HTTPS URL.
func (s *ObjectStore) Upload(ctx context.Context, fileID, filename string, data []byte) (string, error) {
	if s.bucket == "" {
		return "", fmt.Errorf("no S3 bucket configured")
	}
	key := s.Key(fileID, filename)
	if err := s.client.PutObject(ctx, s.bucket, key, pkcs12ContentType, data); err != nil {
		return "", err
	}
	s.logger.Debug("uploaded object", "bucket", s.bucket, "key", key, "bytes", len(data))
	return s.URL(key), nil
}

// URL returns the HTTPS URL of key.
func (s *ObjectStore) URL(key string) string {
	u := url.URL{Scheme: "https", Path: "/" + key}
	if region := s.client.Region(); region != "" {
		u.Host = fmt.Sprintf("%s.s3.%s.amazonaws.com", s.bucket, region)
	} else {
		u.Host = s.bucket + ".s3.amazonaws.com"
	}
	return u.String()
}
