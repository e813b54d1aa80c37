// Package aws stores issued certificates in S3.
package aws

import "context"

// Client defines the AWS operations docpilot needs.
type Client interface {
	VerifyCredentials(ctx context.Context) (*CallerIdentity, error)
	PutObject(ctx context.Context, bucket, key, contentType string, data []byte) error
	Region() string
}

// CallerIdentity holds AWS STS caller identity information.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}
