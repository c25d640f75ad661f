package storage

import (
	"context"
	"time"
)

// ObjectStore performs durable uploads of local files to S3-compatible storage.
// Implementations do not retry on behalf of the caller beyond what the
// underlying SDK does; any returned error is a failed upload.
type ObjectStore interface {
	PutFile(ctx context.Context, bucket, key, path string, opts PutOptions) error
}

// Header is a single metadata header in configured order
type Header struct {
	Key   string
	Value string
}

// PutOptions contains options for put operations
type PutOptions struct {
	ContentType string
	ACL         string
	Headers     []Header
}

// Config contains client configuration
type Config struct {
	Endpoint          string
	AccessKey         string
	SecretKey         string
	CredentialsFile   string
	Profile           string
	Region            string
	Secure            bool
	MaxConnections    int
	ConnectionTimeout time.Duration
	SocketTimeout     time.Duration
}
