package storage

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const aclHeader = "X-Amz-Acl"

var _ ObjectStore = (*MinIOClient)(nil)

// MinIOClient implements ObjectStore using minio-go
type MinIOClient struct {
	client *minio.Client
}

// NewMinIOClient creates a new MinIO client. Credentials are resolved eagerly
// so a misconfiguration fails startup instead of the first upload.
func NewMinIOClient(cfg Config) (*MinIOClient, error) {
	// Clean and validate endpoint
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	creds := resolveCredentials(cfg)
	if _, err := creds.Get(); err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     creds,
		Secure:    cfg.Secure,
		Region:    cfg.Region,
		Transport: newTransport(cfg),
	})
	if err != nil {
		return nil, err
	}

	return &MinIOClient{client: client}, nil
}

func resolveCredentials(cfg Config) *credentials.Credentials {
	if cfg.AccessKey != "" {
		return credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.CredentialsFile != "" {
		return credentials.NewFileAWSCredentials(cfg.CredentialsFile, cfg.Profile)
	}

	return credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{Profile: cfg.Profile},
	})
}

func newTransport(cfg Config) *http.Transport {
	connTimeout := cfg.ConnectionTimeout
	if connTimeout <= 0 {
		connTimeout = 50 * time.Second
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxConnections * 2,
		MaxIdleConnsPerHost:   cfg.MaxConnections,
		MaxConnsPerHost:       cfg.MaxConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connTimeout,
		ResponseHeaderTimeout: cfg.SocketTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, add http:// for parsing
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		// Check if it's already in host:port format
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	// Parse URL to extract host and port
	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	// Check if path is not empty (indicating a full URL with path)
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	// Return host:port format
	return parsedURL.Host, nil
}

// PutFile uploads the file at path as bucket/key
func (c *MinIOClient) PutFile(ctx context.Context, bucket, key, path string, opts PutOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	_, err = c.client.PutObject(ctx, bucket, key, f, info.Size(), buildPutObjectOptions(opts))
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// buildPutObjectOptions maps configured headers onto minio options. Standard
// and x-amz-* headers are sent verbatim by minio-go, anything else becomes
// x-amz-meta-*.
func buildPutObjectOptions(opts PutOptions) minio.PutObjectOptions {
	putOpts := minio.PutObjectOptions{
		ContentType: opts.ContentType,
	}
	if putOpts.ContentType == "" {
		putOpts.ContentType = "application/octet-stream"
	}

	meta := make(map[string]string, len(opts.Headers)+1)
	for _, h := range opts.Headers {
		if strings.EqualFold(h.Key, "Content-Type") {
			putOpts.ContentType = h.Value
			continue
		}
		// later headers win on duplicate keys
		meta[http.CanonicalHeaderKey(h.Key)] = h.Value
	}
	if opts.ACL != "" {
		meta[aclHeader] = opts.ACL
	}
	if len(meta) > 0 {
		putOpts.UserMetadata = meta
	}

	return putOpts
}
