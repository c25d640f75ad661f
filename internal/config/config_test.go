package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
storage:
  endpoint: s3.example.com
  access_key: AKIA
  secret_key: secret
sources:
  - local_path: /data/photos
    glob_pattern: "*.{jpg,png}"
    bucket: photos
    object_key_root: images/
    metadata_headers:
      - key: Cache-Control
        value: max-age=3600
      - key: Content-Disposition
        value: inline
pool:
  core_pool_size: 2
  maximum_pool_size: 4
  queue_capacity: 8
timeouts:
  connection: 10s
delete_after_upload: false
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validConfig() *Config {
	cfg := Default()
	cfg.Storage.Endpoint = "localhost:9000"
	cfg.Sources = []Source{{LocalPath: "/tmp/in", Bucket: "b"}}
	return cfg
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 1)
	src := cfg.Sources[0]
	assert.Equal(t, "/data/photos", src.LocalPath)
	assert.Equal(t, "images/", src.ObjectKeyRoot)
	require.Len(t, src.MetadataHeaders, 2)
	assert.Equal(t, "Cache-Control", src.MetadataHeaders[0].Key)
	assert.Equal(t, "Content-Disposition", src.MetadataHeaders[1].Key)

	assert.Equal(t, 2, cfg.Pool.CorePoolSize)
	assert.Equal(t, 12, cfg.Pool.Bound())
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Connection)
	// untouched values keep their defaults
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Socket)
	assert.Equal(t, 2*time.Second, cfg.PauseInterval)
	assert.Equal(t, "public-read", cfg.Storage.ACL)
	assert.False(t, cfg.DeleteAfterUpload)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("maximum-pool-size", 3, "")
	flags.Int("queue-capacity", 3, "")
	flags.Bool("delete-after-upload", true, "")
	flags.Duration("socket-timeout", time.Minute, "")
	require.NoError(t, flags.Parse([]string{
		"--maximum-pool-size=6",
		"--delete-after-upload=true",
		"--socket-timeout=30s",
	}))

	cfg, err := Load(writeConfig(t, sampleYAML), flags)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Pool.MaximumPoolSize)
	assert.Equal(t, 8, cfg.Pool.QueueCapacity)
	assert.True(t, cfg.DeleteAfterUpload)
	assert.Equal(t, 30*time.Second, cfg.Timeouts.Socket)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"core equals max", func(c *Config) { c.Pool.CorePoolSize = 3 }, true},
		{"core greater than max", func(c *Config) { c.Pool.CorePoolSize = 4 }, false},
		{"no sources", func(c *Config) { c.Sources = nil }, false},
		{"missing endpoint", func(c *Config) { c.Storage.Endpoint = "" }, false},
		{"half credentials", func(c *Config) { c.Storage.AccessKey = "a" }, false},
		{"missing local path", func(c *Config) { c.Sources[0].LocalPath = "" }, false},
		{"missing bucket", func(c *Config) { c.Sources[0].Bucket = "" }, false},
		{"bad glob", func(c *Config) { c.Sources[0].GlobPattern = "[a-" }, false},
		{"empty header key", func(c *Config) {
			c.Sources[0].MetadataHeaders = []MetadataHeader{{Value: "x"}}
		}, false},
		{"zero queue", func(c *Config) { c.Pool.QueueCapacity = 0 }, false},
		{"zero max", func(c *Config) { c.Pool.MaximumPoolSize = 0 }, false},
		{"zero pause", func(c *Config) { c.PauseInterval = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
