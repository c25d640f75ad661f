package worker

import (
	"time"

	"s3uploadservice/internal/storage"
)

// Task represents one file to upload
type Task struct {
	Identity      string           `json:"identity"`
	Path          string           `json:"path"`
	LocalPath     string           `json:"local_path"`
	Bucket        string           `json:"bucket"`
	ObjectKeyRoot string           `json:"object_key_root"`
	Headers       []storage.Header `json:"headers"`
}

// Result is the single terminal outcome of a task. A nil Err means the
// upload succeeded and BytesTransferred holds the file size.
type Result struct {
	Task             Task
	Key              string
	BytesTransferred int64
	Duration         time.Duration
	Err              error
}

// Succeeded reports whether the task uploaded its file
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Config contains upload task configuration
type Config struct {
	DeleteAfterUpload bool
	ACL               string
}

// PoolConfig contains worker pool sizing
type PoolConfig struct {
	CorePoolSize    int
	MaximumPoolSize int
	QueueCapacity   int
	KeepAlive       time.Duration
}
