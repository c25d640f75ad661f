package worker

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"s3uploadservice/internal/storage"

	"go.uber.org/zap"
)

const objectKeySeparator = "/"

// Subfolders of a source's local path that processed files are moved into
const (
	UploadedSubfolder = "uploaded"
	FailedSubfolder   = "failed"
)

// TaskProcessor uploads single files and applies their disposition
type TaskProcessor struct {
	config Config
	store  storage.ObjectStore
	logger *zap.Logger
}

// NewTaskProcessor creates a processor uploading through store
func NewTaskProcessor(config Config, store storage.ObjectStore, logger *zap.Logger) *TaskProcessor {
	return &TaskProcessor{
		config: config,
		store:  store,
		logger: logger,
	}
}

// Job wraps task as a pool job
func (p *TaskProcessor) Job(task Task) Job {
	return func(ctx context.Context) Result {
		return p.Process(ctx, task)
	}
}

// Process uploads the task's file, then deletes it or moves it into the
// uploaded subfolder. A failed upload moves the file into the failed
// subfolder. The file has left the source folder by the time Process returns.
func (p *TaskProcessor) Process(ctx context.Context, task Task) Result {
	startTime := time.Now()
	key := ObjectKey(task.ObjectKeyRoot, filepath.Base(task.Path))
	result := Result{Task: task, Key: key}

	opts := storage.PutOptions{
		ContentType: mime.TypeByExtension(filepath.Ext(task.Path)),
		ACL:         p.config.ACL,
		Headers:     task.Headers,
	}

	if err := p.store.PutFile(ctx, task.Bucket, key, task.Path, opts); err != nil {
		p.logger.Error("Upload failed",
			zap.String("path", task.Path),
			zap.String("bucket", task.Bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		p.moveToSubfolder(task, FailedSubfolder)

		result.Err = err
		result.Duration = time.Since(startTime)
		return result
	}

	// size is taken before the file is deleted or moved
	if info, err := os.Stat(task.Path); err == nil {
		result.BytesTransferred = info.Size()
	} else {
		p.logger.Warn("Failed to stat uploaded file", zap.String("path", task.Path), zap.Error(err))
	}

	p.logger.Debug("Transferred file",
		zap.String("path", task.Path),
		zap.String("key", key),
		zap.Int64("bytes", result.BytesTransferred),
	)

	if p.config.DeleteAfterUpload {
		if err := os.Remove(task.Path); err != nil {
			p.logger.Error("Failed to delete uploaded file", zap.String("path", task.Path), zap.Error(err))
		}
	} else {
		p.moveToSubfolder(task, UploadedSubfolder)
	}

	result.Duration = time.Since(startTime)
	return result
}

// moveToSubfolder moves the task's file into subfolder of its source,
// replacing a file of the same name. Failures are logged only.
func (p *TaskProcessor) moveToSubfolder(task Task, subfolder string) {
	if err := MoveToSubfolder(task.Path, subfolder); err != nil {
		p.logger.Error("Failed to move file",
			zap.String("path", task.Path),
			zap.String("subfolder", subfolder),
			zap.Error(err),
		)
	}
}

// MoveToSubfolder moves path to <dir>/<subfolder>/<name>, replacing any
// existing file there.
func MoveToSubfolder(path, subfolder string) error {
	dst := filepath.Join(filepath.Dir(path), subfolder, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", path, dst, err)
	}
	return nil
}

// ObjectKey joins root and name with exactly one separator. An empty root or
// a bare separator puts the object at the bucket root.
func ObjectKey(root, name string) string {
	switch {
	case root == "" || root == objectKeySeparator:
		return name
	case strings.HasSuffix(root, objectKeySeparator):
		return root + name
	default:
		return root + objectKeySeparator + name
	}
}
