package app

import (
	"fmt"
	"os"
	"path/filepath"

	"s3uploadservice/internal/config"
	"s3uploadservice/internal/worker"
)

// EnsureSubfolders creates the failed subfolder of every source, and the
// uploaded subfolder when files are moved rather than deleted after upload.
func EnsureSubfolders(sources []config.Source, deleteAfterUpload bool) error {
	for _, src := range sources {
		subfolders := []string{worker.FailedSubfolder}
		if !deleteAfterUpload {
			subfolders = append(subfolders, worker.UploadedSubfolder)
		}

		for _, sub := range subfolders {
			dir := filepath.Join(src.LocalPath, sub)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}
	return nil
}
