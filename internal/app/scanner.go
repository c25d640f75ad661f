package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"s3uploadservice/internal/config"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

const defaultScanBatchSize = 256

// Candidate is an eligible file found by a scan
type Candidate struct {
	// Identity is the absolute path used to deduplicate in-flight files
	Identity string
	Path     string
	Name     string
}

// FileScanner lists the eligible files directly under a source folder
type FileScanner struct {
	logger    *zap.Logger
	batchSize int
	readable  func(path string) bool
}

// NewFileScanner creates a new scanner
func NewFileScanner(logger *zap.Logger) *FileScanner {
	return &FileScanner{
		logger:    logger,
		batchSize: defaultScanBatchSize,
		readable:  isReadable,
	}
}

// Scan re-reads the source folder and streams eligible files in directory
// order. Directories, non-regular files, hidden files, unreadable files and
// names not matching the source glob are skipped. At most one error is sent
// on the error channel, after which the scan stops; both channels are closed
// when the scan ends.
func (s *FileScanner) Scan(ctx context.Context, src config.Source) (<-chan Candidate, <-chan error) {
	candidates := make(chan Candidate)
	errCh := make(chan error, 1)

	go func() {
		defer close(candidates)
		defer close(errCh)

		if err := s.scan(ctx, src, candidates); err != nil {
			errCh <- err
		}
	}()

	return candidates, errCh
}

func (s *FileScanner) scan(ctx context.Context, src config.Source, out chan<- Candidate) error {
	root, err := filepath.Abs(src.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", src.LocalPath, err)
	}

	dir, err := os.Open(root)
	if err != nil {
		return fmt.Errorf("failed to open source folder: %w", err)
	}
	defer dir.Close()

	for {
		entries, err := dir.ReadDir(s.batchSize)
		for _, entry := range entries {
			candidate, ok := s.eligible(root, entry, src.GlobPattern)
			if !ok {
				continue
			}

			select {
			case out <- candidate:
			case <-ctx.Done():
				return nil
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read source folder %s: %w", root, err)
		}
	}
}

func (s *FileScanner) eligible(root string, entry fs.DirEntry, glob string) (Candidate, bool) {
	name := entry.Name()
	if entry.IsDir() {
		return Candidate{}, false
	}

	if glob != "" {
		matched, err := doublestar.Match(glob, name)
		if err != nil || !matched {
			return Candidate{}, false
		}
	}

	path := filepath.Join(root, name)

	mode := entry.Type()
	if mode&fs.ModeSymlink != 0 {
		info, err := os.Stat(path)
		if err != nil {
			return Candidate{}, false
		}
		mode = info.Mode()
	}
	if !mode.IsRegular() {
		return Candidate{}, false
	}

	if isHidden(path, name) || !s.readable(path) {
		s.logger.Debug("Skipping file", zap.String("path", path))
		return Candidate{}, false
	}

	return Candidate{
		Identity: filepath.Clean(path),
		Path:     path,
		Name:     name,
	}, true
}
