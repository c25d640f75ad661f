package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"s3uploadservice/internal/metrics"

	"github.com/mattn/go-isatty"
)

// SnapshotSource provides the statistics shown by the display
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

// Display periodically prints the upload status
type Display struct {
	source   SnapshotSource
	tracker  *Tracker
	interval time.Duration
	out      io.Writer

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewDisplay creates a new progress display writing to stdout
func NewDisplay(source SnapshotSource, interval time.Duration) *Display {
	return newDisplay(source, interval, os.Stdout)
}

func newDisplay(source SnapshotSource, interval time.Duration, out io.Writer) *Display {
	return &Display{
		source:   source,
		tracker:  NewTracker(source.Snapshot().StartTime),
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the display after printing a final summary
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	<-d.doneCh
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.out, strings.Join(d.generateDisplay(d.observe()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.out, strings.Join(d.generateFinalDisplay(d.observe()), "\n"))
			return
		}
	}
}

func (d *Display) observe() Status {
	s := d.source.Snapshot()
	return d.tracker.Observe(time.Now(), s.FilesUploaded, s.FilesFailed, s.BytesUploaded, s.ActiveTasks, s.QueuedTasks)
}

func (d *Display) generateDisplay(status Status) []string {
	return []string{
		"",
		"Upload status " + status.LastUpdateTime.Format("15:04:05"),
		strings.Repeat("=", 40),
		fmt.Sprintf("  Uploaded: %d (%s)", status.FilesUploaded, FormatBytes(status.BytesUploaded)),
		fmt.Sprintf("  Failed:   %d", status.FilesFailed),
		fmt.Sprintf("  Active:   %d   Queued: %d", status.ActiveTasks, status.QueuedTasks),
		fmt.Sprintf("  Speed:    %s (avg %s)", FormatSpeed(status.CurrentSpeed), FormatSpeed(status.AverageSpeed)),
		fmt.Sprintf("  Uptime:   %s", FormatDuration(status.LastUpdateTime.Sub(status.StartTime))),
	}
}

func (d *Display) generateFinalDisplay(status Status) []string {
	return []string{
		"",
		"Upload service stopped",
		strings.Repeat("=", 40),
		fmt.Sprintf("  Uploaded: %d (%s)", status.FilesUploaded, FormatBytes(status.BytesUploaded)),
		fmt.Sprintf("  Failed:   %d", status.FilesFailed),
		fmt.Sprintf("  Uptime:   %s", FormatDuration(status.LastUpdateTime.Sub(status.StartTime))),
		fmt.Sprintf("  Average:  %s", FormatSpeed(status.AverageSpeed)),
	}
}

// IsTerminalSupported checks if stdout is a terminal
func IsTerminalSupported() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
