package progress

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// Status is the upload progress derived from statistic snapshots
type Status struct {
	FilesUploaded  int64
	FilesFailed    int64
	BytesUploaded  int64
	ActiveTasks    int
	QueuedTasks    int
	StartTime      time.Time
	LastUpdateTime time.Time
	CurrentSpeed   float64 // bytes/second over the recent window
	AverageSpeed   float64 // bytes/second since start
}

type speedSample struct {
	timestamp time.Time
	bytes     int64
}

// Tracker derives transfer rates from successive byte totals. It is only
// used from the display goroutine and needs no locking.
type Tracker struct {
	status     Status
	samples    []speedSample
	maxSamples int
	window     time.Duration
}

// NewTracker creates a new progress tracker
func NewTracker(start time.Time) *Tracker {
	return &Tracker{
		status: Status{
			StartTime:      start,
			LastUpdateTime: start,
		},
		samples:    make([]speedSample, 0, 60),
		maxSamples: 60,
		window:     10 * time.Second,
	}
}

// Observe records the counters read at now and returns the updated status
func (t *Tracker) Observe(now time.Time, filesUploaded, filesFailed, bytesUploaded int64, active, queued int) Status {
	t.status.FilesUploaded = filesUploaded
	t.status.FilesFailed = filesFailed
	t.status.BytesUploaded = bytesUploaded
	t.status.ActiveTasks = active
	t.status.QueuedTasks = queued
	t.status.LastUpdateTime = now

	t.samples = append(t.samples, speedSample{timestamp: now, bytes: bytesUploaded})
	if len(t.samples) > t.maxSamples {
		t.samples = t.samples[1:]
	}

	t.calculateCurrentSpeed(now)
	t.calculateAverageSpeed(now)

	return t.status
}

// calculateCurrentSpeed uses the oldest sample inside the window
func (t *Tracker) calculateCurrentSpeed(now time.Time) {
	t.status.CurrentSpeed = 0
	if len(t.samples) < 2 {
		return
	}

	cutoff := now.Add(-t.window)
	oldest := t.samples[len(t.samples)-1]
	for i := len(t.samples) - 2; i >= 0; i-- {
		if t.samples[i].timestamp.Before(cutoff) {
			break
		}
		oldest = t.samples[i]
	}

	elapsed := now.Sub(oldest.timestamp)
	if elapsed > 0 {
		t.status.CurrentSpeed = float64(t.status.BytesUploaded-oldest.bytes) / elapsed.Seconds()
	}
}

func (t *Tracker) calculateAverageSpeed(now time.Time) {
	elapsed := now.Sub(t.status.StartTime)
	if elapsed > 0 {
		t.status.AverageSpeed = float64(t.status.BytesUploaded) / elapsed.Seconds()
	}
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return humanize.IBytes(uint64(bytesPerSecond)) + "/s"
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
