package history

import (
	"time"
)

// Status represents the last outcome recorded for a file
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusFailed   Status = "failed"
)

// Record is the last known outcome for a file identity
type Record struct {
	Path      string    `json:"path"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Status    Status    `json:"status"`
	Bytes     int64     `json:"bytes"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the interface for upload history persistence
type Store interface {
	// RecordOutcome upserts the record for record.Path and increments its attempts
	RecordOutcome(record *Record) error
	Get(path string) (*Record, error)
	// List returns records newest first; an empty status lists all
	List(status Status, limit int) ([]*Record, error)

	Close() error
}

// NopStore discards all records. It is used when no history file is configured.
type NopStore struct{}

func (NopStore) RecordOutcome(*Record) error         { return nil }
func (NopStore) Get(string) (*Record, error)         { return nil, nil }
func (NopStore) List(Status, int) ([]*Record, error) { return nil, nil }
func (NopStore) Close() error                        { return nil }
