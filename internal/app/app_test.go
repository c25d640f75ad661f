package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"s3uploadservice/internal/config"
	"s3uploadservice/internal/history"
	"s3uploadservice/internal/metrics"
	"s3uploadservice/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeStore records uploads. When release is set, every upload blocks until
// it receives from release.
type fakeStore struct {
	mu      sync.Mutex
	keys    []string
	err     error
	release chan struct{}
}

func (s *fakeStore) PutFile(ctx context.Context, bucket, key, path string, opts storage.PutOptions) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}

	s.mu.Lock()
	s.keys = append(s.keys, bucket+"/"+key)
	s.mu.Unlock()

	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *fakeStore) uploadedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.keys...)
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Endpoint = "localhost:9000"
	cfg.Sources = []config.Source{{LocalPath: dir, Bucket: "media", ObjectKeyRoot: "in"}}
	cfg.PauseInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

func newTestUploader(t *testing.T, cfg *config.Config, store storage.ObjectStore, hist history.Store) *Uploader {
	t.Helper()
	return newTestUploaderWithLogger(t, cfg, store, hist, zap.NewNop())
}

func newTestUploaderWithLogger(t *testing.T, cfg *config.Config, store storage.ObjectStore, hist history.Store, logger *zap.Logger) *Uploader {
	t.Helper()
	if hist == nil {
		hist = history.NopStore{}
	}
	u, err := NewWithStore(cfg, store, hist, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = u.drain()
		_ = u.Close()
	})
	return u
}

func TestUploader_AdmissionBound(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		writeTestFile(t, dir, name, name)
	}

	cfg := testConfig(dir)
	cfg.Pool = config.PoolConfig{CorePoolSize: 1, MaximumPoolSize: 1, QueueCapacity: 1, KeepAlive: time.Minute}

	store := &fakeStore{release: make(chan struct{})}
	u := newTestUploader(t, cfg, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		u.processSource(ctx, cfg.Sources[0])
	}()

	// one uploading, one queued, the third claimed but waiting for a permit
	require.Eventually(t, func() bool {
		return u.gate.InUse() == 2 && u.tracker.Len() == 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.calls())

	select {
	case <-done:
		t.Fatal("scan should block while the gate is saturated")
	default:
	}

	// finishing one upload admits the third file
	store.release <- struct{}{}
	require.Eventually(t, func() bool {
		return u.tracker.Len() == 2 && u.gate.InUse() == 2
	}, 5*time.Second, 5*time.Millisecond)

	close(store.release)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not finish")
	}

	require.NoError(t, u.drain())
	assert.Equal(t, 3, store.calls())
	assert.Equal(t, int64(3), u.Metrics().FilesUploaded())
	assert.Equal(t, 0, u.gate.InUse())
	assert.Equal(t, 0, u.tracker.Len())
}

func TestUploader_FailureMovesToFailed(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "hello")

	dbPath := filepath.Join(t.TempDir(), "history.db")
	hist, err := history.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	store := &fakeStore{err: errors.New("connection refused")}
	u := newTestUploader(t, testConfig(dir), store, hist)

	u.sweep(context.Background())
	require.NoError(t, u.drain())

	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
	assert.FileExists(t, filepath.Join(dir, "failed", "a.txt"))
	assert.Equal(t, int64(1), u.Metrics().FilesFailed())
	assert.Equal(t, int64(0), u.Metrics().FilesUploaded())
	assert.Equal(t, 0, u.gate.InUse())

	identity, err := filepath.Abs(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	record, err := hist.Get(identity)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, history.StatusFailed, record.Status)
	assert.Equal(t, "in/a.txt", record.Key)
	assert.Contains(t, record.LastError, "connection refused")
}

func TestUploader_MoveModeMovesToUploaded(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "b.txt", "twelve bytes")

	cfg := testConfig(dir)
	cfg.DeleteAfterUpload = false

	store := &fakeStore{}
	u := newTestUploader(t, cfg, store, nil)

	u.sweep(context.Background())
	require.NoError(t, u.drain())

	assert.Equal(t, []string{"media/in/b.txt"}, store.uploadedKeys())
	assert.NoFileExists(t, filepath.Join(dir, "b.txt"))
	assert.FileExists(t, filepath.Join(dir, "uploaded", "b.txt"))

	snapshot := u.Metrics().Snapshot()
	assert.Equal(t, int64(1), snapshot.FilesUploaded)
	assert.Equal(t, int64(12), snapshot.BytesUploaded)
	assert.Equal(t, int64(0), snapshot.FilesFailed)
}

func TestUploader_DeleteModeRemovesFile(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "c.txt", "c")

	store := &fakeStore{}
	u := newTestUploader(t, testConfig(dir), store, nil)

	u.sweep(context.Background())
	require.NoError(t, u.drain())

	assert.NoFileExists(t, filepath.Join(dir, "c.txt"))
	assert.NoDirExists(t, filepath.Join(dir, "uploaded"))
	assert.Equal(t, int64(1), u.Metrics().FilesUploaded())
	// size is read before the file is deleted
	assert.Equal(t, int64(1), u.Metrics().BytesUploaded())
}

func TestUploader_IneligibleFilesNeverSubmitted(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, ".hidden", "h")
	writeTestFile(t, dir, "skip.tmp", "t")
	writeTestFile(t, dir, "keep.txt", "k")
	locked := writeTestFile(t, dir, "locked.txt", "l")

	cfg := testConfig(dir)
	cfg.Sources[0].GlobPattern = "*.txt"

	store := &fakeStore{}
	u := newTestUploader(t, cfg, store, nil)
	u.scanner.readable = func(path string) bool {
		return path != locked
	}

	for i := 0; i < 3; i++ {
		u.sweep(context.Background())
	}
	require.NoError(t, u.drain())

	assert.Equal(t, []string{"media/in/keep.txt"}, store.uploadedKeys())
	assert.FileExists(t, filepath.Join(dir, ".hidden"))
	assert.FileExists(t, filepath.Join(dir, "skip.tmp"))
	assert.FileExists(t, locked)
	assert.Equal(t, int64(0), u.Metrics().FilesFailed())
}

func TestUploader_InFlightFileSubmittedOnce(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "a")

	store := &fakeStore{release: make(chan struct{})}
	u := newTestUploader(t, testConfig(dir), store, nil)

	for i := 0; i < 3; i++ {
		u.sweep(context.Background())
	}
	require.Eventually(t, func() bool { return store.calls() == 1 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, u.tracker.Len())
	assert.Equal(t, 1, u.gate.InUse())

	close(store.release)
	require.NoError(t, u.drain())

	assert.Equal(t, 1, store.calls())
	assert.Equal(t, int64(1), u.Metrics().FilesUploaded())
	assert.Equal(t, 0, u.tracker.Len())
}

func TestUploader_RunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "a")

	store := &fakeStore{}
	u := newTestUploader(t, testConfig(dir), store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- u.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return u.Metrics().FilesUploaded() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// files dropped while running are picked up by a later sweep
	writeTestFile(t, dir, "b.txt", "b")
	require.Eventually(t, func() bool {
		return u.Metrics().FilesUploaded() == 2
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.ElementsMatch(t, []string{"media/in/a.txt", "media/in/b.txt"}, store.uploadedKeys())
}

func TestUploader_CancelWhileWaitingForPermit(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "a")
	writeTestFile(t, dir, "b.txt", "b")

	cfg := testConfig(dir)
	cfg.Pool = config.PoolConfig{CorePoolSize: 1, MaximumPoolSize: 1, QueueCapacity: 1, KeepAlive: time.Minute}

	store := &fakeStore{release: make(chan struct{})}
	u := newTestUploader(t, cfg, store, nil)
	// shrink the gate so the second file waits for a permit
	u.gate = NewAdmissionGate(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.processSource(ctx, cfg.Sources[0])
	}()

	require.Eventually(t, func() bool {
		return u.tracker.Len() == 2 && u.gate.InUse() == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not stop after cancel")
	}

	// the waiting file gave its claim back, the admitted one still owns its
	assert.Equal(t, 1, u.tracker.Len())

	close(store.release)
	require.NoError(t, u.drain())
	assert.Equal(t, 0, u.tracker.Len())
	assert.Equal(t, 0, u.gate.InUse())
}

type panicStore struct{}

func (panicStore) PutFile(ctx context.Context, bucket, key, path string, opts storage.PutOptions) error {
	panic("storage client bug")
}

func TestUploader_PanicCountsAsFailureWithoutMove(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.txt", "a")

	core, logs := observer.New(zap.ErrorLevel)
	u := newTestUploaderWithLogger(t, testConfig(dir), panicStore{}, nil, zap.New(core))

	u.sweep(context.Background())
	require.NoError(t, u.drain())

	assert.Equal(t, int64(1), u.Metrics().FilesFailed())
	assert.Equal(t, 0, u.tracker.Len())
	assert.Equal(t, 0, u.gate.InUse())

	// the job never reached its disposition, so the file is still in place
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(dir, "failed", "a.txt"))

	assert.Equal(t, 1, logs.FilterMessage("Upload failed").Len())
	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, "moved")
	}
}

func TestUploader_MetricsServedDuringDrain(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "a.txt", "a")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	cfg := testConfig(dir)
	cfg.MetricsAddr = addr

	store := &fakeStore{release: make(chan struct{})}
	u := newTestUploader(t, cfg, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- u.Run(ctx)
	}()

	statsURL := "http://" + addr + "/stats"
	fetch := func() (metrics.Snapshot, error) {
		var s metrics.Snapshot
		resp, err := http.Get(statsURL)
		if err != nil {
			return s, err
		}
		defer resp.Body.Close()
		return s, json.NewDecoder(resp.Body).Decode(&s)
	}

	require.Eventually(t, func() bool {
		_, err := fetch()
		return err == nil && store.calls() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Run is now draining the blocked upload
	cancel()
	require.Eventually(t, func() bool {
		s, err := fetch()
		return err == nil && s.InFlight == 1 && s.ActiveTasks == 1
	}, 5*time.Second, 10*time.Millisecond)

	select {
	case <-errCh:
		t.Fatal("Run returned before the admitted upload finished")
	default:
	}

	close(store.release)
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the drain")
	}

	assert.Eventually(t, func() bool {
		_, err := fetch()
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), u.Metrics().FilesUploaded())
}
