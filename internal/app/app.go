package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"s3uploadservice/internal/config"
	"s3uploadservice/internal/history"
	"s3uploadservice/internal/metrics"
	"s3uploadservice/internal/progress"
	"s3uploadservice/internal/storage"
	"s3uploadservice/internal/worker"

	"go.uber.org/zap"
)

// Uploader is the upload pipeline: it scans the configured sources, admits
// new files through the gate and runs their uploads on the worker pool.
type Uploader struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     storage.ObjectStore
	history   history.Store
	metrics   *metrics.Collector
	tracker   *InFlightTracker
	gate      *AdmissionGate
	pool      *worker.Pool
	processor *worker.TaskProcessor
	scanner   *FileScanner
}

// New creates the uploader with a MinIO-backed object store
func New(cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	store, err := storage.NewMinIOClient(storage.Config{
		Endpoint:          cfg.Storage.Endpoint,
		AccessKey:         cfg.Storage.AccessKey,
		SecretKey:         cfg.Storage.SecretKey,
		CredentialsFile:   cfg.Storage.CredentialsFile,
		Profile:           cfg.Storage.Profile,
		Region:            cfg.Storage.Region,
		Secure:            cfg.Storage.Secure,
		MaxConnections:    cfg.Pool.MaximumPoolSize,
		ConnectionTimeout: cfg.Timeouts.Connection,
		SocketTimeout:     cfg.Timeouts.Socket,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	var hist history.Store = history.NopStore{}
	if cfg.History != "" {
		sqliteStore, err := history.NewSQLiteStore(cfg.History)
		if err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		hist = sqliteStore
	}

	u, err := NewWithStore(cfg, store, hist, logger)
	if err != nil {
		hist.Close()
		return nil, err
	}
	return u, nil
}

// NewWithStore creates the uploader around an existing object store and
// history. The source subfolders are created here.
func NewWithStore(cfg *config.Config, store storage.ObjectStore, hist history.Store, logger *zap.Logger) (*Uploader, error) {
	if err := EnsureSubfolders(cfg.Sources, cfg.DeleteAfterUpload); err != nil {
		return nil, err
	}

	pool, err := worker.NewPool(context.Background(), worker.PoolConfig{
		CorePoolSize:    cfg.Pool.CorePoolSize,
		MaximumPoolSize: cfg.Pool.MaximumPoolSize,
		QueueCapacity:   cfg.Pool.QueueCapacity,
		KeepAlive:       cfg.Pool.KeepAlive,
	}, logger.Named("pool"))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	gate := NewAdmissionGate(cfg.Pool.Bound())
	tracker := NewInFlightTracker()

	collector := metrics.New()
	collector.BindPool(pool)
	collector.BindGate(gate)
	collector.BindTracker(tracker)

	return &Uploader{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		history: hist,
		metrics: collector,
		tracker: tracker,
		gate:    gate,
		pool:    pool,
		processor: worker.NewTaskProcessor(worker.Config{
			DeleteAfterUpload: cfg.DeleteAfterUpload,
			ACL:               cfg.Storage.ACL,
		}, store, logger.Named("upload")),
		scanner: NewFileScanner(logger.Named("scanner")),
	}, nil
}

// Metrics returns the statistics collector
func (u *Uploader) Metrics() *metrics.Collector {
	return u.metrics
}

// Run sweeps the sources until ctx is cancelled, then drains admitted uploads
func (u *Uploader) Run(ctx context.Context) error {
	u.logger.Info("Starting upload service",
		zap.Int("sources", len(u.cfg.Sources)),
		zap.Int("core_pool_size", u.cfg.Pool.CorePoolSize),
		zap.Int("maximum_pool_size", u.cfg.Pool.MaximumPoolSize),
		zap.Int("queue_capacity", u.cfg.Pool.QueueCapacity),
		zap.Bool("delete_after_upload", u.cfg.DeleteAfterUpload),
	)

	// metrics stay up until the drain is over
	metricsCtx, stopMetrics := context.WithCancel(context.Background())
	defer stopMetrics()
	if u.cfg.MetricsAddr != "" {
		go func() {
			if err := u.metrics.Serve(metricsCtx, u.cfg.MetricsAddr, u.logger); err != nil {
				u.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	var display *progress.Display
	if u.cfg.ShowProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(u.metrics, 2*time.Second)
		display.Start()
	}

	for ctx.Err() == nil {
		u.sweep(ctx)

		// let the uploads progress before listing the folders again
		select {
		case <-time.After(u.cfg.PauseInterval):
		case <-ctx.Done():
		}
	}

	u.logger.Info("Shutting down, waiting for admitted uploads to finish",
		zap.Int("in_flight", u.tracker.Len()),
	)
	err := u.drain()

	if display != nil {
		display.Stop()
	}

	snapshot := u.metrics.Snapshot()
	u.logger.Info("Upload service stopped",
		zap.Int64("files_uploaded", snapshot.FilesUploaded),
		zap.Int64("bytes_uploaded", snapshot.BytesUploaded),
		zap.Int64("files_failed", snapshot.FilesFailed),
	)
	return err
}

func (u *Uploader) drain() error {
	timeout := u.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return u.pool.Shutdown(ctx)
}

// sweep processes every source once
func (u *Uploader) sweep(ctx context.Context) {
	for _, src := range u.cfg.Sources {
		if ctx.Err() != nil {
			return
		}
		u.processSource(ctx, src)
	}
}

// processSource submits every newly found file of src. It blocks while the
// admission gate is saturated.
func (u *Uploader) processSource(ctx context.Context, src config.Source) {
	candidates, errCh := u.scanner.Scan(ctx, src)

	index := 0
	for candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		index++

		if !u.tracker.TryClaim(candidate.Identity) {
			continue
		}
		u.logger.Debug("Claimed file", zap.String("path", candidate.Identity))

		if err := u.gate.Acquire(ctx); err != nil {
			// shutting down: nothing was admitted for this claim
			u.tracker.Release(candidate.Identity)
			break
		}

		if err := u.submit(src, candidate); err != nil {
			u.logger.Warn("Failed to submit file", zap.String("path", candidate.Path), zap.Error(err))
			break
		}

		u.logger.Debug("Submitted file",
			zap.String("file", candidate.Name),
			zap.Int("file_number", index),
			zap.Int("in_queue", u.pool.QueueSize()),
			zap.Int("active", u.pool.ActiveCount()),
		)
	}

	// unblock the scanner if the loop stopped early
	for range candidates {
	}

	if err := <-errCh; err != nil {
		u.logger.Error("Source scan failed, retrying next cycle",
			zap.String("local_path", src.LocalPath),
			zap.Error(err),
		)
	}
}

// submit hands an admitted candidate to the pool. On error the claim and the
// permit are given back.
func (u *Uploader) submit(src config.Source, candidate Candidate) error {
	task := worker.Task{
		Identity:      candidate.Identity,
		Path:          candidate.Path,
		LocalPath:     src.LocalPath,
		Bucket:        src.Bucket,
		ObjectKeyRoot: src.ObjectKeyRoot,
		Headers:       toHeaders(src.MetadataHeaders),
	}

	future, err := u.pool.Submit(u.processor.Job(task))
	if err != nil {
		u.tracker.Release(task.Identity)
		u.releasePermit()
		return err
	}

	future.OnComplete(func(result worker.Result) {
		u.complete(task, result)
	})
	return nil
}

// complete runs once per submitted task. The permit is released last and
// even if an earlier step panics.
func (u *Uploader) complete(task worker.Task, result worker.Result) {
	defer u.releasePermit()

	u.tracker.Release(task.Identity)

	record := &history.Record{
		Path:   task.Identity,
		Bucket: task.Bucket,
		Key:    result.Key,
		Bytes:  result.BytesTransferred,
	}
	if record.Key == "" {
		record.Key = worker.ObjectKey(task.ObjectKeyRoot, filepath.Base(task.Path))
	}

	if result.Succeeded() {
		u.metrics.RecordSuccess(result.BytesTransferred, result.Duration)
		record.Status = history.StatusUploaded
		u.logger.Info("Uploaded file",
			zap.String("path", task.Identity),
			zap.String("bucket", task.Bucket),
			zap.String("key", record.Key),
			zap.Int64("bytes", result.BytesTransferred),
			zap.Duration("duration", result.Duration),
		)
	} else {
		u.metrics.RecordFailure()
		record.Status = history.StatusFailed
		record.LastError = result.Err.Error()
		u.logger.Error("Upload failed",
			zap.String("path", task.Identity),
			zap.Error(result.Err),
		)
	}

	if err := u.history.RecordOutcome(record); err != nil && !errors.Is(err, history.ErrClosed) {
		u.logger.Warn("Failed to record upload history", zap.String("path", task.Identity), zap.Error(err))
	}
}

func (u *Uploader) releasePermit() {
	if err := u.gate.Release(); err != nil {
		u.logger.Error("Admission permit accounting error", zap.Error(err))
	}
}

func toHeaders(headers []config.MetadataHeader) []storage.Header {
	out := make([]storage.Header, 0, len(headers))
	for _, h := range headers {
		out = append(out, storage.Header{Key: h.Key, Value: h.Value})
	}
	return out
}

// Close cleans up resources
func (u *Uploader) Close() error {
	if u.history != nil {
		return u.history.Close()
	}
	return nil
}
