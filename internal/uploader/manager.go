package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-git/go-billy/v5"

	"github.com/seantiz/shipper/internal/backend"
	"github.com/seantiz/shipper/internal/handle"
	"github.com/seantiz/shipper/internal/model"
	"github.com/seantiz/shipper/internal/pool"
	"github.com/seantiz/shipper/internal/store"
)

// DefaultMaxConcurrency bounds simultaneous uploads per manager when
// Config.MaxConcurrency is zero.
const DefaultMaxConcurrency = 256

// sniffLen is how much of a file is read for content detection before it
// is rewound and streamed.
const sniffLen = 3072

// Config describes where and how a manager uploads.
type Config struct {
	// Container is the remote container (bucket) every upload goes to. Required.
	Container string

	// Prefix is prepended to each local path to form the remote key.
	Prefix string

	// Timeout bounds each transfer. Zero or negative means unbounded.
	Timeout time.Duration

	// MaxConcurrency bounds simultaneous uploads. Zero means DefaultMaxConcurrency.
	MaxConcurrency int

	// IdleTimeout is how long an upload worker lingers without work.
	// Zero means pool.DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Result describes a completed upload.
type Result struct {
	ID          string `json:"id"`
	Container   string `json:"container"`
	Key         string `json:"key"`
	Bytes       int64  `json:"bytes"`
	ContentType string `json:"content_type"`
}

// Stats is a point-in-time view of a manager.
type Stats struct {
	Backend  string     `json:"backend"`
	InFlight int        `json:"in_flight"`
	Pool     pool.Stats `json:"pool"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithJournal records every upload and its transitions in s. Writes go
// through a single journal worker in submission order, never on the
// caller's goroutine.
func WithJournal(s store.Store) Option {
	return func(m *Manager) {
		m.journal = s
	}
}

// WithLogger sets the manager's logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// job binds one local file to its destination.
type job struct {
	id        string
	localPath string
	container string
	key       string
	timeout   time.Duration
}

// tracked is an upload the manager has accepted and not yet seen resolve.
type tracked struct {
	record  model.Upload
	handle  *handle.Handle[Result]
	started atomic.Int64
}

// Manager uploads local files to one backend through a private worker pool.
// Upload never blocks on I/O. It is safe for concurrent use.
type Manager struct {
	backend backend.Backend
	fs      billy.Filesystem
	cfg     Config
	pool    *pool.Pool
	journal store.Store
	logger  *slog.Logger

	// journaler serialises journal writes. Nil without a journal.
	journaler *pool.Pool

	mu       sync.Mutex
	inflight map[string]*tracked
}

// NewManager builds a manager for b reading local files from fsys. The
// manager owns a pool named "<backend>-upload", and with a journal a
// single-worker pool named "<backend>-journal", until Close.
func NewManager(b backend.Backend, fsys billy.Filesystem, cfg Config, opts ...Option) (*Manager, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if fsys == nil {
		return nil, fmt.Errorf("%w: filesystem is required", ErrInvalidConfig)
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("%w: container is required", ErrInvalidConfig)
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("%w: max concurrency must not be negative, got %d", ErrInvalidConfig, cfg.MaxConcurrency)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	m := &Manager{
		backend:  b,
		fs:       fsys,
		cfg:      cfg,
		logger:   slog.Default(),
		inflight: make(map[string]*tracked),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("backend", b.Name())

	p, err := pool.New(pool.Config{
		MaxWorkers:  cfg.MaxConcurrency,
		IdleTimeout: cfg.IdleTimeout,
		NamePrefix:  b.Name() + "-upload",
		Logger:      m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	m.pool = p

	if m.journal != nil {
		jp, err := pool.New(pool.Config{
			MaxWorkers:  1,
			IdleTimeout: cfg.IdleTimeout,
			NamePrefix:  b.Name() + "-journal",
			Logger:      m.logger,
		})
		if err != nil {
			p.Shutdown(context.Background())
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		m.journaler = jp
	}

	initMetrics(b.Name())
	return m, nil
}

// Name returns the backend name.
func (m *Manager) Name() string {
	return m.backend.Name()
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Upload schedules localPath for upload and returns immediately.
func (m *Manager) Upload(localPath string) *handle.Handle[Result] {
	_, h := m.Start(localPath)
	return h
}

// Start is Upload that also returns the upload's ID, usable with Cancel,
// Lookup and the journal.
func (m *Manager) Start(localPath string) (string, *handle.Handle[Result]) {
	j := job{
		id:        model.NewID(),
		localPath: localPath,
		container: m.cfg.Container,
		key:       JoinKey(m.cfg.Prefix, localPath),
		timeout:   m.cfg.Timeout,
	}

	t := &tracked{
		record: model.Upload{
			ID:        j.id,
			Backend:   m.backend.Name(),
			LocalPath: j.localPath,
			Container: j.container,
			Key:       j.key,
			Status:    model.StatusPending,
			CreatedAt: time.Now().UTC(),
		},
	}
	created := t.record
	m.record(j.id, "create", func(ctx context.Context, s store.Store) error {
		return s.CreateUpload(ctx, &created)
	}, nil)

	t.handle = pool.Submit(m.pool, func(ctx context.Context) (Result, error) {
		return m.transfer(ctx, j, t)
	})

	m.mu.Lock()
	m.inflight[j.id] = t
	m.mu.Unlock()

	// Registered after the inflight entry exists so finish always removes it.
	t.handle.OnDone(func(s handle.State) {
		m.finish(t, s)
	})

	m.logger.Debug("upload accepted", "upload_id", j.id, "path", j.localPath, "key", j.key)
	return j.id, t.handle
}

// transfer runs on a pool worker. The local file is closed before the
// outcome is reported.
func (m *Manager) transfer(ctx context.Context, j job, t *tracked) (Result, error) {
	t.started.Store(time.Now().UnixNano())
	m.record(j.id, "running", func(ctx context.Context, s store.Store) error {
		return s.UpdateUploadStatus(ctx, j.id, model.StatusRunning)
	}, nil)

	fail := func(op string, kind, err error) (Result, error) {
		return Result{}, &Error{Op: op, Kind: kind, Path: j.localPath, Container: j.container, Key: j.key, Err: err}
	}

	f, err := m.fs.Open(j.localPath)
	if err != nil {
		return fail("open", ErrIO, err)
	}
	defer f.Close()

	info, err := m.fs.Stat(j.localPath)
	if err != nil {
		return fail("stat", ErrIO, err)
	}
	if info.IsDir() {
		return fail("stat", ErrIO, errors.New("is a directory"))
	}
	size := info.Size()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fail("read", ErrIO, err)
	}
	contentType := mimetype.Detect(head[:n]).String()
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fail("read", ErrIO, err)
	}

	if err := m.backend.EnsureContainer(ctx, j.container); err != nil {
		return fail("ensure container", ErrBackend, err)
	}

	opts := backend.WriteOptions{MaxDuration: j.timeout, ContentType: contentType}

	if err := m.backend.Write(ctx, j.container, j.key, f, size, opts); err != nil {
		if isTimeout(err, opts) {
			return fail("write", ErrTransferTimeout, err)
		}
		return fail("write", ErrBackend, err)
	}

	return Result{
		ID:          j.id,
		Container:   j.container,
		Key:         j.key,
		Bytes:       size,
		ContentType: contentType,
	}, nil
}

// isTimeout reports whether a write failed because its own deadline
// expired. Errors that merely arrive late keep their backend kind.
func isTimeout(err error, opts backend.WriteOptions) bool {
	return opts.MaxDuration > 0 && errors.Is(err, context.DeadlineExceeded)
}

// record queues a journal write. then runs after the write, or at once when
// there is nothing to write to.
func (m *Manager) record(id, op string, write func(context.Context, store.Store) error, then func()) {
	if m.journal == nil {
		if then != nil {
			then()
		}
		return
	}
	err := m.journaler.Execute(func() {
		if err := write(context.Background(), m.journal); err != nil {
			m.logger.Error("failed to journal upload", "upload_id", id, "op", op, "error", err)
		}
		if then != nil {
			then()
		}
	})
	if err != nil {
		m.logger.Warn("journal closed, dropping write", "upload_id", id, "op", op)
		if then != nil {
			then()
		}
	}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// finish runs once per upload on the goroutine that resolved its handle.
// The upload stays visible to Lookup until its outcome is journaled.
func (m *Manager) finish(t *tracked, s handle.State) {
	name := m.backend.Name()
	res, err, _ := t.handle.Result()

	u := Snapshot(t.record, t.handle)
	now := time.Now().UTC()
	u.FinishedAt = &now
	if ns := t.started.Load(); ns > 0 {
		startedAt := time.Unix(0, ns).UTC()
		d := now.Sub(startedAt)
		ms := int(d.Milliseconds())
		u.StartedAt = &startedAt
		u.DurationMS = &ms
		uploadDuration.WithLabelValues(name).Observe(d.Seconds())
	}
	if s == handle.StateCompleted {
		uploadBytesTotal.WithLabelValues(name).Add(float64(res.Bytes))
	}
	uploadsTotal.WithLabelValues(name, u.Status).Inc()

	m.record(u.ID, "finish", func(ctx context.Context, s store.Store) error {
		return s.UpdateUpload(ctx, &u)
	}, func() {
		m.forget(u.ID)
	})

	switch s {
	case handle.StateCompleted:
		m.logger.Info("upload completed", "upload_id", u.ID, "key", u.Key, "bytes", res.Bytes)
	case handle.StateCancelled:
		m.logger.Info("upload cancelled", "upload_id", u.ID, "path", u.LocalPath)
	default:
		m.logger.Warn("upload failed", "upload_id", u.ID, "path", u.LocalPath, "error", err)
	}
}

// Snapshot returns u with the status and, once resolved, the outcome
// carried by h.
func Snapshot(u model.Upload, h *handle.Handle[Result]) model.Upload {
	u.Status = statusOf(h.State())
	res, err, ok := h.Result()
	if !ok {
		return u
	}
	if err != nil {
		u.Error = err.Error()
	}
	if u.Status == model.StatusCompleted {
		u.Bytes = &res.Bytes
		u.ContentType = res.ContentType
	}
	return u
}

func statusOf(s handle.State) string {
	switch s {
	case handle.StateCompleted:
		return model.StatusCompleted
	case handle.StateCancelled:
		return model.StatusCancelled
	case handle.StateRunning:
		return model.StatusRunning
	case handle.StatePending:
		return model.StatusPending
	default:
		return model.StatusFailed
	}
}

// Cancel stops a queued upload from starting. Once a worker has picked the
// upload up, Cancel only cancels the transfer's context and returns
// ErrNotCancellable. It returns ErrUnknownUpload for an ID that is not in
// flight.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	t, ok := m.inflight[id]
	m.mu.Unlock()
	if !ok {
		return ErrUnknownUpload
	}
	if !t.handle.Cancel() {
		return ErrNotCancellable
	}
	return nil
}

// Lookup returns the in-flight upload with the given ID and its current
// status.
func (m *Manager) Lookup(id string) (model.Upload, *handle.Handle[Result], bool) {
	m.mu.Lock()
	t, ok := m.inflight[id]
	m.mu.Unlock()
	if !ok {
		return model.Upload{}, nil, false
	}
	return Snapshot(t.record, t.handle), t.handle, true
}

// Stats returns a snapshot of the manager and its pool.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	n := len(m.inflight)
	m.mu.Unlock()
	return Stats{
		Backend:  m.backend.Name(),
		InFlight: n,
		Pool:     m.pool.Stats(),
	}
}

// Closed reports whether Close has been called.
func (m *Manager) Closed() bool {
	return m.pool.Closed()
}

// Close stops accepting uploads and waits for queued and running ones to
// finish, or for ctx to be done. Pending journal writes are flushed after
// the uploads drain.
func (m *Manager) Close(ctx context.Context) error {
	m.logger.Info("closing upload manager")
	var errs []error
	if err := m.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown %s pool: %w", m.pool.Name(), err))
	}
	if m.journaler != nil {
		if err := m.journaler.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s pool: %w", m.journaler.Name(), err))
		}
	}
	return errors.Join(errs...)
}
