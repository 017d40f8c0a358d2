// Package resources lazily fetches the vector index and its metadata from a
// CDN (or a file:// store) and publishes them together as one snapshot.
package resources

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hyperjump/kagami/internal/config"
	"github.com/hyperjump/kagami/internal/metadata"
	"github.com/hyperjump/kagami/internal/metrics"
	"github.com/hyperjump/kagami/internal/vector"
	"github.com/hyperjump/kagami/internal/watcher"
	kerr "github.com/hyperjump/kagami/pkg/errors"
	"github.com/hyperjump/kagami/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	scratchPattern = "kagami-index-*.faiss"
	loadKey        = "load"
)

// Snapshot is an index and its metadata, loaded together. It is immutable;
// a reload publishes a new Snapshot and retires the old one.
type Snapshot struct {
	ID         uuid.UUID
	Index      vector.Index
	Metadata   *metadata.Table
	LoadedAt   time.Time
	IndexBytes int64

	refs      atomic.Int64
	retired   atomic.Bool
	closeOnce sync.Once
}

// Release returns a snapshot obtained from Loader.Acquire.
func (s *Snapshot) Release() {
	if s.refs.Add(-1) == 0 && s.retired.Load() {
		s.close()
	}
}

// retire closes the index once the last holder releases it.
func (s *Snapshot) retire() {
	s.retired.Store(true)
	if s.refs.Load() == 0 {
		s.close()
	}
}

func (s *Snapshot) close() {
	s.closeOnce.Do(func() { _ = s.Index.Close() })
}

// Loader owns the current snapshot.
type Loader struct {
	cfg       config.ResourcesConfig
	dimension int
	client    *retryablehttp.Client
	logger    *zap.Logger
	metrics   metrics.Recorder

	group   singleflight.Group
	current atomic.Pointer[Snapshot]

	mu      sync.Mutex
	lastErr error
	watcher *watcher.Watcher
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ld *Loader) { ld.logger = utils.OrNop(l) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(ld *Loader) {
		if m != nil {
			ld.metrics = m
		}
	}
}

// WithDimension rejects indexes whose vector dimension differs from d.
func WithDimension(d int) Option {
	return func(ld *Loader) { ld.dimension = d }
}

// NewLoader creates a loader; nothing is fetched until EnsureLoaded or Reload.
func NewLoader(cfg config.ResourcesConfig, opts ...Option) *Loader {
	l := &Loader{
		cfg:     cfg,
		client:  newClient(cfg.RetryMax),
		logger:  zap.NewNop(),
		metrics: (*metrics.Metrics)(nil),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Snapshot returns the current snapshot, or nil if nothing is loaded.
// The returned index may be closed by a concurrent reload; use Acquire to search.
func (l *Loader) Snapshot() *Snapshot {
	return l.current.Load()
}

// Loaded reports whether a snapshot is published.
func (l *Loader) Loaded() bool {
	return l.current.Load() != nil
}

// Acquire returns the current snapshot pinned against reload, or nil.
// Callers must Release it.
func (l *Loader) Acquire() *Snapshot {
	for {
		s := l.current.Load()
		if s == nil {
			return nil
		}
		s.refs.Add(1)
		if l.current.Load() == s {
			return s
		}
		s.Release()
	}
}

// LastError returns the cause of the most recent failed load, or nil.
func (l *Loader) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// EnsureLoaded loads the resources unless a snapshot is already published.
// Concurrent callers share one load, which is not cancelled with ctx.
// It never panics or returns an error: failures are logged and yield false.
func (l *Loader) EnsureLoaded(ctx context.Context) bool {
	if l.Loaded() {
		return true
	}
	return l.Reload(ctx) == nil
}

// Reload fetches both resources and publishes them as a new snapshot. On
// failure the current snapshot (if any) stays in place.
func (l *Loader) Reload(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	ch := l.group.DoChan(loadKey, func() (any, error) {
		return nil, l.load(detached)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loader) load(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = kerr.Errorf(kerr.CodeResourceParseInvalid, "panic while loading resources: %v", r)
		}
		l.mu.Lock()
		l.lastErr = err
		l.mu.Unlock()
		if err != nil {
			l.logger.Error("failed to load index resources",
				zap.String("index_url", l.cfg.IndexURL()),
				zap.String("metadata_url", l.cfg.MetadataURL()),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			l.metrics.RecordLoad(metrics.OutcomeError, 0, time.Since(start))
		}
	}()

	l.logger.Info("loading index resources", zap.String("index_url", l.cfg.IndexURL()))
	snap, err := l.build(ctx)
	if err != nil {
		return err
	}
	snap.LoadedAt = time.Now().UTC()

	if old := l.current.Swap(snap); old != nil {
		old.retire()
	}
	l.metrics.RecordLoad(metrics.OutcomeSuccess, snap.Index.Total(), time.Since(start))
	l.logger.Info("index resources loaded",
		zap.String("snapshot_id", snap.ID.String()),
		zap.Int("vectors", snap.Index.Total()),
		zap.Int("metadata_entries", snap.Metadata.Len()),
		zap.String("index_type", snap.Index.Type()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// build fetches and parses both resources. Nothing is kept if either fails.
func (l *Loader) build(ctx context.Context) (*Snapshot, error) {
	path, size, err := l.fetchToFile(ctx, l.cfg.IndexURL(), l.cfg.IndexTimeout)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	idx, err := vector.Open(path, l.cfg.Backend)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeResourceParseInvalid, "failed to read index")
	}
	ok := false
	defer func() {
		if !ok {
			_ = idx.Close()
		}
	}()
	if l.dimension > 0 && idx.Dimension() != l.dimension {
		return nil, kerr.New(kerr.CodeResourceParseInvalid, "index dimension does not match encoder",
			kerr.Field("index_dimension", idx.Dimension()), kerr.Field("expected", l.dimension))
	}

	data, err := l.fetchBytes(ctx, l.cfg.MetadataURL(), l.cfg.MetadataTimeout)
	if err != nil {
		return nil, err
	}
	table, err := metadata.Parse(data)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeResourceParseInvalid, "failed to parse metadata")
	}
	if table.Len() != idx.Total() {
		// Positions without a record are dropped at query time.
		l.logger.Warn("index and metadata sizes differ",
			zap.Int("vectors", idx.Total()), zap.Int("metadata_entries", table.Len()))
	}

	ok = true
	return &Snapshot{
		ID:         uuid.New(),
		Index:      idx,
		Metadata:   table,
		IndexBytes: size,
	}, nil
}

// Watch starts reloading on local changes when resources.watch is set and
// the store is a file:// directory. It is a no-op otherwise.
func (l *Loader) Watch(ctx context.Context) error {
	if !l.cfg.Watch {
		return nil
	}
	dir, ok := localDir(l.cfg.BaseURL)
	if !ok {
		l.logger.Warn("resources.watch ignored: base URL is not file://", zap.String("base_url", l.cfg.BaseURL))
		return nil
	}
	w := watcher.NewWatcher(dir, []string{l.cfg.IndexFile, l.cfg.MetadataFile}, func() {
		if err := l.Reload(context.Background()); err == nil {
			l.logger.Info("reloaded index resources after local change")
		}
	}, watcher.WithLogger(l.logger))
	if err := w.Start(ctx); err != nil {
		return err
	}
	l.mu.Lock()
	l.watcher = w
	l.mu.Unlock()
	return nil
}

// Close stops the watcher and retires the current snapshot.
func (l *Loader) Close() error {
	l.mu.Lock()
	w := l.watcher
	l.watcher = nil
	l.mu.Unlock()
	if w != nil {
		w.Stop()
	}
	if old := l.current.Swap(nil); old != nil {
		old.retire()
	}
	return nil
}

func localDir(base string) (string, bool) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return filepath.FromSlash(u.Path), true
}
