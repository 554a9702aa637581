// Package upload delivers pending revisions to the sync server.
//
// A [Syncer] discovers the latest version of every recording whose upload
// marker is unset, hands each to an [Uploader] and stamps the marker on
// exactly the (identity, version) pair that was delivered. A transcript
// edited while its predecessor was in flight therefore stays pending and is
// picked up by the next pass.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/resilience"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

// Default tuning.
const (
	defaultConcurrency = 4
	defaultInterval    = time.Minute
)

// Uploader delivers one revision to the remote endpoint. Implementations
// must be safe for concurrent use.
type Uploader interface {
	Upload(ctx context.Context, rev revision.AudioRevision) error
}

// UploaderFunc adapts a function to [Uploader].
type UploaderFunc func(ctx context.Context, rev revision.AudioRevision) error

// Upload implements [Uploader].
func (f UploaderFunc) Upload(ctx context.Context, rev revision.AudioRevision) error {
	return f(ctx, rev)
}

// Source is the subset of [revision.Store] the Syncer reads and marks.
type Source interface {
	AllLatest(ctx context.Context, pred revision.Predicate) ([]revision.AudioRevision, error)
	MarkVersionUploaded(ctx context.Context, id uuid.UUID, version int, ts time.Time) error
}

var _ Source = (*revision.Store)(nil)

// Result summarises one synchronisation pass.
type Result struct {
	// Pending is the number of revisions found without an upload marker.
	Pending int
	// Uploaded were delivered and marked.
	Uploaded int
	// Failed were attempted and returned an error, or could not be marked.
	Failed int
	// Skipped were not attempted because the circuit breaker was open.
	Skipped int
}

// Option is a functional option for configuring a [Syncer].
type Option func(*Syncer)

// WithConcurrency bounds the number of uploads in flight. Default: 4.
// It only helps an [Uploader] that accepts parallel calls. The websocket
// uploader in package wsclient sends one revision at a time over its single
// connection, so with it any value above 1 just queues uploads behind its lock.
func WithConcurrency(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithInterval sets the period between passes of [Syncer.Run]. Default: 1m.
func WithInterval(d time.Duration) Option {
	return func(s *Syncer) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithBreaker sets the circuit breaker guarding the uploader. Default: a
// breaker with [resilience.CircuitBreakerConfig] defaults.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(s *Syncer) {
		if cb != nil {
			s.breaker = cb
		}
	}
}

// WithClock overrides the clock used for upload markers. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Syncer uploads pending revisions. All methods are safe for concurrent use,
// but passes do not overlap: a SyncOnce call waits for one in progress.
type Syncer struct {
	source      Source
	uploader    Uploader
	concurrency int
	interval    time.Duration
	breaker     *resilience.CircuitBreaker
	now         func() time.Time
	log         *slog.Logger
	metrics     *observe.Metrics

	pass sync.Mutex
}

// NewSyncer returns a Syncer that reads from source and delivers through up.
func NewSyncer(source Source, up Uploader, opts ...Option) *Syncer {
	s := &Syncer{
		source:      source,
		uploader:    up,
		concurrency: defaultConcurrency,
		interval:    defaultInterval,
		now:         time.Now,
		log:         slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.breaker == nil {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "upload",
			Logger: s.log,
		})
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// SyncOnce runs a single pass. Per-revision failures are counted in the
// result and logged; they do not abort the pass. The returned error is
// non-nil only when the pending list could not be read or ctx ended.
func (s *Syncer) SyncOnce(ctx context.Context) (Result, error) {
	s.pass.Lock()
	defer s.pass.Unlock()

	ctx, span := observe.StartSpan(ctx, "upload.sync")
	defer span.End()
	log := observe.LoggerFrom(ctx, s.log)

	pending, err := s.source.AllLatest(ctx, revision.NotUploaded)
	if err != nil {
		return Result{}, fmt.Errorf("upload: list pending: %w", err)
	}
	res := Result{Pending: len(pending)}
	if len(pending) == 0 {
		return res, nil
	}

	if !s.breaker.Allow() {
		res.Skipped = len(pending)
		for range pending {
			s.metrics.RecordUpload(ctx, "skipped", 0)
		}
		log.Warn("upload endpoint unavailable, pass skipped", "pending", len(pending))
		return res, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)
	for _, rev := range pending {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := s.uploadOne(ctx, log, rev)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case "ok":
				res.Uploaded++
			case "skipped":
				res.Skipped++
			default:
				res.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("upload pass finished",
		"pending", res.Pending,
		"uploaded", res.Uploaded,
		"failed", res.Failed,
		"skipped", res.Skipped,
	)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// uploadOne delivers rev and marks it. It returns the upload status
// attribute: "ok", "error" or "skipped".
func (s *Syncer) uploadOne(ctx context.Context, log *slog.Logger, rev revision.AudioRevision) string {
	start := time.Now()
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.uploader.Upload(ctx, rev)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		s.metrics.RecordUpload(ctx, "skipped", 0)
		return "skipped"
	}
	if err != nil {
		s.metrics.RecordUpload(ctx, "error", time.Since(start))
		log.Warn("upload failed", "id", rev.ID, "version", rev.Version, "err", err)
		return "error"
	}

	if err := s.source.MarkVersionUploaded(ctx, rev.ID, rev.Version, s.now()); err != nil {
		s.metrics.RecordUpload(ctx, "error", time.Since(start))
		log.Error("uploaded revision could not be marked", "id", rev.ID, "version", rev.Version, "err", err)
		return "error"
	}
	s.metrics.RecordUpload(ctx, "ok", time.Since(start))
	log.Debug("revision uploaded", "id", rev.ID, "version", rev.Version)
	return "ok"
}

// Run calls SyncOnce immediately and then on every interval until ctx is
// done. Pass errors are logged; Run itself returns only ctx's error.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("upload pass failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
