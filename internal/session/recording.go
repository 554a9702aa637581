// Package session orchestrates one recording: it routes speech segments to an
// utterance aggregator and location samples to a breadcrumb trail, then hands
// the finished transcript and trail to the revision store.
//
// A [Recording] is the single execution context for its aggregator and trail.
// Every method takes the same mutex, so collaborators that deliver segments
// and samples from different goroutines are serialised in arrival order and
// never interleave inside the merge rule.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/knowledge"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/transcript"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/pkg/types"
)

// ErrInvalidState is returned when an operation is not allowed in the
// recording's current state.
var ErrInvalidState = errors.New("session: invalid state")

// State is the lifecycle state of a [Recording].
type State int

const (
	// StateIdle: no recording in progress. Start is the only valid operation.
	StateIdle State = iota
	// StateRecording: segments and location samples are accepted.
	StateRecording
	// StateStopped: version 1 is stored. Amend may write further versions.
	StateStopped
	// StateEditing: an amendment is being written. Returns to StateStopped.
	StateEditing
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	case StateEditing:
		return "editing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Store is the subset of [revision.Store] a Recording writes to.
type Store interface {
	Create(ctx context.Context, rev revision.AudioRevision, crumbs []breadcrumb.Breadcrumb) error
	Update(ctx context.Context, id uuid.UUID, text string) (revision.AudioRevision, error)
}

var _ Store = (*revision.Store)(nil)

// Option is a functional option for configuring a [Recording].
type Option func(*Recording)

// WithClock overrides the wall clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recording) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides identity allocation. Default: [uuid.New].
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(r *Recording) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(r *Recording) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Recording) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithExtractor sets the knowledge extractor used by [Recording.Knowledge].
func WithExtractor(e *knowledge.Extractor) Option {
	return func(r *Recording) {
		if e != nil {
			r.extractor = e
		}
	}
}

// WithBroadcaster publishes the transcript to b after every ingested segment
// and after every amendment.
func WithBroadcaster(b *transcript.Broadcaster) Option {
	return func(r *Recording) { r.broadcaster = b }
}

// Recording is the state machine for one recording:
//
//	Idle ──Start──▶ Recording ──Stop──▶ Stopped ──Amend──▶ Editing ──▶ Stopped
//	  ▲                 │
//	  └─────Cancel──────┘
//
// A failed Stop leaves it in Recording with all data intact so the caller can
// retry. A failed Amend returns it to Stopped unchanged.
//
// All methods are safe for concurrent use.
type Recording struct {
	store       Store
	now         func() time.Time
	newID       func() uuid.UUID
	log         *slog.Logger
	metrics     *observe.Metrics
	extractor   *knowledge.Extractor
	broadcaster *transcript.Broadcaster

	mu      sync.Mutex
	state   State
	id      uuid.UUID
	started time.Time
	agg     *transcript.Aggregator
	trail   breadcrumb.Trail
	saved   revision.AudioRevision
}

// New returns an idle Recording that saves to store.
func New(store Store, opts ...Option) *Recording {
	r := &Recording{
		store:     store,
		now:       time.Now,
		newID:     uuid.New,
		log:       slog.Default(),
		extractor: knowledge.NewExtractor(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Start allocates a fresh identity and begins recording with an empty
// transcript and trail.
func (r *Recording) Start() (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return uuid.Nil, fmt.Errorf("session: start in state %s: %w", r.state, ErrInvalidState)
	}

	r.id = r.newID()
	r.started = r.now()
	r.agg = transcript.NewAggregator(
		transcript.WithClock(r.now),
		transcript.WithPauseObserver(func(d time.Duration) {
			r.metrics.RecordPause(context.Background(), d)
		}),
	)
	r.trail.Reset()
	r.saved = revision.AudioRevision{}
	r.state = StateRecording

	r.metrics.ActiveRecordings.Add(context.Background(), 1)
	r.log.Info("recording started", "id", r.id)
	return r.id, nil
}

// IngestSegment routes seg to the utterance aggregator.
func (r *Recording) IngestSegment(seg types.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("session: segment in state %s: %w", r.state, ErrInvalidState)
	}

	r.agg.Ingest(seg)
	r.metrics.SegmentsIngested.Add(context.Background(), 1)
	if r.broadcaster != nil {
		r.broadcaster.Publish(r.agg.Transcript())
	}
	return nil
}

// AddLocation appends sample to the breadcrumb trail.
func (r *Recording) AddLocation(sample types.LocationSample) (breadcrumb.Breadcrumb, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return breadcrumb.Breadcrumb{}, fmt.Errorf("session: location in state %s: %w", r.state, ErrInvalidState)
	}
	return r.trail.Append(sample), nil
}

// Stop finalises the transcript and stores it as version 1 together with the
// trail. On failure the recording stays in Recording.
func (r *Recording) Stop(ctx context.Context) (revision.AudioRevision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return revision.AudioRevision{}, fmt.Errorf("session: stop in state %s: %w", r.state, ErrInvalidState)
	}

	rev := revision.AudioRevision{
		ID:       r.id,
		Version:  1,
		Created:  r.started,
		Duration: r.now().Sub(r.started).Truncate(time.Millisecond),
	}
	if r.agg.Len() > 0 {
		text := r.agg.Transcript()
		rev.Transcription = &text
	}
	crumbs := r.trail.Breadcrumbs()

	log := observe.LoggerFrom(ctx, r.log)
	if err := r.store.Create(ctx, rev, crumbs); err != nil {
		log.Error("recording could not be saved", "id", r.id, "err", err)
		return revision.AudioRevision{}, fmt.Errorf("session: stop %s: %w", r.id, err)
	}

	rev.Breadcrumbs = crumbs
	r.saved = rev
	r.state = StateStopped
	r.metrics.ActiveRecordings.Add(ctx, -1)
	r.metrics.RevisionsCreated.Add(ctx, 1)
	log.Info("recording saved",
		"id", r.id,
		"duration", rev.Duration,
		"utterances", r.agg.Len(),
		"breadcrumbs", len(crumbs),
	)
	return rev, nil
}

// Cancel discards an in-progress recording and returns to Idle. Nothing is
// written to the store.
func (r *Recording) Cancel() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("session: cancel in state %s: %w", r.state, ErrInvalidState)
	}

	r.log.Info("recording cancelled", "id", r.id, "utterances", r.agg.Len(), "breadcrumbs", r.trail.Len())
	r.id = uuid.Nil
	r.agg = nil
	r.trail.Reset()
	r.state = StateIdle
	r.metrics.ActiveRecordings.Add(context.Background(), -1)
	return nil
}

// Amend writes text as the next version of the stopped recording. The store
// call runs outside the mutex; meanwhile the state reads Editing and every
// other transition is rejected.
func (r *Recording) Amend(ctx context.Context, text string) (revision.AudioRevision, error) {
	r.mu.Lock()
	if r.state != StateStopped {
		state := r.state
		r.mu.Unlock()
		return revision.AudioRevision{}, fmt.Errorf("session: amend in state %s: %w", state, ErrInvalidState)
	}
	r.state = StateEditing
	id := r.id
	r.mu.Unlock()

	rev, err := r.store.Update(ctx, id, text)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateStopped
	if err != nil {
		observe.LoggerFrom(ctx, r.log).Error("edit could not be applied", "id", id, "err", err)
		return revision.AudioRevision{}, fmt.Errorf("session: amend %s: %w", id, err)
	}
	r.saved = rev
	r.metrics.RevisionsAmended.Add(ctx, 1)
	if r.broadcaster != nil {
		r.broadcaster.Publish(rev.Text())
	}
	observe.LoggerFrom(ctx, r.log).Info("recording amended", "id", id, "version", rev.Version)
	return rev, nil
}

// Transcript returns the live transcript while recording, the stored
// transcription of the newest saved version afterwards, and "" when idle.
func (r *Recording) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcriptLocked()
}

func (r *Recording) transcriptLocked() string {
	switch r.state {
	case StateRecording:
		return r.agg.Transcript()
	case StateStopped, StateEditing:
		return r.saved.Text()
	default:
		return ""
	}
}

// Knowledge extracts a knowledge graph from the current transcript and tags.
// It is recomputed on every call and never stored.
func (r *Recording) Knowledge(tags []types.Tag) knowledge.Graph {
	return r.extractor.Extract(r.Transcript(), tags)
}

// Breadcrumbs returns a copy of the trail while recording, or the trail of
// the newest saved version afterwards.
func (r *Recording) Breadcrumbs() []breadcrumb.Breadcrumb {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateRecording {
		return r.trail.Breadcrumbs()
	}
	if len(r.saved.Breadcrumbs) == 0 {
		return nil
	}
	return append([]breadcrumb.Breadcrumb(nil), r.saved.Breadcrumbs...)
}

// Saved returns the newest version written by Stop or Amend. The boolean is
// false until Stop succeeds.
func (r *Recording) Saved() (revision.AudioRevision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved, r.saved.Version > 0
}

// State returns the current state.
func (r *Recording) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// ID returns the identity of the current recording, or [uuid.Nil] when idle.
func (r *Recording) ID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}
