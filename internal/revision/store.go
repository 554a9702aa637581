package revision

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
)

// Option is a functional option for configuring a [Store].
type Option func(*Store)

// WithCarryBreadcrumbs makes [Store.Update] copy the prior version's
// breadcrumbs to the new version. By default an edited version has none.
func WithCarryBreadcrumbs(carry bool) Option {
	return func(s *Store) { s.carryBreadcrumbs = carry }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Store implements the revision operations on top of a [Backend].
//
// Create, Update and the upload markers are atomic per identity: each holds
// that identity's lock around its read-modify-write, so two concurrent
// updates never produce the same version. Operations on different identities
// never wait for each other.
//
// All methods are safe for concurrent use.
type Store struct {
	backend          Backend
	locks            *identityLocks
	carryBreadcrumbs bool
	log              *slog.Logger
	metrics          *observe.Metrics
}

// NewStore returns a Store backed by b.
func NewStore(b Backend, opts ...Option) *Store {
	s := &Store{
		backend: b,
		locks:   newIdentityLocks(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// begin opens a span for op and returns a function that closes it and records
// the operation's latency and outcome. Call it as
//
//	ctx, end := s.begin(ctx, "create", id)
//	defer func() { end(err) }()
func (s *Store) begin(ctx context.Context, op string, id uuid.UUID) (context.Context, func(error)) {
	start := time.Now()
	attrs := []attribute.KeyValue{attribute.String("revision.op", op)}
	if id != uuid.Nil {
		attrs = append(attrs, attribute.String("revision.id", id.String()))
	}
	ctx, span := observe.StartSpan(ctx, "revision."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.RecordStoreOp(ctx, op, time.Since(start), err)
	}
}

// Create inserts rev and its breadcrumbs as a new immutable row. It fails
// with [ErrDuplicateVersion] when (rev.ID, rev.Version) already exists and
// with [ErrInvalidRevision] for a nil identity, a version below 1 or repeated
// breadcrumb indexes. rev.Breadcrumbs is ignored. Timestamps are truncated to
// [TimePrecision] and the duration to [DurationPrecision] before the insert, so
// every backend returns the same values.
func (s *Store) Create(ctx context.Context, rev AudioRevision, crumbs []breadcrumb.Breadcrumb) (err error) {
	ctx, end := s.begin(ctx, "create", rev.ID)
	defer func() { end(err) }()

	crumbs, err = validate(rev, crumbs)
	if err != nil {
		return err
	}
	rev, crumbs = normalize(rev, crumbs)

	unlock, err := s.locks.lock(ctx, rev.ID)
	if err != nil {
		return fmt.Errorf("revision store: create %s: lock: %w", rev.ID, err)
	}
	defer unlock()

	rev.Breadcrumbs = nil
	if err := s.backend.InsertRevision(ctx, rev, crumbs); err != nil {
		return fmt.Errorf("revision store: create %s v%d: %w", rev.ID, rev.Version, err)
	}
	observe.LoggerFrom(ctx, s.log).Debug("revision created",
		"id", rev.ID, "version", rev.Version, "breadcrumbs", len(crumbs))
	return nil
}

// Update writes the next version of id with transcription text. The new
// version copies Created and Duration from the latest one and sets
// UserEdited. It fails with [ErrNoPriorRevision] when id has no rows.
func (s *Store) Update(ctx context.Context, id uuid.UUID, text string) (_ AudioRevision, err error) {
	ctx, end := s.begin(ctx, "update", id)
	defer func() { end(err) }()

	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: update %s: lock: %w", id, err)
	}
	defer unlock()

	prior, ok, err := s.latest(ctx, id)
	if err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: update %s: %w", id, err)
	}
	if !ok {
		return AudioRevision{}, fmt.Errorf("revision store: update %s: %w", id, ErrNoPriorRevision)
	}

	next := AudioRevision{
		ID:            id,
		Version:       prior.Version + 1,
		Created:       prior.Created,
		Duration:      prior.Duration,
		Transcription: &text,
		UserEdited:    true,
	}

	var crumbs []breadcrumb.Breadcrumb
	if s.carryBreadcrumbs {
		m, err := s.backend.ScanBreadcrumbs(ctx, []Key{prior.Key()})
		if err != nil {
			return AudioRevision{}, fmt.Errorf("revision store: update %s: breadcrumbs: %w", id, err)
		}
		crumbs = m[prior.Key()]
	}

	if err := s.backend.InsertRevision(ctx, next, crumbs); err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: update %s v%d: %w", id, next.Version, err)
	}
	next.Breadcrumbs = crumbs

	observe.LoggerFrom(ctx, s.log).Debug("revision amended",
		"id", id, "version", next.Version, "carried_breadcrumbs", len(crumbs))
	return next, nil
}

// Latest returns the highest version of id with its breadcrumbs. The boolean
// is false when id has no rows.
func (s *Store) Latest(ctx context.Context, id uuid.UUID) (_ AudioRevision, _ bool, err error) {
	ctx, end := s.begin(ctx, "latest", id)
	defer func() { end(err) }()

	rev, ok, err := s.latest(ctx, id)
	if err != nil {
		return AudioRevision{}, false, fmt.Errorf("revision store: latest %s: %w", id, err)
	}
	if !ok {
		return AudioRevision{}, false, nil
	}
	crumbs, err := s.backend.ScanBreadcrumbs(ctx, []Key{rev.Key()})
	if err != nil {
		return AudioRevision{}, false, fmt.Errorf("revision store: latest %s: breadcrumbs: %w", id, err)
	}
	rev.Breadcrumbs = crumbs[rev.Key()]
	return rev, true, nil
}

func (s *Store) latest(ctx context.Context, id uuid.UUID) (AudioRevision, bool, error) {
	rows, err := s.backend.ScanRevisions(ctx, Filter{IDs: []uuid.UUID{id}})
	if err != nil {
		return AudioRevision{}, false, err
	}
	rev, ok := resolveLatest(rows)[id]
	return rev, ok, nil
}

// AllLatest returns the highest version of every identity for which pred
// holds, each with its breadcrumbs. A nil pred keeps every identity. The
// predicate sees the resolved latest row, so an identity whose latest
// version is uploaded is excluded by [NotUploaded] even when older versions
// are not. Results are ordered by Created, then by ID.
func (s *Store) AllLatest(ctx context.Context, pred Predicate) (_ []AudioRevision, err error) {
	ctx, end := s.begin(ctx, "all_latest", uuid.Nil)
	defer func() { end(err) }()

	rows, err := s.backend.ScanRevisions(ctx, Filter{})
	if err != nil {
		return nil, fmt.Errorf("revision store: all latest: %w", err)
	}

	var out []AudioRevision
	for _, rev := range resolveLatest(rows) {
		if pred == nil || pred(rev) {
			out = append(out, rev)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	slices.SortFunc(out, func(a, b AudioRevision) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	keys := make([]Key, len(out))
	for i, r := range out {
		keys[i] = r.Key()
	}
	crumbs, err := s.backend.ScanBreadcrumbs(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("revision store: all latest: breadcrumbs: %w", err)
	}
	for i := range out {
		out[i].Breadcrumbs = crumbs[out[i].Key()]
	}
	return out, nil
}

// MarkUploaded stamps the upload marker on the latest version of id, resolved
// under the identity lock, and returns that version. It fails with
// [ErrNoPriorRevision] when id has no rows.
func (s *Store) MarkUploaded(ctx context.Context, id uuid.UUID, ts time.Time) (_ AudioRevision, err error) {
	ctx, end := s.begin(ctx, "mark_uploaded", id)
	defer func() { end(err) }()

	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: mark uploaded %s: lock: %w", id, err)
	}
	defer unlock()

	ts = ts.Truncate(TimePrecision)
	rev, ok, err := s.latest(ctx, id)
	if err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: mark uploaded %s: %w", id, err)
	}
	if !ok {
		return AudioRevision{}, fmt.Errorf("revision store: mark uploaded %s: %w", id, ErrNoPriorRevision)
	}
	if err := s.backend.SetUploaded(ctx, rev.Key(), ts); err != nil {
		return AudioRevision{}, fmt.Errorf("revision store: mark uploaded %s v%d: %w", id, rev.Version, err)
	}
	rev.Uploaded = &ts
	return rev, nil
}

// MarkVersionUploaded stamps the upload marker on one specific version. The
// synchroniser uses it so a version edited while its predecessor was in
// flight is never marked by mistake. It fails with [ErrNotFound] when the
// row does not exist.
func (s *Store) MarkVersionUploaded(ctx context.Context, id uuid.UUID, version int, ts time.Time) (err error) {
	ctx, end := s.begin(ctx, "mark_version_uploaded", id)
	defer func() { end(err) }()

	unlock, err := s.locks.lock(ctx, id)
	if err != nil {
		return fmt.Errorf("revision store: mark uploaded %s v%d: lock: %w", id, version, err)
	}
	defer unlock()

	if err := s.backend.SetUploaded(ctx, Key{ID: id, Version: version}, ts.Truncate(TimePrecision)); err != nil {
		return fmt.Errorf("revision store: mark uploaded %s v%d: %w", id, version, err)
	}
	return nil
}

// BreadcrumbsFor returns the breadcrumbs of the latest version of each id,
// ordered by index, using one revision scan and one breadcrumb lookup.
// Identities without rows or without breadcrumbs are absent from the map.
// Only the latest version's trail is read: after an edit the new version has
// no breadcrumbs unless the store carries them ([WithCarryBreadcrumbs]), so an
// edited identity is absent even though its earlier versions keep their rows.
func (s *Store) BreadcrumbsFor(ctx context.Context, ids []uuid.UUID) (_ map[uuid.UUID][]breadcrumb.Breadcrumb, err error) {
	ctx, end := s.begin(ctx, "breadcrumbs_for", uuid.Nil)
	defer func() { end(err) }()

	out := make(map[uuid.UUID][]breadcrumb.Breadcrumb)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.backend.ScanRevisions(ctx, Filter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("revision store: breadcrumbs: %w", err)
	}
	latest := resolveLatest(rows)
	keys := make([]Key, 0, len(latest))
	for _, r := range latest {
		keys = append(keys, r.Key())
	}
	crumbs, err := s.backend.ScanBreadcrumbs(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("revision store: breadcrumbs: %w", err)
	}
	for k, c := range crumbs {
		out[k.ID] = c
	}
	return out, nil
}

// Ping checks the backend.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return fmt.Errorf("revision store: ping: %w", err)
	}
	return nil
}

// Close closes the backend.
func (s *Store) Close() error { return s.backend.Close() }

// validate checks rev and returns crumbs sorted by index.
func validate(rev AudioRevision, crumbs []breadcrumb.Breadcrumb) ([]breadcrumb.Breadcrumb, error) {
	if rev.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: nil identity", ErrInvalidRevision)
	}
	if rev.Version < 1 {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidRevision, rev.Version)
	}
	if len(crumbs) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(crumbs)
	slices.SortStableFunc(sorted, func(a, b breadcrumb.Breadcrumb) int { return cmp.Compare(a.Index, b.Index) })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Index == sorted[i-1].Index {
			return nil, fmt.Errorf("%w: breadcrumb index %d repeated", ErrInvalidRevision, sorted[i].Index)
		}
	}
	return sorted, nil
}

// normalize truncates rev and crumbs to the precision every backend keeps.
// crumbs must already be a private copy.
func normalize(rev AudioRevision, crumbs []breadcrumb.Breadcrumb) (AudioRevision, []breadcrumb.Breadcrumb) {
	rev.Created = rev.Created.Truncate(TimePrecision)
	rev.Duration = rev.Duration.Truncate(DurationPrecision)
	if rev.Uploaded != nil {
		ts := rev.Uploaded.Truncate(TimePrecision)
		rev.Uploaded = &ts
	}
	for i := range crumbs {
		crumbs[i].Created = crumbs[i].Created.Truncate(TimePrecision)
	}
	return rev, crumbs
}
