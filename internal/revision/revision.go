// Package revision stores recordings as immutable, versioned audio revisions.
//
// Every recording has a stable identity (a UUID). Saving a recording writes
// version 1; editing its transcript writes version max+1 under the same
// identity. Rows are never modified afterwards, with one exception: the
// upload marker, which the synchroniser stamps once a revision has been
// delivered.
//
// [Store] implements the operations on top of a [Backend], the durable
// key-sorted store. Backends live in the memstore, sqlite and postgres
// subpackages; revisiontest holds the conformance suite they share.
package revision

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
)

var (
	// ErrNoPriorRevision is returned when an operation needs an existing
	// revision for an identity that has none.
	ErrNoPriorRevision = errors.New("revision: no prior revision")

	// ErrDuplicateVersion is returned when (identity, version) already exists.
	ErrDuplicateVersion = errors.New("revision: duplicate version")

	// ErrNotFound is returned when a specific (identity, version) row does
	// not exist.
	ErrNotFound = errors.New("revision: not found")

	// ErrInvalidRevision is returned for a revision that can never be stored:
	// a nil identity, a version below 1 or repeated breadcrumb indexes.
	ErrInvalidRevision = errors.New("revision: invalid revision")
)

// Stored precision. PostgreSQL keeps TIMESTAMPTZ to the microsecond and every
// backend stores the duration as whole milliseconds.
const (
	TimePrecision     = time.Microsecond
	DurationPrecision = time.Millisecond
)

// AudioRevision is one immutable version of a recording.
type AudioRevision struct {
	ID       uuid.UUID     `json:"id"`
	Version  int           `json:"version"`
	Created  time.Time     `json:"created"`
	Duration time.Duration `json:"duration"`

	// Transcription is nil when no transcript was captured.
	Transcription *string `json:"transcription,omitempty"`

	// UserEdited is set on every version produced by [Store.Update].
	UserEdited bool `json:"transcription_user_edited"`

	// Uploaded is the time the synchroniser delivered this version.
	Uploaded *time.Time `json:"uploaded,omitempty"`

	// Breadcrumbs is populated on reads only. Writes take breadcrumbs as a
	// separate argument.
	Breadcrumbs []breadcrumb.Breadcrumb `json:"breadcrumbs,omitempty"`
}

// Key returns the primary key of r.
func (r AudioRevision) Key() Key { return Key{ID: r.ID, Version: r.Version} }

// Text returns the transcription, or "" when there is none.
func (r AudioRevision) Text() string {
	if r.Transcription == nil {
		return ""
	}
	return *r.Transcription
}

// IsUploaded reports whether the upload marker is set.
func (r AudioRevision) IsUploaded() bool { return r.Uploaded != nil }

// Key identifies one row.
type Key struct {
	ID      uuid.UUID
	Version int
}

// Predicate filters resolved latest revisions in [Store.AllLatest].
type Predicate func(AudioRevision) bool

// NotUploaded selects revisions whose upload marker is unset.
func NotUploaded(r AudioRevision) bool { return !r.IsUploaded() }

// Filter narrows [Backend.ScanRevisions]. The zero Filter matches every row.
type Filter struct {
	// IDs restricts the scan to these identities when non-empty.
	IDs []uuid.UUID
}

// Backend is the durable store behind a [Store]. Implementations must be safe
// for concurrent use. The Store serialises writes per identity, so a backend
// only needs row-level atomicity.
type Backend interface {
	// InsertRevision writes rev and its breadcrumbs atomically. It returns an
	// error wrapping ErrDuplicateVersion when rev.Key() already exists.
	InsertRevision(ctx context.Context, rev AudioRevision, crumbs []breadcrumb.Breadcrumb) error

	// ScanRevisions returns every row matching f, without breadcrumbs, in no
	// particular order.
	ScanRevisions(ctx context.Context, f Filter) ([]AudioRevision, error)

	// SetUploaded stamps the upload marker of one row. It returns an error
	// wrapping ErrNotFound when the row does not exist.
	SetUploaded(ctx context.Context, key Key, ts time.Time) error

	// ScanBreadcrumbs returns the breadcrumbs of each key ordered by index.
	// Keys without breadcrumbs are absent from the result.
	ScanBreadcrumbs(ctx context.Context, keys []Key) (map[Key][]breadcrumb.Breadcrumb, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// resolveLatest keeps the highest version per identity in a single pass.
func resolveLatest(rows []AudioRevision) map[uuid.UUID]AudioRevision {
	latest := make(map[uuid.UUID]AudioRevision, len(rows))
	for _, r := range rows {
		if cur, ok := latest[r.ID]; !ok || r.Version > cur.Version {
			latest[r.ID] = r
		}
	}
	return latest
}
