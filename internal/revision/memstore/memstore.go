// Package memstore provides an in-memory [revision.Backend] for tests and
// dry runs. Data does not survive the process.
package memstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

var _ revision.Backend = (*Backend)(nil)

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("memstore: closed")

// Backend keeps rows in maps guarded by a single RWMutex.
type Backend struct {
	mu     sync.RWMutex
	rows   map[revision.Key]revision.AudioRevision
	crumbs map[revision.Key][]breadcrumb.Breadcrumb
	closed bool

	// PingErr, when non-nil, is returned by Ping. Tests use it to simulate an
	// unreachable store.
	PingErr error
}

// New returns an empty Backend.
func New() *Backend {
	return &Backend{
		rows:   make(map[revision.Key]revision.AudioRevision),
		crumbs: make(map[revision.Key][]breadcrumb.Breadcrumb),
	}
}

// InsertRevision implements [revision.Backend].
func (b *Backend) InsertRevision(_ context.Context, rev revision.AudioRevision, crumbs []breadcrumb.Breadcrumb) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	key := rev.Key()
	if _, ok := b.rows[key]; ok {
		return fmt.Errorf("memstore: insert %s v%d: %w", rev.ID, rev.Version, revision.ErrDuplicateVersion)
	}
	rev.Breadcrumbs = nil
	rev.Transcription = clonePtr(rev.Transcription)
	rev.Uploaded = clonePtr(rev.Uploaded)
	b.rows[key] = rev
	if len(crumbs) > 0 {
		b.crumbs[key] = slices.Clone(crumbs)
	}
	return nil
}

// ScanRevisions implements [revision.Backend].
func (b *Backend) ScanRevisions(_ context.Context, f revision.Filter) ([]revision.AudioRevision, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	var want map[uuid.UUID]bool
	if len(f.IDs) > 0 {
		want = make(map[uuid.UUID]bool, len(f.IDs))
		for _, id := range f.IDs {
			want[id] = true
		}
	}
	var out []revision.AudioRevision
	for k, r := range b.rows {
		if want != nil && !want[k.ID] {
			continue
		}
		r.Transcription = clonePtr(r.Transcription)
		r.Uploaded = clonePtr(r.Uploaded)
		out = append(out, r)
	}
	return out, nil
}

// SetUploaded implements [revision.Backend].
func (b *Backend) SetUploaded(_ context.Context, key revision.Key, ts time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	r, ok := b.rows[key]
	if !ok {
		return fmt.Errorf("memstore: set uploaded %s v%d: %w", key.ID, key.Version, revision.ErrNotFound)
	}
	r.Uploaded = &ts
	b.rows[key] = r
	return nil
}

// ScanBreadcrumbs implements [revision.Backend].
func (b *Backend) ScanBreadcrumbs(_ context.Context, keys []revision.Key) (map[revision.Key][]breadcrumb.Breadcrumb, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	out := make(map[revision.Key][]breadcrumb.Breadcrumb, len(keys))
	for _, k := range keys {
		c, ok := b.crumbs[k]
		if !ok {
			continue
		}
		c = slices.Clone(c)
		slices.SortFunc(c, func(x, y breadcrumb.Breadcrumb) int { return cmp.Compare(x.Index, y.Index) })
		out[k] = c
	}
	return out, nil
}

// Ping implements [revision.Backend].
func (b *Backend) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return b.PingErr
}

// Close implements [revision.Backend]. Every later call fails.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
