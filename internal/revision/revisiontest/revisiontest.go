// Package revisiontest provides a conformance suite that every
// [revision.Backend] implementation runs from its own tests:
//
//	func TestConformance(t *testing.T) {
//		revisiontest.Run(t, func(t *testing.T) revision.Backend {
//			return memstore.New()
//		})
//	}
//
// The factory must return an empty backend on every call; the suite closes it
// through t.Cleanup. Timestamps are whole seconds and durations whole
// milliseconds, the coarsest precision any backend keeps.
package revisiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) revision.Backend

// Base is the creation time used by every fixture.
var Base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// Run executes the whole suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(*testing.T, Factory)
	}{
		{"InsertAndScan", testInsertAndScan},
		{"NilTranscription", testNilTranscription},
		{"DuplicateVersion", testDuplicateVersion},
		{"ScanFilter", testScanFilter},
		{"SetUploaded", testSetUploaded},
		{"BreadcrumbsOrderedPerVersion", testBreadcrumbsOrdered},
		{"UpdateProducesNextVersion", testUpdate},
		{"UpdateWithoutPrior", testUpdateWithoutPrior},
		{"UpdateCarriesBreadcrumbs", testUpdateCarry},
		{"AllLatestNotUploaded", testAllLatestNotUploaded},
		{"ConcurrentUpdates", testConcurrentUpdates},
		{"MarkUploadedLatest", testMarkUploaded},
		{"BreadcrumbsFor", testBreadcrumbsFor},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) { tc.fn(t, newBackend) })
	}
}

func open(t *testing.T, f Factory) revision.Backend {
	t.Helper()
	b := f(t)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// NewStore wraps b in a Store with private metrics.
func NewStore(t *testing.T, b revision.Backend, opts ...revision.Option) *revision.Store {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return revision.NewStore(b, append([]revision.Option{revision.WithMetrics(m)}, opts...)...)
}

// Revision returns a fixture revision.
func Revision(id uuid.UUID, version int, text string) revision.AudioRevision {
	return revision.AudioRevision{
		ID:            id,
		Version:       version,
		Created:       Base,
		Duration:      90 * time.Second,
		Transcription: &text,
	}
}

// Crumbs returns n fixture breadcrumbs with indexes 0..n-1.
func Crumbs(n int) []breadcrumb.Breadcrumb {
	cell, _ := breadcrumb.CellFromLatLng(37.7759, -122.4180, 9)
	out := make([]breadcrumb.Breadcrumb, n)
	for i := range out {
		out[i] = breadcrumb.Breadcrumb{
			Cell:    cell,
			Created: Base.Add(time.Duration(i) * time.Second),
			Index:   i,
		}
	}
	return out
}

func testInsertAndScan(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	id := uuid.New()
	want := Revision(id, 1, "green pool, culex larvae")
	if err := b.InsertRevision(ctx, want, Crumbs(2)); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}

	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	assertRevision(t, rows[0], want)
}

func testNilTranscription(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	rev := Revision(uuid.New(), 1, "")
	rev.Transcription = nil
	if err := b.InsertRevision(ctx, rev, nil); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}
	rows, err := b.ScanRevisions(ctx, revision.Filter{IDs: []uuid.UUID{rev.ID}})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Transcription != nil {
		t.Errorf("transcription = %q, want nil", *rows[0].Transcription)
	}
}

func testDuplicateVersion(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	rev := Revision(uuid.New(), 1, "first")
	if err := b.InsertRevision(ctx, rev, Crumbs(1)); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}
	err := b.InsertRevision(ctx, Revision(rev.ID, 1, "second"), nil)
	if !errors.Is(err, revision.ErrDuplicateVersion) {
		t.Fatalf("second insert err = %v, want ErrDuplicateVersion", err)
	}

	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Text() != "first" {
		t.Fatalf("duplicate insert changed the store: %+v", rows)
	}
}

func testScanFilter(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	a, c := uuid.New(), uuid.New()
	for _, r := range []revision.AudioRevision{
		Revision(a, 1, "a1"), Revision(a, 2, "a2"), Revision(c, 1, "c1"),
	} {
		if err := b.InsertRevision(ctx, r, nil); err != nil {
			t.Fatalf("InsertRevision: %v", err)
		}
	}

	rows, err := b.ScanRevisions(ctx, revision.Filter{IDs: []uuid.UUID{a}})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("filtered scan returned %d rows, want 2", len(rows))
	}
	for _, r := range rows {
		if r.ID != a {
			t.Errorf("filtered scan returned identity %s", r.ID)
		}
	}

	rows, err = b.ScanRevisions(ctx, revision.Filter{IDs: []uuid.UUID{uuid.New()}})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("scan for unknown identity returned %d rows", len(rows))
	}
}

func testSetUploaded(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	rev := Revision(uuid.New(), 1, "x")
	if err := b.InsertRevision(ctx, rev, nil); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}
	ts := Base.Add(time.Hour)
	if err := b.SetUploaded(ctx, rev.Key(), ts); err != nil {
		t.Fatalf("SetUploaded: %v", err)
	}
	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Uploaded == nil || !rows[0].Uploaded.Equal(ts) {
		t.Fatalf("uploaded = %+v, want %v", rows, ts)
	}
	if rows[0].Version != 1 {
		t.Errorf("SetUploaded changed the version to %d", rows[0].Version)
	}

	err = b.SetUploaded(ctx, revision.Key{ID: rev.ID, Version: 9}, ts)
	if !errors.Is(err, revision.ErrNotFound) {
		t.Errorf("SetUploaded on missing row err = %v, want ErrNotFound", err)
	}
}

func testBreadcrumbsOrdered(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)

	id := uuid.New()
	crumbs := Crumbs(4)
	shuffled := []breadcrumb.Breadcrumb{crumbs[2], crumbs[0], crumbs[3], crumbs[1]}
	if err := b.InsertRevision(ctx, Revision(id, 1, "v1"), shuffled); err != nil {
		t.Fatalf("InsertRevision v1: %v", err)
	}
	if err := b.InsertRevision(ctx, Revision(id, 2, "v2"), nil); err != nil {
		t.Fatalf("InsertRevision v2: %v", err)
	}

	v1 := revision.Key{ID: id, Version: 1}
	v2 := revision.Key{ID: id, Version: 2}
	got, err := b.ScanBreadcrumbs(ctx, []revision.Key{v1, v2})
	if err != nil {
		t.Fatalf("ScanBreadcrumbs: %v", err)
	}
	if len(got[v1]) != 4 {
		t.Fatalf("v1 has %d breadcrumbs, want 4", len(got[v1]))
	}
	for i, c := range got[v1] {
		if c.Index != i {
			t.Errorf("breadcrumb %d has index %d", i, c.Index)
		}
		if c.Cell != crumbs[i].Cell || !c.Created.Equal(crumbs[i].Created) {
			t.Errorf("breadcrumb %d = %+v, want %+v", i, c, crumbs[i])
		}
	}
	if len(got[v2]) != 0 {
		t.Errorf("v2 has %d breadcrumbs, want 0", len(got[v2]))
	}
}

func testUpdate(t *testing.T, f Factory) {
	ctx := context.Background()
	s := NewStore(t, open(t, f))

	id := uuid.New()
	if err := s.Create(ctx, Revision(id, 1, "first"), Crumbs(3)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, id, "second"); err != nil {
		t.Fatalf("Update to v2: %v", err)
	}

	got, err := s.Update(ctx, id, "x")
	if err != nil {
		t.Fatalf("Update to v3: %v", err)
	}
	if got.Version != 3 {
		t.Errorf("version = %d, want 3", got.Version)
	}
	if !got.UserEdited {
		t.Error("UserEdited = false, want true")
	}
	if got.Text() != "x" {
		t.Errorf("transcription = %q, want %q", got.Text(), "x")
	}
	if !got.Created.Equal(Base) || got.Duration != 90*time.Second {
		t.Errorf("created/duration not copied: %v %v", got.Created, got.Duration)
	}
	if len(got.Breadcrumbs) != 0 {
		t.Errorf("returned %d breadcrumbs, want 0", len(got.Breadcrumbs))
	}

	latest, ok, err := s.Latest(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	if latest.Version != 3 || !latest.UserEdited || latest.Text() != "x" {
		t.Errorf("Latest = %+v, want version 3 edited \"x\"", latest)
	}
	if len(latest.Breadcrumbs) != 0 {
		t.Errorf("stored version 3 has %d breadcrumbs, want 0", len(latest.Breadcrumbs))
	}
}

func testUpdateWithoutPrior(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)
	s := NewStore(t, b)

	_, err := s.Update(ctx, uuid.New(), "orphan")
	if !errors.Is(err, revision.ErrNoPriorRevision) {
		t.Fatalf("err = %v, want ErrNoPriorRevision", err)
	}
	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("failed update wrote %d rows", len(rows))
	}
}

func testUpdateCarry(t *testing.T, f Factory) {
	ctx := context.Background()
	s := NewStore(t, open(t, f), revision.WithCarryBreadcrumbs(true))

	id := uuid.New()
	if err := s.Create(ctx, Revision(id, 1, "first"), Crumbs(3)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.Update(ctx, id, "edited")
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(got.Breadcrumbs) != 3 {
		t.Fatalf("carried %d breadcrumbs, want 3", len(got.Breadcrumbs))
	}
	latest, _, err := s.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest.Breadcrumbs) != 3 {
		t.Errorf("stored version 2 has %d breadcrumbs, want 3", len(latest.Breadcrumbs))
	}
}

func testAllLatestNotUploaded(t *testing.T, f Factory) {
	ctx := context.Background()
	b := open(t, f)
	s := NewStore(t, b)

	a, bID := uuid.New(), uuid.New()
	for v := 1; v <= 3; v++ {
		if err := s.Create(ctx, Revision(a, v, fmt.Sprintf("a%d", v)), nil); err != nil {
			t.Fatalf("Create a v%d: %v", v, err)
		}
	}
	// Older versions of A are uploaded; only the latest matters.
	for v := 1; v <= 2; v++ {
		if err := s.MarkVersionUploaded(ctx, a, v, Base); err != nil {
			t.Fatalf("MarkVersionUploaded a v%d: %v", v, err)
		}
	}
	if err := s.Create(ctx, Revision(bID, 1, "b1"), Crumbs(2)); err != nil {
		t.Fatalf("Create b: %v", err)
	}
	if _, err := s.MarkUploaded(ctx, bID, Base); err != nil {
		t.Fatalf("MarkUploaded b: %v", err)
	}

	got, err := s.AllLatest(ctx, revision.NotUploaded)
	if err != nil {
		t.Fatalf("AllLatest: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("AllLatest returned %d rows, want 1: %+v", len(got), got)
	}
	if got[0].ID != a || got[0].Version != 3 {
		t.Errorf("AllLatest = %s v%d, want %s v3", got[0].ID, got[0].Version, a)
	}

	all, err := s.AllLatest(ctx, nil)
	if err != nil {
		t.Fatalf("AllLatest(nil): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("AllLatest(nil) returned %d rows, want 2", len(all))
	}
	for _, r := range all {
		if r.ID == bID && len(r.Breadcrumbs) != 2 {
			t.Errorf("b has %d breadcrumbs attached, want 2", len(r.Breadcrumbs))
		}
	}
}

func testConcurrentUpdates(t *testing.T, f Factory) {
	ctx := context.Background()
	s := NewStore(t, open(t, f))

	id := uuid.New()
	if err := s.Create(ctx, Revision(id, 1, "v1"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions = make(map[int]bool)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rev, err := s.Update(ctx, id, fmt.Sprintf("edit %d", i))
			if err != nil {
				t.Errorf("Update %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if versions[rev.Version] {
				t.Errorf("version %d produced twice", rev.Version)
			}
			versions[rev.Version] = true
		}()
	}
	wg.Wait()

	for v := 2; v <= n+1; v++ {
		if !versions[v] {
			t.Errorf("version %d missing", v)
		}
	}
	latest, _, err := s.Latest(ctx, id)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.Version != n+1 {
		t.Errorf("latest version = %d, want %d", latest.Version, n+1)
	}
}

func testMarkUploaded(t *testing.T, f Factory) {
	ctx := context.Background()
	s := NewStore(t, open(t, f))

	id := uuid.New()
	if err := s.Create(ctx, Revision(id, 1, "v1"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, id, "v2"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	ts := Base.Add(2 * time.Hour)
	rev, err := s.MarkUploaded(ctx, id, ts)
	if err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if rev.Version != 2 || rev.Uploaded == nil || !rev.Uploaded.Equal(ts) {
		t.Errorf("MarkUploaded = %+v, want version 2 uploaded at %v", rev, ts)
	}

	if _, err := s.MarkUploaded(ctx, uuid.New(), ts); !errors.Is(err, revision.ErrNoPriorRevision) {
		t.Errorf("MarkUploaded unknown identity err = %v, want ErrNoPriorRevision", err)
	}
	if err := s.MarkVersionUploaded(ctx, id, 7, ts); !errors.Is(err, revision.ErrNotFound) {
		t.Errorf("MarkVersionUploaded missing version err = %v, want ErrNotFound", err)
	}
}

func testBreadcrumbsFor(t *testing.T, f Factory) {
	ctx := context.Background()
	s := NewStore(t, open(t, f))

	a, c, none := uuid.New(), uuid.New(), uuid.New()
	if err := s.Create(ctx, Revision(a, 1, "a"), Crumbs(3)); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := s.Create(ctx, Revision(c, 1, "c"), Crumbs(1)); err != nil {
		t.Fatalf("Create c: %v", err)
	}

	got, err := s.BreadcrumbsFor(ctx, []uuid.UUID{a, c, none})
	if err != nil {
		t.Fatalf("BreadcrumbsFor: %v", err)
	}
	if len(got[a]) != 3 || len(got[c]) != 1 {
		t.Errorf("breadcrumb counts a=%d c=%d, want 3 and 1", len(got[a]), len(got[c]))
	}
	if _, ok := got[none]; ok {
		t.Error("identity without rows present in result")
	}
	want := Crumbs(3)
	for i, b := range got[a] {
		if b.Index != i || b.Cell != want[i].Cell {
			t.Errorf("a[%d] = %+v, want %+v", i, b, want[i])
		}
	}
}

func assertRevision(t *testing.T, got, want revision.AudioRevision) {
	t.Helper()
	if got.ID != want.ID || got.Version != want.Version {
		t.Errorf("key = %s v%d, want %s v%d", got.ID, got.Version, want.ID, want.Version)
	}
	if !got.Created.Equal(want.Created) {
		t.Errorf("created = %v, want %v", got.Created, want.Created)
	}
	if got.Duration != want.Duration {
		t.Errorf("duration = %v, want %v", got.Duration, want.Duration)
	}
	if got.Text() != want.Text() {
		t.Errorf("transcription = %q, want %q", got.Text(), want.Text())
	}
	if got.UserEdited != want.UserEdited {
		t.Errorf("user edited = %v, want %v", got.UserEdited, want.UserEdited)
	}
	if (got.Uploaded == nil) != (want.Uploaded == nil) {
		t.Errorf("uploaded = %v, want %v", got.Uploaded, want.Uploaded)
	}
	if len(got.Breadcrumbs) != 0 {
		t.Errorf("scan attached %d breadcrumbs", len(got.Breadcrumbs))
	}
}
