package revision_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/observe"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/memstore"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/revisiontest"
)

func newStore(t *testing.T, opts ...revision.Option) (*revision.Store, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	b := memstore.New()
	t.Cleanup(func() { _ = b.Close() })
	return revision.NewStore(b, append([]revision.Option{revision.WithMetrics(m)}, opts...)...), reader
}

func TestCreate_Invalid(t *testing.T) {
	t.Parallel()

	crumbs := revisiontest.Crumbs(2)
	crumbs[1].Index = 0

	tests := []struct {
		name   string
		rev    revision.AudioRevision
		crumbs []breadcrumb.Breadcrumb
	}{
		{"nil identity", revisiontest.Revision(uuid.Nil, 1, "x"), nil},
		{"version zero", revisiontest.Revision(uuid.New(), 0, "x"), nil},
		{"negative version", revisiontest.Revision(uuid.New(), -2, "x"), nil},
		{"repeated breadcrumb index", revisiontest.Revision(uuid.New(), 1, "x"), crumbs},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newStore(t)
			err := s.Create(context.Background(), tc.rev, tc.crumbs)
			if !errors.Is(err, revision.ErrInvalidRevision) {
				t.Fatalf("err = %v, want ErrInvalidRevision", err)
			}
		})
	}
}

func TestCreate_SortsBreadcrumbs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	crumbs := revisiontest.Crumbs(3)
	id := uuid.New()
	in := []breadcrumb.Breadcrumb{crumbs[2], crumbs[0], crumbs[1]}
	if err := s.Create(ctx, revisiontest.Revision(id, 1, "x"), in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if in[0].Index != 2 {
		t.Error("Create reordered the caller's slice")
	}

	rev, ok, err := s.Latest(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Latest: ok=%v err=%v", ok, err)
	}
	for i, c := range rev.Breadcrumbs {
		if c.Index != i {
			t.Errorf("breadcrumb %d has index %d", i, c.Index)
		}
	}
}

func TestCreate_Duplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	rev := revisiontest.Revision(uuid.New(), 1, "x")
	if err := s.Create(ctx, rev, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, rev, nil); !errors.Is(err, revision.ErrDuplicateVersion) {
		t.Fatalf("err = %v, want ErrDuplicateVersion", err)
	}
}

func TestCreate_TruncatesToStoredPrecision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	created := revisiontest.Base.Add(1234567 * time.Nanosecond)
	rev := revisiontest.Revision(uuid.New(), 1, "x")
	rev.Created = created
	rev.Duration = 1500*time.Microsecond + 7*time.Nanosecond
	crumbs := revisiontest.Crumbs(1)
	crumbs[0].Created = created

	if err := s.Create(ctx, rev, crumbs); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, _, err := s.Latest(ctx, rev.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	wantCreated := revisiontest.Base.Add(1234 * time.Microsecond)
	if !got.Created.Equal(wantCreated) {
		t.Errorf("Created = %v, want %v", got.Created, wantCreated)
	}
	if got.Duration != time.Millisecond {
		t.Errorf("Duration = %v, want 1ms", got.Duration)
	}
	if len(got.Breadcrumbs) != 1 || !got.Breadcrumbs[0].Created.Equal(wantCreated) {
		t.Errorf("breadcrumbs = %+v, want one created at %v", got.Breadcrumbs, wantCreated)
	}
	if !crumbs[0].Created.Equal(created) {
		t.Error("Create modified the caller's breadcrumbs")
	}

	marked, err := s.MarkUploaded(ctx, rev.ID, created)
	if err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if marked.Uploaded == nil || !marked.Uploaded.Equal(wantCreated) {
		t.Errorf("Uploaded = %v, want %v", marked.Uploaded, wantCreated)
	}
}

func TestLatest_Unknown(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	_, ok, err := s.Latest(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if ok {
		t.Error("Latest reported a row for an unknown identity")
	}
}

func TestAllLatest_Empty(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	got, err := s.AllLatest(context.Background(), revision.NotUploaded)
	if err != nil {
		t.Fatalf("AllLatest: %v", err)
	}
	if got != nil {
		t.Errorf("AllLatest = %+v, want nil", got)
	}
}

func TestAllLatest_OrderedByCreated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := newStore(t)

	var ids []uuid.UUID
	for i := 3; i > 0; i-- {
		rev := revisiontest.Revision(uuid.New(), 1, "x")
		rev.Created = revisiontest.Base.Add(time.Duration(i) * time.Minute)
		if err := s.Create(ctx, rev, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append([]uuid.UUID{rev.ID}, ids...)
	}

	got, err := s.AllLatest(ctx, nil)
	if err != nil {
		t.Fatalf("AllLatest: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}
	for i, r := range got {
		if r.ID != ids[i] {
			t.Errorf("row %d = %s, want %s", i, r.ID, ids[i])
		}
	}
}

func TestBreadcrumbsFor_Empty(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	got, err := s.BreadcrumbsFor(context.Background(), nil)
	if err != nil {
		t.Fatalf("BreadcrumbsFor: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("BreadcrumbsFor(nil) = %v, want empty map", got)
	}
}

func TestBreadcrumbsFor_EditedIdentityReadsLatestTrail(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name  string
		carry bool
		want  int
	}{
		{name: "not carried", carry: false, want: 0},
		{name: "carried", carry: true, want: 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s, _ := newStore(t, revision.WithCarryBreadcrumbs(tc.carry))
			id := uuid.New()
			if err := s.Create(ctx, revisiontest.Revision(id, 1, "x"), revisiontest.Crumbs(2)); err != nil {
				t.Fatalf("Create: %v", err)
			}
			if _, err := s.Update(ctx, id, "edited"); err != nil {
				t.Fatalf("Update: %v", err)
			}
			got, err := s.BreadcrumbsFor(ctx, []uuid.UUID{id})
			if err != nil {
				t.Fatalf("BreadcrumbsFor: %v", err)
			}
			if n := len(got[id]); n != tc.want {
				t.Errorf("breadcrumbs = %d, want %d", n, tc.want)
			}
		})
	}
}

func TestUpdate_CancelledContext(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)

	id := uuid.New()
	if err := s.Create(context.Background(), revisiontest.Revision(id, 1, "x"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Update(ctx, id, "late"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestStore_Ping(t *testing.T) {
	t.Parallel()
	b := memstore.New()
	s := revision.NewStore(b)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	b.PingErr = errors.New("down")
	if err := s.Ping(context.Background()); !errors.Is(err, b.PingErr) {
		t.Errorf("Ping err = %v, want %v", err, b.PingErr)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(context.Background()); !errors.Is(err, memstore.ErrClosed) {
		t.Errorf("Ping after Close err = %v, want ErrClosed", err)
	}
}

func TestStore_RecordsMetrics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, reader := newStore(t)

	id := uuid.New()
	if err := s.Create(ctx, revisiontest.Revision(id, 1, "x"), nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Update(ctx, id, "y"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, err := s.Update(ctx, uuid.New(), "z"); err == nil {
		t.Fatal("Update on unknown identity succeeded")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	counts := map[[2]string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "nidus.store.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("nidus.store.duration data = %T", m.Data)
			}
			for _, dp := range hist.DataPoints {
				op, _ := dp.Attributes.Value(attribute.Key("op"))
				status, _ := dp.Attributes.Value(attribute.Key("status"))
				counts[[2]string{op.AsString(), status.AsString()}] += dp.Count
			}
		}
	}

	want := map[[2]string]uint64{
		{"create", "ok"}:    1,
		{"update", "ok"}:    1,
		{"update", "error"}: 1,
	}
	for k, n := range want {
		if counts[k] != n {
			t.Errorf("%s/%s count = %d, want %d", k[0], k[1], counts[k], n)
		}
	}
}
