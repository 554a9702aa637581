package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/revisiontest"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision/sqlite"
)

func openTemp(t *testing.T) *sqlite.Backend {
	t.Helper()
	b, err := sqlite.Open(filepath.Join(t.TempDir(), "nidus.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	t.Parallel()
	revisiontest.Run(t, func(t *testing.T) revision.Backend {
		return openTemp(t)
	})
}

func TestReopenKeepsRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nidus.db")

	b, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rev := revisiontest.Revision(uuid.New(), 1, "standing water in the ditch")
	if err := b.InsertRevision(ctx, rev, revisiontest.Crumbs(2)); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err = sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 1 || rows[0].Text() != rev.Text() {
		t.Fatalf("rows after reopen = %+v", rows)
	}
	crumbs, err := b.ScanBreadcrumbs(ctx, []revision.Key{rev.Key()})
	if err != nil {
		t.Fatalf("ScanBreadcrumbs: %v", err)
	}
	if len(crumbs[rev.Key()]) != 2 {
		t.Errorf("breadcrumbs after reopen = %d, want 2", len(crumbs[rev.Key()]))
	}
}

func TestDuplicateBreadcrumbRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openTemp(t)
	t.Cleanup(func() { _ = b.Close() })

	crumbs := revisiontest.Crumbs(2)
	crumbs[1].Index = 0
	rev := revisiontest.Revision(uuid.New(), 1, "x")
	if err := b.InsertRevision(ctx, rev, crumbs); err == nil {
		t.Fatal("insert with repeated breadcrumb index succeeded")
	}

	rows, err := b.ScanRevisions(ctx, revision.Filter{})
	if err != nil {
		t.Fatalf("ScanRevisions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("failed insert left %d rows behind", len(rows))
	}
	// The identity is still free after the rollback.
	if err := b.InsertRevision(ctx, rev, nil); err != nil {
		t.Errorf("retry after rollback: %v", err)
	}
}

func TestInsertRevision_ConstraintKinds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := openTemp(t)
	t.Cleanup(func() { _ = b.Close() })

	rev := revisiontest.Revision(uuid.New(), 1, "x")
	if err := b.InsertRevision(ctx, rev, nil); err != nil {
		t.Fatalf("InsertRevision: %v", err)
	}

	tests := []struct {
		name    string
		rev     revision.AudioRevision
		wantDup bool
	}{
		{name: "primary key", rev: rev, wantDup: true},
		{name: "version check", rev: revisiontest.Revision(uuid.New(), 0, "x"), wantDup: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := b.InsertRevision(ctx, tc.rev, nil)
			if err == nil {
				t.Fatal("InsertRevision succeeded")
			}
			if got := errors.Is(err, revision.ErrDuplicateVersion); got != tc.wantDup {
				t.Errorf("ErrDuplicateVersion = %v, want %v: %v", got, tc.wantDup, err)
			}
		})
	}
}
