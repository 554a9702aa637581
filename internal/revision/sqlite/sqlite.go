// Package sqlite is the on-device [revision.Backend], a single SQLite file
// opened through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uber/h3-go/v4"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

var _ revision.Backend = (*Backend)(nil)

// Schema creates the revision tables. Timestamps are Unix nanoseconds in
// UTC; cells are the H3 index reinterpreted as a signed 64-bit integer.
const Schema = `
CREATE TABLE IF NOT EXISTS audio_revision (
	identity                  TEXT    NOT NULL,
	version                   INTEGER NOT NULL CHECK (version >= 1),
	created                   INTEGER NOT NULL,
	duration_ms               INTEGER NOT NULL,
	transcription             TEXT,
	transcription_user_edited INTEGER NOT NULL DEFAULT 0,
	uploaded                  INTEGER,
	PRIMARY KEY (identity, version)
);

CREATE TABLE IF NOT EXISTS audio_revision_breadcrumb (
	identity TEXT    NOT NULL,
	version  INTEGER NOT NULL,
	idx      INTEGER NOT NULL,
	cell     INTEGER NOT NULL,
	created  INTEGER NOT NULL,
	PRIMARY KEY (identity, version, idx),
	FOREIGN KEY (identity, version) REFERENCES audio_revision (identity, version) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_audio_revision_uploaded ON audio_revision (uploaded);
`

// Backend stores revisions in one SQLite database.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and applies [Schema].
// dsn is anything the modernc driver accepts, such as a file path or
// "file:nidus.db?cache=shared".
func Open(dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One writer at a time; WAL lets readers proceed alongside it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Backend{db: db}, nil
}

// InsertRevision implements [revision.Backend].
func (b *Backend) InsertRevision(ctx context.Context, rev revision.AudioRevision, crumbs []breadcrumb.Breadcrumb) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: insert revision: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audio_revision
			(identity, version, created, duration_ms, transcription, transcription_user_edited, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rev.ID.String(), rev.Version, rev.Created.UnixNano(), rev.Duration.Milliseconds(),
		nullString(rev.Transcription), rev.UserEdited, nullTime(rev.Uploaded),
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("sqlite: insert %s v%d: %w", rev.ID, rev.Version, revision.ErrDuplicateVersion)
		}
		return fmt.Errorf("sqlite: insert %s v%d: %w", rev.ID, rev.Version, err)
	}

	if len(crumbs) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO audio_revision_breadcrumb (identity, version, idx, cell, created)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("sqlite: insert breadcrumbs: prepare: %w", err)
		}
		defer stmt.Close()
		for _, c := range crumbs {
			if _, err := stmt.ExecContext(ctx, rev.ID.String(), rev.Version, c.Index, int64(c.Cell), c.Created.UnixNano()); err != nil {
				return fmt.Errorf("sqlite: insert breadcrumb %d of %s v%d: %w", c.Index, rev.ID, rev.Version, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: insert revision: commit: %w", err)
	}
	return nil
}

// ScanRevisions implements [revision.Backend].
func (b *Backend) ScanRevisions(ctx context.Context, f revision.Filter) ([]revision.AudioRevision, error) {
	query := `
		SELECT identity, version, created, duration_ms, transcription, transcription_user_edited, uploaded
		FROM audio_revision`
	var args []any
	if len(f.IDs) > 0 {
		query += " WHERE identity IN (" + placeholders(len(f.IDs)) + ")"
		for _, id := range f.IDs {
			args = append(args, id.String())
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan revisions: %w", err)
	}
	defer rows.Close()

	var out []revision.AudioRevision
	for rows.Next() {
		var (
			identity   string
			rev        revision.AudioRevision
			created    int64
			durationMS int64
			text       sql.NullString
			uploaded   sql.NullInt64
		)
		if err := rows.Scan(&identity, &rev.Version, &created, &durationMS, &text, &rev.UserEdited, &uploaded); err != nil {
			return nil, fmt.Errorf("sqlite: scan revisions: %w", err)
		}
		if rev.ID, err = uuid.Parse(identity); err != nil {
			return nil, fmt.Errorf("sqlite: scan revisions: identity %q: %w", identity, err)
		}
		rev.Created = time.Unix(0, created).UTC()
		rev.Duration = time.Duration(durationMS) * time.Millisecond
		if text.Valid {
			rev.Transcription = &text.String
		}
		if uploaded.Valid {
			ts := time.Unix(0, uploaded.Int64).UTC()
			rev.Uploaded = &ts
		}
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan revisions: %w", err)
	}
	return out, nil
}

// SetUploaded implements [revision.Backend].
func (b *Backend) SetUploaded(ctx context.Context, key revision.Key, ts time.Time) error {
	res, err := b.db.ExecContext(ctx,
		`UPDATE audio_revision SET uploaded = ? WHERE identity = ? AND version = ?`,
		ts.UnixNano(), key.ID.String(), key.Version,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set uploaded %s v%d: %w", key.ID, key.Version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set uploaded %s v%d: %w", key.ID, key.Version, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: set uploaded %s v%d: %w", key.ID, key.Version, revision.ErrNotFound)
	}
	return nil
}

// ScanBreadcrumbs implements [revision.Backend]. It selects by identity and
// drops rows of versions that were not asked for.
func (b *Backend) ScanBreadcrumbs(ctx context.Context, keys []revision.Key) (map[revision.Key][]breadcrumb.Breadcrumb, error) {
	out := make(map[revision.Key][]breadcrumb.Breadcrumb, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	want := make(map[revision.Key]bool, len(keys))
	ids := make(map[uuid.UUID]bool, len(keys))
	var args []any
	for _, k := range keys {
		want[k] = true
		if !ids[k.ID] {
			ids[k.ID] = true
			args = append(args, k.ID.String())
		}
	}

	rows, err := b.db.QueryContext(ctx, `
		SELECT identity, version, idx, cell, created
		FROM audio_revision_breadcrumb
		WHERE identity IN (`+placeholders(len(args))+`)
		ORDER BY identity, version, idx`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan breadcrumbs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			identity string
			key      revision.Key
			cell     int64
			created  int64
			c        breadcrumb.Breadcrumb
		)
		if err := rows.Scan(&identity, &key.Version, &c.Index, &cell, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan breadcrumbs: %w", err)
		}
		if key.ID, err = uuid.Parse(identity); err != nil {
			return nil, fmt.Errorf("sqlite: scan breadcrumbs: identity %q: %w", identity, err)
		}
		if !want[key] {
			continue
		}
		c.Cell = h3.Cell(cell)
		c.Created = time.Unix(0, created).UTC()
		out[key] = append(out[key], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan breadcrumbs: %w", err)
	}
	return out, nil
}

// Ping implements [revision.Backend].
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close implements [revision.Backend].
func (b *Backend) Close() error {
	return b.db.Close()
}

// isConstraint reports whether err is a primary key or unique violation.
func isConstraint(err error) bool {
	var se *sqlitedriver.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UnixNano(), Valid: true}
}
