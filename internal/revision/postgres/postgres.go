// Package postgres is the server-side [revision.Backend], backed by a
// PostgreSQL connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uber/h3-go/v4"

	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/breadcrumb"
	"github.com/Gleipnir-Technology/Nidus-iOS-sub001/internal/revision"
)

var _ revision.Backend = (*Backend)(nil)

// Schema is the SQL DDL for the revision tables. Execute it via [Migrate] or
// apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS audio_revision (
    identity                  TEXT        NOT NULL,
    version                   INTEGER     NOT NULL CHECK (version >= 1),
    created                   TIMESTAMPTZ NOT NULL,
    duration_ms               BIGINT      NOT NULL,
    transcription             TEXT,
    transcription_user_edited BOOLEAN     NOT NULL DEFAULT false,
    uploaded                  TIMESTAMPTZ,
    PRIMARY KEY (identity, version)
);

CREATE TABLE IF NOT EXISTS audio_revision_breadcrumb (
    identity TEXT        NOT NULL,
    version  INTEGER     NOT NULL,
    idx      INTEGER     NOT NULL,
    cell     BIGINT      NOT NULL,
    created  TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (identity, version, idx),
    FOREIGN KEY (identity, version) REFERENCES audio_revision (identity, version) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_audio_revision_not_uploaded
    ON audio_revision (identity) WHERE uploaded IS NULL;
`

// Migrate executes [Schema] against pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Backend stores revisions in PostgreSQL. All methods are safe for
// concurrent use.
type Backend struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and runs [Migrate].
func Open(ctx context.Context, dsn string) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Backend{pool: pool}, nil
}

// InsertRevision implements [revision.Backend]. The revision row and its
// breadcrumbs are written in one transaction.
func (b *Backend) InsertRevision(ctx context.Context, rev revision.AudioRevision, crumbs []breadcrumb.Breadcrumb) error {
	err := pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO audio_revision
				(identity, version, created, duration_ms, transcription, transcription_user_edited, uploaded)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			rev.ID.String(), rev.Version, rev.Created, rev.Duration.Milliseconds(),
			rev.Transcription, rev.UserEdited, rev.Uploaded,
		)
		if err != nil {
			return err
		}
		if len(crumbs) == 0 {
			return nil
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"audio_revision_breadcrumb"},
			[]string{"identity", "version", "idx", "cell", "created"},
			pgx.CopyFromSlice(len(crumbs), func(i int) ([]any, error) {
				c := crumbs[i]
				return []any{rev.ID.String(), rev.Version, c.Index, int64(c.Cell), c.Created}, nil
			}),
		)
		return err
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("postgres: insert %s v%d: %w", rev.ID, rev.Version, revision.ErrDuplicateVersion)
		}
		return fmt.Errorf("postgres: insert %s v%d: %w", rev.ID, rev.Version, err)
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
		query += " WHERE identity = ANY($1)"
		args = append(args, idStrings(f.IDs))
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan revisions: %w", err)
	}
	defer rows.Close()

	var out []revision.AudioRevision
	for rows.Next() {
		var (
			identity   string
			rev        revision.AudioRevision
			durationMS int64
		)
		if err := rows.Scan(&identity, &rev.Version, &rev.Created, &durationMS,
			&rev.Transcription, &rev.UserEdited, &rev.Uploaded); err != nil {
			return nil, fmt.Errorf("postgres: scan revisions: %w", err)
		}
		if rev.ID, err = uuid.Parse(identity); err != nil {
			return nil, fmt.Errorf("postgres: scan revisions: identity %q: %w", identity, err)
		}
		rev.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan revisions: %w", err)
	}
	return out, nil
}

// SetUploaded implements [revision.Backend].
func (b *Backend) SetUploaded(ctx context.Context, key revision.Key, ts time.Time) error {
	tag, err := b.pool.Exec(ctx,
		`UPDATE audio_revision SET uploaded = $1 WHERE identity = $2 AND version = $3`,
		ts, key.ID.String(), key.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: set uploaded %s v%d: %w", key.ID, key.Version, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set uploaded %s v%d: %w", key.ID, key.Version, revision.ErrNotFound)
	}
	return nil
}

// ScanBreadcrumbs implements [revision.Backend].
func (b *Backend) ScanBreadcrumbs(ctx context.Context, keys []revision.Key) (map[revision.Key][]breadcrumb.Breadcrumb, error) {
	out := make(map[revision.Key][]breadcrumb.Breadcrumb, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	ids := make([]string, len(keys))
	versions := make([]int32, len(keys))
	for i, k := range keys {
		ids[i] = k.ID.String()
		versions[i] = int32(k.Version)
	}

	rows, err := b.pool.Query(ctx, `
		SELECT b.identity, b.version, b.idx, b.cell, b.created
		FROM audio_revision_breadcrumb b
		JOIN unnest($1::text[], $2::int[]) AS k(identity, version)
		  ON b.identity = k.identity AND b.version = k.version
		ORDER BY b.identity, b.version, b.idx`, ids, versions)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan breadcrumbs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			identity string
			key      revision.Key
			cell     int64
			c        breadcrumb.Breadcrumb
		)
		if err := rows.Scan(&identity, &key.Version, &c.Index, &cell, &c.Created); err != nil {
			return nil, fmt.Errorf("postgres: scan breadcrumbs: %w", err)
		}
		if key.ID, err = uuid.Parse(identity); err != nil {
			return nil, fmt.Errorf("postgres: scan breadcrumbs: identity %q: %w", identity, err)
		}
		c.Cell = h3.Cell(cell)
		out[key] = append(out[key], c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan breadcrumbs: %w", err)
	}
	return out, nil
}

// Ping implements [revision.Backend].
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close implements [revision.Backend].
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

// isDuplicateKeyError checks whether err is a unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
