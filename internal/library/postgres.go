package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS library_entries (
    id          UUID PRIMARY KEY,
    user_id     TEXT NOT NULL,
    job_id      TEXT NOT NULL,
    filename    TEXT NOT NULL,
    mime_type   TEXT NOT NULL,
    size        BIGINT NOT NULL,
    storage_key TEXT NOT NULL,
    saved_at    TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, job_id)
);`

const selectColumns = `id, user_id, job_id, filename, mime_type, size, storage_key, saved_at`

// PostgresIndex stores entries in a library_entries table.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

// NewPostgresIndex connects to databaseURL and creates the table if needed.
func NewPostgresIndex(ctx context.Context, databaseURL string) (*PostgresIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create library schema: %w", err)
	}
	return &PostgresIndex{pool: pool}, nil
}

func (p *PostgresIndex) Close() {
	p.pool.Close()
}

func (p *PostgresIndex) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresIndex) Insert(ctx context.Context, e Entry) (*Entry, error) {
	_, err := p.pool.Exec(ctx, `
INSERT INTO library_entries (`+selectColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, job_id) DO NOTHING;`,
		e.ID, e.UserID, e.JobID, e.Filename, e.MimeType, e.Size, e.StorageKey, e.SavedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert library entry: %w", err)
	}
	return p.Get(ctx, e.UserID, e.JobID)
}

func (p *PostgresIndex) Get(ctx context.Context, userID, jobID string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT `+selectColumns+`
FROM library_entries
WHERE user_id = $1 AND job_id = $2;`, userID, jobID)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get library entry: %w", err)
	}
	return e, nil
}

func (p *PostgresIndex) List(ctx context.Context, userID string) ([]Entry, error) {
	rows, err := p.pool.Query(ctx, `
SELECT `+selectColumns+`
FROM library_entries
WHERE user_id = $1
ORDER BY saved_at, id;`, userID)
	if err != nil {
		return nil, fmt.Errorf("list library entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan library entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	if err := row.Scan(&e.ID, &e.UserID, &e.JobID, &e.Filename, &e.MimeType, &e.Size, &e.StorageKey, &e.SavedAt); err != nil {
		return nil, err
	}
	return &e, nil
}
