package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps blobs as bytea rows in a single table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		content BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure blobs schema: %w", err)
	}
	return nil
}

// List returns every row whose name starts with prefix, with the prefix
// stripped. Names are flat: a name with further '/' segments is returned
// whole, and no directory entries are produced.
func (s *PostgresStore) List(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, octet_length(content) FROM blobs WHERE name LIKE $1 || '%' ORDER BY name`,
		prefix)
	if err != nil {
		return nil, fmt.Errorf("list postgres blobs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var name string
		var size int64
		if err := rows.Scan(&name, &size); err != nil {
			return nil, fmt.Errorf("scan blob row: %w", err)
		}
		entries = append(entries, Entry{Name: name[len(prefix):], Size: size})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list postgres blobs: %w", err)
	}
	return entries, nil
}

func (s *PostgresStore) Read(ctx context.Context, name string) ([]byte, error) {
	var content []byte
	err := s.pool.QueryRow(ctx, `SELECT content FROM blobs WHERE name = $1`, name).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get postgres blob %q: %w", name, err)
	}
	return content, nil
}

// Writer buffers locally; Close commits with a single upsert.
func (s *PostgresStore) Writer(ctx context.Context, name string) (Writer, error) {
	return &pgWriter{ctx: ctx, store: s, name: name}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type pgWriter struct {
	ctx   context.Context
	store *PostgresStore
	name  string
	buf   bytes.Buffer
}

func (w *pgWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *pgWriter) Close() error {
	_, err := w.store.pool.Exec(w.ctx,
		`INSERT INTO blobs (name, content, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`,
		w.name, w.buf.Bytes())
	if err != nil {
		return fmt.Errorf("commit postgres blob %q: %w", w.name, err)
	}
	return nil
}

func (w *pgWriter) Abort() error {
	w.buf.Reset()
	return nil
}
