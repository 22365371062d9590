package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists journal entries in a PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS settlement_attempts (
    key TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    status TEXT NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    envelope BYTEA,
    signature BYTEA,
    error_kind TEXT NOT NULL DEFAULT '',
    attempts INT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects to Postgres using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*Entry, error) {
	row := p.pool.QueryRow(ctx, `
SELECT fingerprint, status, tx_hash, envelope, signature, error_kind, attempts,
       created_at, updated_at, expires_at
FROM settlement_attempts
WHERE key = $1
`, key)

	var e Entry
	var status string
	if err := row.Scan(&e.Fingerprint, &status, &e.TxHash, &e.Envelope, &e.Signature, &e.ErrorKind,
		&e.Attempts, &e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Status = Status(status)

	if expired(e, time.Now()) {
		go p.deleteKey(context.Background(), key)
		return nil, nil
	}
	return &e, nil
}

func (p *PostgresStore) Save(ctx context.Context, key string, e Entry) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO settlement_attempts (key, fingerprint, status, tx_hash, envelope, signature, error_kind,
                                 attempts, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (key) DO UPDATE
SET fingerprint = EXCLUDED.fingerprint,
    status = EXCLUDED.status,
    tx_hash = EXCLUDED.tx_hash,
    envelope = EXCLUDED.envelope,
    signature = EXCLUDED.signature,
    error_kind = EXCLUDED.error_kind,
    attempts = EXCLUDED.attempts,
    updated_at = EXCLUDED.updated_at,
    expires_at = EXCLUDED.expires_at
`, key, e.Fingerprint, string(e.Status), e.TxHash, e.Envelope, e.Signature, e.ErrorKind,
		e.Attempts, e.CreatedAt, e.UpdatedAt, e.ExpiresAt)
	return err
}

func (p *PostgresStore) deleteKey(ctx context.Context, key string) {
	_, _ = p.pool.Exec(ctx, `DELETE FROM settlement_attempts WHERE key = $1 AND status <> 'pending'`, key)
}
