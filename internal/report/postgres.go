package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"rewardrails/internal/escrow"
)

const createReportTablesSQL = `
CREATE TABLE IF NOT EXISTS settlement_events (
    escrow_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    tx_hash TEXT NOT NULL,
    final_amounts JSONB NOT NULL,
    total TEXT NOT NULL,
    ledger_time TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (escrow_id, kind, tx_hash)
);
CREATE TABLE IF NOT EXISTS settlement_failures (
    id BIGSERIAL PRIMARY KEY,
    escrow_id TEXT NOT NULL,
    action TEXT NOT NULL,
    error_kind TEXT NOT NULL,
    class TEXT NOT NULL,
    message TEXT NOT NULL,
    tx_hash TEXT NOT NULL DEFAULT '',
    attempts INT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL
);
`

// Postgres records events and failures for the display layer.
type Postgres struct {
	pool     *pgxpool.Pool
	decimals int32
}

func NewPostgres(ctx context.Context, dsn string, decimals int32) (*Postgres, error) {
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
	if _, err := pool.Exec(ctx, createReportTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, decimals: decimals}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

type displayPayout struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (p *Postgres) RecordEvent(ctx context.Context, ev escrow.Event) error {
	rows := make([]displayPayout, 0, len(ev.FinalAmounts))
	for _, po := range ev.FinalAmounts {
		rows = append(rows, displayPayout{
			Recipient: po.Recipient.String(),
			Amount:    DisplayAmount(po.Amount, p.decimals),
		})
	}
	amounts, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	total, err := escrow.SumPayouts(ev.FinalAmounts)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO settlement_events (escrow_id, kind, tx_hash, final_amounts, total, ledger_time)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (escrow_id, kind, tx_hash) DO NOTHING
`, ev.EscrowID.String(), string(ev.Kind), ev.TxHash, amounts, DisplayAmount(total, p.decimals), ev.LedgerTimestamp)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

func (p *Postgres) RecordFailure(ctx context.Context, f Failure) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO settlement_failures (escrow_id, action, error_kind, class, message, tx_hash, attempts, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, f.EscrowID.String(), f.Action, f.ErrorKind, f.Class, f.Message, f.TxHash, f.Attempts, f.At)
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}
