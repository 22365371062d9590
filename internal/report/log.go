package report

import (
	"context"

	"github.com/rs/zerolog"

	"rewardrails/internal/escrow"
)

// Log writes reports as structured log lines.
type Log struct {
	log      zerolog.Logger
	decimals int32
}

func NewLog(log zerolog.Logger, decimals int32) *Log {
	return &Log{log: log.With().Str("component", "report").Logger(), decimals: decimals}
}

func (l *Log) RecordEvent(_ context.Context, ev escrow.Event) error {
	amounts := zerolog.Arr()
	for _, p := range ev.FinalAmounts {
		amounts.Dict(zerolog.Dict().
			Str("recipient", p.Recipient.String()).
			Str("amount", DisplayAmount(p.Amount, l.decimals)))
	}
	l.log.Info().
		Str("escrow_id", ev.EscrowID.String()).
		Str("kind", string(ev.Kind)).
		Array("final_amounts", amounts).
		Time("ledger_time", ev.LedgerTimestamp).
		Str("tx_hash", ev.TxHash).
		Msg("settlement event")
	return nil
}

func (l *Log) RecordFailure(_ context.Context, f Failure) error {
	l.log.Warn().
		Str("escrow_id", f.EscrowID.String()).
		Str("action", f.Action).
		Str("error_kind", f.ErrorKind).
		Str("class", f.Class).
		Str("tx_hash", f.TxHash).
		Int("attempts", f.Attempts).
		Msg(f.Message)
	return nil
}
