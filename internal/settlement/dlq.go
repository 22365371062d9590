package settlement

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// DeadLetter is written when an attempt needs manual review: the retry
// budget ran out, or the outcome could not be established.
type DeadLetter struct {
	Timestamp   time.Time `json:"timestamp"`
	EscrowID    string    `json:"escrowId"`
	Action      Action    `json:"action"`
	Status      Status    `json:"status"`
	ErrorKind   ErrorKind `json:"errorKind"`
	Error       string    `json:"error"`
	Fingerprint string    `json:"fingerprint"`
	TxHash      string    `json:"txHash,omitempty"`
	Envelope    string    `json:"envelope,omitempty"`
	Signature   string    `json:"signature,omitempty"`
	Attempts    int       `json:"attempts"`
}

// DeadLetters stores one JSON file per entry in a directory. An empty
// directory disables it.
type DeadLetters struct {
	dir string
	log zerolog.Logger
}

func NewDeadLetters(dir string, log zerolog.Logger) *DeadLetters {
	return &DeadLetters{dir: dir, log: log.With().Str("component", "dlq").Logger()}
}

func (d *DeadLetters) Write(entry DeadLetter) {
	if d == nil || d.dir == "" {
		return
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		d.log.Error().Err(err).Msg("dlq marshal error")
		return
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		d.log.Error().Err(err).Msg("dlq mkdir error")
		return
	}

	short := entry.EscrowID
	if len(short) > 18 {
		short = short[:18]
	}
	filename := fmt.Sprintf("%d-%s-%s.json", time.Now().UnixNano(), short, entry.Action)
	path := filepath.Join(d.dir, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		d.log.Error().Err(err).Msg("dlq write error")
	}
}

// Depth is the number of entries awaiting review.
func (d *DeadLetters) Depth() int {
	if d == nil || d.dir == "" {
		return 0
	}
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.log.Error().Err(err).Msg("dlq read error")
		}
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			n++
		}
	}
	return n
}
