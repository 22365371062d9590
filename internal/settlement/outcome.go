package settlement

import (
	"rewardrails/internal/escrow"
	"rewardrails/internal/ledger"
)

// Status is what the business layer sees for a request.
type Status string

const (
	// StatusSubmitted means a transaction is out and its outcome could not
	// be established. It is never a failure.
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Outcome of a single attempt. Unknown is kept apart from Rejected: an
// unknown transaction may still land.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeConfirmed
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result of one orchestrated request.
type Result struct {
	EscrowID  escrow.ID      `json:"escrowId"`
	Action    Action         `json:"action"`
	Status    Status         `json:"status"`
	ErrorKind ErrorKind      `json:"errorKind,omitempty"`
	TxHash    string         `json:"txHash,omitempty"`
	Attempts  int            `json:"attempts"`
	Events    []escrow.Event `json:"-"`
	Err       error          `json:"-"`
}

// nextStep is what the following attempt has to do.
type nextStep int

const (
	// stepSign signs a fresh transaction at the current sequence number.
	stepSign nextStep = iota
	// stepSubmit submits the current signed transaction unchanged.
	stepSubmit
	// stepReconcile establishes whether the current transaction landed.
	stepReconcile
)

type attemptResult struct {
	outcome Outcome
	receipt *ledger.Receipt
	err     error
	next    nextStep

	// accepted is set when the ledger may hold the envelope for execution.
	accepted bool
	// open is set when the envelope's sequence slot is still free, so it
	// can still land.
	open     bool
}
