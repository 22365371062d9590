// Package settlement turns settlement decisions into signed escrow
// transactions and drives them to a known outcome. Every retry either
// resubmits the exact bytes of the previous attempt or is preceded by proof
// that the previous attempt cannot land.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rewardrails/internal/address"
	"rewardrails/internal/contract"
	"rewardrails/internal/escrow"
	"rewardrails/internal/idempotency"
	"rewardrails/internal/invoke"
	"rewardrails/internal/ledger"
	"rewardrails/internal/report"
)

// KeyProvider hands out signers for accounts. signer.Keyring implements it.
type KeyProvider interface {
	Signer(ctx context.Context, account address.AccountAddress) (invoke.Signer, error)
}

type Config struct {
	NetworkID string
	Contract  address.ContractAddress
	Retry     RetryPolicy
	// ConfirmTimeout bounds the wait for a receipt after submission. Past
	// it the outcome is unknown, never failed.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// SubmitRate limits submissions per second toward the ledger; zero
	// disables the limit.
	SubmitRate       float64
	SubmitBurst      int
	BatchConcurrency int
	// JournalTTL is how long settled journal entries are kept.
	JournalTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = 1
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = 4
	}
	if c.JournalTTL <= 0 {
		c.JournalTTL = 24 * time.Hour
	}
}

type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = l.With().Str("component", "settlement").Logger() }
}

func WithReporter(r report.Reporter) Option { return func(o *Orchestrator) { o.reporter = r } }

func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithDeadLetters(d *DeadLetters) Option { return func(o *Orchestrator) { o.dlq = d } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

type Orchestrator struct {
	cfg      Config
	ledger   ledger.Ledger
	keys     KeyProvider
	journal  idempotency.Store
	calls    invoke.EscrowCalls
	reporter report.Reporter
	metrics  *Metrics
	dlq      *DeadLetters
	log      zerolog.Logger
	now      func() time.Time
	limiter  *rate.Limiter

	escrowLocks *keyedMutex
	// sourceLocks gives one in-flight plan per signing account, so two
	// submissions never race for the same sequence number.
	sourceLocks *keyedMutex
}

func New(cfg Config, l ledger.Ledger, keys KeyProvider, journal idempotency.Store, opts ...Option) (*Orchestrator, error) {
	if cfg.NetworkID == "" {
		return nil, errors.New("settlement: network id is required")
	}
	if cfg.Contract.IsZero() {
		return nil, errors.New("settlement: escrow contract address is required")
	}
	if l == nil || keys == nil {
		return nil, errors.New("settlement: ledger and key provider are required")
	}
	cfg.setDefaults()
	if journal == nil {
		journal = idempotency.NewMemoryStore()
	}

	limit := rate.Inf
	if cfg.SubmitRate > 0 {
		limit = rate.Limit(cfg.SubmitRate)
	}
	o := &Orchestrator{
		cfg:         cfg,
		ledger:      l,
		keys:        keys,
		journal:     journal,
		calls:       invoke.NewEscrowCalls(cfg.Contract),
		reporter:    report.Nop{},
		log:         zerolog.Nop(),
		now:         func() time.Time { return time.Now().UTC() },
		limiter:     rate.NewLimiter(limit, cfg.SubmitBurst),
		escrowLocks: newKeyedMutex(),
		sourceLocks: newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Open creates an escrow and funds it, in that order, as two transactions
// signed by the funder.
func (o *Orchestrator) Open(ctx context.Context, req OpenRequest) (Result, error) {
	funder, err := resolveCaller(req.Funder)
	if err != nil {
		return o.rejectEarly(ctx, Result{Action: ActionCreate}, err)
	}
	res := Result{EscrowID: escrow.DeriveID(funder, req.Reference), Action: ActionCreate}
	if req.Reference == "" {
		return o.rejectEarly(ctx, res, errorsmod.Wrap(ErrInvalidRequest, "reference is required"))
	}
	beneficiaries, err := resolvePayouts(req.Beneficiaries)
	if err != nil {
		return o.rejectEarly(ctx, res, err)
	}
	var operator address.Address
	if req.Operator != "" {
		if operator, err = address.Resolve(req.Operator); err != nil {
			return o.rejectEarly(ctx, res, errorsmod.Wrap(err, "operator"))
		}
	}

	createOp, err := o.calls.Create(invoke.CreateParams{
		Funder:        funder,
		Reference:     req.Reference,
		LockedAmount:  req.LockedAmount,
		Beneficiaries: beneficiaries,
		RefundMode:    req.RefundMode,
		Operator:      operator,
	})
	if err != nil {
		return o.rejectEarly(ctx, res, err)
	}
	fundOp, err := o.calls.Fund(res.EscrowID, funder, req.LockedAmount)
	if err != nil {
		return o.rejectEarly(ctx, res, err)
	}

	unlock, err := o.escrowLocks.lock(ctx, res.EscrowID.String())
	if err != nil {
		return o.rejectEarly(ctx, res, errorsmod.Wrap(ledger.ErrUnavailable, err.Error()))
	}
	defer unlock()

	created, err := o.run(ctx, plan{
		id:      res.EscrowID,
		action:  ActionCreate,
		source:  funder,
		ops:     []invoke.Operation{createOp},
		applied: []error{contract.ErrAlreadyExists},
		landed: func(rec escrow.Record) bool {
			return rec.Funder == funder && rec.Reference == req.Reference &&
				rec.LockedAmount == req.LockedAmount && escrow.SamePayouts(rec.Beneficiaries, beneficiaries)
		},
	})
	if err != nil {
		return created, err
	}

	funded, err := o.run(ctx, plan{
		id:      res.EscrowID,
		action:  ActionFund,
		source:  funder,
		ops:     []invoke.Operation{fundOp},
		applied: []error{contract.ErrAlreadyFunded, contract.ErrAlreadySettled},
		landed:  func(rec escrow.Record) bool { return !rec.FundedAt.IsZero() },
	})
	funded.Attempts += created.Attempts
	return funded, err
}

// Settle performs one of release, refund, partial_refund or batch_pay.
func (o *Orchestrator) Settle(ctx context.Context, req Request) (Result, error) {
	if !req.Action.IsSettlement() {
		return o.rejectEarly(ctx, Result{EscrowID: req.EscrowID, Action: req.Action},
			errorsmod.Wrapf(ErrInvalidRequest, "%q is not a settlement action", req.Action))
	}
	return o.transition(ctx, req)
}

// Approve records the earned amount of a Partial-mode escrow.
func (o *Orchestrator) Approve(ctx context.Context, id escrow.ID, caller string, amount uint64) (Result, error) {
	return o.transition(ctx, Request{EscrowID: id, Action: ActionApprove, Caller: caller, Amount: amount})
}

// Cancel abandons an escrow that was never funded.
func (o *Orchestrator) Cancel(ctx context.Context, id escrow.ID, caller string) (Result, error) {
	return o.transition(ctx, Request{EscrowID: id, Action: ActionCancel, Caller: caller})
}

// SettleAll runs independent escrows concurrently and requests for the same
// escrow in input order. Results line up with reqs; per-request errors are
// in Result.Err.
func (o *Orchestrator) SettleAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	groups := make(map[escrow.ID][]int)
	var order []escrow.ID
	for i, r := range reqs {
		if _, ok := groups[r.EscrowID]; !ok {
			order = append(order, r.EscrowID)
		}
		groups[r.EscrowID] = append(groups[r.EscrowID], i)
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchConcurrency)
	for _, id := range order {
		idxs := groups[id]
		g.Go(func() error {
			for _, i := range idxs {
				res, _ := o.Settle(ctx, reqs[i])
				results[i] = res
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Lookup reads the current escrow record from the ledger.
func (o *Orchestrator) Lookup(ctx context.Context, id escrow.ID) (escrow.Record, error) {
	op, err := o.calls.Get(id)
	if err != nil {
		return escrow.Record{}, err
	}
	v, err := o.ledger.Query(ctx, op)
	if err != nil {
		return escrow.Record{}, err
	}
	return contract.DecodeRecord(v)
}

func (o *Orchestrator) transition(ctx context.Context, req Request) (Result, error) {
	res := Result{EscrowID: req.EscrowID, Action: req.Action}
	op, caller, err := buildOperation(o.calls, req)
	if err != nil {
		return o.rejectEarly(ctx, res, err)
	}

	unlock, err := o.escrowLocks.lock(ctx, req.EscrowID.String())
	if err != nil {
		return o.rejectEarly(ctx, res, errorsmod.Wrap(ledger.ErrUnavailable, err.Error()))
	}
	defer unlock()

	p := plan{
		id:     req.EscrowID,
		action: req.Action,
		source: caller,
		ops:    []invoke.Operation{op},
	}
	switch req.Action {
	case ActionApprove:
		amount := req.Amount
		p.landed = func(rec escrow.Record) bool { return rec.Approved == amount }
	default:
		want := settledStatus[req.Action]
		p.applied = []error{contract.ErrAlreadySettled}
		p.landed = func(rec escrow.Record) bool { return rec.Status == want }
	}
	return o.run(ctx, p)
}

var settledStatus = map[Action]escrow.Status{
	ActionRelease:       escrow.StatusReleased,
	ActionBatchPay:      escrow.StatusReleased,
	ActionRefund:        escrow.StatusRefunded,
	ActionPartialRefund: escrow.StatusPartiallyRefunded,
	ActionCancel:        escrow.StatusFailed,
}

// plan is one journaled unit of work: a fixed set of operations signed by
// one account.
type plan struct {
	id     escrow.ID
	action Action
	source address.AccountAddress
	ops    []invoke.Operation
	fp     string
	// applied lists contract errors that, after an earlier attempt of
	// ours, may mean that attempt already took effect.
	applied []error
	// landed reports whether a record shows the effect of this plan.
	landed func(rec escrow.Record) bool
}

// run drives p to confirmation, rejection, or an exhausted budget. The
// caller holds the escrow lock.
func (o *Orchestrator) run(ctx context.Context, p plan) (Result, error) {
	res := Result{EscrowID: p.id, Action: p.action}
	fp, err := fingerprint(p.ops...)
	if err != nil {
		return o.rejectEarly(ctx, res, err)
	}
	p.fp = fp
	key := idempotency.Key(p.id.String(), string(p.action))
	log := o.log.With().Str("escrow_id", p.id.String()).Str("action", string(p.action)).Logger()

	entry, err := o.journal.Get(ctx, key)
	if err != nil {
		return o.rejectEarly(ctx, res, fmt.Errorf("read journal: %w", err))
	}

	now := o.now()
	journal := idempotency.Entry{Fingerprint: fp, Status: idempotency.StatusPending, CreatedAt: now}
	var stx *invoke.SignedTransaction
	var submitted []invoke.Hash
	var resumed bool
	// pooled is set once the current envelope may be held by the ledger.
	var pooled bool
	next := stepSign

	if entry != nil {
		switch {
		case entry.Fingerprint != fp && entry.Status != idempotency.StatusRejected:
			return o.rejectEarly(ctx, res, errorsmod.Wrapf(ErrMutationOnRetry,
				"escrow %s has a %s %s attempt with other arguments", p.id, entry.Status, p.action))
		case entry.Status == idempotency.StatusConfirmed:
			log.Info().Str("tx_hash", entry.TxHash).Msg("returning journaled confirmation")
			res.Status = StatusConfirmed
			res.TxHash = entry.TxHash
			res.Attempts = entry.Attempts
			return res, nil
		case entry.Status == idempotency.StatusPending:
			stx = &invoke.SignedTransaction{Envelope: entry.Envelope, Signature: entry.Signature}
			submitted = append(submitted, stx.Hash(o.cfg.NetworkID))
			journal = *entry
			resumed = true
			pooled = true
			next = stepReconcile
			log.Info().Str("tx_hash", entry.TxHash).Msg("resuming journaled attempt")
		}
	}

	unlock, err := o.sourceLocks.lock(ctx, p.source.String())
	if err != nil {
		if stx != nil {
			return o.unresolved(ctx, p, res, journal, key, stx, errorsmod.Wrap(ErrOutcomeUnknown, err.Error()))
		}
		return o.rejectEarly(ctx, res, errorsmod.Wrap(ledger.ErrUnavailable, err.Error()))
	}
	defer unlock()

	started := time.Now()
	var last attemptResult
	budget := o.cfg.Retry.attempts()

	for attempt := 1; attempt <= budget; attempt++ {
		if attempt > 1 {
			o.metrics.incRetry("retry")
			if err := sleepCtx(ctx, o.cfg.Retry.backoff(attempt-1)); err != nil {
				last.err = errorsmod.Wrap(ledger.ErrUnavailable, err.Error())
				break
			}
		}
		res.Attempts++
		journal.Attempts++

		if next == stepSign {
			signed, err := o.sign(ctx, p)
			if err != nil {
				if _, class := Classify(err); !class.Retryable() {
					return o.reject(ctx, p, res, journal, key, nil, err)
				}
				last = attemptResult{outcome: OutcomeRejected, err: err, next: stepSign}
				o.logAttempt(log, attempt, invoke.Hash{}, last)
				continue
			}
			pending := journal
			pending.Status = idempotency.StatusPending
			pending.Envelope = signed.Envelope
			pending.Signature = signed.Signature
			pending.TxHash = signed.Hash(o.cfg.NetworkID).String()
			pending.ErrorKind = ""
			// Nothing goes out unless the envelope is on record.
			if err := o.saveJournal(ctx, key, pending); err != nil {
				last = attemptResult{outcome: OutcomeRejected, err: errorsmod.Wrap(ErrJournalWrite, err.Error()), next: stepSign}
				o.logAttempt(log, attempt, signed.Hash(o.cfg.NetworkID), last)
				continue
			}
			journal = pending
			stx = &signed
			pooled = false
			next = stepSubmit
		}

		hash := stx.Hash(o.cfg.NetworkID)
		prior := resumed || hasOther(submitted, hash)
		if next == stepSubmit {
			last = o.submit(ctx, p, *stx, prior)
			if len(submitted) == 0 || submitted[len(submitted)-1] != hash {
				submitted = append(submitted, hash)
			}
		} else {
			last = o.reconcile(ctx, p, *stx, prior)
		}
		if last.accepted {
			pooled = true
		}
		o.logAttempt(log, attempt, hash, last)

		switch {
		case last.outcome == OutcomeConfirmed:
			return o.confirm(ctx, p, res, journal, key, last.receipt, submitted, started)
		case last.outcome == OutcomeRejected:
			if _, class := Classify(last.err); !class.Retryable() {
				return o.reject(ctx, p, res, journal, key, stx, last.err)
			}
		}
		next = last.next
	}

	o.metrics.incRetry("failed")
	// An envelope the ledger may hold and whose slot is still free can land
	// after we stop watching it.
	if stx != nil && (next == stepReconcile || (pooled && last.open)) {
		return o.unresolved(ctx, p, res, journal, key, stx, last.err)
	}
	err = errorsmod.Wrapf(ErrRetryBudgetExhausted, "after %d attempts: %v", res.Attempts, last.err)
	o.deadLetter(p, StatusRejected, KindRetryBudgetExhausted, err, journal, res.Attempts)
	return o.reject(ctx, p, res, journal, key, stx, err)
}

func (o *Orchestrator) sign(ctx context.Context, p plan) (invoke.SignedTransaction, error) {
	key, err := o.keys.Signer(ctx, p.source)
	if err != nil {
		return invoke.SignedTransaction{}, err
	}
	seq, err := o.ledger.Sequence(ctx, p.source)
	if err != nil {
		return invoke.SignedTransaction{}, err
	}
	tx := invoke.Transaction{Source: p.source, Sequence: seq, Operations: p.ops}
	return invoke.Sign(tx, o.cfg.NetworkID, key)
}

// submit hands stx to the ledger and waits for its receipt.
func (o *Orchestrator) submit(ctx context.Context, p plan, stx invoke.SignedTransaction, prior bool) attemptResult {
	if err := o.limiter.Wait(ctx); err != nil {
		return attemptResult{outcome: OutcomeRejected, err: errorsmod.Wrap(ledger.ErrUnavailable, err.Error()), next: stepSubmit}
	}
	hash, err := o.ledger.Submit(ctx, stx)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrDuplicateTx), errors.Is(err, ledger.ErrBadSequence):
		// Either our own earlier copy executed or the slot is gone.
		o.metrics.incSubmission(p.action, "conflict")
		r := o.reconcile(ctx, p, stx, prior)
		r.accepted = r.accepted || errors.Is(err, ledger.ErrDuplicateTx)
		return r
	case errors.Is(err, ledger.ErrBadSignature), errors.Is(err, ledger.ErrMalformedTx),
		errors.Is(err, ledger.ErrTooManyOperations):
		o.metrics.incSubmission(p.action, "invalid")
		return attemptResult{outcome: OutcomeRejected, err: err}
	default:
		o.metrics.incSubmission(p.action, "unknown")
		return attemptResult{outcome: OutcomeUnknown, err: err, next: stepReconcile, accepted: true}
	}

	r, err := o.awaitReceipt(ctx, hash)
	if err != nil {
		o.metrics.incSubmission(p.action, "unknown")
		return attemptResult{outcome: OutcomeUnknown, err: err, next: stepReconcile, accepted: true}
	}
	return o.judge(ctx, p, r, prior)
}

func (o *Orchestrator) awaitReceipt(ctx context.Context, hash invoke.Hash) (*ledger.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
	defer cancel()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		r, err := o.ledger.Receipt(ctx, hash)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, ledger.ErrTxNotFound) && !errors.Is(err, ledger.ErrUnavailable) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errorsmod.Wrapf(ErrOutcomeUnknown, "no receipt for %s within %s", hash, o.cfg.ConfirmTimeout)
		case <-ticker.C:
		}
	}
}

// reconcile establishes whether stx landed: by its receipt, then by the
// source's sequence number, then by the escrow record.
func (o *Orchestrator) reconcile(ctx context.Context, p plan, stx invoke.SignedTransaction, prior bool) attemptResult {
	hash := stx.Hash(o.cfg.NetworkID)
	r, err := o.ledger.Receipt(ctx, hash)
	if err == nil {
		return o.judge(ctx, p, r, prior)
	}
	if !errors.Is(err, ledger.ErrTxNotFound) {
		return attemptResult{outcome: OutcomeUnknown, err: err, next: stepReconcile}
	}

	tx, err := invoke.DecodeTransaction(stx.Envelope)
	if err != nil {
		return attemptResult{outcome: OutcomeRejected, err: errorsmod.Wrap(ledger.ErrMalformedTx, err.Error())}
	}
	seq, err := o.ledger.Sequence(ctx, p.source)
	if err != nil {
		return attemptResult{outcome: OutcomeUnknown, err: err, next: stepReconcile}
	}
	notLanded := errorsmod.Wrapf(ledger.ErrBadSequence, "tx %s did not land", hash)
	switch {
	case seq == tx.Sequence:
		// The slot is still open, so the same bytes may go again.
		return attemptResult{outcome: OutcomeRejected, err: notLanded, next: stepSubmit, open: true}
	case seq < tx.Sequence:
		return attemptResult{outcome: OutcomeRejected, err: notLanded, next: stepSign}
	}

	// Another transaction took the slot. Someone may still have applied
	// the effect we wanted.
	rec, err := o.Lookup(ctx, p.id)
	if err == nil && p.landed(rec) {
		return attemptResult{outcome: OutcomeConfirmed}
	}
	if err != nil && !errors.Is(err, contract.ErrNotFound) {
		return attemptResult{outcome: OutcomeUnknown, err: err, next: stepReconcile}
	}
	return attemptResult{outcome: OutcomeRejected, err: notLanded, next: stepSign}
}

// judge turns an execution receipt into an attempt outcome.
func (o *Orchestrator) judge(ctx context.Context, p plan, r *ledger.Receipt, prior bool) attemptResult {
	if r.Success {
		o.metrics.incSubmission(p.action, "confirmed")
		return attemptResult{outcome: OutcomeConfirmed, receipt: r}
	}
	err := r.Err()
	if prior && isAny(err, p.applied) {
		rec, lerr := o.Lookup(ctx, p.id)
		if lerr != nil {
			return attemptResult{outcome: OutcomeUnknown, err: lerr, next: stepReconcile}
		}
		if p.landed(rec) {
			o.metrics.incSubmission(p.action, "confirmed")
			return attemptResult{outcome: OutcomeConfirmed}
		}
	}
	o.metrics.incSubmission(p.action, "rejected")
	// A failed transaction consumed its sequence number.
	return attemptResult{outcome: OutcomeRejected, receipt: r, err: err, next: stepSign}
}

// hasOther reports whether a transaction other than current was submitted.
func hasOther(submitted []invoke.Hash, current invoke.Hash) bool {
	for _, h := range submitted {
		if h != current {
			return true
		}
	}
	return false
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// confirm ends a plan whose effect is on the ledger. r is nil when the
// effect was established from the escrow record; the landing transaction is
// then looked up among ours, and may belong to someone else.
func (o *Orchestrator) confirm(ctx context.Context, p plan, res Result, journal idempotency.Entry, key string,
	r *ledger.Receipt, submitted []invoke.Hash, started time.Time) (Result, error) {
	if r == nil {
		r = o.findLanded(ctx, submitted)
	}
	res.Status = StatusConfirmed
	if r != nil {
		res.TxHash = r.Hash.String()
	}

	journal.Status = idempotency.StatusConfirmed
	journal.TxHash = res.TxHash
	journal.ErrorKind = ""
	journal.ExpiresAt = o.now().Add(o.cfg.JournalTTL)
	o.saveJournal(ctx, key, journal)
	o.metrics.observeConfirm(p.action, time.Since(started))

	if r != nil {
		res.Events = o.settlementEvents(r)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for _, ev := range res.Events {
			if err := o.reporter.RecordEvent(rctx, ev); err != nil {
				o.metrics.incReportError()
				o.log.Warn().Err(err).Str("escrow_id", p.id.String()).Msg("report event failed")
			}
		}
	}
	o.log.Info().
		Str("escrow_id", p.id.String()).
		Str("action", string(p.action)).
		Str("tx_hash", res.TxHash).
		Int("attempts", res.Attempts).
		Msg("settlement confirmed")
	return res, nil
}

func (o *Orchestrator) findLanded(ctx context.Context, hashes []invoke.Hash) *ledger.Receipt {
	for i := len(hashes) - 1; i >= 0; i-- {
		r, err := o.ledger.Receipt(ctx, hashes[i])
		if err == nil && r.Success {
			return r
		}
	}
	return nil
}

func (o *Orchestrator) settlementEvents(r *ledger.Receipt) []escrow.Event {
	var out []escrow.Event
	for _, raw := range r.Events {
		if raw.Contract != o.cfg.Contract {
			continue
		}
		ev, err := contract.DecodeEvent(raw.Topic, raw.Data)
		if err != nil {
			o.log.Warn().Err(err).Str("topic", string(raw.Topic)).Msg("skipping undecodable event")
			continue
		}
		ev.TxHash = r.Hash.String()
		out = append(out, ev)
	}
	return out
}

// reject ends a plan with a terminal failure.
func (o *Orchestrator) reject(ctx context.Context, p plan, res Result, journal idempotency.Entry, key string,
	stx *invoke.SignedTransaction, err error) (Result, error) {
	kind, _ := Classify(err)
	if stx != nil {
		journal.Status = idempotency.StatusRejected
		journal.ErrorKind = string(kind)
		journal.ExpiresAt = o.now().Add(o.cfg.JournalTTL)
		o.saveJournal(ctx, key, journal)
		res.TxHash = journal.TxHash
	}
	res.Status = StatusRejected
	res.ErrorKind = kind
	res.Err = err
	o.surface(ctx, res, err)
	return res, err
}

// rejectEarly ends a request that failed before anything was signed.
func (o *Orchestrator) rejectEarly(ctx context.Context, res Result, err error) (Result, error) {
	kind, _ := Classify(err)
	res.Status = StatusRejected
	res.ErrorKind = kind
	res.Err = err
	o.surface(ctx, res, err)
	return res, err
}

// unresolved ends a plan whose transaction may still land. The journal entry
// stays pending so the next request for it resumes reconciliation.
func (o *Orchestrator) unresolved(ctx context.Context, p plan, res Result, journal idempotency.Entry, key string,
	stx *invoke.SignedTransaction, cause error) (Result, error) {
	err := errorsmod.Wrapf(ErrOutcomeUnknown, "tx %s: %v", stx.Hash(o.cfg.NetworkID), cause)
	o.saveJournal(ctx, key, journal)
	res.Status = StatusSubmitted
	res.ErrorKind = KindOutcomeUnknown
	res.TxHash = stx.Hash(o.cfg.NetworkID).String()
	res.Err = err
	o.deadLetter(p, StatusSubmitted, KindOutcomeUnknown, err, journal, res.Attempts)
	o.surface(ctx, res, err)
	return res, err
}

// surface sends a failure to the reporting store. Reporting never changes
// the outcome.
func (o *Orchestrator) surface(ctx context.Context, res Result, err error) {
	kind, class := Classify(err)
	if res.ErrorKind != "" {
		kind = res.ErrorKind
	}
	o.metrics.incFailure(kind)
	o.log.Warn().
		Err(err).
		Str("escrow_id", res.EscrowID.String()).
		Str("action", string(res.Action)).
		Str("status", string(res.Status)).
		Str("error_kind", string(kind)).
		Msg("settlement not confirmed")

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if rerr := o.reporter.RecordFailure(rctx, report.Failure{
		EscrowID:  res.EscrowID,
		Action:    string(res.Action),
		ErrorKind: string(kind),
		Class:     string(class),
		Message:   err.Error(),
		TxHash:    res.TxHash,
		Attempts:  res.Attempts,
		At:        o.now(),
	}); rerr != nil {
		o.metrics.incReportError()
		o.log.Warn().Err(rerr).Msg("report failure failed")
	}
}

func (o *Orchestrator) deadLetter(p plan, status Status, kind ErrorKind, err error, journal idempotency.Entry, attempts int) {
	if o.dlq == nil {
		return
	}
	o.dlq.Write(DeadLetter{
		Timestamp:   o.now(),
		EscrowID:    p.id.String(),
		Action:      p.action,
		Status:      status,
		ErrorKind:   kind,
		Error:       err.Error(),
		Fingerprint: p.fp,
		TxHash:      journal.TxHash,
		Envelope:    fmt.Sprintf("%x", journal.Envelope),
		Signature:   fmt.Sprintf("%x", journal.Signature),
		Attempts:    attempts,
	})
	o.metrics.SetDLQDepth(o.dlq.Depth())
}

func (o *Orchestrator) saveJournal(ctx context.Context, key string, e idempotency.Entry) error {
	e.UpdatedAt = o.now()
	err := o.journal.Save(context.WithoutCancel(ctx), key, e)
	if err != nil {
		o.log.Error().Err(err).Str("key", key).Str("status", string(e.Status)).Msg("journal write failed")
	}
	return err
}

func (o *Orchestrator) logAttempt(log zerolog.Logger, attempt int, hash invoke.Hash, r attemptResult) {
	ev := log.Debug()
	if r.outcome != OutcomeConfirmed {
		ev = log.Info()
	}
	if !hash.IsZero() {
		ev = ev.Str("tx_hash", hash.String())
	}
	if r.err != nil {
		kind, _ := Classify(r.err)
		ev = ev.Err(r.err).Str("error_kind", string(kind))
	}
	ev.Int("attempt", attempt).Str("outcome", r.outcome.String()).Msg("settlement attempt")
}

// DeadLetterDepth reports the number of entries awaiting manual review.
func (o *Orchestrator) DeadLetterDepth() int {
	depth := o.dlq.Depth()
	o.metrics.SetDLQDepth(depth)
	return depth
}
