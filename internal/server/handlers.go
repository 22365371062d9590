package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"rewardrails/internal/contract"
	"rewardrails/internal/escrow"
	"rewardrails/internal/report"
	"rewardrails/internal/settlement"
)

// maxBatch bounds the requests accepted by one batch call.
const maxBatch = 256

type openEscrowRequest struct {
	Funder        string                  `json:"funder"`
	Reference     string                  `json:"reference"`
	LockedAmount  uint64                  `json:"lockedAmount"`
	Beneficiaries []settlement.PayoutSpec `json:"beneficiaries"`
	RefundMode    string                  `json:"refundMode"`
	Operator      string                  `json:"operator,omitempty"`
}

type settleRequest struct {
	EscrowID string                  `json:"escrowId"`
	Action   string                  `json:"action"`
	Caller   string                  `json:"caller"`
	Payouts  []settlement.PayoutSpec `json:"payouts,omitempty"`
	Split    []settlement.PayoutSpec `json:"split,omitempty"`
	Amount   uint64                  `json:"amount,omitempty"`
}

type settleBatchRequest struct {
	Requests []settleRequest `json:"requests"`
}

type resultResponse struct {
	EscrowID  string `json:"escrowId,omitempty"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
	TxHash    string `json:"txHash,omitempty"`
	Attempts  int    `json:"attempts"`
}

type payoutView struct {
	Recipient string `json:"recipient"`
	Amount    uint64 `json:"amount"`
	Display   string `json:"display"`
}

type recordResponse struct {
	ID            string       `json:"id"`
	Reference     string       `json:"reference"`
	Funder        string       `json:"funder"`
	Operator      string       `json:"operator,omitempty"`
	Beneficiaries []payoutView `json:"beneficiaries"`
	LockedAmount  uint64       `json:"lockedAmount"`
	Approved      uint64       `json:"approved,omitempty"`
	RefundMode    string       `json:"refundMode"`
	Status        string       `json:"status"`
	CreatedAt     *time.Time   `json:"createdAt,omitempty"`
	FundedAt      *time.Time   `json:"fundedAt,omitempty"`
	SettledAt     *time.Time   `json:"settledAt,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var payload openEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	mode, err := escrow.ParseRefundMode(payload.RefundMode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.settler.Open(r.Context(), settlement.OpenRequest{
		Funder:        payload.Funder,
		Reference:     payload.Reference,
		LockedAmount:  payload.LockedAmount,
		Beneficiaries: payload.Beneficiaries,
		RefundMode:    mode,
		Operator:      payload.Operator,
	})
	code := statusFor(res, err)
	if code == http.StatusOK {
		code = http.StatusCreated
	}
	s.metrics.incResult(res)
	writeJSON(w, code, toResponse(res, err))
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var payload settleRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	req, err := payload.toRequest()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res settlement.Result
	switch req.Action {
	case settlement.ActionApprove:
		res, err = s.settler.Approve(r.Context(), req.EscrowID, req.Caller, req.Amount)
	case settlement.ActionCancel:
		res, err = s.settler.Cancel(r.Context(), req.EscrowID, req.Caller)
	default:
		res, err = s.settler.Settle(r.Context(), req)
	}
	s.metrics.incResult(res)
	writeJSON(w, statusFor(res, err), toResponse(res, err))
}

func (s *Server) handleSettleBatch(w http.ResponseWriter, r *http.Request) {
	var payload settleBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if len(payload.Requests) == 0 || len(payload.Requests) > maxBatch {
		http.Error(w, "batch must hold between 1 and 256 requests", http.StatusBadRequest)
		return
	}
	reqs := make([]settlement.Request, 0, len(payload.Requests))
	for _, p := range payload.Requests {
		req, err := p.toRequest()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Action.IsSettlement() {
			http.Error(w, "batch accepts settlement actions only", http.StatusBadRequest)
			return
		}
		reqs = append(reqs, req)
	}

	results := s.settler.SettleAll(r.Context(), reqs)
	out := make([]resultResponse, len(results))
	for i, res := range results {
		s.metrics.incResult(res)
		out[i] = toResponse(res, res.Err)
	}
	writeJSON(w, http.StatusOK, struct {
		Results []resultResponse `json:"results"`
	}{out})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	id, err := escrow.ParseID(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := s.settler.Lookup(r.Context(), id)
	switch {
	case errors.Is(err, contract.ErrNotFound):
		http.Error(w, "escrow not found", http.StatusNotFound)
		return
	case err != nil:
		s.log.Warn().Err(err).Str("escrow_id", id.String()).Msg("lookup failed")
		http.Error(w, "lookup failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, s.recordView(rec))
}

func (p settleRequest) toRequest() (settlement.Request, error) {
	id, err := escrow.ParseID(p.EscrowID)
	if err != nil {
		return settlement.Request{}, err
	}
	action, err := settlement.ParseAction(p.Action)
	if err != nil {
		return settlement.Request{}, err
	}
	return settlement.Request{
		EscrowID: id,
		Action:   action,
		Caller:   p.Caller,
		Payouts:  p.Payouts,
		Split:    p.Split,
		Amount:   p.Amount,
	}, nil
}

func (s *Server) recordView(rec escrow.Record) recordResponse {
	decimals := s.cfg.File.Token.Decimals
	out := recordResponse{
		ID:           rec.ID.String(),
		Reference:    rec.Reference,
		Funder:       rec.Funder.String(),
		LockedAmount: rec.LockedAmount,
		Approved:     rec.Approved,
		RefundMode:   rec.RefundMode.String(),
		Status:       rec.Status.String(),
		CreatedAt:    timePtr(rec.CreatedAt),
		FundedAt:     timePtr(rec.FundedAt),
		SettledAt:    timePtr(rec.SettledAt),
	}
	if rec.Operator != nil {
		out.Operator = rec.Operator.String()
	}
	for _, b := range rec.Beneficiaries {
		out.Beneficiaries = append(out.Beneficiaries, payoutView{
			Recipient: b.Recipient.String(),
			Amount:    b.Amount,
			Display:   report.DisplayAmount(b.Amount, decimals),
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toResponse(res settlement.Result, err error) resultResponse {
	out := resultResponse{
		Action:    string(res.Action),
		Status:    string(res.Status),
		ErrorKind: string(res.ErrorKind),
		TxHash:    res.TxHash,
		Attempts:  res.Attempts,
	}
	if !res.EscrowID.IsZero() {
		out.EscrowID = res.EscrowID.String()
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

// statusFor maps an orchestrated result onto an HTTP status. A submitted
// result is accepted, not failed.
func statusFor(res settlement.Result, err error) int {
	switch res.Status {
	case settlement.StatusConfirmed:
		return http.StatusOK
	case settlement.StatusSubmitted:
		return http.StatusAccepted
	}
	_, class := settlement.Classify(err)
	switch class {
	case settlement.ClassEncoding:
		return http.StatusBadRequest
	case settlement.ClassAuthorization:
		return http.StatusForbidden
	case settlement.ClassState:
		return http.StatusConflict
	case settlement.ClassTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
