// Package submit orchestrates building, identifier allocation, signing and
// submission of one transaction at a time.
package submit

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	werrors "walletkit/core/errors"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/transfer"
)

// State is a submission lifecycle stage.
type State string

const (
	StateBuilding    State = "building"
	StateIDAllocated State = "id_allocated"
	StateSubmitting  State = "submitting"
	StateConfirmed   State = "confirmed"
	StateFailed      State = "failed"
)

// Sender delivers a signed envelope to the network. Implementations go
// through the resilience layer.
type Sender interface {
	SendEnvelope(ctx context.Context, env *transfer.SignedEnvelope) error
}

// Allocator hands out composite ids.
type Allocator interface {
	Next(ctx context.Context, account string) (ids.CompositeID, error)
}

// Signer signs envelope digests with the account key.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
}

// Observer receives submission outcomes.
type Observer interface {
	ObserveSubmission(variant string, state State, elapsed time.Duration)
}

// AccountState is the caller supplied on-chain view of the account.
type AccountState struct {
	Seqno   uint32
	Balance *big.Int
}

// Request is one submission.
type Request struct {
	Account transfer.Account
	State   AccountState
	Signer  Signer
	Intents []Intent
}

// Result reports the outcome. Err is set when State is StateFailed.
type Result struct {
	ID          string               `json:"id"`
	State       State                `json:"state"`
	Variant     string               `json:"variant"`
	Transitions []State              `json:"transitions"`
	CompositeID *ids.CompositeID     `json:"composite_id,omitempty"`
	Seqno       uint32               `json:"seqno"`
	MessageHash string               `json:"message_hash,omitempty"`
	Offsets     int                  `json:"timestamp_offsets_tried,omitempty"`
	Payload     *transfer.Payload    `json:"-"`
	Error       *werrors.Description `json:"error,omitempty"`
	Err         error                `json:"-"`
	SubmittedAt time.Time            `json:"submitted_at"`
}

func (r *Result) enter(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

func (r *Result) fail(err error) *Result {
	r.enter(StateFailed)
	r.Err = err
	d := werrors.Describe(err)
	r.Error = &d
	return r
}

// Submitter runs the Building → IdAllocated → Submitting → Confirmed|Failed
// state machine. It returns once the network accepts the envelope.
type Submitter struct {
	builder    *transfer.Builder
	allocator  Allocator
	sender     Sender
	now        func() time.Time
	logger     *slog.Logger
	observer   Observer
	haircutBps int
	offsets    []time.Duration
}

// Option configures a Submitter.
type Option func(*Submitter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Submitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Submitter) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Submitter) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEstimateHaircut sets the extra margin applied to confirmed estimates.
func WithEstimateHaircut(bps int) Option {
	return func(s *Submitter) {
		if bps >= 0 {
			s.haircutBps = bps
		}
	}
}

// WithTimestampOffsets overrides the high-throughput created_at offsets.
func WithTimestampOffsets(offsets []time.Duration) Option {
	return func(s *Submitter) {
		if len(offsets) > 0 {
			s.offsets = append([]time.Duration(nil), offsets...)
		}
	}
}

// New constructs a submitter.
func New(builder *transfer.Builder, allocator Allocator, sender Sender, opts ...Option) (*Submitter, error) {
	if builder == nil {
		return nil, fmt.Errorf("submit: builder required")
	}
	if allocator == nil {
		return nil, fmt.Errorf("submit: allocator required")
	}
	if sender == nil {
		return nil, fmt.Errorf("submit: sender required")
	}
	s := &Submitter{
		builder:    builder,
		allocator:  allocator,
		sender:     sender,
		now:        time.Now,
		logger:     slog.Default(),
		haircutBps: quote.DefaultEstimateHaircutBps,
		offsets:    transfer.TimestampOffsets,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Submit builds every intent into one envelope and submits it. The returned
// error mirrors Result.Err.
func (s *Submitter) Submit(ctx context.Context, req Request) (*Result, error) {
	started := s.now()
	res := &Result{ID: uuid.NewString(), Variant: req.Account.Variant.String(), SubmittedAt: started}
	res.enter(StateBuilding)

	payload, err := s.build(req)
	if err != nil {
		return s.finish(res, started, err)
	}
	res.Payload = payload
	return s.submitPayload(ctx, req, payload, res, started)
}

// SubmitBatch splits intents into envelopes no larger than the variant
// capacity and submits them in order, stopping at the first failure.
func (s *Submitter) SubmitBatch(ctx context.Context, req Request) ([]*Result, error) {
	limit := req.Account.Variant.MaxMessages()
	if limit <= 0 {
		return nil, werrors.Validation("unsupported account variant %s", req.Account.Variant)
	}
	var results []*Result
	state := req.State
	for start := 0; start < len(req.Intents); start += limit {
		end := start + limit
		if end > len(req.Intents) {
			end = len(req.Intents)
		}
		chunk := req
		chunk.State = state
		chunk.Intents = req.Intents[start:end]
		res, err := s.Submit(ctx, chunk)
		results = append(results, res)
		if err != nil {
			return results, err
		}
		state.Seqno++
		if state.Balance != nil && res.Payload != nil {
			state.Balance = new(big.Int).Sub(state.Balance, res.Payload.Cost())
		}
	}
	return results, nil
}

func (s *Submitter) build(req Request) (*transfer.Payload, error) {
	if err := req.Account.Validate(); err != nil {
		return nil, err
	}
	if req.Signer == nil {
		return nil, werrors.Validation("signer required")
	}
	if len(req.Intents) == 0 {
		return nil, werrors.Validation("nothing to submit")
	}
	now := s.now()
	parts := make([]*transfer.Payload, 0, len(req.Intents))
	for _, intent := range req.Intents {
		if intent == nil {
			return nil, werrors.Validation("nil intent")
		}
		p, err := intent.build(s, req.Account, now)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	payload := parts[0]
	if len(parts) > 1 {
		var err error
		if payload, err = transfer.Merge(parts...); err != nil {
			return nil, err
		}
	}
	if req.State.Balance != nil && req.State.Balance.Cmp(payload.Cost()) < 0 {
		return nil, werrors.InsufficientFunds(fmt.Sprintf("balance %s is below the required %s", req.State.Balance, payload.Cost()))
	}
	return payload, nil
}

func (s *Submitter) submitPayload(ctx context.Context, req Request, payload *transfer.Payload, res *Result, started time.Time) (*Result, error) {
	acct := req.Account
	if !acct.Variant.NeedsCompositeID() {
		res.Seqno = req.State.Seqno
		env, err := s.builder.Envelope(acct, payload, transfer.EnvelopeParams{Seqno: req.State.Seqno})
		if err != nil {
			return s.finish(res, started, err)
		}
		res.enter(StateSubmitting)
		return s.finish(res, started, s.sign(ctx, req.Signer, env, res))
	}

	id, err := s.allocator.Next(ctx, acct.Address.Raw())
	if err != nil {
		return s.finish(res, started, err)
	}
	res.CompositeID = &id
	res.enter(StateIDAllocated)
	res.enter(StateSubmitting)

	// The same composite id protects every rebuilt envelope; only created_at
	// moves back when the network rejects the timestamp window.
	var last error
	for _, offset := range s.offsets {
		env, err := s.builder.Envelope(acct, payload, transfer.EnvelopeParams{
			QueryID:   id,
			CreatedAt: s.now().Add(-offset),
		})
		if err != nil {
			return s.finish(res, started, err)
		}
		res.Offsets++
		last = s.sign(ctx, req.Signer, env, res)
		if last == nil || werrors.CategoryOf(last) != werrors.CategoryRejected {
			break
		}
		s.logger.Warn("envelope rejected, retrying with an earlier timestamp",
			slog.String("submission", res.ID),
			slog.String("composite_id", id.String()),
			slog.Duration("offset", offset),
			slog.Any("error", last))
	}
	return s.finish(res, started, last)
}

func (s *Submitter) sign(ctx context.Context, signer Signer, env *transfer.UnsignedEnvelope, res *Result) error {
	sig, err := signer.Sign(env.SigningHash())
	if err != nil {
		return fmt.Errorf("sign envelope: %w", err)
	}
	signed, err := env.Seal(sig)
	if err != nil {
		return err
	}
	res.MessageHash = signed.Hash()
	return s.sender.SendEnvelope(ctx, signed)
}

func (s *Submitter) finish(res *Result, started time.Time, err error) (*Result, error) {
	elapsed := s.now().Sub(started)
	if err != nil {
		res.fail(err)
		s.logger.Error("submission failed",
			slog.String("submission", res.ID),
			slog.String("variant", res.Variant),
			slog.String("category", string(werrors.CategoryOf(err))),
			slog.Any("error", err))
	} else {
		res.enter(StateConfirmed)
		s.logger.Info("submission accepted",
			slog.String("submission", res.ID),
			slog.String("variant", res.Variant),
			slog.String("message_hash", res.MessageHash))
	}
	if s.observer != nil {
		s.observer.ObserveSubmission(res.Variant, res.State, elapsed)
	}
	return res, res.Err
}

// IsRetryable reports whether a failed submission may be restarted from
// Building with the same intent.
func IsRetryable(err error) bool {
	var e *werrors.Error
	if stderrors.As(err, &e) {
		return e.Category.Retryable() || e.Category == werrors.CategoryCircuitOpen
	}
	return false
}
