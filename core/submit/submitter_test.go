package submit

import (
	"context"
	"crypto/ed25519"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"walletkit/core/address"
	werrors "walletkit/core/errors"
	"walletkit/core/fees"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/transfer"
	"walletkit/core/wallet"
	"walletkit/storage"
)

var now = time.Unix(1_700_000_000, 0)

type recordingSender struct {
	mu   sync.Mutex
	sent []*transfer.SignedEnvelope
	errs []error
}

func (r *recordingSender) SendEnvelope(_ context.Context, env *transfer.SignedEnvelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
	if len(r.errs) > 0 {
		err := r.errs[0]
		r.errs = r.errs[1:]
		return err
	}
	return nil
}

type edSigner struct {
	key     ed25519.PrivateKey
	digests [][]byte
}

func (s *edSigner) Sign(digest []byte) ([]byte, error) {
	s.digests = append(s.digests, append([]byte(nil), digest...))
	return ed25519.Sign(s.key, digest), nil
}

type states struct {
	mu  sync.Mutex
	got []State
}

func (s *states) ObserveSubmission(_ string, st State, _ time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, st)
}

func addr(b byte) *address.Address {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return address.New(0, h)
}

type fixture struct {
	submitter *Submitter
	sender    *recordingSender
	signer    *edSigner
	pub       ed25519.PublicKey
	observer  *states
}

func newFixture(t *testing.T, sendErrs ...error) *fixture {
	t.Helper()
	clock := func() time.Time { return now }
	builder, err := transfer.NewBuilder(fees.Default(), transfer.WithClock(clock))
	require.NoError(t, err)
	alloc, err := ids.NewAllocator(storage.NewCursorStore(storage.NewMemDB()))
	require.NoError(t, err)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	f := &fixture{
		sender:   &recordingSender{errs: sendErrs},
		signer:   &edSigner{key: priv},
		pub:      pub,
		observer: &states{},
	}
	f.submitter, err = New(builder, alloc, f.sender, WithClock(clock), WithObserver(f.observer))
	require.NoError(t, err)
	return f
}

func tons(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000)) }

func (f *fixture) request(v wallet.Variant, intents ...Intent) Request {
	return Request{
		Account: transfer.Account{Address: addr(0xaa), Variant: v},
		State:   AccountState{Seqno: 3, Balance: tons(100)},
		Signer:  f.signer,
		Intents: intents,
	}
}

func send(amount *big.Int) Intent {
	return ValueTransfer{Destination: addr(0xbb), Amount: amount, Comment: "thanks"}
}

func TestStandardSubmissionConfirmed(t *testing.T) {
	f := newFixture(t)
	res, err := f.submitter.Submit(context.Background(), f.request(wallet.StandardV4, send(tons(1))))
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, res.State)
	require.Equal(t, []State{StateBuilding, StateSubmitting, StateConfirmed}, res.Transitions)
	require.Equal(t, uint32(3), res.Seqno)
	require.Nil(t, res.CompositeID)
	require.NotEmpty(t, res.ID)
	require.Len(t, f.sender.sent, 1)
	require.Equal(t, f.sender.sent[0].Hash(), res.MessageHash)

	// the signature leads the external body and verifies against the digest
	body := f.sender.sent[0].Message.Refs()[0]
	sig := body.Data()[:ed25519.SignatureSize]
	require.Len(t, f.signer.digests, 1)
	require.True(t, ed25519.Verify(f.pub, f.signer.digests[0], sig))
	require.Equal(t, []State{StateConfirmed}, f.observer.got)
}

func TestHighThroughputAllocatesIDs(t *testing.T) {
	f := newFixture(t)
	first, err := f.submitter.Submit(context.Background(), f.request(wallet.HighThroughput, send(tons(1))))
	require.NoError(t, err)
	second, err := f.submitter.Submit(context.Background(), f.request(wallet.HighThroughput, send(tons(1))))
	require.NoError(t, err)

	require.Equal(t, []State{StateBuilding, StateIDAllocated, StateSubmitting, StateConfirmed}, first.Transitions)
	require.Equal(t, ids.CompositeID{Window: 0, Slot: 0}, *first.CompositeID)
	require.Equal(t, ids.CompositeID{Window: 0, Slot: 1}, *second.CompositeID)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, 1, first.Offsets)
}

func TestRejectedTimestampRetriesWithSameID(t *testing.T) {
	rejected := werrors.Rejected("created_at out of window", nil)
	f := newFixture(t, rejected, rejected)
	res, err := f.submitter.Submit(context.Background(), f.request(wallet.HighThroughput, send(tons(1))))
	require.NoError(t, err)
	require.Equal(t, 3, res.Offsets)
	require.Len(t, f.sender.sent, 3)
	require.NotEqual(t, f.sender.sent[0].Hash(), f.sender.sent[1].Hash())
	require.Equal(t, ids.CompositeID{}, *res.CompositeID)

	// only one id was consumed by the three attempts
	next, err := f.submitter.Submit(context.Background(), f.request(wallet.HighThroughput, send(tons(1))))
	require.NoError(t, err)
	require.Equal(t, ids.CompositeID{Window: 0, Slot: 1}, *next.CompositeID)
}

func TestRejectedOnEveryOffsetFails(t *testing.T) {
	r := werrors.Rejected("created_at out of window", nil)
	f := newFixture(t, r, r, r, r, r)
	res, err := f.submitter.Submit(context.Background(), f.request(wallet.HighThroughput, send(tons(1))))
	require.Error(t, err)
	require.True(t, stderrors.Is(err, werrors.ErrRejected))
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, len(transfer.TimestampOffsets), res.Offsets)
	require.Equal(t, werrors.CategoryRejected, res.Error.Category)
}

func TestInsufficientBalanceFailsWhileBuilding(t *testing.T) {
	f := newFixture(t)
	req := f.request(wallet.StandardV3, send(tons(1)))
	req.State.Balance = big.NewInt(500_000_000)
	res, err := f.submitter.Submit(context.Background(), req)
	require.True(t, stderrors.Is(err, werrors.ErrInsufficientFunds))
	require.Equal(t, []State{StateBuilding, StateFailed}, res.Transitions)
	require.Equal(t, "check balance", res.Error.Remedy)
	require.Empty(t, f.sender.sent)
}

func TestInvalidInputFailsFast(t *testing.T) {
	f := newFixture(t)
	_, err := f.submitter.Submit(context.Background(), f.request(wallet.StandardV3, send(big.NewInt(0))))
	require.True(t, stderrors.Is(err, werrors.ErrValidation))
	_, err = f.submitter.Submit(context.Background(), f.request(wallet.StandardV3))
	require.True(t, stderrors.Is(err, werrors.ErrValidation))
	req := f.request(wallet.StandardV3, send(tons(1)))
	req.Signer = nil
	_, err = f.submitter.Submit(context.Background(), req)
	require.True(t, stderrors.Is(err, werrors.ErrValidation))
	require.Empty(t, f.sender.sent)
}

func swapQuote(estimate bool, validUntil time.Time) *quote.Quote {
	return &quote.Quote{
		ProviderID:   "dedust",
		Source:       quote.SourceLive,
		SourceAsset:  quote.Asset{ID: quote.NativeAssetID, Symbol: "TON", Decimals: 9},
		TargetAsset:  quote.Asset{ID: addr(0x0e).String(), Symbol: "USDT", Decimals: 6},
		InputAmount:  tons(1),
		OutputAmount: big.NewInt(5_000_000),
		MinOutput:    big.NewInt(4_950_000),
		FeeEstimate:  big.NewInt(0),
		ValidUntil:   validUntil,
		IsEstimate:   estimate,
		Route:        quote.Route{Pool: addr(0x0d).String(), Vault: addr(0x0c).String()},
	}
}

func TestSwapQuoteContracts(t *testing.T) {
	f := newFixture(t)
	live := swapQuote(false, now.Add(30*time.Second))
	res, err := f.submitter.Submit(context.Background(), f.request(wallet.StandardV4, Swap{Protocol: transfer.ProtocolDedust, Quote: live}))
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, res.State)
	require.Equal(t, fees.OpSwapNativeIn, res.Payload.Op)

	expired := swapQuote(false, now)
	_, err = f.submitter.Submit(context.Background(), f.request(wallet.StandardV4, Swap{Protocol: transfer.ProtocolDedust, Quote: expired}))
	require.True(t, stderrors.Is(err, werrors.ErrValidation))

	estimate := swapQuote(true, now.Add(30*time.Second))
	_, err = f.submitter.Submit(context.Background(), f.request(wallet.StandardV4, Swap{Protocol: transfer.ProtocolDedust, Quote: estimate}))
	require.True(t, stderrors.Is(err, werrors.ErrValidation))

	res, err = f.submitter.Submit(context.Background(), f.request(wallet.StandardV4, Swap{Protocol: transfer.ProtocolDedust, Quote: estimate, ConfirmEstimate: true}))
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, res.State)
	require.Equal(t, "4950000", estimate.MinOutput.String(), "caller's quote must not be mutated")
}

func TestTransientSendFailureIsRetryable(t *testing.T) {
	f := newFixture(t, werrors.Transient("", stderrors.New("connection reset")))
	res, err := f.submitter.Submit(context.Background(), f.request(wallet.StandardV5, send(tons(1))))
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.True(t, IsRetryable(err))
	require.False(t, IsRetryable(werrors.InsufficientFunds("x")))
	require.Equal(t, []State{StateFailed}, f.observer.got)
}

func TestSubmitBatchSplitsAtCapacity(t *testing.T) {
	f := newFixture(t)
	intents := make([]Intent, 300)
	for i := range intents {
		intents[i] = send(big.NewInt(int64(i + 1)))
	}
	results, err := f.submitter.SubmitBatch(context.Background(), f.request(wallet.HighThroughput, intents...))
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Len(t, results[0].Payload.Messages, 254)
	require.Len(t, results[1].Payload.Messages, 46)
	require.NotEqual(t, *results[0].CompositeID, *results[1].CompositeID)
	require.NotEqual(t, results[0].MessageHash, results[1].MessageHash)
}
