package network

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"walletkit/core/address"
	werrors "walletkit/core/errors"
	"walletkit/core/fees"
	"walletkit/core/transfer"
	"walletkit/core/wallet"
	"walletkit/resilience"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newCaller(t *testing.T) *resilience.Caller {
	t.Helper()
	c := resilience.NewCaller(resilience.Config{
		Policy:  resilience.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second},
		Breaker: resilience.BreakerConfig{Threshold: 10, ResetTimeout: time.Minute},
	}, resilience.WithSleep(noSleep))
	t.Cleanup(c.Close)
	return c
}

func reply(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testAddress(b byte) *address.Address {
	var h [32]byte
	for i := range h {
		h[i] = b
	}
	return address.New(0, h)
}

func signedEnvelope(t *testing.T) *transfer.SignedEnvelope {
	t.Helper()
	b, err := transfer.NewBuilder(fees.Default(), transfer.WithClock(func() time.Time { return time.Unix(1_700_000_000, 0) }))
	require.NoError(t, err)
	acct := transfer.Account{Address: testAddress(0xaa), Variant: wallet.StandardV4}
	p, err := b.BuildValueTransfer(acct, testAddress(0xbb), big.NewInt(1_000_000_000), "")
	require.NoError(t, err)
	env, err := b.Envelope(acct, p, transfer.EnvelopeParams{Seqno: 1})
	require.NoError(t, err)
	signed, err := env.Seal(make([]byte, transfer.SignatureSize))
	require.NoError(t, err)
	return signed
}

func TestSendEnvelopeFailsOverAndInjectsKey(t *testing.T) {
	var downCalls int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downCalls, 1)
		reply(w, http.StatusBadGateway, map[string]any{"ok": false, "error": "upstream"})
	}))
	defer down.Close()
	var got sendRequest
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sendBoc", r.URL.Path)
		require.Equal(t, "secret", r.Header.Get("X-API-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		reply(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]string{"@type": "ok"}})
	}))
	defer up.Close()

	c, err := NewClient(newCaller(t), Config{Endpoints: []string{down.URL, up.URL}, APIKey: "secret"})
	require.NoError(t, err)
	env := signedEnvelope(t)
	require.NoError(t, c.SendEnvelope(context.Background(), env))
	require.Equal(t, env.Base64(), got.BOC)
	require.Equal(t, int32(2), atomic.LoadInt32(&downCalls))
	require.Equal(t, up.URL, c.Preferred())
}

func TestSendEnvelopeRefusalIsRejected(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		reply(w, http.StatusOK, map[string]any{"ok": false, "code": 400, "error": "external message was not accepted"})
	}))
	defer srv.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("rejections must not fail over")
	}))
	defer other.Close()

	c, err := NewClient(newCaller(t), Config{Endpoints: []string{srv.URL, other.URL}})
	require.NoError(t, err)
	err = c.SendEnvelope(context.Background(), signedEnvelope(t))
	require.True(t, stderrors.Is(err, werrors.ErrRejected), "got %v", err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRateLimitedResponseIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		reply(w, http.StatusTooManyRequests, map[string]any{"ok": false, "error": "Ratelimit exceed"})
	}))
	defer srv.Close()

	c, err := NewClient(newCaller(t), Config{Endpoints: []string{srv.URL}})
	require.NoError(t, err)
	_, err = c.AccountState(context.Background(), testAddress(0x01))
	require.Error(t, err)
	require.Equal(t, werrors.CategoryRateLimit, werrors.CategoryOf(err))
}

func TestAccountStateAndTransactions(t *testing.T) {
	owner := testAddress(0x01)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, owner.String(), r.URL.Query().Get("address"))
		switch r.URL.Path {
		case "/getWalletInformation":
			reply(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{
				"wallet": true, "balance": "2500000000", "account_state": "active", "seqno": 7,
			}})
		case "/getTransactions":
			require.Equal(t, "5", r.URL.Query().Get("limit"))
			reply(w, http.StatusOK, map[string]any{"ok": true, "result": []map[string]any{{
				"utime":          1_700_000_000,
				"fee":            "1000",
				"in_msg":         map[string]string{"source": "EQsender", "destination": owner.String(), "value": "42", "message": "hi"},
				"transaction_id": map[string]string{"lt": "1", "hash": "abc"},
			}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewClient(newCaller(t), Config{Endpoints: []string{srv.URL}})
	require.NoError(t, err)
	st, err := c.AccountState(context.Background(), owner)
	require.NoError(t, err)
	require.Equal(t, "2500000000", st.Balance.String())
	require.Equal(t, uint32(7), st.Seqno)
	require.True(t, st.Active)

	txs, err := c.Transactions(context.Background(), owner, 5)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, "hi", txs[0].InMsg.Comment)
	require.Equal(t, "abc", txs[0].ID.Hash)
}

func TestAccountStateRejectsMalformedBalance(t *testing.T) {
	for _, balance := range []string{"n/a", "", "-5"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reply(w, http.StatusOK, map[string]any{"ok": true, "result": map[string]any{
				"wallet": true, "balance": balance, "account_state": "active", "seqno": 3,
			}})
		}))
		c, err := NewClient(newCaller(t), Config{Endpoints: []string{srv.URL}})
		require.NoError(t, err)
		st, err := c.AccountState(context.Background(), testAddress(0x01))
		srv.Close()
		require.Error(t, err, "balance %q", balance)
		require.Nil(t, st)
		require.Contains(t, err.Error(), "invalid balance")
		require.False(t, stderrors.Is(err, werrors.ErrInsufficientFunds))
	}
}

func TestStaticTokenTransportLeavesRequestUntouched(t *testing.T) {
	var seen string
	rt := NewStaticTokenTransport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusNoContent, Body: http.NoBody}, nil
	}), "Authorization", " Bearer t ")
	req := httptest.NewRequest(http.MethodGet, "http://node/x", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Bearer t", seen)
	require.Empty(t, req.Header.Get("Authorization"))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
