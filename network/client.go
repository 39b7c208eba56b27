// Package network talks to the blockchain's HTTP API through the resilience
// layer: envelope submission, account state and recent transactions.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"walletkit/core/address"
	werrors "walletkit/core/errors"
	"walletkit/core/transfer"
	"walletkit/resilience"
)

const maxResponseBytes = 8 << 20

// Config describes the node endpoints.
type Config struct {
	Endpoints    []string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
}

// Client is the node HTTP client. Every call walks the configured endpoints
// through a resilience.Failover.
type Client struct {
	failover *resilience.Failover
	http     *http.Client
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient builds a client over caller.
func NewClient(caller *resilience.Caller, cfg Config, opts ...Option) (*Client, error) {
	failover, err := resilience.NewFailover(caller, "node", cfg.Endpoints)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	var transport http.RoundTripper = otelhttp.NewTransport(http.DefaultTransport)
	if strings.TrimSpace(cfg.APIKey) != "" {
		transport = NewStaticTokenTransport(transport, cfg.APIKeyHeader, cfg.APIKey)
	}
	c := &Client{
		failover: failover,
		http:     &http.Client{Timeout: timeout, Transport: transport},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Preferred is the endpoint the next call starts with.
func (c *Client) Preferred() string { return c.failover.Preferred() }

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
	Code   int             `json:"code"`
}

type sendRequest struct {
	Address string `json:"address"`
	Value   string `json:"value"`
	BOC     string `json:"boc"`
}

// SendEnvelope submits a signed external message. A refusal by the node is a
// Rejected error and is not retried against other endpoints.
func (c *Client) SendEnvelope(ctx context.Context, env *transfer.SignedEnvelope) error {
	if env == nil {
		return werrors.Validation("envelope required")
	}
	body, err := json.Marshal(sendRequest{
		Address: env.Destination.String(),
		Value:   env.Value.String(),
		BOC:     env.Base64(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	err = c.failover.Do(ctx, "/sendBoc", func(ctx context.Context, target string) error {
		return c.do(ctx, http.MethodPost, target, body, nil)
	}, resilience.WithMaxAttempts(3))
	if err != nil {
		return err
	}
	c.logger.Info("envelope accepted",
		slog.String("account", env.Destination.String()),
		slog.String("message_hash", env.Hash()))
	return nil
}

// AccountState is the wallet view the submitter needs.
type AccountState struct {
	Balance *big.Int
	Seqno   uint32
	Active  bool
}

type walletInformation struct {
	Wallet       bool   `json:"wallet"`
	Balance      string `json:"balance"`
	AccountState string `json:"account_state"`
	Seqno        uint32 `json:"seqno"`
}

// AccountState fetches balance and sequence number.
func (c *Client) AccountState(ctx context.Context, addr *address.Address) (*AccountState, error) {
	if addr == nil {
		return nil, werrors.Validation("address required")
	}
	path := "/getWalletInformation?" + url.Values{"address": {addr.String()}}.Encode()
	var info walletInformation
	err := c.failover.Do(ctx, path, func(ctx context.Context, target string) error {
		return c.do(ctx, http.MethodGet, target, nil, &info)
	})
	if err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(info.Balance), 10)
	if !ok || balance.Sign() < 0 {
		return nil, fmt.Errorf("decode wallet information: invalid balance %q", info.Balance)
	}
	return &AccountState{Balance: balance, Seqno: info.Seqno, Active: info.AccountState == "active"}, nil
}

// RawMessage is one message of a transaction as returned by the node.
type RawMessage struct {
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Value       string          `json:"value"`
	Comment     string          `json:"message"`
	Data        *RawMessageData `json:"msg_data,omitempty"`
}

// RawMessageData carries the message body as a base64 bag of cells.
type RawMessageData struct {
	Type string `json:"@type"`
	Body string `json:"body"`
}

// RawTransaction is the node's transaction record.
type RawTransaction struct {
	Time   int64        `json:"utime"`
	Fee    string       `json:"fee"`
	InMsg  *RawMessage  `json:"in_msg"`
	OutMsg []RawMessage `json:"out_msgs"`
	ID     struct {
		LT   string `json:"lt"`
		Hash string `json:"hash"`
	} `json:"transaction_id"`
}

// Transactions returns the most recent transactions of addr.
func (c *Client) Transactions(ctx context.Context, addr *address.Address, limit int) ([]RawTransaction, error) {
	if addr == nil {
		return nil, werrors.Validation("address required")
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := url.Values{"address": {addr.String()}, "limit": {strconv.Itoa(limit)}}
	var txs []RawTransaction
	err := c.failover.Do(ctx, "/getTransactions?"+q.Encode(), func(ctx context.Context, target string) error {
		return c.do(ctx, http.MethodGet, target, nil, &txs)
	})
	if err != nil {
		return nil, err
	}
	return txs, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var envelope apiResponse
	decodeErr := json.Unmarshal(raw, &envelope)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if decodeErr == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &resilience.StatusError{Code: resp.StatusCode, Body: msg, RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !envelope.OK {
		code := envelope.Code
		if code == 0 {
			code = http.StatusBadRequest
		}
		if code == http.StatusTooManyRequests || code >= 500 {
			return &resilience.StatusError{Code: code, Body: envelope.Error}
		}
		return werrors.Rejected(strings.TrimSpace(envelope.Error), nil)
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func retryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
