// Package server exposes the wallet pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"walletkit/core/address"
	werrors "walletkit/core/errors"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/submit"
	"walletkit/core/transfer"
	"walletkit/core/units"
	"walletkit/explorer"
	"walletkit/network"
)

// Quoter prices conversions.
type Quoter interface {
	BestQuote(ctx context.Context, req quote.Request) (*quote.Result, error)
}

// Snapshots serves quotes kept fresh in the background.
type Snapshots interface {
	Latest(pair string) (quote.Snapshot, bool)
}

// Submitter submits intents for a managed account.
type Submitter interface {
	SubmitBatch(ctx context.Context, req submit.Request) ([]*submit.Result, error)
}

// Node reads on-chain account data.
type Node interface {
	AccountState(ctx context.Context, addr *address.Address) (*network.AccountState, error)
	Transactions(ctx context.Context, addr *address.Address, limit int) ([]network.RawTransaction, error)
}

// IDs previews composite id allocation.
type IDs interface {
	HasNext(ctx context.Context, account string) (bool, error)
	Peek(ctx context.Context, account string) (ids.CompositeID, error)
}

// Metrics records API and wallet level measurements.
type Metrics interface {
	RequestObserver
	RecordTransfer(asset string)
	RecordBalance(account string, balance *big.Int)
}

// Account is a managed sending account and its key.
type Account struct {
	Account transfer.Account
	Signer  submit.Signer

	// TokenWallets maps an upper-case asset symbol to the account's token
	// sub-account.
	TokenWallets map[string]*address.Address
}

// Config wires the server.
type Config struct {
	ListenAddress  string
	Assets         []quote.Asset
	Accounts       []Account
	Protocols      map[string]transfer.Protocol
	SlippageBps    int
	HistoryLimit   int
	RateLimit      RateLimit
	Auth           *Authenticator
	Metrics        Metrics
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Deps are the pipeline components behind the routes.
type Deps struct {
	Quotes    Quoter
	Snapshots Snapshots
	Submitter Submitter
	Node      Node
	IDs       IDs
}

// Server serves the wallet API.
type Server struct {
	cfg      Config
	deps     Deps
	logger   *slog.Logger
	limiter  *RateLimiter
	assets   map[string]quote.Asset
	accounts map[string]*Account
}

// New validates the wiring and indexes assets and accounts.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Quotes == nil || deps.Submitter == nil || deps.Node == nil || deps.IDs == nil {
		return nil, fmt.Errorf("server: quoter, submitter, node and ids required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("server: authenticator required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		logger:   cfg.Logger,
		assets:   make(map[string]quote.Asset),
		accounts: make(map[string]*Account),
	}
	var observer RequestObserver
	if cfg.Metrics != nil {
		observer = cfg.Metrics
	}
	s.limiter = NewRateLimiter(cfg.RateLimit, observer)
	for _, a := range append([]quote.Asset{explorer.Native}, cfg.Assets...) {
		s.assets[strings.ToUpper(a.Symbol)] = a
		s.assets[strings.ToUpper(a.ID)] = a
	}
	for i := range cfg.Accounts {
		acct := cfg.Accounts[i]
		if acct.Account.Address == nil || acct.Signer == nil {
			return nil, fmt.Errorf("server: account %d requires address and signer", i)
		}
		s.accounts[acct.Account.Address.Raw()] = &acct
	}
	return s, nil
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsHandler != nil {
		r.Handle("/metrics", s.cfg.MetricsHandler)
	}
	r.Route("/v1", func(v chi.Router) {
		v.With(s.route("quotes")...).Get("/quotes", s.handleQuote)
		v.With(s.route("quotes.live")...).Get("/quotes/live", s.handleLiveQuote)
		v.With(append(s.route("transfers"), s.cfg.Auth.Require(ScopeTransfer))...).Post("/transfers", s.handleTransfers)
		v.With(append(s.route("swaps"), s.cfg.Auth.Require(ScopeSwap))...).Post("/swaps", s.handleSwap)
		v.With(s.route("accounts.ids")...).Get("/accounts/{address}/ids", s.handleIDs)
		v.With(s.route("accounts.history")...).Get("/accounts/{address}/history", s.handleHistory)
	})
	return r
}

func (s *Server) route(name string) []func(http.Handler) http.Handler {
	var observer RequestObserver
	if s.cfg.Metrics != nil {
		observer = s.cfg.Metrics
	}
	return []func(http.Handler) http.Handler{Observe(name, observer), s.limiter.Middleware(name)}
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           otelhttp.NewHandler(s.Handler(), "walletd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type quoteView struct {
	Provider       string      `json:"provider"`
	Source         string      `json:"source"`
	From           string      `json:"from"`
	To             string      `json:"to"`
	Input          string      `json:"input"`
	Output         string      `json:"output"`
	MinOutput      string      `json:"min_output"`
	InputUnits     string      `json:"input_units"`
	OutputUnits    string      `json:"output_units"`
	MinOutputUnits string      `json:"min_output_units"`
	PriceImpact    float64     `json:"price_impact"`
	Estimate       bool        `json:"estimate"`
	ExpiresIn      int         `json:"expires_in_seconds"`
	ValidUntil     time.Time   `json:"valid_until"`
	Route          quote.Route `json:"route"`
}

func viewQuote(q *quote.Quote, now time.Time) quoteView {
	return quoteView{
		Provider:       q.ProviderID,
		Source:         string(q.Source),
		From:           q.SourceAsset.String(),
		To:             q.TargetAsset.String(),
		Input:          units.FromUnits(q.InputAmount, q.SourceAsset.Decimals),
		Output:         units.FromUnits(q.OutputAmount, q.TargetAsset.Decimals),
		MinOutput:      units.FromUnits(q.MinOutput, q.TargetAsset.Decimals),
		InputUnits:     q.InputAmount.String(),
		OutputUnits:    q.OutputAmount.String(),
		MinOutputUnits: q.MinOutput.String(),
		PriceImpact:    q.PriceImpact,
		Estimate:       q.IsEstimate,
		ExpiresIn:      int(q.Remaining(now).Round(time.Second) / time.Second),
		ValidUntil:     q.ValidUntil,
		Route:          q.Route,
	}
}

type quoteResponse struct {
	Best     quoteView                      `json:"best"`
	Quotes   []quoteView                    `json:"quotes"`
	Failures map[string]werrors.Description `json:"failures,omitempty"`
}

func (s *Server) quoteRequest(from, to, amount, slippage string) (quote.Request, error) {
	src, err := s.asset(from)
	if err != nil {
		return quote.Request{}, err
	}
	dst, err := s.asset(to)
	if err != nil {
		return quote.Request{}, err
	}
	base, err := units.ToUnits(amount, src.Decimals)
	if err != nil {
		return quote.Request{}, err
	}
	req := quote.Request{From: src, To: dst, Amount: base, SlippageBps: s.cfg.SlippageBps}
	if slippage = strings.TrimSpace(slippage); slippage != "" {
		bps, err := strconv.Atoi(slippage)
		if err != nil {
			return quote.Request{}, werrors.Validation("slippage_bps must be an integer")
		}
		req.SlippageBps = bps
	}
	return req, nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := s.quoteRequest(q.Get("from"), q.Get("to"), q.Get("amount"), q.Get("slippage_bps"))
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Quotes.BestQuote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()
	out := quoteResponse{Best: viewQuote(res.Best, now)}
	for _, candidate := range res.All {
		out.Quotes = append(out.Quotes, viewQuote(candidate, now))
	}
	if len(res.Failures) > 0 {
		out.Failures = make(map[string]werrors.Description, len(res.Failures))
		for provider, ferr := range res.Failures {
			out.Failures[provider] = werrors.Describe(ferr)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLiveQuote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Snapshots == nil {
		writeError(w, werrors.NoQuote(fmt.Errorf("no pairs are watched")))
		return
	}
	q := r.URL.Query()
	src, err := s.asset(q.Get("from"))
	if err != nil {
		writeError(w, err)
		return
	}
	dst, err := s.asset(q.Get("to"))
	if err != nil {
		writeError(w, err)
		return
	}
	pair := quote.Request{From: src, To: dst}.Pair()
	snap, ok := s.deps.Snapshots.Latest(pair)
	if !ok {
		writeError(w, werrors.NoQuote(fmt.Errorf("pair %s is not refreshed", pair)))
		return
	}
	if snap.Quote == nil {
		writeError(w, snap.Err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"quote":      viewQuote(snap.Quote, time.Now()),
		"remaining":  int(snap.Remaining / time.Second),
		"updated_at": snap.UpdatedAt,
	})
}

type transferItem struct {
	Asset       string `json:"asset"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Comment     string `json:"comment"`
}

type transferRequest struct {
	Account   string         `json:"account"`
	Transfers []transferItem `json:"transfers"`
}

type submissionResponse struct {
	Quote   *quoteView           `json:"quote,omitempty"`
	Results []*submit.Result     `json:"results"`
	Error   *werrors.Description `json:"error,omitempty"`
}

func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	acct, err := s.account(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.Transfers) == 0 {
		writeError(w, werrors.Validation("at least one transfer required"))
		return
	}
	intents := make([]submit.Intent, 0, len(req.Transfers))
	symbols := make([]string, 0, len(req.Transfers))
	for i, item := range req.Transfers {
		intent, symbol, err := s.transferIntent(acct, item)
		if err != nil {
			writeError(w, fmt.Errorf("transfers[%d]: %w", i, err))
			return
		}
		intents = append(intents, intent)
		symbols = append(symbols, symbol)
	}
	results, err := s.submit(r.Context(), acct, intents)
	if err == nil {
		for _, symbol := range symbols {
			s.cfg.recordTransfer(symbol)
		}
	}
	writeSubmission(w, submissionResponse{Results: results}, err)
}

func (s *Server) transferIntent(acct *Account, item transferItem) (submit.Intent, string, error) {
	asset, err := s.asset(item.Asset)
	if err != nil {
		return nil, "", err
	}
	dest, err := address.Parse(item.Destination)
	if err != nil {
		return nil, "", err
	}
	if asset.Native() {
		amount, err := units.ToUnits(item.Amount, asset.Decimals)
		if err != nil {
			return nil, "", err
		}
		return submit.ValueTransfer{Destination: dest, Amount: amount, Comment: item.Comment}, asset.Symbol, nil
	}
	wallet, ok := acct.TokenWallets[strings.ToUpper(asset.Symbol)]
	if !ok {
		return nil, "", werrors.Validation("account has no %s token wallet", asset.Symbol)
	}
	return submit.TokenTransfer{
		TokenWallet: wallet,
		Destination: dest,
		Amount:      item.Amount,
		Decimals:    asset.Decimals,
		Comment:     item.Comment,
	}, asset.Symbol, nil
}

type swapRequest struct {
	Account         string `json:"account"`
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	SlippageBps     *int   `json:"slippage_bps,omitempty"`
	ConfirmEstimate bool   `json:"confirm_estimate"`
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	acct, err := s.account(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	slippage := ""
	if req.SlippageBps != nil {
		slippage = strconv.Itoa(*req.SlippageBps)
	}
	qreq, err := s.quoteRequest(req.From, req.To, req.Amount, slippage)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.deps.Quotes.BestQuote(r.Context(), qreq)
	if err != nil {
		writeError(w, err)
		return
	}
	best, protocol, err := s.executableQuote(res, req.ConfirmEstimate)
	if err != nil {
		writeError(w, err)
		return
	}
	var tokenWallet *address.Address
	if !qreq.From.Native() {
		var ok bool
		tokenWallet, ok = acct.TokenWallets[strings.ToUpper(qreq.From.Symbol)]
		if !ok {
			writeError(w, werrors.Validation("account has no %s token wallet", qreq.From.Symbol))
			return
		}
	}
	intent := submit.Swap{Protocol: protocol, Quote: best, TokenWallet: tokenWallet, ConfirmEstimate: req.ConfirmEstimate}
	results, err := s.submit(r.Context(), acct, []submit.Intent{intent})
	if err == nil {
		s.cfg.recordTransfer(qreq.From.Symbol)
	}
	view := viewQuote(best, time.Now())
	writeSubmission(w, submissionResponse{Quote: &view, Results: results}, err)
}

// executableQuote picks the highest quote from a provider the server can
// swap through. Executable quotes win over estimates; an estimate is only
// chosen when no executable quote exists, and the submitter refuses it unless
// confirmed.
func (s *Server) executableQuote(res *quote.Result, confirmEstimate bool) (*quote.Quote, transfer.Protocol, error) {
	quotes := res.All
	if len(quotes) == 0 && res.Best != nil {
		quotes = []*quote.Quote{res.Best}
	}
	var (
		estimate         *quote.Quote
		estimateProtocol transfer.Protocol
	)
	for _, q := range quotes {
		protocol, ok := s.cfg.Protocols[q.ProviderID]
		if !ok {
			continue
		}
		if q.Executable() {
			return q, protocol, nil
		}
		if estimate == nil {
			estimate, estimateProtocol = q, protocol
		}
	}
	if estimate == nil {
		provider := ""
		if res.Best != nil {
			provider = res.Best.ProviderID
		}
		return nil, "", werrors.Validation("provider %s cannot execute swaps", provider)
	}
	if confirmEstimate {
		s.logger.Warn("executing confirmed estimate quote",
			slog.String("provider", estimate.ProviderID),
			slog.String("pair", estimate.SourceAsset.ID+"->"+estimate.TargetAsset.ID))
	}
	return estimate, estimateProtocol, nil
}

// submit reads the current account state from the node and hands the
// intents to the submitter.
func (s *Server) submit(ctx context.Context, acct *Account, intents []submit.Intent) ([]*submit.Result, error) {
	state, err := s.deps.Node.AccountState(ctx, acct.Account.Address)
	if err != nil {
		return nil, err
	}
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordBalance(acct.Account.Address.Raw(), state.Balance)
	}
	results, err := s.deps.Submitter.SubmitBatch(ctx, submit.Request{
		Account: acct.Account,
		State:   submit.AccountState{Seqno: state.Seqno, Balance: state.Balance},
		Signer:  acct.Signer,
		Intents: intents,
	})
	for _, res := range results {
		if res == nil {
			continue
		}
		s.logger.Info("submission finished",
			slog.String("submission", res.ID),
			slog.String("account", acct.Account.Address.Raw()),
			slog.String("variant", res.Variant),
			slog.String("state", string(res.State)),
			slog.String("message_hash", res.MessageHash))
	}
	return results, err
}

type idsResponse struct {
	Account string           `json:"account"`
	HasNext bool             `json:"has_next"`
	Next    *ids.CompositeID `json:"next,omitempty"`
	Value   uint32           `json:"value,omitempty"`
}

func (s *Server) handleIDs(w http.ResponseWriter, r *http.Request) {
	owner, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	acct := owner.Raw()
	hasNext, err := s.deps.IDs.HasNext(r.Context(), acct)
	if err != nil {
		writeError(w, err)
		return
	}
	out := idsResponse{Account: acct, HasNext: hasNext}
	if hasNext {
		next, err := s.deps.IDs.Peek(r.Context(), acct)
		if err != nil {
			writeError(w, err)
			return
		}
		out.Next = &next
		out.Value = next.Value()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := address.Parse(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	limit := s.cfg.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, werrors.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	txs, err := s.deps.Node.Transactions(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	rows := explorer.FormatHistory(owner, txs, s.tokenAssets(owner))
	if rows == nil {
		rows = []explorer.Row{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": owner.Raw(), "rows": rows})
}

func (s *Server) tokenAssets(owner *address.Address) explorer.Assets {
	acct, ok := s.accounts[owner.Raw()]
	if !ok {
		return nil
	}
	byWallet := make(map[string]quote.Asset, len(acct.TokenWallets))
	for symbol, wallet := range acct.TokenWallets {
		if asset, ok := s.assets[symbol]; ok {
			byWallet[wallet.Raw()] = asset
		}
	}
	return explorer.NewAssets(byWallet)
}

func (s *Server) asset(key string) (quote.Asset, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return quote.Asset{}, werrors.Validation("asset required")
	}
	if a, ok := s.assets[key]; ok {
		return a, nil
	}
	return quote.Asset{}, werrors.Validation("unknown asset %q", key)
}

func (s *Server) account(raw string) (*Account, error) {
	addr, err := address.Parse(raw)
	if err != nil {
		return nil, err
	}
	acct, ok := s.accounts[addr.Raw()]
	if !ok {
		return nil, werrors.Validation("account %s is not managed by this service", addr.Raw())
	}
	return acct, nil
}

func (c Config) recordTransfer(symbol string) {
	if c.Metrics != nil {
		c.Metrics.RecordTransfer(symbol)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return werrors.Validation("invalid payload: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	d := werrors.Describe(err)
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
	writeJSON(w, statusFor(d.Category), d)
}

func writeSubmission(w http.ResponseWriter, resp submissionResponse, err error) {
	if resp.Results == nil {
		resp.Results = []*submit.Result{}
	}
	if err == nil {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	d := werrors.Describe(err)
	resp.Error = &d
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
	writeJSON(w, statusFor(d.Category), resp)
}

func statusFor(cat werrors.Category) int {
	switch cat {
	case werrors.CategoryValidation:
		return http.StatusBadRequest
	case werrors.CategoryInsufficientFunds, werrors.CategoryRejected:
		return http.StatusUnprocessableEntity
	case werrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case werrors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case werrors.CategoryTransientNetwork:
		return http.StatusBadGateway
	case werrors.CategoryCircuitOpen, werrors.CategoryNoQuote:
		return http.StatusServiceUnavailable
	case werrors.CategoryIDSpaceExhausted:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
