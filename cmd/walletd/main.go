package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"walletkit/cmd/internal/passphrase"
	"walletkit/core/address"
	"walletkit/core/fees"
	"walletkit/core/ids"
	"walletkit/core/quote"
	"walletkit/core/quote/providers"
	"walletkit/core/schedule"
	"walletkit/core/submit"
	"walletkit/core/transfer"
	"walletkit/core/units"
	"walletkit/core/wallet"
	"walletkit/crypto"
	"walletkit/explorer"
	"walletkit/network"
	"walletkit/observability"
	"walletkit/observability/logging"
	telemetry "walletkit/observability/otel"
	"walletkit/resilience"
	"walletkit/services/walletd/config"
	"walletkit/services/walletd/server"
	"walletkit/storage"
)

var version = "dev"

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/walletd/config.yaml", "path to walletd configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("walletd: load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("WALLETD_ENV"))
	logger := logging.Setup("walletd", env,
		logging.WithLevel(cfg.Logging.Level),
		logging.WithFile(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups))

	telemetryCfg, err := telemetry.FromEnv("walletd", version, env, os.Getenv)
	if err != nil {
		logger.Warn("telemetry environment", slog.Any("error", err))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("walletd: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewWalletMetrics(registry)
	if err != nil {
		log.Fatalf("walletd: metrics: %v", err)
	}

	db, err := storage.Open(storage.Backend(cfg.Storage.Backend), cfg.Storage.Path)
	if err != nil {
		log.Fatalf("walletd: open storage: %v", err)
	}
	defer db.Close()

	allocator, err := ids.NewAllocator(storage.NewCursorStore(db), ids.WithLogger(logger), ids.WithObserver(metrics))
	if err != nil {
		log.Fatalf("walletd: id allocator: %v", err)
	}

	caller := resilience.NewCaller(resilience.Config{
		Interval: cfg.Resilience.Interval.Duration,
		Policy: resilience.Policy{
			MaxAttempts:    cfg.Resilience.MaxAttempts,
			BaseDelay:      cfg.Resilience.BaseDelay.Duration,
			MaxDelay:       cfg.Resilience.MaxDelay.Duration,
			Jitter:         cfg.Resilience.BaseDelay.Duration / 2,
			AttemptTimeout: cfg.Resilience.AttemptTimeout.Duration,
		},
		Breaker: resilience.BreakerConfig{
			Threshold:    cfg.Resilience.BreakerThreshold,
			ResetTimeout: cfg.Resilience.BreakerReset.Duration,
		},
	},
		resilience.WithLogger(logger),
		resilience.WithObserver(metrics),
		resilience.WithTracer(otel.Tracer("walletkit/resilience")))
	defer caller.Close()

	node, err := network.NewClient(caller, network.Config{
		Endpoints:    cfg.Network.Endpoints,
		APIKey:       cfg.Network.APIKey,
		APIKeyHeader: cfg.Network.APIKeyHeader,
		Timeout:      cfg.Network.Timeout.Duration,
	}, network.WithLogger(logger))
	if err != nil {
		log.Fatalf("walletd: node client: %v", err)
	}
	logger.Info("node client configured",
		slog.String("endpoint", node.Preferred()),
		logging.MaskField("api_key", cfg.Network.APIKey))

	providerConfigs := make([]providers.Config, 0, len(cfg.Providers))
	protocols := make(map[string]transfer.Protocol, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providerConfigs = append(providerConfigs, providers.Config{
			Name:        p.Name,
			Type:        p.Type,
			Endpoint:    p.Endpoint,
			FeeBps:      p.FeeBps,
			NativeProxy: p.NativeProxy,
		})
		if protocol, err := transfer.ParseProtocol(p.Type); err == nil {
			protocols[p.Name] = protocol
		}
	}
	quoteProviders, err := providers.NewRegistry().BuildAll(providerConfigs)
	if err != nil {
		log.Fatalf("walletd: quote providers: %v", err)
	}
	static, err := quote.NewStaticPrices(cfg.StaticPrices)
	if err != nil {
		log.Fatalf("walletd: static prices: %v", err)
	}
	aggregator, err := quote.NewAggregator(caller, quoteProviders,
		quote.WithLogger(logger),
		quote.WithObserver(metrics),
		quote.WithStaticPrices(static),
		quote.WithSlippage(cfg.Quote.SlippageBps),
		quote.WithEstimateHaircut(cfg.Quote.EstimateHaircut),
		quote.WithValidity(cfg.Quote.Validity.Duration))
	if err != nil {
		log.Fatalf("walletd: quote aggregator: %v", err)
	}

	feePolicy := fees.Default()
	if path := strings.TrimSpace(cfg.FeeSchedule); path != "" {
		feePolicy, err = fees.LoadSchedule(path)
		if err != nil {
			log.Fatalf("walletd: fee schedule: %v", err)
		}
	}
	builder, err := transfer.NewBuilder(feePolicy, transfer.WithLogger(logger))
	if err != nil {
		log.Fatalf("walletd: transfer builder: %v", err)
	}
	submitter, err := submit.New(builder, allocator, node,
		submit.WithLogger(logger),
		submit.WithObserver(metrics),
		submit.WithEstimateHaircut(cfg.Quote.EstimateHaircut))
	if err != nil {
		log.Fatalf("walletd: submitter: %v", err)
	}

	catalog := assetCatalog(cfg.Assets)
	watched, err := watchRequests(cfg.Quote.Watch, catalog)
	if err != nil {
		log.Fatalf("walletd: quote watch list: %v", err)
	}

	accounts, err := loadAccounts(cfg, catalog)
	if err != nil {
		log.Fatalf("walletd: accounts: %v", err)
	}

	authenticator, err := server.NewAuthenticator(server.AuthConfig{
		BearerToken: cfg.Auth.BearerToken,
		JWTSecret:   cfg.Auth.JWTSecret,
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		ClockSkew:   cfg.Auth.ClockSkew.Duration,
	}, logger)
	if err != nil {
		log.Fatalf("walletd: configure auth: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Quotes: aggregator, Submitter: submitter, Node: node, IDs: allocator}
	if len(watched) > 0 {
		refresher, err := quote.NewRefresher(aggregator, schedule.SystemClock{}, cfg.Quote.RefreshInterval.Duration, watched, logger)
		if err != nil {
			log.Fatalf("walletd: quote refresher: %v", err)
		}
		refresher.Start(ctx)
		defer refresher.Stop()
		deps.Snapshots = refresher
	}

	srv, err := server.New(server.Config{
		ListenAddress:  cfg.ListenAddress,
		Assets:         cfg.Assets,
		Accounts:       accounts,
		Protocols:      protocols,
		SlippageBps:    cfg.Quote.SlippageBps,
		RateLimit:      server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		Auth:           authenticator,
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:         logger,
	}, deps)
	if err != nil {
		log.Fatalf("walletd: server: %v", err)
	}

	logger.Info("walletd starting", slog.String("version", version), slog.Int("accounts", len(accounts)))
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("walletd: server error: %v", err)
	}
}

// assetCatalog indexes the native coin and configured tokens by upper-case
// symbol.
func assetCatalog(assets []quote.Asset) map[string]quote.Asset {
	out := map[string]quote.Asset{strings.ToUpper(explorer.Native.Symbol): explorer.Native}
	for _, a := range assets {
		out[strings.ToUpper(a.Symbol)] = a
	}
	return out
}

func watchRequests(watch []config.Watch, catalog map[string]quote.Asset) ([]quote.Request, error) {
	out := make([]quote.Request, 0, len(watch))
	for _, w := range watch {
		from := catalog[strings.ToUpper(w.From)]
		to := catalog[strings.ToUpper(w.To)]
		amount, err := units.ToUnits(w.Amount, from.Decimals)
		if err != nil {
			return nil, err
		}
		out = append(out, quote.Request{From: from, To: to, Amount: amount})
	}
	return out, nil
}

func loadAccounts(cfg config.Config, catalog map[string]quote.Asset) ([]server.Account, error) {
	source := passphrase.NewSource(cfg.Keystore.PassphraseEnv, cfg.Keystore.PassphraseFile)
	pass, err := source.Get()
	if err != nil {
		return nil, err
	}
	out := make([]server.Account, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		addr, err := address.Parse(acct.Address)
		if err != nil {
			return nil, err
		}
		variant, err := wallet.ParseVariant(acct.Variant)
		if err != nil {
			return nil, err
		}
		key, err := crypto.LoadFromKeystore(acct.Keystore, pass)
		if err != nil {
			return nil, err
		}
		wallets := make(map[string]*address.Address, len(acct.TokenWallets))
		for symbol, raw := range acct.TokenWallets {
			symbol = strings.ToUpper(symbol)
			if _, ok := catalog[symbol]; !ok {
				continue
			}
			wallets[symbol], err = address.Parse(raw)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, server.Account{
			Account:      transfer.Account{Address: addr, Variant: variant, Subwallet: acct.Subwallet},
			Signer:       key,
			TokenWallets: wallets,
		})
	}
	return out, nil
}
