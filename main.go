package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"signal-core/internal/api"
	"signal-core/internal/cooldown"
	"signal-core/internal/events"
	"signal-core/internal/instruments"
	"signal-core/internal/market"
	"signal-core/internal/monitor"
	"signal-core/internal/order"
	"signal-core/internal/persistence"
	"signal-core/internal/reconciliation"
	"signal-core/internal/scanner"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	exfutusdt "signal-core/pkg/exchanges/binance/futures_usdt"
	exchange "signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
	marketbinance "signal-core/pkg/market/binance"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if _, err := logger.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	pipeline, found, err := config.LoadPipeline(cfg.PipelinePath)
	if err != nil {
		logger.Fatal("pipeline config invalid", zap.String("path", cfg.PipelinePath), zap.Error(err))
	}
	if !found {
		logger.Warn("pipeline config not found, using defaults", zap.String("path", cfg.PipelinePath))
	}
	symbols := pipeline.ActiveSymbols()
	if len(cfg.Symbols) > 0 {
		symbols = cfg.Symbols
	}

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	logger.Info("starting signal-core",
		zap.String("version", buildVersion),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("auto_execute", cfg.AutoExecute),
		zap.Strings("symbols", symbols),
		zap.Strings("timeframes", pipeline.Timeframes),
		zap.String("db_path", cfg.DBPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	var cooldowns cooldown.Store
	switch cfg.CooldownBackend {
	case "memory":
		cooldowns = cooldown.NewMemoryStore()
	default:
		cooldowns = cooldown.NewSQLStore(database)
	}

	// Market data
	var source market.Source
	if cfg.UseMockFeed {
		source = &market.MockSource{StartPrice: 100, Step: 0.01}
		logger.Info("using mock market feed")
	} else {
		source = market.NewBinanceSource(marketbinance.NewClient(cfg.BinanceTestnet))
	}

	// Instrument rules and prices
	var provider instruments.Provider
	if cfg.UseMockFeed {
		provider = &instruments.StaticProvider{
			Default:   instruments.DefaultPaperRules(),
			PriceFunc: lastClose(source, pipeline.Timeframes[0]),
		}
	} else {
		provider = instruments.NewBinanceProvider(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet,
			pipeline.Execution.InstrumentTTL, pipeline.Risk.MaxLeverage)
	}

	// Exchange gateway selection
	var gateway exchange.Gateway
	if cfg.DryRun {
		gateway = order.NewPaperGateway(provider, cfg.DryRunSlippageBps)
		logger.Info("paper trading enabled", zap.Float64("slippage_bps", cfg.DryRunSlippageBps))
	} else {
		client := exfutusdt.NewClient(exfutusdt.Config{
			APIKey:    cfg.BinanceAPIKey,
			APISecret: cfg.BinanceAPISecret,
			Testnet:   cfg.BinanceTestnet,
		})
		client.StartTimeSync(ctx)
		gateway = client
	}

	// Order flow
	executor := order.NewExecutor(gateway, provider, sizing.New(pipeline.Risk.PlatformFloor), database, bus,
		pipeline.Execution.IdempotencyWindow)
	queue := order.NewQueue(pipeline.Execution.QueueSize)
	asyncExec := order.NewAsyncExecutor(executor, queue, pipeline.Execution.Workers, pipeline.Execution.OrderTimeout)
	asyncExec.Start(ctx)

	go func() {
		for result := range asyncExec.Results() {
			outcome := result.Result.Outcome
			if outcome == "" {
				outcome = db.OutcomeFailed
			}
			metrics.ExecutionDone(outcome, result.Latency)
		}
	}()

	// Scanning
	evaluator := strategy.NewEvaluator(pipeline.Rules, pipeline.TimeframeRules, cooldowns)
	scan := scanner.New(source, evaluator, database, symbols, pipeline.Timeframes, pipeline.Scan)
	scan.Bus = bus
	scan.Metrics = metrics

	if cfg.AutoExecute {
		scanner.NewAutoExecutor(bus, queue, pipeline.Risk).Start(ctx)
		logger.Info("auto-execution enabled", zap.String("sizing_mode", string(pipeline.Risk.Mode)))
	}

	// Alerts and sinks
	(&monitor.Monitor{Bus: bus, Sink: monitor.LogSink{Log: logger.Named("alerts")}}).Start(ctx)

	if cfg.InfluxURL != "" {
		sink, err := persistence.NewInfluxSink(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		if err != nil {
			logger.Warn("influx sink disabled", zap.Error(err))
		} else {
			sink.Start(ctx, bus)
			defer sink.Close()
		}
	}

	// Scheduled jobs
	sched := scanner.NewScheduler(ctx)
	if cfg.ScanSchedule != "" {
		if err := sched.Register("scan", cfg.ScanSchedule, scanner.ScanJob(scan)); err != nil {
			logger.Fatal("scan schedule invalid", zap.Error(err))
		}
	}
	if cfg.ReconcileSchedule != "" {
		recon := reconciliation.NewService(gateway, database, bus)
		if err := sched.Register("reconcile", cfg.ReconcileSchedule, recon.Job); err != nil {
			logger.Fatal("reconcile schedule invalid", zap.Error(err))
		}
	}
	sched.Start()

	// API
	server := api.NewServer(
		bus,
		database,
		scan,
		executor,
		metrics,
		api.SystemMeta{
			DryRun:      cfg.DryRun,
			AutoExecute: cfg.AutoExecute,
			Testnet:     cfg.BinanceTestnet,
			Symbols:     symbols,
			Timeframes:  pipeline.Timeframes,
			UseMockFeed: cfg.UseMockFeed,
			Version:     buildVersion,
		},
		api.Options{
			RateLimit: cfg.APIRateLimit,
			Burst:     cfg.APIBurst,
		},
	)
	go func() {
		logger.Info("api listening", zap.String("port", cfg.Port))
		if err := server.Start(":" + cfg.Port); err != nil {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	sched.Stop()
	cancel()
	asyncExec.Wait()
}

// lastClose prices paper fills off the latest closed candle.
func lastClose(src market.Source, timeframe string) func(ctx context.Context, symbol string) (float64, error) {
	return func(ctx context.Context, symbol string) (float64, error) {
		candles, err := src.Candles(ctx, symbol, timeframe, 1)
		if err != nil {
			return 0, err
		}
		if len(candles) == 0 {
			return 0, errors.New("no candles for " + symbol)
		}
		return candles[len(candles)-1].Close, nil
	}
}
