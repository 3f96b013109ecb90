package main

import (
	"context"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"signal-core/internal/cooldown"
	"signal-core/internal/instruments"
	"signal-core/internal/market"
	"signal-core/internal/order"
	"signal-core/internal/scanner"
	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
	"signal-core/pkg/config"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// dry_run_demo runs one scan over the mock feed and walks a few order
// flows through the paper gateway. It never touches the exchange.
//
// Usage:
//   go run ./scripts/dry_run_demo
//
// It will:
//   1) Scan BTCUSDT and ETHUSDT on 1h and 4h and execute every accepted signal.
//   2) Open a protected BUY, then replay it with the same idempotency key.
//   3) Try an order below the minimum notional.
func main() {
	if _, err := logger.Init("info", "console"); err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer logger.Sync()
	log := logger.Named("demo")

	dir, err := os.MkdirTemp("", "signal-core-demo")
	if err != nil {
		log.Fatal("temp dir", zap.Error(err))
	}
	defer os.RemoveAll(dir)

	database, err := db.New(filepath.Join(dir, "demo.db"))
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("migrations", zap.Error(err))
	}

	ctx := context.Background()
	pipeline := config.DefaultPipeline()
	source := &market.MockSource{StartPrice: 100, Step: 0.02}
	prices := &instruments.StaticProvider{
		Default: instruments.DefaultPaperRules(),
		PriceFunc: func(ctx context.Context, symbol string) (float64, error) {
			c, err := source.Candles(ctx, symbol, "1m", 1)
			if err != nil {
				return 0, err
			}
			return c[len(c)-1].Close, nil
		},
	}
	paper := order.NewPaperGateway(prices, 2)
	exec := order.NewExecutor(paper, prices, sizing.New(pipeline.Risk.PlatformFloor), database, nil,
		pipeline.Execution.IdempotencyWindow)

	log.Info("[SCENARIO 1] mock scan")
	eval := strategy.NewEvaluator(pipeline.Rules, pipeline.TimeframeRules, cooldown.NewSQLStore(database))
	scan := scanner.New(source, eval, database, pipeline.Symbols, pipeline.Timeframes, pipeline.Scan)
	report, err := scan.Scan(ctx, scanner.Request{})
	if err != nil {
		log.Fatal("scan aborted", zap.Error(err))
	}
	log.Info("scan done",
		zap.Int("tasks", report.Tasks),
		zap.Int("accepted", len(report.Accepted)),
		zap.Int("skipped", len(report.Skipped)))
	for _, sig := range report.Accepted {
		res, err := exec.Execute(ctx, scanner.IntentFor(sig, pipeline.Risk))
		logResult(log, res, err)
	}

	log.Info("[SCENARIO 2] protected BUY and replay")
	price, err := prices.Price(ctx, "BTCUSDT")
	if err != nil {
		log.Fatal("price", zap.Error(err))
	}
	in := order.Intent{
		Symbol:         "BTCUSDT",
		Side:           common.SideBuy,
		SizingMode:     sizing.ModeNotional,
		Amount:         50,
		Leverage:       5,
		StopLoss:       price * 0.98,
		TakeProfit:     price * 1.04,
		IdempotencyKey: "demo-buy-1",
	}
	res, err := exec.Execute(ctx, in)
	logResult(log, res, err)
	res, err = exec.Execute(ctx, in)
	logResult(log, res, err)

	log.Info("[SCENARIO 3] below minimum notional")
	in.IdempotencyKey = "demo-buy-2"
	in.Amount = 0.5
	in.StopLoss, in.TakeProfit = 0, 0
	res, err = exec.Execute(ctx, in)
	logResult(log, res, err)

	positions, _ := paper.Positions(ctx, "")
	for _, p := range positions {
		log.Info("paper position", zap.String("symbol", p.Symbol), zap.Float64("qty", p.Amount), zap.Float64("entry", p.EntryPrice))
	}
	log.Info("=== DRY-RUN demo finished ===", zap.Int("orders", len(paper.Orders())))
}

func logResult(log *zap.Logger, res order.Result, err error) {
	if err != nil {
		log.Warn("execution failed",
			zap.String("code", errs.CodeOf(err)),
			zap.String("hint", errs.HintOf(err)),
			zap.Error(err))
		return
	}
	log.Info("execution",
		zap.String("execution_id", res.ExecutionID),
		zap.String("symbol", res.Symbol),
		zap.String("outcome", res.Outcome),
		zap.Float64("qty", res.Quantity),
		zap.Float64("entry", res.EntryPrice),
		zap.Bool("duplicate", res.Duplicate))
}
