package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"signal-core/internal/instruments"
	"signal-core/internal/order"
	"signal-core/internal/sizing"
	"signal-core/pkg/config"
	exfutusdt "signal-core/pkg/exchanges/binance/futures_usdt"
	exchange "signal-core/pkg/exchanges/common"
)

// trading_api_check verifies the USDT-M futures client end to end against
// the configured account. Use testnet keys first.
//
// Usage:
//   go run ./scripts/trading_api_check
//
// Environment (same as the main process):
//   BINANCE_API_KEY / BINANCE_API_SECRET / BINANCE_TESTNET
//
// Behaviour:
//   TRADING_CHECK_PLACE_ORDERS  (default "false")
//        - false: server time, instrument rules, positions and leverage only
//        - true : also opens and closes the minimum-size MARKET position
//   CHECK_SYMBOL                (default "BTCUSDT")
func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	if cfg.BinanceAPIKey == "" || cfg.BinanceAPISecret == "" {
		log.Fatalf("BINANCE_API_KEY/SECRET empty, nothing to check")
	}

	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	symbol := getenv("CHECK_SYMBOL", "BTCUSDT")
	log.Printf("Config: testnet=%v placeOrders=%v symbol=%s", cfg.BinanceTestnet, placeOrders, symbol)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:    cfg.BinanceAPIKey,
		APISecret: cfg.BinanceAPISecret,
		Testnet:   cfg.BinanceTestnet,
	})
	provider := instruments.NewBinanceProvider(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.BinanceTestnet, time.Minute, 20)

	if ts, err := client.GetServerTime(ctx); err != nil {
		log.Printf("[USDT] GetServerTime error: %v", err)
	} else {
		log.Printf("[USDT] Server time offset=%dms", ts-time.Now().UnixMilli())
	}

	rules, err := provider.Rules(ctx, symbol)
	if err != nil {
		log.Fatalf("[USDT] Rules %s error: %v", symbol, err)
	}
	log.Printf("[USDT] Rules %s: step=%g tick=%g minNotional=%g maxLeverage=%d trading=%v",
		symbol, rules.QtyStep, rules.TickSize, rules.MinNotional, rules.MaxLeverage, rules.TradingEnabled)

	price, err := provider.Price(ctx, symbol)
	if err != nil {
		log.Fatalf("[USDT] Price %s error: %v", symbol, err)
	}
	log.Printf("[USDT] Price %s=%g", symbol, price)

	if pos, err := client.Positions(ctx, symbol); err != nil {
		log.Printf("[USDT] Positions error (%s): %v", reasonFor(err), err)
	} else {
		log.Printf("[USDT] Position entries for %s: %d", symbol, len(pos))
	}

	if err := client.SetLeverage(ctx, symbol, 1); err != nil {
		log.Printf("[USDT] SetLeverage error (%s): %v", reasonFor(err), err)
	} else {
		log.Printf("[USDT] SetLeverage %s=1 OK", symbol)
	}

	if !placeOrders {
		log.Println("=== Trading API check finished (read-only) ===")
		return
	}

	qty := sizing.New(0).MinimumQuantity(price, 1, rules)
	q, _ := qty.Float64()
	open := exchange.OrderRequest{Symbol: symbol, Side: exchange.SideBuy, Type: exchange.OrderTypeMarket, Qty: q}
	log.Printf("[USDT] Submitting MARKET BUY %s qty=%g", symbol, q)
	res, err := client.SubmitOrder(ctx, open)
	if err != nil {
		log.Printf("[USDT] SubmitOrder error (%s): %v", reasonFor(err), err)
		return
	}
	log.Printf("[USDT] SubmitOrder OK exch_id=%s status=%s filled=%g", res.ExchangeOrderID, res.Status, res.ExecutedQty)

	closeReq := open
	closeReq.Side = exchange.SideSell
	closeReq.ReduceOnly = true
	if _, err := client.SubmitOrder(ctx, closeReq); err != nil {
		log.Printf("[USDT] Close error (%s): %v", reasonFor(err), err)
		return
	}
	log.Println("=== Trading API check finished ===")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func reasonFor(err error) string {
	var apiErr *exchange.APIError
	if errors.As(err, &apiErr) {
		return order.MapExchangeCode(apiErr.Code)
	}
	return order.CodeExchangeUnavailable
}
