// Package persistence mirrors pipeline events into InfluxDB.
package persistence

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"signal-core/internal/events"
	"signal-core/internal/order"
	"signal-core/pkg/db"
	"signal-core/pkg/logger"
)

// PointWriter is the non-blocking write API.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// InfluxSink writes accepted signals and execution outcomes as points.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	log    *zap.Logger
}

// NewInfluxSink connects to url and checks the server health.
func NewInfluxSink(ctx context.Context, url, token, org, bucket string) (*InfluxSink, error) {
	client := influxdb2.NewClient(url, token)
	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb health: %w", err)
	}
	if health == nil || health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("influxdb not healthy: %+v", health)
	}
	writeAPI := client.WriteAPI(org, bucket)
	s := &InfluxSink{client: client, writer: writeAPI, log: logger.Named("influx")}
	go func() {
		for err := range writeAPI.Errors() {
			s.log.Warn("influx write failed", zap.Error(err))
		}
	}()
	return s, nil
}

// NewSinkWithWriter builds a sink over an existing writer.
func NewSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w, log: logger.Named("influx")}
}

// Start mirrors bus events until ctx is done, then flushes.
func (s *InfluxSink) Start(ctx context.Context, bus *events.Bus) {
	stream, unsub := bus.SubscribeMany([]events.Event{events.EventSignalAccepted, events.EventExecutionLogged}, 256)
	go func() {
		defer func() {
			unsub()
			s.writer.Flush()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-stream:
				if !ok {
					return
				}
				s.Write(env.Payload)
			}
		}
	}()
}

// Write converts a signal or execution result into a point.
func (s *InfluxSink) Write(payload any) {
	switch v := payload.(type) {
	case db.Signal:
		s.writer.WritePoint(signalPoint(v))
	case order.Result:
		if v.Duplicate {
			return
		}
		s.writer.WritePoint(executionPoint(v))
	}
}

// Close flushes pending points and closes the client.
func (s *InfluxSink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

func signalPoint(sig db.Signal) *write.Point {
	return influxdb2.NewPoint(
		"signals",
		map[string]string{
			"symbol":    sig.Symbol,
			"timeframe": sig.Timeframe,
			"direction": sig.Direction,
			"grade":     sig.Grade,
		},
		map[string]interface{}{
			"id":          sig.ID,
			"entry_price": sig.EntryPrice,
			"stop_loss":   sig.StopLoss,
			"take_profit": sig.TakeProfit,
			"risk_reward": sig.RiskReward,
			"confidence":  sig.Confidence,
		},
		sig.BarTime,
	)
}

func executionPoint(r order.Result) *write.Point {
	fields := map[string]interface{}{
		"execution_id": r.ExecutionID,
		"quantity":     r.Quantity,
		"entry_price":  r.EntryPrice,
		"leverage":     r.Leverage,
		"attempts":     len(r.Attempts),
	}
	if r.ReasonCode != "" {
		fields["reason_code"] = r.ReasonCode
	}
	return influxdb2.NewPoint(
		"executions",
		map[string]string{
			"symbol":  r.Symbol,
			"side":    string(r.Side),
			"outcome": r.Outcome,
		},
		fields,
		r.CreatedAt,
	)
}
