package order

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal-core/pkg/errs"
	"signal-core/pkg/logger"
)

// Runner executes one intent.
type Runner interface {
	Execute(ctx context.Context, in Intent) (Result, error)
}

// AsyncExecutor drains a Queue with a fixed pool of workers.
type AsyncExecutor struct {
	runner   Runner
	queue    *Queue
	workers  int
	timeout  time.Duration
	resultCh chan ExecutionResult
	wg       sync.WaitGroup
	log      *zap.Logger
}

// ExecutionResult represents the outcome of an asynchronous execution.
type ExecutionResult struct {
	IdempotencyKey string        `json:"idempotency_key"`
	Result         Result        `json:"result"`
	Error          error         `json:"-"`
	ErrorMsg       string        `json:"error,omitempty"`
	Latency        time.Duration `json:"latency_ms"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewAsyncExecutor creates an async executor; timeout bounds each execution.
func NewAsyncExecutor(runner Runner, queue *Queue, workers int, timeout time.Duration) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncExecutor{
		runner:   runner,
		queue:    queue,
		workers:  workers,
		timeout:  timeout,
		resultCh: make(chan ExecutionResult, 100),
		log:      logger.Named("async_executor"),
	}
}

// Start launches the workers. They stop when ctx is done or the queue is closed.
func (a *AsyncExecutor) Start(ctx context.Context) {
	for i := 0; i < a.workers; i++ {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.queue.Drain(ctx, func(in Intent) { a.run(ctx, in) })
		}()
	}
}

func (a *AsyncExecutor) run(ctx context.Context, in Intent) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := a.runner.Execute(ctx, in)

	result := ExecutionResult{
		IdempotencyKey: in.IdempotencyKey,
		Result:         res,
		Error:          err,
		Latency:        time.Since(start),
		Timestamp:      time.Now(),
	}
	if err != nil {
		result.ErrorMsg = err.Error()
		a.log.Warn("intent failed",
			zap.String("idempotency_key", in.IdempotencyKey), zap.String("symbol", in.Symbol),
			zap.String("code", errs.CodeOf(err)), zap.Duration("latency", result.Latency), zap.Error(err))
	}

	// Send result (non-blocking)
	select {
	case a.resultCh <- result:
	default:
		a.log.Warn("result channel full, dropping result", zap.String("idempotency_key", in.IdempotencyKey))
	}
}

// Results returns the result channel for monitoring.
func (a *AsyncExecutor) Results() <-chan ExecutionResult {
	return a.resultCh
}

// Wait blocks until every worker has stopped, then closes Results.
func (a *AsyncExecutor) Wait() {
	a.wg.Wait()
	close(a.resultCh)
}
