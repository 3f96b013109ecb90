package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"signal-core/internal/events"
	"signal-core/internal/instruments"
	"signal-core/internal/monitor"
	"signal-core/internal/sizing"
	"signal-core/pkg/cache"
	"signal-core/pkg/db"
	"signal-core/pkg/errs"
	"signal-core/pkg/exchanges/common"
	"signal-core/pkg/logger"
)

// DefaultIdempotencyWindow bounds how long a key suppresses repeat orders.
const DefaultIdempotencyWindow = 10 * time.Minute

// recentPruneAt is the cached result count above which expired keys are evicted.
const recentPruneAt = 1024

// Executor sizes intents, places orders with bounded retries, attaches
// protection and logs every attempt.
type Executor struct {
	Gateway     common.Gateway
	Instruments instruments.Provider
	Sizer       *sizing.Sizer
	DB          *db.Database // optional; attempts and outcomes are not persisted without it
	Bus         *events.Bus
	Metrics     *monitor.Metrics
	Policy      RetryPolicy
	Window      time.Duration
	Now         func() time.Time

	recent  *cache.Sharded[Result]
	pruneAt int
	locks   sync.Map // symbol -> *sync.Mutex
	log     *zap.Logger
}

func NewExecutor(gw common.Gateway, provider instruments.Provider, sizer *sizing.Sizer, database *db.Database, bus *events.Bus, window time.Duration) *Executor {
	if window <= 0 {
		window = DefaultIdempotencyWindow
	}
	if sizer == nil {
		sizer = sizing.New(0)
	}
	return &Executor{
		Gateway:     gw,
		Instruments: provider,
		Sizer:       sizer,
		DB:          database,
		Bus:         bus,
		Policy:      DefaultRetryPolicy(),
		Window:      window,
		Now:         func() time.Time { return time.Now().UTC() },
		recent:      cache.NewSharded[Result](),
		pruneAt:     recentPruneAt,
		log:         logger.Named("executor"),
	}
}

// plan is a validated intent ready for submission.
type plan struct {
	req        common.OrderRequest
	price      float64
	leverage   int
	stopLoss   float64
	takeProfit float64
}

// Execute runs the state machine for one intent. A repeated idempotency key
// within the window returns the earlier result with Duplicate set and sends
// nothing. A degraded execution is not an error. When the primary order was
// lost in transit the key stays reserved and every replay reports
// EXECUTION_UNKNOWN until the window lapses.
func (e *Executor) Execute(ctx context.Context, in Intent) (Result, error) {
	start := time.Now()
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}
	in.Symbol = strings.ToUpper(in.Symbol)
	if in.OrderType == "" {
		in.OrderType = common.OrderTypeMarket
	}

	unlock := e.lock(in.Symbol)
	defer unlock()

	prev, found, err := e.lookup(ctx, in.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	if found {
		prev.Duplicate = true
		if prev.Outcome == db.OutcomeUnknown {
			e.log.Warn("intent replayed while primary outcome unknown",
				zap.String("idempotency_key", in.IdempotencyKey), zap.String("execution_id", prev.ExecutionID))
			return prev, &ExecutionError{
				Reason:   CodeExecutionUnknown,
				Message:  fmt.Sprintf("primary order %s may exist on the exchange", lostOrderID(prev)),
				Attempts: len(prev.Attempts),
			}
		}
		e.log.Info("duplicate intent suppressed",
			zap.String("idempotency_key", in.IdempotencyKey), zap.String("execution_id", prev.ExecutionID))
		return prev, nil
	}

	res := Result{
		ExecutionID:    uuid.NewString(),
		IdempotencyKey: in.IdempotencyKey,
		SignalID:       in.SignalID,
		Symbol:         in.Symbol,
		Side:           in.Side,
		Leverage:       in.Leverage,
		CreatedAt:      e.Now(),
	}
	log := e.log.With(zap.String("execution_id", res.ExecutionID), zap.String("symbol", in.Symbol), zap.String("side", string(in.Side)))

	p, err := e.validate(ctx, in)
	if err != nil {
		if errs.KindOf(err) == errs.KindSystem {
			return Result{}, err
		}
		return e.fail(ctx, log, res, start, err)
	}
	res.enter(StateValidated)
	res.Quantity = p.req.Qty
	res.EntryPrice = p.price
	res.StopLoss = p.stopLoss
	res.TakeProfit = p.takeProfit

	if err := e.Gateway.SetLeverage(ctx, in.Symbol, p.leverage); err != nil {
		return e.fail(ctx, log, res, start, classify(err, 0))
	}

	ack, err := e.submitPrimary(ctx, log, &res, p)
	if errs.CodeOf(err) == CodeExchangeUnavailable {
		res.enter(StateUnknown)
		return e.unresolved(ctx, log, res, start, err)
	}
	if err != nil {
		res.enter(StateRejected)
		return e.fail(ctx, log, res, start, err)
	}
	res.enter(StateFilled)
	res.ExchangeOrderID = ack.ExchangeOrderID
	if ack.AvgPrice > 0 {
		res.EntryPrice = ack.AvgPrice
	}
	if ack.ExecutedQty > 0 {
		res.Quantity = ack.ExecutedQty
	}
	e.Bus.Publish(events.EventOrderFilled, res)

	res.Outcome = db.OutcomeSuccess
	if degraded := e.attachProtection(ctx, log, &res, p); degraded != "" {
		res.Outcome = db.OutcomeDegraded
		res.DegradedReason = degraded
		log.Error("position open without full protection", zap.String("reason", degraded))
	} else if p.stopLoss > 0 || p.takeProfit > 0 {
		res.enter(StateTPSLAttached)
	}

	return e.finish(ctx, log, res, start)
}

func (e *Executor) lock(symbol string) func() {
	m, _ := e.locks.LoadOrStore(symbol, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Executor) lookup(ctx context.Context, key string) (Result, bool, error) {
	if r, age, ok := e.recent.GetWithAge(key); ok && age < e.Window {
		return r, true, nil
	}
	if e.DB == nil {
		return Result{}, false, nil
	}
	rec, err := e.DB.FindExecutionByKey(ctx, key, e.Now().Add(-e.Window))
	if errors.Is(err, db.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, errs.Wrap(errs.KindSystem, "STORE_UNAVAILABLE", err, "idempotency lookup")
	}
	attempts, err := e.DB.ListExecutionAttempts(ctx, rec.ID)
	if err != nil {
		return Result{}, false, errs.Wrap(errs.KindSystem, "STORE_UNAVAILABLE", err, "idempotency lookup")
	}
	return resultFromRecord(*rec, attempts), true, nil
}

func (e *Executor) validate(ctx context.Context, in Intent) (plan, error) {
	if in.Side != common.SideBuy && in.Side != common.SideSell {
		return plan{}, &sizing.Rejection{Reason: sizing.CodeInvalidRequest, Message: fmt.Sprintf("unknown side %q", in.Side), Remedy: "use BUY or SELL"}
	}
	rules, err := e.Instruments.Rules(ctx, in.Symbol)
	if errors.Is(err, instruments.ErrUnknownSymbol) {
		return plan{}, &sizing.Rejection{Reason: "UNKNOWN_SYMBOL", Message: err.Error(), Remedy: "check the symbol against the exchange listing"}
	}
	if err != nil {
		return plan{}, errs.Wrap(errs.KindSystem, "INSTRUMENTS_UNAVAILABLE", err, "instrument rules")
	}

	var price float64
	if in.OrderType == common.OrderTypeLimit {
		if price, err = sizing.RoundPrice(in.LimitPrice, rules); err != nil {
			return plan{}, err
		}
	} else if price, err = e.Instruments.Price(ctx, in.Symbol); err != nil {
		return plan{}, errs.Wrap(errs.KindSystem, "PRICE_UNAVAILABLE", err, "current price")
	}

	sized, err := e.Sizer.Size(in.sizingRequest(price), rules)
	if err != nil {
		return plan{}, err
	}

	p := plan{
		req: common.OrderRequest{
			Symbol:     in.Symbol,
			Side:       in.Side,
			Type:       in.OrderType,
			Qty:        sized.Quantity,
			ReduceOnly: in.ReduceOnly,
		},
		price:    price,
		leverage: in.Leverage,
	}
	if in.OrderType == common.OrderTypeLimit {
		p.req.Price = price
		p.req.TimeInForce = in.TimeInForce
	}
	if in.StopLoss > 0 {
		if p.stopLoss, err = sizing.RoundPrice(in.StopLoss, rules); err != nil {
			return plan{}, err
		}
	}
	if in.TakeProfit > 0 {
		if p.takeProfit, err = sizing.RoundPrice(in.TakeProfit, rules); err != nil {
			return plan{}, err
		}
	}
	if err := checkProtection(in.Side, price, p.stopLoss, p.takeProfit); err != nil {
		return plan{}, err
	}
	return p, nil
}

// checkProtection requires the stop below and the target above a long entry,
// and the reverse for a short.
func checkProtection(side common.Side, price, sl, tp float64) error {
	sign := 1.0
	if side == common.SideSell {
		sign = -1
	}
	if sl > 0 && (price-sl)*sign <= 0 {
		return &sizing.Rejection{
			Reason:  CodeInvalidProtection,
			Message: fmt.Sprintf("stop loss %v is on the wrong side of %v for %s", sl, price, side),
			Remedy:  "place the stop loss beyond the entry against the position",
		}
	}
	if tp > 0 && (tp-price)*sign <= 0 {
		return &sizing.Rejection{
			Reason:  CodeInvalidProtection,
			Message: fmt.Sprintf("take profit %v is on the wrong side of %v for %s", tp, price, side),
			Remedy:  "place the take profit beyond the entry in the position's favour",
		}
	}
	return nil
}

func (e *Executor) submitPrimary(ctx context.Context, log *zap.Logger, res *Result, p plan) (common.OrderResult, error) {
	req := p.req
	res.enter(StateSubmitted)
	for n := 1; ; n++ {
		req.ClientID = clientOrderID(res.IdempotencyKey, len(res.Attempts)+1)
		e.Bus.Publish(events.EventOrderSubmitted, req)
		ack, err := e.Gateway.SubmitOrder(ctx, req)
		if err == nil && !ack.Status.Accepted() {
			err = &common.APIError{Message: "order " + string(ack.Status)}
		}
		e.recordAttempt(ctx, res, StagePrimary, req, p, ack, err)
		if err == nil {
			return ack, nil
		}

		execErr := classify(err, n)
		e.Bus.Publish(events.EventOrderRejected, execErr.Error())
		next, step, ok := e.Policy.Next(n, execErr.Reason, req)
		if !ok {
			return common.OrderResult{}, execErr
		}
		log.Warn("primary order rejected, retrying",
			zap.Int("attempt", n), zap.String("code", execErr.Reason), zap.String("next", step), zap.String("message", execErr.Message))
		req = next
	}
}

// attachProtection places the stop and target as close-position orders and
// returns a non-empty reason when any of them failed.
func (e *Executor) attachProtection(ctx context.Context, log *zap.Logger, res *Result, p plan) string {
	var failures []string
	legs := []struct {
		stage string
		typ   common.OrderType
		price float64
	}{
		{StageStopLoss, common.OrderTypeStopMarket, p.stopLoss},
		{StageTakeProfit, common.OrderTypeTakeProfitMarket, p.takeProfit},
	}
	for _, leg := range legs {
		if leg.price <= 0 {
			continue
		}
		req := common.OrderRequest{
			Symbol:        res.Symbol,
			Side:          res.Side.Opposite(),
			Type:          leg.typ,
			StopPrice:     leg.price,
			ClosePosition: true,
			WorkingType:   "MARK_PRICE",
			ClientID:      clientOrderID(res.IdempotencyKey, len(res.Attempts)+1),
		}
		ack, err := e.Gateway.SubmitOrder(ctx, req)
		if err == nil && !ack.Status.Accepted() {
			err = &common.APIError{Message: "order " + string(ack.Status)}
		}
		e.recordAttempt(ctx, res, leg.stage, req, p, ack, err)
		if err != nil {
			ce := classify(err, 1)
			failures = append(failures, fmt.Sprintf("%s: %s", leg.stage, ce.Error()))
			log.Warn("protection order failed", zap.String("stage", leg.stage), zap.String("code", ce.Reason), zap.String("message", ce.Message))
		}
	}
	return strings.Join(failures, "; ")
}

func (e *Executor) recordAttempt(ctx context.Context, res *Result, stage string, req common.OrderRequest, p plan, ack common.OrderResult, err error) {
	a := db.ExecutionAttempt{
		ExecutionID:     res.ExecutionID,
		Attempt:         len(res.Attempts) + 1,
		Stage:           stage,
		OrderType:       string(req.Type),
		TimeInForce:     string(req.TimeInForce),
		ReduceOnly:      req.ReduceOnly,
		Quantity:        req.Qty,
		Price:           p.price,
		Leverage:        p.leverage,
		ExchangeOrderID: ack.ExchangeOrderID,
		Outcome:         "accepted",
		CreatedAt:       e.Now(),
	}
	if req.StopPrice > 0 {
		a.Price = req.StopPrice
	}
	if err != nil {
		a.Outcome = "rejected"
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			a.ErrorCode = apiErr.Code
			a.ErrorMessage = apiErr.Message
		} else {
			a.Outcome = "error"
			a.ErrorMessage = err.Error()
		}
	}
	res.Attempts = append(res.Attempts, a)

	if e.DB == nil {
		return
	}
	if dbErr := e.DB.InsertExecutionAttempt(context.WithoutCancel(ctx), a); dbErr != nil {
		e.log.Error("attempt log write failed", zap.String("execution_id", a.ExecutionID), zap.Int("attempt", a.Attempt), zap.Error(dbErr))
	}
}

// fail logs a rejected or invalid execution and returns cause.
func (e *Executor) fail(ctx context.Context, log *zap.Logger, res Result, start time.Time, cause error) (Result, error) {
	res.Outcome = db.OutcomeFailed
	res.ReasonCode = errs.CodeOf(cause)
	res.Message = cause.Error()
	log.Warn("execution failed", zap.String("code", res.ReasonCode), zap.String("kind", string(errs.KindOf(cause))), zap.Error(cause))
	res, err := e.finish(ctx, log, res, start)
	if err != nil {
		return res, err
	}
	return res, cause
}

// unresolved logs an execution whose primary order may or may not have
// reached the venue and returns cause.
func (e *Executor) unresolved(ctx context.Context, log *zap.Logger, res Result, start time.Time, cause error) (Result, error) {
	res.Outcome = db.OutcomeUnknown
	res.ReasonCode = CodeExecutionUnknown
	res.Message = cause.Error()
	log.Error("primary order outcome unknown",
		zap.String("client_order_id", lostOrderID(res)), zap.Error(cause))
	res, err := e.finish(ctx, log, res, start)
	if err != nil {
		return res, err
	}
	return res, cause
}

func (e *Executor) finish(ctx context.Context, log *zap.Logger, res Result, start time.Time) (Result, error) {
	res.enter(StateLogged)
	if res.Outcome != db.OutcomeFailed {
		e.recent.Set(res.IdempotencyKey, res)
		e.pruneRecent()
	}
	if e.Metrics != nil {
		e.Metrics.ExecutionDone(res.Outcome, time.Since(start))
	}

	// The log must survive a cancelled request, a timeout in particular.
	ctx = context.WithoutCancel(ctx)
	var storeErr error
	if e.DB != nil {
		if err := e.DB.InsertExecution(ctx, res.record()); err != nil {
			storeErr = errs.Wrap(errs.KindSystem, "STORE_UNAVAILABLE", err, "execution log")
			log.Error("execution log write failed", zap.Error(err))
		}
		if res.SignalID != "" && res.Outcome != db.OutcomeFailed {
			if err := e.DB.MarkSignalExecuted(ctx, res.SignalID); err != nil {
				log.Warn("signal not marked executed", zap.String("signal_id", res.SignalID), zap.Error(err))
			}
		}
	}

	e.Bus.Publish(events.EventExecutionLogged, res)
	if res.Outcome == db.OutcomeDegraded {
		e.Bus.Publish(events.EventExecutionDegraded, monitor.Degraded{
			ExecutionID: res.ExecutionID,
			Symbol:      res.Symbol,
			Side:        string(res.Side),
			Quantity:    res.Quantity,
			Reason:      res.DegradedReason,
		})
	}
	log.Info("execution logged",
		zap.String("outcome", res.Outcome),
		zap.Float64("quantity", res.Quantity),
		zap.Float64("entry_price", res.EntryPrice),
		zap.Int("leverage", res.Leverage),
		zap.String("exchange_order_id", res.ExchangeOrderID),
		zap.Int("attempts", len(res.Attempts)),
	)
	return res, storeErr
}

// lostOrderID is the client order id of the last primary attempt.
func lostOrderID(r Result) string {
	n := 1
	for _, a := range r.Attempts {
		if a.Stage == StagePrimary {
			n = a.Attempt
		}
	}
	return clientOrderID(r.IdempotencyKey, n)
}

// pruneRecent evicts keys older than the window once the cache grows past
// pruneAt.
func (e *Executor) pruneRecent() {
	if e.recent.Len() <= e.pruneAt {
		return
	}
	removed := e.recent.Cleanup(e.Window)
	stats := e.recent.Stats()
	e.log.Debug("idempotency cache pruned",
		zap.Int("removed", removed),
		zap.Int("remaining", stats.TotalItems),
		zap.Duration("oldest", stats.OldestAge),
	)
}

// clientOrderID derives the venue order id from the idempotency key, so a
// replayed key maps onto the same order ids. It fits the venue's 36
// character limit.
func clientOrderID(key string, attempt int) string {
	sum := strings.ReplaceAll(uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(), "-", "")
	return fmt.Sprintf("sc%s-%d", sum[:28], attempt)
}
