package order

import (
	"errors"
	"fmt"

	"signal-core/pkg/errs"
	"signal-core/pkg/exchanges/common"
)

// Stable internal rejection codes.
const (
	CodeReduceOnlyRejected   = "REDUCE_ONLY_REJECTED"
	CodePositionSideMismatch = "POSITION_SIDE_MISMATCH"
	CodeInsufficientMargin   = "INSUFFICIENT_MARGIN"
	CodeMinNotional          = "MIN_NOTIONAL"
	CodeInvalidPrecision     = "INVALID_PRECISION"
	CodeInvalidQuantity      = "INVALID_QUANTITY"
	CodeTimestampWindow      = "TIMESTAMP_OUT_OF_WINDOW"
	CodeAuthFailed           = "AUTH_FAILED"
	CodeExchangeRejected     = "EXCHANGE_REJECTED"
	CodeExchangeUnavailable  = "EXCHANGE_UNAVAILABLE"
	CodeInvalidProtection    = "INVALID_PROTECTION"
	CodeExecutionUnknown     = "EXECUTION_UNKNOWN"
	CodeProtectionDegraded   = "PROTECTION_DEGRADED"
)

// MapExchangeCode maps a Binance futures error code to an internal code.
func MapExchangeCode(code int) string {
	switch code {
	case -2022:
		return CodeReduceOnlyRejected
	case -4061:
		return CodePositionSideMismatch
	case -2019:
		return CodeInsufficientMargin
	case -4164:
		return CodeMinNotional
	case -1111:
		return CodeInvalidPrecision
	case -4003, -1013:
		return CodeInvalidQuantity
	case -1021:
		return CodeTimestampWindow
	case -2015, -1022:
		return CodeAuthFailed
	default:
		return CodeExchangeRejected
	}
}

var hints = map[string]string{
	CodeReduceOnlyRejected:   "no position to reduce; submit without reduce-only",
	CodePositionSideMismatch: "account position mode does not match the order's position side",
	CodeInsufficientMargin:   "add margin or reduce size or leverage",
	CodeMinNotional:          "increase the order amount above the instrument minimum notional",
	CodeInvalidPrecision:     "round quantity and prices to the instrument step and tick",
	CodeInvalidQuantity:      "check quantity against the instrument lot size",
	CodeTimestampWindow:      "local clock drift; resync time with the exchange",
	CodeAuthFailed:           "check API key, secret and IP whitelist",
	CodeExchangeUnavailable:  "exchange unreachable; check connectivity before retrying with the same idempotency key",
	CodeProtectionDegraded:   "position is open without full protection; place the missing stop or target by hand",
	CodeExecutionUnknown:     "look up the client order id on the exchange; use a new idempotency key only once the order is confirmed absent",
}

// ExecutionError is a final exchange rejection. Message is the exchange's
// own text, unmodified.
type ExecutionError struct {
	Reason       string
	ExchangeCode int
	Message      string
	Attempts     int
	Err          error
}

func (e *ExecutionError) Error() string {
	if e.ExchangeCode != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Reason, e.ExchangeCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *ExecutionError) Unwrap() error   { return e.Err }
func (e *ExecutionError) Kind() errs.Kind { return errs.KindExecution }
func (e *ExecutionError) Code() string    { return e.Reason }
func (e *ExecutionError) Hint() string {
	if h, ok := hints[e.Reason]; ok {
		return h
	}
	return "inspect the exchange message and the attempt log"
}

// classify converts a gateway error into an ExecutionError.
func classify(err error, attempts int) *ExecutionError {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return &ExecutionError{
			Reason:       MapExchangeCode(apiErr.Code),
			ExchangeCode: apiErr.Code,
			Message:      apiErr.Message,
			Attempts:     attempts,
			Err:          err,
		}
	}
	return &ExecutionError{Reason: CodeExchangeUnavailable, Message: err.Error(), Attempts: attempts, Err: err}
}
