package common

import "fmt"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes futures order types.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
	TIFGTX TimeInForce = "GTX" // Post Only / Maker Only
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// Accepted reports whether the venue took the order.
func (s OrderStatus) Accepted() bool {
	return s == StatusNew || s == StatusPartial || s == StatusFilled
}

// OrderRequest captures an order to be sent to an exchange.
type OrderRequest struct {
	Symbol       string
	Side         Side
	Type         OrderType
	Qty          float64
	Price        float64 // required for LIMIT
	StopPrice    float64 // required for STOP_MARKET/TAKE_PROFIT_MARKET
	TimeInForce  TimeInForce
	ClientID     string // optional client order id
	ReduceOnly   bool
	PositionSide string // LONG/SHORT for hedge mode

	// ClosePosition closes the whole position when the stop triggers; Qty
	// and ReduceOnly are ignored by the venue.
	ClosePosition bool
	WorkingType   string // MARK_PRICE or CONTRACT_PRICE
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
	ExecutedQty     float64
	AvgPrice        float64
}

// Position is a venue position snapshot.
type Position struct {
	Symbol       string
	PositionSide string
	Amount       float64 // signed, negative for short
	EntryPrice   float64
	Leverage     int
}

// APIError is a structured rejection returned by the venue.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}
