package domain

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType selects the matching behavior applied to an order.
type OrderType string

const (
	Market       OrderType = "MARKET"
	Limit        OrderType = "LIMIT"
	Stop         OrderType = "STOP"
	StopLimit    OrderType = "STOP_LIMIT"
	TrailingStop OrderType = "TRAILING_STOP"
)

// TIF is an order's time-in-force policy.
type TIF string

const (
	TIFDay TIF = "DAY"
	TIFGTC TIF = "GTC"
	TIFIOC TIF = "IOC"
	TIFFOK TIF = "FOK"
	TIFOPG TIF = "OPG"
	TIFCLS TIF = "CLS"
)

// Status is an order's lifecycle state. Transitions are monotone within the
// graph:
//
//	NEW -> PENDING -> (PARTIALLY_FILLED <-> PARTIALLY_FILLED) -> FILLED
//	          \-> CANCELED
//	          \-> EXPIRED
//	          \-> REJECTED
//
// FILLED, CANCELED, EXPIRED, REJECTED are terminal.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPending         Status = "PENDING"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusExpired         Status = "EXPIRED"
	StatusRejected        Status = "REJECTED"
)

// Terminal reports whether s is one of the order lifecycle's terminal
// states, after which no further transition is legal.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal Status -> Status edges of the order
// lifecycle graph; Resting() orders may legally self-loop on partial fills.
var transitions = map[Status]map[Status]bool{
	StatusNew: {
		StatusPending:  true,
		StatusRejected: true,
	},
	StatusPending: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCanceled:        true,
		StatusExpired:         true,
		StatusRejected:        true,
	},
	StatusPartiallyFilled: {
		StatusPartiallyFilled: true,
		StatusFilled:          true,
		StatusCanceled:        true,
		StatusExpired:         true,
	},
}

// CanTransition reports whether moving an order from `from` to `to` is legal.
func CanTransition(from, to Status) bool {
	if from == to && from == StatusPartiallyFilled {
		return true
	}
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Order is a simulated order routed to the MatchingEngine. Invariant:
// FilledQty <= Qty at all times, and FilledQty == Qty iff Status == FILLED.
type Order struct {
	ID            string
	ClientOrderID string
	SessionID     string
	Symbol        string
	Side          Side
	Type          OrderType
	TIF           TIF
	Qty           float64
	LimitPrice    float64
	StopPrice     float64
	TrailPrice    float64
	TrailPercent  float64
	ExpireAt      *time.Time

	FilledQty    float64
	AvgFillPrice float64
	Status       Status

	CreatedAt time.Time
	UpdatedAt time.Time

	// Triggered is set once a STOP/STOP_LIMIT/TRAILING_STOP order has
	// fired; every trigger fires at most once per order.
	Triggered bool
	// TrailMark is the running high-/low-water mark a TRAILING_STOP order
	// tracks: the max mid since submission for a SELL, the min mid for a
	// BUY.
	TrailMark float64

	RejectReason string
}

// Remaining is the unfilled quantity still eligible to match.
func (o *Order) Remaining() float64 {
	r := o.Qty - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}

// Resting reports whether the order can still receive fills — i.e. it has
// not reached a terminal status.
func (o *Order) Resting() bool {
	return !o.Status.Terminal()
}

// TrailAmount returns the absolute trail distance for a TRAILING_STOP
// order, preferring a fixed TrailPrice over a TrailPercent of mark.
func (o *Order) TrailAmount(mark float64) float64 {
	if o.TrailPrice > 0 {
		return o.TrailPrice
	}
	return mark * (o.TrailPercent / 100)
}

// Fill is a single execution against an order, emitted atomically with the
// corresponding account delta.
type Fill struct {
	OrderID   string
	FillQty   float64
	FillPrice float64
	Ts        time.Time
	Partial   bool
}
