package domain

// EventKind tags the payload variant carried by a MarketEvent or an outbound
// Event. Go has no sum types, so each MarketEvent carries exactly one
// populated payload pointer selected by Kind — the idiomatic stand-in for a
// tagged union.
type EventKind string

const (
	EventQuote    EventKind = "QUOTE"
	EventTrade    EventKind = "TRADE"
	EventBar      EventKind = "BAR"
	EventDividend EventKind = "DIVIDEND"
	EventSplit    EventKind = "SPLIT"
	EventNews     EventKind = "NEWS"

	// Outbound-only kinds (never produced by a DataSource, only emitted by
	// the replay loop to subscribers).
	EventOrderNew     EventKind = "ORDER_NEW"
	EventOrderFill    EventKind = "ORDER_FILL"
	EventOrderCancel  EventKind = "ORDER_CANCEL"
	EventOrderExpire  EventKind = "ORDER_EXPIRE"
	EventOrderReplace EventKind = "ORDER_REPLACE"
	EventAccountUpdate EventKind = "ACCOUNT_UPDATE"
	EventSessionStatus EventKind = "SESSION_STATUS"
)

// precedence orders same-timestamp MarketEvents so corporate actions are
// applied before the matching engine sees adjusted prices: SPLIT < DIVIDEND
// < QUOTE < TRADE < BAR < NEWS.
var precedence = map[EventKind]int{
	EventSplit:    0,
	EventDividend: 1,
	EventQuote:    2,
	EventTrade:    3,
	EventBar:      4,
	EventNews:     5,
}

// Precedence returns the same-timestamp tie-break rank for k; unknown kinds
// (outbound-only kinds never enter the EventQueue) sort last.
func Precedence(k EventKind) int {
	if p, ok := precedence[k]; ok {
		return p
	}
	return len(precedence)
}

// MarketEvent is the tagged union of historical records a DataSource streams
// into a session's EventQueue, ordered by (Ts, precedence, ArrivalSeq) as
// defined by Less.
type MarketEvent struct {
	Kind       EventKind
	Ts         Timestamp
	Symbol     string
	ArrivalSeq uint64

	Trade    *TradeRecord
	Quote    *QuoteRecord
	Bar      *BarRecord
	Dividend *DividendRecord
	Split    *StockSplitRecord
	News     *CompanyNewsRecord
}

// Less orders two MarketEvents by (Ts, precedence, ArrivalSeq) — the
// EventQueue's tie-break rule for same-timestamp records.
func (e MarketEvent) Less(other MarketEvent) bool {
	if !e.Ts.Equal(other.Ts) {
		return e.Ts.Before(other.Ts)
	}
	pe, po := Precedence(e.Kind), Precedence(other.Kind)
	if pe != po {
		return pe < po
	}
	return e.ArrivalSeq < other.ArrivalSeq
}

// NBBO is the derived best-bid/best-offer projection for one symbol,
// updated on every QUOTE event and read by the MatchingEngine.
type NBBO struct {
	Symbol   string
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
	Ts       Timestamp
}

// Known reports whether both sides of the NBBO have been observed at least
// once; an unknown NBBO cannot fill a MARKET order.
func (n NBBO) Known() bool {
	return n.BidPrice > 0 && n.AskPrice > 0
}

// Mid returns the midpoint price, or zero if the NBBO is not Known.
func (n NBBO) Mid() float64 {
	if !n.Known() {
		return 0
	}
	return (n.BidPrice + n.AskPrice) / 2
}

// Event is the single normalized outbound envelope the engine hands to
// subscribers and, through them, to external broker-protocol adapters.
type Event struct {
	SessionID string
	Ts        Timestamp
	Kind      EventKind
	Symbol    string
	Data      any
}
