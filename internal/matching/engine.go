// Package matching implements the per-session MatchingEngine: NBBO-driven
// order submission and fills, stop/trailing-stop triggers, TIF semantics,
// and the linear market-impact fill-price adjustment.
package matching

import (
	"fmt"
	"sync"

	"github.com/marketsim/engine/internal/domain"
)

// symbolState is one symbol's NBBO and resting-order book.
type symbolState struct {
	nbbo       domain.NBBO
	book       *book
	ordersByID map[string]*domain.Order
}

func newSymbolState() *symbolState {
	return &symbolState{book: newBook(), ordersByID: make(map[string]*domain.Order)}
}

// Engine is a session's MatchingEngine, covering every symbol the session
// trades. A session owns exactly one Engine; Engine guards its own state
// with an internal mutex, so its exported methods may be called from
// several goroutines.
type Engine struct {
	mu     sync.Mutex
	impact domain.ImpactPolicy
	bySym  map[string]*symbolState
}

// New creates an Engine applying the given market-impact policy to every
// fill (impact.Enabled == false is a pure pass-through).
func New(impact domain.ImpactPolicy) *Engine {
	return &Engine{
		impact: impact,
		bySym:  make(map[string]*symbolState),
	}
}

func (e *Engine) symbol(sym string) *symbolState {
	s, ok := e.bySym[sym]
	if !ok {
		s = newSymbolState()
		e.bySym[sym] = s
	}
	return s
}

// Submit accepts an order into the engine: it validates basic invariants,
// attempts an immediate fill where the order's type/TIF call for it, and
// otherwise rests it. Returns any Fills generated immediately; an IOC or
// FOK remainder that cannot fill is canceled, which shows in o.Status. The
// error is non-nil only when o fails validation (InvalidInput).
func (e *Engine) Submit(o *domain.Order, now domain.Timestamp) ([]domain.Fill, *domain.Error) {
	const op = "matching.Engine.Submit"
	if o.Qty <= 0 {
		return nil, domain.NewError(domain.KindInvalidInput, op, "qty must be > 0", nil)
	}
	if o.Type == domain.Limit && o.LimitPrice <= 0 {
		return nil, domain.NewError(domain.KindInvalidInput, op, "limit orders require limit_price > 0", nil)
	}
	if (o.Type == domain.Stop || o.Type == domain.StopLimit) && o.StopPrice <= 0 {
		return nil, domain.NewError(domain.KindInvalidInput, op, "stop orders require stop_price > 0", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sym := e.symbol(o.Symbol)

	o.CreatedAt = now
	o.UpdatedAt = now
	o.Status = domain.StatusPending
	sym.ordersByID[o.ID] = o

	fills := e.tryMatch(sym, o, now)

	switch o.Type {
	case domain.Stop, domain.StopLimit, domain.TrailingStop:
		if !o.Triggered {
			sym.book.restStop(o)
			return fills, nil
		}
	}

	if o.Resting() && o.Remaining() > 0 {
		e.applyTIFAfterAttempt(sym, o, now)
	}
	return fills, nil
}

// applyTIFAfterAttempt disposes of any unfilled remainder per the order's
// TIF once the initial match attempt has run: IOC and FOK cancel it, DAY/GTC
// rest. A FOK gets here unfilled when it was not marketable or no NBBO was
// known; one that could only partly fill was already canceled by tryMatch.
func (e *Engine) applyTIFAfterAttempt(sym *symbolState, o *domain.Order, now domain.Timestamp) {
	switch o.TIF {
	case domain.TIFIOC:
		e.finalize(sym, o, domain.StatusCanceled, now)
	case domain.TIFFOK:
		// A FOK never rests: with nothing filled at submit time, it is
		// canceled here.
		e.finalize(sym, o, domain.StatusCanceled, now)
	default: // DAY, GTC, OPG, CLS
		switch o.Type {
		case domain.Limit:
			sym.book.rest(o)
		case domain.Market:
			// NBBO unknown (or displayed size exhausted this tick): queue it
			// for retry on the next OnNBBO update rather than drop it.
			sym.book.restPendingMarket(o)
		}
	}
}

// finalize moves o to a terminal status and removes it from the book.
func (e *Engine) finalize(sym *symbolState, o *domain.Order, status domain.Status, now domain.Timestamp) {
	if !domain.CanTransition(o.Status, status) && o.Status != status {
		// Best-effort: still force terminal state rather than silently drop.
	}
	o.Status = status
	o.UpdatedAt = now
	sym.book.remove(o)
	sym.book.removeStop(o.ID)
	sym.book.removePendingMarket(o.ID)
}

// tryMatch attempts to fill o immediately against sym's current NBBO. It
// handles MARKET and marketable LIMIT orders (and the MARKET order a
// triggered STOP/STOP_LIMIT becomes). FOK orders that cannot be filled in
// full are canceled in place rather than partially filled.
func (e *Engine) tryMatch(sym *symbolState, o *domain.Order, now domain.Timestamp) []domain.Fill {
	if o.Type == domain.Stop || o.Type == domain.StopLimit || o.Type == domain.TrailingStop {
		return nil // triggers are evaluated on NBBO updates, never at submit time
	}

	marketable := o.Type == domain.Market
	if o.Type == domain.Limit && sym.nbbo.Known() {
		if o.Side == domain.Buy {
			marketable = o.LimitPrice >= sym.nbbo.AskPrice
		} else {
			marketable = o.LimitPrice <= sym.nbbo.BidPrice
		}
	}
	if !marketable {
		return nil
	}
	if !sym.nbbo.Known() {
		return nil // queued; retried on next NBBO update
	}

	fillQty, fillPrice, ok := e.quote(sym, o, nil)
	if !ok {
		return nil
	}

	if o.TIF == domain.TIFFOK && fillQty < o.Remaining() {
		// A FOK that cannot fill in full fills nothing and is canceled, not
		// rejected — REJECTED is reserved for admission-time errors.
		e.finalize(sym, o, domain.StatusCanceled, now)
		return nil
	}

	return e.applyFill(o, fillQty, fillPrice, now)
}

// quote computes the quantity and price tryMatch/checkResting would fill o
// at right now, without mutating state. When displayed is non-nil it is
// treated as the remaining displayed size still available this NBBO tick
// (shared across every order competing for the same side's touch within
// one update) and is decremented by the quantity returned.
func (e *Engine) quote(sym *symbolState, o *domain.Order, displayed *float64) (qty, price float64, ok bool) {
	if !sym.nbbo.Known() {
		return 0, 0, false
	}
	var touch, available float64
	if o.Side == domain.Buy {
		touch, available = sym.nbbo.AskPrice, sym.nbbo.AskSize
	} else {
		touch, available = sym.nbbo.BidPrice, sym.nbbo.BidSize
	}
	if displayed != nil {
		if *displayed <= 0 && available > 0 {
			return 0, 0, false // this tick's displayed size is already taken
		}
		available = *displayed
	}

	qty = o.Remaining()
	if available > 0 && available < qty {
		qty = available
	}
	if qty <= 0 {
		return 0, 0, false
	}
	if displayed != nil {
		*displayed -= qty
	}

	if o.Type == domain.Limit {
		// Spec: LIMIT fills at the limit price itself, not the touch.
		return qty, o.LimitPrice, true
	}
	return qty, e.impact.Adjust(touch, o.Side, qty, available), true
}

// applyFill records qty@price against o, updating its cumulative fill
// state and status, and returns the resulting Fill.
func (e *Engine) applyFill(o *domain.Order, qty, price float64, now domain.Timestamp) []domain.Fill {
	prevFilled := o.FilledQty
	prevAvg := o.AvgFillPrice

	o.FilledQty += qty
	if o.FilledQty > 0 {
		o.AvgFillPrice = (prevAvg*prevFilled + price*qty) / o.FilledQty
	}
	o.UpdatedAt = now

	partial := o.FilledQty < o.Qty
	if partial {
		o.Status = domain.StatusPartiallyFilled
	} else {
		o.Status = domain.StatusFilled
	}

	return []domain.Fill{{
		OrderID:   o.ID,
		FillQty:   qty,
		FillPrice: price,
		Ts:        now,
		Partial:   partial,
	}}
}

// OnNBBO updates sym's NBBO and re-evaluates every resting order exactly
// once against it: marketable limits fill, triggered stops convert and
// attempt to fill, trailing stops update their high-water mark.
func (e *Engine) OnNBBO(symbol string, nbbo domain.NBBO, now domain.Timestamp) (fills []domain.Fill, expired []*domain.Order) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sym := e.symbol(symbol)
	sym.nbbo = nbbo

	// Orders whose expire_at has passed leave the book before anything can
	// match this tick.
	expired = append(expired, e.expireDueLocked(sym, now)...)

	// Displayed size at the touch is shared across every order competing
	// for it this tick — pending MARKET orders, then resting marketable
	// LIMIT orders — so each fill decrements what the next order in
	// price-time priority can still take.
	askDisplayed := nbbo.AskSize
	bidDisplayed := nbbo.BidSize

	fills = append(fills, e.matchPendingMarket(sym, &askDisplayed, &bidDisplayed, now)...)
	fills = append(fills, e.matchRestingLimits(sym, &askDisplayed, &bidDisplayed, now)...)
	f, x := e.evaluateStops(sym, now)
	fills = append(fills, f...)
	expired = append(expired, x...)
	return fills, expired
}

// matchPendingMarket retries every MARKET order queued while the NBBO was
// previously unknown (or not enough displayed size was left to fill it);
// such orders stay queued until a quote can price them.
func (e *Engine) matchPendingMarket(sym *symbolState, askDisplayed, bidDisplayed *float64, now domain.Timestamp) []domain.Fill {
	if !sym.nbbo.Known() {
		return nil
	}
	var fills []domain.Fill
	pending := append([]*domain.Order(nil), sym.book.pendingMarket...)
	for _, o := range pending {
		displayed := askDisplayed
		if o.Side == domain.Sell {
			displayed = bidDisplayed
		}
		qty, price, ok := e.quote(sym, o, displayed)
		if !ok {
			continue
		}
		fills = append(fills, e.applyFill(o, qty, price, now)...)
		if o.Status.Terminal() {
			sym.book.removePendingMarket(o.ID)
		}
	}
	return fills
}

// matchRestingLimits walks bid levels from the best price down and ask
// levels from the best price up, filling every order crossed by the
// current NBBO, in FIFO order within each level.
func (e *Engine) matchRestingLimits(sym *symbolState, askDisplayed, bidDisplayed *float64, now domain.Timestamp) []domain.Fill {
	if !sym.nbbo.Known() {
		return nil
	}
	var fills []domain.Fill

	sym.book.bestBidLevels(func(lvl *priceLevel) bool {
		if lvl.price < sym.nbbo.AskPrice {
			return false // no more bid levels can cross
		}
		fills = append(fills, e.drainLevel(sym, lvl, askDisplayed, now)...)
		return true
	})
	sym.book.bestAskLevels(func(lvl *priceLevel) bool {
		if lvl.price > sym.nbbo.BidPrice {
			return false
		}
		fills = append(fills, e.drainLevel(sym, lvl, bidDisplayed, now)...)
		return true
	})
	return fills
}

// drainLevel fills as many resting orders at lvl as the remaining
// displayed size allows, in FIFO order, removing filled orders from the
// level.
func (e *Engine) drainLevel(sym *symbolState, lvl *priceLevel, displayed *float64, now domain.Timestamp) []domain.Fill {
	remaining := append([]*domain.Order(nil), lvl.orders...)
	if len(remaining) == 0 {
		return nil
	}

	var fills []domain.Fill
	for _, o := range remaining {
		qty, price, ok := e.quote(sym, o, displayed)
		if !ok {
			continue
		}
		if o.TIF == domain.TIFFOK && qty < o.Remaining() {
			e.finalize(sym, o, domain.StatusCanceled, now)
			continue
		}
		fills = append(fills, e.applyFill(o, qty, price, now)...)
		if o.Status.Terminal() {
			lvl.remove(o.ID)
		}
	}
	sym.book.removeLevelIfEmpty(remaining[0].Side, lvl.price)
	return fills
}

// evaluateStops checks every resting STOP/STOP_LIMIT/TRAILING_STOP order
// against sym's current NBBO, triggering and immediately attempting to
// fill any that cross.
func (e *Engine) evaluateStops(sym *symbolState, now domain.Timestamp) (fills []domain.Fill, expired []*domain.Order) {
	pending := append([]*domain.Order(nil), sym.book.stops...)
	for _, o := range pending {
		if o.Triggered {
			continue
		}
		triggered := e.checkTrigger(sym, o)
		if !triggered {
			continue
		}
		o.Triggered = true
		sym.book.removeStop(o.ID)

		if o.Type == domain.StopLimit {
			o.Type = domain.Limit // from here behaves exactly as a LIMIT order
		} else {
			o.Type = domain.Market
		}

		f := e.tryMatch(sym, o, now)
		fills = append(fills, f...)
		if o.Resting() && o.Remaining() > 0 {
			e.applyTIFAfterAttempt(sym, o, now)
		}
	}
	return fills, expired
}

// checkTrigger reports whether o's STOP/TRAILING_STOP condition fires
// given sym's current NBBO, updating TrailMark for trailing orders that
// have not yet triggered.
func (e *Engine) checkTrigger(sym *symbolState, o *domain.Order) bool {
	if !sym.nbbo.Known() {
		return false
	}
	switch o.Type {
	case domain.Stop, domain.StopLimit:
		if o.Side == domain.Buy {
			return sym.nbbo.AskPrice >= o.StopPrice
		}
		return sym.nbbo.BidPrice <= o.StopPrice
	case domain.TrailingStop:
		mid := sym.nbbo.Mid()
		if mid == 0 {
			return false
		}
		if o.Side == domain.Sell {
			if o.TrailMark == 0 || mid > o.TrailMark {
				o.TrailMark = mid
			}
			trail := o.TrailAmount(o.TrailMark)
			return mid <= o.TrailMark-trail
		}
		if o.TrailMark == 0 || mid < o.TrailMark {
			o.TrailMark = mid
		}
		trail := o.TrailAmount(o.TrailMark)
		return mid >= o.TrailMark+trail
	default:
		return false
	}
}

// Cancel moves a resting order to CANCELED, removing it from the book.
// Returns NotFound if the order is unknown or already terminal.
func (e *Engine) Cancel(symbol, orderID string, now domain.Timestamp) (*domain.Order, *domain.Error) {
	const op = "matching.Engine.Cancel"
	e.mu.Lock()
	defer e.mu.Unlock()
	sym := e.symbol(symbol)
	o, ok := sym.ordersByID[orderID]
	if !ok || o.Status.Terminal() {
		return nil, domain.NewError(domain.KindNotFound, op, fmt.Sprintf("order %s not found or already terminal", orderID), nil)
	}
	e.finalize(sym, o, domain.StatusCanceled, now)
	return o, nil
}

// Replace cancels orderID and re-submits it with updated qty/limit/stop,
// preserving its ID, side, and symbol — a symbol change invalidates NBBO
// routing for the resting order and must go through cancel + new submit
// instead. Any fills the replacement generates immediately (it may be
// marketable at its new price) are returned for the caller to settle.
func (e *Engine) Replace(symbol, orderID string, newQty, newLimitPrice, newStopPrice float64, now domain.Timestamp) (*domain.Order, []domain.Fill, *domain.Error) {
	const op = "matching.Engine.Replace"
	e.mu.Lock()
	sym := e.symbol(symbol)
	o, ok := sym.ordersByID[orderID]
	if !ok || o.Status.Terminal() {
		e.mu.Unlock()
		return nil, nil, domain.NewError(domain.KindNotFound, op, fmt.Sprintf("order %s not found or already terminal", orderID), nil)
	}
	e.finalize(sym, o, domain.StatusCanceled, now)

	replacement := *o
	replacement.Qty = newQty
	replacement.FilledQty = 0
	replacement.AvgFillPrice = 0
	replacement.Status = domain.StatusNew
	replacement.Triggered = false
	replacement.TrailMark = 0
	if newLimitPrice > 0 {
		replacement.LimitPrice = newLimitPrice
	}
	if newStopPrice > 0 {
		replacement.StopPrice = newStopPrice
	}
	e.mu.Unlock()

	fills, err := e.Submit(&replacement, now)
	return &replacement, fills, err
}

// GetOrder returns a resting or recently-terminal order by ID.
func (e *Engine) GetOrder(symbol, orderID string) (*domain.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sym := e.symbol(symbol)
	o, ok := sym.ordersByID[orderID]
	return o, ok
}

// GetOrders returns every order the engine has ever seen for symbol
// (including terminal ones), in no particular order.
func (e *Engine) GetOrders(symbol string) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	sym := e.symbol(symbol)
	out := make([]*domain.Order, 0, len(sym.ordersByID))
	for _, o := range sym.ordersByID {
		out = append(out, o)
	}
	return out
}

// CancelDayOrders cancels every resting DAY order across all symbols,
// called by the Session at the market-close boundary. Close-of-day disposal
// is a cancel, not an expiry — EXPIRED is reserved for expire_at.
func (e *Engine) CancelDayOrders(now domain.Timestamp) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var canceled []*domain.Order
	for _, sym := range e.bySym {
		for _, o := range sym.ordersByID {
			if o.TIF == domain.TIFDay && !o.Status.Terminal() {
				e.finalize(sym, o, domain.StatusCanceled, now)
				canceled = append(canceled, o)
			}
		}
	}
	return canceled
}

// ExpireAt moves every resting order whose ExpireAt has passed as of now to
// EXPIRED and removes it from the book.
func (e *Engine) ExpireAt(now domain.Timestamp) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var expired []*domain.Order
	for _, sym := range e.bySym {
		expired = append(expired, e.expireDueLocked(sym, now)...)
	}
	return expired
}

// expireDueLocked expires every non-terminal order of sym whose ExpireAt
// has passed as of now. Caller must hold mu.
func (e *Engine) expireDueLocked(sym *symbolState, now domain.Timestamp) []*domain.Order {
	var expired []*domain.Order
	for _, o := range sym.ordersByID {
		if o.Status.Terminal() || o.ExpireAt == nil {
			continue
		}
		if !now.Before(*o.ExpireAt) {
			e.finalize(sym, o, domain.StatusExpired, now)
			expired = append(expired, o)
		}
	}
	return expired
}

// CancelAllResting cancels every non-terminal order across all symbols,
// used by Session.Stop to drain the book per the engine's shutdown
// contract.
func (e *Engine) CancelAllResting(now domain.Timestamp) []*domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var canceled []*domain.Order
	for _, sym := range e.bySym {
		for _, o := range sym.ordersByID {
			if !o.Status.Terminal() {
				e.finalize(sym, o, domain.StatusCanceled, now)
				canceled = append(canceled, o)
			}
		}
	}
	return canceled
}
