// Package session implements one simulated trading session: the replay
// thread that drains a DataSource through the EventQueue/TimeEngine pair,
// feeds normalized market events to the MatchingEngine and AccountManager,
// and emits a normalized Event stream to subscribers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marketsim/engine/internal/account"
	"github.com/marketsim/engine/internal/domain"
	"github.com/marketsim/engine/internal/eventqueue"
	"github.com/marketsim/engine/internal/execpolicy"
	"github.com/marketsim/engine/internal/matching"
	"github.com/marketsim/engine/internal/performance"
	"github.com/marketsim/engine/internal/ports"
	"github.com/marketsim/engine/internal/timeengine"
)

// OpenDataSource opens (or reopens, for jump_to) a DataSource scoped to the
// given symbols and [start, end) window.
type OpenDataSource func(symbols []string, start, end domain.Timestamp) (ports.DataSource, error)

// Session owns one simulation's engines and its two background threads: the
// producer (DataSource -> EventQueue) and the replay loop
// (EventQueue -> TimeEngine -> matching/account/performance -> Emit).
type Session struct {
	id  string
	cfg domain.SessionConfig

	te   *timeengine.TimeEngine
	eq   *eventqueue.EventQueue
	eng  *matching.Engine
	acct *account.Manager
	perf *performance.Tracker
	exec execpolicy.ExecutionPolicy

	openDS OpenDataSource
	emit   func(domain.Event)
	log    *slog.Logger

	// startFrom is where the next Start opens the data-source window:
	// cfg.StartTime initially, moved forward by jump_to.
	startFrom domain.Timestamp

	mu              sync.Mutex
	status          domain.SessionStatus
	active          bool // producer+replay goroutines currently running
	jumping         bool // eq.Close() below is a jump-induced requeue, not a real stop
	stopRequested   bool // distinguishes stop-initiated queue close from stream exhaustion
	eventsProcessed uint64
	eventsDropped   uint64
	newsSubs        map[string]bool
	orderNotional   map[string]float64
	clientOrderIDs  map[string]bool
	lastMarketSess  map[string]execpolicy.Session // last classified Session per symbol, for close-boundary detection
	ffTarget        *domain.Timestamp

	// emitMu serializes outbound events so subscribers observe one ordered
	// stream per session even when the replay thread and an API caller emit
	// concurrently.
	emitMu sync.Mutex

	producerCancel context.CancelFunc
	producerDone   chan struct{}
	replayDone     chan struct{}
}

// New creates a Session in CREATED status. Nothing runs until Start.
func New(id string, cfg domain.SessionConfig, openDS OpenDataSource, exec execpolicy.ExecutionPolicy, emit func(domain.Event)) *Session {
	return &Session{
		id:            id,
		cfg:           cfg,
		te:            timeengine.New(cfg.StartTime, cfg.SpeedFactor),
		eq:            eventqueue.New(cfg.QueueCapacity, cfg.OverflowPolicy),
		eng:           matching.New(cfg.Impact),
		acct:          account.New(cfg.InitialCapital, cfg.Margin, cfg.Fees),
		perf:          performance.New(cfg.InitialCapital),
		exec:          exec,
		openDS:        openDS,
		emit:          emit,
		startFrom:     cfg.StartTime,
		log:           slog.Default().With("session", id),
		status:         domain.SessionCreated,
		newsSubs:       make(map[string]bool),
		orderNotional:  make(map[string]float64),
		clientOrderIDs: make(map[string]bool),
		lastMarketSess: make(map[string]execpolicy.Session),
	}
}

func (s *Session) ID() string { return s.id }

// Status returns the session's current lifecycle state.
func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot returns a read-only view of the session's current state.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Snapshot{
		ID:              s.id,
		Status:          s.status,
		CurrentTime:     s.te.Now(),
		EventsProcessed: s.eventsProcessed,
		EventsDropped:   s.eventsDropped + s.eq.Dropped(),
		Config:          s.cfg,
	}
}

// Watermark returns the session's current virtual time.
func (s *Session) Watermark() domain.Timestamp {
	s.mu.Lock()
	te := s.te
	s.mu.Unlock()
	return te.Now()
}

// Start spawns the producer and replay threads. Legal only from CREATED or
// STOPPED.
func (s *Session) Start() *domain.Error {
	const op = "session.Session.Start"
	s.mu.Lock()
	if s.status != domain.SessionCreated && s.status != domain.SessionStopped {
		st := s.status
		s.mu.Unlock()
		return domain.NewError(domain.KindInvalidState, op, fmt.Sprintf("cannot start from %s", st), nil)
	}
	s.status = domain.SessionRunning
	s.stopRequested = false
	from := s.startFrom
	s.mu.Unlock()

	ds, err := s.openDS(s.cfg.Symbols, from, s.cfg.EndTime)
	if err != nil {
		s.mu.Lock()
		s.status = domain.SessionError
		s.mu.Unlock()
		return domain.NewError(domain.KindFatal, op, "open data source", err)
	}

	s.mu.Lock()
	s.eq = eventqueue.New(s.cfg.QueueCapacity, s.cfg.OverflowPolicy)
	if s.te.Status() == timeengine.StatusStopped {
		// A stopped TimeEngine is terminal; restarting rebuilds it at the
		// window start (which a prior jump_to may have moved), preserving
		// the current speed factor.
		s.te = timeengine.New(from, s.te.Speed())
	}
	s.mu.Unlock()
	s.te.Start()
	s.startProducer(ds)

	s.mu.Lock()
	s.active = true
	s.mu.Unlock()
	s.replayDone = make(chan struct{})
	go s.runReplay()

	s.log.Info("session started", "symbols", s.cfg.Symbols, "start", s.cfg.StartTime, "end", s.cfg.EndTime)
	s.emitStatus()
	return nil
}

func (s *Session) startProducer(ds ports.DataSource) {
	ctx, cancel := context.WithCancel(context.Background())
	s.producerCancel = cancel
	s.producerDone = make(chan struct{})
	go s.runProducer(ctx, ds)
}

func (s *Session) runProducer(ctx context.Context, ds ports.DataSource) {
	defer close(s.producerDone)
	defer ds.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		ev, ok, err := ds.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // stop/jump canceled the producer; not a source failure
			}
			s.fail(err)
			return
		}
		if !ok {
			// Stream exhausted: close the queue so the replay thread can
			// finish the session once it drains what's buffered.
			s.eq.Close()
			return
		}
		if !s.eq.Push(ev) {
			s.mu.Lock()
			s.eventsDropped++
			s.mu.Unlock()
		}
	}
}

// Pause idempotently freezes the session's virtual clock.
func (s *Session) Pause() {
	s.mu.Lock()
	if s.status == domain.SessionRunning {
		s.status = domain.SessionPaused
	}
	s.mu.Unlock()
	s.te.Pause()
	s.emitStatus()
}

// Resume idempotently continues a paused session.
func (s *Session) Resume() {
	s.mu.Lock()
	if s.status == domain.SessionPaused {
		s.status = domain.SessionRunning
	}
	s.mu.Unlock()
	s.te.Resume()
	s.emitStatus()
}

// Stop drains in-flight processing, cancels all resting orders, and moves
// the session to STOPPED. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	wasActive := s.active
	s.stopRequested = true
	s.mu.Unlock()

	s.te.Stop()
	if !wasActive {
		s.finishTerminal(domain.SessionStopped)
		return
	}
	s.eq.Close()
	if s.producerCancel != nil {
		s.producerCancel()
	}
	<-s.producerDone
	<-s.replayDone
}

// finishTerminal moves the session to status (unless it already reached a
// terminal status concurrently), canceling every resting order.
func (s *Session) finishTerminal(status domain.SessionStatus) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.active = false
	s.mu.Unlock()

	s.te.Stop()
	s.eng.CancelAllResting(s.te.Now())
	s.log.Info("session terminal", "status", status)
	s.emitStatus()
}

// fail moves the session to ERROR: the replay thread exits, resting orders
// are canceled, and subscribers are notified with SESSION_STATUS. Called on
// a data-source hard failure or an internal invariant violation.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return
	}
	s.status = domain.SessionError
	s.active = false
	s.mu.Unlock()

	s.te.Stop()
	s.eq.Close()
	s.eng.CancelAllResting(s.te.Now())
	s.log.Error("session failed", "err", err)
	s.emitStatus()
}

// Destroy releases session resources. Not allowed while RUNNING; callers
// must Stop first.
func (s *Session) Destroy() *domain.Error {
	const op = "session.Session.Destroy"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == domain.SessionRunning {
		return domain.NewError(domain.KindInvalidState, op, "cannot destroy a running session", nil)
	}
	return nil
}

// SetSpeed updates the session's replay speed factor.
func (s *Session) SetSpeed(f float64) {
	s.te.SetSpeed(f)
}

// JumpTo resets the session to a clean "start from here" at t: resting
// orders are canceled, the account is reset to initial capital, the event
// queue is cleared and refilled from the data source for [t, end_time], and
// the virtual clock is set to t. Legal from any non-ERROR state.
func (s *Session) JumpTo(t domain.Timestamp) *domain.Error {
	const op = "session.Session.JumpTo"
	s.mu.Lock()
	if s.status == domain.SessionError {
		s.mu.Unlock()
		return domain.NewError(domain.KindInvalidState, op, "cannot jump_to an ERROR session", nil)
	}
	wasActive := s.active
	wasRunning := s.status == domain.SessionRunning
	if wasActive {
		s.jumping = true
	}
	s.mu.Unlock()

	// Halt the producer and replay threads without permanently closing the
	// queue or marking the session STOPPED — jump_to is a requeue, not a
	// shutdown. Interrupt aborts an in-flight WaitForNextEvent so the
	// replay thread observes the closed queue promptly instead of sleeping
	// out its current virtual delay; the clock itself is only reset once
	// both threads are joined (SetTime requires a non-RUNNING engine).
	if wasActive {
		s.te.Interrupt()
		s.producerCancel()
		s.eq.Close() // unblocks a Pop currently blocked on empty
		<-s.producerDone
		<-s.replayDone
		s.te.Pause()
		s.te.SetTime(t)
	} else {
		s.te.SetTime(t)
	}

	s.eng.CancelAllResting(t)
	s.acct.Reset(s.cfg.InitialCapital)

	s.mu.Lock()
	s.eq = eventqueue.New(s.cfg.QueueCapacity, s.cfg.OverflowPolicy)
	s.jumping = false
	s.eventsProcessed = 0
	s.eventsDropped = 0
	s.startFrom = t
	s.orderNotional = make(map[string]float64)
	s.clientOrderIDs = make(map[string]bool)
	s.lastMarketSess = make(map[string]execpolicy.Session)
	if !wasActive && (s.status == domain.SessionStopped || s.status == domain.SessionCompleted) {
		// A jump on a finished session re-arms it: Start replays [t, end).
		s.status = domain.SessionCreated
	}
	s.mu.Unlock()

	if wasActive {
		ds, err := s.openDS(s.cfg.Symbols, t, s.cfg.EndTime)
		if err != nil {
			s.mu.Lock()
			s.status = domain.SessionError
			s.active = false
			s.mu.Unlock()
			return domain.NewError(domain.KindFatal, op, "reopen data source", err)
		}
		s.startProducer(ds)

		if wasRunning {
			s.te.Resume()
		}
		s.replayDone = make(chan struct{})
		go s.runReplay()
	}

	s.log.Info("session jumped", "t", t)
	s.emitStatus()
	return nil
}

// FastForward advances the stream internally to t without invoking
// subscriber callbacks for skipped events, then resumes normal streaming
// from t.
func (s *Session) FastForward(t domain.Timestamp) {
	s.mu.Lock()
	s.ffTarget = &t
	s.mu.Unlock()
}

func (s *Session) fastForwardTarget() (domain.Timestamp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ffTarget == nil {
		var zero domain.Timestamp
		return zero, false
	}
	return *s.ffTarget, true
}

func (s *Session) clearFastForward() {
	s.mu.Lock()
	s.ffTarget = nil
	s.mu.Unlock()
}

func (s *Session) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal()
}

func (s *Session) isJumping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jumping
}

// runReplay is the per-session replay thread: pop -> wait_for_next_event ->
// process -> emit, until the queue drains (stop/destroy) or end_time is
// reached (COMPLETED).
func (s *Session) runReplay() {
	defer close(s.replayDone)
	for {
		ev, ok := s.eq.Pop()
		if s.isJumping() {
			return // JumpTo closed the queue to requeue it; it owns the restart
		}
		if !ok {
			// Queue closed and drained: either Stop was requested, or the
			// data source ran out of records before end_time (there is
			// nothing left to replay, so the session is complete).
			s.mu.Lock()
			stopped := s.stopRequested
			s.mu.Unlock()
			if stopped {
				s.finishTerminal(domain.SessionStopped)
			} else {
				s.finishTerminal(domain.SessionCompleted)
			}
			return
		}
		if s.isStopping() {
			return
		}

		target, ffActive := s.fastForwardTarget()
		silent := ffActive && !ev.Ts.After(target)
		if silent {
			s.te.FastForwardTo(ev.Ts)
		} else {
			if ffActive {
				s.clearFastForward()
			}
			if !s.te.WaitForNextEvent(ev.Ts) {
				continue // pause/stop/jump raced; re-pop
			}
		}

		s.process(ev, !silent)

		if !ev.Ts.Before(s.cfg.EndTime) {
			s.finishTerminal(domain.SessionCompleted)
			return
		}
	}
}

// process applies one MarketEvent's side effects to the matching engine,
// account, and performance tracker, and — unless silent (fast_forward
// skipping) — emits the corresponding outbound Events.
func (s *Session) process(ev domain.MarketEvent, emitEvents bool) {
	s.mu.Lock()
	s.eventsProcessed++
	s.mu.Unlock()

	switch ev.Kind {
	case domain.EventQuote:
		s.processQuote(ev, emitEvents)
	case domain.EventTrade:
		if ev.Trade != nil {
			s.acct.MarkPrice(ev.Symbol, ev.Trade.Price)
		}
		if emitEvents {
			s.emitEvent(ev.Ts, domain.EventTrade, ev.Symbol, ev.Trade)
		}
	case domain.EventBar:
		if ev.Bar != nil {
			s.acct.MarkPrice(ev.Symbol, ev.Bar.Close)
		}
		if emitEvents {
			s.emitEvent(ev.Ts, domain.EventBar, ev.Symbol, ev.Bar)
		}
	case domain.EventDividend:
		if ev.Dividend != nil {
			s.acct.ApplyDividend(ev.Symbol, ev.Dividend.PerShare)
		}
		if emitEvents {
			s.emitEvent(ev.Ts, domain.EventDividend, ev.Symbol, ev.Dividend)
			s.emitEvent(ev.Ts, domain.EventAccountUpdate, ev.Symbol, s.acct.State())
		}
	case domain.EventSplit:
		if ev.Split != nil {
			s.acct.ApplySplit(ev.Symbol, ev.Split.Ratio)
		}
		if emitEvents {
			s.emitEvent(ev.Ts, domain.EventSplit, ev.Symbol, ev.Split)
			s.emitEvent(ev.Ts, domain.EventAccountUpdate, ev.Symbol, s.acct.State())
		}
	case domain.EventNews:
		if emitEvents && s.newsSubscribed(ev.Symbol) {
			s.emitEvent(ev.Ts, domain.EventNews, ev.Symbol, ev.News)
		}
	}

	s.perf.Record(ev.Ts, s.acct.State().Equity)
	s.checkForcedLiquidation(ev.Ts, emitEvents)
}

func (s *Session) processQuote(ev domain.MarketEvent, emitEvents bool) {
	if ev.Quote == nil {
		return
	}
	nbbo := domain.NBBO{
		Symbol:   ev.Symbol,
		BidPrice: ev.Quote.BidPrice,
		BidSize:  ev.Quote.BidSize,
		AskPrice: ev.Quote.AskPrice,
		AskSize:  ev.Quote.AskSize,
		Ts:       ev.Ts,
	}
	fills, expired := s.eng.OnNBBO(ev.Symbol, nbbo, ev.Ts)
	if nbbo.Known() {
		s.acct.MarkPrice(ev.Symbol, nbbo.Mid())
	}
	s.settleFills(ev.Symbol, fills, emitEvents)
	s.settleExpired(ev.Symbol, expired, emitEvents)

	s.checkDayClose(ev.Symbol, ev.Ts, emitEvents)

	if emitEvents {
		s.emitEvent(ev.Ts, domain.EventQuote, ev.Symbol, ev.Quote)
	}
}

// checkDayClose cancels resting DAY orders the instant a symbol's session
// classification leaves REGULAR, so they never carry past market close.
func (s *Session) checkDayClose(symbol string, ts domain.Timestamp, emitEvents bool) {
	if s.exec.Calendar == nil {
		return
	}
	cur := s.exec.Calendar.Classify(ts)
	s.mu.Lock()
	prev := s.lastMarketSess[symbol]
	s.lastMarketSess[symbol] = cur
	s.mu.Unlock()

	if prev == execpolicy.SessionRegular && cur != execpolicy.SessionRegular {
		for _, o := range s.eng.CancelDayOrders(ts) {
			s.releaseReservation(o.ID)
			if emitEvents {
				s.emitEvent(o.UpdatedAt, domain.EventOrderCancel, o.Symbol, o)
			}
		}
	}
}

func (s *Session) settleFills(symbol string, fills []domain.Fill, emitEvents bool) {
	for _, f := range fills {
		o, ok := s.eng.GetOrder(symbol, f.OrderID)
		if !ok {
			continue
		}
		fee := s.acct.ComputeFee(o.Side, f.FillQty, f.FillPrice)
		s.acct.ApplyFill(symbol, f, o.Side, fee)
		if o.Status.Terminal() {
			s.releaseReservation(o.ID)
		}
		if emitEvents {
			s.emitEvent(f.Ts, domain.EventOrderFill, symbol, f)
		}
	}
	if len(fills) > 0 && emitEvents {
		s.emitEvent(fills[len(fills)-1].Ts, domain.EventAccountUpdate, symbol, s.acct.State())
	}
}

func (s *Session) settleExpired(symbol string, expired []*domain.Order, emitEvents bool) {
	for _, o := range expired {
		s.releaseReservation(o.ID)
		if emitEvents {
			s.emitEvent(o.UpdatedAt, domain.EventOrderExpire, symbol, o)
		}
	}
}

// checkForcedLiquidation sells down positions, largest market value first,
// while the account remains in maintenance-margin breach and forced
// liquidation is enabled.
func (s *Session) checkForcedLiquidation(ts domain.Timestamp, emitEvents bool) {
	if !s.cfg.Margin.EnableForcedLiquidation {
		return
	}
	for i := 0; i < 64; i++ { // bounded: one position closed per iteration
		breached, _, _ := s.acct.MaintenanceBreach()
		if !breached {
			return
		}
		candidates := s.acct.LiquidationCandidates()
		if len(candidates) == 0 {
			return
		}
		symbol := candidates[0]
		qty := s.acct.PositionQty(symbol)
		if qty == 0 {
			return
		}
		side := domain.Sell
		if qty < 0 {
			side = domain.Buy
		}
		o := &domain.Order{
			ID:     fmt.Sprintf("liq-%s-%d", symbol, ts.UnixNano()),
			Symbol: symbol,
			Side:   side,
			Type:   domain.Market,
			TIF:    domain.TIFIOC,
			Qty:    absFloat(qty),
		}
		fills, _ := s.eng.Submit(o, ts)
		if len(fills) == 0 {
			return // no liquidity to close against; give up this tick
		}
		s.settleFills(symbol, fills, emitEvents)
		s.log.Warn("forced liquidation", "symbol", symbol, "qty", o.Qty, "side", side)
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (s *Session) releaseReservation(orderID string) {
	s.mu.Lock()
	notional, ok := s.orderNotional[orderID]
	if ok {
		delete(s.orderNotional, orderID)
	}
	s.mu.Unlock()
	if ok {
		s.acct.ReleaseOpenOrderNotional(notional)
	}
}

// symbolEnabled reports whether symbol is part of the session's configured
// universe — the only routable instruments.
func (s *Session) symbolEnabled(symbol string) bool {
	for _, sym := range s.cfg.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

func (s *Session) newsSubscribed(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newsSubs["*"] {
		return true
	}
	return s.newsSubs[symbol]
}

// UpdateNewsSubscriptions enables/disables news delivery for the given
// symbols; "*" activates the wildcard firehose subscription.
func (s *Session) UpdateNewsSubscriptions(symbols []string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sym := range symbols {
		if enabled {
			s.newsSubs[sym] = true
		} else {
			delete(s.newsSubs, sym)
		}
	}
}

// SubmitOrder validates buying power (for orders that may rest), submits to
// the MatchingEngine, reserves/settles notional, and emits ORDER_NEW plus
// any immediate fills.
func (s *Session) SubmitOrder(o *domain.Order) ([]domain.Fill, *domain.Error) {
	const op = "session.Session.SubmitOrder"
	if !s.symbolEnabled(o.Symbol) {
		return nil, domain.NewError(domain.KindRejectedOrder, op, fmt.Sprintf("symbol %q is not enabled for this session", o.Symbol), nil)
	}
	if !s.exec.CanMatch(s.te.Now(), o.TIF) {
		return nil, domain.NewError(domain.KindRejectedOrder, op, "order's TIF is not eligible to match in the current market session", nil)
	}
	if o.ClientOrderID != "" {
		s.mu.Lock()
		if s.clientOrderIDs[o.ClientOrderID] {
			s.mu.Unlock()
			return nil, domain.NewError(domain.KindInvalidInput, op, fmt.Sprintf("client_order_id %q already used in this session", o.ClientOrderID), nil)
		}
		s.clientOrderIDs[o.ClientOrderID] = true
		s.mu.Unlock()
	}

	mayRest := o.TIF == domain.TIFDay || o.TIF == domain.TIFGTC || o.TIF == domain.TIFOPG || o.TIF == domain.TIFCLS
	var notional float64
	if mayRest {
		refPrice := o.LimitPrice
		if refPrice <= 0 {
			refPrice = o.StopPrice
		}
		notional = o.Qty * refPrice
		if notional > 0 {
			if err := s.acct.ReserveOpenOrderNotional(notional); err != nil {
				return nil, err
			}
		}
	}

	now := s.te.Now()
	fills, err := s.eng.Submit(o, now)
	if err != nil {
		if notional > 0 {
			s.acct.ReleaseOpenOrderNotional(notional)
		}
		return nil, err
	}
	if notional > 0 {
		s.mu.Lock()
		s.orderNotional[o.ID] = notional
		s.mu.Unlock()
	}

	s.emitEvent(now, domain.EventOrderNew, o.Symbol, o)
	s.settleFills(o.Symbol, fills, true)
	if o.Status.Terminal() {
		s.releaseReservation(o.ID)
	}
	return fills, nil
}

// CancelOrder cancels a resting order and releases its reserved notional.
func (s *Session) CancelOrder(symbol, orderID string) (*domain.Order, *domain.Error) {
	o, err := s.eng.Cancel(symbol, orderID, s.te.Now())
	if err != nil {
		return nil, err
	}
	s.releaseReservation(orderID)
	s.emitEvent(o.UpdatedAt, domain.EventOrderCancel, symbol, o)
	return o, nil
}

// ReplaceOrder cancels orderID and resubmits it with updated qty/limit/stop,
// preserving its ID. Fills the replacement generates immediately (it may be
// marketable at its new price) are settled and reported like any others.
func (s *Session) ReplaceOrder(symbol, orderID string, newQty, newLimitPrice, newStopPrice float64) (*domain.Order, *domain.Error) {
	s.releaseReservation(orderID)
	o, fills, err := s.eng.Replace(symbol, orderID, newQty, newLimitPrice, newStopPrice, s.te.Now())
	if err != nil {
		return nil, err
	}
	if o.LimitPrice > 0 && !o.Status.Terminal() {
		notional := o.Remaining() * o.LimitPrice
		if rerr := s.acct.ReserveOpenOrderNotional(notional); rerr == nil {
			s.mu.Lock()
			s.orderNotional[o.ID] = notional
			s.mu.Unlock()
		}
	}
	s.emitEvent(o.UpdatedAt, domain.EventOrderReplace, symbol, o)
	s.settleFills(symbol, fills, true)
	return o, nil
}

// GetOrders returns every order the session's matching engine has seen for
// symbol.
func (s *Session) GetOrders(symbol string) []*domain.Order { return s.eng.GetOrders(symbol) }

// GetOrder returns a single order by ID.
func (s *Session) GetOrder(symbol, orderID string) (*domain.Order, bool) {
	return s.eng.GetOrder(symbol, orderID)
}

// GetAccountState returns the session's current account snapshot.
func (s *Session) GetAccountState() domain.AccountState { return s.acct.State() }

// GetPositions returns the session's current open positions.
func (s *Session) GetPositions() []domain.Position { return s.acct.Positions() }

// PerformanceReport returns the session's recorded equity curve and derived
// metrics, annualizing Sharpe assuming periodsPerYear samples/year.
func (s *Session) PerformanceReport(periodsPerYear float64) domain.PerformanceReport {
	return s.perf.Report(periodsPerYear)
}

// ApplyDividend is a test-visible hook equivalent to a DIVIDEND data-source
// event, bypassing the replay loop.
func (s *Session) ApplyDividend(symbol string, perShare float64) {
	s.acct.ApplyDividend(symbol, perShare)
	now := s.te.Now()
	s.emitEvent(now, domain.EventDividend, symbol, domain.DividendRecord{Symbol: symbol, PerShare: perShare})
	s.emitEvent(now, domain.EventAccountUpdate, symbol, s.acct.State())
}

// ApplySplit is a test-visible hook equivalent to a SPLIT data-source event.
func (s *Session) ApplySplit(symbol string, ratio float64) {
	s.acct.ApplySplit(symbol, ratio)
	now := s.te.Now()
	s.emitEvent(now, domain.EventSplit, symbol, domain.StockSplitRecord{Symbol: symbol, Ratio: ratio})
	s.emitEvent(now, domain.EventAccountUpdate, symbol, s.acct.State())
}

func (s *Session) emitEvent(ts domain.Timestamp, kind domain.EventKind, symbol string, data any) {
	if s.emit == nil {
		return
	}
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emit(domain.Event{SessionID: s.id, Ts: ts, Kind: kind, Symbol: symbol, Data: data})
}

func (s *Session) emitStatus() {
	s.emitEvent(s.te.Now(), domain.EventSessionStatus, "", s.Status())
}
