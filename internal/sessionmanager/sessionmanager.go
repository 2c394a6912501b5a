// Package sessionmanager implements the SessionManager: the registry that
// creates, starts, and tears down independent Session instances, fans out
// their outbound Events to process-wide subscribers, and exposes the
// order/introspection surface external broker-protocol adapters call
// through. Many sessions run concurrently in one process; SessionManager
// is the only thing that knows about all of them at once.
package sessionmanager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/marketsim/engine/internal/domain"
	"github.com/marketsim/engine/internal/execpolicy"
	"github.com/marketsim/engine/internal/ports"
	"github.com/marketsim/engine/internal/ratelimit"
	"github.com/marketsim/engine/internal/session"
)

// DataSourceOpener opens a DataSource scoped to symbols/[start,end) for one
// session. SessionManager is handed exactly one opener at construction and
// forwards it unchanged to every Session it creates (and re-invokes it on
// jump_to); swapping data-source implementations means swapping this one
// function, never touching the core.
type DataSourceOpener = session.OpenDataSource

// entry is one session's registry row: the Session itself, which also holds
// the ExecutionPolicy it was created with.
type entry struct {
	sess *session.Session
}

// Manager is the process-wide coordinator of every running simulation
// session. Its registry is guarded by a reader-writer lock: lookups (the
// common case — order submission, introspection) take the read side,
// create/destroy take the write side.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	opener DataSourceOpener
	log    *slog.Logger

	submitLimiter   *ratelimit.Limiter
	callbackLimiter *ratelimit.Limiter

	cbMu      sync.RWMutex
	callbacks map[string]ports.EventCallback
	nextCBID  uint64

	perfSink ports.PerformanceSink
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithPerformanceSink attaches an optional sink that persists an equity
// snapshot for every ACCOUNT_UPDATE a session emits. A nil sink (the
// default) is a no-op.
func WithPerformanceSink(sink ports.PerformanceSink) Option {
	return func(m *Manager) { m.perfSink = sink }
}

// WithSubmitRateLimit admission-gates submit_order calls: at most limit
// submissions per windowSeconds, tracked independently per session id.
func WithSubmitRateLimit(limit int, windowSeconds float64) Option {
	return func(m *Manager) { m.submitLimiter = ratelimit.New(limit, windowSeconds) }
}

// WithCallbackRateLimit admission-gates external-callback dispatch: each
// subscriber is throttled to at most limit deliveries per windowSeconds,
// blocking the dispatch goroutine (via Limiter.Wait) rather than dropping
// events, so a slow or bursty external subscriber never outruns what it can
// actually consume. A nil limiter (the default) dispatches unthrottled.
func WithCallbackRateLimit(limit int, windowSeconds float64) Option {
	return func(m *Manager) { m.callbackLimiter = ratelimit.New(limit, windowSeconds) }
}

// New creates a Manager with no sessions. opener supplies the DataSource
// every session reads its replay stream from.
func New(opener DataSourceOpener, opts ...Option) *Manager {
	m := &Manager{
		sessions:      make(map[string]*entry),
		opener:        opener,
		log:           slog.Default().With("component", "sessionmanager"),
		submitLimiter: ratelimit.New(100, 1.0),
		callbacks:     make(map[string]ports.EventCallback),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// newSessionID mints a 256-bit hex session id from two UUIDs' raw bytes —
// twice the entropy of a single UUID, concatenated rather than hashed so
// the id stays trivially reproducible from its constituent randomness for
// debugging.
func newSessionID() string {
	a, b := uuid.New(), uuid.New()
	buf := make([]byte, 0, 32)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return hex.EncodeToString(buf)
}

// newOrderID mints an order id. Falls back to crypto/rand if uuid
// generation ever fails (it practically never does; google/uuid only
// errors reading the system RNG).
func newOrderID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// CreateSession validates cfg, allocates a new Session in CREATED status,
// and registers it. Nothing runs until StartSession.
func (m *Manager) CreateSession(cfg domain.SessionConfig) (string, *domain.Error) {
	const op = "sessionmanager.Manager.CreateSession"
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	loc := cfg.MarketHoursLocation
	if loc == "" {
		loc = "America/New_York"
	}
	exec := execpolicy.ExecutionPolicy{
		Calendar:           execpolicy.NewCalendar(loc),
		AllowExtendedHours: cfg.AllowExtendedHours,
	}

	id := newSessionID()
	sess := session.New(id, cfg, m.opener, exec, m.makeEmit(id))

	m.mu.Lock()
	m.sessions[id] = &entry{sess: sess}
	m.mu.Unlock()

	m.log.Info("session created", "id", id, "symbols", cfg.Symbols, "start", cfg.StartTime, "end", cfg.EndTime)
	return id, nil
}

// lookup returns the Session registered under id, or a NotFound error.
func (m *Manager) lookup(op, id string) (*session.Session, *domain.Error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, op, fmt.Sprintf("unknown session %q", id), nil)
	}
	return e.sess, nil
}

// StartSession spawns the session's replay thread. Legal only from CREATED
// or STOPPED.
func (m *Manager) StartSession(id string) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.StartSession", id)
	if err != nil {
		return err
	}
	return sess.Start()
}

// PauseSession idempotently freezes a session's virtual clock.
func (m *Manager) PauseSession(id string) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.PauseSession", id)
	if err != nil {
		return err
	}
	sess.Pause()
	return nil
}

// ResumeSession idempotently continues a paused session.
func (m *Manager) ResumeSession(id string) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.ResumeSession", id)
	if err != nil {
		return err
	}
	sess.Resume()
	return nil
}

// StopSession drains in-flight processing, cancels resting orders, and
// moves the session to STOPPED. Idempotent.
func (m *Manager) StopSession(id string) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.StopSession", id)
	if err != nil {
		return err
	}
	sess.Stop()
	m.submitLimiter.Forget(id)
	return nil
}

// DestroySession removes id from the registry. Not allowed while RUNNING;
// callers must StopSession first. Revokes every lookup handle to the
// session — callers holding a stale id will see NotFound from then on.
func (m *Manager) DestroySession(id string) *domain.Error {
	const op = "sessionmanager.Manager.DestroySession"
	sess, err := m.lookup(op, id)
	if err != nil {
		return err
	}
	if derr := sess.Destroy(); derr != nil {
		return derr
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.submitLimiter.Forget(id)
	m.log.Info("session destroyed", "id", id)
	return nil
}

// JumpTo resets a session to a clean "start from here" at t: resting
// orders are canceled, the account is reset to initial capital, and the
// event queue is cleared and refilled from the data source for
// [t, end_time]. Legal from any non-ERROR state.
func (m *Manager) JumpTo(id string, t domain.Timestamp) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.JumpTo", id)
	if err != nil {
		return err
	}
	return sess.JumpTo(t)
}

// FastForward advances id's stream internally to t without invoking
// subscriber callbacks for skipped events, then resumes normal streaming.
func (m *Manager) FastForward(id string, t domain.Timestamp) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.FastForward", id)
	if err != nil {
		return err
	}
	sess.FastForward(t)
	return nil
}

// SetSpeed updates id's replay speed factor.
func (m *Manager) SetSpeed(id string, f float64) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.SetSpeed", id)
	if err != nil {
		return err
	}
	sess.SetSpeed(f)
	return nil
}

// Watermark returns the virtual-time timestamp id has processed up to.
func (m *Manager) Watermark(id string) (domain.Timestamp, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.Watermark", id)
	if err != nil {
		var zero domain.Timestamp
		return zero, err
	}
	return sess.Watermark(), nil
}

// GetSession returns a read-only Snapshot of id's current state.
func (m *Manager) GetSession(id string) (domain.Snapshot, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.GetSession", id)
	if err != nil {
		return domain.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// ListSessions returns a Snapshot for every currently registered session.
func (m *Manager) ListSessions() []domain.Snapshot {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]domain.Snapshot, len(entries))
	for i, e := range entries {
		out[i] = e.sess.Snapshot()
	}
	return out
}

// GetAccountState returns id's current account snapshot.
func (m *Manager) GetAccountState(id string) (domain.AccountState, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.GetAccountState", id)
	if err != nil {
		return domain.AccountState{}, err
	}
	return sess.GetAccountState(), nil
}

// GetPositions returns id's current open positions.
func (m *Manager) GetPositions(id string) ([]domain.Position, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.GetPositions", id)
	if err != nil {
		return nil, err
	}
	return sess.GetPositions(), nil
}

// PerformanceReport returns id's recorded equity curve and derived
// metrics, annualizing Sharpe assuming periodsPerYear samples/year.
func (m *Manager) PerformanceReport(id string, periodsPerYear float64) (domain.PerformanceReport, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.PerformanceReport", id)
	if err != nil {
		return domain.PerformanceReport{}, err
	}
	return sess.PerformanceReport(periodsPerYear), nil
}

// SubmitOrder admission-gates, id-stamps, and routes o to id's matching
// engine. The caller must leave o.ID empty; SubmitOrder assigns it.
func (m *Manager) SubmitOrder(id string, o *domain.Order) ([]domain.Fill, *domain.Error) {
	const op = "sessionmanager.Manager.SubmitOrder"
	sess, err := m.lookup(op, id)
	if err != nil {
		return nil, err
	}
	if !m.submitLimiter.Allow(id) {
		return nil, domain.NewError(domain.KindRejectedOrder, op, "submit rate limit exceeded for session", nil)
	}
	o.ID = newOrderID()
	o.SessionID = id
	fills, serr := sess.SubmitOrder(o)
	if serr != nil {
		m.log.Warn("order rejected", "session", id, "symbol", o.Symbol, "kind", serr.Kind, "reason", serr.Message)
		return nil, serr
	}
	return fills, nil
}

// CancelOrder cancels orderID on symbol within session id.
func (m *Manager) CancelOrder(id, symbol, orderID string) (*domain.Order, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.CancelOrder", id)
	if err != nil {
		return nil, err
	}
	return sess.CancelOrder(symbol, orderID)
}

// ReplaceOrder cancels orderID and resubmits it with updated qty/limit/stop
// within session id, preserving its id. A replace never moves an order to a
// different symbol; that is a cancel plus a new submit.
func (m *Manager) ReplaceOrder(id, symbol, orderID string, newQty, newLimitPrice, newStopPrice float64) (*domain.Order, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.ReplaceOrder", id)
	if err != nil {
		return nil, err
	}
	return sess.ReplaceOrder(symbol, orderID, newQty, newLimitPrice, newStopPrice)
}

// GetOrders returns every order id's matching engine has seen for symbol.
func (m *Manager) GetOrders(id, symbol string) ([]*domain.Order, *domain.Error) {
	sess, err := m.lookup("sessionmanager.Manager.GetOrders", id)
	if err != nil {
		return nil, err
	}
	return sess.GetOrders(symbol), nil
}

// GetOrder returns a single order by id within session id.
func (m *Manager) GetOrder(id, symbol, orderID string) (*domain.Order, *domain.Error) {
	const op = "sessionmanager.Manager.GetOrder"
	sess, err := m.lookup(op, id)
	if err != nil {
		return nil, err
	}
	o, ok := sess.GetOrder(symbol, orderID)
	if !ok {
		return nil, domain.NewError(domain.KindNotFound, op, fmt.Sprintf("unknown order %q", orderID), nil)
	}
	return o, nil
}

// UpdateNewsSubscriptions enables/disables news delivery for symbols within
// session id. "*" activates the wildcard firehose subscription (market-wide
// news not limited to the session's configured symbol set).
func (m *Manager) UpdateNewsSubscriptions(id string, symbols []string, enabled bool) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.UpdateNewsSubscriptions", id)
	if err != nil {
		return err
	}
	sess.UpdateNewsSubscriptions(symbols, enabled)
	return nil
}

// ApplyDividend is a test-visible hook equivalent to a DIVIDEND data-source
// event for session id, bypassing the replay loop.
func (m *Manager) ApplyDividend(id, symbol string, perShare float64) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.ApplyDividend", id)
	if err != nil {
		return err
	}
	sess.ApplyDividend(symbol, perShare)
	return nil
}

// ApplySplit is a test-visible hook equivalent to a SPLIT data-source event
// for session id.
func (m *Manager) ApplySplit(id, symbol string, ratio float64) *domain.Error {
	sess, err := m.lookup("sessionmanager.Manager.ApplySplit", id)
	if err != nil {
		return err
	}
	sess.ApplySplit(symbol, ratio)
	return nil
}

// AddEventCallback registers cb to receive every outbound Event from every
// session. Returns an unsubscribe id for RemoveEventCallback. Callbacks are
// invoked with each session's lock released, one after another on the
// goroutine that emitted the event. A panicking callback is isolated: its
// panic is recovered and logged, and the other subscribers still receive
// the event. A slow callback delays the subscribers after it.
func (m *Manager) AddEventCallback(cb ports.EventCallback) string {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.nextCBID++
	subID := fmt.Sprintf("cb-%d", m.nextCBID)
	m.callbacks[subID] = cb
	return subID
}

// RemoveEventCallback unsubscribes a callback previously registered with
// AddEventCallback.
func (m *Manager) RemoveEventCallback(subID string) {
	m.cbMu.Lock()
	delete(m.callbacks, subID)
	m.cbMu.Unlock()
	if m.callbackLimiter != nil {
		m.callbackLimiter.Forget(subID)
	}
}

// subscriber pairs a registered callback with the id dispatch/Wait key on.
type subscriber struct {
	id string
	cb ports.EventCallback
}

// makeEmit builds the per-session emit function passed to session.New: it
// fans ev out to every registered subscriber, recovering and logging any
// callback panic so one misbehaving subscriber never takes down the
// session's replay thread or the other subscribers.
func (m *Manager) makeEmit(sessionID string) func(domain.Event) {
	return func(ev domain.Event) {
		m.cbMu.RLock()
		subs := make([]subscriber, 0, len(m.callbacks))
		for id, cb := range m.callbacks {
			subs = append(subs, subscriber{id: id, cb: cb})
		}
		m.cbMu.RUnlock()

		for _, sub := range subs {
			m.dispatch(sessionID, sub, ev)
		}

		if ev.Kind == domain.EventAccountUpdate {
			m.recordPerformance(sessionID, ev)
		}
	}
}

// dispatch invokes sub's callback with ev, isolating a panic to this one
// subscriber. When a callback rate limit is configured, it waits for a
// permit first, blocking the goroutine that emitted ev: the session's
// replay loop, or the API caller (e.g. submit_order) whose request
// produced it.
func (m *Manager) dispatch(sessionID string, sub subscriber, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event callback panicked", "session", sessionID, "event", ev.Kind, "recovered", r)
		}
	}()
	if m.callbackLimiter != nil {
		if err := m.callbackLimiter.Wait(context.Background(), sub.id); err != nil {
			m.log.Warn("callback dispatch wait canceled", "session", sessionID, "subscriber", sub.id, "err", err)
			return
		}
	}
	sub.cb(ev)
}

func (m *Manager) recordPerformance(sessionID string, ev domain.Event) {
	if m.perfSink == nil {
		return
	}
	st, ok := ev.Data.(domain.AccountState)
	if !ok {
		return
	}
	snap := domain.PerformanceSnapshot{Ts: ev.Ts, Equity: st.Equity}
	if err := m.perfSink.RecordSnapshot(sessionID, snap); err != nil {
		m.log.Warn("performance sink write failed", "session", sessionID, "err", err)
	}
}
