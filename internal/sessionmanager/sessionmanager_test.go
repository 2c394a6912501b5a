package sessionmanager_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/internal/domain"
	"github.com/marketsim/engine/internal/ports"
	"github.com/marketsim/engine/internal/sessionmanager"
)

// fakeDataSource replays a fixed, pre-filtered slice of MarketEvents,
// mirroring internal/session's test double.
type fakeDataSource struct {
	mu     sync.Mutex
	events []domain.MarketEvent
	idx    int
}

func (f *fakeDataSource) Next(ctx context.Context) (domain.MarketEvent, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.events) {
		return domain.MarketEvent{}, false, nil
	}
	ev := f.events[f.idx]
	f.idx++
	return ev, true, nil
}

func (f *fakeDataSource) Close() error { return nil }

var _ ports.DataSource = (*fakeDataSource)(nil)

var marketNoon = time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)

func ts(seconds int64) domain.Timestamp {
	return marketNoon.Add(time.Duration(seconds) * time.Second)
}

func quoteEvent(ts domain.Timestamp, symbol string, bid, bidSz, ask, askSz float64) domain.MarketEvent {
	return domain.MarketEvent{
		Kind:   domain.EventQuote,
		Ts:     ts,
		Symbol: symbol,
		Quote:  &domain.QuoteRecord{Ts: ts, Symbol: symbol, BidPrice: bid, BidSize: bidSz, AskPrice: ask, AskSize: askSz},
	}
}

func openerFrom(all []domain.MarketEvent) sessionmanager.DataSourceOpener {
	return func(symbols []string, start, end domain.Timestamp) (ports.DataSource, error) {
		var filtered []domain.MarketEvent
		for _, e := range all {
			if !e.Ts.Before(start) && e.Ts.Before(end) {
				filtered = append(filtered, e)
			}
		}
		return &fakeDataSource{events: filtered}, nil
	}
}

func testConfig(symbols []string, start, end domain.Timestamp) domain.SessionConfig {
	return domain.SessionConfig{
		Symbols:             symbols,
		StartTime:           start,
		EndTime:             end,
		InitialCapital:      10_000,
		SpeedFactor:         0,
		QueueCapacity:       1000,
		OverflowPolicy:      domain.OverflowBlock,
		Margin:              domain.DefaultMarginPolicy(),
		MarketHoursLocation: "UTC",
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestManager_CreateStartSubmitOrder(t *testing.T) {
	events := []domain.MarketEvent{
		quoteEvent(ts(0), "AAPL", 100, 100, 101, 100),
		quoteEvent(ts(1), "AAPL", 100, 100, 101, 100),
	}
	mgr := sessionmanager.New(openerFrom(events))

	id, err := mgr.CreateSession(testConfig([]string{"AAPL"}, ts(0), ts(2)))
	require.Nil(t, err)
	require.NotEmpty(t, id)

	snap, err := mgr.GetSession(id)
	require.Nil(t, err)
	assert.Equal(t, domain.SessionCreated, snap.Status)

	require.Nil(t, mgr.StartSession(id))
	waitUntil(t, 2*time.Second, func() bool {
		s, _ := mgr.GetSession(id)
		return s.Status == domain.SessionCompleted
	})

	o := &domain.Order{Symbol: "AAPL", Side: domain.Buy, Type: domain.Market, TIF: domain.TIFDay, Qty: 10}
	fills, err := mgr.SubmitOrder(id, o)
	require.Nil(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].FillPrice)
	assert.NotEmpty(t, o.ID, "SubmitOrder must stamp the order id")
	assert.Equal(t, id, o.SessionID)

	acct, err := mgr.GetAccountState(id)
	require.Nil(t, err)
	assert.InDelta(t, 10_000-10*101, acct.Cash, 1e-9)
}

func TestManager_UnknownSessionIsNotFound(t *testing.T) {
	mgr := sessionmanager.New(openerFrom(nil))
	_, err := mgr.GetSession("does-not-exist")
	require.NotNil(t, err)
	assert.Equal(t, domain.KindNotFound, err.Kind)

	_, err = mgr.SubmitOrder("does-not-exist", &domain.Order{Symbol: "AAPL", Qty: 1})
	require.NotNil(t, err)
	assert.Equal(t, domain.KindNotFound, err.Kind)
}

func TestManager_PauseResumeStop(t *testing.T) {
	events := []domain.MarketEvent{
		quoteEvent(ts(0), "AAPL", 100, 100, 101, 100),
		quoteEvent(ts(50), "AAPL", 100, 100, 101, 100),
	}
	mgr := sessionmanager.New(openerFrom(events))
	cfg := testConfig([]string{"AAPL"}, ts(0), ts(100))
	cfg.SpeedFactor = 1.0 // real-time pacing keeps the session observable mid-run
	id, err := mgr.CreateSession(cfg)
	require.Nil(t, err)
	require.Nil(t, mgr.StartSession(id))

	waitUntil(t, time.Second, func() bool {
		s, _ := mgr.GetSession(id)
		return s.Status == domain.SessionRunning
	})

	require.Nil(t, mgr.PauseSession(id))
	snap, err := mgr.GetSession(id)
	require.Nil(t, err)
	assert.Equal(t, domain.SessionPaused, snap.Status)

	require.Nil(t, mgr.ResumeSession(id))

	o := &domain.Order{Symbol: "AAPL", Side: domain.Buy, Type: domain.Limit, TIF: domain.TIFGTC, Qty: 5, LimitPrice: 90}
	_, err = mgr.SubmitOrder(id, o)
	require.Nil(t, err)

	require.Nil(t, mgr.StopSession(id))
	snap, err = mgr.GetSession(id)
	require.Nil(t, err)
	assert.Equal(t, domain.SessionStopped, snap.Status)

	got, err := mgr.GetOrder(id, "AAPL", o.ID)
	require.Nil(t, err)
	assert.Equal(t, domain.StatusCanceled, got.Status, "stop_session cancels resting orders")
}

func TestManager_DestroySessionRemovesItFromRegistry(t *testing.T) {
	mgr := sessionmanager.New(openerFrom(nil))
	id, err := mgr.CreateSession(testConfig([]string{"AAPL"}, ts(0), ts(100)))
	require.Nil(t, err)

	require.Nil(t, mgr.DestroySession(id))

	_, err = mgr.GetSession(id)
	require.NotNil(t, err)
	assert.Equal(t, domain.KindNotFound, err.Kind)
}

func TestManager_SubmitRateLimitRejectsBurst(t *testing.T) {
	events := []domain.MarketEvent{
		quoteEvent(ts(0), "AAPL", 100, 100, 101, 100),
	}
	mgr := sessionmanager.New(openerFrom(events), sessionmanager.WithSubmitRateLimit(1, 60))
	id, err := mgr.CreateSession(testConfig([]string{"AAPL"}, ts(0), ts(100)))
	require.Nil(t, err)
	require.Nil(t, mgr.StartSession(id))
	waitUntil(t, time.Second, func() bool {
		s, _ := mgr.GetSession(id)
		return s.Status == domain.SessionCompleted
	})

	_, err = mgr.SubmitOrder(id, &domain.Order{Symbol: "AAPL", Side: domain.Buy, Type: domain.Limit, TIF: domain.TIFGTC, Qty: 1, LimitPrice: 90})
	require.Nil(t, err)

	_, err = mgr.SubmitOrder(id, &domain.Order{Symbol: "AAPL", Side: domain.Buy, Type: domain.Limit, TIF: domain.TIFGTC, Qty: 1, LimitPrice: 90})
	require.NotNil(t, err)
	assert.Equal(t, domain.KindRejectedOrder, err.Kind)
}

type memPerfSink struct {
	mu    sync.Mutex
	snaps map[string][]domain.PerformanceSnapshot
}

func (s *memPerfSink) RecordSnapshot(sessionID string, snap domain.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snaps == nil {
		s.snaps = make(map[string][]domain.PerformanceSnapshot)
	}
	s.snaps[sessionID] = append(s.snaps[sessionID], snap)
	return nil
}

func (s *memPerfSink) Close() error { return nil }

func TestManager_PerformanceSinkRecordsOnFills(t *testing.T) {
	events := []domain.MarketEvent{
		quoteEvent(ts(0), "AAPL", 100, 100, 101, 100),
	}
	sink := &memPerfSink{}
	mgr := sessionmanager.New(openerFrom(events), sessionmanager.WithPerformanceSink(sink))
	id, err := mgr.CreateSession(testConfig([]string{"AAPL"}, ts(0), ts(2)))
	require.Nil(t, err)
	require.Nil(t, mgr.StartSession(id))
	waitUntil(t, 2*time.Second, func() bool {
		s, _ := mgr.GetSession(id)
		return s.Status == domain.SessionCompleted
	})

	o := &domain.Order{Symbol: "AAPL", Side: domain.Buy, Type: domain.Market, TIF: domain.TIFDay, Qty: 10}
	_, err = mgr.SubmitOrder(id, o)
	require.Nil(t, err)

	sink.mu.Lock()
	snaps := sink.snaps[id]
	sink.mu.Unlock()
	require.NotEmpty(t, snaps, "a fill must produce an equity snapshot via ACCOUNT_UPDATE")
	assert.InDelta(t, 10_000-10*101+10*101, snaps[len(snaps)-1].Equity, 1e-6,
		"equity is unchanged by the purchase itself (cash becomes stock at the mark)")
}

func TestManager_EventCallbackFanOutSurvivesPanic(t *testing.T) {
	events := []domain.MarketEvent{
		quoteEvent(ts(0), "AAPL", 100, 100, 101, 100),
	}
	mgr := sessionmanager.New(openerFrom(events))

	var mu sync.Mutex
	var seen []domain.EventKind
	mgr.AddEventCallback(func(ev domain.Event) {
		panic("boom")
	})
	mgr.AddEventCallback(func(ev domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Kind)
	})

	id, err := mgr.CreateSession(testConfig([]string{"AAPL"}, ts(0), ts(2)))
	require.Nil(t, err)
	require.Nil(t, mgr.StartSession(id))

	waitUntil(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	})
}
