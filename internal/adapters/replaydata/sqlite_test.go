package replaydata_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/internal/adapters/replaydata"
	"github.com/marketsim/engine/internal/domain"
)

func openTestStore(t *testing.T) *replaydata.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "replay.db")
	store, err := replaydata.Open(path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.CloseStore() })
	return store
}

func TestStoreStreamsEventsInOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	_, err := store.ExecForTest(ctx,
		`INSERT INTO quotes (ts, symbol, bid_price, bid_size, ask_price, ask_size, bid_ex, ask_ex, tape) VALUES (?, 'AAPL', 100.0, 100, 101.0, 100, 'Q', 'Q', 'C')`,
		base)
	require.NoError(t, err)
	_, err = store.ExecForTest(ctx,
		`INSERT INTO trades (ts, symbol, price, size, exchange, conditions, tape) VALUES (?, 'AAPL', 100.5, 10, 'Q', '', 'C')`,
		base)
	require.NoError(t, err)
	_, err = store.ExecForTest(ctx,
		`INSERT INTO splits (symbol, ex_date, ratio, from_frac, to_frac) VALUES ('AAPL', ?, 2.0, 1, 2)`,
		base)
	require.NoError(t, err)

	cursor, err := store.OpenCursor([]string{"AAPL"}, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	defer cursor.Close()

	ev1, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.EventSplit, ev1.Kind, "split must precede quote/trade at the same timestamp")

	ev2, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.EventQuote, ev2.Kind)

	ev3, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.EventTrade, ev3.Kind)

	_, ok, err = cursor.Next(ctx)
	require.NoError(t, err)
	require.False(t, ok, "window is exhausted")
}

func TestStoreWindowExcludesOutOfRangeRecords(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	inside := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	before := inside.Add(-48 * time.Hour)
	after := inside.Add(48 * time.Hour)

	for _, ts := range []time.Time{before, inside, after} {
		_, err := store.ExecForTest(ctx,
			`INSERT INTO trades (ts, symbol, price, size, exchange, conditions, tape) VALUES (?, 'MSFT', 400.0, 5, 'Q', '', 'C')`,
			ts)
		require.NoError(t, err)
	}

	cursor, err := store.OpenCursor([]string{"MSFT"}, inside.Add(-time.Hour), inside.Add(time.Hour))
	require.NoError(t, err)
	defer cursor.Close()

	ev, ok, err := cursor.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, ev.Ts.Equal(inside))

	_, ok, _ = cursor.Next(ctx)
	require.False(t, ok)
}

func TestReferenceStoreClampsByAsOf(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.ExecForTest(ctx,
		`INSERT INTO company_profiles (symbol, name, exchange, industry, country, market_cap, shares_out, ipo_date, as_of)
		 VALUES ('AAPL', 'Apple Inc.', 'NASDAQ', 'Tech', 'US', 3e12, 15e9, ?, ?)`,
		early, early)
	require.NoError(t, err)

	profile, err := store.CompanyProfile(ctx, "AAPL", early.Add(-time.Hour))
	require.NoError(t, err)
	require.Nil(t, profile, "as_of before the record's as_of must not see it (no-lookahead)")

	profile, err = store.CompanyProfile(ctx, "AAPL", late)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, "Apple Inc.", profile.Name)
}

func TestPerformanceLogRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	log := store.PerformanceLog()

	base := time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)
	require.NoError(t, log.RecordSnapshot("sess-1", domain.PerformanceSnapshot{Ts: base, Equity: 10_000}))
	require.NoError(t, log.RecordSnapshot("sess-1", domain.PerformanceSnapshot{Ts: base.Add(time.Minute), Equity: 10_050}))
	require.NoError(t, log.RecordSnapshot("sess-2", domain.PerformanceSnapshot{Ts: base, Equity: 5_000}))

	curve, err := log.EquityCurve(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, curve, 2)
	require.Equal(t, 10_000.0, curve[0].Equity)
	require.Equal(t, 10_050.0, curve[1].Equity)
	require.True(t, curve[0].Ts.Before(curve[1].Ts))
}

func TestStoreIPOsClampedToAsOfDate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	priced := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	asOf := priced.Add(24 * time.Hour)
	_, err := store.ExecForTest(ctx,
		`INSERT INTO ipos (symbol, name, date, exchange, shares_offered, price, status)
		 VALUES ('NEWCO', 'Newco Inc.', ?, 'NASDAQ', 10e6, 20.0, 'priced')`,
		priced)
	require.NoError(t, err)

	ipos, err := store.IPOs(ctx, "NEWCO", asOf)
	require.NoError(t, err)
	require.Len(t, ipos, 1)
	require.Equal(t, "Newco Inc.", ipos[0].Name)
	require.Equal(t, "priced", ipos[0].Status)

	none, err := store.IPOs(ctx, "NEWCO", priced.Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, none)
}
