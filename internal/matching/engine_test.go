package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/internal/domain"
)

func ts(nanos int64) domain.Timestamp {
	return time.Unix(0, nanos*int64(time.Nanosecond))
}

func newOrder(id string, side domain.Side, typ domain.OrderType, tif domain.TIF, qty float64) *domain.Order {
	return &domain.Order{ID: id, Symbol: "AAPL", Side: side, Type: typ, TIF: tif, Qty: qty}
}

// S1: market buy fills at first ask.
func TestS1_MarketBuyFillsAtFirstAsk(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100.0, BidSize: 100, AskPrice: 101.0, AskSize: 100}, ts(1_000_000))

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFDay, 10)
	fills, errs := e.Submit(o, ts(1_000_000))
	require.Nil(t, errs)
	require.Len(t, fills, 1)
	assert.Equal(t, 10.0, fills[0].FillQty)
	assert.Equal(t, 101.0, fills[0].FillPrice)
	assert.Equal(t, domain.StatusFilled, o.Status)
}

// S2: market impact linearly adjusts the fill price away from the touch.
func TestS2_MarketImpactAdjustsFillPrice(t *testing.T) {
	e := New(domain.ImpactPolicy{Enabled: true, ImpactBp: 10})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100.0, BidSize: 100, AskPrice: 101.0, AskSize: 200}, ts(1_000_000))

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFDay, 100)
	fills, errs := e.Submit(o, ts(1_000_000))
	require.Nil(t, errs)
	require.Len(t, fills, 1)
	// bps = 10 * (100/200) = 5; price = 101.0 * 1.0005
	assert.InDelta(t, 101.0*1.0005, fills[0].FillPrice, 1e-9)
}

// S3: IOC limit order that isn't marketable is canceled, never rests.
func TestS3_IOCNotMarketableCancelsImmediately(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 200, BidSize: 50, AskPrice: 201, AskSize: 50}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFIOC, 10)
	o.LimitPrice = 199.0
	fills, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	assert.Empty(t, fills)
	assert.Equal(t, domain.StatusCanceled, o.Status)

	got, ok := e.GetOrder("AAPL", "o1")
	require.True(t, ok)
	assert.True(t, got.Status.Terminal())
}

// S4: GTC order with an expire_at in the past expires on the next NBBO tick.
func TestS4_GTCExpiresPastExpireAt(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 99.0
	expireAt := ts(1_000_000)
	o.ExpireAt = &expireAt

	_, errs := e.Submit(o, ts(0))
	require.Nil(t, errs)

	// The first NBBO tick past expire_at expires the order before any
	// matching runs.
	_, expired := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 150, BidSize: 10, AskPrice: 151, AskSize: 10}, ts(5_000_000))
	require.Len(t, expired, 1)
	assert.Equal(t, "o1", expired[0].ID)
	assert.Equal(t, domain.StatusExpired, expired[0].Status)
}

func TestExpireAt_SweepsAllSymbols(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 99.0
	expireAt := ts(1_000_000)
	o.ExpireAt = &expireAt
	_, errs := e.Submit(o, ts(0))
	require.Nil(t, errs)

	expired := e.ExpireAt(ts(5_000_000))
	require.Len(t, expired, 1)
	assert.Equal(t, domain.StatusExpired, expired[0].Status)
}

func TestFOK_CancelsWhenFullQuantityUnavailable(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 5}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFFOK, 10)
	fills, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	assert.Empty(t, fills)
	assert.Equal(t, domain.StatusCanceled, o.Status)
}

// MARKET orders submitted while the symbol's NBBO is unknown are queued,
// not lost: the first OnNBBO tick after submission should retry and fill
// them exactly as if they'd arrived on that tick.
func TestMarketOrder_QueuedWhenNBBOUnknownThenFillsOnNextNBBO(t *testing.T) {
	e := New(domain.ImpactPolicy{})

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFDay, 10)
	fills, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	assert.Empty(t, fills)
	assert.False(t, o.Status.Terminal())
	assert.Equal(t, domain.StatusPending, o.Status)

	got, ok := e.GetOrder("AAPL", "o1")
	require.True(t, ok)
	assert.False(t, got.Status.Terminal())

	fills2, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 100}, ts(2))
	require.Len(t, fills2, 1)
	assert.Equal(t, 10.0, fills2[0].FillQty)
	assert.Equal(t, 101.0, fills2[0].FillPrice)
	assert.Equal(t, domain.StatusFilled, o.Status)
}

// A MARKET order queued for unknown NBBO that only partially fills on the
// first tick (displayed size smaller than the order) stays queued for the
// remainder and finishes filling on a later tick.
func TestMarketOrder_QueuedPartiallyFillsAcrossMultipleNBBOTicks(t *testing.T) {
	e := New(domain.ImpactPolicy{})

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFDay, 10)
	_, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)

	fills1, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 4}, ts(2))
	require.Len(t, fills1, 1)
	assert.Equal(t, 4.0, fills1[0].FillQty)
	assert.Equal(t, domain.StatusPartiallyFilled, o.Status)

	fills2, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 100}, ts(3))
	require.Len(t, fills2, 1)
	assert.Equal(t, 6.0, fills2[0].FillQty)
	assert.Equal(t, domain.StatusFilled, o.Status)
}

func TestFOK_FillsInFullWhenAvailable(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 50}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Market, domain.TIFFOK, 10)
	fills, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	require.Len(t, fills, 1)
	assert.Equal(t, domain.StatusFilled, o.Status)
}

func TestLimitOrderRestsWhenNotMarketable(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 100}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 99.0
	fills, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	assert.Empty(t, fills)
	assert.Equal(t, domain.StatusPending, o.Status)

	// NBBO drops so the resting limit becomes marketable.
	fills2, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 98, BidSize: 100, AskPrice: 99.0, AskSize: 100}, ts(2))
	require.Len(t, fills2, 1)
	assert.Equal(t, 99.0, fills2[0].FillPrice)
}

func TestStopOrderTriggersAndFillsAsMarket(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 100}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Stop, domain.TIFGTC, 10)
	o.StopPrice = 102.0
	_, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)
	assert.Equal(t, domain.StatusPending, o.Status)

	fills, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 102, BidSize: 100, AskPrice: 103, AskSize: 100}, ts(2))
	require.Len(t, fills, 1)
	assert.Equal(t, 103.0, fills[0].FillPrice)
	assert.True(t, o.Triggered)
}

func TestTrailingStopSell_TriggersOnReversal(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 100.2, AskSize: 100}, ts(1))

	o := newOrder("o1", domain.Sell, domain.TrailingStop, domain.TIFGTC, 10)
	o.TrailPrice = 1.0
	_, errs := e.Submit(o, ts(1))
	require.Nil(t, errs)

	// Price rallies: mark should ratchet up, no trigger yet.
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 105, BidSize: 100, AskPrice: 105.2, AskSize: 100}, ts(2))
	assert.False(t, o.Triggered)

	// Price falls by more than the $1 trail from the new high (mid ~105.1).
	fills, _ := e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 103.5, BidSize: 100, AskPrice: 103.7, AskSize: 100}, ts(3))
	require.Len(t, fills, 1)
	assert.True(t, o.Triggered)
}

func TestCancel_RemovesRestingOrder(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 50.0
	_, _ = e.Submit(o, ts(1))

	canceled, errs := e.Cancel("AAPL", "o1", ts(2))
	require.Nil(t, errs)
	assert.Equal(t, domain.StatusCanceled, canceled.Status)

	_, errs = e.Cancel("AAPL", "o1", ts(3))
	assert.NotNil(t, errs)
	assert.Equal(t, domain.KindNotFound, errs.Kind)
}

func TestReplace_PreservesIDAndAppliesNewFields(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 50.0
	_, _ = e.Submit(o, ts(1))

	replaced, fills, errs := e.Replace("AAPL", "o1", 20, 55.0, 0, ts(2))
	require.Nil(t, errs)
	assert.Empty(t, fills)
	assert.Equal(t, "o1", replaced.ID)
	assert.Equal(t, 20.0, replaced.Qty)
	assert.Equal(t, 55.0, replaced.LimitPrice)
}

// A replace that raises the limit price through the ask is marketable the
// instant it re-enters the book; those fills must be reported to the
// caller, not dropped.
func TestReplace_ImmediatelyMarketableReportsFills(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	_, _ = e.OnNBBO("AAPL", domain.NBBO{Symbol: "AAPL", BidPrice: 100, BidSize: 100, AskPrice: 101, AskSize: 100}, ts(1))

	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o.LimitPrice = 99.0
	_, _ = e.Submit(o, ts(1))

	replaced, fills, errs := e.Replace("AAPL", "o1", 10, 101.0, 0, ts(2))
	require.Nil(t, errs)
	require.Len(t, fills, 1)
	assert.Equal(t, 101.0, fills[0].FillPrice)
	assert.Equal(t, domain.StatusFilled, replaced.Status)
}

func TestCancelDayOrders_CancelsRestingDayOrders(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o := newOrder("o1", domain.Buy, domain.Limit, domain.TIFDay, 10)
	o.LimitPrice = 50.0
	_, _ = e.Submit(o, ts(1))

	canceled := e.CancelDayOrders(ts(2))
	require.Len(t, canceled, 1)
	assert.Equal(t, domain.StatusCanceled, canceled[0].Status)
}

func TestCancelAllResting_ClearsBook(t *testing.T) {
	e := New(domain.ImpactPolicy{})
	o1 := newOrder("o1", domain.Buy, domain.Limit, domain.TIFGTC, 10)
	o1.LimitPrice = 50.0
	o2 := newOrder("o2", domain.Sell, domain.Stop, domain.TIFGTC, 5)
	o2.StopPrice = 40.0
	_, _ = e.Submit(o1, ts(1))
	_, _ = e.Submit(o2, ts(1))

	canceled := e.CancelAllResting(ts(2))
	assert.Len(t, canceled, 2)
}
