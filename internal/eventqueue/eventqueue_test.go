package eventqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketsim/engine/internal/domain"
)

func evt(kind domain.EventKind, ts time.Time) domain.MarketEvent {
	return domain.MarketEvent{Kind: kind, Ts: ts, Symbol: "AAPL"}
}

func TestPushPop_OrdersByTimestamp(t *testing.T) {
	q := New(0, domain.OverflowBlock)
	t0 := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	require.True(t, q.Push(evt(domain.EventTrade, t0.Add(3*time.Second))))
	require.True(t, q.Push(evt(domain.EventTrade, t0.Add(1*time.Second))))
	require.True(t, q.Push(evt(domain.EventTrade, t0.Add(2*time.Second))))

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Second), first.Ts)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, t0.Add(2*time.Second), second.Ts)

	third, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, t0.Add(3*time.Second), third.Ts)
}

func TestPushPop_TieBreaksByPrecedenceThenArrival(t *testing.T) {
	q := New(0, domain.OverflowBlock)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	require.True(t, q.Push(evt(domain.EventTrade, ts)))
	require.True(t, q.Push(evt(domain.EventSplit, ts)))
	require.True(t, q.Push(evt(domain.EventQuote, ts)))
	require.True(t, q.Push(evt(domain.EventDividend, ts)))

	order := make([]domain.EventKind, 0, 4)
	for i := 0; i < 4; i++ {
		e, ok := q.Pop()
		require.True(t, ok)
		order = append(order, e.Kind)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventSplit, domain.EventDividend, domain.EventQuote, domain.EventTrade,
	}, order)
}

func TestPushPop_ArrivalSeqBreaksExactTies(t *testing.T) {
	q := New(0, domain.OverflowBlock)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.True(t, q.Push(evt(domain.EventTrade, ts)))
	}
	var seqs []uint64
	for i := 0; i < 5; i++ {
		e, ok := q.Pop()
		require.True(t, ok)
		seqs = append(seqs, e.ArrivalSeq)
	}
	for i := 1; i < len(seqs); i++ {
		assert.Less(t, seqs[i-1], seqs[i])
	}
}

func TestOverflow_DropNewestRejectsPush(t *testing.T) {
	q := New(2, domain.OverflowDropNewest)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	require.True(t, q.Push(evt(domain.EventTrade, ts)))
	require.True(t, q.Push(evt(domain.EventTrade, ts.Add(time.Second))))
	accepted := q.Push(evt(domain.EventTrade, ts.Add(2*time.Second)))

	assert.False(t, accepted)
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
}

func TestOverflow_DropOldestEvictsLowestOrdered(t *testing.T) {
	q := New(2, domain.OverflowDropOldest)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

	require.True(t, q.Push(evt(domain.EventTrade, ts)))
	require.True(t, q.Push(evt(domain.EventTrade, ts.Add(time.Second))))
	require.True(t, q.Push(evt(domain.EventTrade, ts.Add(2*time.Second))))

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, uint64(1), q.Dropped())

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, ts.Add(time.Second), first.Ts)
}

func TestOverflow_BlockWaitsForCapacity(t *testing.T) {
	q := New(1, domain.OverflowBlock)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	require.True(t, q.Push(evt(domain.EventTrade, ts)))

	var wg sync.WaitGroup
	wg.Add(1)
	pushed := make(chan bool, 1)
	go func() {
		defer wg.Done()
		pushed <- q.Push(evt(domain.EventTrade, ts.Add(time.Second)))
	}()

	select {
	case <-pushed:
		t.Fatal("blocking push returned before capacity freed")
	case <-time.After(50 * time.Millisecond):
	}

	_, ok := q.Pop()
	require.True(t, ok)

	select {
	case accepted := <-pushed:
		assert.True(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("blocking push never unblocked")
	}
	wg.Wait()
}

func TestClose_WakesBlockedPopAndPush(t *testing.T) {
	q := New(1, domain.OverflowBlock)
	ts := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	require.True(t, q.Push(evt(domain.EventTrade, ts)))

	popDone := make(chan bool, 1)
	go func() {
		_, ok := q.Pop() // consumes the one queued event
		popDone <- ok
	}()
	<-popDone

	blockedPop := make(chan bool, 1)
	go func() {
		_, ok := q.Pop()
		blockedPop <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-blockedPop:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake blocked Pop")
	}

	assert.False(t, q.Push(evt(domain.EventTrade, ts)))
}
