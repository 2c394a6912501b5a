package matching

import (
	rbt "github.com/emirpasic/gods/v2/trees/redblacktree"

	"github.com/marketsim/engine/internal/domain"
)

// priceLevel is a FIFO queue of resting orders sharing one limit price.
type priceLevel struct {
	price  float64
	orders []*domain.Order
}

func (l *priceLevel) remove(orderID string) bool {
	for i, o := range l.orders {
		if o.ID == orderID {
			l.orders = append(l.orders[:i], l.orders[i+1:]...)
			return true
		}
	}
	return false
}

// book indexes one symbol's resting buy and sell orders by limit price, in
// a red-black tree per side so the match loop can walk price levels in
// O(log n) instead of scanning every resting order on each NBBO tick.
// Ordering is ascending by construction; buys are read from the top
// (highest price first, i.e. most aggressive), sells from the bottom.
type book struct {
	bids *rbt.Tree[float64, *priceLevel]
	asks *rbt.Tree[float64, *priceLevel]

	// stops and trailing orders are not price-indexed: they are triggered
	// by the NBBO/trade tape, not crossed against it, so a linear scan
	// over the (typically small) resting stop set is sufficient.
	stops []*domain.Order

	// pendingMarket holds MARKET orders (DAY/GTC/OPG/CLS only — IOC/FOK are
	// resolved immediately at submit time) with quantity still to fill:
	// submitted while the symbol's NBBO was not yet known, or left over once
	// the displayed size ran out. They are retried on every NBBO update.
	pendingMarket []*domain.Order
}

func newBook() *book {
	return &book{
		bids: rbt.New[float64, *priceLevel](),
		asks: rbt.New[float64, *priceLevel](),
	}
}

func (b *book) sideTree(side domain.Side) *rbt.Tree[float64, *priceLevel] {
	if side == domain.Buy {
		return b.bids
	}
	return b.asks
}

// rest inserts a LIMIT (or triggered STOP_LIMIT) order into its side's book.
func (b *book) rest(o *domain.Order) {
	tree := b.sideTree(o.Side)
	lvl, found := tree.Get(o.LimitPrice)
	if !found {
		lvl = &priceLevel{price: o.LimitPrice}
		tree.Put(o.LimitPrice, lvl)
	}
	lvl.orders = append(lvl.orders, o)
}

// restStop inserts an untriggered STOP/STOP_LIMIT/TRAILING_STOP order.
func (b *book) restStop(o *domain.Order) {
	b.stops = append(b.stops, o)
}

// removeStop removes a resting stop order by ID, reporting whether found.
func (b *book) removeStop(orderID string) (*domain.Order, bool) {
	for i, o := range b.stops {
		if o.ID == orderID {
			b.stops = append(b.stops[:i], b.stops[i+1:]...)
			return o, true
		}
	}
	return nil, false
}

// restPendingMarket queues a MARKET order submitted while the NBBO was
// unknown, to be retried the next time OnNBBO fires for this symbol.
func (b *book) restPendingMarket(o *domain.Order) {
	b.pendingMarket = append(b.pendingMarket, o)
}

// removePendingMarket removes a queued MARKET order by ID, reporting whether
// it was found.
func (b *book) removePendingMarket(orderID string) (*domain.Order, bool) {
	for i, o := range b.pendingMarket {
		if o.ID == orderID {
			b.pendingMarket = append(b.pendingMarket[:i], b.pendingMarket[i+1:]...)
			return o, true
		}
	}
	return nil, false
}

// removeLevelIfEmpty prunes an empty price level from side's tree.
func (b *book) removeLevelIfEmpty(side domain.Side, price float64) {
	tree := b.sideTree(side)
	if lvl, ok := tree.Get(price); ok && len(lvl.orders) == 0 {
		tree.Remove(price)
	}
}

// remove deletes order from its resting side's book by ID.
func (b *book) remove(o *domain.Order) bool {
	tree := b.sideTree(o.Side)
	lvl, found := tree.Get(o.LimitPrice)
	if !found {
		return false
	}
	ok := lvl.remove(o.ID)
	if ok && len(lvl.orders) == 0 {
		tree.Remove(o.LimitPrice)
	}
	return ok
}

// bestBidLevels walks resting buy levels from the highest price down,
// calling visit for each until it returns false.
func (b *book) bestBidLevels(visit func(*priceLevel) bool) {
	keys := b.bids.Keys()
	for i := len(keys) - 1; i >= 0; i-- {
		lvl, ok := b.bids.Get(keys[i])
		if !ok {
			continue
		}
		if !visit(lvl) {
			return
		}
	}
}

// bestAskLevels walks resting sell levels from the lowest price up.
func (b *book) bestAskLevels(visit func(*priceLevel) bool) {
	for _, k := range b.asks.Keys() {
		lvl, ok := b.asks.Get(k)
		if !ok {
			continue
		}
		if !visit(lvl) {
			return
		}
	}
}
