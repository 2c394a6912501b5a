// Package account implements the per-session AccountManager: cash,
// positions, margin/buying-power checks, corporate-action application,
// and margin-call forced liquidation.
package account

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/marketsim/engine/internal/domain"
)

// Manager owns a session's cash, positions, and accrued fees. A session
// owns exactly one Manager and serializes access to it under its own lock.
type Manager struct {
	mu sync.Mutex

	cash        float64
	accruedFees float64
	realizedPL  float64
	positions   map[string]*domain.Position
	marks       map[string]float64 // last_known_price per symbol

	margin domain.MarginPolicy
	fees   domain.FeeSchedule

	// openOrderNotional reserves buying power for resting orders not yet
	// filled, so acceptance checks see the same projected exposure the
	// matching engine will eventually realize.
	openOrderNotional float64
}

// New creates a Manager seeded with initialCapital cash and no positions.
func New(initialCapital float64, margin domain.MarginPolicy, fees domain.FeeSchedule) *Manager {
	return &Manager{
		cash:      initialCapital,
		positions: make(map[string]*domain.Position),
		marks:     make(map[string]float64),
		margin:    margin,
		fees:      fees,
	}
}

// Reset restores the account to initialCapital with no positions, no
// reserved notional, and no accrued fees — used by jump_to.
func (m *Manager) Reset(initialCapital float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cash = initialCapital
	m.accruedFees = 0
	m.realizedPL = 0
	m.positions = make(map[string]*domain.Position)
	m.openOrderNotional = 0
}

// MarkPrice records symbol's last known price, used for equity/position
// valuation until the next QUOTE/TRADE updates it.
func (m *Manager) MarkPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[symbol] = price
}

// State returns a snapshot of the account's current financials.
func (m *Manager) State() domain.AccountState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() domain.AccountState {
	var lmv, smv, unrealized float64
	for sym, p := range m.positions {
		mark := m.marks[sym]
		mv := p.MarketValue(mark)
		if p.Qty > 0 {
			lmv += mv
		} else if p.Qty < 0 {
			smv += mv
		}
		unrealized += p.UnrealizedPL(mark)
	}
	equity := m.cash + lmv + smv
	bp := equity*m.margin.BuyingPowerMultiplier() - m.openOrderNotional
	if bp < 0 {
		bp = 0
	}
	return domain.AccountState{
		Cash:             m.cash,
		Equity:           equity,
		BuyingPower:      bp,
		LongMarketValue:  lmv,
		ShortMarketValue: smv,
		UnrealizedPL:     unrealized,
		RealizedPL:       m.realizedPL,
		AccruedFees:      m.accruedFees,
	}
}

// Positions returns a copy of every non-flat position.
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ReserveOpenOrderNotional checks whether accepting a new order of the
// given notional would leave buying power non-negative, and if so reserves
// it. Returns RejectedOrder if the projected buying power would go
// negative.
func (m *Manager) ReserveOpenOrderNotional(notional float64) *domain.Error {
	const op = "account.Manager.ReserveOpenOrderNotional"
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateLocked()
	if st.BuyingPower-notional < 0 {
		return domain.NewError(domain.KindRejectedOrder, op, "insufficient buying power", nil)
	}
	m.openOrderNotional += notional
	return nil
}

// ReleaseOpenOrderNotional frees a previously reserved notional once an
// order leaves the book (filled, canceled, expired, rejected).
func (m *Manager) ReleaseOpenOrderNotional(notional float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrderNotional -= notional
	if m.openOrderNotional < 0 {
		m.openOrderNotional = 0
	}
}

// ApplyFill applies a single execution to cash, positions, and accrued
// fees. side is the filled order's side; fees is the fee computed for this
// fill (see domain.FeeSchedule.Compute).
func (m *Manager) ApplyFill(symbol string, fill domain.Fill, side domain.Side, fees float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.marks[symbol] = fill.FillPrice
	m.accruedFees += fees

	p, ok := m.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		m.positions[symbol] = p
	}

	signedQty := fill.FillQty
	if side == domain.Sell {
		signedQty = -signedQty
		m.cash += fill.FillQty*fill.FillPrice - fees
	} else {
		m.cash -= fill.FillQty*fill.FillPrice + fees
	}

	m.applyPositionDelta(p, signedQty, fill.FillPrice)
	if p.Qty == 0 {
		delete(m.positions, symbol)
	}
}

// applyPositionDelta folds a signed quantity delta at execPrice into p,
// recomputing avg_entry_price as a volume-weighted average and realizing
// P&L against the prior basis whenever the position crosses through (or
// reduces toward) zero.
func (m *Manager) applyPositionDelta(p *domain.Position, delta, execPrice float64) {
	switch {
	case p.Qty == 0:
		p.Qty = delta
		p.AvgEntryPrice = execPrice

	case sameSign(p.Qty, delta):
		// Adding to the existing side: volume-weighted average entry.
		newQty := p.Qty + delta
		p.AvgEntryPrice = (p.AvgEntryPrice*math.Abs(p.Qty) + execPrice*math.Abs(delta)) / math.Abs(newQty)
		p.Qty = newQty

	default:
		// Reducing, flattening, or crossing through zero: the closing
		// portion realizes P&L against the prior basis; any excess beyond
		// the prior quantity opens a fresh position at execPrice.
		prevQty := p.Qty
		closing := math.Min(math.Abs(delta), math.Abs(prevQty))
		realized := closing * (execPrice - p.AvgEntryPrice)
		if prevQty < 0 {
			realized = -realized
		}
		p.RealizedPL += realized
		m.realizedPL += realized

		p.Qty = prevQty + delta
		if math.Abs(delta) > math.Abs(prevQty) {
			p.AvgEntryPrice = execPrice
		}
	}
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return true
	}
	return (a > 0) == (b > 0)
}

// ApplyDividend credits/debits cash for a per-share dividend on symbol.
// Long holders are credited, short holders pay.
func (m *Manager) ApplyDividend(symbol string, perShare float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok || p.Qty == 0 {
		return
	}
	m.cash += p.Qty * perShare
}

// ApplySplit adjusts symbol's position quantity and average entry price
// for a forward/reverse split of the given ratio (e.g. 2.0 for a 2-for-1).
func (m *Manager) ApplySplit(symbol string, ratio float64) {
	if ratio <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[symbol]
	if !ok {
		return
	}
	p.Qty *= ratio
	p.AvgEntryPrice /= ratio
}

// MaintenanceBreach reports whether equity has fallen below the
// maintenance-margin requirement given current gross market value
// exposure, and the current equity/requirement for logging.
func (m *Manager) MaintenanceBreach() (breached bool, equity, requirement float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.margin.EnableMarginCallChecks {
		return false, 0, 0
	}
	st := m.stateLocked()
	gross := math.Abs(st.LongMarketValue) + math.Abs(st.ShortMarketValue)
	req := m.margin.MaintenanceRequirement(gross)
	return st.Equity < req, st.Equity, req
}

// LiquidationCandidates returns symbols with an open position ordered by
// descending absolute market value — the order forced liquidation sells
// down first.
func (m *Manager) LiquidationCandidates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	type entry struct {
		symbol string
		absMV  float64
	}
	entries := make([]entry, 0, len(m.positions))
	for sym, p := range m.positions {
		entries = append(entries, entry{sym, math.Abs(p.MarketValue(m.marks[sym]))})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].absMV > entries[j].absMV })
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.symbol
	}
	return out
}

// PositionQty returns the current signed quantity held in symbol.
func (m *Manager) PositionQty(symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.positions[symbol]; ok {
		return p.Qty
	}
	return 0
}

// ComputeFee delegates to the configured FeeSchedule for a fill of the
// given side/qty/price.
func (m *Manager) ComputeFee(side domain.Side, qty, price float64) float64 {
	return m.fees.Compute(side, qty, price)
}

// String is used in logging to render a compact account summary.
func (m *Manager) String() string {
	st := m.State()
	return fmt.Sprintf("cash=%.2f equity=%.2f bp=%.2f unrealized=%.2f realized=%.2f fees=%.2f",
		st.Cash, st.Equity, st.BuyingPower, st.UnrealizedPL, st.RealizedPL, st.AccruedFees)
}
