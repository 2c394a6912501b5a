package domain

// AccountState is a point-in-time snapshot of a session's account.
// Invariant: Equity == Cash + LongMarketValue + ShortMarketValue;
// BuyingPower >= 0; Cash may go negative only within margin policy.
type AccountState struct {
	Cash              float64
	Equity            float64
	BuyingPower       float64
	LongMarketValue   float64
	ShortMarketValue  float64
	UnrealizedPL      float64
	RealizedPL        float64
	AccruedFees       float64
}

// MarginClass selects the buying-power multiplier applied to equity.
type MarginClass string

const (
	MarginCash     MarginClass = "cash"
	MarginIntraday MarginClass = "intraday"
)

// MarginPolicy configures margin checks and forced liquidation.
type MarginPolicy struct {
	Class                       MarginClass
	CashMultiplier              float64 // default 2x equity
	IntradayLeverage            float64 // default 4x equity
	EnableMarginCallChecks      bool
	EnableForcedLiquidation     bool
	MaintenanceMarginBp         float64 // basis points of gross market value
}

// DefaultMarginPolicy returns the standard multipliers (2x cash, 4x
// intraday) with margin-call checks disabled; enabling them is opt-in via
// the execution configuration.
func DefaultMarginPolicy() MarginPolicy {
	return MarginPolicy{
		Class:             MarginCash,
		CashMultiplier:    2.0,
		IntradayLeverage:  4.0,
	}
}

// BuyingPowerMultiplier returns the multiplier f(equity, policy) applies.
func (m MarginPolicy) BuyingPowerMultiplier() float64 {
	if m.Class == MarginIntraday {
		if m.IntradayLeverage > 0 {
			return m.IntradayLeverage
		}
		return 4.0
	}
	if m.CashMultiplier > 0 {
		return m.CashMultiplier
	}
	return 2.0
}

// MaintenanceRequirement returns the minimum equity below which a margin
// call is triggered, given current gross market value exposure.
func (m MarginPolicy) MaintenanceRequirement(grossMarketValue float64) float64 {
	return grossMarketValue * (m.MaintenanceMarginBp / 10_000)
}

// FeeSchedule configures per-fill commission and regulatory fees, applied
// at fill time by the AccountManager.
type FeeSchedule struct {
	PerOrderCommission float64
	PerShareCommission float64
	SECFeePerMillion   float64 // sell-only, per $1,000,000 notional
	FINRATAFPerShare   float64
	FINRATAFCap        float64
	TakerFeePerShare   float64
}

// Compute returns the total fee for one fill given its side, quantity, and
// price (the notional value is qty*price).
func (f FeeSchedule) Compute(side Side, qty, price float64) float64 {
	notional := qty * price
	fee := f.PerOrderCommission + f.PerShareCommission*qty + f.TakerFeePerShare*qty

	if side == Sell {
		fee += notional / 1_000_000 * f.SECFeePerMillion

		taf := f.FINRATAFPerShare * qty
		if f.FINRATAFCap > 0 && taf > f.FINRATAFCap {
			taf = f.FINRATAFCap
		}
		fee += taf
	}
	return fee
}

// ImpactPolicy configures the optional linear market-impact fill-price
// adjustment.
type ImpactPolicy struct {
	Enabled  bool
	ImpactBp float64
}

// Adjust returns the impact-adjusted fill price: price is pushed away from
// the touch by impactBps * (orderQty / availableSize) basis points,
// linearly, capped at impactBps.
func (p ImpactPolicy) Adjust(touch float64, side Side, orderQty, availableSize float64) float64 {
	if !p.Enabled || availableSize <= 0 {
		return touch
	}
	bps := p.ImpactBp * (orderQty / availableSize)
	if bps > p.ImpactBp {
		bps = p.ImpactBp
	}
	if bps < 0 {
		bps = 0
	}
	adj := touch * (bps / 10_000)
	if side == Buy {
		return touch + adj
	}
	return touch - adj
}
