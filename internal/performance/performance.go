// Package performance tracks a session's equity curve and derives the
// return, drawdown, and risk-adjusted performance metrics reported by
// get_session and, optionally, persisted through a ports.PerformanceSink.
package performance

import (
	"math"
	"sync"

	"github.com/marketsim/engine/internal/domain"
)

// Tracker accumulates equity snapshots in time order and computes
// TotalReturn, MaxDrawdown, and SharpeRatio on demand.
type Tracker struct {
	mu             sync.Mutex
	initialCapital float64
	curve          []domain.PerformanceSnapshot
}

// New creates a Tracker seeded with the session's starting capital.
func New(initialCapital float64) *Tracker {
	return &Tracker{initialCapital: initialCapital}
}

// Record appends an equity observation. Observations must arrive in
// non-decreasing Ts order; out-of-order points are still appended (the
// caller, not the Tracker, owns ordering) but will distort Sharpe's
// period-return assumption.
func (t *Tracker) Record(ts domain.Timestamp, equity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.curve = append(t.curve, domain.PerformanceSnapshot{Ts: ts, Equity: equity})
}

// EquityCurve returns a copy of the recorded snapshots.
func (t *Tracker) EquityCurve() []domain.PerformanceSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.PerformanceSnapshot, len(t.curve))
	copy(out, t.curve)
	return out
}

// TotalReturn is (lastEquity - initialCapital) / initialCapital, or zero if
// nothing has been recorded yet or the account started with zero capital.
func (t *Tracker) TotalReturn() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.curve) == 0 || t.initialCapital == 0 {
		return 0
	}
	last := t.curve[len(t.curve)-1].Equity
	return (last - t.initialCapital) / t.initialCapital
}

// MaxDrawdown is the largest peak-to-trough decline observed along the
// equity curve, expressed as a non-negative fraction of the peak.
func (t *Tracker) MaxDrawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.curve) == 0 {
		return 0
	}
	peak := t.curve[0].Equity
	maxDD := 0.0
	for _, s := range t.curve {
		if s.Equity > peak {
			peak = s.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - s.Equity) / peak
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// SharpeRatio returns the annualized Sharpe ratio of the per-snapshot
// returns, assuming periodsPerYear observations per year and a zero
// risk-free rate. Returns zero if fewer than two snapshots are recorded or
// the return series has zero variance.
func (t *Tracker) SharpeRatio(periodsPerYear float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.curve) < 2 {
		return 0
	}

	returns := make([]float64, 0, len(t.curve)-1)
	for i := 1; i < len(t.curve); i++ {
		prev := t.curve[i-1].Equity
		if prev == 0 {
			continue
		}
		returns = append(returns, (t.curve[i].Equity-prev)/prev)
	}
	if len(returns) < 2 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0
	}
	return (mean / stddev) * math.Sqrt(periodsPerYear)
}

// Report returns the full snapshot of computed metrics, annualizing Sharpe
// assuming one trading year has periodsPerYear equity observations.
func (t *Tracker) Report(periodsPerYear float64) domain.PerformanceReport {
	return domain.PerformanceReport{
		EquityCurve: t.EquityCurve(),
		TotalReturn: t.TotalReturn(),
		MaxDrawdown: t.MaxDrawdown(),
		SharpeRatio: t.SharpeRatio(periodsPerYear),
	}
}
