package ports

import (
	"context"

	"github.com/marketsim/engine/internal/domain"
)

// DataSource streams a session's historical MarketEvents in strict
// timestamp order, for exactly the symbols and [start, end) window it was
// opened with. Implementations must guarantee no-lookahead: Next must
// never return an event whose Ts exceeds what has already been read from
// the underlying store, and must never block on data that arrives after
// end.
type DataSource interface {
	// Next returns the next MarketEvent in (Ts, precedence) order, or
	// ok == false once the window is exhausted. Blocks only on I/O, never
	// on wall-clock time — pacing is the TimeEngine's job, not the
	// DataSource's.
	Next(ctx context.Context) (ev domain.MarketEvent, ok bool, err error)

	// Close releases any underlying resources (file handles, DB
	// connections). Safe to call more than once.
	Close() error
}

// ReferenceStore serves point-in-time reference records — company
// profiles, financials, analyst actions, corporate filings — clamped so a
// lookup never returns information that postdates asOf. It is read-only
// and has no notion of a streaming cursor.
type ReferenceStore interface {
	CompanyProfile(ctx context.Context, symbol string, asOf domain.Timestamp) (*domain.CompanyProfile, error)
	PeerGroup(ctx context.Context, symbol string, asOf domain.Timestamp) (*domain.PeerGroup, error)
	Financials(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.FinancialsRecord, error)
	Earnings(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.EarningsRecord, error)
	Recommendations(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.RecommendationRecord, error)
	PriceTargets(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.PriceTargetRecord, error)
	UpgradesDowngrades(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.UpgradeDowngradeRecord, error)
	ShortInterest(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.ShortInterestRecord, error)
	ShortVolume(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.ShortVolumeRecord, error)
	Ownership(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.OwnershipRecord, error)
	IPOs(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.IPORecord, error)
}
