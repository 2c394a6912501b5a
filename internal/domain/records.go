package domain

import "time"

// Tape identifies the reporting facility a trade or quote was printed on.
type Tape string

// TradeRecord is an immutable, point-in-time print of an executed trade.
type TradeRecord struct {
	Ts         Timestamp
	Symbol     string
	Price      float64
	Size       float64
	Exchange   string
	Conditions []string
	Tape       Tape
}

// QuoteRecord is an immutable NBBO-bearing quote print.
// Invariant: BidPrice <= AskPrice whenever both are nonzero.
type QuoteRecord struct {
	Ts       Timestamp
	Symbol   string
	BidPrice float64
	BidSize  float64
	AskPrice float64
	AskSize  float64
	BidEx    string
	AskEx    string
	Tape     Tape
}

// Valid reports whether the quote's bid/ask invariant holds.
func (q QuoteRecord) Valid() bool {
	if q.BidPrice != 0 && q.AskPrice != 0 {
		return q.BidPrice <= q.AskPrice
	}
	return true
}

// BarRecord is an OHLCV aggregate over some period ending at Ts.
// Invariant: Low <= Open,Close <= High.
type BarRecord struct {
	Ts         Timestamp
	Symbol     string
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	VWAP       float64
	TradeCount int64
}

// Valid reports whether the bar's OHLC invariant holds.
func (b BarRecord) Valid() bool {
	return b.Low <= b.Open && b.Open <= b.High &&
		b.Low <= b.Close && b.Close <= b.High
}

// CompanyNewsRecord is a news headline attributed to one or more symbols.
type CompanyNewsRecord struct {
	ID       string
	Ts       Timestamp
	Symbols  []string
	Headline string
	Summary  string
	Source   string
	URL      string
}

// DividendRecord announces a per-share cash dividend.
type DividendRecord struct {
	Symbol       string
	ExDate       Timestamp
	PayDate      Timestamp
	PerShare     float64
	DeclaredDate Timestamp
}

// StockSplitRecord announces a forward or reverse split expressed as a ratio
// (new shares per old share); a 2-for-1 split has Ratio == 2.0, a 1-for-10
// reverse split has Ratio == 0.1.
type StockSplitRecord struct {
	Symbol   string
	ExDate   Timestamp
	Ratio    float64
	FromFrac int
	ToFrac   int
}

// CompanyProfile is a slow-changing reference snapshot for a symbol.
type CompanyProfile struct {
	Symbol      string
	Name        string
	Exchange    string
	Industry    string
	Country     string
	MarketCap   float64
	SharesOut   float64
	IPODate     time.Time
	AsOf        Timestamp
}

// PeerGroup lists the peer symbols Finnhub-style reference data associates
// with a symbol, as of a point in time.
type PeerGroup struct {
	Symbol string
	Peers  []string
	AsOf   Timestamp
}

// FinancialsRecord is one reported period of fundamental financial data.
type FinancialsRecord struct {
	Symbol      string
	Period      string // e.g. "annual", "quarterly"
	FiscalEnd   time.Time
	Revenue     float64
	NetIncome   float64
	EPS         float64
	TotalAssets float64
	TotalDebt   float64
	AsOf        Timestamp
}

// EarningsRecord is one reported (or estimated) earnings event.
type EarningsRecord struct {
	Symbol          string
	PeriodEnd       time.Time
	EPSActual       float64
	EPSEstimate     float64
	RevenueActual   float64
	RevenueEstimate float64
	ReportedAt      Timestamp
}

// RecommendationRecord is an analyst consensus snapshot.
type RecommendationRecord struct {
	Symbol     string
	Period     time.Time
	StrongBuy  int
	Buy        int
	Hold       int
	Sell       int
	StrongSell int
	AsOf       Timestamp
}

// PriceTargetRecord is an analyst consensus price target snapshot.
type PriceTargetRecord struct {
	Symbol      string
	Mean        float64
	High        float64
	Low         float64
	Median      float64
	NumAnalysts int
	AsOf        Timestamp
}

// UpgradeDowngradeRecord is a single analyst rating action.
type UpgradeDowngradeRecord struct {
	Symbol    string
	Firm      string
	FromGrade string
	ToGrade   string
	Action    string // "up", "down", "main", "init"
	Ts        Timestamp
}

// IPORecord describes a scheduled or completed initial public offering.
type IPORecord struct {
	Symbol        string
	Name          string
	Date          time.Time
	Exchange      string
	SharesOffered float64
	Price         float64
	Status        string // "expected", "priced", "withdrawn", "filed"
}

// ShortInterestRecord is a periodic short-interest disclosure.
type ShortInterestRecord struct {
	Symbol         string
	SettlementDate time.Time
	ShortInterest  float64
	DaysToCover    float64
	PctFloatShort  float64
	AsOf           Timestamp
}

// ShortVolumeRecord is a daily short-sale volume disclosure.
type ShortVolumeRecord struct {
	Symbol      string
	Date        time.Time
	ShortVolume float64
	TotalVolume float64
}

// OwnershipRecord is an institutional/insider ownership snapshot.
type OwnershipRecord struct {
	Symbol       string
	HolderName   string
	Shares       float64
	PctOut       float64
	ChangeShares float64
	AsOf         Timestamp
}
