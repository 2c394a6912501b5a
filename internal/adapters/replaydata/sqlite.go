// Package replaydata is the reference, read-only DataSource implementation:
// a pure-Go SQLite-backed record store satisfying ports.DataSource and
// ports.ReferenceStore. It exists so the core is exercisable end-to-end by
// the demo binary and the integration tests; production deployments are
// expected to supply their own implementation (e.g. backed by ClickHouse,
// per the clickhouse.* configuration surface), swapped in behind the same
// two interfaces.
package replaydata

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
	"golang.org/x/time/rate"

	"github.com/marketsim/engine/internal/domain"
	"github.com/marketsim/engine/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	price REAL NOT NULL,
	size REAL NOT NULL,
	exchange TEXT,
	conditions TEXT,
	tape TEXT
);
CREATE INDEX IF NOT EXISTS idx_trades_sym_ts ON trades(symbol, ts);

CREATE TABLE IF NOT EXISTS quotes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	bid_price REAL NOT NULL,
	bid_size REAL NOT NULL,
	ask_price REAL NOT NULL,
	ask_size REAL NOT NULL,
	bid_ex TEXT,
	ask_ex TEXT,
	tape TEXT
);
CREATE INDEX IF NOT EXISTS idx_quotes_sym_ts ON quotes(symbol, ts);

CREATE TABLE IF NOT EXISTS bars (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts DATETIME NOT NULL,
	symbol TEXT NOT NULL,
	open REAL NOT NULL,
	high REAL NOT NULL,
	low REAL NOT NULL,
	close REAL NOT NULL,
	volume REAL NOT NULL,
	vwap REAL,
	trade_count INTEGER
);
CREATE INDEX IF NOT EXISTS idx_bars_sym_ts ON bars(symbol, ts);

CREATE TABLE IF NOT EXISTS dividends (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	ex_date DATETIME NOT NULL,
	pay_date DATETIME,
	declared_date DATETIME,
	per_share REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_div_sym_ts ON dividends(symbol, ex_date);

CREATE TABLE IF NOT EXISTS splits (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	ex_date DATETIME NOT NULL,
	ratio REAL NOT NULL,
	from_frac INTEGER,
	to_frac INTEGER
);
CREATE INDEX IF NOT EXISTS idx_split_sym_ts ON splits(symbol, ex_date);

CREATE TABLE IF NOT EXISTS news (
	id TEXT PRIMARY KEY,
	ts DATETIME NOT NULL,
	symbols TEXT NOT NULL,
	headline TEXT,
	summary TEXT,
	source TEXT,
	url TEXT
);
CREATE INDEX IF NOT EXISTS idx_news_ts ON news(ts);

CREATE TABLE IF NOT EXISTS company_profiles (
	symbol TEXT PRIMARY KEY,
	name TEXT, exchange TEXT, industry TEXT, country TEXT,
	market_cap REAL, shares_out REAL, ipo_date DATETIME, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS peer_groups (
	symbol TEXT PRIMARY KEY, peers TEXT, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS financials (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, period TEXT, fiscal_end DATETIME,
	revenue REAL, net_income REAL, eps REAL, total_assets REAL, total_debt REAL, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS earnings (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, period_end DATETIME,
	eps_actual REAL, eps_estimate REAL, revenue_actual REAL, revenue_estimate REAL, reported_at DATETIME
);
CREATE TABLE IF NOT EXISTS recommendations (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, period DATETIME,
	strong_buy INTEGER, buy INTEGER, hold INTEGER, sell INTEGER, strong_sell INTEGER, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS price_targets (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, mean REAL, high REAL, low REAL, median REAL,
	num_analysts INTEGER, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS upgrades_downgrades (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, firm TEXT, from_grade TEXT, to_grade TEXT,
	action TEXT, ts DATETIME
);
CREATE TABLE IF NOT EXISTS short_interest (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, settlement_date DATETIME,
	short_interest REAL, days_to_cover REAL, pct_float_short REAL, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS short_volume (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, date DATETIME, short_volume REAL, total_volume REAL
);
CREATE TABLE IF NOT EXISTS ownership (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, holder_name TEXT, shares REAL,
	pct_out REAL, change_shares REAL, as_of DATETIME
);
CREATE TABLE IF NOT EXISTS ipos (
	id INTEGER PRIMARY KEY AUTOINCREMENT, symbol TEXT, name TEXT, date DATETIME,
	exchange TEXT, shares_offered REAL, price REAL, status TEXT
);
CREATE INDEX IF NOT EXISTS idx_ipos_sym_date ON ipos(symbol, date);

CREATE TABLE IF NOT EXISTS equity_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	ts DATETIME NOT NULL,
	equity REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_equity_session_ts ON equity_snapshots(session_id, ts);
`

// Store opens a SQLite-backed record database and serves both the
// streaming DataSource contract and point-in-time ReferenceStore lookups
// against it. Safe for concurrent use: database/sql pools its own
// connections, and Store holds no mutable state of its own beyond the
// ingestion throttle.
type Store struct {
	db *sql.DB
	// ingestLimiter simulates a bounded-throughput upstream feed, gating
	// how fast a window load may read rows so a session replaying at high
	// speed still observes a bounded, realistic ingestion rate rather
	// than an instantaneous dump of the whole window.
	ingestLimiter *rate.Limiter
}

// Open opens (or creates) the SQLite database at path and applies the
// schema. ingestRowsPerSec bounds the reference load's simulated ingestion
// throughput; 0 disables throttling.
func Open(path string, ingestRowsPerSec float64) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("replaydata.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("replaydata.Open: apply schema: %w", err)
	}

	s := &Store{db: db}
	if ingestRowsPerSec > 0 {
		s.ingestLimiter = rate.NewLimiter(rate.Limit(ingestRowsPerSec), int(ingestRowsPerSec))
	}
	return s, nil
}

// CloseStore releases the underlying database connection. Individual
// Cursors returned by OpenCursor share this connection and do not need
// separate closing.
func (s *Store) CloseStore() error { return s.db.Close() }

// ExecForTest runs a write statement against the underlying database. It
// exists solely to let tests seed fixture rows without reaching past the
// package boundary into the *sql.DB itself.
func (s *Store) ExecForTest(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// InsertQuote appends one NBBO tick. The production counterpart of this
// method is an ingestion pipeline reading off the configured clickhouse.*
// source; the demo binary calls it directly to seed a self-contained replay
// window.
func (s *Store) InsertQuote(ctx context.Context, ts time.Time, symbol string, bidPrice, bidSize, askPrice, askSize float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (ts, symbol, bid_price, bid_size, ask_price, ask_size, bid_ex, ask_ex, tape)
		 VALUES (?, ?, ?, ?, ?, ?, 'Q', 'Q', 'C')`,
		ts, symbol, bidPrice, bidSize, askPrice, askSize)
	return err
}

// InsertTrade appends one print.
func (s *Store) InsertTrade(ctx context.Context, ts time.Time, symbol string, price, size float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (ts, symbol, price, size, exchange, conditions, tape) VALUES (?, ?, ?, ?, 'Q', '', 'C')`,
		ts, symbol, price, size)
	return err
}

// OpenCursor builds a session.OpenDataSource-compatible opener bound to
// this Store: symbols/[start,end) are supplied per call, matching
// SessionManager's per-session DataSourceOpener contract.
func (s *Store) OpenCursor(symbols []string, start, end domain.Timestamp) (*Cursor, error) {
	events, err := s.loadWindow(context.Background(), symbols, start, end)
	if err != nil {
		return nil, err
	}
	return &Cursor{store: s, events: events}, nil
}

// Opener returns a session.OpenDataSource-shaped closure bound to this
// Store, ready to hand to sessionmanager.New.
func (s *Store) Opener() func(symbols []string, start, end domain.Timestamp) (ports.DataSource, error) {
	return func(symbols []string, start, end domain.Timestamp) (ports.DataSource, error) {
		return s.OpenCursor(symbols, start, end)
	}
}

// loadWindow reads every record table for symbols within [start,end),
// tags each row with a MarketEvent, and returns them sorted by the
// EventQueue's (Ts, precedence, ArrivalSeq) tie-break rule. ArrivalSeq is
// assigned by primary-key order within each table before the sort, so two
// same-timestamp rows from the same table keep their insertion order.
func (s *Store) loadWindow(ctx context.Context, symbols []string, start, end domain.Timestamp) ([]domain.MarketEvent, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("replaydata.loadWindow: symbols must be non-empty")
	}
	placeholders := make([]string, len(symbols))
	args := make([]any, 0, len(symbols)+2)
	for i, sym := range symbols {
		placeholders[i] = "?"
		args = append(args, sym)
	}
	inClause := strings.Join(placeholders, ",")
	args = append(args, start, end)

	var out []domain.MarketEvent
	var seq uint64

	load := func(kind domain.EventKind, query string, queryArgs []any, scan func(*sql.Rows) (domain.MarketEvent, error)) error {
		rows, err := s.db.QueryContext(ctx, query, queryArgs...)
		if err != nil {
			return fmt.Errorf("replaydata.loadWindow: query %s: %w", kind, err)
		}
		defer rows.Close()
		for rows.Next() {
			if s.ingestLimiter != nil {
				_ = s.ingestLimiter.Wait(ctx)
			}
			ev, err := scan(rows)
			if err != nil {
				return fmt.Errorf("replaydata.loadWindow: scan %s: %w", kind, err)
			}
			ev.Kind = kind
			ev.ArrivalSeq = seq
			seq++
			out = append(out, ev)
		}
		return rows.Err()
	}

	if err := load(domain.EventTrade,
		fmt.Sprintf(`SELECT ts, symbol, price, size, exchange, conditions, tape FROM trades WHERE symbol IN (%s) AND ts >= ? AND ts < ? ORDER BY id`, inClause),
		args, scanTrade); err != nil {
		return nil, err
	}
	if err := load(domain.EventQuote,
		fmt.Sprintf(`SELECT ts, symbol, bid_price, bid_size, ask_price, ask_size, bid_ex, ask_ex, tape FROM quotes WHERE symbol IN (%s) AND ts >= ? AND ts < ? ORDER BY id`, inClause),
		args, scanQuote); err != nil {
		return nil, err
	}
	if err := load(domain.EventBar,
		fmt.Sprintf(`SELECT ts, symbol, open, high, low, close, volume, vwap, trade_count FROM bars WHERE symbol IN (%s) AND ts >= ? AND ts < ? ORDER BY id`, inClause),
		args, scanBar); err != nil {
		return nil, err
	}
	if err := load(domain.EventDividend,
		fmt.Sprintf(`SELECT ex_date, symbol, ex_date, pay_date, per_share, declared_date FROM dividends WHERE symbol IN (%s) AND ex_date >= ? AND ex_date < ? ORDER BY id`, inClause),
		args, scanDividend); err != nil {
		return nil, err
	}
	if err := load(domain.EventSplit,
		fmt.Sprintf(`SELECT ex_date, symbol, ex_date, ratio, from_frac, to_frac FROM splits WHERE symbol IN (%s) AND ex_date >= ? AND ex_date < ? ORDER BY id`, inClause),
		args, scanSplit); err != nil {
		return nil, err
	}
	// News is not filtered by symbol here: a record's Symbols field may
	// name any subset of the universe, and the session's own
	// newsSubscribed check (driven by update_news_subscriptions) decides
	// at delivery time whether a given news item is in scope.
	if err := load(domain.EventNews,
		`SELECT id, ts, symbols, headline, summary, source, url FROM news WHERE ts >= ? AND ts < ? ORDER BY id`,
		[]any{start, end}, scanNews); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out, nil
}

func scanTrade(rows *sql.Rows) (domain.MarketEvent, error) {
	var ts time.Time
	var symbol, exchange, conditions, tape string
	var price, size float64
	if err := rows.Scan(&ts, &symbol, &price, &size, &exchange, &conditions, &tape); err != nil {
		return domain.MarketEvent{}, err
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		Trade: &domain.TradeRecord{
			Ts: ts, Symbol: symbol, Price: price, Size: size,
			Exchange: exchange, Conditions: splitCSV(conditions), Tape: domain.Tape(tape),
		},
	}, nil
}

func scanQuote(rows *sql.Rows) (domain.MarketEvent, error) {
	var ts time.Time
	var symbol, bidEx, askEx, tape string
	var bidPrice, bidSize, askPrice, askSize float64
	if err := rows.Scan(&ts, &symbol, &bidPrice, &bidSize, &askPrice, &askSize, &bidEx, &askEx, &tape); err != nil {
		return domain.MarketEvent{}, err
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		Quote: &domain.QuoteRecord{
			Ts: ts, Symbol: symbol, BidPrice: bidPrice, BidSize: bidSize,
			AskPrice: askPrice, AskSize: askSize, BidEx: bidEx, AskEx: askEx, Tape: domain.Tape(tape),
		},
	}, nil
}

func scanBar(rows *sql.Rows) (domain.MarketEvent, error) {
	var ts time.Time
	var symbol string
	var open, high, low, close, volume, vwap float64
	var tradeCount int64
	if err := rows.Scan(&ts, &symbol, &open, &high, &low, &close, &volume, &vwap, &tradeCount); err != nil {
		return domain.MarketEvent{}, err
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		Bar: &domain.BarRecord{
			Ts: ts, Symbol: symbol, Open: open, High: high, Low: low, Close: close,
			Volume: volume, VWAP: vwap, TradeCount: tradeCount,
		},
	}, nil
}

func scanDividend(rows *sql.Rows) (domain.MarketEvent, error) {
	var ts, exDate time.Time
	var payDate, declaredDate sql.NullTime
	var symbol string
	var perShare float64
	if err := rows.Scan(&ts, &symbol, &exDate, &payDate, &perShare, &declaredDate); err != nil {
		return domain.MarketEvent{}, err
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		Dividend: &domain.DividendRecord{
			Symbol: symbol, ExDate: exDate, PayDate: payDate.Time,
			PerShare: perShare, DeclaredDate: declaredDate.Time,
		},
	}, nil
}

func scanSplit(rows *sql.Rows) (domain.MarketEvent, error) {
	var ts, exDate time.Time
	var symbol string
	var ratio float64
	var fromFrac, toFrac int
	if err := rows.Scan(&ts, &symbol, &exDate, &ratio, &fromFrac, &toFrac); err != nil {
		return domain.MarketEvent{}, err
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		Split: &domain.StockSplitRecord{Symbol: symbol, ExDate: exDate, Ratio: ratio, FromFrac: fromFrac, ToFrac: toFrac},
	}, nil
}

func scanNews(rows *sql.Rows) (domain.MarketEvent, error) {
	var id, symbolsCSV, headline, summary, source, url string
	var ts time.Time
	if err := rows.Scan(&id, &ts, &symbolsCSV, &headline, &summary, &source, &url); err != nil {
		return domain.MarketEvent{}, err
	}
	symbols := splitCSV(symbolsCSV)
	var symbol string
	if len(symbols) > 0 {
		symbol = symbols[0]
	}
	return domain.MarketEvent{
		Ts: ts, Symbol: symbol,
		News: &domain.CompanyNewsRecord{ID: id, Ts: ts, Symbols: symbols, Headline: headline, Summary: summary, Source: source, URL: url},
	}, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// Cursor is one session's open read cursor over a pre-loaded, sorted
// window of events. It satisfies ports.DataSource.
type Cursor struct {
	store *Store
	mu    sync.Mutex
	pos   int
	events []domain.MarketEvent
}

// Next returns the next MarketEvent, or ok == false once the window is
// exhausted. Never blocks on wall-clock time; the window was already
// fully loaded by OpenCursor, so Next only blocks briefly under mu.
func (c *Cursor) Next(ctx context.Context) (domain.MarketEvent, bool, error) {
	select {
	case <-ctx.Done():
		return domain.MarketEvent{}, false, ctx.Err()
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.events) {
		return domain.MarketEvent{}, false, nil
	}
	ev := c.events[c.pos]
	c.pos++
	return ev, true, nil
}

// Close is a no-op: Cursor shares its Store's connection, which the caller
// closes separately via Store.CloseStore. Safe to call more than once.
func (c *Cursor) Close() error { return nil }

// CompanyProfile returns symbol's profile as of asOf, clamped so no field
// postdating asOf is returned (no-lookahead).
func (s *Store) CompanyProfile(ctx context.Context, symbol string, asOf domain.Timestamp) (*domain.CompanyProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, exchange, industry, country, market_cap, shares_out, ipo_date, as_of
		 FROM company_profiles WHERE symbol = ? AND as_of <= ?`, symbol, asOf)
	var p domain.CompanyProfile
	p.Symbol = symbol
	if err := row.Scan(&p.Name, &p.Exchange, &p.Industry, &p.Country, &p.MarketCap, &p.SharesOut, &p.IPODate, &p.AsOf); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("replaydata.CompanyProfile: %w", err)
	}
	return &p, nil
}

// PeerGroup returns symbol's peer list as of asOf.
func (s *Store) PeerGroup(ctx context.Context, symbol string, asOf domain.Timestamp) (*domain.PeerGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT peers, as_of FROM peer_groups WHERE symbol = ? AND as_of <= ?`, symbol, asOf)
	var peersCSV string
	pg := domain.PeerGroup{Symbol: symbol}
	if err := row.Scan(&peersCSV, &pg.AsOf); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("replaydata.PeerGroup: %w", err)
	}
	pg.Peers = splitCSV(peersCSV)
	return &pg, nil
}

// Financials returns symbol's reported financial periods with as_of <= asOf.
func (s *Store) Financials(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.FinancialsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, fiscal_end, revenue, net_income, eps, total_assets, total_debt, as_of
		 FROM financials WHERE symbol = ? AND as_of <= ? ORDER BY fiscal_end`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.Financials: %w", err)
	}
	defer rows.Close()
	var out []domain.FinancialsRecord
	for rows.Next() {
		var r domain.FinancialsRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Period, &r.FiscalEnd, &r.Revenue, &r.NetIncome, &r.EPS, &r.TotalAssets, &r.TotalDebt, &r.AsOf); err != nil {
			return nil, fmt.Errorf("replaydata.Financials: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Earnings returns symbol's reported/estimated earnings events up to asOf.
func (s *Store) Earnings(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.EarningsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_end, eps_actual, eps_estimate, revenue_actual, revenue_estimate, reported_at
		 FROM earnings WHERE symbol = ? AND reported_at <= ? ORDER BY period_end`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.Earnings: %w", err)
	}
	defer rows.Close()
	var out []domain.EarningsRecord
	for rows.Next() {
		var r domain.EarningsRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.PeriodEnd, &r.EPSActual, &r.EPSEstimate, &r.RevenueActual, &r.RevenueEstimate, &r.ReportedAt); err != nil {
			return nil, fmt.Errorf("replaydata.Earnings: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Recommendations returns symbol's analyst consensus snapshots up to asOf.
func (s *Store) Recommendations(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.RecommendationRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period, strong_buy, buy, hold, sell, strong_sell, as_of
		 FROM recommendations WHERE symbol = ? AND as_of <= ? ORDER BY period`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.Recommendations: %w", err)
	}
	defer rows.Close()
	var out []domain.RecommendationRecord
	for rows.Next() {
		var r domain.RecommendationRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Period, &r.StrongBuy, &r.Buy, &r.Hold, &r.Sell, &r.StrongSell, &r.AsOf); err != nil {
			return nil, fmt.Errorf("replaydata.Recommendations: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PriceTargets returns symbol's analyst price-target snapshots up to asOf.
func (s *Store) PriceTargets(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.PriceTargetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mean, high, low, median, num_analysts, as_of
		 FROM price_targets WHERE symbol = ? AND as_of <= ? ORDER BY as_of`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.PriceTargets: %w", err)
	}
	defer rows.Close()
	var out []domain.PriceTargetRecord
	for rows.Next() {
		var r domain.PriceTargetRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Mean, &r.High, &r.Low, &r.Median, &r.NumAnalysts, &r.AsOf); err != nil {
			return nil, fmt.Errorf("replaydata.PriceTargets: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpgradesDowngrades returns symbol's analyst rating actions up to asOf.
func (s *Store) UpgradesDowngrades(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.UpgradeDowngradeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT firm, from_grade, to_grade, action, ts
		 FROM upgrades_downgrades WHERE symbol = ? AND ts <= ? ORDER BY ts`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.UpgradesDowngrades: %w", err)
	}
	defer rows.Close()
	var out []domain.UpgradeDowngradeRecord
	for rows.Next() {
		var r domain.UpgradeDowngradeRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Firm, &r.FromGrade, &r.ToGrade, &r.Action, &r.Ts); err != nil {
			return nil, fmt.Errorf("replaydata.UpgradesDowngrades: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ShortInterest returns symbol's periodic short-interest disclosures up to
// asOf.
func (s *Store) ShortInterest(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.ShortInterestRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT settlement_date, short_interest, days_to_cover, pct_float_short, as_of
		 FROM short_interest WHERE symbol = ? AND as_of <= ? ORDER BY settlement_date`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.ShortInterest: %w", err)
	}
	defer rows.Close()
	var out []domain.ShortInterestRecord
	for rows.Next() {
		var r domain.ShortInterestRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.SettlementDate, &r.ShortInterest, &r.DaysToCover, &r.PctFloatShort, &r.AsOf); err != nil {
			return nil, fmt.Errorf("replaydata.ShortInterest: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ShortVolume returns symbol's daily short-sale volume disclosures with
// date <= asOf.
func (s *Store) ShortVolume(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.ShortVolumeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, short_volume, total_volume FROM short_volume
		 WHERE symbol = ? AND date <= ? ORDER BY date`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.ShortVolume: %w", err)
	}
	defer rows.Close()
	var out []domain.ShortVolumeRecord
	for rows.Next() {
		var r domain.ShortVolumeRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Date, &r.ShortVolume, &r.TotalVolume); err != nil {
			return nil, fmt.Errorf("replaydata.ShortVolume: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// IPOs returns symbol's scheduled/completed IPO records with date <= asOf.
func (s *Store) IPOs(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.IPORecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, date, exchange, shares_offered, price, status FROM ipos
		 WHERE symbol = ? AND date <= ? ORDER BY date`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.IPOs: %w", err)
	}
	defer rows.Close()
	var out []domain.IPORecord
	for rows.Next() {
		var r domain.IPORecord
		r.Symbol = symbol
		if err := rows.Scan(&r.Name, &r.Date, &r.Exchange, &r.SharesOffered, &r.Price, &r.Status); err != nil {
			return nil, fmt.Errorf("replaydata.IPOs: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ownership returns symbol's institutional/insider ownership snapshots up
// to asOf.
func (s *Store) Ownership(ctx context.Context, symbol string, asOf domain.Timestamp) ([]domain.OwnershipRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT holder_name, shares, pct_out, change_shares, as_of
		 FROM ownership WHERE symbol = ? AND as_of <= ? ORDER BY as_of DESC`, symbol, asOf)
	if err != nil {
		return nil, fmt.Errorf("replaydata.Ownership: %w", err)
	}
	defer rows.Close()
	var out []domain.OwnershipRecord
	for rows.Next() {
		var r domain.OwnershipRecord
		r.Symbol = symbol
		if err := rows.Scan(&r.HolderName, &r.Shares, &r.PctOut, &r.ChangeShares, &r.AsOf); err != nil {
			return nil, fmt.Errorf("replaydata.Ownership: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PerformanceLog persists per-session equity snapshots into the same
// database, satisfying ports.PerformanceSink. It shares the Store's
// connection; closing the log does not close the Store.
type PerformanceLog struct {
	db *sql.DB
}

// PerformanceLog returns a ports.PerformanceSink writing into this store's
// equity_snapshots table.
func (s *Store) PerformanceLog() *PerformanceLog {
	return &PerformanceLog{db: s.db}
}

var _ ports.PerformanceSink = (*PerformanceLog)(nil)

// RecordSnapshot appends one equity observation for sessionID.
func (l *PerformanceLog) RecordSnapshot(sessionID string, snap domain.PerformanceSnapshot) error {
	_, err := l.db.Exec(
		`INSERT INTO equity_snapshots (session_id, ts, equity) VALUES (?, ?, ?)`,
		sessionID, snap.Ts, snap.Equity)
	if err != nil {
		return fmt.Errorf("replaydata.RecordSnapshot: %w", err)
	}
	return nil
}

// Close is a no-op: the owning Store holds the connection.
func (l *PerformanceLog) Close() error { return nil }

// EquityCurve reads back sessionID's recorded snapshots in time order, for
// post-run reporting.
func (l *PerformanceLog) EquityCurve(ctx context.Context, sessionID string) ([]domain.PerformanceSnapshot, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT ts, equity FROM equity_snapshots WHERE session_id = ? ORDER BY ts, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replaydata.EquityCurve: %w", err)
	}
	defer rows.Close()
	var out []domain.PerformanceSnapshot
	for rows.Next() {
		var s domain.PerformanceSnapshot
		if err := rows.Scan(&s.Ts, &s.Equity); err != nil {
			return nil, fmt.Errorf("replaydata.EquityCurve: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
