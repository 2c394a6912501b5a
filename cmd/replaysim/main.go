// Command replaysim drives one end-to-end simulation session against the
// reference SQLite DataSource and prints the resulting account/position
// report to the console.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/marketsim/engine/config"
	"github.com/marketsim/engine/internal/adapters/replaydata"
	"github.com/marketsim/engine/internal/domain"
	"github.com/marketsim/engine/internal/sessionmanager"
)

func main() {
	configPath := flag.String("config", "config/config.example.yaml", "path to config file")
	dbPath := flag.String("db", "replaysim.db", "path to the SQLite replay database")
	symbolsFlag := flag.String("symbols", "AAPL", "comma-separated symbols to replay")
	minutes := flag.Int("minutes", 30, "length of the synthetic session in minutes")
	speed := flag.Float64("speed", 0, "replay speed factor (0 = as fast as possible)")
	seed := flag.Bool("seed", true, "seed the database with a synthetic quote/trade stream before replay")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	setupLogger(cfg.Log)

	symbols := strings.Split(*symbolsFlag, ",")

	store, err := replaydata.Open(*dbPath, 0)
	if err != nil {
		slog.Error("failed to open replay store", "err", err, "db", *dbPath)
		os.Exit(1)
	}
	defer store.CloseStore()

	// 13:30 UTC == 9:30 America/New_York during DST, so the demo session
	// opens exactly at the regular-hours boundary under the default calendar.
	start := time.Date(2025, 3, 10, 13, 30, 0, 0, time.UTC)
	end := start.Add(time.Duration(*minutes) * time.Minute)

	if *seed {
		if err := seedSyntheticStream(context.Background(), store, symbols, start, end); err != nil {
			slog.Error("failed to seed replay database", "err", err)
			os.Exit(1)
		}
	}

	mgr := sessionmanager.New(store.Opener(),
		sessionmanager.WithSubmitRateLimit(cfg.SessionDefaults.SubmitRateLimit, cfg.SessionDefaults.SubmitRateWindowS),
		sessionmanager.WithPerformanceSink(store.PerformanceLog()))

	var filled []domain.Event
	mgr.AddEventCallback(func(ev domain.Event) {
		if ev.Kind == domain.EventOrderFill {
			filled = append(filled, ev)
		}
	})

	sessionCfg := domain.SessionConfig{
		Symbols:             symbols,
		StartTime:           start,
		EndTime:             end,
		InitialCapital:      cfg.SessionDefaults.InitialCapital,
		SpeedFactor:         *speed,
		QueueCapacity:       cfg.SessionDefaults.QueueCapacity,
		OverflowPolicy:      domain.OverflowPolicy(cfg.SessionDefaults.OverflowPolicy),
		MarketHoursLocation: cfg.Execution.MarketHoursLocation,
		AllowExtendedHours:  cfg.Execution.AllowExtendedHours,
		Margin: domain.MarginPolicy{
			Class:                   domain.MarginClass(cfg.Execution.MarginClass),
			CashMultiplier:          cfg.Execution.CashMultiplier,
			IntradayLeverage:        cfg.Execution.IntradayLeverage,
			EnableMarginCallChecks:  cfg.Execution.EnableMarginCallChecks,
			EnableForcedLiquidation: cfg.Execution.EnableForcedLiquidation,
			MaintenanceMarginBp:     cfg.Execution.MaintenanceMarginBp,
		},
		Fees: domain.FeeSchedule{
			PerOrderCommission: cfg.Fees.PerOrderCommission,
			PerShareCommission: cfg.Fees.PerShareCommission,
			SECFeePerMillion:   cfg.Fees.SECFeePerMillion,
			FINRATAFPerShare:   cfg.Fees.FINRATAFPerShare,
			FINRATAFCap:        cfg.Fees.FINRATAFCap,
			TakerFeePerShare:   cfg.Fees.TakerFeePerShare,
		},
		Impact: domain.ImpactPolicy{
			Enabled:  cfg.Execution.ImpactEnabled,
			ImpactBp: cfg.Execution.ImpactBp,
		},
	}

	id, serr := mgr.CreateSession(sessionCfg)
	if serr != nil {
		slog.Error("create_session failed", "kind", serr.Kind, "err", serr.Message)
		os.Exit(1)
	}
	slog.Info("session created", "id", id, "symbols", symbols, "start", start, "end", end)

	if serr := mgr.StartSession(id); serr != nil {
		slog.Error("start_session failed", "kind", serr.Kind, "err", serr.Message)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	submitDemoOrders(mgr, id, symbols)

	waitForCompletion(ctx, mgr, id)

	printReport(mgr, id)
}

// seedSyntheticStream populates store with a deterministic quote-and-trade
// stream for each symbol whose price oscillates between 99.94 and its
// starting 100 (the per-tick drift sums to zero over every seven ticks), one
// tick per second across [start, end). It exists purely so the demo binary is runnable
// without a live ClickHouse feed behind it.
func seedSyntheticStream(ctx context.Context, store *replaydata.Store, symbols []string, start, end time.Time) error {
	const tick = time.Second
	for _, sym := range symbols {
		price := 100.0
		i := 0
		for ts := start; ts.Before(end); ts = ts.Add(tick) {
			drift := 0.01 * float64((i%7)-3)
			price += drift
			if price < 1 {
				price = 1
			}
			bid := price - 0.01
			ask := price + 0.01
			if err := store.InsertQuote(ctx, ts, sym, bid, 500, ask, 500); err != nil {
				return fmt.Errorf("seed quote: %w", err)
			}
			if i%5 == 0 {
				if err := store.InsertTrade(ctx, ts, sym, price, 100); err != nil {
					return fmt.Errorf("seed trade: %w", err)
				}
			}
			i++
		}
	}
	return nil
}

// submitDemoOrders routes one 100-share MARKET DAY buy per symbol, exercising
// SubmitOrder end to end.
func submitDemoOrders(mgr *sessionmanager.Manager, sessionID string, symbols []string) {
	for _, sym := range symbols {
		o := &domain.Order{
			Symbol: sym,
			Side:   domain.Buy,
			Type:   domain.Market,
			TIF:    domain.TIFDay,
			Qty:    100,
		}
		fills, err := mgr.SubmitOrder(sessionID, o)
		if err != nil {
			slog.Warn("demo order rejected", "symbol", sym, "kind", err.Kind, "reason", err.Message)
			continue
		}
		slog.Info("demo order submitted", "symbol", sym, "order_id", o.ID, "fills", len(fills))
	}
}

// waitForCompletion polls the session's Snapshot until it reaches a
// terminal status or ctx is canceled.
func waitForCompletion(ctx context.Context, mgr *sessionmanager.Manager, sessionID string) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted, stopping session", "id", sessionID)
			_ = mgr.StopSession(sessionID)
			return
		case <-ticker.C:
			snap, serr := mgr.GetSession(sessionID)
			if serr != nil {
				return
			}
			if snap.Status.Terminal() {
				return
			}
		}
	}
}

func printReport(mgr *sessionmanager.Manager, sessionID string) {
	acct, err := mgr.GetAccountState(sessionID)
	if err != nil {
		slog.Error("get_account_state failed", "kind", err.Kind, "err", err.Message)
		return
	}
	positions, err := mgr.GetPositions(sessionID)
	if err != nil {
		slog.Error("get_positions failed", "kind", err.Kind, "err", err.Message)
		return
	}
	report, err := mgr.PerformanceReport(sessionID, 252*390*60)
	if err != nil {
		slog.Error("performance_report failed", "kind", err.Kind, "err", err.Message)
		return
	}

	printAccountTable(acct)
	printPositionsTable(positions)
	fmt.Printf("\ntotal return: %.4f%%  max drawdown: %.4f%%  sharpe: %.3f  points: %d\n",
		report.TotalReturn*100, report.MaxDrawdown*100, report.SharpeRatio, len(report.EquityCurve))
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
