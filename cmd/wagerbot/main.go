package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alejandrodnm/wagerbot/config"
	"github.com/alejandrodnm/wagerbot/internal/adapters/metrics"
	"github.com/alejandrodnm/wagerbot/internal/adapters/notify"
	"github.com/alejandrodnm/wagerbot/internal/adapters/picks"
	"github.com/alejandrodnm/wagerbot/internal/adapters/provider"
	"github.com/alejandrodnm/wagerbot/internal/adapters/storage"
	"github.com/alejandrodnm/wagerbot/internal/application/admission"
	"github.com/alejandrodnm/wagerbot/internal/application/cycle"
	"github.com/alejandrodnm/wagerbot/internal/application/ledger"
	"github.com/alejandrodnm/wagerbot/internal/application/placement"
	"github.com/alejandrodnm/wagerbot/internal/application/settlement"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "read the picks file once, wait for those cycles to settle and exit")
	dryRun := flag.Bool("dry-run", false, "use the in-memory simulated provider instead of the real one")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print a settlement table per cycle (default: compact 1-line)")
	report := flag.Bool("report", false, "print ledger statistics and the audit log, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("wagerbot starting",
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"max_cycles", cfg.Admission.MaxActiveCycles,
		"audit_backend", cfg.Storage.AuditBackend,
		"dry_run", *dryRun,
		"once", *once,
	)

	if *dryRun && !*report {
		// Estado desechable: el simulador no conoce las apuestas reales, así
		// que ni el audit log ni el balance de verdad se tocan.
		dir, err := os.MkdirTemp("", "wagerbot-dryrun-*")
		if err != nil {
			slog.Error("failed to create dry-run state dir", "err", err)
			os.Exit(1)
		}
		cfg.Storage = config.StorageConfig{AuditBackend: "sqlite", DSN: ":memory:"}
		cfg.Ledger.BalanceFile = filepath.Join(dir, "balance.txt")
		cfg.Ledger.StatsFile = filepath.Join(dir, "stats.txt")
		slog.Info("dry-run: using throwaway state", "dir", dir)
	}

	audit, health, closeAudit, err := openAudit(cfg.Storage)
	if err != nil {
		slog.Error("failed to open audit log", "err", err, "backend", cfg.Storage.AuditBackend)
		os.Exit(1)
	}
	defer closeAudit()

	recorder := metrics.NewRecorder()
	balances := storage.NewBalanceFiles(cfg.Ledger.BalanceFile, cfg.Ledger.StatsFile)
	led := ledger.Open(balances, cfg.StartingBalance(), recorder)

	notifier := notify.NewConsole(*table)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		if err := runReport(ctx, audit, led, notifier); err != nil {
			slog.Error("report failed", "err", err)
			os.Exit(1)
		}
		return
	}

	var venue ports.PlacementProvider
	if *dryRun {
		slog.Warn("dry-run: wagers go to the in-memory simulator, nothing reaches the provider")
		venue = provider.NewSimulator(led.Balance(), cfg.SettlementInitialDelay())
	} else {
		venue = provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.Token, cfg.Provider.RatePerSecond, cfg.ProviderTimeout())
	}
	gate := admission.NewGate(venue, recorder)

	machine := placement.New(gate, audit, recorder, placement.Config{
		MaxAdjustRetries: cfg.Placement.MaxAdjustRetries,
		MaxRejectRetries: cfg.Placement.MaxRejectRetries,
		StakeShrink:      cfg.StakeShrink(),
	})
	poller := settlement.New(gate, audit, led, recorder, settlement.Config{
		InitialDelay: cfg.SettlementInitialDelay(),
		Interval:     cfg.SettlementInterval(),
		MaxWait:      cfg.SettlementMaxWait(),
	})
	controller := admission.NewController(cfg.Admission.MaxActiveCycles, cfg.AdmissionPoll(), recorder)
	runner := cycle.NewRunner(controller, machine, poller)

	source := picks.NewFile(cfg.Picks.Path, cfg.Ledger.Currency, false)
	engine := cycle.NewEngine(runner, source, audit, led, gate, notifier, cycle.Config{
		Interval:         cfg.CycleInterval(),
		Once:             *once,
		ReconcileOnStart: cfg.Ledger.ReconcileOnStart && !*dryRun,
		Currency:         cfg.Ledger.Currency,
	})

	// El engine corta el grupo al terminar (modo -once) y el servidor de
	// métricas se apaga con él.
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer stop()
		return engine.Run(gctx)
	})

	if cfg.Metrics.Addr != "" {
		handler := metrics.NewHandler(recorder.Registry(), health)
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Addr, handler)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("wagerbot exited with error", "err", err)
		os.Exit(1)
	}

	snap := led.Snapshot()
	slog.Info("wagerbot stopped cleanly",
		"balance", snap.Current.StringFixed(2),
		"net_pnl", snap.NetPnL().StringFixed(2),
	)
}

// openAudit abre el backend configurado. Devuelve también el health check
// para /healthz y la función de cierre.
func openAudit(cfg config.StorageConfig) (ports.AuditLog, metrics.HealthFunc, func(), error) {
	if cfg.AuditBackend == "sqlite" {
		db, err := storage.OpenAuditSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return db, db.Ping, func() { _ = db.Close() }, nil
	}

	f, err := storage.OpenAuditFile(cfg.AuditFile, cfg.Backups())
	if err != nil {
		return nil, nil, nil, err
	}
	return f, nil, func() {}, nil
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
