package cycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the read/reconcile side of the balance ledger.
type Ledger interface {
	Snapshot() domain.LedgerSnapshot
	Reconcile(amount decimal.Decimal, reason string)
}

// Config controls the engine loop.
type Config struct {
	Interval         time.Duration // how often the intent source is read
	Once             bool          // read once, wait for those cycles, exit
	ReconcileOnStart bool
	Currency         string
}

// Engine reads intent batches on a fixed interval and runs each non-empty
// batch as its own cycle. Cycles run in the background; admission decides how
// many make progress at once.
type Engine struct {
	runner   *Runner
	source   ports.IntentSource
	audit    ports.AuditLog
	ledger   Ledger
	provider ports.PlacementProvider
	notifier ports.Notifier
	cfg      Config

	wg sync.WaitGroup
}

// NewEngine wires the engine. notifier may be nil.
func NewEngine(
	runner *Runner,
	source ports.IntentSource,
	audit ports.AuditLog,
	ledger Ledger,
	provider ports.PlacementProvider,
	notifier ports.Notifier,
	cfg Config,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Engine{
		runner:   runner,
		source:   source,
		audit:    audit,
		ledger:   ledger,
		provider: provider,
		notifier: notifier,
		cfg:      cfg,
	}
}

// Run resumes unsettled wagers, optionally reconciles the balance, then polls
// the intent source until ctx ends. It returns once every started cycle has
// returned.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine: starting", "interval", e.cfg.Interval, "once", e.cfg.Once)
	defer e.wg.Wait()

	if e.cfg.ReconcileOnStart {
		e.reconcile(ctx)
	}
	e.recover(ctx)
	e.tick(ctx)

	if e.cfg.Once {
		slog.Info("engine: single pass, waiting for cycles to settle")
		return nil
	}

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("engine: stopping, waiting for running cycles")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// tick lee un lote de intents y, si no está vacío, lanza un ciclo.
func (e *Engine) tick(ctx context.Context) {
	intents, err := e.source.Next(ctx)
	if err != nil {
		slog.Error("engine: reading intents failed", "err", err)
		return
	}
	if len(intents) == 0 {
		slog.Debug("engine: no new intents")
		return
	}

	id := "cycle-" + uuid.NewString()[:8]
	slog.Info("engine: new batch", "cycle", id, "intents", len(intents))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		rep, err := e.runner.Run(ctx, id, intents)
		e.finish(ctx, rep, err)
	}()
}

func (e *Engine) recover(ctx context.Context) {
	wagers, err := Unsettled(ctx, e.audit)
	if err != nil {
		slog.Error("engine: recovery lookup failed", "err", err)
		return
	}
	if len(wagers) == 0 {
		return
	}

	id := "recovery-" + uuid.NewString()[:8]
	slog.Warn("engine: resuming unsettled wagers from previous run", "cycle", id, "wagers", len(wagers))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		rep, err := e.runner.Resume(ctx, id, wagers)
		e.finish(ctx, rep, err)
	}()
}

func (e *Engine) reconcile(ctx context.Context) {
	bal, err := e.provider.GetBalance(ctx, e.cfg.Currency)
	if err != nil {
		slog.Warn("engine: balance reconciliation skipped", "err", err)
		return
	}
	e.ledger.Reconcile(bal, "provider balance at startup")
}

func (e *Engine) finish(ctx context.Context, rep domain.CycleReport, err error) {
	if err != nil {
		slog.Error("engine: cycle ended with error", "cycle", rep.CycleID, "err", err)
	}
	if e.notifier == nil {
		return
	}
	if nerr := e.notifier.NotifyCycle(ctx, rep, e.ledger.Snapshot()); nerr != nil {
		slog.Warn("notifier error", "err", nerr)
	}
}
