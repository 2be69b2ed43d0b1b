package ledger

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
)

var (
	two  = decimal.NewFromInt(2)
	one  = decimal.NewFromInt(1)
	zero = decimal.Zero
)

// Ledger is the durable running balance. All mutations go through AddProfit
// and DeductLoss (or the explicit Reconcile), serialized by one mutex and
// persisted synchronously. In-memory state is authoritative for the running
// process: a failed write is logged, never rolled back.
type Ledger struct {
	mu      sync.Mutex
	store   ports.BalanceStore
	metrics ports.MetricsRecorder

	current decimal.Decimal
	stats   domain.LedgerStats
}

// Open loads the persisted balance and statistics, seeding both with seed on
// first run. A corrupt balance falls back to seed and is overwritten at once.
func Open(store ports.BalanceStore, seed decimal.Decimal, metrics ports.MetricsRecorder) *Ledger {
	if metrics == nil {
		metrics = ports.NopRecorder{}
	}
	l := &Ledger{store: store, metrics: metrics}

	bal, found, err := store.LoadBalance()
	switch {
	case err != nil:
		slog.Warn("ledger: persisted balance unusable, falling back to seed",
			"err", err, "seed", seed.StringFixed(2))
		bal = seed
		l.saveBalance(bal)
	case !found:
		slog.Info("ledger: no persisted balance, seeding", "seed", seed.StringFixed(2))
		bal = seed
		l.saveBalance(bal)
	}
	l.current = bal

	stats, found, err := store.LoadStats()
	if err != nil || !found {
		if err != nil {
			slog.Warn("ledger: persisted stats unusable, resetting", "err", err)
		}
		stats = domain.LedgerStats{StartingBalance: bal}
		l.stats = stats
		l.saveStats()
	} else {
		l.stats = stats
	}

	if expected := l.expected(); !expected.Equal(l.current) {
		slog.Warn("ledger: balance does not match statistics, rebasing starting balance",
			"current", l.current.StringFixed(2),
			"expected", expected.StringFixed(2),
		)
		l.rebase()
		l.saveStats()
	}

	l.metrics.Balance(l.current.InexactFloat64())
	slog.Info("ledger: opened",
		"current", l.current.StringFixed(2),
		"starting", l.stats.StartingBalance.StringFixed(2),
		"wins", l.stats.TotalWins,
		"losses", l.stats.TotalLosses,
		"timeouts", l.stats.TotalTimeouts,
	)
	return l
}

// AddProfit credits amount and counts a win.
func (l *Ledger) AddProfit(amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return fmt.Errorf("ledger.AddProfit: negative amount %s", amount.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.current
	l.current = l.current.Add(amount)
	l.stats.TotalWins++
	l.stats.TotalProfit = l.stats.TotalProfit.Add(amount)
	l.persist()

	slog.Info("ledger: profit added",
		"amount", amount.StringFixed(2),
		"before", before.StringFixed(2),
		"after", l.current.StringFixed(2),
		"reason", reason,
	)
	return nil
}

// DeductLoss debits amount. Reasons mentioning a timeout count as timeouts,
// everything else as losses.
func (l *Ledger) DeductLoss(amount decimal.Decimal, reason string) error {
	if amount.IsNegative() {
		return fmt.Errorf("ledger.DeductLoss: negative amount %s", amount.String())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.current
	l.current = l.current.Sub(amount)
	if isTimeout(reason) {
		l.stats.TotalTimeouts++
	} else {
		l.stats.TotalLosses++
	}
	l.stats.TotalLoss = l.stats.TotalLoss.Add(amount)
	l.persist()

	slog.Info("ledger: loss deducted",
		"amount", amount.StringFixed(2),
		"before", before.StringFixed(2),
		"after", l.current.StringFixed(2),
		"reason", reason,
	)
	return nil
}

// ProcessOutcome applies a settlement outcome for a wager of stake at odds.
func (l *Ledger) ProcessOutcome(outcome domain.Outcome, stake, odds decimal.Decimal) error {
	reason := fmt.Sprintf("%s stake=%s odds=%s", outcome, stake.StringFixed(2), odds.String())

	switch outcome {
	case domain.OutcomeWon:
		return l.AddProfit(winProfit(stake, odds), reason)
	case domain.OutcomeHalfWon:
		return l.AddProfit(winProfit(stake, odds).Div(two).Round(2), reason)
	case domain.OutcomeLost:
		return l.DeductLoss(stake, reason)
	case domain.OutcomeHalfLost:
		return l.DeductLoss(stake.Div(two).Round(2), reason)
	case domain.OutcomeVoid:
		slog.Info("ledger: void outcome, balance unchanged", "stake", stake.StringFixed(2))
		return nil
	default:
		slog.Warn("ledger: unrecognized outcome ignored", "outcome", outcome, "stake", stake.StringFixed(2))
		return fmt.Errorf("ledger.ProcessOutcome %q: %w", outcome, domain.ErrUnknownOutcome)
	}
}

// Reconcile sets the balance to an externally observed amount (the provider's
// account balance). The starting balance is rebased so the statistics identity
// keeps holding.
func (l *Ledger) Reconcile(amount decimal.Decimal, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	before := l.current
	if before.Equal(amount) {
		slog.Debug("ledger: reconcile, no drift", "balance", amount.StringFixed(2))
		return
	}
	l.current = amount
	l.rebase()
	l.persist()

	slog.Warn("ledger: balance reconciled",
		"before", before.StringFixed(2),
		"after", amount.StringFixed(2),
		"drift", amount.Sub(before).StringFixed(2),
		"reason", reason,
	)
}

// ResetStatistics moves the statistics reset point to the current balance.
func (l *Ledger) ResetStatistics() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stats = domain.LedgerStats{StartingBalance: l.current}
	l.saveStats()
	slog.Info("ledger: statistics reset", "starting", l.current.StringFixed(2))
}

// Balance returns the current balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Snapshot returns a consistent copy of balance and statistics.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LedgerSnapshot{
		Current:     l.current,
		LedgerStats: l.stats,
		TakenAt:     time.Now(),
	}
}

// persist writes balance and stats. Caller holds l.mu.
func (l *Ledger) persist() {
	l.saveBalance(l.current)
	l.saveStats()
	l.metrics.Balance(l.current.InexactFloat64())
}

func (l *Ledger) saveBalance(b decimal.Decimal) {
	if err := l.store.SaveBalance(b); err != nil {
		slog.Error("ledger: persist balance failed, keeping in-memory value",
			"balance", b.StringFixed(2), "err", err)
	}
}

func (l *Ledger) saveStats() {
	if err := l.store.SaveStats(l.stats); err != nil {
		slog.Error("ledger: persist stats failed, keeping in-memory value", "err", err)
	}
}

func (l *Ledger) expected() decimal.Decimal {
	return l.stats.StartingBalance.Add(l.stats.TotalProfit).Sub(l.stats.TotalLoss)
}

func (l *Ledger) rebase() {
	l.stats.StartingBalance = l.current.Sub(l.stats.TotalProfit).Add(l.stats.TotalLoss)
}

func winProfit(stake, odds decimal.Decimal) decimal.Decimal {
	p := stake.Mul(odds.Sub(one)).Round(2)
	if p.IsNegative() {
		return zero
	}
	return p
}

func isTimeout(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "timeout") || strings.Contains(r, "timed out")
}
