package settlement

// poller.go: seguimiento de apuestas aceptadas hasta su liquidación.
//
// Cada apuesta se sondea en su propia goroutine: primera consulta tras
// InitialDelay desde la aceptación, después cada Interval. Sin MaxWait la
// espera no tiene límite. El permiso del proveedor solo se toma durante la
// consulta, nunca mientras se duerme.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
)

const (
	DefaultInitialDelay = 5 * time.Minute
	DefaultInterval     = 30 * time.Minute
)

// Ledger is the part of the balance ledger the poller drives.
type Ledger interface {
	ProcessOutcome(outcome domain.Outcome, stake, odds decimal.Decimal) error
	DeductLoss(amount decimal.Decimal, reason string) error
}

// Config controls poll timing. MaxWait = 0 polls until the wager settles.
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxWait      time.Duration
}

// Poller resolves accepted wagers into ledger effects and audit finalization.
// A wager is tracked by at most one goroutine at a time, even across cycles.
type Poller struct {
	provider ports.PlacementProvider
	audit    ports.AuditLog
	ledger   Ledger
	metrics  ports.MetricsRecorder
	cfg      Config

	mu       sync.Mutex
	tracking map[string]struct{} // wagers con una goroutine de sondeo viva
}

// New creates a settlement poller.
func New(provider ports.PlacementProvider, audit ports.AuditLog, ledger Ledger, metrics ports.MetricsRecorder, cfg Config) *Poller {
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if metrics == nil {
		metrics = ports.NopRecorder{}
	}
	return &Poller{
		provider: provider,
		audit:    audit,
		ledger:   ledger,
		metrics:  metrics,
		cfg:      cfg,
		tracking: make(map[string]struct{}),
	}
}

// Settle polls every wager concurrently and blocks until all of them reach a
// terminal outcome. When ctx ends first it returns the results gathered so
// far together with ctx.Err(); unfinished wagers stay in the audit log as
// placed and are resumed on the next start. A wager already tracked by this
// poller (same batch or another cycle) is skipped and yields no result.
func (p *Poller) Settle(ctx context.Context, wagers []domain.AcceptedWager) ([]domain.SettlementResult, error) {
	if len(wagers) == 0 {
		return nil, nil
	}

	resultCh := make(chan domain.SettlementResult, len(wagers))
	var wg sync.WaitGroup
	tracked := 0
	for _, w := range wagers {
		key := trackingKey(w)
		if !p.track(key) {
			slog.Info("settlement: wager already tracked, skipping duplicate",
				"event", w.Intent.EventID, "ref", domain.TruncateRef(key, 16))
			continue
		}
		tracked++
		wg.Add(1)
		go func(w domain.AcceptedWager) {
			defer wg.Done()
			defer p.untrack(key)
			if res, ok := p.poll(ctx, w); ok {
				resultCh <- res
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]domain.SettlementResult, 0, tracked)
	for r := range resultCh {
		results = append(results, r)
	}

	slog.Info("settlement: batch done", "wagers", len(wagers), "tracked", tracked, "settled", len(results))
	if len(results) < tracked {
		return results, ctx.Err()
	}
	return results, nil
}

func trackingKey(w domain.AcceptedWager) string {
	switch {
	case w.Intent.IdempotencyRef != "":
		return w.Intent.IdempotencyRef
	case w.LocalRef != "":
		return w.LocalRef
	default:
		return w.StatusRef()
	}
}

// track marca key como en seguimiento. false si ya lo estaba.
func (p *Poller) track(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tracking[key]; ok {
		return false
	}
	p.tracking[key] = struct{}{}
	return true
}

func (p *Poller) untrack(key string) {
	p.mu.Lock()
	delete(p.tracking, key)
	p.mu.Unlock()
}

// poll sigue una apuesta hasta un resultado terminal. ok=false si ctx terminó.
func (p *Poller) poll(ctx context.Context, w domain.AcceptedWager) (domain.SettlementResult, bool) {
	ref := w.StatusRef()
	start := time.Now()
	delay := p.cfg.InitialDelay
	if !w.AcceptedAt.IsZero() {
		delay -= time.Since(w.AcceptedAt)
	}
	last := domain.Outcome(w.Status)

	slog.Info("settlement: tracking wager",
		"event", w.Intent.EventID,
		"ref", domain.TruncateRef(ref, 16),
		"first_poll_in", max(delay, 0).Round(time.Second),
	)

	for polls := 1; ; polls++ {
		if !sleep(ctx, delay) {
			slog.Info("settlement: stopped before settlement", "event", w.Intent.EventID, "polls", polls-1)
			return domain.SettlementResult{}, false
		}
		delay = p.cfg.Interval

		report, err := p.provider.GetWagerStatus(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return domain.SettlementResult{}, false
			}
			slog.Warn("settlement: status query failed, retrying next interval",
				"event", w.Intent.EventID, "poll", polls, "err", err)
		} else {
			outcome := domain.NormalizeStatus(report.Code, report.Text)
			slog.Debug("settlement: polled",
				"event", w.Intent.EventID, "poll", polls,
				"code", report.Code, "text", report.Text, "outcome", outcome)

			switch {
			case outcome.Settled():
				p.apply(ctx, w, outcome, detail(report))
				return domain.SettlementResult{Wager: w, Outcome: outcome}, true

			case outcome == domain.OutcomeRejected:
				slog.Warn("settlement: wager rejected by venue, no balance effect",
					"event", w.Intent.EventID, "stake", w.Intent.Stake.StringFixed(2))
				if p.claim(ctx, w, domain.RecordRejected, detail(report)) {
					p.metrics.Settled(outcome)
				}
				return domain.SettlementResult{Wager: w, Outcome: outcome}, true

			case outcome == domain.OutcomeAccepted || outcome == domain.OutcomePendingAcceptance:
				if outcome != last {
					slog.Info("settlement: acceptance status changed",
						"event", w.Intent.EventID, "before", last, "after", outcome)
					p.update(ctx, w, outcome.RecordStatus(), detail(report))
					last = outcome
				}

			default:
				slog.Warn("settlement: unrecognized status, still pending",
					"event", w.Intent.EventID, "code", report.Code, "text", report.Text)
			}
		}

		if p.cfg.MaxWait > 0 && time.Since(start) >= p.cfg.MaxWait {
			return p.expire(ctx, w), true
		}
	}
}

// apply cierra el registro y solo entonces aplica el efecto en el ledger. Si
// el registro ya estaba cerrado (otro ciclo lo liquidó) no se toca el balance.
func (p *Poller) apply(ctx context.Context, w domain.AcceptedWager, outcome domain.Outcome, raw string) {
	if !p.claim(ctx, w, outcome.RecordStatus(), raw) {
		return
	}

	if err := p.ledger.ProcessOutcome(outcome, w.Intent.Stake, w.Intent.Odds); err != nil {
		slog.Error("settlement: ledger update failed", "event", w.Intent.EventID, "outcome", outcome, "err", err)
	}
	p.metrics.Settled(outcome)

	slog.Info("settlement: wager settled",
		"event", w.Intent.EventID,
		"outcome", outcome,
		"stake", w.Intent.Stake.StringFixed(2),
		"odds", w.Intent.Odds.String(),
	)
}

func (p *Poller) expire(ctx context.Context, w domain.AcceptedWager) domain.SettlementResult {
	reason := fmt.Sprintf("settlement timeout after %s event=%s", p.cfg.MaxWait, w.Intent.EventID)
	slog.Warn("settlement: max wait reached, writing stake off",
		"event", w.Intent.EventID, "stake", w.Intent.Stake.StringFixed(2), "max_wait", p.cfg.MaxWait)

	res := domain.SettlementResult{Wager: w, Outcome: domain.OutcomeUnknown, Expired: true}
	if !p.claim(ctx, w, domain.RecordExpired, "timeout") {
		return res
	}
	if err := p.ledger.DeductLoss(w.Intent.Stake, reason); err != nil {
		slog.Error("settlement: ledger update failed", "event", w.Intent.EventID, "err", err)
	}
	p.metrics.Settled(domain.OutcomeUnknown)
	return res
}

// claim lleva el registro a un estado terminal. false si ya era terminal: el
// efecto en el ledger lo aplicó quien lo cerró primero. Si el audit log falla
// por otro motivo el resultado sigue siendo real y se aplica igualmente.
func (p *Poller) claim(ctx context.Context, w domain.AcceptedWager, status domain.RecordStatus, raw string) bool {
	_, err := p.audit.RecordResponse(ctx, domain.RecordUpdate{
		IdempotencyRef: w.Intent.IdempotencyRef,
		EventID:        w.Intent.EventID,
		Status:         status,
		RemoteRef:      w.RemoteRef,
		Detail:         raw,
	})
	if errors.Is(err, domain.ErrRecordFinalized) {
		slog.Warn("settlement: record already finalized, skipping ledger",
			"event", w.Intent.EventID, "status", status)
		return false
	}
	if err != nil {
		slog.Error("settlement: audit update failed, applying ledger anyway",
			"event", w.Intent.EventID, "status", status, "err", err)
	}
	return true
}

func (p *Poller) update(ctx context.Context, w domain.AcceptedWager, status domain.RecordStatus, raw string) {
	_, err := p.audit.RecordResponse(ctx, domain.RecordUpdate{
		IdempotencyRef: w.Intent.IdempotencyRef,
		EventID:        w.Intent.EventID,
		Status:         status,
		RemoteRef:      w.RemoteRef,
		Detail:         raw,
	})
	if errors.Is(err, domain.ErrRecordFinalized) {
		slog.Warn("settlement: audit record already final", "event", w.Intent.EventID, "status", status)
		return
	}
	if err != nil {
		slog.Error("settlement: audit update failed", "event", w.Intent.EventID, "status", status, "err", err)
	}
}

func detail(r domain.StatusReport) string {
	switch {
	case r.Code != "" && r.Text != "":
		return r.Code + ": " + r.Text
	case r.Code != "":
		return r.Code
	default:
		return r.Text
	}
}

// sleep espera d respetando el contexto. Devuelve false si ctx terminó.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
