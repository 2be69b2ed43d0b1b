package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/application/placement"
	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
)

// Admitter bounds concurrent cycles.
type Admitter interface {
	Acquire(ctx context.Context, cycleID string) error
	Release(cycleID string)
}

// Placer places a batch of intents.
type Placer interface {
	PlaceBatch(ctx context.Context, intents []domain.WagerIntent) ([]domain.AcceptedWager, error)
}

// Settler polls accepted wagers until they settle.
type Settler interface {
	Settle(ctx context.Context, wagers []domain.AcceptedWager) ([]domain.SettlementResult, error)
}

// Runner executes one cycle: admit → place → settle → release. The admission
// slot is held until every accepted wager of the cycle has settled.
type Runner struct {
	admission Admitter
	placer    Placer
	settler   Settler
}

// NewRunner creates a cycle runner.
func NewRunner(admission Admitter, placer Placer, settler Settler) *Runner {
	return &Runner{admission: admission, placer: placer, settler: settler}
}

// Run executes one full cycle for intents. The returned error is either the
// admission cancellation, a *placement.AbortError, or ctx.Err() when the
// cycle was interrupted while placing or settling.
func (r *Runner) Run(ctx context.Context, cycleID string, intents []domain.WagerIntent) (domain.CycleReport, error) {
	rep := domain.CycleReport{CycleID: cycleID, Intents: len(intents)}

	if err := r.admission.Acquire(ctx, cycleID); err != nil {
		return rep, fmt.Errorf("cycle.Run %s: admission: %w", cycleID, err)
	}
	defer r.admission.Release(cycleID)
	rep.StartedAt = time.Now()

	accepted, err := r.placer.PlaceBatch(ctx, intents)
	if err != nil {
		rep.FinishedAt = time.Now()
		var abort *placement.AbortError
		if errors.As(err, &abort) {
			rep.AbortEvent = abort.EventID
			rep.AbortCode = abort.Code
			slog.Error("cycle: placement aborted",
				"cycle", cycleID, "event", abort.EventID, "code", abort.Code)
			return rep, err
		}
		// Interrumpido: lo ya aceptado queda en el audit log y se retoma al arrancar.
		rep.Accepted = len(accepted)
		return rep, fmt.Errorf("cycle.Run %s: place: %w", cycleID, err)
	}
	rep.Accepted = len(accepted)

	slog.Info("cycle: placement done, settling",
		"cycle", cycleID, "intents", len(intents), "accepted", len(accepted))

	return r.settle(ctx, rep, accepted)
}

// Resume re-admits wagers found placed but unsettled at startup and settles
// them like any other cycle.
func (r *Runner) Resume(ctx context.Context, cycleID string, wagers []domain.AcceptedWager) (domain.CycleReport, error) {
	rep := domain.CycleReport{CycleID: cycleID, Recovery: true, Intents: len(wagers), Accepted: len(wagers)}

	if err := r.admission.Acquire(ctx, cycleID); err != nil {
		return rep, fmt.Errorf("cycle.Resume %s: admission: %w", cycleID, err)
	}
	defer r.admission.Release(cycleID)
	rep.StartedAt = time.Now()

	slog.Info("cycle: resuming unsettled wagers", "cycle", cycleID, "wagers", len(wagers))
	return r.settle(ctx, rep, wagers)
}

func (r *Runner) settle(ctx context.Context, rep domain.CycleReport, wagers []domain.AcceptedWager) (domain.CycleReport, error) {
	results, err := r.settler.Settle(ctx, wagers)
	rep.Settled = results
	rep.FinishedAt = time.Now()
	if err != nil {
		return rep, fmt.Errorf("cycle %s: settle: %w", rep.CycleID, err)
	}

	slog.Info("cycle: done",
		"cycle", rep.CycleID,
		"settled", len(results),
		"duration", rep.Duration().Round(time.Second),
	)
	return rep, nil
}

// Unsettled rebuilds the accepted wagers of every placed but unsettled audit
// record, for crash recovery.
func Unsettled(ctx context.Context, audit ports.AuditLog) ([]domain.AcceptedWager, error) {
	recs, err := audit.Unsettled(ctx)
	if err != nil {
		return nil, fmt.Errorf("cycle.Unsettled: %w", err)
	}
	out := make([]domain.AcceptedWager, 0, len(recs))
	for _, rec := range recs {
		out = append(out, domain.AcceptedWager{
			Intent:     rec.Intent(),
			LocalRef:   rec.LocalRef,
			RemoteRef:  rec.RemoteRef,
			Status:     domain.StatusCode(rec.Status),
			AcceptedAt: rec.CreatedAt,
		})
	}
	return out, nil
}
