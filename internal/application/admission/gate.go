package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// Gate serializes access to a PlacementProvider: at most one call in flight
// across every cycle. The permit is held only for the duration of one call.
type Gate struct {
	next    ports.PlacementProvider
	sem     *semaphore.Weighted
	metrics ports.MetricsRecorder
}

var _ ports.PlacementProvider = (*Gate)(nil)

// NewGate wraps next with a single-holder permit.
func NewGate(next ports.PlacementProvider, metrics ports.MetricsRecorder) *Gate {
	if metrics == nil {
		metrics = ports.NopRecorder{}
	}
	return &Gate{next: next, sem: semaphore.NewWeighted(1), metrics: metrics}
}

func (g *Gate) acquire(ctx context.Context, op string) error {
	start := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("admission.Gate %s: wait permit: %w", op, err)
	}
	g.metrics.ProviderPermitWait(time.Since(start))
	return nil
}

// PlaceWager forwards one placement attempt while holding the permit.
func (g *Gate) PlaceWager(ctx context.Context, req domain.PlaceRequest) (domain.PlaceResult, error) {
	if err := g.acquire(ctx, "PlaceWager"); err != nil {
		return domain.PlaceResult{}, err
	}
	defer g.sem.Release(1)
	return g.next.PlaceWager(ctx, req)
}

// GetWagerStatus forwards one status query while holding the permit.
func (g *Gate) GetWagerStatus(ctx context.Context, ref string) (domain.StatusReport, error) {
	if err := g.acquire(ctx, "GetWagerStatus"); err != nil {
		return domain.StatusReport{}, err
	}
	defer g.sem.Release(1)
	return g.next.GetWagerStatus(ctx, ref)
}

// GetBalance forwards one balance query while holding the permit.
func (g *Gate) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	if err := g.acquire(ctx, "GetBalance"); err != nil {
		return decimal.Zero, err
	}
	defer g.sem.Release(1)
	return g.next.GetBalance(ctx, currency)
}
