package ports

import (
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
)

// MetricsRecorder receives engine events for observability.
type MetricsRecorder interface {
	CycleAdmitted()
	CycleReleased()
	ProviderPermitWait(d time.Duration)
	PlacementResponse(code domain.StatusCode, d domain.Disposition)
	BatchAborted()
	Settled(outcome domain.Outcome)
	Balance(current float64)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) CycleAdmitted() {}
func (NopRecorder) CycleReleased() {}
func (NopRecorder) ProviderPermitWait(time.Duration) {}
func (NopRecorder) PlacementResponse(domain.StatusCode, domain.Disposition) {}
func (NopRecorder) BatchAborted() {}
func (NopRecorder) Settled(domain.Outcome) {}
func (NopRecorder) Balance(float64) {}
