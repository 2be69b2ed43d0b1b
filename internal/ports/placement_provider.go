package ports

import (
	"context"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/shopspring/decimal"
)

// PlacementProvider places and queries wagers at the venue.
//
// A non-nil error always means a transport failure (network, automation
// session, decode). Venue verdicts, HTTP error statuses included, come back
// in the result's status code.
type PlacementProvider interface {
	// PlaceWager submits one placement attempt. Retrying with the same
	// IdempotencyRef must be recognised by the venue as the same wager.
	PlaceWager(ctx context.Context, req domain.PlaceRequest) (domain.PlaceResult, error)

	// GetWagerStatus returns the current status of a wager by remote
	// reference, or by idempotency reference when no remote ref is known.
	GetWagerStatus(ctx context.Context, ref string) (domain.StatusReport, error)

	// GetBalance returns the available account balance in the given currency.
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
}
