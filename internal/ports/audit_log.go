package ports

import (
	"context"

	"github.com/alejandrodnm/wagerbot/internal/domain"
)

// AuditLog persists one WagerRecord per logical wager.
type AuditLog interface {
	// RecordPending writes a PENDING record for the intent before a placement
	// attempt. Idempotent: an existing record with the same idempotency ref is
	// refreshed (stake) and returned, never duplicated. Terminal records are
	// returned unchanged.
	RecordPending(ctx context.Context, intent domain.WagerIntent) (domain.WagerRecord, error)

	// RecordResponse applies an update in place. Returns domain.ErrRecordFinalized
	// for terminal records and domain.ErrRecordNotFound when nothing matches.
	RecordResponse(ctx context.Context, upd domain.RecordUpdate) (domain.WagerRecord, error)

	// Lookup returns the record for an idempotency ref.
	Lookup(ctx context.Context, idempotencyRef string) (domain.WagerRecord, bool, error)

	// Unsettled returns placed records that still await settlement.
	Unsettled(ctx context.Context) ([]domain.WagerRecord, error)

	// All returns every record, most recent first.
	All(ctx context.Context) ([]domain.WagerRecord, error)
}
