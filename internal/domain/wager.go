package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// refNamespace es el namespace de los idempotency refs derivados.
var refNamespace = uuid.MustParse("6f1c7d2e-4b0a-5c55-9a63-0d2b8e7f4c11")

// DeriveIdempotencyRef returns the stable idempotency ref of (event, side),
// used when the producer of an intent did not supply one.
func DeriveIdempotencyRef(eventID string, side Side) string {
	return uuid.NewSHA1(refNamespace, []byte(eventID+"|"+string(side))).String()
}

// Side is the outcome a wager backs.
type Side string

const (
	SideA Side = "SIDE_A"
	SideB Side = "SIDE_B"
)

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// WagerIntent is one candidate wager awaiting placement.
type WagerIntent struct {
	EventID        string
	Side           Side
	Odds           decimal.Decimal // decimal odds of the chosen side
	Stake          decimal.Decimal
	Currency       string
	IdempotencyRef string // client-generated, stable across retries and restarts
	AdjustRetries  int    // PRICE_ABOVE_MARKET / STAKE_ABOVE_MAX retries consumed
	RejectRetries  int    // REJECTED re-placements consumed
}

// AcceptedWager is a wager the provider accepted (or provisionally accepted)
// and that now belongs to the settlement poller.
type AcceptedWager struct {
	Intent     WagerIntent
	LocalRef   string
	RemoteRef  string // empty when the provider never acknowledged the wager
	Status     StatusCode
	AcceptedAt time.Time
}

// StatusRef returns the reference used to query the provider for this wager.
func (a AcceptedWager) StatusRef() string {
	if a.RemoteRef != "" {
		return a.RemoteRef
	}
	return a.Intent.IdempotencyRef
}

// RecordStatus is the canonical lifecycle status of a WagerRecord.
type RecordStatus string

const (
	RecordPending           RecordStatus = "PENDING"
	RecordAccepted          RecordStatus = "ACCEPTED"
	RecordPendingAcceptance RecordStatus = "PENDING_ACCEPTANCE"
	RecordRejected          RecordStatus = "REJECTED"
	RecordWon               RecordStatus = "WON"
	RecordLost              RecordStatus = "LOST"
	RecordHalfWon           RecordStatus = "HALF_WON"
	RecordHalfLost          RecordStatus = "HALF_LOST"
	RecordVoid              RecordStatus = "VOID"
	RecordExpired           RecordStatus = "EXPIRED"
)

// Terminal reports whether a record in this status may no longer change.
func (s RecordStatus) Terminal() bool {
	switch s {
	case RecordRejected, RecordWon, RecordLost, RecordHalfWon, RecordHalfLost, RecordVoid, RecordExpired:
		return true
	}
	return false
}

// Placed reports whether the provider holds a live wager for this record.
func (s RecordStatus) Placed() bool {
	return s == RecordAccepted || s == RecordPendingAcceptance
}

// WagerRecord is the audit log entry for one logical wager.
type WagerRecord struct {
	LocalRef       string          `json:"local_ref"`
	RemoteRef      string          `json:"remote_ref,omitempty"`
	IdempotencyRef string          `json:"idempotency_ref"`
	EventID        string          `json:"event_id"`
	Side           Side            `json:"side"`
	Odds           decimal.Decimal `json:"odds"`
	Stake          decimal.Decimal `json:"stake"`
	Currency       string          `json:"currency"`
	Status         RecordStatus    `json:"status"`
	Detail         string          `json:"detail,omitempty"` // last raw provider code or text
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// Intent rebuilds the wager intent carried by the record.
func (r WagerRecord) Intent() WagerIntent {
	return WagerIntent{
		EventID:        r.EventID,
		Side:           r.Side,
		Odds:           r.Odds,
		Stake:          r.Stake,
		Currency:       r.Currency,
		IdempotencyRef: r.IdempotencyRef,
	}
}

// RecordUpdate is applied in place to an existing WagerRecord.
// IdempotencyRef is the lookup key; when empty the most recent record for
// EventID is used.
type RecordUpdate struct {
	IdempotencyRef string
	EventID        string
	Status         RecordStatus
	RemoteRef      string           // ignored when empty
	Stake          *decimal.Decimal // set when the state machine shrank the stake
	Detail         string
}

// Apply mutates r with the update and stamps CompletedAt on terminal statuses.
func (u RecordUpdate) Apply(r *WagerRecord, now time.Time) {
	if u.Status != "" {
		r.Status = u.Status
	}
	if u.RemoteRef != "" {
		r.RemoteRef = u.RemoteRef
	}
	if u.Stake != nil {
		r.Stake = *u.Stake
	}
	if u.Detail != "" {
		r.Detail = u.Detail
	}
	if r.Status.Terminal() && r.CompletedAt == nil {
		t := now.UTC()
		r.CompletedAt = &t
	}
}

// TruncateRef acorta referencias largas para logs y tablas.
func TruncateRef(ref string, maxLen int) string {
	if len(ref) <= maxLen {
		return ref
	}
	return ref[:maxLen]
}
