package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxAdjustRetries = 2
	defaultMaxRejectRetries = 2
)

var (
	defaultStakeShrink = decimal.RequireFromString("0.9")
	cent               = decimal.New(1, -2)
)

// State is the lifecycle position of one intent inside a batch.
type State string

const (
	StateInit          State = "INIT"
	StatePlacedPending State = "PLACED_PENDING"
	StateAccepted      State = "ACCEPTED"
	StateRejectedRetry State = "REJECTED_RETRY"
	StateRejectedFinal State = "REJECTED_FINAL"
	StateCriticalAbort State = "CRITICAL_ABORT"
)

// Config controls the retry policy.
type Config struct {
	MaxAdjustRetries int             // PRICE_ABOVE_MARKET / STAKE_ABOVE_MAX re-placements per intent
	MaxRejectRetries int             // REJECTED re-placements per intent
	StakeShrink      decimal.Decimal // factor applied on STAKE_ABOVE_MAX
}

// AbortError is returned when a critical provider response stops the batch.
type AbortError struct {
	EventID string
	Code    domain.StatusCode
	Message string
}

func (e *AbortError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("placement aborted on event %s: %s", e.EventID, e.Code)
	}
	return fmt.Sprintf("placement aborted on event %s: %s (%s)", e.EventID, e.Code, e.Message)
}

// Machine drives each intent of a batch from INIT to a terminal placement
// state. It is stateless between batches and safe for concurrent use.
type Machine struct {
	provider ports.PlacementProvider
	audit    ports.AuditLog
	metrics  ports.MetricsRecorder
	cfg      Config
	now      func() time.Time
}

// New creates a placement state machine.
func New(provider ports.PlacementProvider, audit ports.AuditLog, metrics ports.MetricsRecorder, cfg Config) *Machine {
	if cfg.MaxAdjustRetries <= 0 {
		cfg.MaxAdjustRetries = defaultMaxAdjustRetries
	}
	if cfg.MaxRejectRetries <= 0 {
		cfg.MaxRejectRetries = defaultMaxRejectRetries
	}
	if !cfg.StakeShrink.IsPositive() || !cfg.StakeShrink.LessThan(decimal.NewFromInt(1)) {
		cfg.StakeShrink = defaultStakeShrink
	}
	if metrics == nil {
		metrics = ports.NopRecorder{}
	}
	return &Machine{
		provider: provider,
		audit:    audit,
		metrics:  metrics,
		cfg:      cfg,
		now:      time.Now,
	}
}

// DefaultConfig returns the production retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAdjustRetries: defaultMaxAdjustRetries,
		MaxRejectRetries: defaultMaxRejectRetries,
		StakeShrink:      defaultStakeShrink,
	}
}

// step is what one intent needs after an attempt.
type step int

const (
	stepAccepted step = iota
	stepDropped
	stepDeferred
	stepAborted
)

// PlaceBatch places every intent and returns those accepted or provisionally
// accepted. An intent without idempotency ref gets one derived from its event
// and side. A critical response returns a nil slice and an *AbortError.
// Intents rejected (or failed at the transport) in the first pass are retried
// together in one consolidated pass afterwards.
func (m *Machine) PlaceBatch(ctx context.Context, intents []domain.WagerIntent) ([]domain.AcceptedWager, error) {
	var (
		accepted []domain.AcceptedWager
		deferred []domain.WagerIntent
	)

	slog.Info("placement: batch start", "intents", len(intents))

	for _, in := range intents {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		st, aw, err := m.place(ctx, &in, false)
		switch st {
		case stepAborted:
			return nil, m.abort(err)
		case stepAccepted:
			accepted = append(accepted, aw)
		case stepDeferred:
			deferred = append(deferred, in)
		}
	}

	if len(deferred) > 0 {
		slog.Info("placement: consolidated retry pass", "intents", len(deferred))
	}
	for _, in := range deferred {
		if err := ctx.Err(); err != nil {
			return accepted, err
		}
		st, aw, err := m.place(ctx, &in, true)
		switch st {
		case stepAborted:
			return nil, m.abort(err)
		case stepAccepted:
			accepted = append(accepted, aw)
		}
	}

	slog.Info("placement: batch done",
		"intents", len(intents),
		"accepted", len(accepted),
		"retried", len(deferred),
	)
	return accepted, nil
}

func (m *Machine) abort(err error) error {
	m.metrics.BatchAborted()
	var ae *AbortError
	if errors.As(err, &ae) {
		slog.Error("placement: batch aborted, discarding results", "event", ae.EventID, "code", ae.Code)
	}
	return err
}

// place runs the attempt loop for one intent. Adjustments retry inline; a
// rejection is deferred in the first pass and retried inline in the second.
func (m *Machine) place(ctx context.Context, in *domain.WagerIntent, retryPass bool) (step, domain.AcceptedWager, error) {
	if in.IdempotencyRef == "" {
		in.IdempotencyRef = domain.DeriveIdempotencyRef(in.EventID, in.Side)
		slog.Debug("placement: derived idempotency ref", "event", in.EventID, "ref", in.IdempotencyRef)
	}
	if st, aw, done := m.fromAudit(ctx, *in); done {
		return st, aw, nil
	}

	state := StateInit
	if retryPass {
		state = StateRejectedRetry
	}

	for {
		rec, err := m.audit.RecordPending(ctx, *in)
		if err != nil {
			slog.Error("placement: audit write failed, not placing",
				"event", in.EventID, "ref", in.IdempotencyRef, "err", err)
			return stepDropped, domain.AcceptedWager{}, nil
		}
		state = m.transition(in, state, StatePlacedPending, "", "stake", in.Stake.StringFixed(2))

		res, err := m.provider.PlaceWager(ctx, domain.NewPlaceRequest(*in))
		if err != nil {
			if ctx.Err() != nil {
				return stepDropped, domain.AcceptedWager{}, nil
			}
			if !retryPass {
				slog.Warn("placement: transport error, deferring to retry pass",
					"event", in.EventID, "err", err)
				m.transition(in, state, StateRejectedRetry, "", "err", err.Error())
				return stepDeferred, domain.AcceptedWager{}, nil
			}
			slog.Warn("placement: transport error in retry pass, keeping as pending",
				"event", in.EventID, "err", err)
			m.transition(in, state, StateAccepted, "", "provisional", true)
			return stepAccepted, m.accept(ctx, rec, in, domain.PlaceResult{Status: domain.StatusUnknown}, "transport: "+err.Error()), nil
		}

		disp := res.Status.Classify()
		m.metrics.PlacementResponse(res.Status, disp)
		slog.Debug("placement: response",
			"event", in.EventID, "code", res.Status, "disposition", disp, "message", res.Message)

		switch disp {
		case domain.DispositionAccepted, domain.DispositionPending, domain.DispositionUnknown:
			m.transition(in, state, StateAccepted, res.Status, "remote_ref", res.RemoteRef)
			return stepAccepted, m.accept(ctx, rec, in, res, string(res.Status)), nil

		case domain.DispositionAdjustPrice, domain.DispositionAdjustStake:
			if in.AdjustRetries >= m.cfg.MaxAdjustRetries {
				m.finalize(ctx, in, state, res.Status, "adjust retries exhausted")
				return stepDropped, domain.AcceptedWager{}, nil
			}
			in.AdjustRetries++
			if disp == domain.DispositionAdjustStake {
				before := in.Stake
				in.Stake = m.shrink(in.Stake)
				if !in.Stake.IsPositive() {
					in.Stake = before
					m.finalize(ctx, in, state, res.Status, "stake cannot shrink further")
					return stepDropped, domain.AcceptedWager{}, nil
				}
				slog.Info("placement: stake shrunk",
					"event", in.EventID,
					"before", before.StringFixed(2),
					"after", in.Stake.StringFixed(2),
					"attempt", in.AdjustRetries,
				)
			}
			m.markRetry(ctx, in, res.Status)
			state = m.transition(in, state, StateRejectedRetry, res.Status, "adjust_retries", in.AdjustRetries)

		case domain.DispositionDrop:
			m.finalize(ctx, in, state, res.Status, "unplaceable")
			return stepDropped, domain.AcceptedWager{}, nil

		case domain.DispositionRejected:
			if in.RejectRetries >= m.cfg.MaxRejectRetries {
				m.finalize(ctx, in, state, res.Status, "reject retries exhausted")
				return stepDropped, domain.AcceptedWager{}, nil
			}
			in.RejectRetries++
			m.markRetry(ctx, in, res.Status)
			state = m.transition(in, state, StateRejectedRetry, res.Status, "reject_retries", in.RejectRetries)
			if !retryPass {
				return stepDeferred, domain.AcceptedWager{}, nil
			}

		case domain.DispositionCritical:
			m.transition(in, state, StateCriticalAbort, res.Status, "message", res.Message)
			m.record(ctx, domain.RecordUpdate{
				IdempotencyRef: in.IdempotencyRef,
				EventID:        in.EventID,
				Status:         domain.RecordRejected,
				RemoteRef:      res.RemoteRef,
				Detail:         string(res.Status),
			})
			return stepAborted, domain.AcceptedWager{}, &AbortError{
				EventID: in.EventID,
				Code:    res.Status,
				Message: res.Message,
			}
		}
	}
}

// fromAudit suppresses duplicates across restarts: a placed wager is handed
// straight to settlement, a finished one is skipped.
func (m *Machine) fromAudit(ctx context.Context, in domain.WagerIntent) (step, domain.AcceptedWager, bool) {
	rec, ok, err := m.audit.Lookup(ctx, in.IdempotencyRef)
	if err != nil {
		slog.Warn("placement: audit lookup failed, placing anyway",
			"event", in.EventID, "ref", in.IdempotencyRef, "err", err)
		return 0, domain.AcceptedWager{}, false
	}
	if !ok {
		return 0, domain.AcceptedWager{}, false
	}

	switch {
	case rec.Status.Placed():
		slog.Info("placement: already placed, skipping provider",
			"event", in.EventID, "local_ref", rec.LocalRef, "status", rec.Status)
		return stepAccepted, domain.AcceptedWager{
			Intent:     rec.Intent(),
			LocalRef:   rec.LocalRef,
			RemoteRef:  rec.RemoteRef,
			Status:     domain.StatusCode(rec.Status),
			AcceptedAt: rec.CreatedAt,
		}, true
	case rec.Status.Terminal():
		slog.Info("placement: already finished, skipping",
			"event", in.EventID, "local_ref", rec.LocalRef, "status", rec.Status)
		return stepDropped, domain.AcceptedWager{}, true
	}
	return 0, domain.AcceptedWager{}, false
}

func (m *Machine) accept(ctx context.Context, rec domain.WagerRecord, in *domain.WagerIntent, res domain.PlaceResult, detail string) domain.AcceptedWager {
	status := domain.RecordPendingAcceptance
	code := res.Status
	if res.Status == domain.StatusAccepted {
		status = domain.RecordAccepted
	} else if code != domain.StatusPendingAcceptance {
		// UNKNOWN y fallos de transporte quedan pendientes de confirmación.
		code = domain.StatusPendingAcceptance
	}

	stake := in.Stake
	m.record(ctx, domain.RecordUpdate{
		IdempotencyRef: in.IdempotencyRef,
		EventID:        in.EventID,
		Status:         status,
		RemoteRef:      res.RemoteRef,
		Stake:          &stake,
		Detail:         detail,
	})

	return domain.AcceptedWager{
		Intent:     *in,
		LocalRef:   rec.LocalRef,
		RemoteRef:  res.RemoteRef,
		Status:     code,
		AcceptedAt: m.now(),
	}
}

func (m *Machine) finalize(ctx context.Context, in *domain.WagerIntent, from State, code domain.StatusCode, why string) {
	m.transition(in, from, StateRejectedFinal, code, "why", why)
	m.record(ctx, domain.RecordUpdate{
		IdempotencyRef: in.IdempotencyRef,
		EventID:        in.EventID,
		Status:         domain.RecordRejected,
		Detail:         string(code),
	})
}

// markRetry leaves the record PENDING with the last code as detail.
func (m *Machine) markRetry(ctx context.Context, in *domain.WagerIntent, code domain.StatusCode) {
	m.record(ctx, domain.RecordUpdate{
		IdempotencyRef: in.IdempotencyRef,
		EventID:        in.EventID,
		Status:         domain.RecordPending,
		Detail:         string(code),
	})
}

func (m *Machine) record(ctx context.Context, upd domain.RecordUpdate) {
	if _, err := m.audit.RecordResponse(ctx, upd); err != nil {
		slog.Error("placement: audit update failed",
			"event", upd.EventID, "ref", upd.IdempotencyRef, "status", upd.Status, "err", err)
	}
}

// shrink reduces the stake by the configured factor, truncated to cents and
// always strictly below the input.
func (m *Machine) shrink(stake decimal.Decimal) decimal.Decimal {
	next := stake.Mul(m.cfg.StakeShrink).Truncate(2)
	if !next.LessThan(stake) {
		next = stake.Sub(cent)
	}
	return next
}

func (m *Machine) transition(in *domain.WagerIntent, from, to State, code domain.StatusCode, kv ...any) State {
	args := []any{
		"event", in.EventID,
		"side", in.Side,
		"from", from,
		"to", to,
	}
	if code != "" {
		args = append(args, "code", code)
	}
	args = append(args, kv...)
	slog.Info("placement: transition", args...)
	return to
}
