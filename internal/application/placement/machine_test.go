package placement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alejandrodnm/wagerbot/internal/adapters/storage"
	"github.com/alejandrodnm/wagerbot/internal/application/placement"
	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reply struct {
	code string
	err  error
}

// scriptedProvider responde por evento según un guion; sin guion, ACCEPTED.
type scriptedProvider struct {
	mu      sync.Mutex
	script  map[string][]reply
	calls   []domain.PlaceRequest
	onPlace func(domain.PlaceRequest)
}

func newProvider(script map[string][]reply) *scriptedProvider {
	return &scriptedProvider{script: script}
}

func (p *scriptedProvider) PlaceWager(_ context.Context, req domain.PlaceRequest) (domain.PlaceResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	var r reply
	if q := p.script[req.EventID]; len(q) > 0 {
		r, p.script[req.EventID] = q[0], q[1:]
	} else {
		r = reply{code: "ACCEPTED"}
	}
	hook := p.onPlace
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if r.err != nil {
		return domain.PlaceResult{}, r.err
	}
	res := domain.PlaceResult{Status: domain.ParseStatusCode(r.code)}
	if res.Status == domain.StatusAccepted || res.Status == domain.StatusPendingAcceptance {
		res.RemoteRef = "R-" + req.EventID
	}
	return res, nil
}

func (p *scriptedProvider) GetWagerStatus(context.Context, string) (domain.StatusReport, error) {
	return domain.StatusReport{}, nil
}

func (p *scriptedProvider) GetBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (p *scriptedProvider) callsFor(eventID string) []domain.PlaceRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PlaceRequest
	for _, c := range p.calls {
		if c.EventID == eventID {
			out = append(out, c)
		}
	}
	return out
}

func (p *scriptedProvider) order() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.EventID
	}
	return out
}

func intent(eventID, stake string) domain.WagerIntent {
	return domain.WagerIntent{
		EventID:        eventID,
		Side:           domain.SideB,
		Odds:           decimal.RequireFromString("1.95"),
		Stake:          decimal.RequireFromString(stake),
		Currency:       "EUR",
		IdempotencyRef: "idem-" + eventID,
	}
}

func setup(t *testing.T, script map[string][]reply) (*placement.Machine, *scriptedProvider, *storage.AuditSQLite) {
	t.Helper()
	audit, err := storage.OpenAuditSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })

	p := newProvider(script)
	return placement.New(p, audit, nil, placement.DefaultConfig()), p, audit
}

func recordFor(t *testing.T, audit *storage.AuditSQLite, eventID string) domain.WagerRecord {
	t.Helper()
	rec, ok, err := audit.Lookup(context.Background(), "idem-"+eventID)
	require.NoError(t, err)
	require.True(t, ok, "no audit record for %s", eventID)
	return rec
}

func TestPlaceBatch_AcceptedFirstTry(t *testing.T) {
	m, p, audit := setup(t, nil)

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	assert.Equal(t, "R-e1", accepted[0].RemoteRef)
	assert.Equal(t, domain.StatusAccepted, accepted[0].Status)
	assert.NotEmpty(t, accepted[0].LocalRef)
	assert.Len(t, p.callsFor("e1"), 1)

	rec := recordFor(t, audit, "e1")
	assert.Equal(t, domain.RecordAccepted, rec.Status)
	assert.Equal(t, "R-e1", rec.RemoteRef)
	assert.Equal(t, accepted[0].LocalRef, rec.LocalRef)
}

func TestPlaceBatch_PendingRecordWrittenBeforeProviderCall(t *testing.T) {
	m, p, audit := setup(t, nil)

	var seen domain.RecordStatus
	p.onPlace = func(req domain.PlaceRequest) {
		rec, ok, err := audit.Lookup(context.Background(), req.IdempotencyRef)
		if err == nil && ok {
			seen = rec.Status
		}
	}

	_, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordPending, seen)
}

func TestPlaceBatch_PriceAboveMarketExhaustsAdjustRetries(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{code: "PRICE_ABOVE_MARKET"}, {code: "PRICE_ABOVE_MARKET"}, {code: "PRICE_ABOVE_MARKET"}, {code: "ACCEPTED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, p.callsFor("e1"), 3)

	rec := recordFor(t, audit, "e1")
	assert.Equal(t, domain.RecordRejected, rec.Status)
	assert.Equal(t, "PRICE_ABOVE_MARKET", rec.Detail)
	assert.NotNil(t, rec.CompletedAt)
}

func TestPlaceBatch_StakeAboveMaxShrinksStake(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{code: "STAKE_ABOVE_MAX"}, {code: "STAKE_ABOVE_MAX"}, {code: "ACCEPTED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "100")})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	calls := p.callsFor("e1")
	require.Len(t, calls, 3)
	assert.Equal(t, "100.00", calls[0].Stake.StringFixed(2))
	assert.Equal(t, "90.00", calls[1].Stake.StringFixed(2))
	assert.Equal(t, "81.00", calls[2].Stake.StringFixed(2))

	assert.Equal(t, "81.00", accepted[0].Intent.Stake.StringFixed(2))
	assert.Equal(t, 2, accepted[0].Intent.AdjustRetries)
	assert.Equal(t, "81.00", recordFor(t, audit, "e1").Stake.StringFixed(2))
}

func TestPlaceBatch_StakeShrinkTruncatesAndStrictlyDecreases(t *testing.T) {
	m, p, _ := setup(t, map[string][]reply{
		"e1": {{code: "STAKE_ABOVE_MAX"}, {code: "ACCEPTED"}},
		"e2": {{code: "STAKE_ABOVE_MAX"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{
		intent("e1", "0.05"),
		intent("e2", "0.01"),
	})
	require.NoError(t, err)

	// 0.05 * 0.9 = 0.045 → 0.04
	calls := p.callsFor("e1")
	require.Len(t, calls, 2)
	assert.Equal(t, "0.04", calls[1].Stake.StringFixed(2))
	require.Len(t, accepted, 1)

	// 0.01 no puede bajar de un céntimo: se descarta sin reintentar
	assert.Len(t, p.callsFor("e2"), 1)
}

func TestPlaceBatch_DropCodesAreFinal(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{code: "STAKE_BELOW_MIN"}},
		"e2": {{code: "PUSH"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "1"), intent("e2", "1")})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, p.callsFor("e1"), 1)
	assert.Len(t, p.callsFor("e2"), 1)
	assert.Equal(t, domain.RecordRejected, recordFor(t, audit, "e1").Status)
	assert.Equal(t, domain.RecordRejected, recordFor(t, audit, "e2").Status)
}

func TestPlaceBatch_RejectedRetriedInConsolidatedPass(t *testing.T) {
	m, p, _ := setup(t, map[string][]reply{
		"e1": {{code: "REJECTED"}, {code: "ACCEPTED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10"), intent("e2", "10")})
	require.NoError(t, err)
	require.Len(t, accepted, 2)

	// e1 se reintenta solo después de la primera pasada completa
	assert.Equal(t, []string{"e1", "e2", "e1"}, p.order())
	assert.Equal(t, "e2", accepted[0].Intent.EventID)
	assert.Equal(t, "e1", accepted[1].Intent.EventID)
	assert.Equal(t, 1, accepted[1].Intent.RejectRetries)
}

func TestPlaceBatch_RejectedThreeTimesIsDropped(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{code: "REJECTED"}, {code: "REJECTED"}, {code: "REJECTED"}, {code: "ACCEPTED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Len(t, p.callsFor("e1"), 3)
	assert.Equal(t, domain.RecordRejected, recordFor(t, audit, "e1").Status)
}

func TestPlaceBatch_CriticalAbortsBatch(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e2": {{code: "INSUFFICIENT_FUNDS"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{
		intent("e1", "10"), intent("e2", "10"), intent("e3", "10"),
	})
	assert.Nil(t, accepted)

	var abort *placement.AbortError
	require.True(t, errors.As(err, &abort))
	assert.Equal(t, "e2", abort.EventID)
	assert.Equal(t, domain.StatusInsufficientFunds, abort.Code)

	assert.Empty(t, p.callsFor("e3"))
	assert.Equal(t, domain.RecordRejected, recordFor(t, audit, "e2").Status)
	_, ok, err := audit.Lookup(context.Background(), "idem-e3")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaceBatch_HTTPErrorIsCritical(t *testing.T) {
	m, _, _ := setup(t, map[string][]reply{
		"e1": {{code: "HTTP_503"}},
	})

	_, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	var abort *placement.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, domain.HTTPStatus(503), abort.Code)
}

func TestPlaceBatch_CriticalInRetryPassAborts(t *testing.T) {
	m, _, _ := setup(t, map[string][]reply{
		"e1": {{code: "REJECTED"}, {code: "MARKET_SUSPENDED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10"), intent("e2", "10")})
	assert.Nil(t, accepted)
	var abort *placement.AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, domain.StatusMarketSuspended, abort.Code)
}

func TestPlaceBatch_TransportErrorRetriedThenAccepted(t *testing.T) {
	m, p, _ := setup(t, map[string][]reply{
		"e1": {{err: errors.New("connection reset")}, {code: "ACCEPTED"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Len(t, p.callsFor("e1"), 2)
	assert.Zero(t, accepted[0].Intent.RejectRetries)
}

func TestPlaceBatch_TransportErrorTwiceStaysPending(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{err: errors.New("timeout")}, {err: errors.New("timeout")}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Len(t, p.callsFor("e1"), 2)

	aw := accepted[0]
	assert.Empty(t, aw.RemoteRef)
	assert.Equal(t, domain.StatusPendingAcceptance, aw.Status)
	assert.Equal(t, "idem-e1", aw.StatusRef())

	rec := recordFor(t, audit, "e1")
	assert.Equal(t, domain.RecordPendingAcceptance, rec.Status)
	assert.Contains(t, rec.Detail, "transport")
}

func TestPlaceBatch_UnknownCodeIsProvisionallyAccepted(t *testing.T) {
	m, _, audit := setup(t, map[string][]reply{
		"e1": {{code: "UNDER_REVIEW_BY_TRADER"}},
	})

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{intent("e1", "10")})
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, domain.StatusPendingAcceptance, accepted[0].Status)
	assert.Equal(t, domain.RecordPendingAcceptance, recordFor(t, audit, "e1").Status)
}

func TestPlaceBatch_DuplicateSuppressedAcrossRuns(t *testing.T) {
	m, p, _ := setup(t, map[string][]reply{
		"e2": {{code: "STAKE_BELOW_MIN"}},
	})
	batch := []domain.WagerIntent{intent("e1", "10"), intent("e2", "10")}

	_, err := m.PlaceBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, p.order(), 2)

	// Segunda ejecución con el mismo lote: e1 ya colocada, e2 ya finalizada.
	accepted, err := m.PlaceBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Len(t, p.order(), 2)
	require.Len(t, accepted, 1)
	assert.Equal(t, "e1", accepted[0].Intent.EventID)
	assert.Equal(t, "R-e1", accepted[0].RemoteRef)
}

func TestPlaceBatch_IntentWithoutRefGetsDerivedRef(t *testing.T) {
	m, p, audit := setup(t, map[string][]reply{
		"e1": {{code: "REJECTED"}},
	})
	in := intent("e1", "10")
	in.IdempotencyRef = ""

	accepted, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{in})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	ref := domain.DeriveIdempotencyRef("e1", domain.SideB)
	assert.Equal(t, ref, accepted[0].Intent.IdempotencyRef)
	calls := p.callsFor("e1")
	require.Len(t, calls, 2)
	assert.Equal(t, ref, calls[0].IdempotencyRef)
	assert.Equal(t, ref, calls[1].IdempotencyRef)

	all, err := audit.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1, "el reintento reutiliza el registro")
	assert.Equal(t, domain.RecordAccepted, all[0].Status)

	// Mismo pick en un ciclo posterior: ya colocado, no vuelve al proveedor.
	again, err := m.PlaceBatch(context.Background(), []domain.WagerIntent{in})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Len(t, p.callsFor("e1"), 2)
}

func TestPlaceBatch_CancelledContext(t *testing.T) {
	m, p, _ := setup(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	accepted, err := m.PlaceBatch(ctx, []domain.WagerIntent{intent("e1", "10")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, accepted)
	assert.Empty(t, p.order())
}
