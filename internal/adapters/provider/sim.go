package provider

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Simulator es un proveedor en memoria para -dry-run. Acepta todo, liquida
// cada apuesta tras SettleAfter con un resultado derivado de su referencia y
// mantiene un saldo coherente con lo apostado.
type Simulator struct {
	mu          sync.Mutex
	settleAfter time.Duration
	balance     decimal.Decimal
	wagers      map[string]*simWager // remote ref e idempotency ref → apuesta
	now         func() time.Time
}

type simWager struct {
	req      domain.PlaceRequest
	remote   string
	placedAt time.Time
	outcome  domain.Outcome
	settled  bool
}

var _ ports.PlacementProvider = (*Simulator)(nil)

// NewSimulator crea un simulador con saldo inicial balance.
func NewSimulator(balance decimal.Decimal, settleAfter time.Duration) *Simulator {
	return &Simulator{
		settleAfter: settleAfter,
		balance:     balance,
		wagers:      make(map[string]*simWager),
		now:         time.Now,
	}
}

// PlaceWager acepta la apuesta si hay saldo. Un idempotency ref repetido
// devuelve la misma apuesta.
func (s *Simulator) PlaceWager(_ context.Context, req domain.PlaceRequest) (domain.PlaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.wagers[req.IdempotencyRef]; ok && req.IdempotencyRef != "" {
		return domain.PlaceResult{RemoteRef: w.remote, Status: domain.StatusAccepted}, nil
	}
	if req.Stake.GreaterThan(s.balance) {
		return domain.PlaceResult{Status: domain.StatusInsufficientFunds, Message: "simulated balance exhausted"}, nil
	}

	w := &simWager{
		req:      req,
		remote:   "SIM-" + uuid.NewString()[:8],
		placedAt: s.now(),
		outcome:  simOutcome(req.IdempotencyRef + req.EventID),
	}
	s.balance = s.balance.Sub(req.Stake)
	s.wagers[w.remote] = w
	if req.IdempotencyRef != "" {
		s.wagers[req.IdempotencyRef] = w
	}
	return domain.PlaceResult{RemoteRef: w.remote, Status: domain.StatusAccepted}, nil
}

// GetWagerStatus devuelve "open" hasta que pasa SettleAfter.
func (s *Simulator) GetWagerStatus(_ context.Context, ref string) (domain.StatusReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wagers[ref]
	if !ok {
		return domain.StatusReport{Code: "REJECTED", Text: "unknown wager"}, nil
	}
	if s.now().Sub(w.placedAt) < s.settleAfter {
		return domain.StatusReport{Code: "ACCEPTED", Text: "open"}, nil
	}
	if !w.settled {
		w.settled = true
		s.balance = s.balance.Add(payout(w.outcome, w.req.Stake, w.req.Price))
	}
	return domain.StatusReport{Code: string(w.outcome)}, nil
}

// GetBalance devuelve el saldo simulado.
func (s *Simulator) GetBalance(_ context.Context, _ string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// simOutcome reparte los resultados de forma estable según la referencia.
func simOutcome(key string) domain.Outcome {
	h := fnv.New32a()
	h.Write([]byte(key))
	switch h.Sum32() % 10 {
	case 0:
		return domain.OutcomeVoid
	case 1:
		return domain.OutcomeHalfWon
	case 2:
		return domain.OutcomeHalfLost
	case 3, 4, 5:
		return domain.OutcomeWon
	default:
		return domain.OutcomeLost
	}
}

// payout es lo que vuelve a la cuenta al liquidar (el stake ya se descontó).
func payout(o domain.Outcome, stake, price decimal.Decimal) decimal.Decimal {
	half := decimal.NewFromInt(2)
	switch o {
	case domain.OutcomeWon:
		return stake.Mul(price).Round(2)
	case domain.OutcomeHalfWon:
		return stake.Add(stake.Mul(price.Sub(decimal.NewFromInt(1))).Div(half)).Round(2)
	case domain.OutcomeHalfLost:
		return stake.Div(half).Round(2)
	case domain.OutcomeVoid:
		return stake
	default:
		return decimal.Zero
	}
}
