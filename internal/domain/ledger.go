package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerStats are the persisted running statistics of the balance ledger.
// Current = StartingBalance + TotalProfit - TotalLoss.
type LedgerStats struct {
	StartingBalance decimal.Decimal
	TotalWins       int
	TotalLosses     int
	TotalTimeouts   int
	TotalProfit     decimal.Decimal
	TotalLoss       decimal.Decimal
}

// LedgerSnapshot is a consistent read of the ledger for dashboards.
type LedgerSnapshot struct {
	Current decimal.Decimal
	LedgerStats
	TakenAt time.Time
}

// NetPnL returns profit minus loss since the statistics reset point.
func (s LedgerSnapshot) NetPnL() decimal.Decimal {
	return s.TotalProfit.Sub(s.TotalLoss)
}

// Settled returns the number of wagers that moved the balance.
func (s LedgerSnapshot) Settled() int {
	return s.TotalWins + s.TotalLosses + s.TotalTimeouts
}

// WinRate returns wins over settled wagers, 0 when nothing settled yet.
func (s LedgerSnapshot) WinRate() float64 {
	n := s.Settled()
	if n == 0 {
		return 0
	}
	return float64(s.TotalWins) / float64(n)
}
