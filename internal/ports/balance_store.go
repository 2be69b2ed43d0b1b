package ports

import (
	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/shopspring/decimal"
)

// BalanceStore persists the ledger balance and statistics.
type BalanceStore interface {
	// LoadBalance returns the persisted balance. found=false when nothing was
	// persisted yet; a non-nil error means the stored value is unusable.
	LoadBalance() (balance decimal.Decimal, found bool, err error)
	SaveBalance(balance decimal.Decimal) error

	LoadStats() (stats domain.LedgerStats, found bool, err error)
	SaveStats(stats domain.LedgerStats) error
}
