package ports

import (
	"context"

	"github.com/alejandrodnm/wagerbot/internal/domain"
)

// Notifier presenta el resultado de cada ciclo al usuario.
type Notifier interface {
	// NotifyCycle recibe el informe del ciclo terminado y el estado del ledger
	// justo después. En la implementación de consola, imprime una tabla.
	NotifyCycle(ctx context.Context, report domain.CycleReport, snap domain.LedgerSnapshot) error
}
