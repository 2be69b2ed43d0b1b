package ports

import (
	"context"

	"github.com/alejandrodnm/wagerbot/internal/domain"
)

// IntentSource devuelve el siguiente lote de wager intents producido por el
// proceso de predicción externo. Un lote vacío significa que no hay picks nuevos.
type IntentSource interface {
	Next(ctx context.Context) ([]domain.WagerIntent, error)
}
