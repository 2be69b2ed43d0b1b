package picks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Pick es una entrada del fichero que escribe el proceso de predicción.
// YAML es superset de JSON, así que ambos formatos se leen igual.
type Pick struct {
	EventID        string `yaml:"event_id"`
	Side           string `yaml:"side"`
	Odds           string `yaml:"odds"`
	Stake          string `yaml:"stake"`
	Currency       string `yaml:"currency"`
	IdempotencyRef string `yaml:"idempotency_ref"`
}

type document struct {
	Picks []Pick `yaml:"picks"`
}

// File lee lotes de intents de un fichero de picks. Cada lectura consume el
// fichero: se renombra a <path>.done.<timestamp> para que el siguiente tick
// no lo vuelva a procesar.
type File struct {
	path            string
	defaultCurrency string
	keepRead        bool
	now             func() time.Time
}

var _ ports.IntentSource = (*File)(nil)

// NewFile crea la fuente. Si keepRead es true el fichero no se archiva (modo
// -once con un fichero de prueba).
func NewFile(path, defaultCurrency string, keepRead bool) *File {
	return &File{
		path:            path,
		defaultCurrency: defaultCurrency,
		keepRead:        keepRead,
		now:             time.Now,
	}
}

// Next devuelve los picks válidos del fichero. Un fichero inexistente es un
// lote vacío. Las entradas inválidas se descartan con un warning; el resto del
// lote sigue adelante.
func (f *File) Next(ctx context.Context) ([]domain.WagerIntent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("picks.Next: read %s: %w", f.path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("picks.Next: parse %s: %w", f.path, err)
	}

	intents := make([]domain.WagerIntent, 0, len(doc.Picks))
	seen := make(map[string]bool, len(doc.Picks))
	for i, p := range doc.Picks {
		in, err := f.toIntent(p)
		if err != nil {
			slog.Warn("picks: invalid entry skipped", "index", i, "event", p.EventID, "err", err)
			continue
		}
		if seen[in.IdempotencyRef] {
			slog.Warn("picks: duplicate entry skipped", "event", in.EventID, "side", in.Side)
			continue
		}
		seen[in.IdempotencyRef] = true
		intents = append(intents, in)
	}

	if !f.keepRead {
		archived := fmt.Sprintf("%s.done.%s", f.path, f.now().UTC().Format("20060102T150405"))
		if err := os.Rename(f.path, archived); err != nil {
			return nil, fmt.Errorf("picks.Next: archive %s: %w", f.path, err)
		}
		slog.Debug("picks: file archived", "path", archived)
	}

	return intents, nil
}

func (f *File) toIntent(p Pick) (domain.WagerIntent, error) {
	eventID := strings.TrimSpace(p.EventID)
	if eventID == "" {
		return domain.WagerIntent{}, errors.New("missing event_id")
	}

	side := ParseSide(p.Side)
	if !side.Valid() {
		return domain.WagerIntent{}, fmt.Errorf("invalid side %q", p.Side)
	}

	odds, err := decimal.NewFromString(strings.TrimSpace(p.Odds))
	if err != nil {
		return domain.WagerIntent{}, fmt.Errorf("invalid odds %q: %w", p.Odds, err)
	}
	if odds.LessThanOrEqual(decimal.NewFromInt(1)) {
		return domain.WagerIntent{}, fmt.Errorf("odds %s must be greater than 1", odds)
	}

	stake, err := decimal.NewFromString(strings.TrimSpace(p.Stake))
	if err != nil {
		return domain.WagerIntent{}, fmt.Errorf("invalid stake %q: %w", p.Stake, err)
	}
	stake = stake.Truncate(2)
	if !stake.IsPositive() {
		return domain.WagerIntent{}, fmt.Errorf("stake %s must be positive", p.Stake)
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = f.defaultCurrency
	}

	ref := strings.TrimSpace(p.IdempotencyRef)
	if ref == "" {
		ref = domain.DeriveIdempotencyRef(eventID, side)
	}

	return domain.WagerIntent{
		EventID:        eventID,
		Side:           side,
		Odds:           odds,
		Stake:          stake,
		Currency:       currency,
		IdempotencyRef: ref,
	}, nil
}

// ParseSide acepta "SIDE_A", "side-a", "a", "home" (A) y "away" (B).
func ParseSide(raw string) domain.Side {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "-", "_")
	switch s {
	case "SIDE_A", "A", "HOME", "1":
		return domain.SideA
	case "SIDE_B", "B", "AWAY", "2":
		return domain.SideB
	}
	return domain.Side(s)
}
