package storage

// audit_file.go: audit log de apuestas en un fichero JSON.
//
// El fichero es un array de WagerRecord que se reescribe entero en cada
// actualización. Antes de sobreescribirlo se deja una copia
// "<path>.bak.<timestamp>". Si al arrancar el fichero no parsea, se renombra
// a backup y se continúa con un log vacío: nunca se aborta por estado corrupto.
// Ese backup guarda los bytes originales y la rotación no lo borra.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/google/uuid"
)

// AuditFile implementa ports.AuditLog sobre un fichero JSON.
type AuditFile struct {
	path        string
	keepBackups int
	corruptBak  string // backup del fichero corrupto encontrado al abrir

	mu      sync.Mutex
	records []domain.WagerRecord // orden de creación
	byRef   map[string]int       // idempotency ref → índice en records
	now     func() time.Time
}

// OpenAuditFile carga el audit log desde path. keepBackups limita las copias
// .bak que se conservan (0 = todas).
func OpenAuditFile(path string, keepBackups int) (*AuditFile, error) {
	a := &AuditFile{
		path:        path,
		keepBackups: keepBackups,
		byRef:       make(map[string]int),
		now:         time.Now,
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *AuditFile) load() error {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage.OpenAuditFile: read %q: %w", a.path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var recs []domain.WagerRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		bak := backupName(a.path, a.now())
		if rerr := os.Rename(a.path, bak); rerr != nil {
			return fmt.Errorf("storage.OpenAuditFile: back up corrupt log: %w", rerr)
		}
		a.corruptBak = bak
		slog.Warn("audit: corrupt log moved aside, starting empty",
			"path", a.path, "backup", bak, "err", err)
		return nil
	}

	for _, r := range recs {
		a.insert(r)
	}
	slog.Info("audit: log loaded", "path", a.path, "records", len(a.records))
	return nil
}

// insert añade r y lo indexa. Caller holds a.mu (o está en load).
func (a *AuditFile) insert(r domain.WagerRecord) {
	if r.IdempotencyRef != "" {
		if idx, ok := a.byRef[r.IdempotencyRef]; ok {
			a.records[idx] = r
			return
		}
		a.byRef[r.IdempotencyRef] = len(a.records)
	}
	a.records = append(a.records, r)
}

// RecordPending escribe (o refresca) el registro PENDING de un intent.
func (a *AuditFile) RecordPending(_ context.Context, in domain.WagerIntent) (domain.WagerRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if idx, ok := a.pendingFor(in); ok {
		rec := &a.records[idx]
		if rec.Status.Terminal() || rec.Status.Placed() {
			return *rec, nil
		}
		rec.Status = domain.RecordPending
		rec.Stake = in.Stake
		rec.Odds = in.Odds
		return *rec, a.save()
	}

	rec := domain.WagerRecord{
		LocalRef:       uuid.NewString(),
		IdempotencyRef: in.IdempotencyRef,
		EventID:        in.EventID,
		Side:           in.Side,
		Odds:           in.Odds,
		Stake:          in.Stake,
		Currency:       in.Currency,
		Status:         domain.RecordPending,
		CreatedAt:      a.now().UTC(),
	}
	a.insert(rec)
	return rec, a.save()
}

// RecordResponse aplica upd sobre el registro existente.
func (a *AuditFile) RecordResponse(_ context.Context, upd domain.RecordUpdate) (domain.WagerRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.resolve(upd.IdempotencyRef, upd.EventID)
	if !ok {
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordResponse %s/%s: %w",
			upd.IdempotencyRef, upd.EventID, domain.ErrRecordNotFound)
	}

	rec := &a.records[idx]
	if rec.Status.Terminal() {
		return *rec, fmt.Errorf("storage.RecordResponse %s: %w", rec.LocalRef, domain.ErrRecordFinalized)
	}
	upd.Apply(rec, a.now())
	return *rec, a.save()
}

// Lookup busca por idempotency ref.
func (a *AuditFile) Lookup(_ context.Context, ref string) (domain.WagerRecord, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx, ok := a.byRef[ref]
	if !ok || ref == "" {
		return domain.WagerRecord{}, false, nil
	}
	return a.records[idx], true, nil
}

// Unsettled devuelve los registros colocados que aún esperan liquidación.
func (a *AuditFile) Unsettled(_ context.Context) ([]domain.WagerRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.WagerRecord
	for _, r := range a.records {
		if r.Status.Placed() {
			out = append(out, r)
		}
	}
	return out, nil
}

// All devuelve todos los registros, los más recientes primero.
func (a *AuditFile) All(_ context.Context) ([]domain.WagerRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]domain.WagerRecord, len(a.records))
	copy(out, a.records)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// pendingFor busca el registro que un reintento de in debe reutilizar: por
// idempotency ref o, sin ref, el más reciente del evento mientras siga
// PENDING. Caller holds a.mu.
func (a *AuditFile) pendingFor(in domain.WagerIntent) (int, bool) {
	if in.IdempotencyRef != "" {
		idx, ok := a.byRef[in.IdempotencyRef]
		return idx, ok
	}
	best := -1
	for i, r := range a.records {
		if r.EventID != in.EventID || r.IdempotencyRef != "" || r.Status != domain.RecordPending {
			continue
		}
		if best < 0 || !r.CreatedAt.Before(a.records[best].CreatedAt) {
			best = i
		}
	}
	return best, best >= 0
}

// resolve encuentra el registro por idempotency ref o, si no hay ref, el más
// reciente del evento. Caller holds a.mu.
func (a *AuditFile) resolve(ref, eventID string) (int, bool) {
	if ref != "" {
		idx, ok := a.byRef[ref]
		return idx, ok
	}
	if eventID == "" {
		return 0, false
	}
	best := -1
	for i, r := range a.records {
		if r.EventID != eventID {
			continue
		}
		if best < 0 || !r.CreatedAt.Before(a.records[best].CreatedAt) {
			best = i
		}
	}
	return best, best >= 0
}

// save reescribe el fichero completo, dejando antes una copia del anterior.
// Caller holds a.mu.
func (a *AuditFile) save() error {
	data, err := json.MarshalIndent(a.records, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.AuditFile: marshal: %w", err)
	}

	if err := copyFile(a.path, backupName(a.path, a.now())); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("audit: backup before overwrite failed", "path", a.path, "err", err)
	}
	if err := writeFileAtomic(a.path, data); err != nil {
		return fmt.Errorf("storage.AuditFile: write: %w", err)
	}
	pruneBackups(a.path, a.keepBackups, a.corruptBak)
	return nil
}
