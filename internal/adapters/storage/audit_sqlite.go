package storage

// audit_sqlite.go: audit log de apuestas en SQLite.
//
// Misma semántica que AuditFile, con una fila por local ref:
//   - UNIQUE(idempotency_ref) para refs no vacíos: un reintento nunca crea un
//     segundo registro. Sin ref se reutiliza el registro PENDING más reciente
//     del evento.
//   - Los registros en estado terminal no se vuelven a escribir.
//   - Cada read-modify-write va en su propia transacción y además bajo mu,
//     porque SQLite es single-writer.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS wager_records (
    local_ref       TEXT PRIMARY KEY,
    remote_ref      TEXT NOT NULL DEFAULT '',
    idempotency_ref TEXT NOT NULL,
    event_id        TEXT NOT NULL,
    side            TEXT NOT NULL,
    odds            TEXT NOT NULL,
    stake           TEXT NOT NULL,
    currency        TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    detail          TEXT NOT NULL DEFAULT '',
    created_at      TEXT NOT NULL,   -- RFC3339Nano UTC
    completed_at    TEXT             -- RFC3339Nano UTC, NULL mientras no sea terminal
);

CREATE UNIQUE INDEX IF NOT EXISTS wager_records_idem    ON wager_records(idempotency_ref) WHERE idempotency_ref <> '';
CREATE INDEX        IF NOT EXISTS wager_records_event   ON wager_records(event_id, created_at DESC);
CREATE INDEX        IF NOT EXISTS wager_records_status  ON wager_records(status);
`

const recordColumns = `local_ref, remote_ref, idempotency_ref, event_id, side, odds, stake,
	currency, status, detail, created_at, completed_at`

// AuditSQLite implementa ports.AuditLog usando SQLite (pure Go, sin CGo).
type AuditSQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenAuditSQLite abre (o crea) la base de datos en dsn y aplica el schema.
func OpenAuditSQLite(dsn string) (*AuditSQLite, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("storage.OpenAuditSQLite: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.OpenAuditSQLite: open %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.OpenAuditSQLite: apply schema: %w", err)
	}
	return &AuditSQLite{db: db, now: time.Now}, nil
}

// Ping comprueba que la base de datos responde (healthz).
func (s *AuditSQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close cierra la conexión a la base de datos.
func (s *AuditSQLite) Close() error {
	return s.db.Close()
}

// RecordPending inserta el registro PENDING o refresca el existente.
func (s *AuditSQLite) RecordPending(ctx context.Context, in domain.WagerIntent) (domain.WagerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordPending: begin tx: %w", err)
	}
	defer tx.Rollback()

	var row *sql.Row
	if in.IdempotencyRef != "" {
		row = tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM wager_records WHERE idempotency_ref = ?`, in.IdempotencyRef)
	} else {
		row = tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM wager_records
			 WHERE event_id = ? AND idempotency_ref = '' AND status = 'PENDING'
			 ORDER BY created_at DESC LIMIT 1`, in.EventID)
	}

	rec, err := scanRecord(row)
	switch {
	case err == nil:
		if rec.Status.Terminal() || rec.Status.Placed() {
			return rec, nil
		}
		rec.Status = domain.RecordPending
		rec.Stake = in.Stake
		rec.Odds = in.Odds
		if _, err := tx.ExecContext(ctx,
			`UPDATE wager_records SET status = ?, stake = ?, odds = ? WHERE local_ref = ?`,
			string(rec.Status), rec.Stake.String(), rec.Odds.String(), rec.LocalRef,
		); err != nil {
			return rec, fmt.Errorf("storage.RecordPending: refresh %s: %w", rec.LocalRef, err)
		}

	case errors.Is(err, sql.ErrNoRows):
		rec = domain.WagerRecord{
			LocalRef:       uuid.NewString(),
			IdempotencyRef: in.IdempotencyRef,
			EventID:        in.EventID,
			Side:           in.Side,
			Odds:           in.Odds,
			Stake:          in.Stake,
			Currency:       in.Currency,
			Status:         domain.RecordPending,
			CreatedAt:      s.now().UTC(),
		}
		if err := insertRecord(ctx, tx, rec); err != nil {
			return rec, fmt.Errorf("storage.RecordPending: insert: %w", err)
		}

	default:
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordPending: lookup: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("storage.RecordPending: commit: %w", err)
	}
	return rec, nil
}

// RecordResponse aplica upd sobre el registro existente.
func (s *AuditSQLite) RecordResponse(ctx context.Context, upd domain.RecordUpdate) (domain.WagerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordResponse: begin tx: %w", err)
	}
	defer tx.Rollback()

	var row *sql.Row
	if upd.IdempotencyRef != "" {
		row = tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM wager_records WHERE idempotency_ref = ?`, upd.IdempotencyRef)
	} else {
		row = tx.QueryRowContext(ctx,
			`SELECT `+recordColumns+` FROM wager_records WHERE event_id = ?
			 ORDER BY created_at DESC LIMIT 1`, upd.EventID)
	}

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordResponse %s/%s: %w",
			upd.IdempotencyRef, upd.EventID, domain.ErrRecordNotFound)
	}
	if err != nil {
		return domain.WagerRecord{}, fmt.Errorf("storage.RecordResponse: lookup: %w", err)
	}
	if rec.Status.Terminal() {
		return rec, fmt.Errorf("storage.RecordResponse %s: %w", rec.LocalRef, domain.ErrRecordFinalized)
	}

	upd.Apply(&rec, s.now())
	if _, err := tx.ExecContext(ctx, `
		UPDATE wager_records
		SET remote_ref = ?, stake = ?, status = ?, detail = ?, completed_at = ?
		WHERE local_ref = ?`,
		rec.RemoteRef, rec.Stake.String(), string(rec.Status), rec.Detail,
		nullTime(rec.CompletedAt), rec.LocalRef,
	); err != nil {
		return rec, fmt.Errorf("storage.RecordResponse: update %s: %w", rec.LocalRef, err)
	}
	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("storage.RecordResponse: commit: %w", err)
	}
	return rec, nil
}

// Lookup busca por idempotency ref.
func (s *AuditSQLite) Lookup(ctx context.Context, ref string) (domain.WagerRecord, bool, error) {
	if ref == "" {
		return domain.WagerRecord{}, false, nil
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM wager_records WHERE idempotency_ref = ?`, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WagerRecord{}, false, nil
	}
	if err != nil {
		return domain.WagerRecord{}, false, fmt.Errorf("storage.Lookup: %w", err)
	}
	return rec, true, nil
}

// Unsettled devuelve los registros colocados que aún esperan liquidación.
func (s *AuditSQLite) Unsettled(ctx context.Context) ([]domain.WagerRecord, error) {
	return s.query(ctx, `WHERE status IN ('ACCEPTED','PENDING_ACCEPTANCE') ORDER BY created_at ASC`)
}

// All devuelve todos los registros, los más recientes primero.
func (s *AuditSQLite) All(ctx context.Context) ([]domain.WagerRecord, error) {
	return s.query(ctx, `ORDER BY created_at DESC`)
}

func (s *AuditSQLite) query(ctx context.Context, where string, args ...any) ([]domain.WagerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM wager_records `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.AuditSQLite: query: %w", err)
	}
	defer rows.Close()

	var out []domain.WagerRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.AuditSQLite: scan row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- helpers internos ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc rowScanner) (domain.WagerRecord, error) {
	var (
		r                         domain.WagerRecord
		side, status, odds, stake string
		created                   string
		completed                 sql.NullString
	)
	if err := sc.Scan(&r.LocalRef, &r.RemoteRef, &r.IdempotencyRef, &r.EventID, &side,
		&odds, &stake, &r.Currency, &status, &r.Detail, &created, &completed); err != nil {
		return r, err
	}

	r.Side = domain.Side(side)
	r.Status = domain.RecordStatus(status)

	var err error
	if r.Odds, err = decimal.NewFromString(odds); err != nil {
		return r, fmt.Errorf("odds %q: %w", odds, err)
	}
	if r.Stake, err = decimal.NewFromString(stake); err != nil {
		return r, fmt.Errorf("stake %q: %w", stake, err)
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return r, fmt.Errorf("created_at %q: %w", created, err)
	}
	if completed.Valid && completed.String != "" {
		t, err := time.Parse(time.RFC3339Nano, completed.String)
		if err != nil {
			return r, fmt.Errorf("completed_at %q: %w", completed.String, err)
		}
		r.CompletedAt = &t
	}
	return r, nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, r domain.WagerRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO wager_records (`+recordColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.LocalRef, r.RemoteRef, r.IdempotencyRef, r.EventID, string(r.Side),
		r.Odds.String(), r.Stake.String(), r.Currency, string(r.Status), r.Detail,
		r.CreatedAt.UTC().Format(time.RFC3339Nano), nullTime(r.CompletedAt),
	)
	return err
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
