package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alejandrodnm/wagerbot/internal/adapters/storage"
	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeIntent(eventID, ref string) domain.WagerIntent {
	return domain.WagerIntent{
		EventID:        eventID,
		Side:           domain.SideA,
		Odds:           decimal.RequireFromString("2.10"),
		Stake:          decimal.RequireFromString("25.00"),
		Currency:       "EUR",
		IdempotencyRef: ref,
	}
}

// backends devuelve ambas implementaciones para correr el mismo contrato.
func backends(t *testing.T) map[string]ports.AuditLog {
	t.Helper()

	file, err := storage.OpenAuditFile(filepath.Join(t.TempDir(), "audit.json"), 5)
	require.NoError(t, err)

	db, err := storage.OpenAuditSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]ports.AuditLog{"file": file, "sqlite": db}
}

func TestAuditLog_RecordPending_Idempotent(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			in := makeIntent("ev-1", "ref-1")

			first, err := log.RecordPending(ctx, in)
			require.NoError(t, err)
			assert.NotEmpty(t, first.LocalRef)
			assert.Equal(t, domain.RecordPending, first.Status)

			in.Stake = decimal.RequireFromString("22.50")
			second, err := log.RecordPending(ctx, in)
			require.NoError(t, err)
			assert.Equal(t, first.LocalRef, second.LocalRef)
			assert.True(t, second.Stake.Equal(in.Stake))

			all, err := log.All(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestAuditLog_TerminalRecordNeverOverwritten(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := log.RecordPending(ctx, makeIntent("ev-1", "ref-1"))
			require.NoError(t, err)

			rec, err := log.RecordResponse(ctx, domain.RecordUpdate{
				IdempotencyRef: "ref-1",
				Status:         domain.RecordWon,
				RemoteRef:      "R-9",
			})
			require.NoError(t, err)
			require.NotNil(t, rec.CompletedAt)

			_, err = log.RecordResponse(ctx, domain.RecordUpdate{
				IdempotencyRef: "ref-1",
				Status:         domain.RecordLost,
			})
			assert.ErrorIs(t, err, domain.ErrRecordFinalized)

			// RecordPending sobre un terminal lo devuelve intacto
			again, err := log.RecordPending(ctx, makeIntent("ev-1", "ref-1"))
			require.NoError(t, err)
			assert.Equal(t, domain.RecordWon, again.Status)

			got, ok, err := log.Lookup(ctx, "ref-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, domain.RecordWon, got.Status)
			assert.Equal(t, "R-9", got.RemoteRef)
		})
	}
}

func TestAuditLog_RecordResponse_ResolvesByEventID(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := log.RecordPending(ctx, makeIntent("ev-7", "ref-7"))
			require.NoError(t, err)

			rec, err := log.RecordResponse(ctx, domain.RecordUpdate{
				EventID:   "ev-7",
				Status:    domain.RecordAccepted,
				RemoteRef: "R-7",
			})
			require.NoError(t, err)
			assert.Equal(t, "ref-7", rec.IdempotencyRef)
			assert.Equal(t, domain.RecordAccepted, rec.Status)
		})
	}
}

func TestAuditLog_RecordPending_WithoutRefReusesEventRecord(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := log.RecordPending(ctx, makeIntent("ev-A", ""))
			require.NoError(t, err)
			retry, err := log.RecordPending(ctx, makeIntent("ev-A", ""))
			require.NoError(t, err)
			assert.Equal(t, first.LocalRef, retry.LocalRef)

			other, err := log.RecordPending(ctx, makeIntent("ev-B", ""))
			require.NoError(t, err)
			assert.Equal(t, "ev-B", other.EventID)
			assert.NotEqual(t, first.LocalRef, other.LocalRef)

			all, err := log.All(ctx)
			require.NoError(t, err)
			events := make([]string, 0, len(all))
			for _, r := range all {
				events = append(events, r.EventID)
			}
			assert.ElementsMatch(t, []string{"ev-A", "ev-B"}, events)

			rec, err := log.RecordResponse(ctx, domain.RecordUpdate{EventID: "ev-A", Status: domain.RecordAccepted, RemoteRef: "R-A"})
			require.NoError(t, err)
			assert.Equal(t, first.LocalRef, rec.LocalRef)
		})
	}
}

func TestAuditLog_RecordResponse_NotFound(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := log.RecordResponse(context.Background(), domain.RecordUpdate{
				IdempotencyRef: "missing",
				Status:         domain.RecordAccepted,
			})
			assert.ErrorIs(t, err, domain.ErrRecordNotFound)
		})
	}
}

func TestAuditLog_Unsettled(t *testing.T) {
	for name, log := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, ref := range []string{"a", "b", "c"} {
				_, err := log.RecordPending(ctx, makeIntent("ev-"+ref, ref))
				require.NoError(t, err)
			}
			_, err := log.RecordResponse(ctx, domain.RecordUpdate{IdempotencyRef: "a", Status: domain.RecordAccepted, RemoteRef: "RA"})
			require.NoError(t, err)
			_, err = log.RecordResponse(ctx, domain.RecordUpdate{IdempotencyRef: "b", Status: domain.RecordPendingAcceptance})
			require.NoError(t, err)
			_, err = log.RecordResponse(ctx, domain.RecordUpdate{IdempotencyRef: "c", Status: domain.RecordRejected})
			require.NoError(t, err)

			open, err := log.Unsettled(ctx)
			require.NoError(t, err)
			refs := make([]string, 0, len(open))
			for _, r := range open {
				refs = append(refs, r.IdempotencyRef)
			}
			assert.ElementsMatch(t, []string{"a", "b"}, refs)
		})
	}
}

func TestAuditFile_ReloadKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.json")

	log, err := storage.OpenAuditFile(path, 0)
	require.NoError(t, err)
	_, err = log.RecordPending(ctx, makeIntent("ev-1", "ref-1"))
	require.NoError(t, err)
	_, err = log.RecordResponse(ctx, domain.RecordUpdate{IdempotencyRef: "ref-1", Status: domain.RecordAccepted, RemoteRef: "R-1"})
	require.NoError(t, err)

	reopened, err := storage.OpenAuditFile(path, 0)
	require.NoError(t, err)
	rec, ok, err := reopened.Lookup(ctx, "ref-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RecordAccepted, rec.Status)
	assert.Equal(t, "R-1", rec.RemoteRef)
	assert.True(t, rec.Stake.Equal(decimal.RequireFromString("25")))
}

func TestAuditFile_CorruptFileBackedUpAndReset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.json")
	garbage := []byte("[{not json")
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	log, err := storage.OpenAuditFile(path, 0)
	require.NoError(t, err)

	all, err := log.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)

	baks, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	require.Len(t, baks, 1)
	data, err := os.ReadFile(baks[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, data)
}

func TestAuditFile_CorruptBackupSurvivesRotation(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.json")
	garbage := []byte("{truncated")
	require.NoError(t, os.WriteFile(path, garbage, 0o644))

	log, err := storage.OpenAuditFile(path, 2)
	require.NoError(t, err)
	corrupt, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	require.Len(t, corrupt, 1)

	for _, ref := range []string{"r1", "r2", "r3", "r4"} {
		_, err := log.RecordPending(ctx, makeIntent("ev-"+ref, ref))
		require.NoError(t, err)
	}

	data, err := os.ReadFile(corrupt[0])
	require.NoError(t, err)
	assert.Equal(t, garbage, data)

	baks, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.Len(t, baks, 3, "dos de rotación más el del fichero corrupto")
}

func TestAuditFile_BackupBeforeOverwrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit.json")

	log, err := storage.OpenAuditFile(path, 2)
	require.NoError(t, err)

	// La primera escritura no tiene nada que respaldar.
	_, err = log.RecordPending(ctx, makeIntent("ev-1", "ref-1"))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = log.RecordResponse(ctx, domain.RecordUpdate{IdempotencyRef: "ref-1", Detail: "PENDING"})
		require.NoError(t, err)
	}

	baks, err := filepath.Glob(path + ".bak.*")
	require.NoError(t, err)
	assert.NotEmpty(t, baks)
	assert.LessOrEqual(t, len(baks), 2)
}
