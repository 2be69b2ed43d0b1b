package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alejandrodnm/wagerbot/internal/adapters/storage"
	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceFiles_MissingFiles(t *testing.T) {
	dir := t.TempDir()
	s := storage.NewBalanceFiles(filepath.Join(dir, "balance.txt"), filepath.Join(dir, "stats.txt"))

	_, found, err := s.LoadBalance()
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = s.LoadStats()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBalanceFiles_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	balancePath := filepath.Join(dir, "balance.txt")
	s := storage.NewBalanceFiles(balancePath, filepath.Join(dir, "stats.txt"))

	require.NoError(t, s.SaveBalance(decimal.RequireFromString("1015.5")))
	bal, found, err := s.LoadBalance()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "1015.50", bal.StringFixed(2))

	raw, err := os.ReadFile(balancePath)
	require.NoError(t, err)
	assert.Equal(t, "1015.50\n", string(raw))

	want := domain.LedgerStats{
		StartingBalance: decimal.RequireFromString("1000"),
		TotalWins:       3,
		TotalLosses:     2,
		TotalTimeouts:   1,
		TotalProfit:     decimal.RequireFromString("45.50"),
		TotalLoss:       decimal.RequireFromString("30"),
	}
	require.NoError(t, s.SaveStats(want))

	got, found, err := s.LoadStats()
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, want.StartingBalance.Equal(got.StartingBalance))
	assert.Equal(t, 3, got.TotalWins)
	assert.Equal(t, 2, got.TotalLosses)
	assert.Equal(t, 1, got.TotalTimeouts)
	assert.True(t, want.TotalProfit.Equal(got.TotalProfit))
	assert.True(t, want.TotalLoss.Equal(got.TotalLoss))
}

func TestBalanceFiles_CorruptBalance(t *testing.T) {
	dir := t.TempDir()
	balancePath := filepath.Join(dir, "balance.txt")
	require.NoError(t, os.WriteFile(balancePath, []byte("twelve euros\n"), 0o644))

	s := storage.NewBalanceFiles(balancePath, filepath.Join(dir, "stats.txt"))
	_, found, err := s.LoadBalance()
	assert.True(t, found)
	assert.Error(t, err)
}

func TestBalanceFiles_StatsIgnoresUnknownKeysAndComments(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "stats.txt")
	content := "# escrito a mano\nTotalWins=4\nSomethingElse=xyz\n\nTotalLoss=12.25\n"
	require.NoError(t, os.WriteFile(statsPath, []byte(content), 0o644))

	s := storage.NewBalanceFiles(filepath.Join(dir, "balance.txt"), statsPath)
	st, found, err := s.LoadStats()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, st.TotalWins)
	assert.Equal(t, "12.25", st.TotalLoss.StringFixed(2))
	assert.True(t, st.StartingBalance.IsZero())
}

func TestBalanceFiles_StatsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	statsPath := filepath.Join(dir, "stats.txt")
	require.NoError(t, os.WriteFile(statsPath, []byte("TotalWins=many\n"), 0o644))

	s := storage.NewBalanceFiles(filepath.Join(dir, "balance.txt"), statsPath)
	_, _, err := s.LoadStats()
	assert.Error(t, err)
}
