package storage

// balance_file.go: persistencia del ledger en dos ficheros de texto.
//
//   balance: un único decimal ("1234.56\n")
//   stats:   líneas key=value (StartingBalance, TotalWins, TotalLosses,
//            TotalTimeouts, TotalProfit, TotalLoss)
//
// Ambos se escriben con write-temp + rename para que un crash a mitad de
// escritura nunca deje un fichero truncado.

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	keyStartingBalance = "StartingBalance"
	keyTotalWins       = "TotalWins"
	keyTotalLosses     = "TotalLosses"
	keyTotalTimeouts   = "TotalTimeouts"
	keyTotalProfit     = "TotalProfit"
	keyTotalLoss       = "TotalLoss"
)

// BalanceFiles implementa ports.BalanceStore sobre dos ficheros planos.
type BalanceFiles struct {
	balancePath string
	statsPath   string
}

// NewBalanceFiles crea el store; los ficheros se crean en la primera escritura.
func NewBalanceFiles(balancePath, statsPath string) *BalanceFiles {
	return &BalanceFiles{balancePath: balancePath, statsPath: statsPath}
}

// LoadBalance lee el balance persistido.
func (b *BalanceFiles) LoadBalance() (decimal.Decimal, bool, error) {
	data, err := os.ReadFile(b.balancePath)
	if errors.Is(err, fs.ErrNotExist) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("storage.LoadBalance: read %q: %w", b.balancePath, err)
	}

	v, err := decimal.NewFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return decimal.Zero, true, fmt.Errorf("storage.LoadBalance: parse %q: %w", b.balancePath, err)
	}
	return v, true, nil
}

// SaveBalance sobreescribe el fichero de balance.
func (b *BalanceFiles) SaveBalance(balance decimal.Decimal) error {
	if err := writeFileAtomic(b.balancePath, []byte(balance.StringFixed(2)+"\n")); err != nil {
		return fmt.Errorf("storage.SaveBalance: %w", err)
	}
	return nil
}

// LoadStats lee las estadísticas key=value. Claves desconocidas se ignoran y
// las ausentes quedan a cero.
func (b *BalanceFiles) LoadStats() (domain.LedgerStats, bool, error) {
	var st domain.LedgerStats

	data, err := os.ReadFile(b.statsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return st, false, nil
	}
	if err != nil {
		return st, false, fmt.Errorf("storage.LoadStats: read %q: %w", b.statsPath, err)
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		key, val, ok := strings.Cut(raw, "=")
		if !ok {
			return st, true, fmt.Errorf("storage.LoadStats: line %d: missing '='", line)
		}
		if err := setStat(&st, strings.TrimSpace(key), strings.TrimSpace(val)); err != nil {
			return st, true, fmt.Errorf("storage.LoadStats: line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return st, true, fmt.Errorf("storage.LoadStats: scan: %w", err)
	}
	return st, true, nil
}

// SaveStats sobreescribe el fichero de estadísticas.
func (b *BalanceFiles) SaveStats(st domain.LedgerStats) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s=%s\n", keyStartingBalance, st.StartingBalance.StringFixed(2))
	fmt.Fprintf(&buf, "%s=%d\n", keyTotalWins, st.TotalWins)
	fmt.Fprintf(&buf, "%s=%d\n", keyTotalLosses, st.TotalLosses)
	fmt.Fprintf(&buf, "%s=%d\n", keyTotalTimeouts, st.TotalTimeouts)
	fmt.Fprintf(&buf, "%s=%s\n", keyTotalProfit, st.TotalProfit.StringFixed(2))
	fmt.Fprintf(&buf, "%s=%s\n", keyTotalLoss, st.TotalLoss.StringFixed(2))

	if err := writeFileAtomic(b.statsPath, buf.Bytes()); err != nil {
		return fmt.Errorf("storage.SaveStats: %w", err)
	}
	return nil
}

func setStat(st *domain.LedgerStats, key, val string) error {
	var err error
	switch key {
	case keyStartingBalance:
		st.StartingBalance, err = decimal.NewFromString(val)
	case keyTotalProfit:
		st.TotalProfit, err = decimal.NewFromString(val)
	case keyTotalLoss:
		st.TotalLoss, err = decimal.NewFromString(val)
	case keyTotalWins:
		st.TotalWins, err = strconv.Atoi(val)
	case keyTotalLosses:
		st.TotalLosses, err = strconv.Atoi(val)
	case keyTotalTimeouts:
		st.TotalTimeouts, err = strconv.Atoi(val)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
