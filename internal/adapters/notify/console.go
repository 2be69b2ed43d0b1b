package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/alejandrodnm/wagerbot/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out   io.Writer
	table bool
	now   func() time.Time
}

var _ ports.Notifier = (*Console)(nil)

// NewConsole crea un notificador que escribe a stdout. table=true imprime la
// tabla de liquidaciones de cada ciclo; false una sola línea.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table, now: time.Now}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table, now: time.Now}
}

// NotifyCycle imprime el resultado del ciclo en el modo configurado.
func (c *Console) NotifyCycle(_ context.Context, rep domain.CycleReport, snap domain.LedgerSnapshot) error {
	if c.table {
		c.printFull(rep, snap)
	} else {
		c.printCompact(rep, snap)
	}
	return nil
}

// printCompact imprime lo esencial en una línea (más el abort si lo hubo).
func (c *Console) printCompact(rep domain.CycleReport, snap domain.LedgerSnapshot) {
	won, lost, void, expired := countOutcomes(rep.Settled)

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s %s → %d/%d placed | W:%d L:%d V:%d exp:%d | bal %s (pnl %s)",
		c.now().Format("15:04:05"), cycleKind(rep), rep.CycleID,
		rep.Accepted, rep.Intents, won, lost, void, expired,
		snap.Current.StringFixed(2), signed(snap.NetPnL().StringFixed(2)))

	if rep.Aborted() {
		fmt.Fprintf(&sb, "\n  !! batch aborted at %s: %s", rep.AbortEvent, rep.AbortCode)
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime la cabecera del ciclo y la tabla de liquidaciones.
func (c *Console) printFull(rep domain.CycleReport, snap domain.LedgerSnapshot) {
	fmt.Fprintf(c.out, "\n[%s] %s %s: %d intents, %d placed, %d settled (%s)\n",
		c.now().Format("15:04:05"), cycleKind(rep), rep.CycleID,
		rep.Intents, rep.Accepted, len(rep.Settled), rep.Duration().Truncate(time.Second))

	if rep.Aborted() {
		fmt.Fprintf(c.out, "  !! BATCH ABORTED at event %s: %s (no settlement for this cycle)\n",
			rep.AbortEvent, rep.AbortCode)
	}

	if len(rep.Settled) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("#", "Event", "Side", "Odds", "Stake", "Outcome", "Ref")
		for i, s := range rep.Settled {
			outcome := string(s.Outcome)
			if s.Expired {
				outcome = "EXPIRED"
			}
			table.Append(
				fmt.Sprintf("%d", i+1),
				truncate(s.Wager.Intent.EventID, 30),
				sideLabel(s.Wager.Intent.Side),
				s.Wager.Intent.Odds.StringFixed(2),
				s.Wager.Intent.Stake.StringFixed(2),
				outcome,
				domain.TruncateRef(s.Wager.StatusRef(), 12),
			)
		}
		table.Render()
	}

	c.printBalanceLine(snap)
}

func (c *Console) printBalanceLine(snap domain.LedgerSnapshot) {
	fmt.Fprintf(c.out, "  Balance: %s | start %s | net %s | W:%d L:%d T:%d | win rate %.1f%%\n",
		snap.Current.StringFixed(2), snap.StartingBalance.StringFixed(2),
		signed(snap.NetPnL().StringFixed(2)),
		snap.TotalWins, snap.TotalLosses, snap.TotalTimeouts, snap.WinRate()*100)
}

// --- helpers ---

func countOutcomes(results []domain.SettlementResult) (won, lost, void, expired int) {
	for _, r := range results {
		if r.Expired {
			expired++
			continue
		}
		switch r.Outcome {
		case domain.OutcomeWon, domain.OutcomeHalfWon:
			won++
		case domain.OutcomeLost, domain.OutcomeHalfLost:
			lost++
		case domain.OutcomeVoid:
			void++
		}
	}
	return
}

func cycleKind(rep domain.CycleReport) string {
	if rep.Recovery {
		return "RECOVERY"
	}
	return "CYCLE"
}

func sideLabel(s domain.Side) string {
	switch s {
	case domain.SideA:
		return "A"
	case domain.SideB:
		return "B"
	}
	return string(s)
}

func signed(s string) string {
	if strings.HasPrefix(s, "-") {
		return s
	}
	return "+" + s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
