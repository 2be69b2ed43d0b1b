package notify

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/wagerbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// ReportInput agrupa los datos necesarios para imprimir el reporte -report.
type ReportInput struct {
	Snapshot domain.LedgerSnapshot
	Records  []domain.WagerRecord // más recientes primero
	Limit    int                  // filas máximas de la tabla de apuestas, 0 = todas
}

// PrintReport imprime el informe completo: estadísticas del ledger, estados
// del audit log y la tabla de apuestas.
func (c *Console) PrintReport(in ReportInput) {
	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║                       WAGER REPORT                           ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════╝\n\n")

	s := in.Snapshot
	fmt.Fprintf(c.out, "  Balance:      %s (starting %s)\n", s.Current.StringFixed(2), s.StartingBalance.StringFixed(2))
	fmt.Fprintf(c.out, "  Profit:       %s\n", s.TotalProfit.StringFixed(2))
	fmt.Fprintf(c.out, "  Loss:         %s\n", s.TotalLoss.StringFixed(2))
	fmt.Fprintf(c.out, "  Net P&L:      %s\n", signed(s.NetPnL().StringFixed(2)))
	fmt.Fprintf(c.out, "  Settled:      %d (W:%d L:%d T:%d, win rate %.1f%%)\n",
		s.Settled(), s.TotalWins, s.TotalLosses, s.TotalTimeouts, s.WinRate()*100)

	counts := make(map[domain.RecordStatus]int)
	for _, r := range in.Records {
		counts[r.Status]++
	}

	fmt.Fprintf(c.out, "\n── AUDIT LOG (%d records) ──\n", len(in.Records))
	if len(in.Records) == 0 {
		fmt.Fprintln(c.out, "  (none)")
		fmt.Fprintln(c.out)
		return
	}
	for _, st := range reportOrder {
		if n := counts[st]; n > 0 {
			fmt.Fprintf(c.out, "  %-20s %d\n", st, n)
		}
	}

	open := 0
	for _, r := range in.Records {
		if r.Status.Placed() {
			open++
		}
	}
	if open > 0 {
		fmt.Fprintf(c.out, "  >> %d wagers still awaiting settlement\n", open)
	}

	rows := in.Records
	if in.Limit > 0 && len(rows) > in.Limit {
		rows = rows[:in.Limit]
	}

	fmt.Fprintf(c.out, "\n── WAGERS (latest %d) ──\n", len(rows))
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Created", "Event", "Side", "Odds", "Stake", "Status", "Remote", "Age")
	for _, r := range rows {
		tbl.Append(
			r.CreatedAt.Local().Format("01-02 15:04"),
			truncate(r.EventID, 28),
			sideLabel(r.Side),
			r.Odds.StringFixed(2),
			r.Stake.StringFixed(2),
			string(r.Status),
			orDash(domain.TruncateRef(r.RemoteRef, 12)),
			age(r, c.now()),
		)
	}
	tbl.Render()
	fmt.Fprintln(c.out)
}

var reportOrder = []domain.RecordStatus{
	domain.RecordPending,
	domain.RecordAccepted,
	domain.RecordPendingAcceptance,
	domain.RecordWon,
	domain.RecordHalfWon,
	domain.RecordLost,
	domain.RecordHalfLost,
	domain.RecordVoid,
	domain.RecordRejected,
	domain.RecordExpired,
}

// age es la vida de la apuesta hasta que se cerró (o hasta ahora si sigue abierta).
func age(r domain.WagerRecord, now time.Time) string {
	end := now
	if r.CompletedAt != nil {
		end = *r.CompletedAt
	}
	d := end.Sub(r.CreatedAt)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Minute).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
