package main

import (
	"context"
	"fmt"

	"github.com/alejandrodnm/wagerbot/internal/adapters/notify"
	"github.com/alejandrodnm/wagerbot/internal/application/ledger"
	"github.com/alejandrodnm/wagerbot/internal/ports"
)

const reportRows = 50

func runReport(ctx context.Context, audit ports.AuditLog, led *ledger.Ledger, console *notify.Console) error {
	records, err := audit.All(ctx)
	if err != nil {
		return fmt.Errorf("report: load audit log: %w", err)
	}

	console.PrintReport(notify.ReportInput{
		Snapshot: led.Snapshot(),
		Records:  records,
		Limit:    reportRows,
	})
	return nil
}
