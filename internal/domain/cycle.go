package domain

import "time"

// SettlementResult is the final state of one polled wager.
type SettlementResult struct {
	Wager   AcceptedWager
	Outcome Outcome
	Expired bool // written off after the settlement max wait
}

// CycleReport summarises one admitted cycle from placement to settlement.
type CycleReport struct {
	CycleID    string
	Recovery   bool // resumed from unsettled audit records
	Intents    int
	Accepted   int
	Settled    []SettlementResult
	AbortEvent string     // set when a critical response aborted placement
	AbortCode  StatusCode // idem
	StartedAt  time.Time
	FinishedAt time.Time
}

// Aborted reports whether placement was stopped by a critical response.
func (r CycleReport) Aborted() bool {
	return r.AbortCode != ""
}

// Duration returns how long the cycle held its admission slot.
func (r CycleReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
