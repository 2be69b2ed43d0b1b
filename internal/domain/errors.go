package domain

import "errors"

var (
	// ErrRecordNotFound is returned when no audit record matches a lookup.
	ErrRecordNotFound = errors.New("wager record not found")

	// ErrRecordFinalized is returned when an update targets a terminal record.
	ErrRecordFinalized = errors.New("wager record already finalized")

	// ErrUnknownOutcome is returned when the ledger receives an outcome it cannot map.
	ErrUnknownOutcome = errors.New("unknown settlement outcome")
)
