package domain

import "github.com/shopspring/decimal"

// PlaceRequest is sent to the placement provider for one attempt.
type PlaceRequest struct {
	EventID        string
	Side           Side
	Price          decimal.Decimal
	Stake          decimal.Decimal
	Currency       string
	IdempotencyRef string
}

// NewPlaceRequest builds the request for the intent's current stake and price.
func NewPlaceRequest(in WagerIntent) PlaceRequest {
	return PlaceRequest{
		EventID:        in.EventID,
		Side:           in.Side,
		Price:          in.Odds,
		Stake:          in.Stake,
		Currency:       in.Currency,
		IdempotencyRef: in.IdempotencyRef,
	}
}

// PlaceResult is the provider verdict for one placement attempt.
type PlaceResult struct {
	RemoteRef string
	Status    StatusCode
	Message   string // free text returned next to the code, if any
}

// StatusReport is the provider answer to a status query. Code is the explicit
// status field when the provider has one; Text is whatever free text came with it.
type StatusReport struct {
	Code string
	Text string
}
