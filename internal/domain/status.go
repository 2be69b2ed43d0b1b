package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// StatusCode is a provider response code after canonicalisation.
type StatusCode string

const (
	StatusAccepted             StatusCode = "ACCEPTED"
	StatusPendingAcceptance    StatusCode = "PENDING_ACCEPTANCE"
	StatusPriceAboveMarket     StatusCode = "PRICE_ABOVE_MARKET"
	StatusStakeAboveMax        StatusCode = "STAKE_ABOVE_MAX"
	StatusStakeBelowMin        StatusCode = "STAKE_BELOW_MIN"
	StatusPush                 StatusCode = "PUSH"
	StatusRejected             StatusCode = "REJECTED"
	StatusVerificationRequired StatusCode = "VERIFICATION_REQUIRED"
	StatusMarketSuspended      StatusCode = "MARKET_SUSPENDED"
	StatusRestricted           StatusCode = "RESTRICTED"
	StatusInsufficientFunds    StatusCode = "INSUFFICIENT_FUNDS"
	StatusInternalServerError  StatusCode = "INTERNAL_SERVER_ERROR"
	StatusWon                  StatusCode = "WON"
	StatusLost                 StatusCode = "LOST"
	StatusVoid                 StatusCode = "VOID"
	StatusHalfWon              StatusCode = "HALF_WON"
	StatusHalfLost             StatusCode = "HALF_LOST"
	StatusUnknown              StatusCode = "UNKNOWN"
)

var codeAliases = map[string]StatusCode{
	"PENDING":    StatusPendingAcceptance,
	"CANCELLED":  StatusVoid,
	"CANCELED":   StatusVoid,
	"REFUNDED":   StatusVoid,
	"WIN":        StatusWon,
	"LOSS":       StatusLost,
	"LOSE":       StatusLost,
	"HALF_WIN":   StatusHalfWon,
	"HALF_LOSS":  StatusHalfLost,
	"HALF_LOSE":  StatusHalfLost,
	"DECLINED":   StatusRejected,
	"SUSPENDED":  StatusMarketSuspended,
	"NO_FUNDS":   StatusInsufficientFunds,
	"SERVER_ERR": StatusInternalServerError,
}

// HTTPStatus builds the status code reported for a non-2xx HTTP response.
func HTTPStatus(code int) StatusCode {
	return StatusCode(fmt.Sprintf("HTTP_%d", code))
}

// ParseStatusCode canonicalises a raw provider code: upper case, spaces and
// hyphens folded to underscores, known aliases resolved. Unrecognised codes
// are returned canonicalised so they can still be logged verbatim.
func ParseStatusCode(raw string) StatusCode {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if s == "" {
		return StatusUnknown
	}
	if c, ok := codeAliases[s]; ok {
		return c
	}
	return StatusCode(s)
}

// IsHTTPError reports whether the code is an HTTP_4xx or HTTP_5xx response.
func (c StatusCode) IsHTTPError() bool {
	s := string(c)
	if !strings.HasPrefix(s, "HTTP_") || len(s) < 6 {
		return false
	}
	return s[5] == '4' || s[5] == '5'
}

// Disposition is what the placement state machine does with a response.
type Disposition int

const (
	DispositionUnknown     Disposition = iota // provisionally accepted
	DispositionAccepted                       // terminal for placement
	DispositionPending                        // provisionally accepted, awaiting confirmation
	DispositionAdjustPrice                    // retry, bounded by the adjust counter
	DispositionAdjustStake                    // shrink stake, retry, bounded by the adjust counter
	DispositionDrop                           // structurally unplaceable
	DispositionRejected                       // retry in the consolidated pass, bounded by the reject counter
	DispositionCritical                       // abort the whole batch
)

func (d Disposition) String() string {
	switch d {
	case DispositionAccepted:
		return "accepted"
	case DispositionPending:
		return "pending"
	case DispositionAdjustPrice:
		return "adjust_price"
	case DispositionAdjustStake:
		return "adjust_stake"
	case DispositionDrop:
		return "drop"
	case DispositionRejected:
		return "rejected"
	case DispositionCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Classify maps a placement response code to its disposition.
func (c StatusCode) Classify() Disposition {
	switch c {
	case StatusAccepted:
		return DispositionAccepted
	case StatusPendingAcceptance:
		return DispositionPending
	case StatusPriceAboveMarket:
		return DispositionAdjustPrice
	case StatusStakeAboveMax:
		return DispositionAdjustStake
	case StatusStakeBelowMin, StatusPush:
		return DispositionDrop
	case StatusRejected:
		return DispositionRejected
	case StatusInsufficientFunds, StatusMarketSuspended, StatusRestricted,
		StatusVerificationRequired, StatusInternalServerError:
		return DispositionCritical
	}
	if c.IsHTTPError() {
		return DispositionCritical
	}
	return DispositionUnknown
}

// Outcome is the canonical settlement vocabulary.
type Outcome string

const (
	OutcomeWon               Outcome = "WON"
	OutcomeLost              Outcome = "LOST"
	OutcomeVoid              Outcome = "VOID"
	OutcomeHalfWon           Outcome = "HALF_WON"
	OutcomeHalfLost          Outcome = "HALF_LOST"
	OutcomeAccepted          Outcome = "ACCEPTED"
	OutcomePendingAcceptance Outcome = "PENDING_ACCEPTANCE"
	OutcomeRejected          Outcome = "REJECTED"
	OutcomeUnknown           Outcome = "UNKNOWN"
)

// Settled reports whether the outcome is a final settlement with a ledger effect
// (VOID included, whose effect is none).
func (o Outcome) Settled() bool {
	switch o {
	case OutcomeWon, OutcomeLost, OutcomeVoid, OutcomeHalfWon, OutcomeHalfLost:
		return true
	}
	return false
}

// RecordStatus maps the outcome to the audit lifecycle status.
func (o Outcome) RecordStatus() RecordStatus {
	switch o {
	case OutcomeWon:
		return RecordWon
	case OutcomeLost:
		return RecordLost
	case OutcomeVoid:
		return RecordVoid
	case OutcomeHalfWon:
		return RecordHalfWon
	case OutcomeHalfLost:
		return RecordHalfLost
	case OutcomeRejected:
		return RecordRejected
	case OutcomePendingAcceptance:
		return RecordPendingAcceptance
	default:
		return RecordAccepted
	}
}

func outcomeForCode(c StatusCode) (Outcome, bool) {
	switch c {
	case StatusWon:
		return OutcomeWon, true
	case StatusLost:
		return OutcomeLost, true
	case StatusVoid, StatusPush:
		return OutcomeVoid, true
	case StatusHalfWon:
		return OutcomeHalfWon, true
	case StatusHalfLost:
		return OutcomeHalfLost, true
	case StatusAccepted:
		return OutcomeAccepted, true
	case StatusPendingAcceptance:
		return OutcomePendingAcceptance, true
	case StatusRejected:
		return OutcomeRejected, true
	}
	return OutcomeUnknown, false
}

type textRule struct {
	outcome Outcome
	word    *regexp.Regexp
	substr  []string
}

// Rules are checked in order; terminal outcomes come before live ones so that
// "accepted - won" settles.
var textRules = []textRule{
	{OutcomeHalfWon, regexp.MustCompile(`\bhalf[\s_-]?(won|win)\b`), []string{"halfwon", "half_won", "halfwin"}},
	{OutcomeHalfLost, regexp.MustCompile(`\bhalf[\s_-]?(lost|loss|lose)\b`), []string{"halflost", "half_lost", "halfloss"}},
	{OutcomeVoid, regexp.MustCompile(`\b(void|voided|cancell?ed|refunded|push)\b`), []string{"void", "cancel", "refund"}},
	{OutcomeWon, regexp.MustCompile(`\b(won|win)\b`), []string{"won", "win"}},
	{OutcomeLost, regexp.MustCompile(`\b(lost|loss|lose)\b`), []string{"lost", "loss", "lose"}},
	{OutcomeRejected, regexp.MustCompile(`\b(rejected|declined|refused)\b`), []string{"reject", "declin"}},
	{OutcomePendingAcceptance, regexp.MustCompile(`\b(pending|awaiting|unconfirmed)\b`), []string{"pending", "await"}},
	{OutcomeAccepted, regexp.MustCompile(`\b(accepted|open|placed|running|live)\b`), []string{"accept"}},
}

// labelWords are market labels that contain outcome substrings without
// carrying an outcome ("Match Winner", "Total Losses O/U"). They are removed
// before the substring pass.
var labelWords = regexp.MustCompile(`\b(winners?|winning|losses|loser)\b`)

// NormalizeStatus maps a provider status report onto the canonical outcome.
// Precedence: an explicit recognised status code; then whole-word matches in
// the free text; then substring matches in the text with market labels
// stripped. Anything else is OutcomeUnknown.
func NormalizeStatus(code, text string) Outcome {
	if strings.TrimSpace(code) != "" {
		if o, ok := outcomeForCode(ParseStatusCode(code)); ok {
			return o
		}
	}

	t := strings.ToLower(text)
	if strings.TrimSpace(t) == "" {
		return OutcomeUnknown
	}

	for _, r := range textRules {
		if r.word.MatchString(t) {
			return r.outcome
		}
	}

	stripped := labelWords.ReplaceAllString(t, " ")
	for _, r := range textRules {
		for _, s := range r.substr {
			if strings.Contains(stripped, s) {
				return r.outcome
			}
		}
	}
	return OutcomeUnknown
}
