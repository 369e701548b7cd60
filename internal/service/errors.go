// Package service implements the voting core: online casting, offline
// reconciliation, OTP issuance and verification.  Business rule violations
// come back as the typed errors below; anything else is infrastructure.
package service

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyVoted     = errors.New("already voted")
	ErrInvalidOrExpired = errors.New("invalid or expired code")
	ErrForbidden        = errors.New("forbidden")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflict")
	ErrTransientInfra   = errors.New("service temporarily unavailable")
)

// RateLimitError is returned when an OTP quota or cooldown window is full.
type RateLimitError struct {
	Scope            string // "quota" or "cooldown"
	RemainingSeconds int
}

func (e *RateLimitError) Error() string {
	if e.Scope == "cooldown" {
		return fmt.Sprintf("please wait %d seconds before requesting another code", e.RemainingSeconds)
	}
	return fmt.Sprintf("too many code requests, try again in %d seconds", e.RemainingSeconds)
}

// InflationGuardError rejects a tally entry that would record more offline
// votes than there are checked-in voters.
type InflationGuardError struct {
	Present   int64 `json:"present"`
	Tallied   int64 `json:"tallied"`
	Attempted int64 `json:"attempted"`
	Excess    int64 `json:"excess"`
	Remaining int64 `json:"remaining"`
}

func (e *InflationGuardError) Error() string {
	return fmt.Sprintf("tally exceeds checked-in voters by %d (present %d, tallied %d, remaining %d)",
		e.Excess, e.Present, e.Tallied, e.Remaining)
}

// infra tags err as an infrastructure failure while keeping it inspectable.
func infra(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientInfra, err)
}

// rejected builds a business error carrying a user-facing message.
func rejected(kind error, format string, args ...any) error {
	return &ruleError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type ruleError struct {
	kind error
	msg  string
}

func (e *ruleError) Error() string { return e.msg }
func (e *ruleError) Unwrap() error { return e.kind }
