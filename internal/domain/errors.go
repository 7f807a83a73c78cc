package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrDuplicateRequest       = errors.New("duplicate request")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNotOwner               = errors.New("transaction not owned by user")
	ErrNotPending             = errors.New("transaction no longer pending confirmation")
	ErrAmountOutOfRange       = errors.New("amount out of range")
	ErrRateLimited            = errors.New("rate limited")
	ErrGatewayRejected        = errors.New("gateway rejected request")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
)

// InvalidTransitionError reports the exact illegal edge for logs; it matches
// ErrInvalidStateTransition under errors.Is.
type InvalidTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidStateTransition }

type AmountOutOfRangeError struct {
	Amount decimal.Decimal
	Min    decimal.Decimal
	Max    decimal.Decimal
}

func (e *AmountOutOfRangeError) Error() string {
	return fmt.Sprintf("amount %s outside allowed range [%s, %s]", e.Amount, e.Min, e.Max)
}

func (e *AmountOutOfRangeError) Unwrap() error { return ErrAmountOutOfRange }

// RateLimitedError carries the caller-facing wait before the next attempt.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// GatewayRejectionError is a business rejection from the payment gateway,
// distinct from transport-level unavailability.
type GatewayRejectionError struct {
	Code        string
	Description string
}

func (e *GatewayRejectionError) Error() string {
	return fmt.Sprintf("gateway rejected request: code=%s desc=%s", e.Code, e.Description)
}

func (e *GatewayRejectionError) Unwrap() error { return ErrGatewayRejected }
