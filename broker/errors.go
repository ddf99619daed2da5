package broker

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrUnsupportedSymbol  = errors.New("unsupported symbol")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrTradeClosed        = errors.New("trade is closed")

	ErrAccountDailyLocked  = errors.New("account is locked for the rest of the day after a daily drawdown breach")
	ErrAccountDisqualified = errors.New("account is disqualified after an overall drawdown breach")
	ErrAccountClosed       = errors.New("account is closed")
	ErrAccountPaused       = errors.New("account is paused")
)

// StatusError returns the rejection reason for a non-tradeable status, or nil
// for ACTIVE.
func StatusError(s Status) error {
	switch s {
	case StatusActive:
		return nil
	case StatusDailyLocked:
		return ErrAccountDailyLocked
	case StatusDisqualified:
		return ErrAccountDisqualified
	case StatusClosed:
		return ErrAccountClosed
	case StatusPaused:
		return ErrAccountPaused
	}
	return fmt.Errorf("account status %q is not tradeable", s)
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// RejectError is returned when a trade request is refused. Reason is meant
// for the end user.
type RejectError struct {
	Op        string
	AccountID string
	Reason    string
	Err       error
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%s rejected for account %s: %s", e.Op, e.AccountID, e.Reason)
}

func (e *RejectError) Unwrap() error { return e.Err }

func Reject(op, accountID string, err error) *RejectError {
	return &RejectError{Op: op, AccountID: accountID, Reason: err.Error(), Err: err}
}

// MarginError carries the figures behind an insufficient-margin rejection.
type MarginError struct {
	Required  float64
	Available float64
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("insufficient margin: required %.2f, available %.2f", e.Required, e.Available)
}

func (e *MarginError) Unwrap() error { return ErrInsufficientMargin }
