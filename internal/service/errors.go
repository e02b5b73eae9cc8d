// Package service provides the credit ledger, subscription reconciliation
// and billing session business logic.
package service

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	ErrInsufficientCredits  = errors.New("insufficient credits")
	ErrConflict             = errors.New("too many concurrent updates, try again")
	ErrWriteOutcomeUnknown  = errors.New("write outcome unknown, re-query balance")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidStatus        = errors.New("invalid subscription status")
	ErrInvalidAmount        = errors.New("invalid credit amount")
	ErrNoBillingCustomer    = errors.New("no billing customer found")
	ErrNoActiveSubscription = errors.New("no active subscription found")
)

// InsufficientCreditsError reports a debit the balance could not cover.
type InsufficientCreditsError struct {
	Need int
	Have int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %d, have %d", e.Need, e.Have)
}

// Is makes errors.Is(err, ErrInsufficientCredits) match.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}
