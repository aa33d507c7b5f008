package apperrors

import (
	"errors"
)

var (
	ErrInvalidInput = errors.New("invalid input")

	ErrAccountNotFound     = errors.New("account not found")
	ErrBalanceInsufficient = errors.New("insufficient balance")
	ErrLedgerMismatch      = errors.New("ledger sum does not match balance")
	ErrUnknownTool         = errors.New("unknown tool")

	ErrNoPaymentMethod   = errors.New("no saved payment method")
	ErrPaymentFailed     = errors.New("payment failed")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrPaymentNotPending = errors.New("payment is not pending")
	ErrPaymentInFlight   = errors.New("another payment is in flight")
	ErrPaymentPending    = errors.New("payment outcome is unknown, it stays pending")

	ErrQuoteNotFound    = errors.New("quote not found")
	ErrRateUnavailable  = errors.New("exchange rate unavailable")
	ErrTokenInvalid     = errors.New("access token is invalid")
	ErrPermissionDenied = errors.New("permission denied")
)
