// Package errors provides the vault's error taxonomy and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Taxonomy errors. Every failed vault operation wraps exactly one of these.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrAlreadyInitialized  = errors.New("already initialized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrReentrantCall       = errors.New("reentrant call")
	ErrDelayNotMet         = errors.New("withdrawal delay not met")
	ErrTransferFailed      = errors.New("asset transfer failed")
	ErrDepositsPaused      = errors.New("deposits are paused")
	ErrInvalidParameter    = errors.New("invalid parameter")

	// Version 3 narrowing of the withdraw path.
	ErrWithdrawDisabled = errors.New("use requestWithdrawal in V3")
	ErrRequestPending   = errors.New("withdrawal request already pending")
	ErrNoPendingRequest = errors.New("no pending withdrawal request")

	ErrInsufficientReserve = errors.New("insufficient reserve for payout")
	ErrNotSupported        = errors.New("operation not supported by active implementation")
	ErrNotInitialized      = errors.New("vault not initialized")
)

// ErrStandaloneImplementation is returned when an initializer is invoked on an
// implementation instance that is not behind the proxy. It matches
// ErrAlreadyInitialized under errors.Is.
var ErrStandaloneImplementation = fmt.Errorf("implementation not meant to be initialized standalone: %w", ErrAlreadyInitialized)

// Taxonomy tags surfaced to callers.
const (
	CodeUnauthorized        = "Unauthorized"
	CodeAlreadyInitialized  = "AlreadyInitialized"
	CodeInsufficientBalance = "InsufficientBalance"
	CodeReentrantCall       = "ReentrantCall"
	CodeDelayNotMet         = "DelayNotMet"
	CodeTransferFailed      = "TransferFailed"
	CodeDepositsPaused      = "DepositsPaused"
	CodeInvalidParameter    = "InvalidParameter"
	CodeWithdrawDisabled    = "WithdrawDisabled"
	CodeRequestPending      = "RequestPending"
	CodeNoPendingRequest    = "NoPendingRequest"
	CodeInsufficientReserve = "InsufficientReserve"
	CodeNotSupported        = "NotSupported"
	CodeNotInitialized      = "NotInitialized"
	CodeInternal            = "Internal"
)

// order matters: ErrReentrantCall may travel inside ErrTransferFailed when a
// token surfaces the rejected callback, and the more specific tag wins.
var codes = []struct {
	err  error
	code string
}{
	{ErrReentrantCall, CodeReentrantCall},
	{ErrUnauthorized, CodeUnauthorized},
	{ErrAlreadyInitialized, CodeAlreadyInitialized},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrDelayNotMet, CodeDelayNotMet},
	{ErrDepositsPaused, CodeDepositsPaused},
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrWithdrawDisabled, CodeWithdrawDisabled},
	{ErrRequestPending, CodeRequestPending},
	{ErrNoPendingRequest, CodeNoPendingRequest},
	{ErrInsufficientReserve, CodeInsufficientReserve},
	{ErrNotSupported, CodeNotSupported},
	{ErrNotInitialized, CodeNotInitialized},
	{ErrTransferFailed, CodeTransferFailed},
}

// Code returns the taxonomy tag for err, or CodeInternal when err does not
// wrap a known sentinel. A nil error has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Retryable reports whether resubmitting the same call later may succeed
// without the caller changing anything.
func Retryable(err error) bool {
	return errors.Is(err, ErrDelayNotMet) || errors.Is(err, ErrReentrantCall)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is, As and New mirror the standard library so callers need a single import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func New(message string) error { return errors.New(message) }
