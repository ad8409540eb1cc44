package entities

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrNotCustodialWallet  = errors.New("wallet is not custodial")
	ErrAlreadyClaimed      = errors.New("transaction already claimed by another executor")
)

// ValidationError signals malformed or missing routing metadata.
// It is fatal for the attempt and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ChainInactiveError signals that the backend's liveness probe found
// the underlying node not ready. Operations fail closed on it.
type ChainInactiveError struct {
	Chain Chain
	Cause error
}

func (e *ChainInactiveError) Error() string {
	return fmt.Sprintf("chain %s inactive: %v", e.Chain, e.Cause)
}

func (e *ChainInactiveError) Unwrap() error { return e.Cause }

// BackendTransferError signals an RPC, signing, or broadcast failure
// inside a chain backend
type BackendTransferError struct {
	Chain Chain
	Op    string
	Cause error
}

func (e *BackendTransferError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Chain, e.Op, e.Cause)
}

func (e *BackendTransferError) Unwrap() error { return e.Cause }

// ConfirmationTimeoutError signals that a broadcast succeeded but
// confirmation could not be established within bounded retries.
// Callers must re-check final on-chain state before declaring failure.
type ConfirmationTimeoutError struct {
	Chain       Chain
	ReferenceID string
	Attempts    int
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("%s confirmation for %s not established after %d attempts", e.Chain, e.ReferenceID, e.Attempts)
}
