// Package payments integrates external payment processors used to verify
// transactions before an order is marked as paid.
package payments

import (
	"context"
	"errors"
)

var (
	// ErrCredentialsNotConfigured signals that the processor credentials are missing or placeholders.
	ErrCredentialsNotConfigured = errors.New("payments: processor credentials not configured")
	// ErrTransactionNotFound signals that the processor has no record of the transaction.
	ErrTransactionNotFound = errors.New("payments: transaction not found")
	// ErrProcessorUnavailable wraps transport failures and unexpected processor responses.
	ErrProcessorUnavailable = errors.New("payments: processor unavailable")
)

// VerificationResult captures the processor's view of a transaction.
type VerificationResult struct {
	Verified      bool
	TransactionID string
	Status        string
	Amount        string
	PayerEmail    string
	UpdateTime    string
}

// Verifier checks a transaction against the external payment processor.
type Verifier interface {
	VerifyTransaction(ctx context.Context, transactionID string) (VerificationResult, error)
}

// VerifierFunc adapts ordinary functions to Verifier.
type VerifierFunc func(ctx context.Context, transactionID string) (VerificationResult, error)

// VerifyTransaction invokes the wrapped function.
func (f VerifierFunc) VerifyTransaction(ctx context.Context, transactionID string) (VerificationResult, error) {
	return f(ctx, transactionID)
}
