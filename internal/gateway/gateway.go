package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotConfigured is returned when gateway credentials are missing. Callers
// flag this distinctly in the run summary: no customer-side retry fixes it.
var ErrNotConfigured = errors.New("payment gateway credentials not configured")

// ChargeRequest describes one charge against a stored, tokenized payment method.
type ChargeRequest struct {
	Amount            decimal.Decimal
	CustomerProfileID string
	PaymentProfileID  string
	// IdempotencyKey is derived from (subscription id, cycle date), never from
	// wall-clock time, so a crash-and-retry of the billing run resubmits the
	// identical key. Sent as the gateway refId for gateway-side dedup.
	IdempotencyKey string
	InvoiceNumber  string
	Description    string
}

// ChargeResult is the gateway's answer to a charge attempt. A decline is a
// result (Approved=false), not an error; errors are reserved for transport
// and configuration failures.
type ChargeResult struct {
	Approved      bool
	TransactionID string
	AuthCode      string
	ErrorCode     string
	ErrorMessage  string
}

// TransactionState classifies a gateway-reported transaction for reconciliation.
type TransactionState string

const (
	TxnSettled  TransactionState = "settled"
	TxnPending  TransactionState = "pending"
	TxnDeclined TransactionState = "declined"
	TxnNotFound TransactionState = "not_found"
)

// IClient is the narrow interface to the card-payment gateway.
type IClient interface {
	// Charge submits an auth-capture transaction against a stored payment profile.
	Charge(ctx context.Context, req *ChargeRequest) (*ChargeResult, error)
	// TransactionStatus looks up a previously submitted transaction by the
	// idempotency key it was submitted under. Used by the reconciliation sweep.
	TransactionStatus(ctx context.Context, idempotencyKey string) (TransactionState, string, error)
}
