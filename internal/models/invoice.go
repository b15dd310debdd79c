package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// InvoiceStatus defines the state of one billing attempt cycle.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	// InvoiceSubmitted marks a charge whose gateway outcome is unknown (e.g. the
	// call timed out). Submitted invoices are excluded from new-cycle selection
	// until the reconciliation sweep resolves them.
	InvoiceSubmitted    InvoiceStatus = "submitted"
	InvoicePaid         InvoiceStatus = "paid"
	InvoicePendingRetry InvoiceStatus = "pending_retry"
	InvoiceFailed       InvoiceStatus = "failed"
)

// Invoice represents one billing attempt sequence for a subscription cycle.
// At most one invoice exists per (subscription, billing_date), enforced by a
// unique index, not just the application-level pre-check.
type Invoice struct {
	Base           `bson:",inline"`
	SubscriptionID utils.SixID     `bson:"subscription_id" json:"subscription_id"`
	InvoiceNumber  string          `bson:"invoice_number" json:"invoice_number"`
	Status         InvoiceStatus   `bson:"status" json:"status"`
	Subtotal       decimal.Decimal `bson:"subtotal" json:"subtotal"`
	Total          decimal.Decimal `bson:"total" json:"total"`
	// BillingDate is the cycle's calendar date (YYYY-MM-DD), taken from the
	// subscription's next_billing_date at creation, not from wall clock.
	BillingDate   string      `bson:"billing_date" json:"billing_date"`
	DueDate       string      `bson:"due_date" json:"due_date"`
	AttemptCount  int         `bson:"attempt_count" json:"attempt_count"`
	LastAttemptAt *time.Time  `bson:"last_attempt_at,omitempty" json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time  `bson:"next_retry_at,omitempty" json:"next_retry_at,omitempty"`
	TransactionID string      `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	OrderID       utils.SixID `bson:"order_id,omitempty" json:"order_id,omitempty"`
	PaidAt        *time.Time  `bson:"paid_at,omitempty" json:"paid_at,omitempty"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `bson:"updated_at" json:"updated_at"`
}

// Terminal reports whether the invoice can ever be attempted again.
func (i *Invoice) Terminal() bool {
	return i.Status == InvoicePaid || (i.Status == InvoiceFailed && i.NextRetryAt == nil)
}
