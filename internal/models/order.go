package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// Order is a fulfillment order synthesized from a successfully billed
// subscription cycle. Once created it is handed off to the fulfillment
// subsystem; the billing engine never mutates it again.
type Order struct {
	Base           `bson:",inline"`
	OrderNumber    string          `bson:"order_number" json:"order_number"`
	CustomerID     utils.SixID     `bson:"customer_id" json:"customer_id"`
	SubscriptionID utils.SixID     `bson:"subscription_id" json:"subscription_id"`
	InvoiceID      utils.SixID     `bson:"invoice_id" json:"invoice_id"`
	Items          []LineItem      `bson:"items" json:"items"`
	Subtotal       decimal.Decimal `bson:"subtotal" json:"subtotal"`
	Total          decimal.Decimal `bson:"total" json:"total"`
	Status         string          `bson:"status" json:"status"`                 // "pending" until fulfillment picks it up
	PaymentStatus  string          `bson:"payment_status" json:"payment_status"` // always "paid" for synthesized orders
	TransactionID  string          `bson:"transaction_id" json:"transaction_id"`
	Note           string          `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}
