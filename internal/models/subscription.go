package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// Frequency defines how often a subscription bills.
type Frequency string

const (
	FrequencyWeekly     Frequency = "weekly"
	FrequencyBiweekly   Frequency = "biweekly"
	FrequencyMonthly    Frequency = "monthly"
	FrequencyFourWeeks  Frequency = "4-weeks"
	FrequencySixWeeks   Frequency = "6-weeks"
	FrequencyEightWeeks Frequency = "8-weeks"
)

// SubscriptionStatus defines the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// LineItem is a product snapshot locked into the subscription at signup/last edit.
// Billing never re-reads live product pricing.
type LineItem struct {
	ProductID    utils.SixID     `bson:"product_id" json:"product_id"`
	ProductName  string          `bson:"product_name" json:"product_name"`
	VariantTitle string          `bson:"variant_title,omitempty" json:"variant_title,omitempty"`
	Quantity     int             `bson:"quantity" json:"quantity"`
	UnitPrice    decimal.Decimal `bson:"unit_price" json:"unit_price"`
}

// Subscription is a recurring commitment to purchase a fixed set of line items
// on a fixed cadence. Never physically deleted; cancellation is a status change.
type Subscription struct {
	Base            `bson:",inline"`
	CustomerID      utils.SixID        `bson:"customer_id" json:"customer_id"`
	Items           []LineItem         `bson:"items" json:"items"`
	Frequency       Frequency          `bson:"frequency" json:"frequency"`
	Amount          decimal.Decimal    `bson:"amount" json:"amount"`
	Status          SubscriptionStatus `bson:"status" json:"status"`
	PaymentMethodID utils.SixID        `bson:"payment_method_id,omitempty" json:"payment_method_id,omitempty"`
	// Calendar dates in YYYY-MM-DD, no time component (avoids TZ drift on day boundaries).
	NextBillingDate string     `bson:"next_billing_date" json:"next_billing_date"`
	LastBillingDate string     `bson:"last_billing_date,omitempty" json:"last_billing_date,omitempty"`
	CancelledAt     *time.Time `bson:"cancelled_at,omitempty" json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// Billable reports whether the subscription is eligible for charging at all.
func (s *Subscription) Billable() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionPastDue
}

// PaymentMethod is an opaque reference to a gateway-side tokenized card.
// Raw card data never enters this system.
type PaymentMethod struct {
	Base              `bson:",inline"`
	CustomerID        utils.SixID `bson:"customer_id" json:"customer_id"`
	CustomerProfileID string      `bson:"customer_profile_id" json:"customer_profile_id"`
	PaymentProfileID  string      `bson:"payment_profile_id" json:"payment_profile_id"`
	CardType          string      `bson:"card_type,omitempty" json:"card_type,omitempty"`
	Last4             string      `bson:"last4,omitempty" json:"last4,omitempty"`
	CreatedAt         time.Time   `bson:"created_at" json:"created_at"`
}
