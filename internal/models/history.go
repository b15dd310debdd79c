package models

import (
	"time"

	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// HistoryAction identifies the kind of subscription state transition recorded.
type HistoryAction string

const (
	HistoryCreated          HistoryAction = "created"
	HistoryPaymentProcessed HistoryAction = "payment_processed"
	HistoryPaymentFailed    HistoryAction = "payment_failed"
	HistoryCancelled        HistoryAction = "cancelled"
	HistoryReconciled       HistoryAction = "reconciled"
)

// HistoryEntry is an immutable, append-only audit record of a subscription
// state transition. Write-once: never mutated or deleted.
type HistoryEntry struct {
	Base           `bson:",inline"`
	SubscriptionID utils.SixID        `bson:"subscription_id" json:"subscription_id"`
	Action         HistoryAction      `bson:"action" json:"action"`
	OldStatus      SubscriptionStatus `bson:"old_status,omitempty" json:"old_status,omitempty"`
	NewStatus      SubscriptionStatus `bson:"new_status,omitempty" json:"new_status,omitempty"`
	ActorType      string             `bson:"actor_type" json:"actor_type"` // "system" for all engine writes
	Note           string             `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt      time.Time          `bson:"created_at" json:"created_at"`
}
