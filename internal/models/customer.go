package models

import "time"

// Customer is the owning-customer record. Read-only from the billing engine's
// perspective: it is consulted for notification addressing only.
type Customer struct {
	Base      `bson:",inline"`
	Email     string    `bson:"email" json:"email"`
	FirstName string    `bson:"first_name" json:"first_name"`
	LastName  string    `bson:"last_name,omitempty" json:"last_name,omitempty"`
	Phone     string    `bson:"phone,omitempty" json:"phone,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}
