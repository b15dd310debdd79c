package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// ISubscriptionService defines the interface for subscription persistence.
type ISubscriptionService interface {
	FindByID(ctx context.Context, id utils.SixID) (*models.Subscription, error)
	FindDue(ctx context.Context, today string) ([]models.Subscription, error) // billable subs whose next_billing_date <= today
	RecordSuccessfulCharge(ctx context.Context, id utils.SixID, lastBillingDate, nextBillingDate string) error
	SetStatus(ctx context.Context, id utils.SixID, from, to models.SubscriptionStatus) error
	Cancel(ctx context.Context, id utils.SixID, at time.Time) error
	GetPaymentMethod(ctx context.Context, id utils.SixID) (*models.PaymentMethod, error)
}

// subscriptionService implements ISubscriptionService.
type subscriptionService struct {
	db *mongo.Database
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(database *mongo.Database) ISubscriptionService {
	return &subscriptionService{db: database}
}

func (s *subscriptionService) FindByID(ctx context.Context, id utils.SixID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.Collection(db.CollSubscriptions).FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("subscription %s not found", id)
		}
		return nil, fmt.Errorf("error finding subscription: %w", err)
	}
	return &sub, nil
}

// FindDue returns subscriptions eligible for a new billing cycle: status
// active or past_due with next_billing_date on or before today. String
// comparison is correct because billing dates are zero-padded YYYY-MM-DD.
func (s *subscriptionService) FindDue(ctx context.Context, today string) ([]models.Subscription, error) {
	filter := bson.M{
		"status":            bson.M{"$in": []models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPastDue}},
		"next_billing_date": bson.M{"$lte": today},
	}
	cursor, err := s.db.Collection(db.CollSubscriptions).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error querying due subscriptions: %w", err)
	}
	defer cursor.Close(ctx)

	var subs []models.Subscription
	if err := cursor.All(ctx, &subs); err != nil {
		return nil, fmt.Errorf("error decoding due subscriptions: %w", err)
	}
	return subs, nil
}

// RecordSuccessfulCharge advances the billing dates and restores active
// status in one update, so a recovered past_due subscription never persists
// a half-updated state.
func (s *subscriptionService) RecordSuccessfulCharge(ctx context.Context, id utils.SixID, lastBillingDate, nextBillingDate string) error {
	update := bson.M{"$set": bson.M{
		"status":            models.SubscriptionActive,
		"last_billing_date": lastBillingDate,
		"next_billing_date": nextBillingDate,
		"updated_at":        time.Now().UTC(),
	}}
	res, err := s.db.Collection(db.CollSubscriptions).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error recording successful charge: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

// SetStatus transitions the subscription from one status to another. The
// compare-and-set on the current status makes concurrent transitions lose
// cleanly instead of clobbering each other; a lost race is not an error.
func (s *subscriptionService) SetStatus(ctx context.Context, id utils.SixID, from, to models.SubscriptionStatus) error {
	update := bson.M{"$set": bson.M{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}}
	_, err := s.db.Collection(db.CollSubscriptions).UpdateOne(ctx, bson.M{"_id": id, "status": from}, update)
	if err != nil {
		return fmt.Errorf("error setting subscription status: %w", err)
	}
	return nil
}

// Cancel marks the subscription cancelled. Cancellation is permanent within
// the engine: no engine path ever moves a subscription out of cancelled.
func (s *subscriptionService) Cancel(ctx context.Context, id utils.SixID, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"status":       models.SubscriptionCancelled,
		"cancelled_at": at.UTC(),
		"updated_at":   time.Now().UTC(),
	}}
	res, err := s.db.Collection(db.CollSubscriptions).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error cancelling subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("subscription %s not found", id)
	}
	return nil
}

func (s *subscriptionService) GetPaymentMethod(ctx context.Context, id utils.SixID) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	err := s.db.Collection(db.CollPaymentMethods).FindOne(ctx, bson.M{"_id": id}).Decode(&pm)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("payment method %s not found", id)
		}
		return nil, fmt.Errorf("error finding payment method: %w", err)
	}
	return &pm, nil
}
