package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// ErrDuplicateCycle is returned by Create when an invoice for the same
// (subscription, billing_date) already exists. Callers treat it as "another
// worker got here first", not as a failure.
var ErrDuplicateCycle = errors.New("invoice already exists for this billing cycle")

// IInvoiceService defines the interface for invoice persistence.
type IInvoiceService interface {
	FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error)
	FindBySubscriptionAndDate(ctx context.Context, subscriptionID utils.SixID, billingDate string) (*models.Invoice, error) // nil, nil when absent
	Create(ctx context.Context, invoice *models.Invoice) error
	RecordAttempt(ctx context.Context, id utils.SixID, attempt int, at time.Time) error
	MarkPaid(ctx context.Context, id utils.SixID, transactionID string, at time.Time) error
	ScheduleRetry(ctx context.Context, id utils.SixID, nextRetryAt time.Time) error
	MarkSubmitted(ctx context.Context, id utils.SixID, nextRetryAt *time.Time) error
	MarkFailed(ctx context.Context, id utils.SixID) error
	LinkOrder(ctx context.Context, invoiceID, orderID utils.SixID) (bool, error)
	FindDueRetries(ctx context.Context, now time.Time) ([]models.Invoice, error)
	FindSubmittedBefore(ctx context.Context, cutoff time.Time) ([]models.Invoice, error)
}

// invoiceService implements IInvoiceService.
type invoiceService struct {
	db *mongo.Database
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(database *mongo.Database) IInvoiceService {
	return &invoiceService{db: database}
}

func (s *invoiceService) FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.Collection(db.CollInvoices).FindOne(ctx, bson.M{"_id": id}).Decode(&inv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, fmt.Errorf("invoice %s not found", id)
		}
		return nil, fmt.Errorf("error finding invoice: %w", err)
	}
	return &inv, nil
}

func (s *invoiceService) FindBySubscriptionAndDate(ctx context.Context, subscriptionID utils.SixID, billingDate string) (*models.Invoice, error) {
	filter := bson.M{"subscription_id": subscriptionID, "billing_date": billingDate}
	var inv models.Invoice
	err := s.db.Collection(db.CollInvoices).FindOne(ctx, filter).Decode(&inv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("error finding cycle invoice: %w", err)
	}
	return &inv, nil
}

// Create inserts the invoice, generating its id. The unique index on
// (subscription_id, billing_date) is the authoritative once-per-cycle guard;
// a duplicate key on that index surfaces as ErrDuplicateCycle. Random id
// collisions are retried via db.Try.
func (s *invoiceService) Create(ctx context.Context, invoice *models.Invoice) error {
	now := time.Now().UTC()
	invoice.CreatedAt = now
	invoice.UpdatedAt = now

	err := db.Try(func() error {
		invoice.GenID()
		_, insertErr := s.db.Collection(db.CollInvoices).InsertOne(ctx, invoice)
		if mongo.IsDuplicateKeyError(insertErr) && !isIDCollision(insertErr) {
			return ErrDuplicateCycle
		}
		return insertErr
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCycle) {
			return ErrDuplicateCycle
		}
		return fmt.Errorf("error creating invoice: %w", err)
	}
	return nil
}

// isIDCollision distinguishes a duplicate _id (regenerate and retry) from a
// duplicate on the cycle index (genuinely already billed).
func isIDCollision(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 && !containsCycleIndex(e.Message) {
				return true
			}
		}
	}
	return false
}

func containsCycleIndex(msg string) bool {
	return strings.Contains(msg, db.IdxUniqueSubscriptionCycle)
}

// RecordAttempt bumps the attempt counter before the gateway call so a crash
// mid-charge still shows the attempt was started.
func (s *invoiceService) RecordAttempt(ctx context.Context, id utils.SixID, attempt int, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"attempt_count":   attempt,
		"last_attempt_at": at.UTC(),
		"updated_at":      time.Now().UTC(),
	}}
	_, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error recording attempt: %w", err)
	}
	return nil
}

func (s *invoiceService) MarkPaid(ctx context.Context, id utils.SixID, transactionID string, at time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"status":         models.InvoicePaid,
			"transaction_id": transactionID,
			"paid_at":        at.UTC(),
			"updated_at":     time.Now().UTC(),
		},
		"$unset": bson.M{"next_retry_at": ""},
	}
	_, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error marking invoice paid: %w", err)
	}
	return nil
}

func (s *invoiceService) ScheduleRetry(ctx context.Context, id utils.SixID, nextRetryAt time.Time) error {
	update := bson.M{"$set": bson.M{
		"status":        models.InvoicePendingRetry,
		"next_retry_at": nextRetryAt.UTC(),
		"updated_at":    time.Now().UTC(),
	}}
	_, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error scheduling retry: %w", err)
	}
	return nil
}

// MarkSubmitted parks the invoice in the ambiguous-outcome state. nextRetryAt
// is stored so that resolving it as a decline only needs a status flip.
func (s *invoiceService) MarkSubmitted(ctx context.Context, id utils.SixID, nextRetryAt *time.Time) error {
	set := bson.M{
		"status":     models.InvoiceSubmitted,
		"updated_at": time.Now().UTC(),
	}
	if nextRetryAt != nil {
		set["next_retry_at"] = nextRetryAt.UTC()
	}
	_, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("error marking invoice submitted: %w", err)
	}
	return nil
}

// MarkFailed is terminal: next_retry_at is cleared so the retry selector can
// never pick the invoice up again.
func (s *invoiceService) MarkFailed(ctx context.Context, id utils.SixID) error {
	update := bson.M{
		"$set": bson.M{
			"status":     models.InvoiceFailed,
			"updated_at": time.Now().UTC(),
		},
		"$unset": bson.M{"next_retry_at": ""},
	}
	_, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("error marking invoice failed: %w", err)
	}
	return nil
}

// LinkOrder attaches an order to the invoice only if no order is linked yet.
// Returns false when another worker already linked one; the caller must then
// discard its candidate order.
func (s *invoiceService) LinkOrder(ctx context.Context, invoiceID, orderID utils.SixID) (bool, error) {
	filter := bson.M{
		"_id": invoiceID,
		"$or": []bson.M{
			{"order_id": bson.M{"$exists": false}},
			{"order_id": utils.SixID{}},
		},
	}
	update := bson.M{"$set": bson.M{
		"order_id":   orderID,
		"updated_at": time.Now().UTC(),
	}}
	res, err := s.db.Collection(db.CollInvoices).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("error linking order: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func (s *invoiceService) FindDueRetries(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	filter := bson.M{
		"status":        models.InvoicePendingRetry,
		"next_retry_at": bson.M{"$lte": now.UTC()},
	}
	cursor, err := s.db.Collection(db.CollInvoices).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error querying due retries: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []models.Invoice
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, fmt.Errorf("error decoding due retries: %w", err)
	}
	return invoices, nil
}

func (s *invoiceService) FindSubmittedBefore(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	filter := bson.M{
		"status":          models.InvoiceSubmitted,
		"last_attempt_at": bson.M{"$lte": cutoff.UTC()},
	}
	cursor, err := s.db.Collection(db.CollInvoices).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("error querying submitted invoices: %w", err)
	}
	defer cursor.Close(ctx)

	var invoices []models.Invoice
	if err := cursor.All(ctx, &invoices); err != nil {
		return nil, fmt.Errorf("error decoding submitted invoices: %w", err)
	}
	return invoices, nil
}
