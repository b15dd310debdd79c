package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mhol1961/waggin-meals-sub004/internal/db"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// ErrNoItems is returned when a subscription has an empty item list at order
// synthesis time. The charge has already succeeded by then, so the caller
// records a data-integrity incident rather than rolling anything back.
var ErrNoItems = errors.New("subscription has no line items")

// ErrOrderExists is returned when the invoice already has an order linked.
var ErrOrderExists = errors.New("order already exists for this invoice")

// IOrderService defines the interface for fulfillment order synthesis.
type IOrderService interface {
	SynthesizeOrder(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, transactionID string) (*models.Order, error)
}

// orderService implements IOrderService.
type orderService struct {
	db       *mongo.Database
	invoices IInvoiceService
}

// NewOrderService creates a new OrderService.
func NewOrderService(database *mongo.Database, invoices IInvoiceService) IOrderService {
	return &orderService{db: database, invoices: invoices}
}

// SynthesizeOrder creates the fulfillment order for a paid invoice, exactly
// once. The invoice's order link is the at-most-once guard: the order is
// inserted first, then linked with a compare-and-set on an empty order_id; a
// worker that loses the link race deletes its candidate order again.
func (s *orderService) SynthesizeOrder(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, transactionID string) (*models.Order, error) {
	if !invoice.OrderID.IsZero() {
		return nil, ErrOrderExists
	}
	if len(sub.Items) == 0 {
		return nil, ErrNoItems
	}

	now := time.Now().UTC()
	order := &models.Order{
		OrderNumber:    generateOrderNumber(now),
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		InvoiceID:      invoice.ID,
		Items:          sub.Items,
		Subtotal:       invoice.Subtotal,
		Total:          invoice.Total,
		Status:         "pending",
		PaymentStatus:  "paid",
		TransactionID:  transactionID,
		Note:           fmt.Sprintf("Recurring subscription order (invoice %s)", invoice.InvoiceNumber),
		CreatedAt:      now,
	}

	err := db.Try(func() error {
		order.GenID()
		_, insertErr := s.db.Collection(db.CollOrders).InsertOne(ctx, order)
		return insertErr
	})
	if err != nil {
		return nil, fmt.Errorf("error creating order: %w", err)
	}

	linked, err := s.invoices.LinkOrder(ctx, invoice.ID, order.ID)
	if err != nil {
		return nil, fmt.Errorf("error linking order to invoice: %w", err)
	}
	if !linked {
		// Another worker linked its order first; ours must not reach fulfillment.
		if _, delErr := s.db.Collection(db.CollOrders).DeleteOne(ctx, bson.M{"_id": order.ID}); delErr != nil {
			return nil, fmt.Errorf("error removing losing candidate order %s: %w", order.ID, delErr)
		}
		return nil, ErrOrderExists
	}
	return order, nil
}

// generateOrderNumber builds a date-prefixed order number with a short random
// suffix, e.g. SUB-20260831-7K2Q.
func generateOrderNumber(at time.Time) string {
	suffix := utils.NewSixID().String()
	return fmt.Sprintf("SUB-%s-%s", at.Format("20060102"), suffix[len(suffix)-4:])
}
