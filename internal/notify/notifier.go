package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mhol1961/waggin-meals-sub004/internal/models"
)

// TypeNotificationEmail is the asynq task type for customer notification emails.
const TypeNotificationEmail = "notify:email"

// EmailPayload is the body of a TypeNotificationEmail task.
type EmailPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale"`
	Data       map[string]interface{} `json:"data"`
}

// PaymentSucceededEvent carries everything the success notification needs.
type PaymentSucceededEvent struct {
	Customer     *models.Customer
	Subscription *models.Subscription
	Invoice      *models.Invoice
	OrderNumber  string
}

// PaymentFailedEvent carries everything the dunning notification needs.
type PaymentFailedEvent struct {
	Customer     *models.Customer
	Subscription *models.Subscription
	Invoice      *models.Invoice
	Reason       string
	NextRetryAt  time.Time
}

// SubscriptionCancelledEvent is emitted when dunning exhausts all attempts.
type SubscriptionCancelledEvent struct {
	Customer     *models.Customer
	Subscription *models.Subscription
	Invoice      *models.Invoice
}

// IDispatcher publishes customer-facing billing notifications. Dispatch is
// fire-and-forget from the billing engine's point of view: callers log a
// returned error and carry on, they never fail or retry a charge because a
// notification could not be queued.
type IDispatcher interface {
	PaymentSucceeded(ctx context.Context, ev *PaymentSucceededEvent) error
	PaymentFailed(ctx context.Context, ev *PaymentFailedEvent) error
	SubscriptionCancelled(ctx context.Context, ev *SubscriptionCancelledEvent) error
}

// IAsynqClient is the slice of asynq.Client the dispatcher uses.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues notification emails onto the background queue.
// Delivery retries are the queue worker's concern, not the biller's.
type QueueDispatcher struct {
	client IAsynqClient
}

// NewQueueDispatcher creates a new QueueDispatcher.
func NewQueueDispatcher(client IAsynqClient) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

func (d *QueueDispatcher) enqueue(ctx context.Context, payload *EmailPayload) error {
	if payload.To == "" {
		return fmt.Errorf("notification has no recipient address")
	}
	if payload.Locale == "" {
		payload.Locale = "en-US"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}
	task := asynq.NewTask(TypeNotificationEmail, body)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("failed to enqueue %s task: %w", TypeNotificationEmail, err)
	}
	return nil
}

func (d *QueueDispatcher) PaymentSucceeded(ctx context.Context, ev *PaymentSucceededEvent) error {
	return d.enqueue(ctx, &EmailPayload{
		To:         ev.Customer.Email,
		TemplateID: "payment_success",
		Data: map[string]interface{}{
			"first_name":      ev.Customer.FirstName,
			"subscription_id": ev.Subscription.ID.String(),
			"amount":          ev.Invoice.Total.StringFixed(2),
			"order_number":    ev.OrderNumber,
			"transaction_id":  ev.Invoice.TransactionID,
		},
	})
}

func (d *QueueDispatcher) PaymentFailed(ctx context.Context, ev *PaymentFailedEvent) error {
	return d.enqueue(ctx, &EmailPayload{
		To:         ev.Customer.Email,
		TemplateID: "payment_retry_scheduled",
		Data: map[string]interface{}{
			"first_name":      ev.Customer.FirstName,
			"subscription_id": ev.Subscription.ID.String(),
			"amount":          ev.Invoice.Total.StringFixed(2),
			"reason":          ev.Reason,
			"next_retry_date": ev.NextRetryAt.UTC().Format("2006-01-02"),
		},
	})
}

func (d *QueueDispatcher) SubscriptionCancelled(ctx context.Context, ev *SubscriptionCancelledEvent) error {
	return d.enqueue(ctx, &EmailPayload{
		To:         ev.Customer.Email,
		TemplateID: "subscription_cancelled",
		Data: map[string]interface{}{
			"first_name":      ev.Customer.FirstName,
			"subscription_id": ev.Subscription.ID.String(),
			"amount":          ev.Invoice.Total.StringFixed(2),
			"total_attempts":  ev.Invoice.AttemptCount,
		},
	})
}

// LogDispatcher writes notifications to the process log instead of a queue.
// Used when Redis is not configured, and as a stand-in in tests.
type LogDispatcher struct{}

func (LogDispatcher) PaymentSucceeded(ctx context.Context, ev *PaymentSucceededEvent) error {
	log.Printf("[Notify] payment_success for customer %s (order %s)", ev.Customer.ID, ev.OrderNumber)
	return nil
}

func (LogDispatcher) PaymentFailed(ctx context.Context, ev *PaymentFailedEvent) error {
	log.Printf("[Notify] payment_retry_scheduled for customer %s (retry at %s)", ev.Customer.ID, ev.NextRetryAt.Format(time.RFC3339))
	return nil
}

func (LogDispatcher) SubscriptionCancelled(ctx context.Context, ev *SubscriptionCancelledEvent) error {
	log.Printf("[Notify] subscription_cancelled for customer %s", ev.Customer.ID)
	return nil
}
