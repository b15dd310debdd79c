package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/mhol1961/waggin-meals-sub004/internal/config"
	"github.com/mhol1961/waggin-meals-sub004/internal/gateway"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/notify"
	"github.com/mhol1961/waggin-meals-sub004/internal/services"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// nowFunc is a package-level hook tests set to run against a fixed clock.
var nowFunc = time.Now

// Outcome classifies how one charge execution ended.
type Outcome string

const (
	OutcomeCharged          Outcome = "charged"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeRetryScheduled   Outcome = "retry_scheduled"
	OutcomeCancelled        Outcome = "cancelled"
	OutcomeSkipped          Outcome = "skipped"
	// OutcomeSubmitted means the gateway call timed out with an unknown result.
	// The invoice is parked until the reconciliation sweep resolves it.
	OutcomeSubmitted Outcome = "submitted"
)

// ChargeOutcome is the per-subscription result reported into the run summary.
type ChargeOutcome struct {
	Outcome        Outcome
	SubscriptionID utils.SixID
	InvoiceID      utils.SixID
	TransactionID  string
	AttemptCount   int
	NextRetryAt    *time.Time
	Reason         string
	// ConfigError flags failures no customer retry can fix (missing payment
	// token, gateway credentials absent). They still follow the dunning track
	// but are reported distinctly so an operator notices.
	ConfigError bool
	// IntegrityError flags a successful charge whose follow-up work hit bad
	// data (e.g. a subscription with no line items at order synthesis).
	IntegrityError bool
}

// IChargeExecutor executes one charge attempt for one subscription cycle.
type IChargeExecutor interface {
	ExecuteCharge(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error)
	Reconcile(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error)
}

// Executor implements IChargeExecutor against the real stores and gateway.
type Executor struct {
	cfg        *config.Config
	gateway    gateway.IClient
	subs       services.ISubscriptionService
	invoices   services.IInvoiceService
	orders     services.IOrderService
	history    services.IHistoryService
	customers  services.ICustomerService
	dispatcher notify.IDispatcher
}

// NewExecutor creates a new Executor.
func NewExecutor(cfg *config.Config, gw gateway.IClient, subs services.ISubscriptionService,
	invoices services.IInvoiceService, orders services.IOrderService, history services.IHistoryService,
	customers services.ICustomerService, dispatcher notify.IDispatcher) *Executor {
	return &Executor{
		cfg:        cfg,
		gateway:    gw,
		subs:       subs,
		invoices:   invoices,
		orders:     orders,
		history:    history,
		customers:  customers,
		dispatcher: dispatcher,
	}
}

// ExecuteCharge runs one charge attempt. inv is nil for a new-cycle charge
// (the executor finds or creates the cycle invoice) and non-nil for a dunning
// retry. All money state is persisted before any notification is dispatched.
func (e *Executor) ExecuteCharge(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error) {
	out := &ChargeOutcome{SubscriptionID: sub.ID}

	if !sub.Billable() {
		out.Outcome = OutcomeSkipped
		out.Reason = fmt.Sprintf("subscription status is %s", sub.Status)
		return out, nil
	}

	now := nowFunc().UTC()

	if inv == nil {
		inv = e.resolveCycleInvoice(ctx, sub, out)
		if inv == nil {
			return out, nil
		}
	}
	out.InvoiceID = inv.ID

	if inv.Status == models.InvoicePaid {
		out.Outcome = OutcomeAlreadyProcessed
		return out, nil
	}
	if inv.Status == models.InvoiceSubmitted {
		out.Outcome = OutcomeSkipped
		out.Reason = "awaiting reconciliation"
		return out, nil
	}
	if inv.AttemptCount >= e.cfg.MaxRetryAttempts {
		out.Outcome = OutcomeSkipped
		out.Reason = "attempt limit already reached"
		return out, nil
	}

	attempt := inv.AttemptCount + 1
	out.AttemptCount = attempt

	if sub.PaymentMethodID.IsZero() {
		return e.failCharge(ctx, sub, inv, attempt, "no payment method on file", true)
	}
	pm, err := e.subs.GetPaymentMethod(ctx, sub.PaymentMethodID)
	if err != nil {
		return e.failCharge(ctx, sub, inv, attempt, fmt.Sprintf("payment method unavailable: %v", err), true)
	}

	if err := e.invoices.RecordAttempt(ctx, inv.ID, attempt, now); err != nil {
		return nil, err
	}

	res, err := e.gateway.Charge(ctx, &gateway.ChargeRequest{
		Amount:            inv.Total,
		CustomerProfileID: pm.CustomerProfileID,
		PaymentProfileID:  pm.PaymentProfileID,
		IdempotencyKey:    IdempotencyKey(sub.ID, inv.BillingDate),
		InvoiceNumber:     inv.InvoiceNumber,
		Description:       fmt.Sprintf("%s subscription (%s)", e.cfg.AppName, sub.Frequency),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrNotConfigured) {
			return e.failCharge(ctx, sub, inv, attempt, "payment gateway is not configured", true)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return e.parkSubmitted(ctx, sub, inv, attempt)
		}
		// Transport failure with a definite non-submission: treat as a declined
		// attempt so dunning still makes progress.
		return e.failCharge(ctx, sub, inv, attempt, fmt.Sprintf("gateway error: %v", err), false)
	}
	if !res.Approved {
		reason := res.ErrorMessage
		if reason == "" {
			reason = "card declined"
		}
		return e.failCharge(ctx, sub, inv, attempt, reason, false)
	}

	return e.settle(ctx, sub, inv, res.TransactionID, false, out)
}

// resolveCycleInvoice finds or creates the invoice for the subscription's
// current cycle. A nil return means the cycle needs no charge; the reason is
// recorded on out. Otherwise the returned invoice is the one to charge.
func (e *Executor) resolveCycleInvoice(ctx context.Context, sub *models.Subscription, out *ChargeOutcome) *models.Invoice {
	cycleDate := sub.NextBillingDate

	existing, err := e.invoices.FindBySubscriptionAndDate(ctx, sub.ID, cycleDate)
	if err != nil {
		out.Outcome = OutcomeSkipped
		out.Reason = fmt.Sprintf("invoice lookup failed: %v", err)
		return nil
	}
	if existing != nil {
		switch existing.Status {
		case models.InvoicePaid:
			out.Outcome = OutcomeAlreadyProcessed
			out.InvoiceID = existing.ID
			return nil
		case models.InvoiceSubmitted:
			out.Outcome = OutcomeSkipped
			out.InvoiceID = existing.ID
			out.Reason = "awaiting reconciliation"
			return nil
		case models.InvoicePendingRetry, models.InvoiceFailed:
			// Dunning owns this invoice now; the new-cycle pass stays out.
			out.Outcome = OutcomeSkipped
			out.InvoiceID = existing.ID
			out.Reason = "cycle is on the retry track"
			return nil
		default:
			// A pending invoice from a crashed earlier run: resume it.
			return existing
		}
	}

	inv := &models.Invoice{
		SubscriptionID: sub.ID,
		InvoiceNumber:  InvoiceNumber(sub.ID, cycleDate),
		Status:         models.InvoicePending,
		Subtotal:       sub.Amount,
		Total:          sub.Amount,
		BillingDate:    cycleDate,
		DueDate:        cycleDate,
	}
	if err := e.invoices.Create(ctx, inv); err != nil {
		if errors.Is(err, services.ErrDuplicateCycle) {
			out.Outcome = OutcomeAlreadyProcessed
			out.Reason = "cycle invoice created concurrently"
			return nil
		}
		out.Outcome = OutcomeSkipped
		out.Reason = fmt.Sprintf("invoice creation failed: %v", err)
		return nil
	}
	return inv
}

// settle persists a successful charge: invoice paid, billing dates advanced
// from the actual charge date (not the scheduled one, so a late or retried
// charge does not immediately come due again), order synthesized, history
// appended, then the customer notified.
func (e *Executor) settle(ctx context.Context, sub *models.Subscription, inv *models.Invoice, transactionID string, reconciled bool, out *ChargeOutcome) (*ChargeOutcome, error) {
	now := nowFunc().UTC()
	chargeDate := FormatDate(now)
	nextDate := FormatDate(NextBillingDate(now, sub.Frequency))

	if err := e.invoices.MarkPaid(ctx, inv.ID, transactionID, now); err != nil {
		return nil, err
	}
	if err := e.subs.RecordSuccessfulCharge(ctx, sub.ID, chargeDate, nextDate); err != nil {
		return nil, err
	}

	action := models.HistoryPaymentProcessed
	note := fmt.Sprintf("Payment of %s processed (transaction %s)", inv.Total.StringFixed(2), transactionID)
	if reconciled {
		action = models.HistoryReconciled
		note = fmt.Sprintf("Submitted charge confirmed settled (transaction %s)", transactionID)
	}
	e.appendHistory(ctx, &models.HistoryEntry{
		SubscriptionID: sub.ID,
		Action:         action,
		OldStatus:      sub.Status,
		NewStatus:      models.SubscriptionActive,
		Note:           note,
	})

	out.InvoiceID = inv.ID
	out.TransactionID = transactionID
	out.Outcome = OutcomeCharged

	orderNumber := ""
	order, err := e.orders.SynthesizeOrder(ctx, sub, inv, transactionID)
	switch {
	case err == nil:
		orderNumber = order.OrderNumber
	case errors.Is(err, services.ErrNoItems):
		out.IntegrityError = true
		out.Reason = "charged but no line items to fulfill"
		log.Printf("[Order] integrity: subscription %s has no items, invoice %s paid without order", sub.ID, inv.ID)
	case errors.Is(err, services.ErrOrderExists):
		log.Printf("[Order] invoice %s already has an order, skipping synthesis", inv.ID)
	default:
		out.Reason = fmt.Sprintf("order synthesis failed: %v", err)
		log.Printf("[Order] failed to synthesize order for invoice %s: %v", inv.ID, err)
	}

	e.notifySuccess(ctx, sub, inv, orderNumber)
	return out, nil
}

// failCharge applies the dunning policy after a definite charge failure.
func (e *Executor) failCharge(ctx context.Context, sub *models.Subscription, inv *models.Invoice, attempt int, reason string, configError bool) (*ChargeOutcome, error) {
	now := nowFunc().UTC()
	out := &ChargeOutcome{
		SubscriptionID: sub.ID,
		InvoiceID:      inv.ID,
		AttemptCount:   attempt,
		Reason:         reason,
		ConfigError:    configError,
	}

	delay, ok := NextRetryDelay(attempt, e.cfg.RetrySchedule, e.cfg.MaxRetryAttempts)
	if !ok {
		return e.cancelAfterExhaustion(ctx, sub, inv, reason, out)
	}

	nextRetry := now.Add(delay)
	if err := e.invoices.RecordAttempt(ctx, inv.ID, attempt, now); err != nil {
		return nil, err
	}
	if err := e.invoices.ScheduleRetry(ctx, inv.ID, nextRetry); err != nil {
		return nil, err
	}
	if err := e.subs.SetStatus(ctx, sub.ID, models.SubscriptionActive, models.SubscriptionPastDue); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, &models.HistoryEntry{
		SubscriptionID: sub.ID,
		Action:         models.HistoryPaymentFailed,
		OldStatus:      sub.Status,
		NewStatus:      models.SubscriptionPastDue,
		Note:           fmt.Sprintf("Payment attempt %d failed: %s. Retry scheduled for %s", attempt, reason, FormatDate(nextRetry)),
	})
	e.notifyFailure(ctx, sub, inv, reason, nextRetry)

	out.Outcome = OutcomeRetryScheduled
	out.NextRetryAt = &nextRetry
	return out, nil
}

// cancelAfterExhaustion ends dunning: terminal invoice, cancelled
// subscription, audit entry, farewell notification.
func (e *Executor) cancelAfterExhaustion(ctx context.Context, sub *models.Subscription, inv *models.Invoice, reason string, out *ChargeOutcome) (*ChargeOutcome, error) {
	now := nowFunc().UTC()
	if err := e.invoices.RecordAttempt(ctx, inv.ID, out.AttemptCount, now); err != nil {
		return nil, err
	}
	if err := e.invoices.MarkFailed(ctx, inv.ID); err != nil {
		return nil, err
	}
	if err := e.subs.Cancel(ctx, sub.ID, now); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, &models.HistoryEntry{
		SubscriptionID: sub.ID,
		Action:         models.HistoryCancelled,
		OldStatus:      sub.Status,
		NewStatus:      models.SubscriptionCancelled,
		Note:           fmt.Sprintf("Cancelled after %d failed payment attempts (last: %s)", out.AttemptCount, reason),
	})
	e.notifyCancelled(ctx, sub, inv)

	out.Outcome = OutcomeCancelled
	return out, nil
}

// parkSubmitted handles a timed-out gateway call: the charge may or may not
// have gone through out-of-band. The attempt is counted and the retry slot
// reserved, but the invoice is parked as submitted so neither billing pass
// touches it until reconciliation learns the real outcome. No customer
// notification: it could be wrong in either direction.
func (e *Executor) parkSubmitted(ctx context.Context, sub *models.Subscription, inv *models.Invoice, attempt int) (*ChargeOutcome, error) {
	now := nowFunc().UTC()
	out := &ChargeOutcome{
		SubscriptionID: sub.ID,
		InvoiceID:      inv.ID,
		AttemptCount:   attempt,
		Reason:         "gateway timeout, outcome unknown",
	}

	var nextRetry *time.Time
	if delay, ok := NextRetryDelay(attempt, e.cfg.RetrySchedule, e.cfg.MaxRetryAttempts); ok {
		t := now.Add(delay)
		nextRetry = &t
	}
	if err := e.invoices.MarkSubmitted(ctx, inv.ID, nextRetry); err != nil {
		return nil, err
	}
	e.appendHistory(ctx, &models.HistoryEntry{
		SubscriptionID: sub.ID,
		Action:         models.HistoryPaymentFailed,
		OldStatus:      sub.Status,
		NewStatus:      sub.Status,
		Note:           fmt.Sprintf("Payment attempt %d timed out; awaiting gateway reconciliation", attempt),
	})

	out.Outcome = OutcomeSubmitted
	out.NextRetryAt = nextRetry
	return out, nil
}

// Reconcile resolves a submitted invoice by asking the gateway what actually
// happened to the charge.
func (e *Executor) Reconcile(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error) {
	out := &ChargeOutcome{SubscriptionID: sub.ID, InvoiceID: inv.ID, AttemptCount: inv.AttemptCount}

	ref := inv.TransactionID
	if ref == "" {
		ref = IdempotencyKey(inv.SubscriptionID, inv.BillingDate)
	}
	state, transactionID, err := e.gateway.TransactionStatus(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("reconciliation lookup failed for invoice %s: %w", inv.ID, err)
	}

	switch state {
	case gateway.TxnSettled:
		return e.settle(ctx, sub, inv, transactionID, true, out)

	case gateway.TxnPending:
		out.Outcome = OutcomeSkipped
		out.Reason = "gateway still settling"
		return out, nil

	case gateway.TxnDeclined, gateway.TxnNotFound:
		// The attempt was already counted when the invoice was parked; the
		// charge now turns out to have failed, so rejoin the dunning track.
		reason := "submitted charge was declined"
		if state == gateway.TxnNotFound {
			reason = "submitted charge never reached the gateway"
		}
		if inv.AttemptCount >= e.cfg.MaxRetryAttempts {
			out.Reason = reason
			return e.cancelAfterExhaustion(ctx, sub, inv, reason, out)
		}
		nextRetry := inv.NextRetryAt
		if nextRetry == nil {
			t := nowFunc().UTC().Add(e.cfg.RetrySchedule[0])
			nextRetry = &t
		}
		if err := e.invoices.ScheduleRetry(ctx, inv.ID, *nextRetry); err != nil {
			return nil, err
		}
		if err := e.subs.SetStatus(ctx, sub.ID, models.SubscriptionActive, models.SubscriptionPastDue); err != nil {
			return nil, err
		}
		e.appendHistory(ctx, &models.HistoryEntry{
			SubscriptionID: sub.ID,
			Action:         models.HistoryReconciled,
			OldStatus:      sub.Status,
			NewStatus:      models.SubscriptionPastDue,
			Note:           fmt.Sprintf("Reconciled: %s. Retry scheduled for %s", reason, FormatDate(*nextRetry)),
		})
		e.notifyFailure(ctx, sub, inv, reason, *nextRetry)

		out.Outcome = OutcomeRetryScheduled
		out.Reason = reason
		out.NextRetryAt = nextRetry
		return out, nil

	default:
		return nil, fmt.Errorf("unknown transaction state %q for invoice %s", state, inv.ID)
	}
}

// appendHistory is best-effort: the audit trail should never block or undo a
// settled money movement.
func (e *Executor) appendHistory(ctx context.Context, entry *models.HistoryEntry) {
	if err := e.history.Append(ctx, entry); err != nil {
		log.Printf("[Billing] failed to append history for subscription %s: %v", entry.SubscriptionID, err)
	}
}

func (e *Executor) lookupCustomer(ctx context.Context, sub *models.Subscription) *models.Customer {
	customer, err := e.customers.FindByID(ctx, sub.CustomerID)
	if err != nil {
		log.Printf("[Notify] customer %s lookup failed, skipping notification: %v", sub.CustomerID, err)
		return nil
	}
	return customer
}

func (e *Executor) notifySuccess(ctx context.Context, sub *models.Subscription, inv *models.Invoice, orderNumber string) {
	customer := e.lookupCustomer(ctx, sub)
	if customer == nil {
		return
	}
	err := e.dispatcher.PaymentSucceeded(ctx, &notify.PaymentSucceededEvent{
		Customer:     customer,
		Subscription: sub,
		Invoice:      inv,
		OrderNumber:  orderNumber,
	})
	if err != nil {
		log.Printf("[Notify] payment_success dispatch failed for subscription %s: %v", sub.ID, err)
	}
}

func (e *Executor) notifyFailure(ctx context.Context, sub *models.Subscription, inv *models.Invoice, reason string, nextRetry time.Time) {
	customer := e.lookupCustomer(ctx, sub)
	if customer == nil {
		return
	}
	err := e.dispatcher.PaymentFailed(ctx, &notify.PaymentFailedEvent{
		Customer:     customer,
		Subscription: sub,
		Invoice:      inv,
		Reason:       reason,
		NextRetryAt:  nextRetry,
	})
	if err != nil {
		log.Printf("[Notify] payment_retry_scheduled dispatch failed for subscription %s: %v", sub.ID, err)
	}
}

func (e *Executor) notifyCancelled(ctx context.Context, sub *models.Subscription, inv *models.Invoice) {
	customer := e.lookupCustomer(ctx, sub)
	if customer == nil {
		return
	}
	err := e.dispatcher.SubscriptionCancelled(ctx, &notify.SubscriptionCancelledEvent{
		Customer:     customer,
		Subscription: sub,
		Invoice:      inv,
	})
	if err != nil {
		log.Printf("[Notify] subscription_cancelled dispatch failed for subscription %s: %v", sub.ID, err)
	}
}
