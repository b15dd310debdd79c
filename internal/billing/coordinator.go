package billing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mhol1961/waggin-meals-sub004/internal/cache"
	"github.com/mhol1961/waggin-meals-sub004/internal/config"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/services"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// RunFailure records one subscription whose processing errored (as opposed to
// a charge that was declined, which is a normal outcome).
type RunFailure struct {
	SubscriptionID string `json:"subscription_id"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	Message        string `json:"message"`
	ConfigError    bool   `json:"config_error,omitempty"`
}

// RunSummary is the end-of-run report: what was considered and how each
// subscription ended up. One subscription's failure never appears anywhere
// except its own entry.
type RunSummary struct {
	RunID            string       `json:"run_id"`
	Mode             string       `json:"mode"`
	StartedAt        time.Time    `json:"started_at"`
	FinishedAt       time.Time    `json:"finished_at"`
	Considered       int          `json:"considered"`
	Charged          int          `json:"charged"`
	AlreadyProcessed int          `json:"already_processed"`
	RetriesScheduled int          `json:"retries_scheduled"`
	Cancelled        int          `json:"cancelled"`
	Submitted        int          `json:"submitted"`
	Skipped          int          `json:"skipped"`
	ConfigErrors     int          `json:"config_errors"`
	IntegrityErrors  int          `json:"integrity_errors"`
	Failures         []RunFailure `json:"failures,omitempty"`

	mu sync.Mutex
}

func (s *RunSummary) record(out *ChargeOutcome, err error, subID utils.SixID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Considered++

	if err != nil {
		s.Failures = append(s.Failures, RunFailure{
			SubscriptionID: subID.String(),
			Message:        err.Error(),
		})
		return
	}

	switch out.Outcome {
	case OutcomeCharged:
		s.Charged++
	case OutcomeAlreadyProcessed:
		s.AlreadyProcessed++
	case OutcomeRetryScheduled:
		s.RetriesScheduled++
	case OutcomeCancelled:
		s.Cancelled++
	case OutcomeSubmitted:
		s.Submitted++
	case OutcomeSkipped:
		s.Skipped++
	}
	if out.ConfigError {
		s.ConfigErrors++
		s.Failures = append(s.Failures, RunFailure{
			SubscriptionID: subID.String(),
			InvoiceID:      out.InvoiceID.String(),
			Message:        out.Reason,
			ConfigError:    true,
		})
	}
	if out.IntegrityError {
		s.IntegrityErrors++
	}
}

type workItem struct {
	sub *models.Subscription
	inv *models.Invoice
}

// Coordinator drives billing runs: it selects the work, fans it out over a
// bounded worker pool, and isolates every subscription behind its own lock
// and timeout so one bad record cannot take down the run.
type Coordinator struct {
	cfg      *config.Config
	executor IChargeExecutor
	subs     services.ISubscriptionService
	invoices services.IInvoiceService
	locker   cache.ILocker
}

// NewCoordinator creates a new Coordinator.
func NewCoordinator(cfg *config.Config, executor IChargeExecutor, subs services.ISubscriptionService,
	invoices services.IInvoiceService, locker cache.ILocker) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		executor: executor,
		subs:     subs,
		invoices: invoices,
		locker:   locker,
	}
}

// Run executes one full billing run: first the new-cycle pass over due
// subscriptions, then the dunning pass over invoices whose retry time has
// arrived. The passes are sequential; within a pass, work is concurrent.
// Run never returns an error for individual subscription failures, only for
// being unable to select work at all.
func (c *Coordinator) Run(ctx context.Context) (*RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BillingRunDeadline)
	defer cancel()

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Mode:      "scheduled",
		StartedAt: nowFunc().UTC(),
	}
	today := FormatDate(nowFunc())
	log.Printf("[Billing] run %s starting (billing date %s)", summary.RunID, today)

	due, err := c.subs.FindDue(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("billing run %s could not select due subscriptions: %w", summary.RunID, err)
	}
	newCycle := make([]workItem, 0, len(due))
	for i := range due {
		newCycle = append(newCycle, workItem{sub: &due[i]})
	}
	c.processAll(ctx, newCycle, summary, c.chargeItem)

	retries, err := c.dueRetryItems(ctx, summary)
	if err != nil {
		return nil, fmt.Errorf("billing run %s could not select due retries: %w", summary.RunID, err)
	}
	c.processAll(ctx, retries, summary, c.chargeItem)

	summary.FinishedAt = nowFunc().UTC()
	log.Printf("[Billing] run %s finished: %d considered, %d charged, %d retries scheduled, %d cancelled, %d submitted, %d skipped, %d failures",
		summary.RunID, summary.Considered, summary.Charged, summary.RetriesScheduled,
		summary.Cancelled, summary.Submitted, summary.Skipped, len(summary.Failures))
	return summary, nil
}

// RunSubscription bills a single subscription on demand, regardless of
// whether its billing date has arrived. All idempotency and state checks
// still apply: manually billing an already-billed cycle is a no-op.
func (c *Coordinator) RunSubscription(ctx context.Context, id utils.SixID) (*RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BillingRunDeadline)
	defer cancel()

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Mode:      "manual",
		StartedAt: nowFunc().UTC(),
	}

	sub, err := c.subs.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// A manual run on a subscription in dunning retries its open invoice
	// instead of opening a new cycle.
	var inv *models.Invoice
	existing, err := c.invoices.FindBySubscriptionAndDate(ctx, sub.ID, sub.NextBillingDate)
	if err == nil && existing != nil && existing.Status == models.InvoicePendingRetry {
		inv = existing
	}

	c.processAll(ctx, []workItem{{sub: sub, inv: inv}}, summary, c.chargeItem)

	summary.FinishedAt = nowFunc().UTC()
	return summary, nil
}

// ReconcileSubmitted sweeps invoices parked in the submitted state longer
// than the configured settling window and resolves each against the gateway.
func (c *Coordinator) ReconcileSubmitted(ctx context.Context) (*RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.BillingRunDeadline)
	defer cancel()

	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Mode:      "reconcile",
		StartedAt: nowFunc().UTC(),
	}

	cutoff := nowFunc().UTC().Add(-c.cfg.ReconcileAfter)
	submitted, err := c.invoices.FindSubmittedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("reconcile run %s could not select submitted invoices: %w", summary.RunID, err)
	}

	items := make([]workItem, 0, len(submitted))
	for i := range submitted {
		inv := &submitted[i]
		sub, err := c.subs.FindByID(ctx, inv.SubscriptionID)
		if err != nil {
			summary.record(nil, fmt.Errorf("subscription lookup for invoice %s: %w", inv.ID, err), inv.SubscriptionID)
			continue
		}
		items = append(items, workItem{sub: sub, inv: inv})
	}
	c.processAll(ctx, items, summary, c.reconcileItem)

	summary.FinishedAt = nowFunc().UTC()
	log.Printf("[Billing] reconcile run %s finished: %d considered, %d settled, %d back on retry track, %d still pending",
		summary.RunID, summary.Considered, summary.Charged, summary.RetriesScheduled, summary.Skipped)
	return summary, nil
}

// dueRetryItems pairs each due retry invoice with its subscription. A failed
// subscription lookup is recorded in the summary: the invoice is still owed
// money and operators need to see it slipped the pass.
func (c *Coordinator) dueRetryItems(ctx context.Context, summary *RunSummary) ([]workItem, error) {
	invoices, err := c.invoices.FindDueRetries(ctx, nowFunc().UTC())
	if err != nil {
		return nil, err
	}
	items := make([]workItem, 0, len(invoices))
	for i := range invoices {
		inv := &invoices[i]
		sub, err := c.subs.FindByID(ctx, inv.SubscriptionID)
		if err != nil {
			log.Printf("[Retry] subscription lookup failed for invoice %s: %v", inv.ID, err)
			summary.record(nil, fmt.Errorf("subscription lookup for invoice %s: %w", inv.ID, err), inv.SubscriptionID)
			continue
		}
		items = append(items, workItem{sub: sub, inv: inv})
	}
	return items, nil
}

// processAll fans items out over a bounded worker pool and waits for all of
// them. Worker count comes from config; a pool keeps a large customer base
// from hammering the gateway all at once.
func (c *Coordinator) processAll(ctx context.Context, items []workItem, summary *RunSummary, fn func(context.Context, workItem) (*ChargeOutcome, error)) {
	if len(items) == 0 {
		return
	}
	workers := c.cfg.BillingConcurrency
	if workers < 1 {
		workers = 1
	}

	queue := make(chan workItem)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				c.processOne(ctx, item, summary, fn)
			}
		}()
	}
	for _, item := range items {
		if ctx.Err() != nil {
			// Run deadline hit: leave the rest for the next scheduled run.
			break
		}
		queue <- item
	}
	close(queue)
	wg.Wait()
}

// processOne wraps a single item in its isolation boundary: per-subscription
// lock, per-item timeout, and panic recovery. A panic in one item is recorded
// as that item's failure and nothing more.
func (c *Coordinator) processOne(ctx context.Context, item workItem, summary *RunSummary, fn func(context.Context, workItem) (*ChargeOutcome, error)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Billing] panic while processing subscription %s: %v", item.sub.ID, r)
			summary.record(nil, fmt.Errorf("panic: %v", r), item.sub.ID)
		}
	}()

	itemCtx, cancel := context.WithTimeout(ctx, c.cfg.ChargeTimeout)
	defer cancel()

	release, err := c.locker.Acquire(itemCtx, item.sub.ID.String())
	if err != nil {
		// Another worker or an overlapping run holds this subscription.
		summary.record(&ChargeOutcome{Outcome: OutcomeSkipped, SubscriptionID: item.sub.ID, Reason: "subscription is locked"}, nil, item.sub.ID)
		return
	}
	defer release()

	out, err := fn(itemCtx, item)
	summary.record(out, err, item.sub.ID)
}

func (c *Coordinator) chargeItem(ctx context.Context, item workItem) (*ChargeOutcome, error) {
	return c.executor.ExecuteCharge(ctx, item.sub, item.inv)
}

func (c *Coordinator) reconcileItem(ctx context.Context, item workItem) (*ChargeOutcome, error) {
	return c.executor.Reconcile(ctx, item.sub, item.inv)
}
