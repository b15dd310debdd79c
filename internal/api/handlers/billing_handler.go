package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"

	"github.com/mhol1961/waggin-meals-sub004/internal/billing"
	"github.com/mhol1961/waggin-meals-sub004/internal/config"
	"github.com/mhol1961/waggin-meals-sub004/internal/tasks"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// IBillingCoordinator is the slice of the billing coordinator the HTTP layer uses.
type IBillingCoordinator interface {
	Run(ctx context.Context) (*billing.RunSummary, error)
	RunSubscription(ctx context.Context, id utils.SixID) (*billing.RunSummary, error)
	ReconcileSubmitted(ctx context.Context) (*billing.RunSummary, error)
}

// IAsynqClient abstracts the asynq client for testability.
type IAsynqClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// BillingHandler exposes billing runs over HTTP for the external scheduler
// and store staff.
type BillingHandler struct {
	cfg         *config.Config
	coordinator IBillingCoordinator
	taskClient  IAsynqClient
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(cfg *config.Config, coordinator IBillingCoordinator, taskClient IAsynqClient) *BillingHandler {
	return &BillingHandler{
		cfg:         cfg,
		coordinator: coordinator,
		taskClient:  taskClient,
	}
}

// RunBilling triggers a billing run. With ?async=1 the run is enqueued onto
// the background queue and 202 returned immediately; otherwise the handler
// blocks and returns the full run summary. The X-Manual-Subscription-ID
// header restricts the run to a single subscription.
func (h *BillingHandler) RunBilling(c *gin.Context) {
	if manualID := c.GetHeader("X-Manual-Subscription-ID"); manualID != "" {
		id, err := utils.ParseSixID(manualID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription id"})
			return
		}
		summary, err := h.coordinator.RunSubscription(c.Request.Context(), id)
		if err != nil {
			log.Printf("[Billing] manual run for %s failed: %v", manualID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}

	if c.Query("async") == "1" {
		if h.taskClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Background queue is not available"})
			return
		}
		info, err := h.taskClient.EnqueueContext(c.Request.Context(), asynq.NewTask(tasks.TypeBillingRun, nil), asynq.Queue("critical"))
		if err != nil {
			log.Printf("[Billing] failed to enqueue billing run: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue billing run"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": info.ID})
		return
	}

	summary, err := h.coordinator.Run(c.Request.Context())
	if err != nil {
		log.Printf("[Billing] run failed to start: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Reconcile sweeps submitted invoices against the gateway.
func (h *BillingHandler) Reconcile(c *gin.Context) {
	summary, err := h.coordinator.ReconcileSubmitted(c.Request.Context())
	if err != nil {
		log.Printf("[Billing] reconcile failed to start: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// BillSubscription lets store staff bill one subscription immediately.
func (h *BillingHandler) BillSubscription(c *gin.Context) {
	id, err := utils.ParseSixID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription id"})
		return
	}

	summary, err := h.coordinator.RunSubscription(c.Request.Context(), id)
	if err != nil {
		log.Printf("[Billing] admin run for %s failed: %v", c.Param("id"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
