package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/mhol1961/waggin-meals-sub004/internal/billing"
	"github.com/mhol1961/waggin-meals-sub004/internal/config"
	"github.com/mhol1961/waggin-meals-sub004/internal/email"
	"github.com/mhol1961/waggin-meals-sub004/internal/notify"
	"github.com/mhol1961/waggin-meals-sub004/internal/services"
)

// TaskType defines the type of a background task.
const (
	TypeBillingRun = "billing:run"
	TypeReconcile  = "billing:reconcile"
	// Notification emails use notify.TypeNotificationEmail; the constant lives
	// there so the dispatcher can enqueue without importing this package.
)

// IBillingRunner is the slice of the billing coordinator the task handlers use.
type IBillingRunner interface {
	Run(ctx context.Context) (*billing.RunSummary, error)
	ReconcileSubmitted(ctx context.Context) (*billing.RunSummary, error)
}

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg                  *config.Config
	emailSender          email.Sender
	emailTemplateService services.IEmailTemplateService
	runner               IBillingRunner
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	emailTemplateService services.IEmailTemplateService,
	runner IBillingRunner,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:                  cfg,
		emailSender:          emailSender,
		emailTemplateService: emailTemplateService,
		runner:               runner,
	}
}

// SetupServer configures and starts an Asynq server instance. The caller owns
// shutdown via srv.Shutdown().
func SetupServer(rdb *redis.Client, processor *TaskProcessor) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr: rdb.Options().Addr,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				fmt.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v\n", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(notify.TypeNotificationEmail, processor.HandleEmailDeliveryTask)
	mux.HandleFunc(TypeBillingRun, processor.HandleBillingRunTask)
	mux.HandleFunc(TypeReconcile, processor.HandleReconcileTask)
	fmt.Println("Registered background task handlers (billing, reconcile, email).")

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	return srv
}

// SetupScheduler returns a scheduler that fires the recurring billing work:
// the daily billing run and the hourly reconciliation sweep. The HTTP cron
// endpoints remain available for externally triggered runs.
func SetupScheduler(rdb *redis.Client) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: rdb.Options().Addr},
		&asynq.SchedulerOpts{Location: time.UTC},
	)

	if _, err := scheduler.Register("0 6 * * *", asynq.NewTask(TypeBillingRun, nil), asynq.Queue("critical")); err != nil {
		return nil, fmt.Errorf("failed to register billing run schedule: %w", err)
	}
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(TypeReconcile, nil)); err != nil {
		return nil, fmt.Errorf("failed to register reconcile schedule: %w", err)
	}
	return scheduler, nil
}

// --- Task Handlers ---

// HandleBillingRunTask executes one full billing run. The run isolates
// per-subscription failures itself, so an error here means the run could not
// start at all and is worth retrying.
func (p *TaskProcessor) HandleBillingRunTask(ctx context.Context, t *asynq.Task) error {
	summary, err := p.runner.Run(ctx)
	if err != nil {
		log.Printf("[Billing] scheduled run failed to start: %v", err)
		return err
	}
	if len(summary.Failures) > 0 {
		log.Printf("[Billing] run %s completed with %d per-subscription failures", summary.RunID, len(summary.Failures))
	}
	return nil
}

// HandleReconcileTask resolves invoices parked with unknown gateway outcomes.
func (p *TaskProcessor) HandleReconcileTask(ctx context.Context, t *asynq.Task) error {
	summary, err := p.runner.ReconcileSubmitted(ctx)
	if err != nil {
		log.Printf("[Billing] reconcile sweep failed to start: %v", err)
		return err
	}
	log.Printf("[Billing] reconcile run %s considered %d invoices", summary.RunID, summary.Considered)
	return nil
}

// HandleEmailDeliveryTask renders a notification template and sends it.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload notify.EmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	fmt.Printf("Sending email task: To=%s, Template=%s\n", payload.To, payload.TemplateID)

	locale := payload.Locale
	if locale == "" {
		locale = "en-US"
	}

	tmpl, err := p.emailTemplateService.GetTemplate(ctx, payload.TemplateID, locale)
	if err != nil {
		log.Printf("Error getting email template %s/%s: %v", payload.TemplateID, locale, err)
		// Non-retryable if template not found
		return fmt.Errorf("email template not found: %w", asynq.SkipRetry)
	}

	// Simple placeholder replacement (replace {{.key}})
	subjectRendered := tmpl.Subject
	bodyRendered := tmpl.Body
	for key, val := range payload.Data {
		placeholder := fmt.Sprintf("{{.%s}}", key)
		valueStr := fmt.Sprintf("%v", val)
		subjectRendered = strings.ReplaceAll(subjectRendered, placeholder, valueStr)
		bodyRendered = strings.ReplaceAll(bodyRendered, placeholder, valueStr)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	// Basic email structure with essential headers.
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", subjectRendered))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(bodyRendered)
	sb.WriteString("\r\n")

	rawMessage := []byte(sb.String())

	if err := p.emailSender.Send(ctx, []string{payload.To}, subjectRendered, rawMessage); err != nil {
		fmt.Printf("Email sending failed (will retry?): %v\n", err)
		return err
	}

	fmt.Printf("Email task processed successfully: To=%s, Template=%s\n", payload.To, payload.TemplateID)
	return nil
}
