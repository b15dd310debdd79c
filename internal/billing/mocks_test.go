package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/mhol1961/waggin-meals-sub004/internal/gateway"
	"github.com/mhol1961/waggin-meals-sub004/internal/models"
	"github.com/mhol1961/waggin-meals-sub004/internal/notify"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// --- Mocks ---

// MockSubscriptionService
type MockSubscriptionService struct {
	mock.Mock
}

func (m *MockSubscriptionService) FindByID(ctx context.Context, id utils.SixID) (*models.Subscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *MockSubscriptionService) FindDue(ctx context.Context, today string) ([]models.Subscription, error) {
	args := m.Called(ctx, today)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Subscription), args.Error(1)
}

func (m *MockSubscriptionService) RecordSuccessfulCharge(ctx context.Context, id utils.SixID, lastBillingDate, nextBillingDate string) error {
	args := m.Called(ctx, id, lastBillingDate, nextBillingDate)
	return args.Error(0)
}

func (m *MockSubscriptionService) SetStatus(ctx context.Context, id utils.SixID, from, to models.SubscriptionStatus) error {
	args := m.Called(ctx, id, from, to)
	return args.Error(0)
}

func (m *MockSubscriptionService) Cancel(ctx context.Context, id utils.SixID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockSubscriptionService) GetPaymentMethod(ctx context.Context, id utils.SixID) (*models.PaymentMethod, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentMethod), args.Error(1)
}

// MockInvoiceService
type MockInvoiceService struct {
	mock.Mock
}

func (m *MockInvoiceService) FindByID(ctx context.Context, id utils.SixID) (*models.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) FindBySubscriptionAndDate(ctx context.Context, subscriptionID utils.SixID, billingDate string) (*models.Invoice, error) {
	args := m.Called(ctx, subscriptionID, billingDate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) Create(ctx context.Context, invoice *models.Invoice) error {
	args := m.Called(ctx, invoice)
	return args.Error(0)
}

func (m *MockInvoiceService) RecordAttempt(ctx context.Context, id utils.SixID, attempt int, at time.Time) error {
	args := m.Called(ctx, id, attempt, at)
	return args.Error(0)
}

func (m *MockInvoiceService) MarkPaid(ctx context.Context, id utils.SixID, transactionID string, at time.Time) error {
	args := m.Called(ctx, id, transactionID, at)
	return args.Error(0)
}

func (m *MockInvoiceService) ScheduleRetry(ctx context.Context, id utils.SixID, nextRetryAt time.Time) error {
	args := m.Called(ctx, id, nextRetryAt)
	return args.Error(0)
}

func (m *MockInvoiceService) MarkSubmitted(ctx context.Context, id utils.SixID, nextRetryAt *time.Time) error {
	args := m.Called(ctx, id, nextRetryAt)
	return args.Error(0)
}

func (m *MockInvoiceService) MarkFailed(ctx context.Context, id utils.SixID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockInvoiceService) LinkOrder(ctx context.Context, invoiceID, orderID utils.SixID) (bool, error) {
	args := m.Called(ctx, invoiceID, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockInvoiceService) FindDueRetries(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Invoice), args.Error(1)
}

func (m *MockInvoiceService) FindSubmittedBefore(ctx context.Context, cutoff time.Time) ([]models.Invoice, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Invoice), args.Error(1)
}

// MockOrderService
type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) SynthesizeOrder(ctx context.Context, sub *models.Subscription, invoice *models.Invoice, transactionID string) (*models.Order, error) {
	args := m.Called(ctx, sub, invoice, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

// MockHistoryService
type MockHistoryService struct {
	mock.Mock
}

func (m *MockHistoryService) Append(ctx context.Context, entry *models.HistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// MockCustomerService
type MockCustomerService struct {
	mock.Mock
}

func (m *MockCustomerService) FindByID(ctx context.Context, id utils.SixID) (*models.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Customer), args.Error(1)
}

// MockGatewayClient
type MockGatewayClient struct {
	mock.Mock
}

func (m *MockGatewayClient) Charge(ctx context.Context, req *gateway.ChargeRequest) (*gateway.ChargeResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.ChargeResult), args.Error(1)
}

func (m *MockGatewayClient) TransactionStatus(ctx context.Context, ref string) (gateway.TransactionState, string, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(gateway.TransactionState), args.String(1), args.Error(2)
}

// MockDispatcher
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) PaymentSucceeded(ctx context.Context, ev *notify.PaymentSucceededEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockDispatcher) PaymentFailed(ctx context.Context, ev *notify.PaymentFailedEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockDispatcher) SubscriptionCancelled(ctx context.Context, ev *notify.SubscriptionCancelledEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

// MockChargeExecutor
type MockChargeExecutor struct {
	mock.Mock
}

func (m *MockChargeExecutor) ExecuteCharge(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error) {
	args := m.Called(ctx, sub, inv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeOutcome), args.Error(1)
}

func (m *MockChargeExecutor) Reconcile(ctx context.Context, sub *models.Subscription, inv *models.Invoice) (*ChargeOutcome, error) {
	args := m.Called(ctx, sub, inv)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChargeOutcome), args.Error(1)
}

// fakeLocker hands out no-op releases and records which keys were locked.
type fakeLocker struct {
	mu     sync.Mutex
	locked []string
	busy   map[string]bool
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy[key] {
		return nil, errors.New("lock is held")
	}
	f.locked = append(f.locked, key)
	return func() {}, nil
}
