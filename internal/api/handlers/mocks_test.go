package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/mhol1961/waggin-meals-sub004/internal/billing"
	"github.com/mhol1961/waggin-meals-sub004/internal/utils"
)

// --- Mocks ---

// MockBillingCoordinator
type MockBillingCoordinator struct {
	mock.Mock
}

func (m *MockBillingCoordinator) Run(ctx context.Context) (*billing.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RunSummary), args.Error(1)
}

func (m *MockBillingCoordinator) RunSubscription(ctx context.Context, id utils.SixID) (*billing.RunSummary, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RunSummary), args.Error(1)
}

func (m *MockBillingCoordinator) ReconcileSubmitted(ctx context.Context) (*billing.RunSummary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*billing.RunSummary), args.Error(1)
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
