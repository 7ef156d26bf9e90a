package entitlement_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// mockProvider is a mock implementation of entitlement.Provider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*entitlement.Event, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Event), args.Error(1)
}

func (m *mockProvider) FetchSubscription(ctx context.Context, providerSubID string) (*entitlement.Event, error) {
	args := m.Called(ctx, providerSubID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Event), args.Error(1)
}

// mockStore is a mock implementation of entitlement.Store for failure
// injection. Happy-path tests use the in-memory store instead.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*entitlement.Entitlement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Entitlement), args.Error(1)
}

func (m *mockStore) GetEntitlement(ctx context.Context, userID uuid.UUID) (*entitlement.Entitlement, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.Entitlement), args.Error(1)
}

func (m *mockStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*entitlement.SubscriptionRecord, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.SubscriptionRecord), args.Error(1)
}

func (m *mockStore) GetUsage(ctx context.Context, userID uuid.UUID) (*entitlement.UsageLedger, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entitlement.UsageLedger), args.Error(1)
}

func (m *mockStore) ApplyOutcome(ctx context.Context, out *entitlement.Outcome) error {
	args := m.Called(ctx, out)
	return args.Error(0)
}

func (m *mockStore) DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	args := m.Called(ctx, userID, amount)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *mockStore) DowngradeExpired(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	args := m.Called(ctx, userID, now)
	return args.Bool(0), args.Error(1)
}
