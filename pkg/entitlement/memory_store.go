package entitlement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore is an in-memory Store used in tests and single-node setups.
// One mutex guards all three maps, which trivially gives every operation the
// atomicity the Store contract demands.
type memoryStore struct {
	mu            sync.Mutex
	entitlements  map[uuid.UUID]*Entitlement
	subscriptions map[uuid.UUID]*SubscriptionRecord
	usage         map[uuid.UUID]*UsageLedger
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		entitlements:  make(map[uuid.UUID]*Entitlement),
		subscriptions: make(map[uuid.UUID]*SubscriptionRecord),
		usage:         make(map[uuid.UUID]*UsageLedger),
	}
}

func (s *memoryStore) EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entitlements[userID]; ok {
		return ent.Clone(), nil
	}
	now := time.Now().UTC()
	ent := NewFreeEntitlement(userID, now)
	s.entitlements[userID] = ent
	if _, ok := s.usage[userID]; !ok {
		s.usage[userID] = NewFreeLedger(userID, now)
	}
	return ent.Clone(), nil
}

func (s *memoryStore) GetEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entitlements[userID]
	if !ok {
		return nil, ErrEntitlementNotFound
	}
	return ent.Clone(), nil
}

func (s *memoryStore) GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[userID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *memoryStore) GetUsage(ctx context.Context, userID uuid.UUID) (*UsageLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[userID]
	if !ok {
		return nil, ErrUsageNotFound
	}
	return u.Clone(), nil
}

func (s *memoryStore) ApplyOutcome(ctx context.Context, out *Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	if out.Subscription != nil {
		s.subscriptions[out.UserID] = out.Subscription.Clone()
	}

	if out.Entitlement != nil {
		next := out.Entitlement.Clone()
		// Greatest-wins merge guards against a stale writer shrinking the
		// grant even if the caller skipped the per-user lock.
		if cur, ok := s.entitlements[out.UserID]; ok && cur.ValidUntil != nil {
			if next.ValidUntil == nil || cur.ValidUntil.After(*next.ValidUntil) {
				next.ValidUntil = cloneTime(cur.ValidUntil)
			}
		}
		s.entitlements[out.UserID] = next
	}

	switch out.UsageEffect {
	case UsageUnchanged:
	case UsageInitFree:
		s.usage[out.UserID] = NewFreeLedger(out.UserID, now)
	case UsageRefillFull:
		s.usage[out.UserID] = NewPremiumLedger(out.UserID, out.NewLimit, out.RefillAt, now)
	case UsageRefillBounded:
		cur, ok := s.usage[out.UserID]
		if !ok {
			s.usage[out.UserID] = NewPremiumLedger(out.UserID, out.NewLimit, out.RefillAt, now)
			break
		}
		next := cur.Clone()
		next.MonthlyLimit = out.NewLimit
		next.AICreditsRemaining = min(next.AICreditsRemaining+out.NewLimit, out.NewLimit)
		next.RefillAt = cloneTime(out.RefillAt)
		next.UpdatedAt = now
		s.usage[out.UserID] = next
	}

	return nil
}

func (s *memoryStore) DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidCreditAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[userID]
	if !ok {
		return 0, ErrUsageNotFound
	}
	if u.AICreditsRemaining < amount {
		return u.AICreditsRemaining, ErrInsufficientCredits
	}
	u.AICreditsRemaining -= amount
	u.UpdatedAt = time.Now().UTC()
	return u.AICreditsRemaining, nil
}

func (s *memoryStore) RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidCreditAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usage[userID]
	if !ok {
		return 0, ErrUsageNotFound
	}
	u.AICreditsRemaining = min(u.AICreditsRemaining+amount, u.MonthlyLimit)
	u.UpdatedAt = time.Now().UTC()
	return u.AICreditsRemaining, nil
}

func (s *memoryStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []uuid.UUID
	for id, ent := range s.entitlements {
		if ent.IsExpiredAt(now) {
			out = append(out, id)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memoryStore) DowngradeExpired(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entitlements[userID]
	// Re-check expiry at write time: a renewal that landed after selection
	// must win over the sweep.
	if !ok || !ent.IsExpiredAt(now) {
		return false, nil
	}

	next := NewFreeEntitlement(userID, now.UTC())
	s.entitlements[userID] = next
	s.usage[userID] = NewFreeLedger(userID, now.UTC())
	return true, nil
}
