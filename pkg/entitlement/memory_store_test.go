package entitlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

func TestMemoryStore_EnsureEntitlementIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()

	first, err := store.EnsureEntitlement(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, first.Tier)

	usage, err := store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.FreeDraftAllowance, usage.FreeDraftsRemaining)
	assert.Zero(t, usage.AICreditsRemaining)

	second, err := store.EnsureEntitlement(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.Tier, second.Tier)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
}

func TestMemoryStore_ApplyOutcomeGreatestWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	far := now.AddDate(0, 2, 0)
	near := now.AddDate(0, 1, 0)

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID: userID,
		Entitlement: &entitlement.Entitlement{
			UserID:     userID,
			Tier:       entitlement.TierPremium,
			ValidUntil: &far,
			UpdatedAt:  now,
		},
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    2000,
	}))

	// A stale write with an earlier expiry must not shrink the grant.
	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID: userID,
		Entitlement: &entitlement.Entitlement{
			UserID:     userID,
			Tier:       entitlement.TierPremium,
			ValidUntil: &near,
			UpdatedAt:  now,
		},
		UsageEffect: entitlement.UsageUnchanged,
	}))

	ent, err := store.GetEntitlement(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, far, *ent.ValidUntil)
}

func TestMemoryStore_BoundedRefillPreservesSpending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID:      userID,
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    2000,
		RefillAt:    &end,
	}))

	_, err := store.DeductCredits(ctx, userID, 500)
	require.NoError(t, err)

	// A replayed renewal tops up but never exceeds the limit.
	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID:      userID,
		UsageEffect: entitlement.UsageRefillBounded,
		NewLimit:    2000,
		RefillAt:    &end,
	}))

	usage, err := store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), usage.AICreditsRemaining)

	// And once capped, further replays change nothing.
	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID:      userID,
		UsageEffect: entitlement.UsageRefillBounded,
		NewLimit:    2000,
		RefillAt:    &end,
	}))
	usage, err = store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), usage.AICreditsRemaining)
}

func TestMemoryStore_DeductCredits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID:      userID,
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    100,
	}))

	remaining, err := store.DeductCredits(ctx, userID, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(70), remaining)

	// Deducting more than the balance fails without side effects.
	remaining, err = store.DeductCredits(ctx, userID, 71)
	require.ErrorIs(t, err, entitlement.ErrInsufficientCredits)
	assert.Equal(t, int64(70), remaining)

	usage, err := store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), usage.AICreditsRemaining)

	_, err = store.DeductCredits(ctx, userID, 0)
	require.ErrorIs(t, err, entitlement.ErrInvalidCreditAmount)

	_, err = store.DeductCredits(ctx, uuid.New(), 10)
	require.ErrorIs(t, err, entitlement.ErrUsageNotFound)
}

func TestMemoryStore_RefillCreditsCapped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID:      userID,
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    100,
	}))
	_, err := store.DeductCredits(ctx, userID, 90)
	require.NoError(t, err)

	balance, err := store.RefillCredits(ctx, userID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)
}

func TestMemoryStore_DowngradeExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID: userID,
		Entitlement: &entitlement.Entitlement{
			UserID:     userID,
			Tier:       entitlement.TierPremium,
			ValidUntil: &past,
			UpdatedAt:  past,
		},
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    2000,
	}))

	expired, err := store.ListExpired(ctx, now, 10)
	require.NoError(t, err)
	require.Contains(t, expired, userID)

	downgraded, err := store.DowngradeExpired(ctx, userID, now)
	require.NoError(t, err)
	assert.True(t, downgraded)

	ent, err := store.GetEntitlement(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierFree, ent.Tier)

	usage, err := store.GetUsage(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, usage.AICreditsRemaining)
	assert.Equal(t, entitlement.FreeDraftAllowance, usage.FreeDraftsRemaining)
}

func TestMemoryStore_DowngradeSkipsRenewed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	userID := uuid.New()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 1, 0)

	require.NoError(t, store.ApplyOutcome(ctx, &entitlement.Outcome{
		UserID: userID,
		Entitlement: &entitlement.Entitlement{
			UserID:     userID,
			Tier:       entitlement.TierPremium,
			ValidUntil: &future,
			UpdatedAt:  now,
		},
		UsageEffect: entitlement.UsageRefillFull,
		NewLimit:    2000,
	}))

	// The entitlement was renewed between selection and write: no downgrade.
	downgraded, err := store.DowngradeExpired(ctx, userID, now)
	require.NoError(t, err)
	assert.False(t, downgraded)

	ent, err := store.GetEntitlement(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.TierPremium, ent.Tier)
}
