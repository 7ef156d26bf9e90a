package entitlement_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

func TestEntitlement_AccessWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)

	ent := &entitlement.Entitlement{
		UserID:     uuid.New(),
		Tier:       entitlement.TierPremium,
		ValidFrom:  &now,
		ValidUntil: &end,
		UpdatedAt:  now,
	}

	assert.True(t, ent.HasPremiumAccessAt(now))
	assert.True(t, ent.HasPremiumAccessAt(end.Add(-time.Second)))
	assert.False(t, ent.HasPremiumAccessAt(end), "access ends at the boundary")
	assert.False(t, ent.HasPremiumAccessAt(end.Add(time.Second)))

	assert.False(t, ent.IsExpiredAt(now))
	assert.False(t, ent.IsExpiredAt(end), "not expired exactly at the boundary")
	assert.True(t, ent.IsExpiredAt(end.Add(time.Second)))
}

func TestEntitlement_FreeTier(t *testing.T) {
	t.Parallel()

	ent := entitlement.NewFreeEntitlement(uuid.New(), time.Now())

	assert.Equal(t, entitlement.TierFree, ent.Tier)
	assert.Nil(t, ent.ValidUntil)
	assert.False(t, ent.HasPremiumAccess())
	assert.False(t, ent.IsExpiredAt(time.Now().AddDate(10, 0, 0)), "free never expires")

	var nilEnt *entitlement.Entitlement
	assert.False(t, nilEnt.HasPremiumAccess())
	assert.False(t, nilEnt.IsExpiredAt(time.Now()))
	assert.Nil(t, nilEnt.Clone())
}

func TestEntitlement_CloneIsolation(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	end := now.AddDate(0, 1, 0)
	ent := &entitlement.Entitlement{
		UserID:     uuid.New(),
		Tier:       entitlement.TierPremium,
		ValidUntil: &end,
		UpdatedAt:  now,
	}

	clone := ent.Clone()
	moved := end.AddDate(1, 0, 0)
	clone.ValidUntil = &moved

	assert.Equal(t, end, *ent.ValidUntil)
}

func TestUsageLedger_CanGenerate(t *testing.T) {
	t.Parallel()

	var nilLedger *entitlement.UsageLedger
	assert.False(t, nilLedger.CanGenerate())

	free := entitlement.NewFreeLedger(uuid.New(), time.Now())
	assert.False(t, free.CanGenerate())
	assert.Equal(t, entitlement.FreeDraftAllowance, free.FreeDraftsRemaining)

	end := time.Now().AddDate(0, 1, 0)
	paid := entitlement.NewPremiumLedger(uuid.New(), 2000, &end, time.Now())
	assert.True(t, paid.CanGenerate())
	assert.Equal(t, int64(2000), paid.AICreditsRemaining)
	assert.Zero(t, paid.FreeDraftsRemaining)
}

func TestTier(t *testing.T) {
	t.Parallel()

	assert.True(t, entitlement.TierPremium.IsPaid())
	assert.True(t, entitlement.TierEnterprise.IsPaid())
	assert.False(t, entitlement.TierFree.IsPaid())

	assert.True(t, entitlement.TierFree.Valid())
	assert.False(t, entitlement.Tier("PLATINUM").Valid())
}
