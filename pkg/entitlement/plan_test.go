package entitlement_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

func TestDefaultPlans(t *testing.T) {
	t.Parallel()

	plans := entitlement.DefaultPlans()

	assert.Equal(t, int64(0), plans[entitlement.TierFree].MonthlyAICredits)
	assert.Equal(t, entitlement.FreeDraftAllowance, plans[entitlement.TierFree].FreeDrafts)
	assert.Equal(t, int64(2000), plans[entitlement.TierPremium].MonthlyAICredits)
	assert.Equal(t, int64(10000), plans[entitlement.TierEnterprise].MonthlyAICredits)
}

func TestInMemPlanSource_Isolation(t *testing.T) {
	t.Parallel()

	plans := entitlement.DefaultPlans()
	src := entitlement.NewInMemPlanSource(plans)

	// Mutating the input after construction must not leak into the source.
	mutated := plans[entitlement.TierPremium]
	mutated.MonthlyAICredits = 1
	plans[entitlement.TierPremium] = mutated

	loaded, err := src.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2000), loaded[entitlement.TierPremium].MonthlyAICredits)
}

func TestYAMLPlanSource_Load(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "plans.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - tier: FREE
    monthly_ai_credits: 0
    free_drafts: 2
  - tier: PREMIUM
    monthly_ai_credits: 2000
    price_ids: [pri_premium_monthly, pri_premium_annual]
  - tier: ENTERPRISE
    monthly_ai_credits: 10000
    price_ids: [pri_enterprise]
`), 0o600))

	plans, err := entitlement.NewYAMLPlanSource(path).Load(context.Background())
	require.NoError(t, err)

	require.Len(t, plans, 3)
	assert.Equal(t, int64(2000), plans[entitlement.TierPremium].MonthlyAICredits)
	assert.Equal(t, []string{"pri_premium_monthly", "pri_premium_annual"}, plans[entitlement.TierPremium].PriceIDs)

	resolver := entitlement.TierResolverFromPlans(plans)
	tier, ok := resolver("pri_enterprise")
	require.True(t, ok)
	assert.Equal(t, entitlement.TierEnterprise, tier)

	_, ok = resolver("pri_unknown")
	assert.False(t, ok)
}

func TestYAMLPlanSource_Errors(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := entitlement.NewYAMLPlanSource("/nonexistent/plans.yml").Load(context.Background())
		require.ErrorIs(t, err, entitlement.ErrFailedToLoadPlans)
	})

	t.Run("duplicate tier", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "plans.yml")
		require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - tier: PREMIUM
    monthly_ai_credits: 2000
  - tier: PREMIUM
    monthly_ai_credits: 3000
`), 0o600))

		_, err := entitlement.NewYAMLPlanSource(path).Load(context.Background())
		require.ErrorIs(t, err, entitlement.ErrInvalidPlanConfiguration)
	})
}

func TestNewReconciler_RejectsInvalidCatalog(t *testing.T) {
	t.Parallel()

	t.Run("unknown tier", func(t *testing.T) {
		t.Parallel()

		plans := entitlement.DefaultPlans()
		plans["PLATINUM"] = entitlement.Plan{Tier: "PLATINUM", MonthlyAICredits: 1}

		_, err := entitlement.NewReconciler(plans)
		require.ErrorIs(t, err, entitlement.ErrInvalidPlanConfiguration)
	})

	t.Run("negative credits", func(t *testing.T) {
		t.Parallel()

		plans := entitlement.DefaultPlans()
		p := plans[entitlement.TierPremium]
		p.MonthlyAICredits = -1
		plans[entitlement.TierPremium] = p

		_, err := entitlement.NewReconciler(plans)
		require.ErrorIs(t, err, entitlement.ErrInvalidPlanConfiguration)
	})

	t.Run("missing tier", func(t *testing.T) {
		t.Parallel()

		plans := entitlement.DefaultPlans()
		delete(plans, entitlement.TierEnterprise)

		_, err := entitlement.NewReconciler(plans)
		require.ErrorIs(t, err, entitlement.ErrInvalidPlanConfiguration)
	})
}
