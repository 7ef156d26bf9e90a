package entitlement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Plan describes the credit allowances of a tier and the provider price IDs
// that map onto it during webhook processing.
type Plan struct {
	Tier             Tier     `yaml:"tier"`
	MonthlyAICredits int64    `yaml:"monthly_ai_credits"`
	FreeDrafts       int64    `yaml:"free_drafts"`
	PriceIDs         []string `yaml:"price_ids"`
}

// PlanSource defines how the tier catalog is loaded into the service.
type PlanSource interface {
	Load(ctx context.Context) (map[Tier]Plan, error)
}

// DefaultPlans returns the built-in tier catalog used when no external
// source is configured.
func DefaultPlans() map[Tier]Plan {
	return map[Tier]Plan{
		TierFree:       {Tier: TierFree, MonthlyAICredits: 0, FreeDrafts: FreeDraftAllowance},
		TierPremium:    {Tier: TierPremium, MonthlyAICredits: 2000},
		TierEnterprise: {Tier: TierEnterprise, MonthlyAICredits: 10000},
	}
}

// inMemPlanSource implements PlanSource using a static plan map.
type inMemPlanSource struct {
	mu    sync.RWMutex
	plans map[Tier]Plan
}

// NewInMemPlanSource returns an in-memory PlanSource with a deep copy of the
// given plans.
func NewInMemPlanSource(plans map[Tier]Plan) PlanSource {
	return &inMemPlanSource{plans: clonePlans(plans)}
}

func (s *inMemPlanSource) Load(ctx context.Context) (map[Tier]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePlans(s.plans), nil
}

// yamlPlanSource loads the catalog from a YAML file.
type yamlPlanSource struct {
	path string
}

// NewYAMLPlanSource returns a PlanSource that reads the catalog from the
// given file on every Load call, so a restart picks up catalog changes.
func NewYAMLPlanSource(path string) PlanSource {
	return &yamlPlanSource{path: path}
}

func (s *yamlPlanSource) Load(ctx context.Context) (map[Tier]Plan, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	var file struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	plans := make(map[Tier]Plan, len(file.Plans))
	for _, p := range file.Plans {
		if _, dup := plans[p.Tier]; dup {
			return nil, errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("duplicate plan for tier %s", p.Tier))
		}
		plans[p.Tier] = p
	}
	return plans, nil
}

// validatePlans ensures the catalog is internally consistent. Catches
// configuration mistakes at startup rather than during webhook processing.
func validatePlans(plans map[Tier]Plan) error {
	for tier, plan := range plans {
		if !tier.Valid() {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("unknown tier %q", tier))
		}
		if plan.Tier != tier {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("tier mismatch: map key %s != plan.Tier %s", tier, plan.Tier))
		}
		if plan.MonthlyAICredits < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative credit limit: %d", tier, plan.MonthlyAICredits))
		}
		if plan.FreeDrafts < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative free-draft allowance: %d", tier, plan.FreeDrafts))
		}
	}
	for _, tier := range []Tier{TierFree, TierPremium, TierEnterprise} {
		if _, ok := plans[tier]; !ok {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("catalog is missing tier %s", tier))
		}
	}
	return nil
}

// tierForPriceID resolves a provider price ID to a tier. Used when a webhook
// payload carries no explicit tier in its metadata.
func tierForPriceID(plans map[Tier]Plan, priceID string) (Tier, bool) {
	if priceID == "" {
		return "", false
	}
	for tier, plan := range plans {
		if slices.Contains(plan.PriceIDs, priceID) {
			return tier, true
		}
	}
	return "", false
}

// TierResolverFromPlans builds a TierResolver over a plan catalog, for wiring
// a provider whose payloads identify plans by price ID only.
func TierResolverFromPlans(plans map[Tier]Plan) TierResolver {
	plans = clonePlans(plans)
	return func(priceID string) (Tier, bool) {
		return tierForPriceID(plans, priceID)
	}
}

func clonePlans(plans map[Tier]Plan) map[Tier]Plan {
	out := make(map[Tier]Plan, len(plans))
	for tier, plan := range plans {
		plan.PriceIDs = slices.Clone(plan.PriceIDs)
		out[tier] = plan
	}
	return out
}
