package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// UsageEffect describes what should happen to the usage ledger as part of
// persisting a reconciliation outcome.
type UsageEffect string

const (
	// UsageUnchanged leaves the ledger as it is.
	UsageUnchanged UsageEffect = "unchanged"
	// UsageInitFree resets the ledger to the free-tier allowance.
	UsageInitFree UsageEffect = "init_free"
	// UsageRefillFull replaces the ledger with a full balance for the new
	// tier. Applied on fresh activations and tier changes.
	UsageRefillFull UsageEffect = "refill_full"
	// UsageRefillBounded tops the existing balance up, capped at the monthly
	// limit. Applied on same-tier renewals so mid-cycle spending is not
	// erased by redelivered renewal events.
	UsageRefillBounded UsageEffect = "refill_bounded"
)

// State is the current durable state of one user, as read under the per-user
// critical section. Any of the three records may be nil for a user the
// engine has not seen yet.
type State struct {
	Entitlement  *Entitlement
	Subscription *SubscriptionRecord
	Usage        *UsageLedger
}

// Outcome is the next durable state produced by reconciling one event. Nil
// fields mean "leave that record untouched". The three non-nil parts must be
// persisted as a single atomic unit.
type Outcome struct {
	UserID       uuid.UUID
	Entitlement  *Entitlement
	Subscription *SubscriptionRecord
	UsageEffect  UsageEffect
	// NewLimit is the monthly credit limit accompanying a refill effect.
	NewLimit int64
	// RefillAt propagates the next period boundary into the ledger.
	RefillAt *time.Time
	// StatusKnown is false when the provider status did not appear in the
	// mapping table and fell through to pending. The caller logs it.
	StatusKnown bool
	// Status is the collapsed provider status the outcome was derived from.
	Status SubscriptionStatus
}

// Reconciler turns (current state, inbound event) into the next state. It is
// pure: the only clock it sees is the `now` argument, used solely for
// timestamping, and it performs no I/O. Determinism is what makes webhook
// redelivery safe — replaying an identical event produces an identical
// outcome.
type Reconciler struct {
	plans map[Tier]Plan
}

// NewReconciler builds a reconciler over a validated tier catalog.
func NewReconciler(plans map[Tier]Plan) (*Reconciler, error) {
	if err := validatePlans(plans); err != nil {
		return nil, err
	}
	return &Reconciler{plans: clonePlans(plans)}, nil
}

// Reconcile applies one event to the user's current state.
//
// The merge rule for active events is the heart of the engine: the next
// ValidUntil is the maximum of the current value and the event's period end.
// Repeated, reordered or duplicated events therefore converge to the same
// state regardless of delivery order, and paid time is never silently
// reduced.
func (r *Reconciler) Reconcile(now time.Time, cur State, ev Event) (Outcome, error) {
	now = now.UTC()
	status, known := MapProviderStatus(ev.ProviderStatus)

	out := Outcome{
		UserID:      ev.UserID,
		UsageEffect: UsageUnchanged,
		StatusKnown: known,
		Status:      status,
	}

	switch status {
	case StatusActive:
		// A grant derives from a provider-reported paid period and a tier
		// that resolved to a paid plan; a FREE entitlement never carries an
		// expiry. An active event missing either records the provider state
		// and stops; callers detect the degenerate case by the nil
		// Entitlement on an active outcome.
		if ev.PeriodEnd == nil || ev.Tier == "" || ev.Tier == TierFree {
			out.Subscription = r.nextSubscription(cur.Subscription, ev, status, now)
			return out, nil
		}
		out.Subscription = r.nextSubscription(cur.Subscription, ev, status, now)
		out.Entitlement = r.nextEntitlement(cur.Entitlement, ev, now)

		plan, ok := r.plans[ev.Tier]
		if !ok {
			return Outcome{}, ErrPlanNotFound
		}
		out.NewLimit = plan.MonthlyAICredits
		out.RefillAt = cloneTime(ev.PeriodEnd)

		if isFreshActivation(cur.Entitlement, ev.Tier) {
			out.UsageEffect = UsageRefillFull
		} else {
			out.UsageEffect = UsageRefillBounded
		}

	case StatusCancelled:
		// A cancellation means "do not renew", not "revoke now". Access runs
		// until natural expiry, so the entitlement is left untouched.
		next := r.nextSubscription(cur.Subscription, ev, status, now)
		if next.CancelledAt == nil {
			next.CancelledAt = &now
		}
		out.Subscription = next

	case StatusPending:
		out.Subscription = r.nextSubscription(cur.Subscription, ev, status, now)
	}

	return out, nil
}

// nextEntitlement computes the merged entitlement for an active event with a
// known period end.
func (r *Reconciler) nextEntitlement(cur *Entitlement, ev Event, now time.Time) *Entitlement {
	next := &Entitlement{
		UserID:     ev.UserID,
		Tier:       ev.Tier,
		ValidFrom:  cloneTime(ev.PeriodStart),
		ValidUntil: cloneTime(ev.PeriodEnd),
		UpdatedAt:  now,
	}
	if cur != nil && cur.ValidUntil != nil && cur.ValidUntil.After(*next.ValidUntil) {
		next.ValidUntil = cloneTime(cur.ValidUntil)
	}
	if next.ValidFrom == nil && cur != nil {
		next.ValidFrom = cloneTime(cur.ValidFrom)
	}
	return next
}

// nextSubscription replaces the single-slot subscription record with the
// provider's latest view.
func (r *Reconciler) nextSubscription(cur *SubscriptionRecord, ev Event, status SubscriptionStatus, now time.Time) *SubscriptionRecord {
	next := &SubscriptionRecord{
		UserID:             ev.UserID,
		ProviderSubID:      ev.ProviderSubID,
		ProviderCustomerID: ev.ProviderCustomerID,
		Tier:               ev.Tier,
		Interval:           ev.Interval,
		Status:             status,
		CurrentPeriodStart: cloneTime(ev.PeriodStart),
		CurrentPeriodEnd:   cloneTime(ev.PeriodEnd),
		UpdatedAt:          now,
	}
	// Carry identifiers forward when a sparse event (e.g. a payment failure
	// notice) omits them, as long as it refers to the same subscription.
	if cur != nil && (ev.ProviderSubID == "" || cur.ProviderSubID == ev.ProviderSubID) {
		if next.ProviderSubID == "" {
			next.ProviderSubID = cur.ProviderSubID
		}
		if next.ProviderCustomerID == "" {
			next.ProviderCustomerID = cur.ProviderCustomerID
		}
		if next.Tier == "" {
			next.Tier = cur.Tier
		}
		if next.Interval == "" {
			next.Interval = cur.Interval
		}
		if next.CurrentPeriodStart == nil {
			next.CurrentPeriodStart = cloneTime(cur.CurrentPeriodStart)
		}
		if next.CurrentPeriodEnd == nil {
			next.CurrentPeriodEnd = cloneTime(cur.CurrentPeriodEnd)
		}
		next.CancelledAt = cloneTime(cur.CancelledAt)
	}
	return next
}

// isFreshActivation distinguishes a new grant or tier change (full refill)
// from a renewal of the same tier (bounded refill).
func isFreshActivation(cur *Entitlement, tier Tier) bool {
	return cur == nil || cur.Tier == TierFree || cur.Tier != tier
}
