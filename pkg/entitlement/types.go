package entitlement

// Tier is the access level granted to a user.
type Tier string

const (
	TierFree       Tier = "FREE"
	TierPremium    Tier = "PREMIUM"
	TierEnterprise Tier = "ENTERPRISE"
)

// IsPaid reports whether the tier grants paid access.
func (t Tier) IsPaid() bool {
	return t == TierPremium || t == TierEnterprise
}

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPremium, TierEnterprise:
		return true
	}
	return false
}

// BillingInterval is the billing frequency of a paid subscription.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)

// SubscriptionStatus is the provider-reported state of a subscription,
// collapsed to the three states the engine distinguishes.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// EventKind is the normalized kind of an inbound billing event.
type EventKind string

const (
	EventActivated     EventKind = "activated"
	EventCharged       EventKind = "charged"
	EventCancelled     EventKind = "cancelled"
	EventPaused        EventKind = "paused"
	EventResumed       EventKind = "resumed"
	EventPaymentFailed EventKind = "payment_failed"
)
