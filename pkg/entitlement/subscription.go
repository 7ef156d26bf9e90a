package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionRecord mirrors the billing provider's view of a user's
// subscription. At most one provider subscription is tracked per user: when a
// user resubscribes after cancelling, the record is replaced with the new
// provider subscription ID rather than merged. The record exists for audit
// and resync, never for access decisions.
type SubscriptionRecord struct {
	UserID             uuid.UUID
	ProviderSubID      string
	ProviderCustomerID string
	Tier               Tier
	Interval           BillingInterval
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelledAt        *time.Time
	UpdatedAt          time.Time
}

func (s *SubscriptionRecord) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

func (s *SubscriptionRecord) IsCancelled() bool {
	return s != nil && s.Status == StatusCancelled
}

// Clone returns a deep copy of the record.
func (s *SubscriptionRecord) Clone() *SubscriptionRecord {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return &c
}
