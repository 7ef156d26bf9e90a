package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement is the authoritative access record for a user. It is the only
// record consulted to answer "does this user have premium access right now";
// the subscription record mirrors the provider's view and is never used for
// access decisions.
//
// ValidUntil is nil exactly when Tier is TierFree. Across the lifetime of a
// user, ValidUntil only moves forward through paid events; the expiry sweep
// is the single writer allowed to clear it, and only once it already lies in
// the past.
type Entitlement struct {
	UserID     uuid.UUID
	Tier       Tier
	ValidFrom  *time.Time
	ValidUntil *time.Time
	UpdatedAt  time.Time
}

// NewFreeEntitlement returns the entitlement every user starts with.
func NewFreeEntitlement(userID uuid.UUID, now time.Time) *Entitlement {
	return &Entitlement{
		UserID:    userID,
		Tier:      TierFree,
		UpdatedAt: now.UTC(),
	}
}

// HasPremiumAccessAt reports whether the entitlement grants paid access at
// the given instant.
func (e *Entitlement) HasPremiumAccessAt(now time.Time) bool {
	if e == nil || !e.Tier.IsPaid() || e.ValidUntil == nil {
		return false
	}
	return e.ValidUntil.After(now)
}

// HasPremiumAccess reports whether the entitlement grants paid access now.
func (e *Entitlement) HasPremiumAccess() bool {
	return e.HasPremiumAccessAt(time.Now().UTC())
}

// IsExpiredAt reports whether a paid entitlement has lapsed. Free
// entitlements never expire, they are already the floor.
func (e *Entitlement) IsExpiredAt(now time.Time) bool {
	if e == nil || !e.Tier.IsPaid() || e.ValidUntil == nil {
		return false
	}
	return e.ValidUntil.Before(now)
}

// Clone returns a deep copy so stores can hand out records without aliasing
// their internal state.
func (e *Entitlement) Clone() *Entitlement {
	if e == nil {
		return nil
	}
	c := *e
	c.ValidFrom = cloneTime(e.ValidFrom)
	c.ValidUntil = cloneTime(e.ValidUntil)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
