package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// UsageLedger tracks a user's AI-generation credits. The balance is always
// within [0, MonthlyLimit]; deductions are atomic and refills are capped at
// the monthly limit, which keeps replayed renewal events from inflating the
// balance.
type UsageLedger struct {
	UserID              uuid.UUID
	AICreditsRemaining  int64
	MonthlyLimit        int64
	RefillAt            *time.Time
	FreeDraftsRemaining int64
	UpdatedAt           time.Time
}

// FreeDraftAllowance is the number of drafts a free-tier user may create
// without any paid subscription.
const FreeDraftAllowance int64 = 2

// NewFreeLedger returns the ledger state of a free-tier user: no AI credits,
// a small free-draft allowance.
func NewFreeLedger(userID uuid.UUID, now time.Time) *UsageLedger {
	return &UsageLedger{
		UserID:              userID,
		AICreditsRemaining:  0,
		MonthlyLimit:        0,
		FreeDraftsRemaining: FreeDraftAllowance,
		UpdatedAt:           now.UTC(),
	}
}

// NewPremiumLedger returns a ledger refilled to the full monthly limit for a
// freshly activated paid tier.
func NewPremiumLedger(userID uuid.UUID, monthlyLimit int64, refillAt *time.Time, now time.Time) *UsageLedger {
	return &UsageLedger{
		UserID:             userID,
		AICreditsRemaining: monthlyLimit,
		MonthlyLimit:       monthlyLimit,
		RefillAt:           cloneTime(refillAt),
		UpdatedAt:          now.UTC(),
	}
}

// CanGenerate reports whether at least one AI credit remains.
func (u *UsageLedger) CanGenerate() bool {
	return u != nil && u.AICreditsRemaining > 0
}

// Clone returns a deep copy of the ledger.
func (u *UsageLedger) Clone() *UsageLedger {
	if u == nil {
		return nil
	}
	c := *u
	c.RefillAt = cloneTime(u.RefillAt)
	return &c
}
