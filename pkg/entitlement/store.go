package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists the three per-user records the engine owns. Entitlement,
// subscription record and usage ledger form one consistency unit: an
// observer must never see an extended entitlement without the matching
// credit refill, so ApplyOutcome is all-or-nothing.
//
// Implementations must keep two guarantees the reconciler relies on:
//
//   - ApplyOutcome merges ValidUntil monotonically (greatest value wins) so
//     that even a stale writer cannot shrink a grant.
//   - DowngradeExpired re-checks expiry inside the write itself, so a
//     renewal landing between selection and write is never clobbered.
type Store interface {
	// EnsureEntitlement returns the user's entitlement, creating the free
	// baseline (and its ledger) if the user has none yet.
	EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error)

	// GetEntitlement returns ErrEntitlementNotFound for unknown users.
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error)

	// GetSubscription returns ErrSubscriptionNotFound when the user has no
	// tracked provider subscription.
	GetSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error)

	// GetUsage returns ErrUsageNotFound for unknown users.
	GetUsage(ctx context.Context, userID uuid.UUID) (*UsageLedger, error)

	// ApplyOutcome persists a reconciliation outcome atomically. Either all
	// affected records are written or none are.
	ApplyOutcome(ctx context.Context, out *Outcome) error

	// DeductCredits atomically subtracts amount from the user's balance and
	// returns the remaining credits. Fails with ErrInsufficientCredits
	// without any partial deduction when the balance is too low.
	DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)

	// RefillCredits atomically adds amount to the balance, capped at the
	// ledger's monthly limit, and returns the new balance.
	RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)

	// ListExpired returns users whose paid entitlement lapsed before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// DowngradeExpired downgrades one user to the free tier, resetting the
	// ledger to the free allowance in the same atomic write. Returns false
	// without error when the entitlement is no longer expired at write time.
	DowngradeExpired(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error)
}
