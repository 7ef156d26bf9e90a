package entitlement

import (
	"time"

	"github.com/google/uuid"
)

// Event is the normalized inbound billing signal fed to the reconciler. It
// is produced either from a verified provider webhook or from a direct
// provider fetch during a resync; the reconciler cannot tell the difference,
// which is what makes the two paths converge.
//
// Events are ephemeral: they are never persisted as-is, only the state they
// produce is.
type Event struct {
	Kind               EventKind
	UserID             uuid.UUID
	ProviderSubID      string
	ProviderCustomerID string
	// ProviderStatus is the raw status string as reported by the provider.
	// It is collapsed through MapProviderStatus, never matched directly.
	ProviderStatus string
	Tier           Tier
	Interval       BillingInterval
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	// ProviderEvent is the original provider event name, kept for logging.
	ProviderEvent string
}
