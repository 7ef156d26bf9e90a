package entitlement

import "context"

// Provider abstracts the billing provider. The engine never initiates
// charges; it only consumes provider-reported state, either pushed through
// a signed webhook or pulled during a resync.
//
// Implementations must verify webhook authenticity before returning an
// event, and must normalize provider payloads into the Event shape so the
// reconciler stays provider-agnostic.
type Provider interface {
	// ParseWebhook verifies the signature and normalizes the payload.
	// Returns ErrSignatureVerification on a bad signature,
	// ErrUnknownEventKind for event types the engine does not consume, and
	// ErrMissingUserReference when the payload carries no resolvable user.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)

	// FetchSubscription pulls the subscription's current state directly from
	// the provider and normalizes it into the same Event shape, closing the
	// latency gap between a completed payment and its webhook.
	FetchSubscription(ctx context.Context, providerSubID string) (*Event, error)
}

// TierResolver maps a provider price ID to a tier. Used when a payload's
// metadata does not name the tier explicitly.
type TierResolver func(priceID string) (Tier, bool)
