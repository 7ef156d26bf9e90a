package entitlement

import "strings"

// MapProviderStatus collapses a raw provider status string into one of the
// three states the engine distinguishes. The mapping is total: strings the
// provider adds in the future fall through to StatusPending so an unknown
// status can never reject a webhook. Callers should log the raw string when
// the second return value is false.
func MapProviderStatus(raw string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "authenticated":
		return StatusActive, true
	case "cancelled", "canceled", "paused", "halted", "completed":
		return StatusCancelled, true
	case "created", "pending", "past_due", "expired", "trialing":
		return StatusPending, true
	default:
		return StatusPending, false
	}
}
