package entitlement

import "errors"

var (
	// Webhook intake errors
	ErrSignatureVerification = errors.New("webhook signature verification failed")
	ErrUnknownEventKind      = errors.New("unknown billing event kind")
	ErrMissingUserReference  = errors.New("billing event carries no user reference")
	ErrMalformedPayload      = errors.New("malformed webhook payload")

	// Reconciliation errors
	ErrPersistence = errors.New("failed to persist reconciliation result")
	// ErrConcurrentWriteConflict is reserved for Store implementations that
	// detect conflicts optimistically (compare-and-swap) instead of
	// serializing writers per user; the bundled stores never return it.
	ErrConcurrentWriteConflict        = errors.New("concurrent write conflict")
	ErrTemporaryReconciliationFailure = errors.New("temporary reconciliation failure, retry later")
	ErrActiveEventWithoutPeriod       = errors.New("active event without billing period end")
	ErrUnresolvedTier                 = errors.New("active event tier did not resolve to a paid plan")
	ErrSubscriptionFetchFailed        = errors.New("failed to fetch subscription from billing provider")

	// Store errors
	ErrEntitlementNotFound  = errors.New("entitlement not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUsageNotFound        = errors.New("usage ledger not found")

	// Usage ledger errors
	ErrInsufficientCredits = errors.New("insufficient AI credits")
	ErrInvalidCreditAmount = errors.New("credit amount must be positive")

	// Plan catalog errors
	ErrPlanNotFound             = errors.New("plan not found for tier")
	ErrInvalidPlanConfiguration = errors.New("invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("failed to load plan catalog")

	// Provider configuration errors
	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")
	ErrInvalidEnvironment   = errors.New("invalid billing provider environment")
)
