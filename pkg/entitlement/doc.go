// Package entitlement decides, for any user at any instant, whether they
// hold paid access, until when, and how many AI-generation credits remain.
//
// The engine merges three independent, asynchronous signals into one
// authoritative record per user:
//
//   - webhook notifications pushed by the billing provider, which may arrive
//     out of order, be redelivered, or be delayed
//   - user-triggered or post-checkout resyncs that pull provider state
//     directly
//   - a periodic expiry sweep that downgrades lapsed subscribers
//
// Correctness rests on two invariants. Paid time is never silently reduced:
// every grant merges with the current state by taking the greater expiry, so
// replayed or reordered events converge to the same result. And access is
// never granted beyond what was paid for: grants derive exclusively from
// provider-reported billing periods, and the sweep clears them only once
// they already lie in the past.
//
// # Architecture
//
// Three records per user form one consistency unit. The Entitlement answers
// every access question. The SubscriptionRecord mirrors the provider's view
// for audit and resync. The UsageLedger tracks AI credits within
// [0, monthly limit].
//
// The Reconciler is pure: (current state, inbound event) -> next state, with
// no I/O and no hidden clock. All I/O lives in the Service, which serializes
// work per user, persists reconciliation outcomes atomically through a
// Store, and acknowledges the provider only after persistence succeeded so
// at-least-once redelivery covers every transient failure.
//
// # Usage
//
//	provider, err := entitlement.NewPaddleProvider(paddleCfg)
//	if err != nil { ... }
//
//	svc, err := entitlement.NewService(ctx,
//		entitlement.NewInMemPlanSource(entitlement.DefaultPlans()),
//		provider,
//		entitlement.NewMemoryStore(),
//		entitlement.WithLogger(log),
//	)
//	if err != nil { ... }
//
//	// Webhook endpoint:
//	err = svc.HandleWebhook(ctx, body, r.Header.Get("Paddle-Signature"))
//
//	// Collaborating subsystems:
//	if svc.CanGenerateAI(ctx, userID) {
//		remaining, err := svc.DeductCredits(ctx, userID, 1)
//		...
//	}
package entitlement
