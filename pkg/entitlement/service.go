package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/entitlements/pkg/keylock"
)

// Service is the public interface of the entitlement engine.
type Service interface {
	// Webhook ingress and resync
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	Resync(ctx context.Context, userID uuid.UUID, providerSubID string) (*Entitlement, error)

	// Access queries for collaborating subsystems
	EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error)
	GetUsage(ctx context.Context, userID uuid.UUID) (*UsageLedger, error)
	HasPremiumAccess(ctx context.Context, userID uuid.UUID) bool
	CanGenerateAI(ctx context.Context, userID uuid.UUID) bool

	// Usage ledger operations
	DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)
	RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error)

	// Expiry sweep, invoked by an external scheduler
	SweepExpired(ctx context.Context) (SweepResult, error)
}

type service struct {
	reconciler *Reconciler
	provider   Provider
	store      Store
	locks      keylock.Locker
	log        *slog.Logger
	sweepBatch int
}

// NewService creates the engine from a plan catalog, billing provider and
// store. Panics on nil required dependencies to fail fast during wiring.
func NewService(ctx context.Context, src PlanSource, provider Provider, store Store, opts ...ServiceOption) (Service, error) {
	if src == nil {
		panic("entitlement: PlanSource is required")
	}
	if provider == nil {
		panic("entitlement: Provider is required")
	}
	if store == nil {
		panic("entitlement: Store is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	reconciler, err := NewReconciler(plans)
	if err != nil {
		return nil, err
	}

	s := &service{
		reconciler: reconciler,
		provider:   provider,
		store:      store,
		locks:      keylock.NewKeyedMutex(),
		log:        slog.Default(),
		sweepBatch: 500,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleWebhook processes one pushed provider notification.
//
// Error contract for the HTTP layer: a nil return means the event was
// applied or recognized-and-ignored and must be acknowledged; a returned
// error means the provider must NOT be acknowledged so its at-least-once
// redelivery retries the event. ErrSignatureVerification and
// ErrMalformedPayload are the exceptions that map to a hard 400.
func (s *service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.provider.ParseWebhook(ctx, payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, ErrSignatureVerification), errors.Is(err, ErrMalformedPayload):
			return err
		case errors.Is(err, ErrUnknownEventKind):
			// Recognized-but-ignored: retrying would never change anything.
			s.log.InfoContext(ctx, "ignoring billing event", "error", err)
			return nil
		case errors.Is(err, ErrMissingUserReference):
			s.log.WarnContext(ctx, "billing event without user reference", "error", err)
			return nil
		default:
			return err
		}
	}

	_, err = s.applyEvent(ctx, ev)
	return err
}

// Resync pulls current provider state for the user and applies it through
// the same reconciliation path a webhook takes. It exists to close the gap
// between a completed payment and its (possibly delayed) webhook.
func (s *service) Resync(ctx context.Context, userID uuid.UUID, providerSubID string) (*Entitlement, error) {
	if providerSubID == "" {
		sub, err := s.store.GetSubscription(ctx, userID)
		if err != nil {
			return nil, err
		}
		providerSubID = sub.ProviderSubID
	}
	if providerSubID == "" {
		return nil, ErrSubscriptionNotFound
	}

	ev, err := s.provider.FetchSubscription(ctx, providerSubID)
	if err != nil {
		return nil, err
	}
	if ev.UserID != userID {
		s.log.WarnContext(ctx, "resync user mismatch",
			"requested", userID, "subscription_user", ev.UserID)
		return nil, ErrSubscriptionNotFound
	}

	if _, err := s.applyEvent(ctx, ev); err != nil {
		return nil, err
	}
	return s.store.GetEntitlement(ctx, userID)
}

// applyEvent runs one read-reconcile-persist cycle under the per-user lock.
// Holding the lock across the whole cycle is what makes the max-merge in the
// reconciler safe: without it two concurrent writers could both read a stale
// ValidUntil and the later one could overwrite the larger merge.
func (s *service) applyEvent(ctx context.Context, ev *Event) (*Outcome, error) {
	release, err := s.locks.Acquire(ctx, ev.UserID.String())
	if err != nil {
		return nil, errors.Join(ErrTemporaryReconciliationFailure, err)
	}
	defer release()

	state, err := s.readState(ctx, ev.UserID)
	if err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	// Sparse events may omit the tier; fall back to the tracked record. An
	// event whose tier still cannot be resolved is never defaulted to FREE:
	// the reconciler grants nothing for it.
	if ev.Tier == "" && state.Subscription != nil {
		ev.Tier = state.Subscription.Tier
	}

	now := time.Now().UTC()
	out, err := s.reconciler.Reconcile(now, state, *ev)
	if err != nil {
		return nil, err
	}

	if !out.StatusKnown {
		s.log.WarnContext(ctx, "unmapped provider status, treating as pending",
			"status", ev.ProviderStatus, "event", ev.ProviderEvent, "user_id", ev.UserID)
	}
	if out.Status == StatusActive && out.Entitlement == nil {
		cause := ErrActiveEventWithoutPeriod
		if ev.PeriodEnd != nil {
			cause = ErrUnresolvedTier
		}
		s.log.WarnContext(ctx, "skipping grant", "error", cause,
			"event", ev.ProviderEvent, "user_id", ev.UserID)
	}

	if err := s.store.ApplyOutcome(ctx, &out); err != nil {
		return nil, errors.Join(ErrPersistence, err)
	}

	s.log.InfoContext(ctx, "billing event applied",
		"user_id", ev.UserID,
		"event", ev.ProviderEvent,
		"status", out.Status,
		"usage_effect", out.UsageEffect,
	)
	return &out, nil
}

func (s *service) readState(ctx context.Context, userID uuid.UUID) (State, error) {
	var state State

	ent, err := s.store.GetEntitlement(ctx, userID)
	switch {
	case err == nil:
		state.Entitlement = ent
	case !errors.Is(err, ErrEntitlementNotFound):
		return State{}, err
	}

	sub, err := s.store.GetSubscription(ctx, userID)
	switch {
	case err == nil:
		state.Subscription = sub
	case !errors.Is(err, ErrSubscriptionNotFound):
		return State{}, err
	}

	usage, err := s.store.GetUsage(ctx, userID)
	switch {
	case err == nil:
		state.Usage = usage
	case !errors.Is(err, ErrUsageNotFound):
		return State{}, err
	}

	return state, nil
}

// EnsureEntitlement creates the free baseline on first authentication and is
// idempotent afterwards.
func (s *service) EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	return s.store.EnsureEntitlement(ctx, userID)
}

func (s *service) GetEntitlement(ctx context.Context, userID uuid.UUID) (*Entitlement, error) {
	return s.store.GetEntitlement(ctx, userID)
}

func (s *service) GetUsage(ctx context.Context, userID uuid.UUID) (*UsageLedger, error) {
	return s.store.GetUsage(ctx, userID)
}

// HasPremiumAccess answers from durable state only; it never blocks on a
// provider call. Returns false on any error to fail closed.
func (s *service) HasPremiumAccess(ctx context.Context, userID uuid.UUID) bool {
	ent, err := s.store.GetEntitlement(ctx, userID)
	if err != nil {
		return false
	}
	return ent.HasPremiumAccess()
}

// CanGenerateAI reports whether the user holds paid access and at least one
// AI credit.
func (s *service) CanGenerateAI(ctx context.Context, userID uuid.UUID) bool {
	if !s.HasPremiumAccess(ctx, userID) {
		return false
	}
	usage, err := s.store.GetUsage(ctx, userID)
	if err != nil {
		return false
	}
	return usage.CanGenerate()
}

func (s *service) DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	return s.store.DeductCredits(ctx, userID, amount)
}

// RefillCredits adds credits up to the monthly limit. A zero amount refills
// to the full limit.
func (s *service) RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrInvalidCreditAmount
	}
	if amount == 0 {
		usage, err := s.store.GetUsage(ctx, userID)
		if err != nil {
			return 0, err
		}
		if usage.MonthlyLimit == 0 || usage.AICreditsRemaining >= usage.MonthlyLimit {
			return usage.AICreditsRemaining, nil
		}
		amount = usage.MonthlyLimit
	}
	return s.store.RefillCredits(ctx, userID, amount)
}
