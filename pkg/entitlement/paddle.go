package entitlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/google/uuid"
)

// PaddleConfig holds configuration for the Paddle billing provider.
type PaddleConfig struct {
	APIKey        string `env:"PADDLE_API_KEY,required"`
	WebhookSecret string `env:"PADDLE_WEBHOOK_SECRET,required"`
	Environment   string `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
}

// PaddleProvider implements Provider for Paddle.
type PaddleProvider struct {
	client       *paddle.SDK
	verifier     *paddle.WebhookVerifier
	tierForPrice TierResolver
}

// PaddleOption configures a PaddleProvider.
type PaddleOption func(*PaddleProvider)

// WithTierResolver registers a price-ID-to-tier fallback used when the
// subscription's custom data does not carry an explicit tier.
func WithTierResolver(resolver TierResolver) PaddleOption {
	return func(p *PaddleProvider) {
		if resolver != nil {
			p.tierForPrice = resolver
		}
	}
}

// NewPaddleProvider creates a Paddle-backed Provider.
func NewPaddleProvider(cfg PaddleConfig, opts ...PaddleOption) (*PaddleProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}

	var client *paddle.SDK
	var err error

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		client, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidEnvironment, cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	p := &PaddleProvider{
		client:       client,
		verifier:     paddle.NewWebhookVerifier(cfg.WebhookSecret),
		tierForPrice: func(string) (Tier, bool) { return "", false },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// paddleEventKinds maps Paddle event types onto the engine's event taxonomy.
// Anything absent here is an event the engine does not consume.
var paddleEventKinds = map[string]EventKind{
	"subscription.created":       EventActivated,
	"subscription.activated":     EventActivated,
	"subscription.updated":       EventCharged,
	"subscription.canceled":      EventCancelled,
	"subscription.paused":        EventPaused,
	"subscription.resumed":       EventResumed,
	"transaction.completed":      EventCharged,
	"transaction.payment_failed": EventPaymentFailed,
}

// ParseWebhook verifies and normalizes an incoming Paddle webhook.
func (p *PaddleProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*Event, error) {
	// The SDK verifier consumes an http.Request, so wrap the raw payload.
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build verification request: %w", err)
	}
	req.Header.Set("Paddle-Signature", signature)

	valid, err := p.verifier.Verify(req)
	if err != nil {
		return nil, errors.Join(ErrSignatureVerification, err)
	}
	if !valid {
		return nil, ErrSignatureVerification
	}

	var envelope struct {
		EventType string         `json:"event_type"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Join(ErrMalformedPayload, err)
	}

	kind, ok := paddleEventKinds[envelope.EventType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventKind, envelope.EventType)
	}

	ev := &Event{
		Kind:          kind,
		ProviderEvent: envelope.EventType,
	}

	data := envelope.Data
	if id, ok := data["id"].(string); ok {
		ev.ProviderSubID = id
	}
	// Transaction events reference their subscription separately.
	if subID, ok := data["subscription_id"].(string); ok && subID != "" {
		ev.ProviderSubID = subID
	}
	if custID, ok := data["customer_id"].(string); ok {
		ev.ProviderCustomerID = custID
	}
	if status, ok := data["status"].(string); ok {
		ev.ProviderStatus = status
	}

	custom, _ := data["custom_data"].(map[string]any)
	userRef, _ := custom["user_id"].(string)
	if userRef == "" {
		return nil, ErrMissingUserReference
	}
	userID, err := uuid.Parse(userRef)
	if err != nil {
		return nil, errors.Join(ErrMissingUserReference, err)
	}
	ev.UserID = userID

	if tierRaw, ok := custom["tier"].(string); ok {
		if tier := Tier(strings.ToUpper(tierRaw)); tier.Valid() {
			ev.Tier = tier
		}
	}
	if ev.Tier == "" {
		if tier, ok := p.tierForPrice(firstPriceID(data)); ok {
			ev.Tier = tier
		}
	}

	ev.Interval = paddleInterval(data)
	ev.PeriodStart, ev.PeriodEnd = paddlePeriod(data)

	return ev, nil
}

// FetchSubscription pulls current subscription state from the Paddle API.
// The resulting event deliberately looks like a renewal notification so the
// reconciler treats pushed and pulled state identically.
func (p *PaddleProvider) FetchSubscription(ctx context.Context, providerSubID string) (*Event, error) {
	sub, err := p.client.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: providerSubID,
	})
	if err != nil {
		return nil, errors.Join(ErrSubscriptionFetchFailed, err)
	}

	ev := &Event{
		Kind:           EventCharged,
		ProviderSubID:  sub.ID,
		ProviderStatus: string(sub.Status),
		ProviderEvent:  "subscription.fetched",
	}
	if sub.CustomerID != "" {
		ev.ProviderCustomerID = sub.CustomerID
	}

	if userRef, ok := sub.CustomData["user_id"].(string); ok {
		userID, err := uuid.Parse(userRef)
		if err != nil {
			return nil, errors.Join(ErrMissingUserReference, err)
		}
		ev.UserID = userID
	} else {
		return nil, ErrMissingUserReference
	}

	if tierRaw, ok := sub.CustomData["tier"].(string); ok {
		if tier := Tier(strings.ToUpper(tierRaw)); tier.Valid() {
			ev.Tier = tier
		}
	}

	if sub.CurrentBillingPeriod != nil {
		ev.PeriodStart = parsePaddleTime(sub.CurrentBillingPeriod.StartsAt)
		ev.PeriodEnd = parsePaddleTime(sub.CurrentBillingPeriod.EndsAt)
	}
	switch sub.BillingCycle.Interval {
	case "year":
		ev.Interval = IntervalAnnual
	default:
		ev.Interval = IntervalMonthly
	}

	return ev, nil
}

func firstPriceID(data map[string]any) string {
	items, ok := data["items"].([]any)
	if !ok || len(items) == 0 {
		return ""
	}
	item, ok := items[0].(map[string]any)
	if !ok {
		return ""
	}
	// Subscription payloads nest the price object, transaction payloads
	// carry a flat price_id.
	if price, ok := item["price"].(map[string]any); ok {
		if id, ok := price["id"].(string); ok {
			return id
		}
	}
	if id, ok := item["price_id"].(string); ok {
		return id
	}
	return ""
}

func paddleInterval(data map[string]any) BillingInterval {
	cycle, ok := data["billing_cycle"].(map[string]any)
	if !ok {
		return IntervalMonthly
	}
	if interval, ok := cycle["interval"].(string); ok && interval == "year" {
		return IntervalAnnual
	}
	return IntervalMonthly
}

func paddlePeriod(data map[string]any) (start, end *time.Time) {
	period, ok := data["current_billing_period"].(map[string]any)
	if !ok {
		// Transaction payloads use billing_period instead.
		period, ok = data["billing_period"].(map[string]any)
		if !ok {
			return nil, nil
		}
	}
	if raw, ok := period["starts_at"]; ok {
		start = parseFlexibleTime(raw)
	}
	if raw, ok := period["ends_at"]; ok {
		end = parseFlexibleTime(raw)
	}
	return start, end
}

func parsePaddleTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// parseFlexibleTime accepts both RFC3339 strings and unix-second numbers, so
// payloads from older provider API versions still resolve their periods.
func parseFlexibleTime(raw any) *time.Time {
	switch v := raw.(type) {
	case string:
		if t := parsePaddleTime(v); t != nil {
			return t
		}
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			t := time.Unix(secs, 0).UTC()
			return &t
		}
	case float64:
		if v > 0 {
			t := time.Unix(int64(v), 0).UTC()
			return &t
		}
	}
	return nil
}
