// Package pgstore implements the entitlement Store on PostgreSQL.
//
// The atomicity guarantees live in the SQL itself: the three records for one
// event are written inside a single transaction serialized per user with an
// advisory lock, the entitlement upsert merges valid_until with GREATEST so
// a stale writer can never shrink a grant, credit deduction is a conditional
// UPDATE that fails without side effects, and the sweep downgrade re-checks
// expiry in its WHERE clause.
package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// Store is a PostgreSQL-backed entitlement.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store over the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureEntitlement(ctx context.Context, userID uuid.UUID) (*entitlement.Entitlement, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO entitlements (user_id, tier, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, entitlement.TierFree, now)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO usage_ledgers (user_id, ai_credits_remaining, monthly_limit, free_drafts_remaining, updated_at)
		VALUES ($1, 0, 0, $2, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		userID, entitlement.FreeDraftAllowance, now)
	if err != nil {
		return nil, err
	}

	ent, err := scanEntitlement(tx.QueryRow(ctx, `
		SELECT user_id, tier, valid_from, valid_until, updated_at
		FROM entitlements WHERE user_id = $1`, userID))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ent, nil
}

func (s *Store) GetEntitlement(ctx context.Context, userID uuid.UUID) (*entitlement.Entitlement, error) {
	ent, err := scanEntitlement(s.pool.QueryRow(ctx, `
		SELECT user_id, tier, valid_from, valid_until, updated_at
		FROM entitlements WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrEntitlementNotFound
	}
	return ent, err
}

func (s *Store) GetSubscription(ctx context.Context, userID uuid.UUID) (*entitlement.SubscriptionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, provider_sub_id, provider_customer_id, tier, billing_interval,
		       status, current_period_start, current_period_end, cancelled_at, updated_at
		FROM subscription_records WHERE user_id = $1`, userID)

	var rec entitlement.SubscriptionRecord
	err := row.Scan(&rec.UserID, &rec.ProviderSubID, &rec.ProviderCustomerID, &rec.Tier,
		&rec.Interval, &rec.Status, &rec.CurrentPeriodStart, &rec.CurrentPeriodEnd,
		&rec.CancelledAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) GetUsage(ctx context.Context, userID uuid.UUID) (*entitlement.UsageLedger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, ai_credits_remaining, monthly_limit, refill_at, free_drafts_remaining, updated_at
		FROM usage_ledgers WHERE user_id = $1`, userID)

	var u entitlement.UsageLedger
	err := row.Scan(&u.UserID, &u.AICreditsRemaining, &u.MonthlyLimit, &u.RefillAt,
		&u.FreeDraftsRemaining, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrUsageNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ApplyOutcome persists one reconciliation outcome atomically. The advisory
// lock serializes concurrent transactions for the same user even across
// replicas that skipped the application-level lock.
func (s *Store) ApplyOutcome(ctx context.Context, out *entitlement.Outcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
		out.UserID); err != nil {
		return err
	}

	now := time.Now().UTC()

	if sub := out.Subscription; sub != nil {
		// Single-slot record: a new provider subscription replaces the old
		// one wholesale.
		_, err := tx.Exec(ctx, `
			INSERT INTO subscription_records
				(user_id, provider_sub_id, provider_customer_id, tier, billing_interval,
				 status, current_period_start, current_period_end, cancelled_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (user_id) DO UPDATE SET
				provider_sub_id      = EXCLUDED.provider_sub_id,
				provider_customer_id = EXCLUDED.provider_customer_id,
				tier                 = EXCLUDED.tier,
				billing_interval     = EXCLUDED.billing_interval,
				status               = EXCLUDED.status,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end   = EXCLUDED.current_period_end,
				cancelled_at         = EXCLUDED.cancelled_at,
				updated_at           = EXCLUDED.updated_at`,
			sub.UserID, sub.ProviderSubID, sub.ProviderCustomerID, sub.Tier, sub.Interval,
			sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelledAt, now)
		if err != nil {
			return err
		}
	}

	if ent := out.Entitlement; ent != nil {
		// GREATEST ignores NULL, so a first grant takes the new value and
		// any later grant can only extend it.
		_, err := tx.Exec(ctx, `
			INSERT INTO entitlements (user_id, tier, valid_from, valid_until, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id) DO UPDATE SET
				tier        = EXCLUDED.tier,
				valid_from  = EXCLUDED.valid_from,
				valid_until = GREATEST(entitlements.valid_until, EXCLUDED.valid_until),
				updated_at  = EXCLUDED.updated_at`,
			ent.UserID, ent.Tier, ent.ValidFrom, ent.ValidUntil, now)
		if err != nil {
			return err
		}
	}

	switch out.UsageEffect {
	case entitlement.UsageUnchanged:
	case entitlement.UsageInitFree:
		if err := upsertFreeLedger(ctx, tx, out.UserID, now); err != nil {
			return err
		}
	case entitlement.UsageRefillFull:
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_ledgers
				(user_id, ai_credits_remaining, monthly_limit, refill_at, free_drafts_remaining, updated_at)
			VALUES ($1, $2, $2, $3, 0, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				ai_credits_remaining  = EXCLUDED.ai_credits_remaining,
				monthly_limit         = EXCLUDED.monthly_limit,
				refill_at             = EXCLUDED.refill_at,
				free_drafts_remaining = 0,
				updated_at            = EXCLUDED.updated_at`,
			out.UserID, out.NewLimit, out.RefillAt, now)
		if err != nil {
			return err
		}
	case entitlement.UsageRefillBounded:
		// Top up without erasing mid-cycle spending; LEAST caps the balance
		// so replayed renewals stay idempotent as long as nothing was spent
		// in between.
		_, err := tx.Exec(ctx, `
			INSERT INTO usage_ledgers
				(user_id, ai_credits_remaining, monthly_limit, refill_at, free_drafts_remaining, updated_at)
			VALUES ($1, $2, $2, $3, 0, $4)
			ON CONFLICT (user_id) DO UPDATE SET
				monthly_limit         = EXCLUDED.monthly_limit,
				ai_credits_remaining  = LEAST(usage_ledgers.ai_credits_remaining + EXCLUDED.monthly_limit, EXCLUDED.monthly_limit),
				refill_at             = EXCLUDED.refill_at,
				updated_at            = EXCLUDED.updated_at`,
			out.UserID, out.NewLimit, out.RefillAt, now)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) DeductCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidCreditAmount
	}

	var remaining int64
	err := s.pool.QueryRow(ctx, `
		UPDATE usage_ledgers
		SET ai_credits_remaining = ai_credits_remaining - $2, updated_at = now()
		WHERE user_id = $1 AND ai_credits_remaining >= $2
		RETURNING ai_credits_remaining`,
		userID, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	// Distinguish "not enough credits" from "no ledger at all".
	var balance int64
	err = s.pool.QueryRow(ctx,
		`SELECT ai_credits_remaining FROM usage_ledgers WHERE user_id = $1`,
		userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, entitlement.ErrUsageNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, entitlement.ErrInsufficientCredits
}

func (s *Store) RefillCredits(ctx context.Context, userID uuid.UUID, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, entitlement.ErrInvalidCreditAmount
	}

	var balance int64
	err := s.pool.QueryRow(ctx, `
		UPDATE usage_ledgers
		SET ai_credits_remaining = LEAST(ai_credits_remaining + $2, monthly_limit), updated_at = now()
		WHERE user_id = $1
		RETURNING ai_credits_remaining`,
		userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, entitlement.ErrUsageNotFound
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM entitlements
		WHERE tier <> $1 AND valid_until < $2
		ORDER BY valid_until
		LIMIT $3`,
		entitlement.TierFree, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) DowngradeExpired(ctx context.Context, userID uuid.UUID, now time.Time) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// The WHERE clause re-checks expiry at write time; a renewal that landed
	// after selection leaves zero rows affected and the sweep moves on.
	tag, err := tx.Exec(ctx, `
		UPDATE entitlements
		SET tier = $2, valid_from = NULL, valid_until = NULL, updated_at = $3
		WHERE user_id = $1 AND tier <> $2 AND valid_until < $3`,
		userID, entitlement.TierFree, now)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if err := upsertFreeLedger(ctx, tx, userID, now); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func upsertFreeLedger(ctx context.Context, tx pgx.Tx, userID uuid.UUID, now time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO usage_ledgers
			(user_id, ai_credits_remaining, monthly_limit, refill_at, free_drafts_remaining, updated_at)
		VALUES ($1, 0, 0, NULL, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			ai_credits_remaining  = 0,
			monthly_limit         = 0,
			refill_at             = NULL,
			free_drafts_remaining = $2,
			updated_at            = EXCLUDED.updated_at`,
		userID, entitlement.FreeDraftAllowance, now)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntitlement(row rowScanner) (*entitlement.Entitlement, error) {
	var ent entitlement.Entitlement
	err := row.Scan(&ent.UserID, &ent.Tier, &ent.ValidFrom, &ent.ValidUntil, &ent.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ent, nil
}
