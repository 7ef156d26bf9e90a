package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SweepError records a per-user failure inside one sweep run.
type SweepError struct {
	UserID uuid.UUID
	Err    error
}

func (e SweepError) Error() string {
	return "sweep " + e.UserID.String() + ": " + e.Err.Error()
}

func (e SweepError) Unwrap() error { return e.Err }

// SweepResult summarizes one expiry sweep run.
type SweepResult struct {
	Downgraded int
	Skipped    int
	Errors     []SweepError
}

// SweepExpired downgrades every lapsed paid entitlement to the free tier.
//
// The run is externally scheduled and deliberately not retried within
// itself: a user whose downgrade fails stays expired, so the next scheduled
// run naturally retries. The conditional write inside DowngradeExpired means
// a renewal landing between selection and write is counted as skipped, never
// clobbered.
func (s *service) SweepExpired(ctx context.Context) (SweepResult, error) {
	now := time.Now().UTC()

	candidates, err := s.store.ListExpired(ctx, now, s.sweepBatch)
	if err != nil {
		return SweepResult{}, err
	}

	var res SweepResult
	for _, userID := range candidates {
		ok, err := s.store.DowngradeExpired(ctx, userID, now)
		if err != nil {
			res.Errors = append(res.Errors, SweepError{UserID: userID, Err: err})
			s.log.ErrorContext(ctx, "failed to downgrade lapsed entitlement",
				"user_id", userID, "error", err)
			continue
		}
		if !ok {
			// Renewed (or already downgraded) since selection.
			res.Skipped++
			continue
		}
		res.Downgraded++
		s.log.InfoContext(ctx, "entitlement lapsed, downgraded to free tier", "user_id", userID)
	}

	s.log.InfoContext(ctx, "expiry sweep finished",
		"candidates", len(candidates),
		"downgraded", res.Downgraded,
		"skipped", res.Skipped,
		"failures", len(res.Errors),
	)
	return res, nil
}
