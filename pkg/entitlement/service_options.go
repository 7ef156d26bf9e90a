package entitlement

import (
	"log/slog"

	"github.com/dmitrymomot/entitlements/pkg/keylock"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the structured logger. Nil loggers are ignored.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLocker replaces the default in-process per-user locker. Use a
// Redis-backed locker when several replicas process webhooks for the same
// user pool.
func WithLocker(locks keylock.Locker) ServiceOption {
	return func(s *service) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithSweepBatchSize caps how many lapsed entitlements a single sweep run
// processes. The next scheduled run picks up the remainder.
func WithSweepBatchSize(n int) ServiceOption {
	return func(s *service) {
		if n > 0 {
			s.sweepBatch = n
		}
	}
}
