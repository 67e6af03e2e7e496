// Package retry holds the single retry policy shared by every external
// call site (download, store, process, send), instead of per-call-site
// sleep loops.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"docverse/internal/domain"
)

// Policy bounds the attempts for one external call.
type Policy struct {
	MaxAttempts int                     // total attempts, default 3
	BaseDelay   time.Duration           // backoff unit, default 1s
	Retryable   func(error) bool        // default: domain.IsTransient
	Logger      *slog.Logger
}

// Default is the policy used across the pipeline unless overridden.
func Default(logger *slog.Logger) Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Logger: logger}
}

// Do runs fn until it succeeds, the attempt budget is spent, or an
// error the policy classifies as non-retryable occurs. Non-retryable
// errors (auth, permanent) return immediately and unchanged.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = domain.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			// Exponential backoff with jitter to prevent thundering herd.
			wait := time.Duration(attempt*attempt) * base / 4
			wait += time.Duration(rand.Int63n(int64(wait/2 + 1)))
			if p.Logger != nil {
				p.Logger.Warn("retrying", "op", op, "attempt", attempt, "backoff", wait)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if p.Logger != nil {
			p.Logger.Warn("attempt failed", "op", op, "attempt", attempt, "err", err)
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, maxAttempts, lastErr)
}
