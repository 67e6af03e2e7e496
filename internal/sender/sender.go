// Package sender delivers outbound replies: reply-level dedup claims,
// the bypass path with uniqueness tokens, and bounded retry around the
// platform call.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docverse/internal/domain"
	"docverse/internal/metrics"
	"docverse/internal/retry"

	"github.com/google/uuid"
)

// Config tunes the sender.
type Config struct {
	ReplyTTL time.Duration // reply-kind claim window, default 10m
	Retry    retry.Policy
	Logger   *slog.Logger
}

// Sender implements the outbound side of the core.
type Sender struct {
	platform domain.Platform
	ledger   domain.Ledger
	replyTTL time.Duration
	retry    retry.Policy
	logger   *slog.Logger
}

func New(platform domain.Platform, ledger domain.Ledger, cfg Config) *Sender {
	ttl := cfg.ReplyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Sender{
		platform: platform,
		ledger:   ledger,
		replyTTL: ttl,
		retry:    cfg.Retry,
		logger:   cfg.Logger,
	}
}

// Send delivers one outbound message. Without bypass, a reply-kind
// claim is taken first and a lost claim suppresses the send. With
// bypass, the claim is skipped and a uniqueness token defeats any
// platform-side content dedup. Auth failures surface immediately and
// are never retried.
func (s *Sender) Send(ctx context.Context, msg domain.OutboundMessage) (domain.DeliveryResult, error) {
	var claimKey string
	if !msg.BypassDedup {
		claimKey = msg.Recipient + ":" + string(msg.ReplyKind)
		won, err := s.ledger.Claim(ctx, claimKey, s.replyTTL)
		if err != nil {
			// No claim guarantee, so no send.
			return domain.DeliveryResult{}, fmt.Errorf("reply claim: %w", err)
		}
		if !won {
			s.logger.Debug("reply suppressed", "recipient", msg.Recipient, "kind", msg.ReplyKind)
			metrics.SendsSuppressed.Inc()
			return domain.DeliveryResult{Suppressed: true}, nil
		}
	}

	body := msg.Body
	if msg.BypassDedup {
		body = withUniquenessToken(body)
	}

	var deliveryID string
	start := time.Now()
	err := s.retry.Do(ctx, "send "+string(msg.ReplyKind), func(ctx context.Context) error {
		id, err := s.platform.SendText(ctx, msg.Recipient, body)
		if err != nil {
			return err
		}
		deliveryID = id
		return nil
	})
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if claimKey != "" {
			// The send never happened; free the claim so a later
			// attempt is not silently suppressed.
			if relErr := s.ledger.Release(ctx, claimKey); relErr != nil {
				s.logger.Warn("claim release failed", "key", claimKey, "err", relErr)
			}
		}
		if domain.IsAuth(err) {
			s.logger.Error("platform credential rejected", "recipient", msg.Recipient, "err", err)
		}
		return domain.DeliveryResult{}, err
	}

	metrics.SendsTotal.Inc()
	return domain.DeliveryResult{Delivered: true, DeliveryID: deliveryID}, nil
}

// withUniquenessToken appends a short reference line behind a
// zero-width space so two identical status texts remain distinct
// payloads without cluttering what the user reads.
func withUniquenessToken(body string) string {
	return body + "\n​" + uuid.NewString()[:8]
}
