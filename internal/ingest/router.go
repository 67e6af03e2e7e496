package ingest

import (
	"context"
	"log/slog"
	"time"

	"docverse/internal/domain"
	"docverse/internal/metrics"
)

// Router is the single entry point for delivered webhook events. It
// takes the message-level claim before anything observable happens, so
// however many times the platform redelivers an event, at most one
// delivery runs a handler.
type Router struct {
	ledger     domain.Ledger
	commands   *Commands
	documents  *DocumentProcessor
	inboundTTL time.Duration
	logger     *slog.Logger
}

// RouterConfig wires the router.
type RouterConfig struct {
	Ledger     domain.Ledger
	Commands   *Commands
	Documents  *DocumentProcessor
	InboundTTL time.Duration // message-claim window, default 1h
	Logger     *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	ttl := cfg.InboundTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Router{
		ledger:     cfg.Ledger,
		commands:   cfg.Commands,
		documents:  cfg.Documents,
		inboundTTL: ttl,
		logger:     cfg.Logger,
	}
}

// HandleInbound claims the message and dispatches by kind. A ledger
// that cannot answer fails the event without processing: the platform
// will redeliver, and running without a claim risks double execution.
func (r *Router) HandleInbound(ctx context.Context, msg domain.InboundMessage) domain.HandledResult {
	metrics.EventsTotal.Inc()
	start := time.Now()

	won, err := r.ledger.Claim(ctx, msg.DedupKey(), r.inboundTTL)
	if err != nil {
		r.logger.Error("message claim failed", "key", msg.DedupKey(), "err", err)
		metrics.EventsFailed.Inc()
		return domain.Failed("ingest:" + err.Error())
	}
	if !won {
		r.logger.Debug("duplicate delivery skipped", "key", msg.DedupKey())
		metrics.DuplicatesSkipped.Inc()
		return domain.DuplicateSkipped()
	}

	var res domain.HandledResult
	switch msg.Kind {
	case domain.KindDocument:
		res = r.documents.Handle(ctx, msg)
	case domain.KindText:
		res = r.commands.Handle(ctx, msg)
	default:
		// Stickers, reactions, status updates: claimed and done.
		r.logger.Debug("unsupported event kind acknowledged", "kind", msg.Kind, "sender", msg.Sender)
		res = domain.Processed()
	}

	metrics.HandleLatency.Observe(time.Since(start).Seconds())
	switch res.Outcome {
	case domain.OutcomeFailed:
		// Give the claim back so a platform redelivery can retry the
		// event instead of being skipped for the whole TTL. Replays
		// stay safe: terminal job records still dedup documents, and
		// commands have no durable side effect worth protecting.
		if relErr := r.ledger.Release(ctx, msg.DedupKey()); relErr != nil {
			r.logger.Warn("cannot release claim for failed event", "key", msg.DedupKey(), "err", relErr)
		}
		metrics.EventsFailed.Inc()
	case domain.OutcomeDuplicateSkipped:
		metrics.DuplicatesSkipped.Inc()
	}
	return res
}
