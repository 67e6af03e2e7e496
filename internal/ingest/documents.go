// Package ingest contains the top-level inbound handlers: the router
// that takes the message-level dedup claim, the document pipeline, and
// the text-command processor.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docverse/internal/docstore"
	"docverse/internal/domain"
	"docverse/internal/metrics"
	"docverse/internal/replies"
	"docverse/internal/retry"
	"docverse/internal/sender"
	"docverse/internal/tracker"
)

// DocumentProcessor drives one document upload through the tracked
// pipeline: download, store, index, process, notify.
type DocumentProcessor struct {
	tracker    *tracker.Store
	docs       *docstore.Store
	platform   domain.Platform
	storage    domain.Storage
	processing domain.Processing
	sender     *sender.Sender
	replies    replies.Catalog
	retry      retry.Policy
	logger     *slog.Logger
}

// DocumentConfig wires the pipeline's collaborators.
type DocumentConfig struct {
	Tracker    *tracker.Store
	Docs       *docstore.Store
	Platform   domain.Platform
	Storage    domain.Storage
	Processing domain.Processing
	Sender     *sender.Sender
	Replies    replies.Catalog
	Retry      retry.Policy
	Logger     *slog.Logger
}

func NewDocumentProcessor(cfg DocumentConfig) *DocumentProcessor {
	return &DocumentProcessor{
		tracker:    cfg.Tracker,
		docs:       cfg.Docs,
		platform:   cfg.Platform,
		storage:    cfg.Storage,
		processing: cfg.Processing,
		sender:     cfg.Sender,
		replies:    cfg.Replies,
		retry:      cfg.Retry,
		logger:     cfg.Logger,
	}
}

// Handle runs the pipeline for one delivered document event. The job
// record is the arbiter: a redelivery of a live or finished job does
// nothing, and a redelivery after a lease expiry resumes from the last
// durable checkpoint.
func (p *DocumentProcessor) Handle(ctx context.Context, msg domain.InboundMessage) domain.HandledResult {
	if msg.Media == nil {
		return domain.Failed("ingest:document event without media")
	}

	job, created, err := p.tracker.CreateOrGet(ctx, domain.DocumentJob{
		JobID:    domain.JobIDFor(msg.Sender, msg.Media.ID),
		Sender:   msg.Sender,
		MediaID:  msg.Media.ID,
		Filename: msg.Media.Filename,
		MimeType: msg.Media.MimeType,
		Caption:  msg.Media.Caption,
	})
	if err != nil {
		return domain.Failed("ingest:" + err.Error())
	}

	if !created {
		switch {
		case job.State == domain.StateCompleted:
			p.logger.Debug("duplicate of completed job", "job", job.JobID)
			return domain.DuplicateSkipped()
		case job.State == domain.StateFailed:
			p.logger.Debug("duplicate of failed job", "job", job.JobID, "last_error", job.LastError)
			return domain.DuplicateSkipped()
		case !job.LeaseExpired(time.Now().UTC()):
			p.logger.Debug("duplicate of in-flight job", "job", job.JobID, "state", job.State)
			return domain.DuplicateSkipped()
		}

		reclaimed, ok, err := p.tracker.Reclaim(ctx, job.JobID)
		if err != nil {
			return domain.Failed("ingest:" + err.Error())
		}
		if !ok {
			// Another delivery reclaimed it first.
			return domain.DuplicateSkipped()
		}
		metrics.JobsReclaimed.Inc()
		job = reclaimed
	}

	return p.run(ctx, *job)
}

// run advances the job from its current state to Completed, or records
// the failure. A stale transition means another worker took over; the
// loser stops without any external call.
func (p *DocumentProcessor) run(ctx context.Context, job domain.DocumentJob) domain.HandledResult {
	location := job.StoredLocation

	if job.State == domain.StateReceived {
		loc, res, done := p.downloadAndStore(ctx, job)
		if done {
			return res
		}
		location = loc
	}

	// From Stored: derive the searchable text, then finish.
	if err := p.tracker.Transition(ctx, job.JobID, domain.StateStored, domain.StateProcessing); err != nil {
		return p.stale(job, err)
	}

	var result domain.ProcessResult
	err := p.retry.Do(ctx, "process "+job.JobID, func(ctx context.Context) error {
		var err error
		result, err = p.processing.Run(ctx, job, location)
		return err
	})
	if err != nil {
		// The artifact stays: the document is stored, only its text
		// index is missing, and a fresh upload re-runs processing.
		return p.fail(ctx, job, domain.StageProcess, err)
	}

	if len(result.Chunks) > 0 {
		if err := p.docs.ReplaceChunks(ctx, job.JobID, result.Chunks); err != nil {
			p.logger.Error("cannot index chunks", "job", job.JobID, "err", err)
		}
	}

	if err := p.tracker.MarkCompleted(ctx, job.JobID); err != nil {
		return p.stale(job, err)
	}

	p.notify(ctx, job.Sender, p.replies.DocumentStored(job.Filename, result.Summary))
	p.logger.Info("document pipeline completed", "job", job.JobID, "attempt", job.Attempt)
	metrics.JobsCompleted.Inc()
	return domain.Processed()
}

// downloadAndStore covers Received through Stored. Returns the stored
// location, or a result plus done=true when the pipeline ends here.
func (p *DocumentProcessor) downloadAndStore(ctx context.Context, job domain.DocumentJob) (string, domain.HandledResult, bool) {
	if err := p.tracker.Transition(ctx, job.JobID, domain.StateReceived, domain.StateDownloading); err != nil {
		res := p.stale(job, err)
		return "", res, true
	}

	ref := domain.MediaRef{ID: job.MediaID, Filename: job.Filename, MimeType: job.MimeType, Caption: job.Caption}
	var data []byte
	err := p.retry.Do(ctx, "download "+job.JobID, func(ctx context.Context) error {
		var err error
		data, err = p.platform.FetchMedia(ctx, ref)
		return err
	})
	if err != nil {
		res := p.fail(ctx, job, domain.StageDownload, err)
		return "", res, true
	}

	if err := p.tracker.Transition(ctx, job.JobID, domain.StateDownloading, domain.StateDownloaded); err != nil {
		res := p.stale(job, err)
		return "", res, true
	}
	if err := p.tracker.Transition(ctx, job.JobID, domain.StateDownloaded, domain.StateStoring); err != nil {
		res := p.stale(job, err)
		return "", res, true
	}

	var location string
	err = p.retry.Do(ctx, "store "+job.JobID, func(ctx context.Context) error {
		var err error
		location, err = p.storage.Store(ctx, job, data)
		return err
	})
	if err != nil {
		res := p.fail(ctx, job, domain.StageStore, err)
		return "", res, true
	}

	// Index the document before committing Stored, so every job at or
	// past Stored has a visible list/find entry.
	if err := p.docs.Put(ctx, docstore.Document{
		ID:          job.JobID,
		Sender:      job.Sender,
		Filename:    job.Filename,
		Description: job.Caption,
		MimeType:    job.MimeType,
		Location:    location,
	}); err != nil {
		res := p.fail(ctx, job, domain.StageStore, err)
		return "", res, true
	}

	if err := p.tracker.MarkStored(ctx, job.JobID, location); err != nil {
		res := p.stale(job, err)
		return "", res, true
	}
	return location, domain.HandledResult{}, false
}

// fail records a terminal failure and tells the user which stage broke.
// When the Failed write is fenced out (the job was reclaimed by another
// delivery), the new owner owns the job and its notifications; this
// worker stays silent.
func (p *DocumentProcessor) fail(ctx context.Context, job domain.DocumentJob, stage domain.Stage, err error) domain.HandledResult {
	stageErr := &domain.StageError{Stage: stage, Err: err}
	p.logger.Warn("document pipeline failed", "job", job.JobID, "stage", stage, "err", err)
	if mfErr := p.tracker.MarkFailed(ctx, job.JobID, job.Attempt, stageErr.Record()); mfErr != nil {
		return p.stale(job, mfErr)
	}
	p.notify(ctx, job.Sender, p.replies.DocumentFailed(job.Filename, string(stage)))
	metrics.JobsFailed.Inc()
	return domain.Failed(stageErr.Record())
}

// stale maps a lost state-guarded write to a duplicate outcome; the
// worker that won the race owns the job and its notifications.
func (p *DocumentProcessor) stale(job domain.DocumentJob, err error) domain.HandledResult {
	if errors.Is(err, domain.ErrStaleTransition) {
		p.logger.Debug("lost job to another worker", "job", job.JobID)
		return domain.DuplicateSkipped()
	}
	return domain.Failed("ingest:" + err.Error())
}

// notify sends a per-document status message. Statuses bypass the
// reply-kind claim: two different documents finishing in the same
// window must both produce a message.
func (p *DocumentProcessor) notify(ctx context.Context, recipient, body string) {
	_, err := p.sender.Send(ctx, domain.OutboundMessage{
		Recipient:   recipient,
		Body:        body,
		ReplyKind:   domain.ReplyDocumentStatus,
		BypassDedup: true,
	})
	if err != nil {
		p.logger.Error("status notification failed", "recipient", recipient, "err", err)
	}
}
