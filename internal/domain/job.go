package domain

import "time"

// JobState is a Document Tracker state. Transitions only move forward
// within a lease; Failed is reachable from any non-terminal state.
type JobState string

const (
	StateReceived    JobState = "received"
	StateDownloading JobState = "downloading"
	StateDownloaded  JobState = "downloaded"
	StateStoring     JobState = "storing"
	StateStored      JobState = "stored"
	StateProcessing  JobState = "processing"
	StateCompleted   JobState = "completed"
	StateFailed      JobState = "failed"
)

// Terminal reports whether no further transition may occur.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// next maps each state to its single legal forward successor.
var next = map[JobState]JobState{
	StateReceived:    StateDownloading,
	StateDownloading: StateDownloaded,
	StateDownloaded:  StateStoring,
	StateStoring:     StateStored,
	StateStored:      StateProcessing,
	StateProcessing:  StateCompleted,
}

// CanTransition reports whether from → to is a legal edge.
func (s JobState) CanTransition(to JobState) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return next[s] == to
}

// ResumeState is where a reclaimed job restarts after its lease expired.
// Stored is the first durable checkpoint: anything at or past it keeps
// the stored artifact and re-runs processing only; everything earlier
// restarts from Received.
func (s JobState) ResumeState() JobState {
	switch s {
	case StateStored, StateProcessing:
		return StateStored
	default:
		return StateReceived
	}
}

// DocumentJob is the per-document pipeline record, owned by the Tracker.
type DocumentJob struct {
	JobID          string
	Sender         string
	MediaID        string
	Filename       string
	MimeType       string
	Caption        string
	State          JobState
	Attempt        int
	LastError      string
	StoredLocation string
	LeaseExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobIDFor derives the job identity from the document identity, so
// redeliveries of the same upload land on the same record.
func JobIDFor(sender, mediaID string) string {
	return sender + ":" + mediaID
}

// LeaseExpired reports whether another delivery may reclaim this job.
func (j DocumentJob) LeaseExpired(now time.Time) bool {
	return !j.State.Terminal() && now.After(j.LeaseExpiresAt)
}
