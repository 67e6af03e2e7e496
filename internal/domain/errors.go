package domain

import (
	"errors"
	"fmt"
)

// ErrLedgerUnavailable means the claim store could not answer; callers
// must not proceed as if they held a claim.
var ErrLedgerUnavailable = errors.New("dedup ledger unavailable")

// ErrStaleTransition means another worker advanced or reclaimed the job
// between this worker's read and write.
var ErrStaleTransition = errors.New("stale job transition")

// TransientError marks a failure worth retrying (timeouts, 5xx, 429).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix (404, expired
// media, malformed input).
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// AuthError marks an expired or invalid credential. Never retried;
// surfaced operationally.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var a *AuthError
	return errors.As(err, &a)
}

// Stage names a pipeline step for user-facing failure messages and for
// the job's last_error field. Raw transport errors stay behind it.
type Stage string

const (
	StageDownload Stage = "download"
	StageStore    Stage = "store"
	StageProcess  Stage = "process"
	StageNotify   Stage = "notify"
)

// StageError ties a classified error to the step that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }

// Record renders the stage:detail form persisted on the job.
func (e *StageError) Record() string {
	return string(e.Stage) + ":" + rootMessage(e.Err)
}

// rootMessage unwraps to the innermost error so persisted records carry
// the cause, not the whole wrap chain.
func rootMessage(err error) string {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err.Error()
		}
		err = inner
	}
}
