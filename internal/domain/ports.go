package domain

import (
	"context"
	"time"
)

// Ledger is the shared atomic-claim store. Claim must be a single atomic
// store operation: under concurrent calls with the same key, exactly one
// caller observes true during the TTL window.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Platform is the messaging platform seen from the core: fetch uploaded
// media, deliver text replies. Implementations classify their errors as
// Transient/Permanent/Auth and never retry themselves; the caller owns
// the attempt budget.
type Platform interface {
	FetchMedia(ctx context.Context, ref MediaRef) ([]byte, error)
	SendText(ctx context.Context, recipient, body string) (deliveryID string, err error)
}

// CredentialProvider supplies the current platform bearer token. Token
// expiry surfaces from platform calls as an AuthError.
type CredentialProvider interface {
	CurrentToken(ctx context.Context) (string, error)
}

// Storage persists a downloaded document and can remove it again when
// the user deletes the entry.
type Storage interface {
	Store(ctx context.Context, job DocumentJob, data []byte) (location string, err error)
	Remove(ctx context.Context, location string) error
}

// ProcessResult is what the Processing collaborator derived from a
// stored document.
type ProcessResult struct {
	Chunks  []string // searchable text chunks, possibly empty
	Summary string   // one-line human-readable outcome
}

// Processing turns a stored document into its processed result.
type Processing interface {
	Run(ctx context.Context, job DocumentJob, location string) (ProcessResult, error)
}
