package domain

import "time"

// EventKind classifies an inbound event once, at the webhook boundary.
type EventKind int

const (
	KindText EventKind = iota
	KindDocument
	KindOther
)

func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindDocument:
		return "document"
	default:
		return "other"
	}
}

// MediaRef identifies an uploaded document on the messaging platform.
type MediaRef struct {
	ID       string
	Filename string
	MimeType string
	Caption  string
}

// InboundMessage is one delivered webhook event. Immutable once built;
// the platform may deliver the same MessageID more than once.
type InboundMessage struct {
	MessageID  string
	Sender     string
	Kind       EventKind
	Text       string
	Media      *MediaRef
	ReceivedAt time.Time
}

// DedupKey is the ledger claim key for this message.
func (m InboundMessage) DedupKey() string {
	return m.Sender + ":" + m.MessageID
}

// ReplyKind labels an outbound reply for reply-level deduplication.
type ReplyKind string

const (
	ReplyWelcome        ReplyKind = "welcome"
	ReplyHelp           ReplyKind = "help_command"
	ReplyList           ReplyKind = "list_command"
	ReplyFind           ReplyKind = "find_command"
	ReplyAsk            ReplyKind = "ask_command"
	ReplyDelete         ReplyKind = "delete_command"
	ReplySelection      ReplyKind = "selection"
	ReplyDocumentStatus ReplyKind = "document_status"
)

// OutboundMessage is a reply to be delivered through the Message Sender.
// BypassDedup skips the ledger claim and appends a uniqueness token so
// platform-side content deduplication cannot collapse repeated texts.
type OutboundMessage struct {
	Recipient   string
	Body        string
	ReplyKind   ReplyKind
	BypassDedup bool
}

// DeliveryResult reports what the Message Sender did with a message.
type DeliveryResult struct {
	Delivered  bool
	Suppressed bool // lost the reply-level dedup claim; nothing was sent
	DeliveryID string
}

// Outcome enumerates what happened to an inbound event.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeDuplicateSkipped
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeDuplicateSkipped:
		return "duplicate_skipped"
	default:
		return "failed"
	}
}

// HandledResult is returned from the top-level handler so callers can
// tell a handled duplicate from a failure without inspecting errors.
type HandledResult struct {
	Outcome Outcome
	Reason  string // stage:detail for failures, free text otherwise
}

func Processed() HandledResult         { return HandledResult{Outcome: OutcomeProcessed} }
func DuplicateSkipped() HandledResult  { return HandledResult{Outcome: OutcomeDuplicateSkipped} }
func Failed(reason string) HandledResult {
	return HandledResult{Outcome: OutcomeFailed, Reason: reason}
}
