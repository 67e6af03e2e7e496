package sender

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"docverse/internal/domain"
	"docverse/internal/retry"
)

// fakePlatform scripts SendText outcomes per attempt.
type fakePlatform struct {
	mu     sync.Mutex
	errs   []error // consumed one per attempt; nil entry = success
	bodies []string
}

func (f *fakePlatform) SendText(ctx context.Context, recipient, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	if len(f.errs) == 0 {
		return "d-1", nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	if err != nil {
		return "", err
	}
	return "d-1", nil
}

func (f *fakePlatform) FetchMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	return nil, errors.New("not used")
}

func (f *fakePlatform) attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bodies)
}

// fakeLedger is an in-memory claim store.
type fakeLedger struct {
	mu     sync.Mutex
	claims map[string]bool
	fail   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{claims: make(map[string]bool)}
}

func (f *fakeLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	if f.claims[key] {
		return false, nil
	}
	f.claims[key] = true
	return true, nil
}

func (f *fakeLedger) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.claims, key)
	return nil
}

func (f *fakeLedger) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claims[key], nil
}

func newTestSender(p *fakePlatform, l *fakeLedger) *Sender {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(p, l, Config{
		ReplyTTL: time.Minute,
		Retry:    retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Logger:   logger,
	})
}

func transientErr() error {
	return &domain.TransientError{Op: "send", Err: errors.New("HTTP 503")}
}

func TestSend_RetriesTransientThenDelivers(t *testing.T) {
	p := &fakePlatform{errs: []error{transientErr(), transientErr(), nil}}
	s := newTestSender(p, newFakeLedger())

	res, err := s.Send(context.Background(), domain.OutboundMessage{
		Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus, BypassDedup: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Delivered || res.DeliveryID != "d-1" {
		t.Fatalf("result = %+v", res)
	}
	if p.attempts() != 3 {
		t.Fatalf("attempts = %d, want 3", p.attempts())
	}
}

func TestSend_StopsAtAttemptBudget(t *testing.T) {
	p := &fakePlatform{errs: []error{transientErr(), transientErr(), transientErr(), transientErr()}}
	s := newTestSender(p, newFakeLedger())

	_, err := s.Send(context.Background(), domain.OutboundMessage{
		Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus, BypassDedup: true,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if p.attempts() != 3 {
		t.Fatalf("attempts = %d, want exactly 3", p.attempts())
	}
}

func TestSend_AuthFailureNoSecondAttempt(t *testing.T) {
	p := &fakePlatform{errs: []error{&domain.AuthError{Op: "send", Err: errors.New("401")}}}
	s := newTestSender(p, newFakeLedger())

	_, err := s.Send(context.Background(), domain.OutboundMessage{
		Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus, BypassDedup: true,
	})
	if !domain.IsAuth(err) {
		t.Fatalf("want auth error, got %v", err)
	}
	if p.attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", p.attempts())
	}
}

func TestSend_BypassDeliversIdenticalRepliesTwice(t *testing.T) {
	p := &fakePlatform{}
	s := newTestSender(p, newFakeLedger())
	msg := domain.OutboundMessage{
		Recipient: "S", Body: "Your documents:\n1. a.txt", ReplyKind: domain.ReplyList, BypassDedup: true,
	}

	for i := 0; i < 2; i++ {
		res, err := s.Send(context.Background(), msg)
		if err != nil {
			t.Fatal(err)
		}
		if !res.Delivered {
			t.Fatalf("send %d suppressed", i+1)
		}
	}
	if p.attempts() != 2 {
		t.Fatalf("attempts = %d, want 2 delivered messages", p.attempts())
	}
	// Uniqueness tokens keep the two payloads distinct.
	if p.bodies[0] == p.bodies[1] {
		t.Fatal("bypass payloads must differ")
	}
	for _, b := range p.bodies {
		if !strings.HasPrefix(b, msg.Body) {
			t.Fatalf("token must be appended, body = %q", b)
		}
	}
}

func TestSend_NonBypassSecondSendSuppressed(t *testing.T) {
	p := &fakePlatform{}
	s := newTestSender(p, newFakeLedger())
	msg := domain.OutboundMessage{Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus}

	res, err := s.Send(context.Background(), msg)
	if err != nil || !res.Delivered {
		t.Fatalf("first send: res=%+v err=%v", res, err)
	}
	res, err = s.Send(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Suppressed || res.Delivered {
		t.Fatalf("second send should be suppressed, got %+v", res)
	}
	if p.attempts() != 1 {
		t.Fatalf("attempts = %d, want 1", p.attempts())
	}
}

func TestSend_LedgerUnavailableBlocksSend(t *testing.T) {
	p := &fakePlatform{}
	l := newFakeLedger()
	l.fail = domain.ErrLedgerUnavailable
	s := newTestSender(p, l)

	_, err := s.Send(context.Background(), domain.OutboundMessage{
		Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus,
	})
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("want ledger unavailable, got %v", err)
	}
	if p.attempts() != 0 {
		t.Fatal("must not send without a claim guarantee")
	}
}

func TestSend_FailedSendReleasesClaim(t *testing.T) {
	p := &fakePlatform{errs: []error{&domain.AuthError{Op: "send", Err: errors.New("401")}, nil}}
	l := newFakeLedger()
	s := newTestSender(p, l)
	msg := domain.OutboundMessage{Recipient: "S", Body: "hi", ReplyKind: domain.ReplyDocumentStatus}

	if _, err := s.Send(context.Background(), msg); err == nil {
		t.Fatal("expected first send to fail")
	}

	// Claim was rolled back, so a later send is not suppressed.
	res, err := s.Send(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Delivered {
		t.Fatalf("retry after release should deliver, got %+v", res)
	}
}
