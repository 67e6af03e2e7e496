package bus

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"docverse/internal/domain"
)

func testBusLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(4, testBusLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{MessageID: "m1", Sender: "S"})

	select {
	case msg := <-b.Subscribe():
		if msg.MessageID != "m1" {
			t.Fatalf("message = %q", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("no message on subscribe channel")
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := New(8, testBusLogger())
	defer b.Close()

	for _, id := range []string{"m1", "m2", "m3"} {
		b.Publish(domain.InboundMessage{MessageID: id, Sender: "S"})
	}
	ch := b.Subscribe()
	for _, want := range []string{"m1", "m2", "m3"} {
		got := <-ch
		if got.MessageID != want {
			t.Fatalf("got %q, want %q", got.MessageID, want)
		}
	}
}

func TestCloseEndsSubscription(t *testing.T) {
	b := New(1, testBusLogger())
	b.Close()

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("channel should be closed")
	}
	// Publishing after close must not panic.
	b.Publish(domain.InboundMessage{MessageID: "late", Sender: "S"})
	// Double close is a no-op.
	b.Close()
}
