package dedup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestClaim_FirstWinsSecondLoses(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	won, err := l.Claim(ctx, "S:msg-1", time.Minute)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !won {
		t.Fatal("first claim should win")
	}

	won, err = l.Claim(ctx, "S:msg-1", time.Minute)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if won {
		t.Fatal("second claim within TTL should lose")
	}
}

func TestClaim_DifferentKeysIndependent(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	for _, key := range []string{"S:msg-1", "S:msg-2", "T:msg-1"} {
		won, err := l.Claim(ctx, key, time.Minute)
		if err != nil {
			t.Fatalf("claim %s: %v", key, err)
		}
		if !won {
			t.Errorf("claim %s should win", key)
		}
	}
}

func TestClaim_ConcurrentExactlyOneWinner(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := l.Claim(ctx, "S:race", time.Minute)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", winners)
	}
}

func TestClaim_ExpiredKeyClaimableAgain(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	if won, _ := l.Claim(ctx, "S:short", 10*time.Millisecond); !won {
		t.Fatal("first claim should win")
	}
	time.Sleep(30 * time.Millisecond)

	won, err := l.Claim(ctx, "S:short", time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !won {
		t.Fatal("expired key should be claimable again")
	}
}

func TestRelease_MakesKeyClaimable(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	l.Claim(ctx, "S:rollback", time.Minute)
	if err := l.Release(ctx, "S:rollback"); err != nil {
		t.Fatalf("release: %v", err)
	}
	won, err := l.Claim(ctx, "S:rollback", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !won {
		t.Fatal("released key should be claimable")
	}
}

func TestExists(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	ok, err := l.Exists(ctx, "S:none")
	if err != nil || ok {
		t.Fatalf("missing key: exists=%v err=%v", ok, err)
	}

	l.Claim(ctx, "S:here", time.Minute)
	ok, err = l.Exists(ctx, "S:here")
	if err != nil || !ok {
		t.Fatalf("claimed key: exists=%v err=%v", ok, err)
	}

	// Exists must not resurrect or extend expired claims.
	l.Claim(ctx, "S:gone", 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	ok, _ = l.Exists(ctx, "S:gone")
	if ok {
		t.Fatal("expired key should not exist")
	}
}

func TestSweep_EvictsOnlyExpired(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()

	l.Claim(ctx, "S:old", 5*time.Millisecond)
	l.Claim(ctx, "S:fresh", time.Minute)
	time.Sleep(20 * time.Millisecond)

	n, err := l.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 evicted, got %d", n)
	}
	if ok, _ := l.Exists(ctx, "S:fresh"); !ok {
		t.Fatal("fresh claim must survive sweep")
	}
}
