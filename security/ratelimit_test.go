package security

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_BurstThenLimit(t *testing.T) {
	rl := NewRateLimiter(10, 5, discardLogger())
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		if !rl.Allow("198.51.100.1") {
			t.Fatalf("request %d inside burst was denied", i+1)
		}
	}
	if rl.Allow("198.51.100.1") {
		t.Error("request beyond burst was allowed")
	}
}

func TestRateLimiter_IdentifiersAreIndependent(t *testing.T) {
	rl := NewRateLimiter(10, 1, discardLogger())
	defer rl.Stop()

	if !rl.Allow("198.51.100.1") {
		t.Error("first identifier denied its burst")
	}
	if !rl.Allow("198.51.100.2") {
		t.Error("second identifier affected by the first's bucket")
	}
	if rl.Allow("198.51.100.1") {
		t.Error("first identifier got a second burst token")
	}
}

func TestRateLimiter_CapacityEvictsOldest(t *testing.T) {
	rl := NewRateLimiterWithCapacity(10, 1, 3, discardLogger())
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}
	if got := rl.Tracked(); got != 3 {
		t.Fatalf("Tracked() = %d, want 3", got)
	}

	// A fourth identifier displaces id-0, the least recently seen.
	rl.Allow("id-3")
	if got := rl.Tracked(); got != 3 {
		t.Errorf("Tracked() = %d after eviction, want 3", got)
	}

	// id-0's bucket is gone, so it gets a fresh burst token.
	if !rl.Allow("id-0") {
		t.Error("evicted identifier should start with a fresh bucket")
	}
}

func TestRateLimiter_SweepDropsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(10, 5, discardLogger())
	defer rl.Stop()

	rl.Allow("198.51.100.1")
	rl.Allow("198.51.100.2")

	rl.Sweep(0) // everything is older than "now"
	if got := rl.Tracked(); got != 0 {
		t.Errorf("Tracked() = %d after sweep, want 0", got)
	}
}

func TestRateLimiter_SweepKeepsActiveBuckets(t *testing.T) {
	rl := NewRateLimiter(10, 5, discardLogger())
	defer rl.Stop()

	rl.Allow("198.51.100.1")
	rl.Sweep(time.Hour)
	if got := rl.Tracked(); got != 1 {
		t.Errorf("Tracked() = %d, want 1", got)
	}
}

func TestRateLimiter_NilLoggerDefaults(t *testing.T) {
	rl := NewRateLimiter(10, 5, nil)
	defer rl.Stop()

	if rl.logger == nil {
		t.Error("nil logger was not replaced with a default")
	}
}
