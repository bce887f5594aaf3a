package alert_test

import (
	"sync"
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/alert"
)

func TestThrottle_TryAcquire(t *testing.T) {
	throttle := alert.NewThrottle(alert.ThrottleWindow)
	start := time.Unix(1700000000, 0)

	if !throttle.TryAcquire("P1", start) {
		t.Fatal("Expected first acquire to succeed")
	}
	if throttle.TryAcquire("P1", start) {
		t.Error("Expected immediate second acquire to fail")
	}
	if throttle.TryAcquire("P1", start.Add(59*time.Minute)) {
		t.Error("Expected acquire inside the window to fail")
	}
	if !throttle.TryAcquire("P1", start.Add(60*time.Minute)) {
		t.Error("Expected acquire once the window elapsed to succeed")
	}
}

func TestThrottle_KeysAreIndependent(t *testing.T) {
	throttle := alert.NewThrottle(alert.ThrottleWindow)
	now := time.Unix(1700000000, 0)

	if !throttle.TryAcquire("P1", now) {
		t.Fatal("Expected P1 acquire to succeed")
	}
	if !throttle.TryAcquire("P2", now) {
		t.Error("Expected P2 acquire to succeed while P1 cools down")
	}
}

func TestThrottle_FailedAcquireKeepsRecord(t *testing.T) {
	throttle := alert.NewThrottle(alert.ThrottleWindow)
	start := time.Unix(1700000000, 0)

	throttle.TryAcquire("P1", start)
	throttle.TryAcquire("P1", start.Add(30*time.Minute))

	// the rejected attempt must not push the window forward
	if !throttle.TryAcquire("P1", start.Add(60*time.Minute)) {
		t.Error("Expected window to be measured from the first acquire")
	}
}

func TestThrottle_TimeRemaining(t *testing.T) {
	throttle := alert.NewThrottle(alert.ThrottleWindow)
	start := time.Unix(1700000000, 0)

	if got := throttle.TimeRemaining("P1", start); got != 0 {
		t.Errorf("Expected 0 without a record, got %v", got)
	}

	throttle.TryAcquire("P1", start)

	if got := throttle.TimeRemaining("P1", start.Add(15*time.Minute)); got != 45*time.Minute {
		t.Errorf("Expected 45m remaining, got %v", got)
	}
	if got := throttle.TimeRemaining("P1", start.Add(2*time.Hour)); got != 0 {
		t.Errorf("Expected 0 after the window, got %v", got)
	}
}

func TestThrottle_DefaultWindow(t *testing.T) {
	throttle := alert.NewThrottle(0)
	if throttle.Window() != alert.ThrottleWindow {
		t.Errorf("Expected default window %v, got %v", alert.ThrottleWindow, throttle.Window())
	}
}

func TestThrottle_ConcurrentAcquire(t *testing.T) {
	throttle := alert.NewThrottle(alert.ThrottleWindow)
	now := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if throttle.TryAcquire("P1", now) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 1 {
		t.Errorf("Expected exactly one acquire, got %d", granted)
	}
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "1 minute"},
		{58*time.Minute + 1*time.Second, "59 minutes"},
		{59*time.Minute + 1*time.Second, "1 hour 0 minutes"},
		{45 * time.Minute, "45 minutes"},
		{60 * time.Minute, "1 hour 0 minutes"},
		{61 * time.Minute, "1 hour 1 minute"},
		{125 * time.Minute, "2 hours 5 minutes"},
	}

	for _, tt := range tests {
		if got := alert.FormatRemaining(tt.in); got != tt.want {
			t.Errorf("FormatRemaining(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestProcessedSet(t *testing.T) {
	set := alert.NewProcessedSet()
	key := alert.DedupKey("P1", 1700000000)

	if key != "P1_1700000000" {
		t.Errorf("Unexpected dedup key %s", key)
	}
	if !set.Begin(key) {
		t.Fatal("Expected first claim to succeed")
	}
	if set.Begin(key) {
		t.Error("Expected claim to fail while in flight")
	}

	set.Abort(key)
	if set.Has(key) {
		t.Error("Expected aborted key not to be processed")
	}
	if !set.Begin(key) {
		t.Fatal("Expected claim after abort to succeed")
	}

	set.Complete(key)
	if !set.Has(key) || set.Len() != 1 {
		t.Error("Expected key to be processed")
	}
	if set.Begin(key) {
		t.Error("Expected claim of processed key to fail")
	}
}
