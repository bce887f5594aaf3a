package liveness_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/liveness"
)

func TestWatchdog_GoesOfflineAfterTimeout(t *testing.T) {
	var offline []string
	w := liveness.NewWatchdog(liveness.DefaultTimeout, func(pairID string) {
		offline = append(offline, pairID)
	})
	start := time.Unix(1700000000, 0)

	w.Touch("P1", start)
	if !w.IsOnline("P1") {
		t.Fatal("Expected pair online after a reading")
	}

	if got := w.Sweep(start.Add(30 * time.Second)); len(got) != 0 {
		t.Errorf("Expected pair still online at exactly the timeout, got %v", got)
	}

	got := w.Sweep(start.Add(31 * time.Second))
	if len(got) != 1 || got[0] != "P1" {
		t.Fatalf("Expected P1 offline, got %v", got)
	}
	if w.IsOnline("P1") {
		t.Error("Expected P1 reported offline")
	}

	// already offline pairs are not reported twice
	if got := w.Sweep(start.Add(time.Minute)); len(got) != 0 {
		t.Errorf("Expected no repeated transition, got %v", got)
	}
	if len(offline) != 1 {
		t.Errorf("Expected one offline callback, got %d", len(offline))
	}
}

func TestWatchdog_TouchResetsDeadline(t *testing.T) {
	w := liveness.NewWatchdog(liveness.DefaultTimeout, nil)
	start := time.Unix(1700000000, 0)

	w.Touch("P1", start)
	w.Touch("P1", start.Add(20*time.Second))

	if got := w.Sweep(start.Add(45 * time.Second)); len(got) != 0 {
		t.Errorf("Expected reset deadline to keep P1 online, got %v", got)
	}
}

func TestWatchdog_TouchReportsRecovery(t *testing.T) {
	w := liveness.NewWatchdog(liveness.DefaultTimeout, nil)
	start := time.Unix(1700000000, 0)

	if w.Touch("P1", start) {
		t.Error("Expected first reading not to count as recovery")
	}
	w.Sweep(start.Add(time.Minute))

	if !w.Touch("P1", start.Add(2*time.Minute)) {
		t.Error("Expected reading after offline to report recovery")
	}
	if !w.IsOnline("P1") {
		t.Error("Expected P1 online again")
	}
}

func TestWatchdog_UnknownPairOffline(t *testing.T) {
	w := liveness.NewWatchdog(0, nil)
	if w.IsOnline("P9") {
		t.Error("Expected unknown pair to be offline")
	}
	if w.Timeout() != liveness.DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", w.Timeout())
	}
}

func TestWatchdog_RunSweepsOnTick(t *testing.T) {
	var mu sync.Mutex
	done := make(chan struct{})
	w := liveness.NewWatchdog(10*time.Millisecond, func(pairID string) {
		mu.Lock()
		defer mu.Unlock()
		select {
		case <-done:
		default:
			close(done)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Touch("P1", time.Now())
	go w.Run(ctx, 5*time.Millisecond)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected pair to go offline from the ticker")
	}
}
