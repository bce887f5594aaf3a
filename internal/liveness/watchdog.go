package liveness

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Defaults for the offline rule: a pair silent for Timeout is offline,
// checked every Tick
const (
	DefaultTimeout = 30 * time.Second
	DefaultTick    = 5 * time.Second
)

// Watchdog tracks one deadline per pair, pushed forward by every reading.
// A sweep marks pairs whose deadline passed as offline.
type Watchdog struct {
	timeout time.Duration

	mu        sync.Mutex
	lastSeen  map[string]time.Time
	offline   map[string]bool
	onOffline func(pairID string)
}

// NewWatchdog creates a watchdog. onOffline may be nil and is called once
// per online to offline transition, outside the watchdog lock.
func NewWatchdog(timeout time.Duration, onOffline func(pairID string)) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Watchdog{
		timeout:   timeout,
		lastSeen:  make(map[string]time.Time),
		offline:   make(map[string]bool),
		onOffline: onOffline,
	}
}

// SetOnOffline replaces the offline callback
func (w *Watchdog) SetOnOffline(fn func(pairID string)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.onOffline = fn
}

// Timeout returns the silence duration after which a pair is offline
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Touch records a reading for pairID at now and reports whether the pair
// came back from offline
func (w *Watchdog) Touch(pairID string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen[pairID] = now
	wasOffline := w.offline[pairID]
	delete(w.offline, pairID)
	return wasOffline
}

// IsOnline reports whether pairID has been heard from and not timed out
func (w *Watchdog) IsOnline(pairID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, seen := w.lastSeen[pairID]
	return seen && !w.offline[pairID]
}

// LastSeen returns the time of the last reading of pairID
func (w *Watchdog) LastSeen(pairID string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.lastSeen[pairID]
	return t, ok
}

// Sweep marks every pair silent for longer than the timeout as offline and
// returns the pairs that went offline in this sweep, sorted
func (w *Watchdog) Sweep(now time.Time) []string {
	w.mu.Lock()
	var expired []string
	for pairID, seen := range w.lastSeen {
		if w.offline[pairID] {
			continue
		}
		if now.Sub(seen) > w.timeout {
			w.offline[pairID] = true
			expired = append(expired, pairID)
		}
	}
	onOffline := w.onOffline
	w.mu.Unlock()

	sort.Strings(expired)
	if onOffline != nil {
		for _, pairID := range expired {
			onOffline(pairID)
		}
	}
	return expired
}

// Run sweeps every tick until ctx is cancelled
func (w *Watchdog) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			w.Sweep(now)
		}
	}
}
