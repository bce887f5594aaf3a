package alert

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// ThrottleWindow is the minimum time between two notifications for one pair
const ThrottleWindow = 60 * time.Minute

// Limiter decides whether a notification for key may go out at now
type Limiter interface {
	TryAcquire(key string, now time.Time) bool
	TimeRemaining(key string, now time.Time) time.Duration
}

// Throttle is an in-process per-key rate limiter. Records live for the
// process lifetime only.
type Throttle struct {
	window time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewThrottle creates a throttle; a non-positive window means ThrottleWindow
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = ThrottleWindow
	}
	return &Throttle{
		window:   window,
		lastSent: make(map[string]time.Time),
	}
}

// Window returns the cool-down window
func (t *Throttle) Window() time.Duration {
	return t.window
}

// TryAcquire records now as the last send time for key and returns true when
// no record exists or the window has elapsed. Otherwise the record is left
// untouched and false is returned.
func (t *Throttle) TryAcquire(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSent[key]
	if ok && now.Sub(last) < t.window {
		return false
	}
	t.lastSent[key] = now
	return true
}

// TimeRemaining returns how long until key may send again, 0 if it may now
func (t *Throttle) TimeRemaining(key string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, ok := t.lastSent[key]
	if !ok {
		return 0
	}
	remaining := t.window - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FormatRemaining renders a wait time as "N minutes" or "H hours M minutes",
// rounding up to the next whole minute
func FormatRemaining(d time.Duration) string {
	minutes := int(math.Ceil(d.Minutes()))
	if minutes < 60 {
		return fmt.Sprintf("%d %s", minutes, plural(minutes, "minute"))
	}
	hours := minutes / 60
	rest := minutes % 60
	return fmt.Sprintf("%d %s %d %s", hours, plural(hours, "hour"), rest, plural(rest, "minute"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}
