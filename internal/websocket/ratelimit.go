package websocket

import (
	"sync"
	"time"
)

// SlidingWindowRateLimiter allows at most maxRequests within any window of
// windowDuration. Browsers send one source message per keystroke, so the
// limit is generous; it exists to cut off runaway clients.
type SlidingWindowRateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	timestamps     []time.Time
	mutex          sync.Mutex
}

// NewSlidingWindowRateLimiter creates a new sliding window rate limiter.
func NewSlidingWindowRateLimiter(maxRequests int, windowDuration time.Duration) *SlidingWindowRateLimiter {
	return &SlidingWindowRateLimiter{
		maxRequests:    maxRequests,
		windowDuration: windowDuration,
		timestamps:     make([]time.Time, 0, maxRequests),
	}
}

// Allow records a request and reports whether it is within the limit.
func (rl *SlidingWindowRateLimiter) Allow() bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	rl.cleanOldTimestamps(now)

	if len(rl.timestamps) >= rl.maxRequests {
		return false
	}

	rl.timestamps = append(rl.timestamps, now)
	return true
}

// Reset clears all timestamps.
func (rl *SlidingWindowRateLimiter) Reset() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.timestamps = rl.timestamps[:0]
}

func (rl *SlidingWindowRateLimiter) cleanOldTimestamps(now time.Time) {
	cutoff := now.Add(-rl.windowDuration)
	i := 0
	for i < len(rl.timestamps) && !rl.timestamps[i].After(cutoff) {
		i++
	}
	rl.timestamps = append(rl.timestamps[:0], rl.timestamps[i:]...)
}
