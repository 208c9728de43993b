// Package ratelimit enforces per-device send pacing over a sliding window of
// recent send timestamps. The limiter is a pure query: it never sleeps, it
// answers how long the caller must wait. Scheduling is owned by the dispatch
// loop, which re-evaluates on a later tick.
package ratelimit

import (
	"sync"
	"time"
)

const (
	slidingWindow = time.Minute
	burstWindow   = 10 * time.Second
)

type Limiter struct {
	mu    sync.Mutex
	sends map[string][]time.Time // per device, oldest first
}

func New() *Limiter {
	return &Limiter{sends: make(map[string][]time.Time)}
}

// Record registers a send at the given time. Called by the dispatcher at the
// moment a message is handed to the device client.
func (l *Limiter) Record(deviceID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends[deviceID] = append(l.trim(deviceID, at), at)
}

// Wait returns 0 if a send may proceed now, otherwise the duration until the
// relevant window slides far enough. perMinute bounds the 60s window and
// burst bounds a 10s sub-window; either can force the wait.
func (l *Limiter) Wait(deviceID string, now time.Time, perMinute, burst int) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	window := l.trim(deviceID, now)
	l.sends[deviceID] = window

	var wait time.Duration
	if perMinute > 0 && len(window) >= perMinute {
		oldest := window[len(window)-perMinute]
		wait = oldest.Add(slidingWindow).Sub(now)
	}
	if burst > 0 {
		recent := countSince(window, now.Add(-burstWindow))
		if recent >= burst {
			oldest := window[len(window)-recent]
			if w := oldest.Add(burstWindow).Sub(now); w > wait {
				wait = w
			}
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// CountSince reports sends at or after the cutoff, for status reporting.
func (l *Limiter) CountSince(deviceID string, cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return countSince(l.sends[deviceID], cutoff)
}

// LastSend returns the most recent recorded send, zero if none.
func (l *Limiter) LastSend(deviceID string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	window := l.sends[deviceID]
	if len(window) == 0 {
		return time.Time{}
	}
	return window[len(window)-1]
}

// trim drops timestamps that have left the sliding window. Caller holds mu.
func (l *Limiter) trim(deviceID string, now time.Time) []time.Time {
	window := l.sends[deviceID]
	cutoff := now.Add(-slidingWindow)
	i := 0
	for i < len(window) && window[i].Before(cutoff) {
		i++
	}
	return window[i:]
}

func countSince(window []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}
