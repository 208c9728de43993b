package ratelimit

import (
	"testing"
	"time"
)

func TestWaitAllowsUnderLimit(t *testing.T) {
	l := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 9; i++ {
		l.Record("dev-1", now.Add(time.Duration(i)*time.Second))
	}
	if wait := l.Wait("dev-1", now.Add(9*time.Second), 10, 100); wait != 0 {
		t.Fatalf("expected no wait under the limit, got %v", wait)
	}
}

func TestWaitBlocksUntilWindowSlides(t *testing.T) {
	l := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// 10 sends spread over 30s; limit 10/min
	for i := 0; i < 10; i++ {
		l.Record("dev-1", now.Add(time.Duration(i*3)*time.Second))
	}

	at := now.Add(31 * time.Second)
	wait := l.Wait("dev-1", at, 10, 100)
	if wait <= 0 {
		t.Fatalf("expected a wait at the limit")
	}
	// oldest send leaves the window at now+60s
	if got, want := at.Add(wait), now.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("wait lands at %v, want %v", got, want)
	}

	if w := l.Wait("dev-1", now.Add(61*time.Second), 10, 100); w != 0 {
		t.Fatalf("window slid, expected no wait, got %v", w)
	}
}

func TestBurstSubWindow(t *testing.T) {
	l := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		l.Record("dev-1", now.Add(time.Duration(i)*time.Second))
	}

	// under the minute limit but over the 10s burst of 3
	wait := l.Wait("dev-1", now.Add(3*time.Second), 60, 3)
	if wait <= 0 {
		t.Fatalf("expected burst wait")
	}
	if w := l.Wait("dev-1", now.Add(11*time.Second), 60, 3); w != 0 {
		t.Fatalf("burst window elapsed, expected no wait, got %v", w)
	}
}

func TestDevicesAreIndependent(t *testing.T) {
	l := New()
	now := time.Now()
	for i := 0; i < 10; i++ {
		l.Record("busy", now)
	}
	if w := l.Wait("idle", now, 10, 10); w != 0 {
		t.Fatalf("idle device must not inherit busy device's window, got %v", w)
	}
}

func TestCountSinceAndLastSend(t *testing.T) {
	l := New()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	l.Record("dev-1", now.Add(-90*time.Second))
	l.Record("dev-1", now.Add(-30*time.Second))
	l.Record("dev-1", now.Add(-5*time.Second))

	if got := l.CountSince("dev-1", now.Add(-time.Minute)); got != 2 {
		t.Fatalf("CountSince = %d, want 2", got)
	}
	if got := l.LastSend("dev-1"); !got.Equal(now.Add(-5 * time.Second)) {
		t.Fatalf("LastSend = %v", got)
	}
	if got := l.LastSend("unknown"); !got.IsZero() {
		t.Fatalf("unknown device LastSend = %v, want zero", got)
	}
}
