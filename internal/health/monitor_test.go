package health

import (
	"strings"
	"sync"
	"testing"
	"time"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestMonitor(c *clock) *Monitor {
	m := NewMonitor(DefaultTuning())
	m.Now = c.Now
	return m
}

func TestUnknownDevice(t *testing.T) {
	m := newTestMonitor(newClock(time.Now()))

	if _, ok := m.Get("ghost"); ok {
		t.Fatal("unknown device must not have health")
	}
	if dec := m.IsSafeToSend("ghost"); !dec.Safe {
		t.Fatalf("device with no history must be safe, got %q", dec.Reason)
	}
	if d := m.RecommendedDelay("ghost"); d != 0 {
		t.Fatalf("unknown device delay = %v, want 0", d)
	}
}

func TestHealthyAfterGoodActivity(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	for i := 0; i < 20; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
		c.Advance(time.Minute)
	}

	h, ok := m.Get("dev-1")
	if !ok {
		t.Fatal("expected health after activity")
	}
	if h.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy (score %d)", h.Status, h.Score)
	}
	if h.Score != 100 {
		t.Fatalf("score = %d, want 100", h.Score)
	}
	if dec := m.IsSafeToSend("dev-1"); !dec.Safe {
		t.Fatalf("healthy device must be safe, got %q", dec.Reason)
	}
	if d := m.RecommendedDelay("dev-1"); d != 0 {
		t.Fatalf("healthy device delay = %v, want 0", d)
	}
}

func TestCollapsedSuccessRateBlocks(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	// last 20 events: 18 failures, 2 successes
	for i := 0; i < 18; i++ {
		m.RecordActivity("dev-1", Event{Type: EventFailed})
		c.Advance(time.Second)
	}
	for i := 0; i < 2; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
		c.Advance(time.Second)
	}

	h, _ := m.Get("dev-1")
	if h.Status != StatusBlocked {
		t.Fatalf("status = %s (score %d), want blocked", h.Status, h.Score)
	}
	dec := m.IsSafeToSend("dev-1")
	if dec.Safe {
		t.Fatal("blocked device must not be safe")
	}
	if !strings.Contains(dec.Reason, "device health protection") {
		t.Fatalf("reason = %q, want descriptive protection reason", dec.Reason)
	}
	if !containsWarning(h.Warnings, "success rate") {
		t.Fatalf("warnings = %v, want success-rate factor", h.Warnings)
	}
}

func TestDisconnectPenalty(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	for i := 0; i < 10; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
	}
	for i := 0; i < 4; i++ {
		m.RecordActivity("dev-1", Event{Type: EventDisconnected})
		m.RecordActivity("dev-1", Event{Type: EventReconnected})
	}

	h, _ := m.Get("dev-1")
	// 4 disconnects x 8 points
	if h.Score != 68 {
		t.Fatalf("score = %d, want 68", h.Score)
	}
	if h.Status != StatusWarning {
		t.Fatalf("status = %s, want warning", h.Status)
	}
	if !containsWarning(h.Warnings, "disconnected 4 times") {
		t.Fatalf("warnings = %v", h.Warnings)
	}
	if h.Metrics.DisconnectionCount24h != 4 {
		t.Fatalf("disconnects = %d, want 4", h.Metrics.DisconnectionCount24h)
	}
	// warning devices still pass the gate but get extra spacing
	if dec := m.IsSafeToSend("dev-1"); !dec.Safe {
		t.Fatalf("warning device should be safe, got %q", dec.Reason)
	}
	if d := m.RecommendedDelay("dev-1"); d <= 0 {
		t.Fatal("warning device must get a recommended delay")
	}
}

func TestScoreRecoversAsEventsAge(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	for i := 0; i < 6; i++ {
		m.RecordActivity("dev-1", Event{Type: EventDisconnected})
	}
	h, _ := m.Get("dev-1")
	low := h.Score

	c.Advance(25 * time.Hour)
	m.Recompute()
	h, _ = m.Get("dev-1")
	if h.Score <= low {
		t.Fatalf("score should recover after events age out: %d -> %d", low, h.Score)
	}
	if h.Status != StatusHealthy {
		t.Fatalf("status = %s, want healthy after recovery", h.Status)
	}
}

func TestWarmupCapsScore(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	m.StartWarmup("dev-1")
	for i := 0; i < 20; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
	}

	h, _ := m.Get("dev-1")
	if h.Score >= healthyThreshold {
		t.Fatalf("warm-up must cap a fresh device below healthy, got %d", h.Score)
	}
	if !h.Metrics.WarmupPhase {
		t.Fatal("warmup phase flag not set")
	}
	if !containsWarning(h.Warnings, "warm-up") {
		t.Fatalf("warnings = %v, want warm-up factor", h.Warnings)
	}

	// halfway through the ramp the ceiling has risen but stays below healthy
	c.Advance(3*24*time.Hour + 12*time.Hour)
	m.Recompute()
	h, _ = m.Get("dev-1")
	if h.Score <= 50 || h.Score >= healthyThreshold {
		t.Fatalf("mid-ramp score = %d, want between floor and healthy", h.Score)
	}

	// late in the ramp a device with perfect metrics is still at most warning
	c.Advance(2*24*time.Hour + 12*time.Hour) // day 6 of 7
	for i := 0; i < 20; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
	}
	h, _ = m.Get("dev-1")
	if h.Score >= healthyThreshold {
		t.Fatalf("day-6 score = %d, warm-up must cap below healthy until the ramp elapses", h.Score)
	}
	if h.Status == StatusHealthy {
		t.Fatalf("day-6 status = %s, want at most warning", h.Status)
	}

	// after the ramp, good metrics reach healthy
	c.Advance(24 * time.Hour)
	m.Recompute()
	h, _ = m.Get("dev-1")
	if h.Status != StatusHealthy {
		t.Fatalf("post-ramp status = %s (score %d), want healthy", h.Status, h.Score)
	}
	if h.Metrics.WarmupPhase {
		t.Fatal("warmup phase must end after the ramp")
	}
}

func TestCooldownGatesSends(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
	m.StartCooldown("dev-1", 5*time.Minute)

	dec := m.IsSafeToSend("dev-1")
	if dec.Safe {
		t.Fatal("cooldown must gate sends")
	}
	if !strings.Contains(dec.Reason, "cooldown") {
		t.Fatalf("reason = %q", dec.Reason)
	}

	c.Advance(6 * time.Minute)
	if dec := m.IsSafeToSend("dev-1"); !dec.Safe {
		t.Fatalf("cooldown elapsed, expected safe, got %q", dec.Reason)
	}
}

func TestCriticalHourlyCap(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	tuning := DefaultTuning()
	tuning.CriticalHourlyCap = 3
	m := NewMonitor(tuning)
	m.Now = c.Now

	// roughly 40% success keeps the device critical, not blocked
	for i := 0; i < 6; i++ {
		m.RecordActivity("dev-1", Event{Type: EventFailed})
	}
	for i := 0; i < 4; i++ {
		m.RecordActivity("dev-1", Event{Type: EventSent, Latency: time.Second})
	}

	h, _ := m.Get("dev-1")
	if h.Status != StatusCritical {
		t.Fatalf("status = %s (score %d), want critical", h.Status, h.Score)
	}
	// 4 sends in the last hour >= cap of 3
	dec := m.IsSafeToSend("dev-1")
	if dec.Safe {
		t.Fatal("critical device over hourly cap must be gated")
	}
	if !strings.Contains(dec.Reason, "hourly cap") {
		t.Fatalf("reason = %q", dec.Reason)
	}
}

func TestAllAndNeedingAttention(t *testing.T) {
	c := newClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	m := newTestMonitor(c)

	m.RecordActivity("good", Event{Type: EventSent, Latency: time.Second})
	for i := 0; i < 10; i++ {
		m.RecordActivity("bad", Event{Type: EventFailed})
	}

	all := m.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d devices, want 2", len(all))
	}
	if all[0].DeviceID != "bad" || all[1].DeviceID != "good" {
		t.Fatalf("All() not sorted: %s, %s", all[0].DeviceID, all[1].DeviceID)
	}

	attention := m.NeedingAttention()
	if len(attention) != 1 || attention[0].DeviceID != "bad" {
		t.Fatalf("NeedingAttention = %+v", attention)
	}
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
