package health

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/observability"
)

type EventType string

const (
	EventSent         EventType = "sent"
	EventFailed       EventType = "failed"
	EventDisconnected EventType = "disconnected"
	EventReconnected  EventType = "reconnected"
)

type Event struct {
	Type    EventType
	At      time.Time
	Latency time.Duration // send round-trip, only meaningful for EventSent
}

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusBlocked  Status = "blocked"
)

type Metrics struct {
	MessagesPerHour       int       `json:"messagesPerHour"`
	SuccessRate           float64   `json:"successRate"`
	AvgResponseTimeMs     int64     `json:"avgResponseTimeMs"`
	DisconnectionCount24h int       `json:"disconnectionCount24h"`
	LastActivityAt        time.Time `json:"lastActivityAt"`
	WarmupPhase           bool      `json:"warmupPhase"`
	WarmupStartedAt       time.Time `json:"warmupStartedAt,omitempty"`
}

// DeviceHealth is the reputation ledger for one device. It is created lazily
// on first observed activity and never deleted afterwards.
type DeviceHealth struct {
	DeviceID    string    `json:"deviceId"`
	Score       int       `json:"score"`
	Status      Status    `json:"status"`
	Metrics     Metrics   `json:"metrics"`
	Warnings    []string  `json:"warnings"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Decision is an advisory admission result, never an error.
type Decision struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}

type deviceState struct {
	events        []Event // bounded, oldest first
	emaResponseMs float64
	lastActivity  time.Time
	warmup        bool
	warmupStart   time.Time
	cooldownUntil time.Time

	// derived on recompute
	score       int
	status      Status
	warnings    []string
	metrics     Metrics
	lastUpdated time.Time
}

type Monitor struct {
	// Now is swappable for deterministic tests.
	Now func() time.Time

	tuning  Tuning
	mu      sync.RWMutex
	devices map[string]*deviceState
}

func NewMonitor(t Tuning) *Monitor {
	return &Monitor{
		Now:     time.Now,
		tuning:  t,
		devices: make(map[string]*deviceState),
	}
}

// RecordActivity appends an event to the device's bounded activity log and
// incrementally refreshes its derived metrics and score.
func (m *Monitor) RecordActivity(deviceID string, ev Event) {
	if ev.At.IsZero() {
		ev.At = m.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.state(deviceID)
	st.events = append(st.events, ev)
	if excess := len(st.events) - m.tuning.ActivityLogSize; excess > 0 {
		st.events = st.events[excess:]
	}
	st.lastActivity = ev.At
	if ev.Type == EventSent && ev.Latency > 0 {
		ms := float64(ev.Latency.Milliseconds())
		if st.emaResponseMs == 0 {
			st.emaResponseMs = ms
		} else {
			a := m.tuning.LatencyEMAAlpha
			st.emaResponseMs = a*ms + (1-a)*st.emaResponseMs
		}
	}
	m.recomputeLocked(deviceID, st)
}

// StartWarmup (re)enters a device into the trust ramp, resetting the clock.
// Used after a fresh pairing or a long dormancy.
func (m *Monitor) StartWarmup(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(deviceID)
	st.warmup = true
	st.warmupStart = m.Now()
	m.recomputeLocked(deviceID, st)
}

// StartCooldown blocks admission for the device until the window elapses.
// Applied after a provider-side throttle signal.
func (m *Monitor) StartCooldown(deviceID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state(deviceID)
	until := m.Now().Add(d)
	if until.After(st.cooldownUntil) {
		st.cooldownUntil = until
	}
	m.recomputeLocked(deviceID, st)
}

// Recompute refreshes every device's derived state; driven by a periodic tick
// so scores recover as bad events age out of the windows.
func (m *Monitor) Recompute() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.devices {
		m.recomputeLocked(id, st)
	}
}

func (m *Monitor) Get(deviceID string) (DeviceHealth, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.devices[deviceID]
	if !ok {
		return DeviceHealth{}, false
	}
	return m.snapshotLocked(deviceID, st), true
}

func (m *Monitor) All() []DeviceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeviceHealth, 0, len(m.devices))
	for id, st := range m.devices {
		out = append(out, m.snapshotLocked(id, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (m *Monitor) NeedingAttention() []DeviceHealth {
	all := m.All()
	out := all[:0]
	for _, h := range all {
		if h.Status != StatusHealthy {
			out = append(out, h)
		}
	}
	return out
}

// IsSafeToSend is the admission gate. A device with no recorded history is
// considered safe; warm-up is the mechanism that constrains unproven devices.
func (m *Monitor) IsSafeToSend(deviceID string) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.devices[deviceID]
	if !ok {
		return Decision{Safe: true}
	}
	now := m.Now()
	m.recomputeLocked(deviceID, st)

	if now.Before(st.cooldownUntil) {
		return Decision{Safe: false, Reason: fmt.Sprintf("cooldown active for %s after provider throttle", st.cooldownUntil.Sub(now).Round(time.Second))}
	}
	switch st.status {
	case StatusBlocked:
		reason := "device health protection: score critically low"
		if len(st.warnings) > 0 {
			reason = "device health protection: " + st.warnings[0]
		}
		return Decision{Safe: false, Reason: reason}
	case StatusCritical:
		if st.metrics.MessagesPerHour >= m.tuning.CriticalHourlyCap {
			return Decision{Safe: false, Reason: fmt.Sprintf("critical health: hourly cap of %d reached", m.tuning.CriticalHourlyCap)}
		}
	}
	return Decision{Safe: true}
}

// RecommendedDelay returns extra pacing beyond the rate limiter's minimum,
// scaling inversely with health. Healthy devices get none.
func (m *Monitor) RecommendedDelay(deviceID string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.devices[deviceID]
	if !ok {
		return 0
	}
	if st.score >= healthyThreshold {
		return 0
	}
	return time.Duration(100-st.score) * m.tuning.DelayPerHealthPoint
}

func (m *Monitor) state(deviceID string) *deviceState {
	st, ok := m.devices[deviceID]
	if !ok {
		st = &deviceState{score: 100, status: StatusHealthy, lastUpdated: m.Now()}
		m.devices[deviceID] = st
	}
	return st
}

func (m *Monitor) recomputeLocked(deviceID string, st *deviceState) {
	now := m.Now()
	score, warnings, metrics := computeScore(st, now, m.tuning)
	st.score = score
	st.status = statusFor(score)
	st.warnings = warnings
	st.metrics = metrics
	st.lastUpdated = now
	observability.DeviceHealthScore.WithLabelValues(deviceID).Set(float64(score))
}

func (m *Monitor) snapshotLocked(deviceID string, st *deviceState) DeviceHealth {
	warnings := make([]string, len(st.warnings))
	copy(warnings, st.warnings)
	return DeviceHealth{
		DeviceID:    deviceID,
		Score:       st.score,
		Status:      st.status,
		Metrics:     st.metrics,
		Warnings:    warnings,
		LastUpdated: st.lastUpdated,
	}
}
