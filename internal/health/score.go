package health

import (
	"fmt"
	"time"
)

// Score-to-status thresholds. Monotonic and non-overlapping: >=80 healthy,
// 50-79 warning, 20-49 critical, <20 blocked.
const (
	healthyThreshold  = 80
	warningThreshold  = 50
	criticalThreshold = 20
)

func statusFor(score int) Status {
	switch {
	case score >= healthyThreshold:
		return StatusHealthy
	case score >= warningThreshold:
		return StatusWarning
	case score >= criticalThreshold:
		return StatusCritical
	default:
		return StatusBlocked
	}
}

// Tuning holds the score constants. The exact values are operational knobs,
// not a behavior contract; only the monotonic shape is load-bearing.
type Tuning struct {
	ActivityLogSize       int
	MinSampleSize         int           // below this many send outcomes, success rate is not judged
	DisconnectPenalty     int           // per disconnect in 24h
	DisconnectSoftCap     int           // diminishing returns past this count
	DisconnectTailPenalty int           // per disconnect past the soft cap
	BaselineResponseMs    float64       // expected send round-trip
	MaxLatencyPenalty     int           // full penalty at 2x baseline
	LatencyEMAAlpha       float64
	WarmupPeriod          time.Duration // ramp length
	WarmupScoreFloor      int           // score ceiling at warm-up start
	CriticalHourlyCap     int           // max sends/hour while critical
	DelayPerHealthPoint   time.Duration // recommended extra spacing per missing point
}

func DefaultTuning() Tuning {
	return Tuning{
		ActivityLogSize:       500,
		MinSampleSize:         5,
		DisconnectPenalty:     8,
		DisconnectSoftCap:     5,
		DisconnectTailPenalty: 3,
		BaselineResponseMs:    3000,
		MaxLatencyPenalty:     15,
		LatencyEMAAlpha:       0.2,
		WarmupPeriod:          7 * 24 * time.Hour,
		WarmupScoreFloor:      50,
		CriticalHourlyCap:     10,
		DelayPerHealthPoint:   50 * time.Millisecond,
	}
}

// computeScore derives the 0-100 trust score from the activity log. The
// success factor is multiplicative so a collapsing success rate dominates
// every other signal; disconnects and latency subtract on top, and an active
// warm-up caps the ceiling regardless of observed metrics.
func computeScore(st *deviceState, now time.Time, t Tuning) (int, []string, Metrics) {
	var (
		sent24h, failed24h int
		sentLastHour       int
		disconnects24h     int
	)
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)
	for _, ev := range st.events {
		if ev.At.Before(dayAgo) {
			continue
		}
		switch ev.Type {
		case EventSent:
			sent24h++
			if ev.At.After(hourAgo) {
				sentLastHour++
			}
		case EventFailed:
			failed24h++
		case EventDisconnected:
			disconnects24h++
		}
	}

	var warnings []string
	score := 100.0

	successRate := 1.0
	if total := sent24h + failed24h; total > 0 {
		successRate = float64(sent24h) / float64(total)
		if total >= t.MinSampleSize {
			score *= successRate
			if successRate < 0.9 {
				warnings = append(warnings, fmt.Sprintf("success rate %.0f%% in last 24h", successRate*100))
			}
		}
	}

	if disconnects24h > 0 {
		penalty := disconnects24h * t.DisconnectPenalty
		if disconnects24h > t.DisconnectSoftCap {
			penalty = t.DisconnectSoftCap*t.DisconnectPenalty +
				(disconnects24h-t.DisconnectSoftCap)*t.DisconnectTailPenalty
		}
		score -= float64(penalty)
		warnings = append(warnings, fmt.Sprintf("disconnected %d times in 24h", disconnects24h))
	}

	if st.emaResponseMs > t.BaselineResponseMs {
		over := (st.emaResponseMs - t.BaselineResponseMs) / t.BaselineResponseMs
		if over > 1 {
			over = 1
		}
		score -= over * float64(t.MaxLatencyPenalty)
		warnings = append(warnings, fmt.Sprintf("response time degraded: %.0fms avg", st.emaResponseMs))
	}

	warmup := st.warmup
	if warmup {
		elapsed := now.Sub(st.warmupStart)
		if elapsed >= t.WarmupPeriod {
			warmup = false
			st.warmup = false
		} else {
			// ceiling ramps toward the healthy threshold but never reaches
			// it: a device stays at most "warning" until the ramp elapses
			ratio := float64(elapsed) / float64(t.WarmupPeriod)
			ceiling := float64(t.WarmupScoreFloor) + ratio*float64(healthyThreshold-t.WarmupScoreFloor)
			if ceiling > float64(healthyThreshold-1) {
				ceiling = float64(healthyThreshold - 1)
			}
			if score > ceiling {
				score = ceiling
			}
			day := int(elapsed.Hours()/24) + 1
			totalDays := int(t.WarmupPeriod.Hours() / 24)
			warnings = append(warnings, fmt.Sprintf("still in warm-up, day %d of %d", day, totalDays))
		}
	}

	if now.Before(st.cooldownUntil) {
		warnings = append(warnings, fmt.Sprintf("cooldown until %s", st.cooldownUntil.Format(time.RFC3339)))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	metrics := Metrics{
		MessagesPerHour:       sentLastHour,
		SuccessRate:           successRate,
		AvgResponseTimeMs:     int64(st.emaResponseMs),
		DisconnectionCount24h: disconnects24h,
		LastActivityAt:        st.lastActivity,
		WarmupPhase:           warmup,
		WarmupStartedAt:       st.warmupStart,
	}
	return int(score + 0.5), warnings, metrics
}
