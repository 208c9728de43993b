package queue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/device"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/health"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/observability"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/ratelimit"
)

// Health is the admission-gate surface the dispatcher consumes.
type Health interface {
	IsSafeToSend(deviceID string) health.Decision
	RecommendedDelay(deviceID string) time.Duration
	RecordActivity(deviceID string, ev health.Event)
	StartCooldown(deviceID string, d time.Duration)
}

// Audit receives terminal outcomes for the durable ledger. May be nil.
type Audit interface {
	MessageSent(ctx context.Context, msg domain.QueuedMessage) error
	MessageFailed(ctx context.Context, msg domain.QueuedMessage) error
}

const (
	notReadyRecheck   = 15 * time.Second
	unsafeRecheckMin  = 10 * time.Second
	throttleCooldown  = 5 * time.Minute
	typingPerChar     = 40 * time.Millisecond
	typingDelayCap    = 3 * time.Second
	defaultSendWindow = 30 * time.Second
	// readiness probes run inside the tick loop, so they get a tight bound
	// independent of the client's send timeout
	readyCheckTimeout = 2 * time.Second
)

// Dispatcher runs the admission-control pipeline: one pass per tick, at most
// one dispatch per device per pass, never holding the queue lock across a
// network call.
type Dispatcher struct {
	Queue   *Queue
	Health  Health
	Limiter *ratelimit.Limiter
	Client  device.Client
	Breaker *gobreaker.CircuitBreaker
	Audit   Audit

	Now         func() time.Time
	SendTimeout time.Duration
	// Sleep is swappable so tests don't wait out typing simulation.
	Sleep func(d time.Duration)

	cfg atomic.Pointer[Config]

	mu       sync.Mutex
	inflight map[string]bool // devices with a dispatch goroutine running
	wg       sync.WaitGroup
}

func NewDispatcher(q *Queue, h Health, l *ratelimit.Limiter, c device.Client, cfg Config) *Dispatcher {
	d := &Dispatcher{
		Queue:       q,
		Health:      h,
		Limiter:     l,
		Client:      c,
		Now:         time.Now,
		SendTimeout: defaultSendWindow,
		Sleep:       time.Sleep,
		inflight:    make(map[string]bool),
	}
	d.cfg.Store(&cfg)
	return d
}

func (d *Dispatcher) Config() Config { return *d.cfg.Load() }

// UpdateConfig validates and atomically swaps the pacing config. On error the
// previous config stays active. Takes effect on the next tick; decisions
// already computed are not revisited.
func (d *Dispatcher) UpdateConfig(p ConfigPatch) (Config, error) {
	next := d.Config().Apply(p)
	if err := next.Validate(); err != nil {
		return d.Config(), err
	}
	d.cfg.Store(&next)
	slog.Info("queue config updated",
		"messages_per_minute", next.MessagesPerMinute,
		"burst_limit", next.BurstLimit,
		"max_attempts", next.MaxAttempts,
	)
	return next, nil
}

// Enqueue is the producer entrypoint; MaxAttempts is stamped from the config
// active at enqueue time.
func (d *Dispatcher) Enqueue(req domain.EnqueueRequest) (domain.QueuedMessage, error) {
	msg, err := d.Queue.Enqueue(req, d.Config().MaxAttempts)
	if err != nil {
		observability.Enqueues.WithLabelValues("rejected").Inc()
		return domain.QueuedMessage{}, err
	}
	observability.Enqueues.WithLabelValues("ok").Inc()
	return msg, nil
}

// DeviceStatus combines the rate window with queue depth for one device.
func (d *Dispatcher) DeviceStatus(deviceID string) domain.DeviceQueueStatus {
	now := d.Now()
	return domain.DeviceQueueStatus{
		DeviceID:          deviceID,
		MessagesInLast60s: d.Limiter.CountSince(deviceID, now.Add(-time.Minute)),
		LastMessageTime:   d.Limiter.LastSend(deviceID),
		QueuedMessages:    d.Queue.QueuedCount(deviceID),
	}
}

// Tick is one scheduling pass: round-robin over devices with pending work,
// admit at most one message each, and hand admitted messages to per-device
// goroutines. Blocking on the device client never stalls other devices.
func (d *Dispatcher) Tick(ctx context.Context) {
	cfg := d.Config()
	now := d.Now()

	for _, deviceID := range d.Queue.DevicesWithPending() {
		if ctx.Err() != nil {
			return
		}
		if d.isInflight(deviceID) {
			continue
		}
		msg, ok := d.Queue.PeekEligible(deviceID, now)
		if !ok {
			continue
		}
		if !d.admit(ctx, msg, cfg, now) {
			continue
		}
		claimed, ok := d.Queue.Claim(msg.ID, now)
		if !ok {
			continue
		}
		d.setInflight(deviceID, true)
		d.wg.Add(1)
		go d.dispatch(claimed, cfg)
	}
}

// Drain waits for in-flight dispatches to finish; used at shutdown. A send
// already handed to the device client always runs to completion.
func (d *Dispatcher) Drain() { d.wg.Wait() }

// admit runs the pre-claim gates in order: device readiness, health safety,
// sliding-window rate limit, health pacing, inter-send jitter gap. A false
// return means the message was deferred and stays pending.
func (d *Dispatcher) admit(ctx context.Context, msg domain.QueuedMessage, cfg Config, now time.Time) bool {
	deviceID := msg.DeviceID

	readyCtx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
	ready, err := d.Client.IsReady(readyCtx, deviceID)
	cancel()
	if err != nil || !ready {
		reason := "device not connected"
		if err != nil {
			reason = "device status check failed: " + err.Error()
		}
		d.Queue.Defer(msg.ID, now.Add(notReadyRecheck), reason)
		observability.AdmissionDenied.WithLabelValues("device").Inc()
		return false
	}

	if dec := d.Health.IsSafeToSend(deviceID); !dec.Safe {
		delay := d.Health.RecommendedDelay(deviceID)
		if delay < unsafeRecheckMin {
			delay = unsafeRecheckMin
		}
		d.Queue.Defer(msg.ID, now.Add(delay), dec.Reason)
		observability.AdmissionDenied.WithLabelValues("health").Inc()
		slog.Debug("health gate deferred message", "device", deviceID, "message_id", msg.ID, "reason", dec.Reason)
		return false
	}

	if wait := d.Limiter.Wait(deviceID, now, cfg.MessagesPerMinute, cfg.BurstLimit); wait > 0 {
		d.Queue.Defer(msg.ID, now.Add(wait), "")
		observability.AdmissionDenied.WithLabelValues("rate").Inc()
		return false
	}

	last := d.Limiter.LastSend(deviceID)
	if !last.IsZero() {
		// extra spacing for degraded health, beyond the limiter's minimum
		if rec := d.Health.RecommendedDelay(deviceID); rec > 0 && now.Sub(last) < rec {
			d.Queue.Defer(msg.ID, last.Add(rec), "")
			observability.AdmissionDenied.WithLabelValues("health_pacing").Inc()
			return false
		}
		// human-like random gap between consecutive sends
		gap := jitterBetween(cfg.MinDelay(), cfg.MaxDelay())
		if now.Sub(last) < gap {
			d.Queue.Defer(msg.ID, last.Add(gap), "")
			observability.AdmissionDenied.WithLabelValues("pacing").Inc()
			return false
		}
	}
	return true
}

func (d *Dispatcher) dispatch(msg domain.QueuedMessage, cfg Config) {
	defer d.wg.Done()
	defer d.setInflight(msg.DeviceID, false)

	if cfg.TypingDelaySimulation && msg.Kind == domain.KindText {
		d.Sleep(typingDelay(msg.Text))
	}

	start := d.Now()
	_, err := d.send(msg)
	latency := d.Now().Sub(start)

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		// provider protection tripped before the wire; not a real attempt
		d.Queue.Unclaim(msg.ID, start.Add(cfg.RetryDelay()), "provider protection: circuit open")
		observability.Dispatches.WithLabelValues("breaker_open").Inc()
		return
	}

	if err == nil {
		d.Queue.MarkSent(msg.ID, d.Now())
		d.Health.RecordActivity(msg.DeviceID, health.Event{Type: health.EventSent, At: start, Latency: latency})
		observability.Dispatches.WithLabelValues("sent").Inc()
		observability.SendLatency.Observe(latency.Seconds())
		d.recordAudit(msg.ID, true)
		return
	}

	d.Health.RecordActivity(msg.DeviceID, health.Event{Type: health.EventFailed, At: start})
	if device.IsThrottle(err) {
		d.Health.StartCooldown(msg.DeviceID, throttleCooldown)
	}

	switch {
	case !device.ShouldRetry(err):
		d.Queue.MarkFailed(msg.ID, d.Now(), "non-retryable: "+err.Error())
		observability.Dispatches.WithLabelValues("failed").Inc()
		slog.Error("message failed permanently", "message_id", msg.ID, "device", msg.DeviceID, "err", err)
		d.recordAudit(msg.ID, false)
	case msg.Attempts >= msg.MaxAttempts:
		d.Queue.MarkFailed(msg.ID, d.Now(), "retries exhausted: "+err.Error())
		observability.Dispatches.WithLabelValues("failed").Inc()
		slog.Error("message failed after max attempts", "message_id", msg.ID, "device", msg.DeviceID, "attempts", msg.Attempts, "err", err)
		d.recordAudit(msg.ID, false)
	default:
		delay := retryBackoff(cfg, msg.Attempts)
		d.Queue.Retry(msg.ID, d.Now().Add(delay), err.Error())
		observability.Dispatches.WithLabelValues("retry").Inc()
		slog.Warn("message retry scheduled", "message_id", msg.ID, "device", msg.DeviceID, "attempt", msg.Attempts, "delay", delay, "err", err)
	}
}

// send runs one bridge attempt through the breaker. The context is detached
// from the tick loop's: a dispatch already handed to the client runs to
// completion even during shutdown, and Drain waits for it.
func (d *Dispatcher) send(msg domain.QueuedMessage) (device.SendResult, error) {
	call := func() (any, error) {
		sendCtx, cancel := context.WithTimeout(context.Background(), d.SendTimeout)
		defer cancel()
		// the window records actual wire attempts only
		d.Limiter.Record(msg.DeviceID, d.Now())
		return d.Client.Send(sendCtx, msg)
	}

	var res any
	var err error
	if d.Breaker != nil {
		res, err = d.Breaker.Execute(call)
	} else {
		res, err = call()
	}
	if err != nil {
		return device.SendResult{}, err
	}
	return res.(device.SendResult), nil
}

func (d *Dispatcher) recordAudit(id string, sent bool) {
	if d.Audit == nil {
		return
	}
	msg, ok := d.Queue.Get(id)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if sent {
		err = d.Audit.MessageSent(ctx, msg)
	} else {
		err = d.Audit.MessageFailed(ctx, msg)
	}
	if err != nil {
		slog.Error("audit write failed", "message_id", id, "err", err)
	}
}

func (d *Dispatcher) isInflight(deviceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight[deviceID]
}

func (d *Dispatcher) setInflight(deviceID string, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v {
		d.inflight[deviceID] = true
	} else {
		delete(d.inflight, deviceID)
	}
}

// retryBackoff doubles from the configured retry delay per attempt, capped at
// the max delay, with +/-25% jitter so a burst of failures does not resend in
// lockstep.
func retryBackoff(cfg Config, attempt int) time.Duration {
	delay := cfg.RetryDelay()
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay() {
			break
		}
	}
	if delay > cfg.MaxDelay() {
		delay = cfg.MaxDelay()
	}
	jittered := time.Duration(float64(delay) * (0.75 + rand.Float64()*0.5))
	if jittered > cfg.MaxDelay() {
		jittered = cfg.MaxDelay()
	}
	return jittered
}

func jitterBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// typingDelay approximates a human typing the message, capped so long texts
// do not stall the device's slot.
func typingDelay(text string) time.Duration {
	delay := time.Duration(len(text)) * typingPerChar
	if delay > typingDelayCap {
		delay = typingDelayCap
	}
	return delay
}
