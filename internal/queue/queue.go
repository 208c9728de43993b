// Package queue holds the in-process dispatch queue: a mutation-guarded
// store of pending send requests plus the tick-driven dispatcher that paces
// them through admission control.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/observability"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/util"
)

const defaultAuditLimit = 1000

// Queue owns all message state. Producers only ever touch Enqueue; every
// other transition belongs to the dispatch loop.
type Queue struct {
	Now   func() time.Time
	IDGen func() string

	mu         sync.Mutex
	pending    map[string][]*domain.QueuedMessage // per device: pending + processing, enqueue order
	byID       map[string]*domain.QueuedMessage
	audit      []string // terminal message ids, oldest first, bounded
	auditLimit int
}

func New() *Queue {
	return &Queue{
		Now:        time.Now,
		IDGen:      util.NewMessageID,
		pending:    make(map[string][]*domain.QueuedMessage),
		byID:       make(map[string]*domain.QueuedMessage),
		auditLimit: defaultAuditLimit,
	}
}

// Enqueue validates the request and adds it to the device's pending set.
// Fire-and-forget: the caller polls status by id.
func (q *Queue) Enqueue(req domain.EnqueueRequest, maxAttempts int) (domain.QueuedMessage, error) {
	if err := req.Validate(); err != nil {
		return domain.QueuedMessage{}, err
	}
	prio := req.Priority
	if prio == "" {
		prio = domain.PriorityNormal
	}
	kind := req.Kind
	if kind == "" {
		kind = domain.KindText
	}
	msg := &domain.QueuedMessage{
		ID:          q.IDGen(),
		DeviceID:    req.DeviceID,
		To:          req.To,
		Kind:        kind,
		Text:        req.Text,
		Media:       req.Media,
		Location:    req.Location,
		Options:     req.Options,
		Priority:    prio,
		Status:      domain.StatusPending,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  q.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[msg.DeviceID] = append(q.pending[msg.DeviceID], msg)
	q.byID[msg.ID] = msg
	return *msg, nil
}

func (q *Queue) Get(id string) (domain.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok {
		return domain.QueuedMessage{}, false
	}
	return *msg, true
}

// DevicesWithPending returns device ids with at least one pending message,
// sorted for a stable round-robin order.
func (q *Queue) DevicesWithPending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.pending))
	for id, msgs := range q.pending {
		for _, m := range msgs {
			if m.Status == domain.StatusPending {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// PeekEligible returns the device's next dispatchable message: highest
// priority band first, strict FIFO by enqueue time within a band, skipping
// messages deferred past now.
func (q *Queue) PeekEligible(deviceID string, now time.Time) (domain.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := q.pickLocked(deviceID, now)
	if best == nil {
		return domain.QueuedMessage{}, false
	}
	return *best, true
}

// Claim moves a pending message to processing and counts the attempt. The
// exclusive claim is what guarantees no two loop iterations dispatch the
// same message.
func (q *Queue) Claim(id string, now time.Time) (domain.QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != domain.StatusPending {
		return domain.QueuedMessage{}, false
	}
	msg.Status = domain.StatusProcessing
	msg.Attempts++
	return *msg, true
}

// Defer pushes a pending message's eligibility forward. An empty reason keeps
// the previous lastError (rate-limit waits are routine, not errors).
func (q *Queue) Defer(id string, until time.Time, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != domain.StatusPending {
		return false
	}
	msg.NextEligibleAt = until
	if reason != "" {
		msg.LastError = reason
	}
	return true
}

// Unclaim returns a processing message to pending and refunds the attempt.
// Used when the breaker rejected the dispatch before it reached the wire.
func (q *Queue) Unclaim(id string, until time.Time, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != domain.StatusProcessing {
		return false
	}
	msg.Status = domain.StatusPending
	if msg.Attempts > 0 {
		msg.Attempts--
	}
	msg.NextEligibleAt = until
	if reason != "" {
		msg.LastError = reason
	}
	return true
}

// Retry schedules another attempt after a transport failure.
func (q *Queue) Retry(id string, until time.Time, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != domain.StatusProcessing {
		return false
	}
	msg.Status = domain.StatusPending
	msg.NextEligibleAt = until
	msg.LastError = reason
	return true
}

// MarkSent completes a message and retains it for audit.
func (q *Queue) MarkSent(id string, at time.Time) bool {
	return q.complete(id, domain.StatusSent, at, "")
}

// MarkFailed terminates a message permanently.
func (q *Queue) MarkFailed(id string, at time.Time, reason string) bool {
	return q.complete(id, domain.StatusFailed, at, reason)
}

func (q *Queue) complete(id string, status domain.MessageStatus, at time.Time, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.byID[id]
	if !ok || msg.Status != domain.StatusProcessing {
		return false
	}
	msg.Status = status
	msg.CompletedAt = at
	if reason != "" {
		msg.LastError = reason
	}
	q.removeFromDeviceLocked(msg)
	q.audit = append(q.audit, id)
	if len(q.audit) > q.auditLimit {
		evicted := q.audit[0]
		q.audit = q.audit[1:]
		delete(q.byID, evicted)
	}
	return true
}

// Status is a point-in-time snapshot across all devices.
func (q *Queue) Status() domain.QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st domain.QueueStatus
	for _, msgs := range q.pending {
		for _, m := range msgs {
			switch m.Status {
			case domain.StatusPending:
				st.Pending++
			case domain.StatusProcessing:
				st.Processing++
			}
		}
	}
	st.TotalQueued = st.Pending + st.Processing
	observability.QueueDepth.WithLabelValues("pending").Set(float64(st.Pending))
	observability.QueueDepth.WithLabelValues("processing").Set(float64(st.Processing))
	return st
}

// QueuedCount reports the device's live (non-terminal) messages.
func (q *Queue) QueuedCount(deviceID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[deviceID])
}

// Clear purges all pending and processing messages; sent/failed history is
// untouched. Emergency-stop semantics.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for deviceID, msgs := range q.pending {
		for _, m := range msgs {
			delete(q.byID, m.ID)
			removed++
		}
		delete(q.pending, deviceID)
	}
	return removed
}

// pickLocked implements the ordering rule. Caller holds mu.
func (q *Queue) pickLocked(deviceID string, now time.Time) *domain.QueuedMessage {
	var best *domain.QueuedMessage
	for _, m := range q.pending[deviceID] {
		if m.Status != domain.StatusPending {
			continue
		}
		if !m.NextEligibleAt.IsZero() && m.NextEligibleAt.After(now) {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		if m.Priority.Rank() < best.Priority.Rank() ||
			(m.Priority.Rank() == best.Priority.Rank() && m.EnqueuedAt.Before(best.EnqueuedAt)) {
			best = m
		}
	}
	return best
}

func (q *Queue) removeFromDeviceLocked(msg *domain.QueuedMessage) {
	msgs := q.pending[msg.DeviceID]
	for i, m := range msgs {
		if m.ID == msg.ID {
			q.pending[msg.DeviceID] = append(msgs[:i], msgs[i+1:]...)
			break
		}
	}
	if len(q.pending[msg.DeviceID]) == 0 {
		delete(q.pending, msg.DeviceID)
	}
}
