package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/health"
	"github.com/nbhatti/whatsapi-bridge-sub002/internal/store"
)

// Store is the write-only durable ledger. The dashboard reads these tables;
// this process never does.
type Store struct {
	DB *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) MessageSent(ctx context.Context, msg domain.QueuedMessage) error {
	return s.insertOutcome(ctx, outcomeFrom(msg))
}

func (s *Store) MessageFailed(ctx context.Context, msg domain.QueuedMessage) error {
	return s.insertOutcome(ctx, outcomeFrom(msg))
}

func (s *Store) insertOutcome(ctx context.Context, in store.MessageOutcome) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO messages_audit (message_id, device_id, to_recipient, kind, priority, status, attempts, last_error, enqueued_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (message_id) DO NOTHING
	`, in.MessageID, in.DeviceID, in.To, in.Kind, in.Priority, in.Status, in.Attempts,
		nullIfEmpty(in.LastError), in.EnqueuedAt, in.CompletedAt)
	return err
}

// RecordActivity appends one device event to the activity ledger.
func (s *Store) RecordActivity(ctx context.Context, in store.ActivityRecord) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO device_activity (device_id, event_type, latency_ms, occurred_at)
		VALUES ($1,$2,$3,$4)
	`, in.DeviceID, in.EventType, in.LatencyMs, in.At)
	return err
}

// ActivityFrom maps a monitor event into its ledger row.
func ActivityFrom(deviceID string, ev health.Event) store.ActivityRecord {
	return store.ActivityRecord{
		DeviceID:  deviceID,
		EventType: string(ev.Type),
		LatencyMs: ev.Latency.Milliseconds(),
		At:        ev.At,
	}
}

func outcomeFrom(msg domain.QueuedMessage) store.MessageOutcome {
	completed := msg.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	return store.MessageOutcome{
		MessageID:   msg.ID,
		DeviceID:    msg.DeviceID,
		To:          msg.To,
		Kind:        string(msg.Kind),
		Priority:    string(msg.Priority),
		Status:      string(msg.Status),
		Attempts:    msg.Attempts,
		LastError:   msg.LastError,
		EnqueuedAt:  msg.EnqueuedAt,
		CompletedAt: completed,
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
