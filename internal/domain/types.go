package domain

import "time"

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusSent       MessageStatus = "sent"
	StatusFailed     MessageStatus = "failed"
)

// Terminal reports whether a message in this status will never be dispatched again.
func (s MessageStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindMedia    MessageKind = "media"
	KindLocation MessageKind = "location"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for dispatch; lower dispatches first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

type MediaPayload struct {
	Data     string `json:"data"` // base64
	MimeType string `json:"mimeType"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
}

type SendOptions struct {
	QuotedMessageID string   `json:"quotedMessageId,omitempty"`
	Mentions        []string `json:"mentions,omitempty"`
}

type EnqueueRequest struct {
	DeviceID string           `json:"deviceId"`
	To       string           `json:"to"`
	Kind     MessageKind      `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Media    *MediaPayload    `json:"media,omitempty"`
	Location *LocationPayload `json:"location,omitempty"`
	Priority Priority         `json:"priority,omitempty"`
	Options  SendOptions      `json:"options,omitempty"`
}

func (r EnqueueRequest) Validate() error {
	if r.DeviceID == "" {
		return ValidationError{Field: "deviceId", Reason: "required"}
	}
	if r.To == "" {
		return ValidationError{Field: "to", Reason: "required"}
	}
	switch r.Kind {
	case KindText, "":
		if r.Text == "" {
			return ValidationError{Field: "text", Reason: "required for text messages"}
		}
	case KindMedia:
		if r.Media == nil || r.Media.Data == "" {
			return ValidationError{Field: "media", Reason: "required for media messages"}
		}
		if r.Media.MimeType == "" {
			return ValidationError{Field: "media.mimeType", Reason: "required"}
		}
	case KindLocation:
		if r.Location == nil {
			return ValidationError{Field: "location", Reason: "required for location messages"}
		}
	default:
		return ValidationError{Field: "kind", Reason: "must be text, media or location"}
	}
	switch r.Priority {
	case "", PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return ValidationError{Field: "priority", Reason: "must be high, normal or low"}
	}
	return nil
}

type QueuedMessage struct {
	ID             string           `json:"id"`
	DeviceID       string           `json:"deviceId"`
	To             string           `json:"to"`
	Kind           MessageKind      `json:"kind"`
	Text           string           `json:"text,omitempty"`
	Media          *MediaPayload    `json:"media,omitempty"`
	Location       *LocationPayload `json:"location,omitempty"`
	Options        SendOptions      `json:"options,omitempty"`
	Priority       Priority         `json:"priority"`
	Status         MessageStatus    `json:"status"`
	Attempts       int              `json:"attempts"`
	MaxAttempts    int              `json:"maxAttempts"`
	EnqueuedAt     time.Time        `json:"enqueuedAt"`
	NextEligibleAt time.Time        `json:"nextEligibleAt,omitempty"`
	CompletedAt    time.Time        `json:"completedAt,omitempty"`
	LastError      string           `json:"lastError,omitempty"`
}

type EnqueueResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

type QueueStatus struct {
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	TotalQueued int `json:"totalQueued"`
}

type DeviceQueueStatus struct {
	DeviceID          string    `json:"deviceId"`
	MessagesInLast60s int       `json:"messagesInLast60s"`
	LastMessageTime   time.Time `json:"lastMessageTime,omitempty"`
	QueuedMessages    int       `json:"queuedMessages"`
}
