package queue

import (
	"time"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
)

// Config is the hot-swappable pacing configuration. The dispatcher reads a
// consistent snapshot at the start of every tick; in-flight dispatches keep
// the snapshot they were started with.
type Config struct {
	MinDelayMs            int  `json:"minDelayMs"`
	MaxDelayMs            int  `json:"maxDelayMs"`
	MessagesPerMinute     int  `json:"messagesPerMinute"`
	BurstLimit            int  `json:"burstLimit"`
	MaxAttempts           int  `json:"maxAttempts"`
	RetryDelayMs          int  `json:"retryDelayMs"`
	TypingDelaySimulation bool `json:"typingDelaySimulation"`
}

func DefaultConfig() Config {
	return Config{
		MinDelayMs:            2000,
		MaxDelayMs:            8000,
		MessagesPerMinute:     10,
		BurstLimit:            3,
		MaxAttempts:           3,
		RetryDelayMs:          5000,
		TypingDelaySimulation: true,
	}
}

func (c Config) Validate() error {
	if c.MinDelayMs < 0 {
		return domain.ConfigError{Field: "minDelayMs", Reason: "must be >= 0"}
	}
	if c.MaxDelayMs < c.MinDelayMs {
		return domain.ConfigError{Field: "maxDelayMs", Reason: "must be >= minDelayMs"}
	}
	if c.MessagesPerMinute <= 0 {
		return domain.ConfigError{Field: "messagesPerMinute", Reason: "must be > 0"}
	}
	if c.BurstLimit <= 0 {
		return domain.ConfigError{Field: "burstLimit", Reason: "must be > 0"}
	}
	if c.MaxAttempts <= 0 {
		return domain.ConfigError{Field: "maxAttempts", Reason: "must be > 0"}
	}
	if c.RetryDelayMs <= 0 {
		return domain.ConfigError{Field: "retryDelayMs", Reason: "must be > 0"}
	}
	return nil
}

func (c Config) MinDelay() time.Duration   { return time.Duration(c.MinDelayMs) * time.Millisecond }
func (c Config) MaxDelay() time.Duration   { return time.Duration(c.MaxDelayMs) * time.Millisecond }
func (c Config) RetryDelay() time.Duration { return time.Duration(c.RetryDelayMs) * time.Millisecond }

// ConfigPatch is a partial update; nil fields keep the current value.
type ConfigPatch struct {
	MinDelayMs            *int  `json:"minDelayMs,omitempty"`
	MaxDelayMs            *int  `json:"maxDelayMs,omitempty"`
	MessagesPerMinute     *int  `json:"messagesPerMinute,omitempty"`
	BurstLimit            *int  `json:"burstLimit,omitempty"`
	MaxAttempts           *int  `json:"maxAttempts,omitempty"`
	RetryDelayMs          *int  `json:"retryDelayMs,omitempty"`
	TypingDelaySimulation *bool `json:"typingDelaySimulation,omitempty"`
}

func (c Config) Apply(p ConfigPatch) Config {
	if p.MinDelayMs != nil {
		c.MinDelayMs = *p.MinDelayMs
	}
	if p.MaxDelayMs != nil {
		c.MaxDelayMs = *p.MaxDelayMs
	}
	if p.MessagesPerMinute != nil {
		c.MessagesPerMinute = *p.MessagesPerMinute
	}
	if p.BurstLimit != nil {
		c.BurstLimit = *p.BurstLimit
	}
	if p.MaxAttempts != nil {
		c.MaxAttempts = *p.MaxAttempts
	}
	if p.RetryDelayMs != nil {
		c.RetryDelayMs = *p.RetryDelayMs
	}
	if p.TypingDelaySimulation != nil {
		c.TypingDelaySimulation = *p.TypingDelaySimulation
	}
	return c
}
