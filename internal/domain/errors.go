package domain

import "errors"

var ErrMessageNotFound = errors.New("message not found")
var ErrDeviceNotFound = errors.New("device not found")

// ValidationError rejects a malformed enqueue request before it enters the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string { return "invalid " + e.Field + ": " + e.Reason }

func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ConfigError rejects a queue-config update; the previous config stays active.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string { return "invalid config " + e.Field + ": " + e.Reason }

func IsConfig(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}
