// Package device talks to the browser-automation bridge that owns the actual
// messaging sessions. The bridge is an external collaborator; this package
// only knows its REST surface.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
)

// Client is the capability the dispatcher needs: perform one send, and tell
// whether a device session is currently connected.
type Client interface {
	Send(ctx context.Context, msg domain.QueuedMessage) (SendResult, error)
	IsReady(ctx context.Context, deviceID string) (bool, error)
}

type SendResult struct {
	RemoteID string `json:"remoteId"`
	Ack      string `json:"ack,omitempty"`
}

// TransportError carries the bridge's HTTP status so the dispatcher can
// classify retryability.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e TransportError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bridge send failed (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("bridge send failed (%d)", e.StatusCode)
}

// BridgeClient is the HTTP adapter. Limiter is a process-local egress guard
// protecting the bridge itself, independent of per-device admission control.
type BridgeClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Limiter *rate.Limiter
}

type sendBody struct {
	To       string                  `json:"to"`
	Kind     domain.MessageKind      `json:"kind"`
	Text     string                  `json:"text,omitempty"`
	Media    *domain.MediaPayload    `json:"media,omitempty"`
	Location *domain.LocationPayload `json:"location,omitempty"`
	Options  domain.SendOptions      `json:"options,omitempty"`
}

type bridgeError struct {
	Error string `json:"error"`
}

func (c *BridgeClient) Send(ctx context.Context, msg domain.QueuedMessage) (SendResult, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return SendResult{}, err
		}
	}

	body, err := json.Marshal(sendBody{
		To:       msg.To,
		Kind:     msg.Kind,
		Text:     msg.Text,
		Media:    msg.Media,
		Location: msg.Location,
		Options:  msg.Options,
	})
	if err != nil {
		return SendResult{}, err
	}

	endpoint := c.base() + "/api/v1/devices/" + msg.DeviceID + "/messages"
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return SendResult{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var be bridgeError
		_ = json.Unmarshal(raw, &be)
		return SendResult{}, TransportError{StatusCode: resp.StatusCode, Message: be.Error}
	}

	var out SendResult
	_ = json.Unmarshal(raw, &out)
	return out, nil
}

type statusBody struct {
	State string `json:"state"` // connected, pairing, disconnected
}

func (c *BridgeClient) IsReady(ctx context.Context, deviceID string) (bool, error) {
	endpoint := c.base() + "/api/v1/devices/" + deviceID + "/status"
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, domain.ErrDeviceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		var be bridgeError
		_ = json.Unmarshal(raw, &be)
		return false, TransportError{StatusCode: resp.StatusCode, Message: be.Error}
	}
	var st statusBody
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false, err
	}
	return st.State == "connected", nil
}

func (c *BridgeClient) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// ShouldRetry classifies a send failure as transient. Timeouts and provider
// 5xx/429/408 are worth another attempt; other 4xx means the request itself
// is bad and retrying cannot help.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te TransportError
	if errors.As(err, &te) {
		if te.StatusCode == http.StatusTooManyRequests || te.StatusCode == http.StatusRequestTimeout {
			return true
		}
		return te.StatusCode >= 500 && te.StatusCode <= 599
	}
	// plain network errors (conn refused, reset) are transient
	return !errors.Is(err, domain.ErrDeviceNotFound)
}

// IsThrottle reports a provider-side throttle signal, which should trigger a
// health cooldown on top of the normal retry path.
func IsThrottle(err error) bool {
	var te TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}

// ReadyCheck adapts the client into a readiness probe against the bridge.
func ReadyCheck(c *BridgeClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base()+"/api/v1/ping", nil)
		if err != nil {
			return err
		}
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("bridge unhealthy: %s", resp.Status)
		}
		return nil
	}
}

var _ Client = (*BridgeClient)(nil)
