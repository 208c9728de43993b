package domain

import (
	"errors"
	"testing"
)

func TestEnqueueRequestValidate(t *testing.T) {
	base := EnqueueRequest{DeviceID: "dev-1", To: "+15551234567", Kind: KindText, Text: "hi"}

	cases := []struct {
		name    string
		mutate  func(r *EnqueueRequest)
		wantErr bool
	}{
		{"valid text", func(r *EnqueueRequest) {}, false},
		{"missing device", func(r *EnqueueRequest) { r.DeviceID = "" }, true},
		{"missing recipient", func(r *EnqueueRequest) { r.To = "" }, true},
		{"empty text body", func(r *EnqueueRequest) { r.Text = "" }, true},
		{"kind defaults to text", func(r *EnqueueRequest) { r.Kind = "" }, false},
		{"media without payload", func(r *EnqueueRequest) { r.Kind = KindMedia }, true},
		{"media without mime type", func(r *EnqueueRequest) {
			r.Kind = KindMedia
			r.Media = &MediaPayload{Data: "aGk="}
		}, true},
		{"valid media", func(r *EnqueueRequest) {
			r.Kind = KindMedia
			r.Media = &MediaPayload{Data: "aGk=", MimeType: "image/png"}
		}, false},
		{"location without payload", func(r *EnqueueRequest) { r.Kind = KindLocation }, true},
		{"valid location", func(r *EnqueueRequest) {
			r.Kind = KindLocation
			r.Location = &LocationPayload{Latitude: 33.6, Longitude: 73.0}
		}, false},
		{"unknown kind", func(r *EnqueueRequest) { r.Kind = "sticker" }, true},
		{"unknown priority", func(r *EnqueueRequest) { r.Priority = "urgent" }, true},
		{"valid priority", func(r *EnqueueRequest) { r.Priority = PriorityHigh }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			err := req.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr && !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityHigh.Rank() >= PriorityNormal.Rank() {
		t.Fatal("high must rank before normal")
	}
	if PriorityNormal.Rank() >= PriorityLow.Rank() {
		t.Fatal("normal must rank before low")
	}
	if Priority("").Rank() != PriorityNormal.Rank() {
		t.Fatal("empty priority must rank as normal")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() || StatusProcessing.Terminal() {
		t.Fatal("pending/processing are not terminal")
	}
	if !StatusSent.Terminal() || !StatusFailed.Terminal() {
		t.Fatal("sent/failed are terminal")
	}
}

func TestErrorClassifiers(t *testing.T) {
	if !IsConfig(ConfigError{Field: "maxAttempts", Reason: "must be > 0"}) {
		t.Fatal("expected config error match")
	}
	if IsConfig(errors.New("other")) || IsValidation(errors.New("other")) {
		t.Fatal("plain errors must not classify")
	}
}
