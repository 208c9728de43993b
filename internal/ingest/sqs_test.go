package ingest

import (
	"encoding/json"
	"testing"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/domain"
)

func TestEnqueueJobMapsToRequest(t *testing.T) {
	body := []byte(`{
		"deviceId": "dev-1",
		"to": "+15551234567",
		"kind": "text",
		"text": "hello",
		"priority": "high",
		"options": {"mentions": ["+15550000001"]}
	}`)

	var job EnqueueJob
	if err := json.Unmarshal(body, &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req := job.Request()
	if err := req.Validate(); err != nil {
		t.Fatalf("mapped request invalid: %v", err)
	}
	if req.DeviceID != "dev-1" || req.To != "+15551234567" {
		t.Fatalf("request = %+v", req)
	}
	if req.Priority != domain.PriorityHigh {
		t.Fatalf("priority = %s", req.Priority)
	}
	if len(req.Options.Mentions) != 1 {
		t.Fatalf("mentions = %v", req.Options.Mentions)
	}
}

func TestEnqueueJobPoisonDetection(t *testing.T) {
	// decodes fine but fails validation -> poison, must be droppable
	var job EnqueueJob
	if err := json.Unmarshal([]byte(`{"deviceId": "dev-1", "kind": "text"}`), &job); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	err := job.Request().Validate()
	if !domain.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
