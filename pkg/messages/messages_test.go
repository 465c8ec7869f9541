package messages

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestContentGenerated(t *testing.T) {
	msg := ContentGenerated("worker-1", "run-1", "proj-1", "x", "c-1", EventData{ContentType: "educational", Overall: 8})

	if msg.Type != TypeContentGenerated {
		t.Errorf("got type %q", msg.Type)
	}
	if msg.Source != "worker-1" || msg.RunID != "run-1" || msg.ContentID != "c-1" {
		t.Errorf("identity not preserved: %+v", msg)
	}
	if msg.Event.Overall != 8 {
		t.Errorf("got overall %d", msg.Event.Overall)
	}
	if msg.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestContentGenerated_Degraded(t *testing.T) {
	msg := ContentGenerated("w", "r", "p", "instagram", "c", EventData{Degradations: []string{"visual"}})
	if msg.Type != TypeContentDegraded {
		t.Errorf("got type %q, want %q", msg.Type, TypeContentDegraded)
	}
}

func TestRunFailed(t *testing.T) {
	msg := RunFailed("w", "r", "p", "x", errors.New("project not found"))
	if msg.Type != TypeRunFailed {
		t.Errorf("got type %q", msg.Type)
	}
	if msg.Event.Error != "project not found" {
		t.Errorf("got error %q", msg.Event.Error)
	}

	if RunFailed("w", "r", "p", "x", nil).Event.Error != "" {
		t.Error("nil error should leave the field empty")
	}
}

func TestGenerationRequested(t *testing.T) {
	msg := GenerationRequested("proj-1", "linkedin", "", "scheduler", "corr-1")
	if msg.Type != TypeGenerationRequested {
		t.Errorf("got type %q", msg.Type)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, ok := raw["content_type"]; ok {
		t.Error("empty content_type should be omitted so the balancer decides")
	}
	if raw["correlation_id"] != "corr-1" {
		t.Errorf("got correlation %v", raw["correlation_id"])
	}
}
