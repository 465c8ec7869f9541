// Package messages defines the JSON payloads contentloom exchanges over NATS.
package messages

import "time"

// Event types.
const (
	TypeContentGenerated = "content.generated"
	TypeContentDegraded  = "content.degraded"
	TypeRunFailed        = "run.failed"
)

// EventMessage reports the outcome of a generation run.
type EventMessage struct {
	Type          string                 `json:"type"`   // content.generated, content.degraded, run.failed
	Source        string                 `json:"source"` // Worker that produced the event
	RunID         string                 `json:"run_id"`
	ProjectID     string                 `json:"project_id"`
	Platform      string                 `json:"platform"`
	ContentID     string                 `json:"content_id,omitempty"`
	Event         EventData              `json:"event"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventData carries the run summary.
type EventData struct {
	ContentType  string   `json:"content_type,omitempty"`
	Visual       string   `json:"visual,omitempty"`
	Overall      int      `json:"overall,omitempty"`
	EditorStatus string   `json:"editor_status,omitempty"`
	Degradations []string `json:"degradations,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// ContentGenerated creates a content.generated event. Runs that recovered
// from a stage failure are typed content.degraded instead.
func ContentGenerated(source, runID, projectID, platform, contentID string, data EventData) *EventMessage {
	typ := TypeContentGenerated
	if len(data.Degradations) > 0 {
		typ = TypeContentDegraded
	}
	return &EventMessage{
		Type:      typ,
		Source:    source,
		RunID:     runID,
		ProjectID: projectID,
		Platform:  platform,
		ContentID: contentID,
		Event:     data,
		Timestamp: time.Now(),
	}
}

// RunFailed creates a run.failed event.
func RunFailed(source, runID, projectID, platform string, err error) *EventMessage {
	msg := &EventMessage{
		Type:      TypeRunFailed,
		Source:    source,
		RunID:     runID,
		ProjectID: projectID,
		Platform:  platform,
		Timestamp: time.Now(),
	}
	if err != nil {
		msg.Event.Error = err.Error()
	}
	return msg
}
