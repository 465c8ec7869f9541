package messages

import "time"

// GenerationRequestMessage asks a worker to run the pipeline once.
type GenerationRequestMessage struct {
	Type          string                 `json:"type"` // "generation.requested"
	ProjectID     string                 `json:"project_id"`
	Platform      string                 `json:"platform"`
	ContentType   string                 `json:"content_type,omitempty"`
	ForcePhoto    bool                   `json:"force_photo,omitempty"`
	RequestedBy   string                 `json:"requested_by,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// TypeGenerationRequested is the only request type.
const TypeGenerationRequested = "generation.requested"

// GenerationRequested creates a generation.requested message.
func GenerationRequested(projectID, platform, contentType, requestedBy, correlationID string) *GenerationRequestMessage {
	return &GenerationRequestMessage{
		Type:          TypeGenerationRequested,
		ProjectID:     projectID,
		Platform:      platform,
		ContentType:   contentType,
		RequestedBy:   requestedBy,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}
