package provider

import (
	"context"
	"errors"
)

// ErrUnsupported is returned when a provider does not implement a capability.
var ErrUnsupported = errors.New("capability not supported by provider")

// Image is inline image data passed to or returned from a model.
type Image struct {
	Data     []byte
	MIMEType string
}

// GenerateRequest is one text generation call. Images turn it into a
// multimodal call on providers that support it.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	Images      []Image
}

// Completion is the model's text answer plus usage.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces text. It is used for drafts, editor passes, visual
// decisions and best-of-N image scoring.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*Completion, error)
}

// ImageRequest asks for SampleCount candidate images.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	SampleCount    int
}

// ImageGenerator produces images from a prompt.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error)
}

// Analysis is what a vision model says about an image.
type Analysis struct {
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	Mood         string   `json:"mood"`
	Scene        string   `json:"scene"`
	QualityScore float64  `json:"quality_score"`
}

// Vision describes images.
type Vision interface {
	Analyze(ctx context.Context, img Image) (*Analysis, error)
}

// Embedder turns text plus tags into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string, tags []string) ([]float32, error)
}

// Pinger is implemented by providers that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}
