package provider

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
)

// MockProvider returns scripted answers. It backs dry runs and tests.
// Responses are consumed in order; the last one repeats once exhausted.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []GenerateRequest
}

// NewMockProvider creates a mock that answers with responses in order.
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// FailWith makes every call return err.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of the recorded requests.
func (m *MockProvider) Calls() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateRequest(nil), m.calls...)
}

func (m *MockProvider) Generate(_ context.Context, req GenerateRequest) (*Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &Completion{Text: `{"text": "mock post", "scores": {"overall": 5}}`, Model: "mock"}, nil
	}
	text := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return &Completion{Text: text, Model: "mock", PromptTokens: len(req.Prompt) / 4, CompletionTokens: len(text) / 4}, nil
}

// GenerateImages returns flat-colour PNGs so post-processing has real pixels.
func (m *MockProvider) GenerateImages(_ context.Context, req ImageRequest) ([]Image, error) {
	m.mu.Lock()
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	n := req.SampleCount
	if n <= 0 {
		n = 1
	}
	out := make([]Image, 0, n)
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		c := color.RGBA{R: uint8(40 * i), G: 120, B: 200, A: 255}
		for y := 0; y < 48; y++ {
			for x := 0; x < 64; x++ {
				img.Set(x, y, c)
			}
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode mock image: %w", err)
		}
		out = append(out, Image{Data: buf.Bytes(), MIMEType: "image/png"})
	}
	return out, nil
}

func (m *MockProvider) Analyze(context.Context, Image) (*Analysis, error) {
	return &Analysis{Description: "mock image", Tags: []string{"mock"}, Mood: "neutral", Scene: "studio", QualityScore: 7}, nil
}

// Embed returns a tiny deterministic vector derived from the input bytes.
func (m *MockProvider) Embed(_ context.Context, text string, tags []string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, b := range []byte(EmbeddingInput(text, tags)) {
		vec[i%len(vec)] += float32(b) / 255
	}
	return vec, nil
}

func (m *MockProvider) Ping(context.Context) error { return nil }
