package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel      = "gemini-2.5-flash"
	defaultGeminiImageModel = "imagen-4.0-generate-001"
	defaultGeminiEmbedModel = "gemini-embedding-001"
)

// GeminiConfig selects models for each Gemini capability.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	EmbedModel string
	HTTPClient *http.Client
}

// GeminiProvider implements every collaborator contract on the Gemini API:
// text, multimodal scoring, Imagen generation, vision analysis and embeddings.
type GeminiProvider struct {
	client     *genai.Client
	model      string
	imageModel string
	embedModel string
}

// NewGeminiProvider creates a Gemini API client.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiProvider{
		client:     client,
		model:      firstNonEmpty(cfg.Model, defaultGeminiModel),
		imageModel: firstNonEmpty(cfg.ImageModel, defaultGeminiImageModel),
		embedModel: firstNonEmpty(cfg.EmbedModel, defaultGeminiEmbedModel),
	}, nil
}

// Generate runs GenerateContent with optional inline images.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*Completion, error) {
	model := firstNonEmpty(req.Model, p.model)

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, mimeOf(img)))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}
	out := &Completion{Text: resp.Text(), Model: model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if strings.TrimSpace(out.Text) == "" {
		return nil, errors.New("gemini: empty response")
	}
	return out, nil
}

// GenerateImages calls Imagen for SampleCount candidates.
func (p *GeminiProvider) GenerateImages(ctx context.Context, req ImageRequest) ([]Image, error) {
	n := req.SampleCount
	if n <= 0 {
		n = 1
	}
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages: int32(n),
		AspectRatio:    req.AspectRatio,
		NegativePrompt: req.NegativePrompt,
	}
	resp, err := p.client.Models.GenerateImages(ctx, p.imageModel, req.Prompt, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate images: %w", err)
	}
	var out []Image
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		out = append(out, Image{Data: gi.Image.ImageBytes, MIMEType: gi.Image.MIMEType})
	}
	if len(out) == 0 {
		return nil, errors.New("imagen returned no images")
	}
	return out, nil
}

const analyzePrompt = `Describe this image for a brand media library. Respond with JSON only:
{"description": "one sentence", "tags": ["5-10 lowercase tags"], "mood": "one word", "scene": "short phrase", "quality_score": 1-10}`

// Analyze asks the multimodal model for a structured description.
func (p *GeminiProvider) Analyze(ctx context.Context, img Image) (*Analysis, error) {
	resp, err := p.Generate(ctx, GenerateRequest{Prompt: analyzePrompt, Temperature: 0.2, Images: []Image{img}})
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(resp.Text)
}

// Embed embeds text with its tags appended.
func (p *GeminiProvider) Embed(ctx context.Context, text string, tags []string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(EmbeddingInput(text, tags), genai.RoleUser)}
	result, err := p.client.Models.EmbedContent(ctx, p.embedModel, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed content: %w", err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, errors.New("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// ParseAnalysis decodes a vision answer, tolerating code fences and prose
// around the JSON object.
func ParseAnalysis(raw string) (*Analysis, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("vision response has no JSON object")
	}
	var a Analysis
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return nil, fmt.Errorf("failed to decode vision response: %w", err)
	}
	for i, t := range a.Tags {
		a.Tags[i] = strings.ToLower(strings.TrimSpace(t))
	}
	return &a, nil
}

// EmbeddingInput is the text sent to embedders: the description followed by tags.
func EmbeddingInput(text string, tags []string) string {
	if len(tags) == 0 {
		return text
	}
	return text + "\nTags: " + strings.Join(tags, ", ")
}

func mimeOf(img Image) string {
	if img.MIMEType != "" {
		return img.MIMEType
	}
	return http.DetectContentType(img.Data)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
