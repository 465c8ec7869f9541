package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaProvider implements Generator, Vision and Embedder for Ollama.
// See: https://github.com/ollama/ollama/blob/main/docs/api.md
type OllamaProvider struct {
	endpoint   string
	model      string
	embedModel string
	client     *http.Client
}

func NewOllamaProvider(endpoint, model, embedModel string) *OllamaProvider {
	if embedModel == "" {
		embedModel = "nomic-embed-text"
	}
	return &OllamaProvider{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		model:      model,
		embedModel: embedModel,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Ping checks /api/tags.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	return p.do(ctx, http.MethodGet, "/api/tags", nil, &tags)
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func (p *OllamaProvider) Generate(ctx context.Context, req GenerateRequest) (*Completion, error) {
	model := strings.TrimSpace(firstNonEmpty(req.Model, p.model))
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	ollamaReq := struct {
		Model    string          `json:"model"`
		Messages []ollamaMessage `json:"messages"`
		Stream   bool            `json:"stream"`
		Options  struct {
			Temperature float64 `json:"temperature"`
			NumPredict  int     `json:"num_predict,omitempty"`
		} `json:"options"`
	}{
		Model:  model,
		Stream: false,
	}
	ollamaReq.Options.Temperature = req.Temperature
	ollamaReq.Options.NumPredict = req.MaxTokens
	if req.System != "" {
		ollamaReq.Messages = append(ollamaReq.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	user := ollamaMessage{Role: "user", Content: req.Prompt}
	for _, img := range req.Images {
		user.Images = append(user.Images, base64.StdEncoding.EncodeToString(img.Data))
	}
	ollamaReq.Messages = append(ollamaReq.Messages, user)

	var ollamaResp struct {
		Model   string        `json:"model"`
		Message ollamaMessage `json:"message"`
		Done    bool          `json:"done"`

		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := p.do(ctx, http.MethodPost, "/api/chat", ollamaReq, &ollamaResp); err != nil {
		return nil, err
	}

	return &Completion{
		Text:             ollamaResp.Message.Content,
		Model:            ollamaResp.Model,
		PromptTokens:     ollamaResp.PromptEvalCount,
		CompletionTokens: ollamaResp.EvalCount,
	}, nil
}

// Analyze runs the chat model on the image with the vision prompt.
func (p *OllamaProvider) Analyze(ctx context.Context, img Image) (*Analysis, error) {
	resp, err := p.Generate(ctx, GenerateRequest{Prompt: analyzePrompt, Temperature: 0.2, Images: []Image{img}})
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(resp.Text)
}

func (p *OllamaProvider) Embed(ctx context.Context, text string, tags []string) ([]float32, error) {
	req := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{Model: p.embedModel, Input: EmbeddingInput(text, tags)}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := p.do(ctx, http.MethodPost, "/api/embed", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0], nil
}

func (p *OllamaProvider) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
