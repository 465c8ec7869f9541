package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOllamaProvider_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"model":"llama3","message":{"role":"assistant","content":"{\"text\":\"hi\"}"},"done":true,"prompt_eval_count":12,"eval_count":3}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/", "llama3", "")
	resp, err := p.Generate(context.Background(), GenerateRequest{
		System:      "be brief",
		Prompt:      "write",
		Temperature: 0.8,
		Images:      []Image{{Data: []byte("png")}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"text":"hi"}`, resp.Text)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 3, resp.CompletionTokens)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, []any{"cG5n"}, user["images"])
	assert.Equal(t, 0.8, got["options"].(map[string]any)["temperature"])
}

func TestOllamaProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", "")
	_, err := p.Generate(context.Background(), GenerateRequest{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status code 500")

	_, err = NewOllamaProvider(srv.URL, "", "").Generate(context.Background(), GenerateRequest{Prompt: "x"})
	assert.EqualError(t, err, "model is required")
}

func TestOllamaProvider_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct{ Model, Input string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "coffee beans\nTags: roast, dark", req.Input)
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer srv.Close()

	vec, err := NewOllamaProvider(srv.URL, "m", "").Embed(context.Background(), "coffee beans", []string{"roast", "dark"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],
			"usage":{"prompt_tokens":7,"completion_tokens":2,"total_tokens":9}}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(srv.URL, "sk-test", "gpt-4o-mini", srv.Client())
	require.NoError(t, err)
	resp, err := p.Generate(context.Background(), GenerateRequest{Prompt: "hi", Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, 7, resp.PromptTokens)
	assert.Equal(t, 2, resp.CompletionTokens)

	_, err = NewOpenAIProvider(srv.URL, "k", "", nil)
	assert.Error(t, err)
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("```json\n{\"description\":\"a cup\",\"tags\":[\" Coffee \",\"MUG\"],\"mood\":\"cozy\",\"scene\":\"cafe\",\"quality_score\":8}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"coffee", "mug"}, a.Tags)
	assert.Equal(t, 8.0, a.QualityScore)

	_, err = ParseAnalysis("no json here")
	assert.Error(t, err)
}

func TestRegistry_Capabilities(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, &ProviderConfig{ID: "m", Type: "mock"}))
	require.NoError(t, r.Register(ctx, &ProviderConfig{ID: "o", Type: "openai", Model: "gpt-4o", APIKey: "k"}))
	assert.Error(t, r.Register(ctx, &ProviderConfig{ID: "m", Type: "mock"}))
	assert.Error(t, r.Register(ctx, &ProviderConfig{ID: "x", Type: "carrier-pigeon"}))

	_, err := r.Generator("m")
	assert.NoError(t, err)
	_, err = r.ImageGenerator("m")
	assert.NoError(t, err)
	_, err = r.Embedder("o")
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = r.Vision("missing")
	assert.Error(t, err)

	ids := []string{}
	for _, p := range r.List() {
		ids = append(ids, p.Config.ID)
	}
	assert.Equal(t, []string{"m", "o"}, ids)
}

type failingPinger struct{ MockProvider }

func (f *failingPinger) Ping(context.Context) error { return errors.New("down") }

func TestHealthWatchdog_CheckOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterImpl(&ProviderConfig{ID: "up"}, NewMockProvider()))
	require.NoError(t, r.RegisterImpl(&ProviderConfig{ID: "down"}, &failingPinger{}))
	require.NoError(t, r.RegisterImpl(&ProviderConfig{ID: "plain"}, struct{}{}))
	assert.False(t, r.IsActive("up"))

	NewHealthWatchdog(r, 0, zap.NewNop()).CheckOnce()

	assert.True(t, r.IsActive("up"))
	assert.True(t, r.IsActive("plain"))
	assert.False(t, r.IsActive("down"))
	p, _ := r.Get("down")
	assert.Equal(t, int64(-1), p.Config.LastHeartbeatLatencyMs)
}

func TestMockProvider_Sequence(t *testing.T) {
	m := NewMockProvider("first", "second")
	ctx := context.Background()
	for _, want := range []string{"first", "second", "second"} {
		resp, err := m.Generate(ctx, GenerateRequest{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Text)
	}
	assert.Len(t, m.Calls(), 3)

	imgs, err := m.GenerateImages(ctx, ImageRequest{SampleCount: 3})
	require.NoError(t, err)
	assert.Len(t, imgs, 3)

	m.FailWith(errors.New("offline"))
	_, err = m.Generate(ctx, GenerateRequest{})
	assert.EqualError(t, err, "offline")
}
