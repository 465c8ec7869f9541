package renderer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/internal/visual"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

func TestRenderChart(t *testing.T) {
	var got renderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/render/chart", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(renderResponse{URL: "https://cdn.test/chart.png"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, APIKey: "k"}, nil)
	require.NoError(t, err)

	spec := models.ChartSpec{Title: "Growth", ChartType: "line", Labels: []string{"a", "b"}, Series: []models.ChartSeries{{Name: "s", Values: []float64{1, 2}}}}
	url, err := c.RenderChart(context.Background(), visual.ChartRequest{
		ProjectID: "p1",
		Platform:  models.LookupPlatform("linkedin"),
		Identity:  models.VisualIdentity{PrimaryColor: "#112233"},
		Chart:     spec,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/chart.png", url)

	want := renderRequest{ProjectID: "p1", Platform: "linkedin", Width: 1200, Height: 628, Brand: brand{PrimaryColor: "#112233"}, Chart: &spec}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("render request mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderCard_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(renderResponse{URL: "https://cdn.test/card.png"})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	url, err := c.RenderCard(context.Background(), visual.CardRequest{Card: models.CardSpec{Hook: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/card.png", url)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestRender_ClientErrorsAreFinal(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad chart"))
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)
	_, err = c.RenderCard(context.Background(), visual.CardRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	_, err = New(Config{}, nil)
	assert.Error(t, err)
}
