package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

func TestPreview_NoSideEffects(t *testing.T) {
	h := newHarness(t)
	h.store.news = []*models.NewsItem{{ID: "n1", Title: "Release 2.0 ships"}}
	p := h.pipeline()

	pv, err := p.Preview(context.Background(), models.GenerationRequest{ProjectID: "p1", Platform: "X"})
	require.NoError(t, err)

	assert.Equal(t, "soft_sell", pv.Mix.ChosenType)
	assert.Equal(t, "x", pv.Platform.Name)
	assert.Contains(t, pv.Prompt.Prompt, "Median cycle time is 3 days.")
	assert.Contains(t, pv.Prompt.TemplatesUsed, "voice")
	assert.Empty(t, pv.Degradations)

	assert.Empty(t, h.draft.Calls())
	assert.Empty(t, h.sink.records)
	assert.Empty(t, h.events.types())
	assert.Empty(t, h.metrics.runs)
	assert.Len(t, h.store.news, 1, "preview must not claim news")
}

func TestPreview_ReportsDegradedContext(t *testing.T) {
	h := newHarness(t)
	h.store.errs = map[string]error{"knowledge": errors.New("db down")}

	pv, err := h.pipeline().Preview(context.Background(), models.GenerationRequest{ProjectID: "p1", Platform: "linkedin"})
	require.NoError(t, err)
	require.Len(t, pv.Degradations, 1)
	assert.Equal(t, StageContext, pv.Degradations[0].Stage)
	assert.Empty(t, h.metrics.degradations)
}

func TestPreview_UnknownProject(t *testing.T) {
	h := newHarness(t)
	_, err := h.pipeline().Preview(context.Background(), models.GenerationRequest{ProjectID: "nope", Platform: "x"})

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
