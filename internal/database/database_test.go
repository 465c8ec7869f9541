package database

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(filepath.Join(t.TempDir(), "contentloom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
}

func TestProjects(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	_, err := d.GetProject(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	p := &models.ProjectConfig{
		ID:         "p1",
		Name:       "Acme",
		Tone:       "warm",
		ContentMix: models.Mix{{Type: "educational", Target: 4}, {Type: "soft_sell", Target: 1}},
		Constraints: models.Constraints{
			ForbiddenTopics: []string{"politics"},
			MaxHashtags:     2,
		},
	}
	require.NoError(t, d.UpsertProject(ctx, p))
	p.Tone = "bold"
	require.NoError(t, d.UpsertProject(ctx, p))

	got, err := d.GetProject(ctx, "p1")
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("project mismatch (-want +got):\n%s", diff)
	}

	ids, err := d.ListProjectIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids)
}

func TestKnowledgeAndTemplates(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.AddKnowledge(ctx, "p1", models.KnowledgeBaseEntry{Category: "product", Title: "Pricing", Content: "From $9."}))
	require.NoError(t, d.AddKnowledge(ctx, "p2", models.KnowledgeBaseEntry{Title: "Other", Content: "x"}))
	kb, err := d.ListKnowledge(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, kb, 1)
	assert.Equal(t, "Pricing", kb[0].Title)

	for _, tpl := range []*models.PromptTemplate{
		{ProjectID: "p1", Category: "identity", Name: "low", Content: "a", Priority: 1, Active: true},
		{ProjectID: "p1", Category: "identity", Name: "high", Content: "b", Priority: 5, Active: true},
		{ProjectID: "p1", Category: "guardrail", Name: "off", Content: "c", Active: false},
		{Category: "identity", Name: "global", Content: "d", Active: true},
		{ProjectID: "p2", Category: "identity", Name: "foreign", Content: "e", Active: true},
	} {
		require.NoError(t, d.UpsertTemplate(ctx, tpl))
	}
	tpls, err := d.ListPromptTemplates(ctx, "p1")
	require.NoError(t, err)
	names := make([]string, 0, len(tpls))
	for _, tpl := range tpls {
		names = append(names, tpl.Name)
	}
	assert.Equal(t, []string{"high", "low", "global"}, names)
	assert.True(t, tpls[2].IsGlobal())
}

func TestContentMixAndHistory(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	weekStart := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

	rows := []models.ContentRecord{
		{ProjectID: "p1", Platform: "x", ContentType: "educational", Text: "old", Status: models.ContentStatusPublished, CreatedAt: weekStart.Add(-time.Hour)},
		{ProjectID: "p1", Platform: "x", ContentType: "educational", Text: "e1", Status: models.ContentStatusReview, CreatedAt: now.Add(-2 * time.Hour)},
		{ProjectID: "p1", Platform: "x", ContentType: "soft_sell", Text: "s1", Status: models.ContentStatusApproved, CreatedAt: now.Add(-time.Hour)},
		{ProjectID: "p1", Platform: "x", ContentType: "hard_sell", Text: "rej", Status: models.ContentStatusRejected, CreatedAt: now},
		{ProjectID: "p1", Platform: "linkedin", ContentType: "educational", Text: "li", Status: models.ContentStatusReview, CreatedAt: now},
	}
	for i := range rows {
		require.NoError(t, d.SaveContent(ctx, &rows[i]))
	}

	counts, total, err := d.MixCounts(ctx, "p1", "x", weekStart)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"educational": 1, "soft_sell": 1}, counts)
	assert.Equal(t, 4, total)

	posts, err := d.RecentPosts(ctx, "p1", "x", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "e1", "old"}, posts)

	require.NoError(t, d.RecordEdit(ctx, rows[1].ID, "e1 edited", "shorter"))
	fb, err := d.RecentFeedback(ctx, "p1", 5)
	require.NoError(t, err)
	require.Len(t, fb, 1)
	assert.Equal(t, models.FeedbackRecord{OriginalText: "e1", EditedText: "e1 edited", FeedbackNote: "shorter"}, fb[0])

	require.NoError(t, d.UpdateContentStatus(ctx, rows[1].ID, models.ContentStatusApproved))
	assert.True(t, errors.Is(d.UpdateContentStatus(ctx, "nope", models.ContentStatusApproved), ErrNotFound))
}

func TestSaveContent_RoundTripsTrace(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	rec := &models.ContentRecord{
		ProjectID:   "p1",
		Platform:    "x",
		ContentType: "educational",
		Text:        "hello",
		Scores:      models.Scores{Creativity: 7, ToneMatch: 8, HallucinationRisk: 9, ValueScore: 7, Overall: 8},
		GenerationContext: &models.GenerationTrace{
			RunID:         "run-1",
			ContentType:   "educational",
			KnowledgeUsed: []string{"Pricing"},
			Editor:        models.EditorTrace{Status: "accepted"},
			Visual:        models.VisualTrace{Decision: "none", Final: "none"},
		},
	}
	require.NoError(t, d.SaveContent(ctx, rec))
	assert.Equal(t, models.ContentStatusReview, rec.Status)

	got, err := d.GetContent(ctx, rec.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("content mismatch (-want +got):\n%s", diff)
	}
}

func TestClaimNews_AtMostOnce(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	n, err := d.ClaimNews(ctx, "p1", "run-0")
	require.NoError(t, err)
	assert.Nil(t, n)

	base := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ProjectID: "p1", Title: "older", PublishedAt: base}))
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ProjectID: "p1", Title: "newer", PublishedAt: base.Add(time.Hour)}))

	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			item, err := d.ClaimNews(ctx, "p1", "run")
			if err != nil || item == nil {
				return
			}
			mu.Lock()
			claimed = append(claimed, item.Title)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// Drain whatever a busy writer left behind; no title may appear twice.
	for {
		item, err := d.ClaimNews(ctx, "p1", "drain")
		require.NoError(t, err)
		if item == nil {
			break
		}
		claimed = append(claimed, item.Title)
	}
	assert.ElementsMatch(t, []string{"newer", "older"}, claimed)
}

func TestClaimNews_NewestFirst(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC)
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ProjectID: "p1", Title: "older", PublishedAt: base}))
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ProjectID: "p1", Title: "newer", PublishedAt: base.Add(time.Hour)}))
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ProjectID: "p2", Title: "foreign", PublishedAt: base.Add(2 * time.Hour)}))

	n, err := d.ClaimNews(ctx, "p1", "run-1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "newer", n.Title)
}

func TestMediaAssetsAndAgentLogs(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	a := &models.MediaAsset{ProjectID: "p1", URL: "https://cdn/x.jpg", Tags: []string{"cafe"}, Embedding: []float32{0.1, 0.2}, Source: "generated"}
	require.NoError(t, d.SaveMediaAsset(ctx, a))
	assets, err := d.ListMediaAssets(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, []float32{0.1, 0.2}, assets[0].Embedding)
	assert.Equal(t, []string{"cafe"}, assets[0].Tags)

	require.NoError(t, d.AppendAgentLog(ctx, models.AgentLogEntry{RunID: "r1", ProjectID: "p1", Stage: "generation", Status: "success", Metadata: map[string]any{"tier": "strict"}}))
	require.NoError(t, d.AppendAgentLog(ctx, models.AgentLogEntry{RunID: "r1", ProjectID: "p1", Stage: "editor", Status: "skipped", CreatedAt: time.Now().Add(time.Second)}))
	logs, err := d.ListAgentLogs(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "generation", logs[0].Stage)
	assert.Equal(t, "strict", logs[0].Metadata["tier"])
}

func TestDistributedLock(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	l, err := d.AcquireLock(ctx, "run:p1:x", time.Minute)
	require.NoError(t, err)

	_, err = d.AcquireLock(ctx, "run:p1:x", time.Minute)
	assert.True(t, errors.Is(err, ErrLockHeld))

	require.NoError(t, l.Release(ctx))
	require.NoError(t, l.Release(ctx))

	l2, err := d.AcquireLock(ctx, "run:p1:x", time.Minute)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestDistributedLock_StealsExpired(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Minute)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO distributed_locks (lock_name, instance_id, acquired_at, expires_at, heartbeat_at) VALUES (?, ?, ?, ?, ?)`,
		"k", "crashed-worker", past, past, past)
	require.NoError(t, err)

	l, err := d.AcquireLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	var owner string
	require.NoError(t, d.db.QueryRowContext(ctx, `SELECT instance_id FROM distributed_locks WHERE lock_name = ?`, "k").Scan(&owner))
	assert.Equal(t, l.instanceID, owner)
	require.NoError(t, l.Release(ctx))
}

func TestReplaceKnowledge(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.AddKnowledge(ctx, "p1", models.KnowledgeBaseEntry{Title: "stale", Content: "x"}))
	require.NoError(t, d.AddKnowledge(ctx, "p2", models.KnowledgeBaseEntry{Title: "other", Content: "y"}))

	entries := []models.KnowledgeBaseEntry{
		{Category: "product", Title: "first", Content: "a"},
		{Category: "product", Title: "second", Content: "b"},
		{Category: "faq", Title: "third", Content: "c"},
	}
	require.NoError(t, d.ReplaceKnowledge(ctx, "p1", entries))
	require.NoError(t, d.ReplaceKnowledge(ctx, "p1", entries))

	kb, err := d.ListKnowledge(ctx, "p1")
	require.NoError(t, err)
	if diff := cmp.Diff(entries, kb); diff != "" {
		t.Errorf("knowledge mismatch (-want +got):\n%s", diff)
	}

	other, err := d.ListKnowledge(ctx, "p2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestAddNews_ExistingIDIsKept(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ID: "n1", ProjectID: "p1", Title: "launch"}))
	n, err := d.ClaimNews(ctx, "p1", "run-1")
	require.NoError(t, err)
	require.NotNil(t, n)

	// Reseeding the same item must not make it claimable again.
	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ID: "n1", ProjectID: "p1", Title: "launch"}))
	n, err = d.ClaimNews(ctx, "p1", "run-2")
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestReleaseNews(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.AddNews(ctx, &models.NewsItem{ID: "n1", ProjectID: "p1", Title: "Release 2.0 ships"}))
	n, err := d.ClaimNews(ctx, "p1", "run-1")
	require.NoError(t, err)
	require.NotNil(t, n)

	// Another run cannot hand back an item it does not hold.
	require.NoError(t, d.ReleaseNews(ctx, "n1", "run-2"))
	again, err := d.ClaimNews(ctx, "p1", "run-3")
	require.NoError(t, err)
	assert.Nil(t, again)

	require.NoError(t, d.ReleaseNews(ctx, "n1", "run-1"))
	again, err = d.ClaimNews(ctx, "p1", "run-4")
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "n1", again.ID)
}
