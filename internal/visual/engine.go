// Package visual decides and produces the image attached to a post: a data
// chart, a branded text card, a matched or generated photo, or nothing.
package visual

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"image"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/internal/storage"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Defaults for Options.
const (
	DefaultSampleCount      = 2
	DefaultQualityThreshold = 7.0
	generatedFolder         = "generated"
)

// ChartRequest asks a renderer to draw structured data.
type ChartRequest struct {
	ProjectID string
	Platform  models.PlatformSpec
	Identity  models.VisualIdentity
	Template  string
	Chart     models.ChartSpec
}

// CardRequest asks a renderer to lay copy onto a branded background.
type CardRequest struct {
	ProjectID string
	Platform  models.PlatformSpec
	Identity  models.VisualIdentity
	Template  string
	Card      models.CardSpec
}

// ChartRenderer returns the public URL of a rendered chart.
type ChartRenderer interface {
	RenderChart(ctx context.Context, req ChartRequest) (string, error)
}

// CardRenderer returns the public URL of a rendered card.
type CardRenderer interface {
	RenderCard(ctx context.Context, req CardRequest) (string, error)
}

// MediaLibrary is the project's image library.
type MediaLibrary interface {
	ListMediaAssets(ctx context.Context, projectID string) ([]models.MediaAsset, error)
	SaveMediaAsset(ctx context.Context, asset *models.MediaAsset) error
}

// Uploader stores processed images.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename string, opts storage.UploadOptions) (*storage.Object, error)
}

// AssetFetcher downloads brand assets such as the logo.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Observer receives visual outcomes.
type Observer interface {
	RecordVisual(decision, final string, degraded bool)
	ObserveImageScore(score float64)
}

// Deps are the collaborators. Any may be nil; the paths needing a missing
// one fail and fall through.
type Deps struct {
	Decider  provider.Generator
	Scorer   provider.Generator
	Images   provider.ImageGenerator
	Vision   provider.Vision
	Embedder provider.Embedder
	Library  MediaLibrary
	Uploader Uploader
	Charts   ChartRenderer
	Cards    CardRenderer
	Assets   AssetFetcher
}

// Options tune the engine.
type Options struct {
	DecisionModel    string
	ScoreModel       string
	SampleCount      int
	MatchThreshold   float64
	QualityThreshold float64 // logged only; the best sample is always used
	Timeout          time.Duration
	Observer         Observer
	Logger           *zap.Logger
}

// Outcome is what a run produced. Degraded means the chosen path failed and
// the post goes out text-only.
type Outcome struct {
	Assets   *models.VisualAssets
	Decision Decision
	Trace    models.VisualTrace
	NewAsset *models.MediaAsset
	Usage    provider.Completion
	Err      error
}

// Engine executes visual decisions. It is safe for concurrent use.
type Engine struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates a visual engine.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.SampleCount <= 0 {
		opts.SampleCount = DefaultSampleCount
	}
	if opts.MatchThreshold <= 0 {
		opts.MatchThreshold = DefaultMatchThreshold
	}
	if opts.QualityThreshold <= 0 {
		opts.QualityThreshold = DefaultQualityThreshold
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{deps: deps, opts: opts, logger: logger.With(zap.String("component", "VisualEngine")), now: time.Now}
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.Timeout > 0 {
		return context.WithTimeout(ctx, e.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// execution is the state of one Execute call.
type execution struct {
	e     *Engine
	in    Input
	mu    sync.Mutex
	usage provider.Completion
	path  []string
	asset *models.MediaAsset
}

func (x *execution) addUsage(c *provider.Completion) {
	if c == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.usage.PromptTokens += c.PromptTokens
	x.usage.CompletionTokens += c.CompletionTokens
}

func (x *execution) step(format string, args ...any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.path = append(x.path, fmt.Sprintf(format, args...))
}

// Execute decides on a visual and produces it. It never fails the run: any
// failure in the executed path yields a none visual marked degraded.
func (e *Engine) Execute(ctx context.Context, in Input) Outcome {
	x := &execution{e: e, in: in}
	d := x.decide(ctx)
	x.step("decide:%s", d.VisualType)

	var (
		assets *models.VisualAssets
		err    error
	)
	switch d.VisualType {
	case models.VisualNone:
		assets = models.NoVisual()
	case models.VisualChart:
		assets, err = x.chart(ctx, d)
	case models.VisualCard:
		assets, err = x.card(ctx, d)
	default:
		assets, err = x.photo(ctx, d)
	}

	out := Outcome{Decision: d, Err: err}
	reason := d.Reason
	if err != nil {
		e.logger.Warn("visual path failed; posting text only",
			zap.String("decision", string(d.VisualType)), zap.String("project_id", in.projectID()), zap.Error(err))
		assets = models.NoVisual()
		reason = fmt.Sprintf("%s failed: %v", d.VisualType, err)
	}
	out.Assets = assets
	out.NewAsset = x.asset
	out.Usage = x.usage
	out.Trace = models.VisualTrace{
		Decision: string(d.Requested),
		Final:    string(assets.VisualType),
		Reason:   reason,
		Degraded: err != nil,
		Path:     x.path,
	}
	if e.opts.Observer != nil {
		e.opts.Observer.RecordVisual(out.Trace.Decision, out.Trace.Final, out.Trace.Degraded)
	}
	return out
}

func (x *execution) identity() models.VisualIdentity {
	if x.in.Project == nil {
		return models.VisualIdentity{}
	}
	return x.in.Project.Visual
}

func (x *execution) chart(ctx context.Context, d Decision) (*models.VisualAssets, error) {
	if x.e.deps.Charts == nil {
		return nil, errors.New("no chart renderer configured")
	}
	ctx, cancel := x.e.callContext(ctx)
	defer cancel()
	url, err := x.e.deps.Charts.RenderChart(ctx, ChartRequest{
		ProjectID: x.in.projectID(),
		Platform:  x.in.Platform,
		Identity:  x.identity(),
		Template:  d.Template,
		Chart:     *d.Chart,
	})
	if err != nil {
		x.step("chart:failed")
		return nil, fmt.Errorf("failed to render chart: %w", err)
	}
	x.step("chart:ok")
	return &models.VisualAssets{VisualType: models.VisualChart, ChartURL: url, Template: d.Template}, nil
}

func (x *execution) card(ctx context.Context, d Decision) (*models.VisualAssets, error) {
	if x.e.deps.Cards == nil {
		return nil, errors.New("no card renderer configured")
	}
	spec := d.Card
	if spec == nil || strings.TrimSpace(spec.Hook) == "" {
		spec = CardFromText(x.in.Text)
	}
	template := d.Template
	if template == "" {
		template = x.identity().CardTemplate
	}
	ctx, cancel := x.e.callContext(ctx)
	defer cancel()
	url, err := x.e.deps.Cards.RenderCard(ctx, CardRequest{
		ProjectID: x.in.projectID(),
		Platform:  x.in.Platform,
		Identity:  x.identity(),
		Template:  template,
		Card:      *spec,
	})
	if err != nil {
		x.step("card:failed")
		return nil, fmt.Errorf("failed to render card: %w", err)
	}
	x.step("card:ok")
	return &models.VisualAssets{VisualType: models.VisualCard, CardURL: url, Template: template}, nil
}

// photo tries the library, then generation, then a card.
func (x *execution) photo(ctx context.Context, d Decision) (*models.VisualAssets, error) {
	if v := x.match(ctx); v != nil {
		return v, nil
	}
	v, genErr := x.generate(ctx, d)
	if genErr == nil {
		return v, nil
	}
	x.e.logger.Info("photo generation failed; falling back to card", zap.Error(genErr))
	v, err := x.card(ctx, d)
	if err != nil {
		return nil, errors.Join(genErr, err)
	}
	return v, nil
}

func (x *execution) match(ctx context.Context) *models.VisualAssets {
	deps := x.e.deps
	if deps.Embedder == nil || deps.Library == nil {
		return nil
	}
	cctx, cancel := x.e.callContext(ctx)
	defer cancel()

	query, err := deps.Embedder.Embed(cctx, x.in.Text, nil)
	if err != nil {
		x.step("match:embed_failed")
		x.e.logger.Warn("failed to embed post for library match", zap.Error(err))
		return nil
	}
	assets, err := deps.Library.ListMediaAssets(cctx, x.in.projectID())
	if err != nil {
		x.step("match:library_failed")
		x.e.logger.Warn("failed to list media library", zap.Error(err))
		return nil
	}
	best, sim := BestMatch(assets, query, x.e.opts.MatchThreshold)
	if best == nil {
		x.step("match:miss(%.2f)", sim)
		return nil
	}
	x.step("match:hit(%.2f)", sim)
	return &models.VisualAssets{
		VisualType:        models.VisualMatchedPhoto,
		GeneratedImageURL: best.URL,
		MediaAssetID:      best.ID,
		MatchSimilarity:   sim,
	}
}

func (x *execution) generate(ctx context.Context, d Decision) (*models.VisualAssets, error) {
	deps := x.e.deps
	if deps.Images == nil || deps.Uploader == nil {
		x.step("generate:unavailable")
		return nil, errors.New("image generation not configured")
	}

	preset := x.identity().Photography
	base := x.in.ImagePrompt
	if base == "" {
		base = truncate(x.in.Text, 300)
	}
	prompt, negative := ImagePrompt(preset, base, x.in.Platform)

	cctx, cancel := x.e.callContext(ctx)
	images, err := deps.Images.GenerateImages(cctx, provider.ImageRequest{
		Prompt:         prompt,
		NegativePrompt: negative,
		AspectRatio:    x.in.Platform.GenerateAspect,
		SampleCount:    x.e.opts.SampleCount,
	})
	cancel()
	if err != nil {
		x.step("generate:failed")
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	if len(images) == 0 {
		x.step("generate:empty")
		return nil, errors.New("image generator returned no samples")
	}

	best, score := x.pickBest(ctx, images, prompt)
	if obs := x.e.opts.Observer; obs != nil {
		obs.ObserveImageScore(score)
	}
	if score < x.e.opts.QualityThreshold {
		x.e.logger.Info("best sample below quality threshold; using it anyway",
			zap.Float64("score", score), zap.Float64("threshold", x.e.opts.QualityThreshold))
	}
	x.step("generate:%d_samples(best=%.1f)", len(images), score)

	processed, err := PostProcess(best.Data, PostProcessOptions{
		Preset:  preset,
		Width:   x.in.Platform.Width,
		Height:  x.in.Platform.Height,
		Logo:    x.logo(ctx),
		Overlay: CardFromText(x.in.Text).Hook,
		Seed:    seedOf(prompt),
	})
	if err != nil {
		x.step("postprocess:failed")
		return nil, err
	}

	id := uuid.NewString()
	cctx, cancel = x.e.callContext(ctx)
	obj, err := deps.Uploader.Upload(cctx, processed, id+".jpg", storage.UploadOptions{
		ProjectID:   x.in.projectID(),
		Folder:      generatedFolder,
		ContentType: "image/jpeg",
	})
	cancel()
	if err != nil {
		x.step("upload:failed")
		return nil, fmt.Errorf("failed to upload generated image: %w", err)
	}
	x.step("upload:ok")

	x.saveAsset(ctx, &models.MediaAsset{
		ID:         id,
		ProjectID:  x.in.projectID(),
		URL:        obj.PublicURL,
		StorageKey: obj.Key,
		Source:     generatedFolder,
		CreatedAt:  x.e.now().UTC(),
	}, processed, prompt)

	return &models.VisualAssets{
		VisualType:        models.VisualGeneratedPhoto,
		ImagePrompt:       prompt,
		GeneratedImageURL: obj.PublicURL,
		MediaAssetID:      id,
		Template:          d.Template,
	}, nil
}

// pickBest scores every sample concurrently and returns the highest. Ties
// go to the earliest sample; unscored samples count as zero.
func (x *execution) pickBest(ctx context.Context, images []provider.Image, prompt string) (provider.Image, float64) {
	scores := make([]float64, len(images))
	if x.e.deps.Scorer != nil && len(images) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, img := range images {
			g.Go(func() error {
				scores[i] = x.score(gctx, img, prompt)
				return nil
			})
		}
		_ = g.Wait()
	} else if x.e.deps.Scorer != nil {
		scores[0] = x.score(ctx, images[0], prompt)
	}

	best := 0
	for i := range scores {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return images[best], scores[best]
}

var scoreRe = regexp.MustCompile(`"?score"?\s*:\s*(\d+(?:\.\d+)?)|(\d+(?:\.\d+)?)`)

func (x *execution) score(ctx context.Context, img provider.Image, prompt string) float64 {
	ctx, cancel := x.e.callContext(ctx)
	defer cancel()
	resp, err := x.e.deps.Scorer.Generate(ctx, provider.GenerateRequest{
		Model:  x.e.opts.ScoreModel,
		Prompt: ScorePrompt(prompt),
		Images: []provider.Image{img},
	})
	if err != nil {
		x.e.logger.Debug("failed to score image sample", zap.Error(err))
		return 0
	}
	x.addUsage(resp)
	return ParseScore(resp.Text)
}

// ScorePrompt asks a multimodal model to grade one sample.
func ScorePrompt(prompt string) string {
	return "Rate this image from 1 to 10 for how well it matches the brief, its technical quality and whether it would stop a scroll.\n" +
		"Brief: " + prompt + "\n" +
		`Respond with JSON only: {"score": <number>}`
}

// ParseScore reads a 0-10 grade from a model answer; garbage yields 0.
func ParseScore(raw string) float64 {
	m := scoreRe.FindStringSubmatch(raw)
	if m == nil {
		return 0
	}
	s := m[1]
	if s == "" {
		s = m[2]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func (x *execution) logo(ctx context.Context) image.Image {
	id := x.identity()
	if !id.Photography.LogoOverlay || id.LogoURL == "" || x.e.deps.Assets == nil {
		return nil
	}
	cctx, cancel := x.e.callContext(ctx)
	defer cancel()
	data, err := x.e.deps.Assets.Fetch(cctx, id.LogoURL)
	if err != nil {
		x.e.logger.Warn("failed to fetch logo; skipping overlay", zap.String("url", id.LogoURL), zap.Error(err))
		return nil
	}
	img, err := DecodeImage(data)
	if err != nil {
		x.e.logger.Warn("failed to decode logo; skipping overlay", zap.Error(err))
		return nil
	}
	return img
}

// saveAsset describes, embeds and stores a generated image. Each step is
// best effort; the upload already succeeded.
func (x *execution) saveAsset(ctx context.Context, asset *models.MediaAsset, data []byte, prompt string) {
	deps := x.e.deps

	analysis := x.analyze(ctx, data)
	if analysis == nil {
		x.step("analyze:fallback")
		analysis = &provider.Analysis{Description: x.in.AltText, Tags: TagsFromPrompt(prompt)}
		if analysis.Description == "" {
			analysis.Description = truncate(prompt, 200)
		}
	}
	asset.Description = analysis.Description
	asset.Tags = sortedTags(analysis.Tags)
	asset.Mood = analysis.Mood
	asset.Scene = analysis.Scene
	asset.QualityScore = analysis.QualityScore

	if deps.Embedder != nil {
		cctx, cancel := x.e.callContext(ctx)
		vec, err := deps.Embedder.Embed(cctx, asset.Description, asset.Tags)
		cancel()
		if err != nil {
			x.e.logger.Warn("failed to embed generated image", zap.String("asset_id", asset.ID), zap.Error(err))
		} else {
			asset.Embedding = vec
		}
	}

	x.asset = asset
	if deps.Library == nil {
		return
	}
	cctx, cancel := x.e.callContext(ctx)
	defer cancel()
	if err := deps.Library.SaveMediaAsset(cctx, asset); err != nil {
		x.e.logger.Warn("failed to save generated image to library", zap.String("asset_id", asset.ID), zap.Error(err))
		return
	}
	x.step("library:saved")
}

func (x *execution) analyze(ctx context.Context, data []byte) *provider.Analysis {
	if x.e.deps.Vision == nil {
		return nil
	}
	ctx, cancel := x.e.callContext(ctx)
	defer cancel()
	a, err := x.e.deps.Vision.Analyze(ctx, provider.Image{Data: data, MIMEType: "image/jpeg"})
	if err != nil {
		x.e.logger.Warn("vision analysis failed; deriving tags from prompt", zap.Error(err))
		return nil
	}
	return a
}

func seedOf(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
