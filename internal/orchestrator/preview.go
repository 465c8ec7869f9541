package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/prompt"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Preview is the content type decision and prompt a run would start from.
type Preview struct {
	Mix      models.MixStatus
	Prompt   prompt.Assembly
	Platform models.PlatformSpec
	// Degradations lists context that could not be loaded.
	Degradations []models.Degradation
}

// Preview loads the run context and assembles the prompt without calling
// any model, taking the lock, claiming news or saving anything.
func (p *Pipeline) Preview(ctx context.Context, req models.GenerationRequest) (*Preview, error) {
	r := &run{
		p:       p,
		req:     req,
		id:      "preview-" + uuid.NewString(),
		start:   p.now(),
		preview: true,
	}
	r.req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	r.platform = models.LookupPlatform(r.req.Platform)
	r.trace = &models.GenerationTrace{RunID: r.id}
	r.logger = p.logger.With(zap.String("project_id", req.ProjectID), zap.String("platform", r.req.Platform))

	if strings.TrimSpace(req.ProjectID) == "" || r.req.Platform == "" {
		return nil, &ConfigurationError{ProjectID: req.ProjectID, Err: errors.New("project id and platform are required")}
	}
	if err := r.loadProject(ctx); err != nil {
		return nil, err
	}
	in, err := r.gatherContext(ctx)
	if err != nil {
		return nil, err
	}
	return &Preview{
		Mix:          *in.Mix,
		Prompt:       prompt.Assemble(in),
		Platform:     r.platform,
		Degradations: r.trace.Degradations,
	}, nil
}
