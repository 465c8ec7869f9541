package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/contentloom/internal/balancer"
	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

type previewFlags struct {
	req    models.GenerationRequest
	dryRun bool
}

func (f *previewFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.req.ProjectID, "project", "p", "", "Project ID (required)")
	cmd.Flags().StringVar(&f.req.Platform, "platform", "", "Target platform (required)")
	cmd.Flags().StringVarP(&f.req.ContentType, "type", "t", "", "Content type; empty lets the balancer decide")
	cmd.Flags().StringVar(&f.req.PatternTemplate, "pattern", "", "Pattern template to follow")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Use an in-memory database seeded from the projects file")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("platform")
}

func (f *previewFlags) preview(ctx context.Context) (*orchestrator.Preview, func() error, error) {
	a, err := newApp(ctx, appOptions{configPath: configPath, logLevel: logLevel, dryRun: f.dryRun})
	if err != nil {
		return nil, nil, err
	}
	pv, err := a.pipeline.Preview(ctx, f.req)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return pv, a.Close, nil
}

// mixOutput is the mix command's JSON output.
type mixOutput struct {
	Status       models.MixStatus     `json:"status"`
	Annotation   string               `json:"annotation"`
	Degradations []models.Degradation `json:"degradations,omitempty"`
}

func newMixCommand() *cobra.Command {
	var f previewFlags
	cmd := &cobra.Command{
		Use:   "mix",
		Short: "Show this week's content mix and the type the balancer would pick",
		RunE: func(cmd *cobra.Command, args []string) error {
			pv, closeApp, err := f.preview(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			annotation := balancer.Annotation(pv.Mix)
			if outputFormat == "text" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), annotation)
				return err
			}
			return printJSON(cmd.OutOrStdout(), mixOutput{Status: pv.Mix, Annotation: annotation, Degradations: pv.Degradations})
		},
	}
	f.register(cmd)
	return cmd
}

// promptOutput is the prompt command's JSON output.
type promptOutput struct {
	ContentType   string               `json:"content_type"`
	Prompt        string               `json:"prompt"`
	TemplatesUsed []string             `json:"templates_used,omitempty"`
	KnowledgeUsed []string             `json:"knowledge_used,omitempty"`
	RecentPosts   int                  `json:"recent_posts"`
	FeedbackUsed  int                  `json:"feedback_used"`
	Degradations  []models.Degradation `json:"degradations,omitempty"`
}

func newPromptCommand() *cobra.Command {
	var f previewFlags
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Print the prompt the next run would send, without calling a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			pv, closeApp, err := f.preview(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			if outputFormat == "text" {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), pv.Prompt.Prompt)
				return err
			}
			return printJSON(cmd.OutOrStdout(), promptOutput{
				ContentType:   pv.Mix.ChosenType,
				Prompt:        pv.Prompt.Prompt,
				TemplatesUsed: pv.Prompt.TemplatesUsed,
				KnowledgeUsed: pv.Prompt.KnowledgeUsed,
				RecentPosts:   pv.Prompt.RecentPosts,
				FeedbackUsed:  pv.Prompt.FeedbackUsed,
				Degradations:  pv.Degradations,
			})
		},
	}
	f.register(cmd)
	return cmd
}
