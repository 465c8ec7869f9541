package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jordanhubbard/contentloom/internal/userdir"
)

const version = "0.3.0"

var (
	configPath   string
	logLevel     string
	outputFormat string
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contentloom",
		Short: "contentloom - generate on-brand social posts",
		Long: `contentloom drafts, edits and illustrates social media posts for the
projects in its database. Output is structured JSON by default.`,
		Version:      version,
		SilenceUsage: true,
	}

	defaultConfig := "config.yaml"
	if dirs, err := userdir.Default(); err == nil {
		defaultConfig = dirs.ConfigPath
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfig, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, text")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newWorkerCommand())
	rootCmd.AddCommand(newMixCommand())
	rootCmd.AddCommand(newPromptCommand())
	rootCmd.AddCommand(newServeMetricsCommand())
	return rootCmd
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
