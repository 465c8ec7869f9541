// Package userdir resolves per-user paths and secrets for the contentloom CLI.
package userdir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"
)

// Dirs holds the per-user locations used when the config leaves them unset
type Dirs struct {
	DataDir      string
	DatabasePath string
	ConfigPath   string
}

// Default returns the default locations, creating the data directory.
func Default() (*Dirs, error) {
	// Use XDG_DATA_HOME or ~/.local/share as base directory
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	dataDir := filepath.Join(dataHome, "contentloom")

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	configPath := "config.yaml"
	if configHome, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(configHome, "contentloom", "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}

	return &Dirs{
		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, "contentloom.db"),
		ConfigPath:   configPath,
	}, nil
}

// KeyEnv is the environment variable consulted for a provider's API key.
func KeyEnv(providerID string) string {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(providerID))
	return "CONTENTLOOM_" + id + "_API_KEY"
}

// APIKey retrieves a provider key from the environment or, when stdin is a
// terminal, prompts for it with hidden input. The environment takes
// precedence. An empty result with a nil error means no key is available.
func APIKey(providerID string, prompt io.Writer) (string, error) {
	if key := os.Getenv(KeyEnv(providerID)); key != "" {
		return key, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}

	fmt.Fprintf(prompt, "API key for provider %s: ", providerID)
	keyBytes, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	return strings.TrimSpace(string(keyBytes)), nil
}
