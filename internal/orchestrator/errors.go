package orchestrator

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when another run holds the project and
// platform lock for longer than the pipeline is willing to wait.
var ErrRunInProgress = errors.New("another run is in progress for this project and platform")

// ConfigurationError means the run's project or context could not be
// loaded. It aborts the run.
type ConfigurationError struct {
	ProjectID string
	Err       error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for project %s: %v", e.ProjectID, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// GenerationError means the primary draft call failed. It aborts the run.
type GenerationError struct {
	RunID string
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for run %s: %v", e.RunID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a collaborator failure with the service name.
// The pipeline recovers from it everywhere except persistence.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborted a run rather than degrading it.
func IsFatal(err error) bool {
	var (
		cfg *ConfigurationError
		gen *GenerationError
	)
	return errors.As(err, &cfg) || errors.As(err, &gen) || errors.Is(err, ErrRunInProgress)
}
