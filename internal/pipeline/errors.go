package pipeline

import "fmt"

// The pipeline error taxonomy. Everything returned from Run is one of these
// (or a transcription.Failure for terminal job states); anything else is a
// bug. All of them are fatal to the invocation. Non-fatal degradations are
// absorbed inside Run and surfaced through the result payload instead.

// ValidationError reports a missing required input field. Nothing has been
// touched when this is returned.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// AuthError reports that the caller is not eligible to run the pipeline.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Reason)
}

// ConfigError reports missing or unreadable required configuration.
type ConfigError struct {
	What string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error (%s): %v", e.What, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.What)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// UpstreamError reports an unreachable or failing collaborator. Status is
// the upstream HTTP status when one was available, zero otherwise.
type UpstreamError struct {
	Op     string
	Status int
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed: upstream status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }
