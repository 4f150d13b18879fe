package domain

import (
	"errors"
	"fmt"
)

// ErrModelUnavailable signals that the probability model could not produce a
// score. The engine recovers locally by degrading to rule+anomaly scoring.
var ErrModelUnavailable = errors.New("probability model unavailable")

// ValidationError reports structurally invalid input. It is surfaced to the
// caller instead of a verdict: "could not be evaluated" must never look like
// "evaluated as SAFE".
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s", e.Field, e.Reason)
}

// ConfigError reports a malformed engine configuration. Configuration is
// validated eagerly when the engine is (re)built, never mid-evaluation.
type ConfigError struct {
	Component string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s configuration: %s", e.Component, e.Reason)
}
