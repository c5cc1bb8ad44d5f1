package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure inside a city-year workflow
type Kind string

const (
	KindConfiguration          Kind = "configuration"
	KindEnvironment            Kind = "environment"
	KindNavigationTimeout      Kind = "navigation_timeout"
	KindAuthentication         Kind = "authentication"
	KindContextSelection       Kind = "context_selection"
	KindRecipeStepTimeout      Kind = "recipe_step_timeout"
	KindDownloadHarvestTimeout Kind = "download_harvest_timeout"
	KindConversion             Kind = "conversion"
	KindInterrupted            Kind = "interrupted"
)

// Sentinels usable with errors.Is against any WorkflowError of that kind
var (
	ErrConfiguration          = &WorkflowError{Kind: KindConfiguration}
	ErrEnvironment            = &WorkflowError{Kind: KindEnvironment}
	ErrNavigationTimeout      = &WorkflowError{Kind: KindNavigationTimeout}
	ErrAuthentication         = &WorkflowError{Kind: KindAuthentication}
	ErrContextSelection       = &WorkflowError{Kind: KindContextSelection}
	ErrRecipeStepTimeout      = &WorkflowError{Kind: KindRecipeStepTimeout}
	ErrDownloadHarvestTimeout = &WorkflowError{Kind: KindDownloadHarvestTimeout}
	ErrConversion             = &WorkflowError{Kind: KindConversion}
	ErrInterrupted            = &WorkflowError{Kind: KindInterrupted}
)

// WorkflowError is the single error type raised by the browser session,
// the executor, the harvester and the file pipeline.
type WorkflowError struct {
	Kind      Kind   `json:"kind"`
	Step      string `json:"step,omitempty"`
	Recipe    string `json:"recipe,omitempty"`
	Message   string `json:"message"`
	Cause     error  `json:"-"`
	Retryable bool   `json:"retryable"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	if e == nil {
		return "unknown workflow error"
	}
	msg := fmt.Sprintf("[%s]", e.Kind)
	if e.Recipe != "" {
		msg += " " + e.Recipe
	}
	if e.Step != "" {
		msg += " (" + e.Step + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *WorkflowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches on Kind so the package sentinels work with errors.Is
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok || e == nil {
		return false
	}
	return t.Kind == e.Kind
}

// NewConfigurationError reports a missing or malformed city configuration
func NewConfigurationError(message string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindConfiguration, Message: message, Cause: cause}
}

// NewEnvironmentError reports that the browser could not be acquired
func NewEnvironmentError(message string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindEnvironment, Message: message, Cause: cause}
}

// NewNavigationTimeout reports a missing page or landmark
func NewNavigationTimeout(step string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:      KindNavigationTimeout,
		Step:      step,
		Message:   "landmark did not appear in time",
		Cause:     cause,
		Retryable: true,
	}
}

// NewAuthenticationError reports rejected credentials
func NewAuthenticationError(message string) *WorkflowError {
	return &WorkflowError{Kind: KindAuthentication, Step: "login", Message: message}
}

// NewContextSelectionError reports a failed context-selection step
func NewContextSelectionError(step string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:    KindContextSelection,
		Step:    step,
		Message: "context selection failed",
		Cause:   cause,
	}
}

// NewRecipeStepTimeout reports a single recipe step that did not complete
func NewRecipeStepTimeout(recipe string, stepIndex int, action string, cause error) *WorkflowError {
	return &WorkflowError{
		Kind:    KindRecipeStepTimeout,
		Recipe:  recipe,
		Step:    fmt.Sprintf("step %d %s", stepIndex+1, action),
		Message: "step did not complete within its timeout",
		Cause:   cause,
	}
}

// NewDownloadHarvestTimeout reports a harvest that produced no files
func NewDownloadHarvestTimeout(batch int, attempts int) *WorkflowError {
	return &WorkflowError{
		Kind:      KindDownloadHarvestTimeout,
		Step:      fmt.Sprintf("batch %d", batch),
		Message:   fmt.Sprintf("no files after %d attempt(s)", attempts),
		Retryable: true,
	}
}

// NewConversionError reports a single file that could not be converted
func NewConversionError(file string, cause error) *WorkflowError {
	return &WorkflowError{Kind: KindConversion, Step: file, Message: "conversion failed", Cause: cause}
}

// NewInterrupted reports that the cancellation token was observed
func NewInterrupted(step string) *WorkflowError {
	return &WorkflowError{Kind: KindInterrupted, Step: step, Message: "operation was cancelled"}
}

// KindOf returns the Kind of the first WorkflowError in err's chain.
// Context cancellation maps to KindInterrupted.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	return ""
}

// IsSessionFatal reports whether err ends the workflow rather than a
// single recipe.
func IsSessionFatal(err error) bool {
	switch KindOf(err) {
	case KindConfiguration, KindEnvironment, KindNavigationTimeout,
		KindAuthentication, KindContextSelection, KindInterrupted:
		return true
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr.Retryable
	}
	return false
}
