package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/capture"
	"github.com/Socialeap/project-watch-dashboard/internal/observability"
)

// Choice is a user-selected recovery path after capture bring-up fails
type Choice string

const (
	// ChoiceRetry re-attempts the full streaming bring-up from scratch
	ChoiceRetry Choice = "retry"
	// ChoiceFallback switches to the turn-based recorder path, which does
	// not depend on continuous live microphone access
	ChoiceFallback Choice = "fallback"
	// ChoiceReset discards all in-progress voice state and returns to idle
	ChoiceReset Choice = "reset"
)

// Prompt describes the recovery options offered to the user
type Prompt struct {
	Reason  string
	Choices []Choice
}

// Actions are the recovery paths the controller can drive
type Actions interface {
	// RetryStreaming re-runs the streaming session bring-up from scratch
	RetryStreaming(ctx context.Context) error

	// FallbackRecording switches the session to turn-based capture
	FallbackRecording(ctx context.Context) error

	// Reset discards in-progress voice state and returns to idle
	Reset()
}

// Controller decides what to offer when microphone bring-up fails and
// watches visibility transitions for silent permission re-checks.
type Controller struct {
	capture *capture.Controller
	actions Actions
	logger  zerolog.Logger

	mu      sync.Mutex
	pending bool

	// OnPermissionRestored is invoked when a silent re-check finds the
	// microphone available again. Optional.
	OnPermissionRestored func()
}

// NewController creates a recovery controller
func NewController(capCtrl *capture.Controller, actions Actions, logger zerolog.Logger) *Controller {
	return &Controller{
		capture: capCtrl,
		actions: actions,
		logger:  logger,
	}
}

// HandleCaptureFailure inspects a capture bring-up error. Permission and
// device failures arm a prompt with the three recovery choices; anything
// else returns nil and is left to normal error surfacing.
func (c *Controller) HandleCaptureFailure(err error) *Prompt {
	if !errors.Is(err, capture.ErrPermissionDenied) && !errors.Is(err, capture.ErrDeviceUnavailable) {
		return nil
	}

	c.mu.Lock()
	c.pending = true
	c.mu.Unlock()

	reason := "Microphone access failed."
	if errors.Is(err, capture.ErrDeviceUnavailable) {
		reason = "No usable microphone was found."
	}

	c.logger.Warn().Err(err).Msg("Offering recovery choices")
	return &Prompt{
		Reason:  reason,
		Choices: []Choice{ChoiceRetry, ChoiceFallback, ChoiceReset},
	}
}

// Choose applies a user selection. Returns an error when no prompt is
// pending or the choice is unknown.
func (c *Controller) Choose(ctx context.Context, choice Choice) error {
	c.mu.Lock()
	if !c.pending {
		c.mu.Unlock()
		return fmt.Errorf("recovery: no recovery prompt is pending")
	}
	c.pending = false
	c.mu.Unlock()

	observability.RecordRecoveryChoice(string(choice))
	c.logger.Info().Str("choice", string(choice)).Msg("Recovery choice selected")

	switch choice {
	case ChoiceRetry:
		return c.actions.RetryStreaming(ctx)
	case ChoiceFallback:
		return c.actions.FallbackRecording(ctx)
	case ChoiceReset:
		c.actions.Reset()
		return nil
	default:
		return fmt.Errorf("recovery: unknown recovery choice %q", choice)
	}
}

// Pending reports whether a prompt is awaiting a user choice
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// VisibilityChanged observes tab visibility transitions. Regaining the
// foreground while permission is blocked triggers a silent re-check,
// without prompting the user.
func (c *Controller) VisibilityChanged(ctx context.Context, visible bool) {
	if !visible {
		return
	}
	if c.capture.Permission() != capture.PermissionBlocked {
		return
	}

	state := c.capture.CheckWithoutPrompt(ctx)
	c.logger.Debug().Str("state", state.String()).Msg("Silent permission re-check after foreground")

	if state == capture.PermissionGranted && c.OnPermissionRestored != nil {
		c.OnPermissionRestored()
	}
}
