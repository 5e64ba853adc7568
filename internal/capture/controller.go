package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
	"github.com/Socialeap/project-watch-dashboard/internal/resilience"
)

// Errors surfaced by the capture path
var (
	// ErrPermissionDenied means the user or OS refused microphone access
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable means no usable input device granted access
	ErrDeviceUnavailable = errors.New("capture: no input device available")

	// ErrAlreadyCapturing means a capture is already in progress
	ErrAlreadyCapturing = errors.New("capture: already capturing")
)

// PermissionState tracks microphone permission, re-derived on each capture
// attempt and on tab visibility recovery
type PermissionState int

const (
	PermissionUnknown PermissionState = iota
	PermissionGranted
	PermissionBlocked
	PermissionError
)

// String returns the permission state name
func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionBlocked:
		return "blocked"
	case PermissionError:
		return "error"
	default:
		return "unknown"
	}
}

// Mode selects how captured audio is produced
type Mode int

const (
	// ModeContinuous produces a steady sequence of fixed-size frames at the
	// input sample rate
	ModeContinuous Mode = iota

	// ModeTurnBased accumulates into a single Recording until stopped
	ModeTurnBased
)

// Recording is a finished, self-contained audio artifact produced by
// turn-based capture. Created on stop-of-recording, consumed once by the
// transcoder, then discarded.
type Recording struct {
	Data     []byte
	MimeType string
}

// Stream is a live microphone stream. Implementations must close the
// Frames channel when Stop is called; Stop must be idempotent and must
// release the underlying device track.
type Stream interface {
	Frames() <-chan audio.Frame
	MimeType() string
	Stop() error
}

// Device is the capture device API boundary: request an audio-only input
// stream, and enumerate available input devices (used to infer
// already-granted permission without prompting).
type Device interface {
	Acquire(ctx context.Context) (Stream, error)
	Inputs(ctx context.Context) ([]string, error)
}

// Controller owns microphone acquisition, permission-state tracking and
// frame/recording production for one voice session
type Controller struct {
	device      Device
	clock       resilience.Clock
	retryPolicy resilience.Policy
	logger      zerolog.Logger

	mu            sync.Mutex
	state         PermissionState
	stream        Stream
	mode          Mode
	capturing     bool
	recording     []byte
	recMime       string
	forwardDone   chan struct{}
	frames        chan audio.Frame
	vad           *audio.VAD
	utteranceEnd  func()
	autoStopFired bool
}

// NewController creates a capture controller over the given device.
// retryDelay is the fixed delay before the single permission re-attempt.
func NewController(dev Device, clock resilience.Clock, retryDelay time.Duration, logger zerolog.Logger) *Controller {
	if clock == nil {
		clock = resilience.RealClock()
	}
	return &Controller{
		device: dev,
		clock:  clock,
		// One re-attempt after a fixed delay: transient denials have been
		// seen on mobile/PWA contexts where a system overlay silently
		// blocks the first request.
		retryPolicy: resilience.FixedDelay(2, retryDelay),
		logger:      logger,
		state:       PermissionUnknown,
		frames:      make(chan audio.Frame, 100),
	}
}

// AutoStop arms end-of-utterance detection for turn-based capture. Once
// speech has been heard and the detector reports enough trailing silence,
// fn is called (at most once per capture) so the owner can finalize the
// recording without a second press.
func (c *Controller) AutoStop(detector *audio.VAD, fn func()) {
	c.mu.Lock()
	c.vad = detector
	c.utteranceEnd = fn
	c.mu.Unlock()
}

// RequestPermission acquires (and immediately releases) a microphone stream
// to establish permission. On transient denial it retries once after the
// configured delay before surfacing failure. Never returns an error; the
// outcome is the resulting permission state.
func (c *Controller) RequestPermission(ctx context.Context) PermissionState {
	err := c.retryPolicy.RunRetryable(ctx, c.clock, func() error {
		stream, err := c.device.Acquire(ctx)
		if err != nil {
			return err
		}
		// Permission probe only: release the track right away
		if stopErr := stream.Stop(); stopErr != nil {
			c.logger.Warn().Err(stopErr).Msg("Failed to release probe stream")
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, ErrPermissionDenied)
	})

	state := classifyPermission(err)

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Str("permission", state.String()).Msg("Microphone permission not granted")
	}
	return state
}

// CheckWithoutPrompt re-derives permission by enumerating input devices,
// without triggering a permission prompt. Used by the silent re-check on
// tab visibility recovery.
func (c *Controller) CheckWithoutPrompt(ctx context.Context) PermissionState {
	inputs, err := c.device.Inputs(ctx)

	state := PermissionBlocked
	if err != nil {
		state = PermissionError
	} else if len(inputs) > 0 {
		state = PermissionGranted
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return state
}

// Permission returns the last derived permission state
func (c *Controller) Permission() PermissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StartCapture begins producing audio in the given mode. A transient
// permission denial gets the same single delayed re-attempt as
// RequestPermission before the failure surfaces. Fails with
// ErrDeviceUnavailable if no input device grants access.
func (c *Controller) StartCapture(ctx context.Context, mode Mode) error {
	c.mu.Lock()
	if c.capturing {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	c.mu.Unlock()

	var stream Stream
	err := c.retryPolicy.RunRetryable(ctx, c.clock, func() error {
		s, acquireErr := c.device.Acquire(ctx)
		if acquireErr != nil {
			return acquireErr
		}
		stream = s
		return nil
	}, func(err error) bool {
		return errors.Is(err, ErrPermissionDenied)
	})
	if err != nil {
		c.mu.Lock()
		c.state = classifyPermission(err)
		c.mu.Unlock()
		if errors.Is(err, ErrPermissionDenied) {
			return fmt.Errorf("capture: failed to start: %w", err)
		}
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.state = PermissionGranted
	c.stream = stream
	c.mode = mode
	c.capturing = true
	c.recording = nil
	c.recMime = stream.MimeType()
	c.forwardDone = done
	c.autoStopFired = false
	if c.vad != nil {
		c.vad.Reset()
	}
	c.mu.Unlock()

	go c.forward(stream, mode, done)
	return nil
}

// forward consumes frames from the stream until it closes, either
// accumulating them (turn-based) or fanning them out (continuous)
func (c *Controller) forward(stream Stream, mode Mode, done chan struct{}) {
	defer close(done)

	for frame := range stream.Frames() {
		if mode == ModeTurnBased {
			c.mu.Lock()
			c.recording = append(c.recording, frame.Data...)
			vad, fn, fired := c.vad, c.utteranceEnd, c.autoStopFired
			c.mu.Unlock()

			if vad != nil && fn != nil && !fired {
				samples, err := audio.BytesToInt16(frame.Data)
				if err == nil && vad.Observe(samples) {
					c.mu.Lock()
					c.autoStopFired = true
					c.mu.Unlock()
					c.logger.Debug().Msg("Trailing silence detected, finishing turn")
					fn()
				}
			}
			continue
		}

		select {
		case c.frames <- frame:
		default:
			c.logger.Warn().Msg("Frame channel full, dropping captured frame")
		}
	}
}

// Frames returns the continuous-mode frame channel
func (c *Controller) Frames() <-chan audio.Frame {
	return c.frames
}

// IsCapturing returns whether a capture is in progress
func (c *Controller) IsCapturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// StopCapture halts capture and releases the underlying device track. For
// turn-based mode it finalizes and returns the Recording; for continuous
// mode it returns nil. Safe to call at any time: stopping an idle
// controller is a no-op.
func (c *Controller) StopCapture() (*Recording, error) {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil, nil
	}
	c.capturing = false
	stream := c.stream
	c.stream = nil
	done := c.forwardDone
	c.forwardDone = nil
	mode := c.mode
	c.mu.Unlock()

	// Releasing the track is not optional: a leaked live track keeps the
	// microphone open
	if stream != nil {
		if err := stream.Stop(); err != nil {
			c.logger.Error().Err(err).Msg("Failed to stop capture stream")
		}
	}
	if done != nil {
		<-done
	}

	if mode != ModeTurnBased {
		return nil, nil
	}

	c.mu.Lock()
	rec := &Recording{Data: c.recording, MimeType: c.recMime}
	c.recording = nil
	c.mu.Unlock()
	return rec, nil
}

// Teardown stops any in-progress capture and discards its output
func (c *Controller) Teardown() {
	_, _ = c.StopCapture()
}

func classifyPermission(err error) PermissionState {
	switch {
	case err == nil:
		return PermissionGranted
	case errors.Is(err, ErrPermissionDenied):
		return PermissionBlocked
	default:
		return PermissionError
	}
}
