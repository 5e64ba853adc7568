package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
	"github.com/Socialeap/project-watch-dashboard/internal/capture"
)

// wsStream is a capture stream backed by frames the browser sends over the
// socket. Frames arrive as raw linear16 PCM, already decoded client-side.
type wsStream struct {
	frames     chan audio.Frame
	sampleRate int
	logger     zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

func newWSStream(sampleRate int, logger zerolog.Logger) *wsStream {
	return &wsStream{
		frames:     make(chan audio.Frame, 100),
		sampleRate: sampleRate,
		logger:     logger,
	}
}

func (s *wsStream) Frames() <-chan audio.Frame { return s.frames }

func (s *wsStream) MimeType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", s.sampleRate)
}

func (s *wsStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
	return nil
}

func (s *wsStream) deliver(frame audio.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.frames <- frame:
	default:
		s.logger.Warn().Msg("Socket frame channel full, dropping frame")
	}
}

// wsDevice adapts the browser's microphone to the capture device boundary.
// The browser reports permission outcomes as messages; acquisition succeeds
// once permission is granted and the frames arrive over the socket.
type wsDevice struct {
	sampleRate int
	logger     zerolog.Logger

	mu      sync.Mutex
	granted bool
	denied  bool
	current *wsStream
}

func newWSDevice(sampleRate int, logger zerolog.Logger) *wsDevice {
	return &wsDevice{sampleRate: sampleRate, logger: logger}
}

// SetPermission records the browser-reported permission outcome
func (d *wsDevice) SetPermission(granted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.granted = granted
	d.denied = !granted
}

// Acquire hands out a socket-backed stream, honoring the last reported
// permission outcome
func (d *wsDevice) Acquire(ctx context.Context) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.denied {
		return nil, capture.ErrPermissionDenied
	}

	stream := newWSStream(d.sampleRate, d.logger)
	d.current = stream
	return stream, nil
}

// Inputs reports the browser microphone when permission was granted,
// letting the silent re-check see availability without prompting
func (d *wsDevice) Inputs(ctx context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.granted {
		return nil, nil
	}
	return []string{"browser-microphone"}, nil
}

// Deliver routes one decoded frame to the active stream
func (d *wsDevice) Deliver(frame audio.Frame) {
	d.mu.Lock()
	stream := d.current
	d.mu.Unlock()

	if stream != nil {
		stream.deliver(frame)
	}
}
