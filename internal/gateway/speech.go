package gateway

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/synth"
)

// wsSpeechEngine speaks through the browser: a "speak" message starts the
// utterance, a "speech_done" message ends it. The browser also reports its
// available voices so selection happens server-side.
type wsSpeechEngine struct {
	send   func(ServerMessage) error
	logger zerolog.Logger

	mu        sync.Mutex
	voices    []synth.Voice
	pending   chan struct{}
	utterance int
	pendingID int
}

func newWSSpeechEngine(send func(ServerMessage) error, logger zerolog.Logger) *wsSpeechEngine {
	return &wsSpeechEngine{send: send, logger: logger}
}

// SetVoices installs the browser-reported voice list
func (e *wsSpeechEngine) SetVoices(voices []ClientVoice) {
	converted := make([]synth.Voice, 0, len(voices))
	for _, v := range voices {
		converted = append(converted, synth.Voice{Name: v.Name, Lang: v.Lang, Default: v.Default})
	}

	e.mu.Lock()
	e.voices = converted
	e.mu.Unlock()
}

func (e *wsSpeechEngine) Voices() []synth.Voice {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.voices
}

// Synthesize sends the utterance to the browser and blocks until the
// browser reports its completion or the context is canceled. Each
// utterance gets a number the browser must echo in its "speech_done", so a
// late completion for a canceled utterance cannot resolve a newer one.
func (e *wsSpeechEngine) Synthesize(ctx context.Context, text string, voice synth.Voice) error {
	done := make(chan struct{})

	e.mu.Lock()
	e.utterance++
	id := e.utterance
	e.pending = done
	e.pendingID = id
	e.mu.Unlock()

	if err := e.send(ServerMessage{Type: ServerSpeak, Text: text, Voice: voice.Name, Utterance: id}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		e.mu.Lock()
		if e.pending == done {
			e.pending = nil
		}
		e.mu.Unlock()
		if err := e.send(ServerMessage{Type: ServerStopSpeaking}); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to send stop_speaking")
		}
		return ctx.Err()
	}
}

// SpeechDone resolves the pending utterance if the number matches it
func (e *wsSpeechEngine) SpeechDone(utterance int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil && utterance == e.pendingID {
		close(e.pending)
		e.pending = nil
	}
}

// wsSink forwards scheduled playback chunks to the browser with their
// position on the output timeline
type wsSink struct {
	send   func(ServerMessage) error
	logger zerolog.Logger
}

type wsSource struct {
	sink *wsSink
	once sync.Once
}

func (s *wsSink) Play(pcm []byte, sampleRate int, startAt float64) synth.Source {
	chunk := base64.StdEncoding.EncodeToString(pcm)
	if err := s.send(ServerMessage{Type: ServerPlayAudio, Audio: chunk, StartAt: startAt}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to send playback chunk")
	}
	return &wsSource{sink: s}
}

func (src *wsSource) Stop() {
	src.once.Do(func() {
		if err := src.sink.send(ServerMessage{Type: ServerAudioReset}); err != nil {
			src.sink.logger.Warn().Err(err).Msg("Failed to send audio reset")
		}
	})
}

// wallOutputClock measures the output timeline from session start
type wallOutputClock struct {
	start time.Time
}

func newWallOutputClock() *wallOutputClock {
	return &wallOutputClock{start: time.Now()}
}

func (c *wallOutputClock) Now() float64 {
	return time.Since(c.start).Seconds()
}
