package synth

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Voice describes one available synthesis voice
type Voice struct {
	Name    string
	Lang    string
	Default bool
}

// Engine is the underlying text-to-speech capability. Synthesize blocks
// until the utterance finishes, fails, or the context is canceled.
type Engine interface {
	Voices() []Voice
	Synthesize(ctx context.Context, text string, voice Voice) error
}

// Speaker speaks text through an Engine with at most one utterance in
// flight. Starting a new utterance cancels the previous one, and every
// utterance resolves its completion channel no matter how it ended.
type Speaker struct {
	engine         Engine
	preferredNames []string
	logger         zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	current chan struct{}
}

// NewSpeaker creates a speaker around the given engine
func NewSpeaker(engine Engine, preferredNames []string, logger zerolog.Logger) *Speaker {
	return &Speaker{
		engine:         engine,
		preferredNames: preferredNames,
		logger:         logger,
	}
}

// Speak starts speaking text and returns a channel closed when the
// utterance completes. Any in-flight utterance is canceled first; its own
// completion channel still closes. Synthesis faults resolve as no-op
// completions rather than surfacing to the caller.
func (s *Speaker) Speak(text string) <-chan struct{} {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.current = done
	voice := s.selectVoice()
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.engine.Synthesize(ctx, text, voice); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Synthesis failed, resolving as no-op")
		}

		s.mu.Lock()
		if s.current == done {
			s.cancel = nil
			s.current = nil
		}
		s.mu.Unlock()
	}()

	return done
}

// Stop cancels any in-flight utterance. Idempotent and always returns, even
// when nothing is speaking.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// selectVoice prefers an English voice matching a preferred name, then the
// first English voice, then the platform default.
func (s *Speaker) selectVoice() Voice {
	voices := s.engine.Voices()

	isEnglish := func(v Voice) bool {
		return strings.HasPrefix(strings.ToLower(v.Lang), "en")
	}

	// Preferred names win in the order configured
	for _, name := range s.preferredNames {
		for _, v := range voices {
			if isEnglish(v) && strings.Contains(strings.ToLower(v.Name), strings.ToLower(name)) {
				return v
			}
		}
	}

	var firstEnglish *Voice
	var platformDefault *Voice
	for i := range voices {
		v := &voices[i]
		if isEnglish(*v) && firstEnglish == nil {
			firstEnglish = v
		}
		if v.Default && platformDefault == nil {
			platformDefault = v
		}
	}

	if firstEnglish != nil {
		return *firstEnglish
	}
	if platformDefault != nil {
		return *platformDefault
	}
	if len(voices) > 0 {
		return voices[0]
	}
	return Voice{}
}
