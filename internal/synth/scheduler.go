package synth

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
)

// OutputClock reports the current position on the playback timeline in
// seconds. Injected so scheduling decisions are deterministic under test.
type OutputClock interface {
	Now() float64
}

// Source is a handle to one scheduled chunk of audio output
type Source interface {
	Stop()
}

// Sink plays 16-bit little-endian PCM starting at a given position on the
// output clock's timeline and returns a handle to stop it early.
type Sink interface {
	Play(pcm []byte, sampleRate int, startAt float64) Source
}

// Scheduler plays a stream of base64 PCM chunks gaplessly and in order.
// Each chunk starts no earlier than the output clock's current position and
// no earlier than the end of the previously scheduled chunk.
type Scheduler struct {
	clock      OutputClock
	sink       Sink
	inputRate  int
	outputRate int
	logger     zerolog.Logger

	mu     sync.Mutex
	cursor float64
	active []scheduled
}

type scheduled struct {
	source Source
	endsAt float64
}

// NewScheduler creates a playback scheduler for mono PCM. Chunks arrive at
// inputRate and are resampled to outputRate when the two differ.
func NewScheduler(clock OutputClock, sink Sink, inputRate, outputRate int, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		inputRate:  inputRate,
		outputRate: outputRate,
		logger:     logger,
	}
}

// Enqueue decodes one base64 PCM chunk and schedules it after everything
// already queued
func (s *Scheduler) Enqueue(b64Chunk string) error {
	data, err := base64.StdEncoding.DecodeString(b64Chunk)
	if err != nil {
		return fmt.Errorf("synth: invalid base64 audio chunk: %w", err)
	}

	samples, err := audio.BytesToInt16(data)
	if err != nil {
		return fmt.Errorf("synth: invalid PCM chunk: %w", err)
	}
	if len(samples) == 0 {
		return nil
	}
	if s.inputRate != s.outputRate {
		samples = audio.Resample(samples, s.inputRate, s.outputRate)
		data = audio.Int16ToBytes(samples)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := now
	if s.cursor > start {
		start = s.cursor
	}
	end := start + audio.Duration(len(samples), s.outputRate)
	s.cursor = end

	// Forget sources that have already finished playing
	remaining := s.active[:0]
	for _, sch := range s.active {
		if sch.endsAt > now {
			remaining = append(remaining, sch)
		}
	}
	s.active = remaining

	source := s.sink.Play(data, s.outputRate, start)
	s.active = append(s.active, scheduled{source: source, endsAt: end})
	return nil
}

// Interrupt stops every scheduled and playing source immediately and resets
// the scheduling cursor to zero so the next turn's audio starts fresh.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sch := range s.active {
		sch.source.Stop()
	}
	if len(s.active) > 0 {
		s.logger.Debug().Int("sources", len(s.active)).Msg("Playback interrupted")
	}
	s.active = nil
	s.cursor = 0
}

// Stop halts playback and resets the scheduler. Safe to call repeatedly.
func (s *Scheduler) Stop() {
	s.Interrupt()
}

// Cursor returns the end time of the last scheduled chunk
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}
