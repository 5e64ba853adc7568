package session

import (
	"errors"

	"github.com/Socialeap/project-watch-dashboard/internal/capture"
	"github.com/Socialeap/project-watch-dashboard/internal/live"
)

// startStreaming brings up the continuous pipeline: capture, the remote
// live link, and the pump goroutines feeding both back into the dispatch
// loop.
func (s *Session) startStreaming() {
	s.setState(StateConnecting)
	s.ready = false
	s.buffer.Clear()

	if err := s.deps.Capture.StartCapture(s.ctx, capture.ModeContinuous); err != nil {
		s.captureFailure(err)
		return
	}

	if err := s.deps.Live.Dial(s.ctx, s.deps.SystemInstruction); err != nil {
		s.logger.Error().Err(err).Msg("Live session dial failed")
		s.metrics.RecordError("live_dial", "session")
		s.deps.Capture.StopCapture()
		s.fail(MsgStreamingFailed)
		return
	}

	go s.pumpFrames()
	go s.pumpLive()
}

// stopStreaming tears the continuous pipeline down and returns to idle
func (s *Session) stopStreaming() {
	s.deps.Capture.StopCapture()
	s.deps.Playback.Stop()
	s.deps.Live.Close()
	s.ready = false
	s.buffer.Clear()
	s.setState(StateIdle)
}

// pumpFrames forwards captured frames into the dispatch loop
func (s *Session) pumpFrames() {
	frames := s.deps.Capture.Frames()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			s.dispatch(frameEvent{frame: frame})
		}
	}
}

// pumpLive forwards remote session events into the dispatch loop
func (s *Session) pumpLive() {
	events := s.deps.Live.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.dispatch(liveServerEvent{ev: ev})
		}
	}
}

// handleFrame routes one captured frame: buffered until the readiness gate
// opens, sent to the remote afterwards.
func (s *Session) handleFrame(e frameEvent) {
	state := s.State()
	if state != StateConnecting && state != StateListening {
		return
	}

	if !s.ready {
		if s.buffer.Push(e.frame) {
			s.metrics.RecordFramesDropped(1)
		}
		return
	}

	// Anything still buffered goes first so frames stay in capture order
	if !s.flushBuffer() {
		if s.buffer.Push(e.frame) {
			s.metrics.RecordFramesDropped(1)
		}
		return
	}

	if err := s.deps.Live.SendFrame(e.frame.Data); err != nil {
		if errors.Is(err, live.ErrNotWritable) {
			if s.buffer.Push(e.frame) {
				s.metrics.RecordFramesDropped(1)
			}
			return
		}
		s.logger.Error().Err(err).Msg("Failed to send audio frame")
		s.metrics.RecordError("frame_send", "session")
		return
	}
	s.metrics.RecordAudioFrames("up", 1)
}

// flushBuffer sends buffered frames in original order. If the remote
// rejects a frame mid-flush the unflushed tail is re-buffered and flushing
// stops, so no frame is lost to the handshake race.
func (s *Session) flushBuffer() bool {
	frames := s.buffer.Drain()
	for i, frame := range frames {
		if err := s.deps.Live.SendFrame(frame.Data); err != nil {
			s.buffer.Requeue(frames[i:])
			if !errors.Is(err, live.ErrNotWritable) {
				s.logger.Error().Err(err).Msg("Failed to flush buffered frame")
				s.metrics.RecordError("frame_flush", "session")
			}
			return false
		}
		s.metrics.RecordAudioFrames("up", 1)
	}
	return true
}

// handleWarmupDone opens the readiness gate and flushes what accumulated
func (s *Session) handleWarmupDone() {
	if s.State() != StateConnecting {
		return
	}
	s.ready = true
	s.setState(StateListening)
	s.flushBuffer()
}

// handleLiveEvent routes one remote session event
func (s *Session) handleLiveEvent(ev live.Event) {
	switch ev.Type {
	case live.EventReady:
		// Handshake acknowledged; hold a fixed warm-up before marking the
		// session ready to send
		go func() {
			s.deps.Clock.Sleep(s.warmupDelay())
			s.dispatch(warmupDoneEvent{})
		}()

	case live.EventAudioChunk:
		if err := s.deps.Playback.Enqueue(ev.AudioB64); err != nil {
			s.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
			s.metrics.RecordError("audio_decode", "session")
			return
		}
		s.metrics.RecordAudioFrames("down", 1)
		s.notify(Update{Type: UpdateAssistantAudio, Text: ev.AudioB64})

	case live.EventInterrupted:
		s.deps.Playback.Interrupt()

	case live.EventInputTranscript:
		s.notify(Update{Type: UpdateUserTranscript, Text: ev.Text, Final: ev.Final})

	case live.EventOutputTranscript:
		s.notify(Update{Type: UpdateAssistantReply, Text: ev.Text, Final: ev.Final})

	case live.EventTurnComplete:
		s.notify(Update{Type: UpdateTurnComplete})

	case live.EventError:
		s.logger.Error().Err(ev.Err).Msg("Live session error")
		s.metrics.RecordError("live", "session")
		s.stopStreaming()
		s.notify(Update{Type: UpdateErrorMessage, Text: MsgStreamingFailed})

	case live.EventClosed:
		state := s.State()
		if state == StateConnecting || state == StateListening {
			s.stopStreaming()
		}
	}
}
