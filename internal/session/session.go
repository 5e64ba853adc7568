package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
	"github.com/Socialeap/project-watch-dashboard/internal/capture"
	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/live"
	"github.com/Socialeap/project-watch-dashboard/internal/observability"
	"github.com/Socialeap/project-watch-dashboard/internal/resilience"
	"github.com/Socialeap/project-watch-dashboard/internal/stt"
)

// State is the voice session's current phase
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateSpeaking   State = "speaking"

	// Streaming mode states
	StateConnecting State = "connecting"
	StateListening  State = "listening"
)

// User-visible messages surfaced alongside idle transitions
const (
	MsgEmptyTranscript     = "Couldn't transcribe that, please try again"
	MsgTranscriptionFailed = "Couldn't reach the transcription service, please try again"
	MsgMicBlocked          = "Microphone access is blocked. Check your browser settings and try again."
	MsgMicUnavailable      = "No usable microphone was found."
	MsgStreamingFailed     = "Voice connection failed. Please try again."
	MsgAlreadyCapturing    = "Already recording."
)

// UpdateType classifies outbound session updates
type UpdateType string

const (
	UpdateState          UpdateType = "state"
	UpdateUserTranscript UpdateType = "user_transcript"
	UpdateAssistantReply UpdateType = "assistant_reply"
	UpdateAssistantAudio UpdateType = "assistant_audio"
	UpdateTurnComplete   UpdateType = "turn_complete"
	UpdateErrorMessage   UpdateType = "error_message"
)

// Update is one outbound notification to whoever is driving the session
type Update struct {
	Type  UpdateType
	State State  // set for UpdateState
	Text  string // transcript, reply, error message or base64 audio
	Final bool   // set for transcript updates
}

// Conversation produces a reply for one user turn. Implementations never
// return an error; failures degrade to user-visible text.
type Conversation interface {
	Send(ctx context.Context, text string) string
}

// Speaker speaks reply text and signals completion
type Speaker interface {
	Speak(text string) <-chan struct{}
	Stop()
}

// Playback schedules remote audio chunks for output
type Playback interface {
	Enqueue(b64Chunk string) error
	Interrupt()
	Stop()
}

// LiveLink is the bidirectional remote streaming session
type LiveLink interface {
	Dial(ctx context.Context, systemInstruction string) error
	SendFrame(pcm []byte) error
	Events() <-chan live.Event
	Close() error
}

// Internal events routed through the single dispatch loop
type event any

type pressEvent struct{}

type transcriptEvent struct {
	text string
	err  error
}

type replyEvent struct {
	text string
}

type speechDoneEvent struct {
	utterance int
}

type warmupDoneEvent struct{}

type frameEvent struct {
	frame audio.Frame
}

type liveServerEvent struct {
	ev live.Event
}

type modeEvent struct {
	mode string
}

// Deps are the collaborators a session drives. Live and Playback are only
// required for streaming mode, Speaker and Transcriber for turn mode.
type Deps struct {
	Capture           *capture.Controller
	Transcriber       stt.Transcriber
	Conversation      Conversation
	Speaker           Speaker
	Playback          Playback
	Live              LiveLink
	Clock             resilience.Clock
	SystemInstruction string

	// CaptureFailure is invoked when capture bring-up fails, letting the
	// recovery layer decide what to offer the user. Optional.
	CaptureFailure func(err error)
}

// Session owns one user's voice interaction: the state machine, the device
// handles and the remote boundaries. All transitions happen on a single
// dispatch goroutine; external inputs arrive as typed events.
type Session struct {
	ID      string
	cfg     *config.Config
	deps    Deps
	logger  zerolog.Logger
	metrics *observability.Metrics

	events  chan event
	updates chan Update

	stateMu sync.RWMutex
	state   State
	mode    string

	// Streaming mode bookkeeping, touched only on the dispatch goroutine
	buffer    *audio.FrameBuffer
	ready     bool
	utterance int

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a session in the idle state. Call Start to begin dispatching.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Session {
	id := uuid.New().String()
	if deps.Clock == nil {
		deps.Clock = resilience.RealClock()
	}
	return &Session{
		ID:      id,
		cfg:     cfg,
		deps:    deps,
		logger:  logger.With().Str("session_id", id).Logger(),
		metrics: observability.NewSessionMetrics(id),
		events:  make(chan event, 256),
		updates: make(chan Update, 64),
		state:   StateIdle,
		mode:    cfg.VoiceMode,
		buffer:  audio.NewFrameBuffer(cfg.FrameBufferCap),
	}
}

// Start launches the dispatch loop
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.metrics.RecordSessionStart()
	go s.run()
	s.logger.Info().Str("mode", s.cfg.VoiceMode).Msg("Voice session started")
}

// Press delivers a voice-control press to the state machine
func (s *Session) Press() {
	s.dispatch(pressEvent{})
}

// SetMode switches between "turn" and "streaming" for subsequent
// bring-ups. Used by the recovery fallback path.
func (s *Session) SetMode(mode string) {
	s.dispatch(modeEvent{mode: mode})
}

// Updates returns the stream of outbound notifications. Closed when the
// session shuts down.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

// State returns the current state
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Close tears the session down completely: dispatch loop stopped, capture
// tracks released, synthesis and playback halted, live link closed.
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
		s.deps.Capture.Teardown()
		if s.deps.Speaker != nil {
			s.deps.Speaker.Stop()
		}
		if s.deps.Playback != nil {
			s.deps.Playback.Stop()
		}
		if s.deps.Live != nil {
			s.deps.Live.Close()
		}
		s.metrics.RecordSessionEnd()
		close(s.updates)
		s.logger.Info().Msg("Voice session closed")
	})
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev event) {
	switch e := ev.(type) {
	case pressEvent:
		s.handlePress()
	case modeEvent:
		s.mode = e.mode
	case transcriptEvent:
		s.handleTranscript(e)
	case replyEvent:
		s.handleReply(e)
	case speechDoneEvent:
		s.handleSpeechDone(e)
	case warmupDoneEvent:
		s.handleWarmupDone()
	case frameEvent:
		s.handleFrame(e)
	case liveServerEvent:
		s.handleLiveEvent(e.ev)
	}
}

func (s *Session) handlePress() {
	switch s.State() {
	case StateIdle:
		if s.mode == "streaming" {
			s.startStreaming()
		} else {
			s.startRecording()
		}
	case StateRecording:
		s.finishRecording()
	case StateProcessing:
		// Re-entrant start attempts are rejected until processing completes
		s.logger.Debug().Msg("Press ignored while processing")
	case StateSpeaking:
		s.deps.Speaker.Stop()
		s.setState(StateIdle)
	case StateConnecting, StateListening:
		s.stopStreaming()
	}
}

func (s *Session) startRecording() {
	if err := s.deps.Capture.StartCapture(s.ctx, capture.ModeTurnBased); err != nil {
		s.captureFailure(err)
		return
	}
	s.setState(StateRecording)
}

func (s *Session) finishRecording() {
	rec, err := s.deps.Capture.StopCapture()
	if err != nil || rec == nil || len(rec.Data) == 0 {
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to finalize recording")
			s.metrics.RecordError("capture", "session")
		}
		s.fail(MsgEmptyTranscript)
		return
	}

	s.setState(StateProcessing)
	s.metrics.RecordTranscriptionStart()

	go func() {
		text, terr := s.deps.Transcriber.Transcribe(s.ctx, rec.Data, rec.MimeType)
		s.dispatch(transcriptEvent{text: text, err: terr})
	}()
}

func (s *Session) handleTranscript(e transcriptEvent) {
	if s.State() != StateProcessing {
		return
	}

	if e.err != nil {
		s.metrics.RecordTranscriptionEnd("error")
		s.logger.Error().Err(e.err).Msg("Transcription failed")
		s.fail(MsgTranscriptionFailed)
		return
	}
	if e.text == "" {
		// Valid outcome: nothing intelligible was said. No turn is
		// appended to the conversation.
		s.metrics.RecordTranscriptionEnd("empty")
		s.fail(MsgEmptyTranscript)
		return
	}

	s.metrics.RecordTranscriptionEnd("success")
	s.metrics.RecordTurn("user")
	s.notify(Update{Type: UpdateUserTranscript, Text: e.text, Final: true})

	s.metrics.RecordConversationStart()
	go func() {
		reply := s.deps.Conversation.Send(s.ctx, e.text)
		s.dispatch(replyEvent{text: reply})
	}()
}

func (s *Session) handleReply(e replyEvent) {
	if s.State() != StateProcessing {
		return
	}

	s.metrics.RecordConversationEnd(true)
	s.metrics.RecordTurn("assistant")
	s.notify(Update{Type: UpdateAssistantReply, Text: e.text, Final: true})

	s.setState(StateSpeaking)
	s.metrics.RecordSynthesisStart()
	s.utterance++
	utterance := s.utterance
	done := s.deps.Speaker.Speak(e.text)
	go func() {
		select {
		case <-done:
		case <-s.ctx.Done():
			return
		}
		s.dispatch(speechDoneEvent{utterance: utterance})
	}()
}

func (s *Session) handleSpeechDone(e speechDoneEvent) {
	// A stale completion from a canceled utterance must not knock a newer
	// one out of the speaking state
	if s.State() != StateSpeaking || e.utterance != s.utterance {
		return
	}
	s.metrics.RecordSynthesisEnd(true)
	s.setState(StateIdle)
}

// captureFailure surfaces a capture bring-up error and returns to idle
func (s *Session) captureFailure(err error) {
	s.logger.Error().Err(err).Msg("Capture bring-up failed")
	s.metrics.RecordError("capture", "session")

	msg := MsgMicBlocked
	switch {
	case errors.Is(err, capture.ErrDeviceUnavailable):
		msg = MsgMicUnavailable
	case errors.Is(err, capture.ErrAlreadyCapturing):
		msg = MsgAlreadyCapturing
	}
	s.fail(msg)

	if s.deps.CaptureFailure != nil {
		s.deps.CaptureFailure(err)
	}
}

// fail returns to idle with a visible message. The session is never left
// dangling in a non-idle state after an error.
func (s *Session) fail(msg string) {
	s.notify(Update{Type: UpdateErrorMessage, Text: msg})
	s.setState(StateIdle)
}

func (s *Session) setState(next State) {
	s.stateMu.Lock()
	prev := s.state
	s.state = next
	s.stateMu.Unlock()

	if prev != next {
		s.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("State transition")
		s.notify(Update{Type: UpdateState, State: next})
	}
}

func (s *Session) dispatch(ev event) {
	if s.ctx == nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) notify(u Update) {
	select {
	case s.updates <- u:
	default:
		s.logger.Warn().Str("type", string(u.Type)).Msg("Update channel full, dropping update")
	}
}

// warmupDelay is the readiness gate after the live handshake
func (s *Session) warmupDelay() time.Duration {
	return time.Duration(s.cfg.WarmupDelayMs) * time.Millisecond
}
