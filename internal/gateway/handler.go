package gateway

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/audio"
	"github.com/Socialeap/project-watch-dashboard/internal/capture"
	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/convo"
	"github.com/Socialeap/project-watch-dashboard/internal/live"
	"github.com/Socialeap/project-watch-dashboard/internal/projects"
	"github.com/Socialeap/project-watch-dashboard/internal/recovery"
	"github.com/Socialeap/project-watch-dashboard/internal/session"
	"github.com/Socialeap/project-watch-dashboard/internal/stt"
	"github.com/Socialeap/project-watch-dashboard/internal/synth"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler serves the browser voice socket. Each connection gets its own
// session wired through the session manager, which tears down the previous
// one before the new one starts.
type Handler struct {
	cfg     *config.Config
	engine  *convo.Engine
	store   *projects.Store
	manager *session.Manager
	logger  zerolog.Logger
}

// NewHandler creates the voice socket handler
func NewHandler(cfg *config.Config, engine *convo.Engine, store *projects.Store, manager *session.Manager, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		engine:  engine,
		store:   store,
		manager: manager,
		logger:  logger,
	}
}

// HandleVoiceWS upgrades the connection and runs the voice session until the
// browser disconnects
func (h *Handler) HandleVoiceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade voice connection")
		return
	}

	client := newVoiceClient(h, conn)
	defer client.close()

	client.run(context.Background())
}

// voiceClient is the per-connection wiring: the socket, the session and the
// browser-backed device and speech engine
type voiceClient struct {
	cfg    *config.Config
	conn   *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	device   *wsDevice
	speech   *wsSpeechEngine
	sess     *session.Session
	recovery *recovery.Controller
	captions stt.StreamTranscriber
	manager  *session.Manager

	closeOnce sync.Once
}

func newVoiceClient(h *Handler, conn *websocket.Conn) *voiceClient {
	c := &voiceClient{
		cfg:     h.cfg,
		conn:    conn,
		logger:  h.logger.With().Str("remote", conn.RemoteAddr().String()).Logger(),
		manager: h.manager,
	}

	c.device = newWSDevice(h.cfg.InputSampleRate, c.logger)
	c.speech = newWSSpeechEngine(c.send, c.logger)

	capCtrl := capture.NewController(
		c.device,
		nil,
		time.Duration(h.cfg.PermissionRetryMs)*time.Millisecond,
		c.logger,
	)

	registry := convo.NewProjectTools(h.store, c.logger)
	conversation := h.engine.NewSession(h.store.Snapshot(), registry)

	speaker := synth.NewSpeaker(c.speech, h.cfg.PreferredVoiceNames(), c.logger)
	sink := &wsSink{send: c.send, logger: c.logger}
	scheduler := synth.NewScheduler(newWallOutputClock(), sink, live.ModelAudioRate, h.cfg.OutputSampleRate, c.logger)

	c.sess = session.New(h.cfg, session.Deps{
		Capture:           capCtrl,
		Transcriber:       stt.NewGeminiTranscriber(h.cfg),
		Conversation:      conversation,
		Speaker:           speaker,
		Playback:          scheduler,
		Live:              live.NewClient(h.cfg, c.logger),
		SystemInstruction: conversation.SystemInstruction(),
		CaptureFailure:    c.onCaptureFailure,
	}, c.logger)

	// Long trailing silence in a turn recording finishes the turn as if the
	// user had pressed again
	capCtrl.AutoStop(audio.NewVAD(h.cfg.VADEnergyThreshold, h.cfg.VADSilenceFrames), c.sess.Press)

	c.recovery = recovery.NewController(capCtrl, &sessionActions{sess: c.sess}, c.logger)
	c.recovery.OnPermissionRestored = func() {
		if err := c.send(ServerMessage{Type: ServerRequestMic}); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send mic re-request")
		}
	}

	if h.cfg.CaptionsEnabled && h.cfg.DeepgramAPIKey != "" {
		c.captions = stt.NewCaptionClient(h.cfg, c.logger)
	}

	return c
}

func (c *voiceClient) run(ctx context.Context) {
	c.manager.Start(ctx, c.sess)

	if c.captions != nil {
		if err := c.captions.Start(); err != nil {
			c.logger.Warn().Err(err).Msg("Caption feed unavailable")
			c.captions = nil
		} else {
			go c.captionLoop()
		}
	}

	go c.updateLoop()

	// The browser owns the actual permission prompt; ask it up front so a
	// press can acquire the microphone without a round trip
	if err := c.send(ServerMessage{Type: ServerRequestMic}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send mic request")
	}

	c.readLoop()
}

func (c *voiceClient) readLoop() {
	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Voice connection closed unexpectedly")
			}
			return
		}
		c.handleMessage(msg)
	}
}

func (c *voiceClient) handleMessage(msg ClientMessage) {
	switch msg.Type {
	case ClientPress:
		c.sess.Press()

	case ClientFrame:
		pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Discarding undecodable audio frame")
			return
		}
		c.device.Deliver(audio.Frame{Data: pcm, SampleRate: c.cfg.InputSampleRate})
		if c.captions != nil {
			if err := c.captions.SendAudio(pcm); err != nil {
				c.logger.Debug().Err(err).Msg("Caption feed write failed")
			}
		}

	case ClientPermission:
		if msg.Granted != nil {
			c.device.SetPermission(*msg.Granted)
		}

	case ClientVisibility:
		if msg.Visible != nil {
			c.recovery.VisibilityChanged(context.Background(), *msg.Visible)
		}

	case ClientRecoveryChoice:
		if err := c.recovery.Choose(context.Background(), recovery.Choice(msg.Choice)); err != nil {
			c.logger.Warn().Err(err).Str("choice", msg.Choice).Msg("Recovery choice rejected")
		}

	case ClientVoices:
		c.speech.SetVoices(msg.Voices)

	case ClientSpeechDone:
		c.speech.SpeechDone(msg.Utterance)

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown client message")
	}
}

// updateLoop forwards session notifications to the browser. Audio chunks are
// not forwarded here; the playback scheduler already pushed them with their
// timeline positions.
func (c *voiceClient) updateLoop() {
	for u := range c.sess.Updates() {
		var msg ServerMessage
		switch u.Type {
		case session.UpdateState:
			msg = ServerMessage{Type: ServerState, State: string(u.State)}
		case session.UpdateUserTranscript:
			msg = ServerMessage{Type: ServerUserTranscript, Text: u.Text, Final: u.Final}
		case session.UpdateAssistantReply:
			msg = ServerMessage{Type: ServerAssistantReply, Text: u.Text}
		case session.UpdateTurnComplete:
			msg = ServerMessage{Type: ServerTurnComplete}
		case session.UpdateErrorMessage:
			msg = ServerMessage{Type: ServerError, Text: u.Text}
		default:
			continue
		}
		if err := c.send(msg); err != nil {
			c.logger.Debug().Err(err).Msg("Dropping session update, socket gone")
			return
		}
	}
}

func (c *voiceClient) captionLoop() {
	for result := range c.captions.Results() {
		if result.Text == "" {
			continue
		}
		if err := c.send(ServerMessage{Type: ServerCaption, Text: result.Text, Final: result.IsFinal}); err != nil {
			return
		}
	}
}

// onCaptureFailure runs on the session dispatch goroutine when microphone
// bring-up fails
func (c *voiceClient) onCaptureFailure(err error) {
	prompt := c.recovery.HandleCaptureFailure(err)
	if prompt == nil {
		return
	}

	choices := make([]string, 0, len(prompt.Choices))
	for _, choice := range prompt.Choices {
		choices = append(choices, string(choice))
	}
	if err := c.send(ServerMessage{Type: ServerRecoveryPrompt, Reason: prompt.Reason, Choices: choices}); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to send recovery prompt")
	}
}

func (c *voiceClient) send(msg ServerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *voiceClient) close() {
	c.closeOnce.Do(func() {
		c.manager.Release(c.sess)
		if c.captions != nil {
			c.captions.Close()
		}
		c.conn.Close()
		c.logger.Info().Msg("Voice connection closed")
	})
}

// sessionActions routes recovery choices back into the session
type sessionActions struct {
	sess *session.Session
}

func (a *sessionActions) RetryStreaming(ctx context.Context) error {
	a.sess.Press()
	return nil
}

func (a *sessionActions) FallbackRecording(ctx context.Context) error {
	a.sess.SetMode("turn")
	a.sess.Press()
	return nil
}

func (a *sessionActions) Reset() {}
