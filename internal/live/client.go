package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
)

// ModelAudioRate is the sample rate in Hz of model speech chunks
const ModelAudioRate = 24000

// ErrNotWritable is returned when a frame is sent before the remote session
// has acknowledged setup or after it has closed. Callers are expected to
// buffer the frame and retry after readiness.
var ErrNotWritable = errors.New("live: session is not writable")

// EventType identifies a server-side event on the live session
type EventType string

const (
	// EventReady fires once the remote acknowledges session setup
	EventReady EventType = "ready"
	// EventAudioChunk carries one base64 PCM chunk of model speech
	EventAudioChunk EventType = "audio_chunk"
	// EventInputTranscript carries a transcription of the user's speech
	EventInputTranscript EventType = "input_transcript"
	// EventOutputTranscript carries a transcription of the model's speech
	EventOutputTranscript EventType = "output_transcript"
	// EventInterrupted signals the user barged in over model speech
	EventInterrupted EventType = "interrupted"
	// EventTurnComplete signals the model finished its turn
	EventTurnComplete EventType = "turn_complete"
	// EventClosed signals the session ended
	EventClosed EventType = "closed"
	// EventError carries a session-level failure
	EventError EventType = "error"
)

// Event is one server-side occurrence on the live session
type Event struct {
	Type EventType

	// AudioB64 is set for EventAudioChunk
	AudioB64 string

	// Text and Final are set for transcript events
	Text  string
	Final bool

	// Err is set for EventError
	Err error
}

// Client is a bidirectional streaming session against the Gemini Live API.
// Microphone PCM frames go up; audio chunks, transcripts and turn signals
// come back as events. A closed client can be dialed again; each Dial gets
// a fresh event channel, so consumers re-read Events() after reconnecting.
type Client struct {
	cfg    *config.Config
	logger zerolog.Logger

	writeMu sync.Mutex

	mu     sync.RWMutex
	conn   *websocket.Conn
	ready  bool
	closed bool
	events chan Event
}

// NewClient creates an unconnected live session client
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 100),
	}
}

// Dial connects the WebSocket, sends the session setup message and starts
// the read loop. Readiness is signaled with EventReady once the remote
// acknowledges setup. Dialing a previously closed client starts a fresh
// session.
func (c *Client) Dial(ctx context.Context, systemInstruction string) error {
	c.mu.Lock()
	if c.conn != nil && !c.closed {
		c.mu.Unlock()
		return fmt.Errorf("live: session already connected")
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s?key=%s", c.cfg.GeminiLiveURL, c.cfg.GeminiAPIKey)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("live: failed to connect: %w", err)
	}

	events := make(chan Event, 100)

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.ready = false
	c.events = events
	c.mu.Unlock()

	if err := c.sendSetup(conn, systemInstruction); err != nil {
		c.Close()
		return fmt.Errorf("live: failed to configure session: %w", err)
	}

	go c.readLoop(conn, events)

	c.logger.Info().Str("model", c.cfg.GeminiLiveModel).Msg("Live session connected")
	return nil
}

// sendSetup sends the initial session configuration
func (c *Client) sendSetup(conn *websocket.Conn, systemInstruction string) error {
	setup := map[string]any{
		"setup": map[string]any{
			"model": c.cfg.GeminiLiveModel,
			"generation_config": map[string]any{
				"response_modalities": []string{"AUDIO"},
			},
			"system_instruction": map[string]any{
				"parts": []map[string]any{
					{"text": systemInstruction},
				},
			},
			"input_audio_transcription":  map[string]any{},
			"output_audio_transcription": map[string]any{},
		},
	}
	return c.sendJSON(conn, setup)
}

// SendFrame sends one PCM frame of microphone audio. Returns ErrNotWritable
// until the remote has acknowledged setup, so callers can hold frames in
// their warm-up buffer.
func (c *Client) SendFrame(pcm []byte) error {
	c.mu.RLock()
	writable := c.ready && !c.closed
	conn := c.conn
	c.mu.RUnlock()

	if !writable {
		return ErrNotWritable
	}

	msg := map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"data":      base64.StdEncoding.EncodeToString(pcm),
					"mime_type": fmt.Sprintf("audio/pcm;rate=%d", c.cfg.InputSampleRate),
				},
			},
		},
	}

	if err := c.sendJSON(conn, msg); err != nil {
		return fmt.Errorf("live: failed to send frame: %w", err)
	}
	return nil
}

// Events returns the event stream of the current session. The channel
// closes after EventClosed is delivered; after a re-dial this returns the
// new session's channel.
func (c *Client) Events() <-chan Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.events
}

// Ready reports whether the remote has acknowledged setup
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready && !c.closed
}

// Close shuts the session down. Idempotent; the client can be dialed again
// afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (c *Client) sendJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop pumps server messages into the session's event channel until the
// connection ends. conn and events are pinned per session so a re-dial
// cannot cross wires with a loop that is still winding down.
func (c *Client) readLoop(conn *websocket.Conn, events chan Event) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.closed = true
			c.ready = false
		}
		c.mu.Unlock()
		conn.Close()
		c.emit(events, Event{Type: EventClosed})
		close(events)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed || c.conn != conn
			c.mu.RUnlock()
			if !closed {
				c.emit(events, Event{Type: EventError, Err: err})
			}
			return
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse live message")
			continue
		}

		c.handleMessage(events, msg)
	}
}

// handleMessage dispatches a single server message
func (c *Client) handleMessage(events chan Event, msg map[string]any) {
	if _, ok := msg["setupComplete"]; ok {
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.logger.Debug().Msg("Live session ready")
		c.emit(events, Event{Type: EventReady})
		return
	}

	if serverContent, ok := msg["serverContent"].(map[string]any); ok {
		c.handleServerContent(events, serverContent)
		return
	}

	if _, ok := msg["toolCallCancellation"]; ok {
		return
	}

	c.logger.Debug().Interface("message", msg).Msg("Unhandled live message")
}

// handleServerContent processes audio and transcript payloads
func (c *Client) handleServerContent(events chan Event, content map[string]any) {
	if interrupted, ok := content["interrupted"].(bool); ok && interrupted {
		c.emit(events, Event{Type: EventInterrupted})
		return
	}

	if transcript, ok := content["inputTranscription"].(map[string]any); ok {
		c.emitTranscript(events, EventInputTranscript, transcript)
	}
	if transcript, ok := content["outputTranscription"].(map[string]any); ok {
		c.emitTranscript(events, EventOutputTranscript, transcript)
	}

	if modelTurn, ok := content["modelTurn"].(map[string]any); ok {
		c.handleModelTurn(events, modelTurn)
	}

	if turnComplete, ok := content["turnComplete"].(bool); ok && turnComplete {
		c.emit(events, Event{Type: EventTurnComplete})
	}
}

func (c *Client) emitTranscript(events chan Event, eventType EventType, transcript map[string]any) {
	text, _ := transcript["text"].(string)
	if text == "" {
		return
	}
	final, _ := transcript["finished"].(bool)
	c.emit(events, Event{Type: eventType, Text: text, Final: final})
}

// handleModelTurn extracts audio chunks from a model turn
func (c *Client) handleModelTurn(events chan Event, modelTurn map[string]any) {
	parts, ok := modelTurn["parts"].([]any)
	if !ok {
		return
	}

	for _, part := range parts {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		inlineData, ok := partMap["inlineData"].(map[string]any)
		if !ok {
			continue
		}
		mimeType, _ := inlineData["mimeType"].(string)
		if !strings.HasPrefix(mimeType, "audio/pcm") {
			continue
		}
		data, _ := inlineData["data"].(string)
		if data == "" {
			continue
		}
		c.emit(events, Event{Type: EventAudioChunk, AudioB64: data})
	}
}

// emit delivers an event without blocking the read loop
func (c *Client) emit(events chan Event, event Event) {
	select {
	case events <- event:
	default:
		c.logger.Warn().Str("type", string(event.Type)).Msg("Live event channel full, dropping event")
	}
}
