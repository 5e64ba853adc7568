package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/observability"
	"github.com/Socialeap/project-watch-dashboard/internal/resilience"
)

// captionCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we need.
type captionCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message overrides the default handler to route transcriptions to our channel
func (m *captionCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *captionCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// CaptionClient implements StreamTranscriber using Deepgram's streaming
// API. It feeds the live caption side-channel in streaming voice mode:
// 16 kHz linear PCM frames in, interim/final caption events out.
type CaptionClient struct {
	config  *config.Config
	logger  zerolog.Logger
	client  *listenClient.WSCallback
	results chan *Result

	mu       sync.RWMutex
	isActive bool
	ctx      context.Context
	cancel   context.CancelFunc
	breaker  *resilience.CircuitBreaker
}

// NewCaptionClient creates a new Deepgram streaming caption client
func NewCaptionClient(cfg *config.Config, logger zerolog.Logger) *CaptionClient {
	ctx, cancel := context.WithCancel(context.Background())

	breaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &CaptionClient{
		config:  cfg,
		logger:  logger,
		results: make(chan *Result, 100),
		ctx:     ctx,
		cancel:  cancel,
		breaker: breaker,
	}
}

// Start begins a new Deepgram streaming transcription session
func (c *CaptionClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isActive {
		return fmt.Errorf("stt: caption client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          c.config.DeepgramModel,
		Language:       c.config.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",     // End utterance after 1 second of silence
		VadEvents:      true,       // Enable voice activity detection events
		Encoding:       "linear16", // Raw 16-bit signed PCM, matching capture frames
		Channels:       1,          // Mono
		SampleRate:     c.config.InputSampleRate,
	}

	callback := &captionCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                c.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			c.logger.Error().Interface("response", errorResponse).Msg("Deepgram caption error")

			c.breaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(c.breaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			select {
			case <-c.ctx.Done():
				return nil
			default:
				// Connection lost, mark as inactive and reconnect in background
				c.mu.Lock()
				c.isActive = false
				c.mu.Unlock()

				go c.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		c.ctx,
		c.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("stt: failed to create caption client: %w", err)
	}

	c.client = client
	c.isActive = true

	c.breaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(c.breaker.GetState()))

	c.logger.Info().
		Str("model", c.config.DeepgramModel).
		Str("language", c.config.DeepgramLanguage).
		Int("sample_rate", c.config.InputSampleRate).
		Msg("Caption client started")
	return nil
}

// handleMessage processes transcription messages from Deepgram
func (c *CaptionClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "SpeechStarted", "UtteranceEnd", "Metadata":
		c.logger.Debug().Str("type", msg.Type).Msg("Caption event")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		result := &Result{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
		}

		select {
		case c.results <- result:
		default:
			c.logger.Warn().Msg("Caption channel full, dropping result")
		}

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown caption message type")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (c *CaptionClient) SendAudio(audioData []byte) error {
	err := c.breaker.Call(func() error {
		c.mu.RLock()
		active := c.isActive
		client := c.client
		c.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("stt: caption client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go c.attemptReconnect()
			return fmt.Errorf("stt: failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(c.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

// attemptReconnect attempts to re-establish the Deepgram connection
func (c *CaptionClient) attemptReconnect() {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	c.mu.RLock()
	alreadyActive := c.isActive
	c.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	if err := resilience.Reconnect(c.ctx, c.Start, reconnectConfig); err != nil {
		c.logger.Error().Err(err).Msg("Failed to reconnect caption client")
	} else {
		c.logger.Info().Msg("Caption client reconnected")
	}
}

// Results returns the channel of caption results
func (c *CaptionClient) Results() <-chan *Result {
	return c.results
}

// Stop stops the Deepgram streaming session
func (c *CaptionClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return nil // Already stopped
	}

	c.client.Finish()
	c.isActive = false
	c.logger.Info().Msg("Caption client stopped")
	return nil
}

// Close closes the client and cleans up resources
func (c *CaptionClient) Close() error {
	c.cancel() // Cancel context to stop any reconnection attempts

	if err := c.Stop(); err != nil {
		return err
	}

	// Close the results channel after a short delay to allow pending reads
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(c.results)
	}()

	return nil
}

// IsActive returns whether the client is currently active
func (c *CaptionClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}
