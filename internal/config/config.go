package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the project-watch voice gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind a tunnel).
	// Used for logging the WebSocket endpoint; browsers connect to wss://<this-host>/voice.
	// Optional; if unset, logs ws://localhost:PORT/voice.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Gemini API configuration (transcription, conversation and live sessions)
	GeminiAPIKey    string `envconfig:"GEMINI_API_KEY" required:"true"`
	GeminiModel     string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`
	GeminiLiveModel string `envconfig:"GEMINI_LIVE_MODEL" default:"models/gemini-2.0-flash-exp"`
	GeminiBaseURL   string `envconfig:"GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiLiveURL   string `envconfig:"GEMINI_LIVE_URL" default:"wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"`

	// Deepgram STT configuration (live caption feed, optional)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)
	CaptionsEnabled  bool   `envconfig:"CAPTIONS_ENABLED" default:"false"`

	// Project data configuration
	ProjectsFile      string `envconfig:"PROJECTS_FILE" default:""`            // JSON export of project rows; empty starts with no records
	ProjectsRefreshMs int    `envconfig:"PROJECTS_REFRESH_MS" default:"60000"` // Interval between source reloads

	// Voice session configuration
	VoiceMode          string  `envconfig:"VOICE_MODE" default:"turn"`            // "turn" or "streaming"
	InputSampleRate    int     `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`    // Microphone capture rate in Hz
	OutputSampleRate   int     `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"`   // Playback rate in Hz
	FrameBufferCap     int     `envconfig:"FRAME_BUFFER_CAP" default:"25"`        // Max frames held before session readiness
	PermissionRetryMs  int     `envconfig:"PERMISSION_RETRY_MS" default:"450"`    // Delay before the single permission re-attempt
	WarmupDelayMs      int     `envconfig:"WARMUP_DELAY_MS" default:"300"`        // Delay after live handshake before marking ready
	PreferredVoices    string  `envconfig:"PREFERRED_VOICES" default:"Google US English,Samantha,Daniel"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Validate required fields
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if cfg.VoiceMode != "turn" && cfg.VoiceMode != "streaming" {
		return nil, fmt.Errorf("VOICE_MODE must be \"turn\" or \"streaming\", got %q", cfg.VoiceMode)
	}
	if cfg.CaptionsEnabled && cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required when CAPTIONS_ENABLED is true")
	}
	if cfg.FrameBufferCap <= 0 {
		return nil, fmt.Errorf("FRAME_BUFFER_CAP must be positive, got %d", cfg.FrameBufferCap)
	}

	return &cfg, nil
}

// PreferredVoiceNames returns the preferred synthesis voice names in priority order
func (c *Config) PreferredVoiceNames() []string {
	var names []string
	for _, name := range strings.Split(c.PreferredVoices, ",") {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}
