package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "projectwatch_voice_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projectwatch_voice_sessions_total",
		Help: "Total number of voice sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectwatch_voice_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_turns_total",
		Help: "Total number of conversation turns",
	}, []string{"role"})

	// Transcription metrics
	transcriptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_transcription_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"status"}) // status: success, empty, error

	transcriptionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectwatch_voice_transcription_latency_seconds",
		Help:    "Transcription latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Conversation metrics
	conversationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_conversation_requests_total",
		Help: "Total number of conversation model requests",
	}, []string{"status"})

	conversationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectwatch_voice_conversation_latency_seconds",
		Help:    "Conversation round-trip latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_tool_calls_total",
		Help: "Total number of tool invocations requested by the model",
	}, []string{"tool", "status"})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_synthesis_requests_total",
		Help: "Total number of speech synthesis requests",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "projectwatch_voice_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Audio metrics
	audioFramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_audio_frames_total",
		Help: "Total audio frames processed",
	}, []string{"direction"}) // direction: "in" or "out"

	audioFramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "projectwatch_voice_audio_frames_dropped_total",
		Help: "Total audio frames dropped from the pre-ready buffer",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Recovery metrics
	recoveryChoices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_recovery_choices_total",
		Help: "Total recovery choices made after capture failures",
	}, []string{"choice"}) // choice: retry, fallback, reset

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "projectwatch_voice_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "projectwatch_voice_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single voice session
type Metrics struct {
	sessionID              string
	startTime              time.Time
	transcriptionStartTime time.Time
	conversationStartTime  time.Time
	synthesisStartTime     time.Time
	mu                     sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a voice session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a voice session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a voice session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	duration := time.Since(m.startTime).Seconds()
	sessionDuration.Observe(duration)
}

// RecordTurn records a conversation turn by role ("user" or "assistant")
func (m *Metrics) RecordTurn(role string) {
	turnsTotal.WithLabelValues(role).Inc()
}

// RecordTranscriptionStart records the start of a transcription request
func (m *Metrics) RecordTranscriptionStart() {
	m.mu.Lock()
	m.transcriptionStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTranscriptionEnd records the end of a transcription request.
// Status is one of "success", "empty" or "error"; an empty transcript is a
// valid outcome, not an error.
func (m *Metrics) RecordTranscriptionEnd(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transcriptionStartTime.IsZero() {
		latency := time.Since(m.transcriptionStartTime).Seconds()
		transcriptionLatency.Observe(latency)
	}
	transcriptionRequests.WithLabelValues(status).Inc()
}

// RecordConversationStart records the start of a conversation round-trip
func (m *Metrics) RecordConversationStart() {
	m.mu.Lock()
	m.conversationStartTime = time.Now()
	m.mu.Unlock()
}

// RecordConversationEnd records the end of a conversation round-trip
func (m *Metrics) RecordConversationEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.conversationStartTime.IsZero() {
		latency := time.Since(m.conversationStartTime).Seconds()
		conversationLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	conversationRequests.WithLabelValues(status).Inc()
}

// RecordToolCall records a tool invocation requested by the model
func RecordToolCall(tool string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	toolCalls.WithLabelValues(tool, status).Inc()
}

// RecordSynthesisStart records the start of speech synthesis
func (m *Metrics) RecordSynthesisStart() {
	m.mu.Lock()
	m.synthesisStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSynthesisEnd records the end of speech synthesis
func (m *Metrics) RecordSynthesisEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.synthesisStartTime.IsZero() {
		latency := time.Since(m.synthesisStartTime).Seconds()
		synthesisLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioFrames records audio frames processed
func (m *Metrics) RecordAudioFrames(direction string, frames int64) {
	audioFramesProcessed.WithLabelValues(direction).Add(float64(frames))
}

// RecordFramesDropped records frames dropped from the pre-ready buffer
func (m *Metrics) RecordFramesDropped(frames int64) {
	audioFramesDropped.Add(float64(frames))
}

// RecordRecoveryChoice records a recovery choice made by the user
func RecordRecoveryChoice(choice string) {
	recoveryChoices.WithLabelValues(choice).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
