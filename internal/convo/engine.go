package convo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/observability"
	"github.com/Socialeap/project-watch-dashboard/internal/projects"
	"github.com/Socialeap/project-watch-dashboard/internal/resilience"
)

const (
	// errorReply is returned to the caller for any transport or model
	// failure. Raw faults never propagate out of the engine.
	errorReply = "Error communicating with analyst."

	// uninitializedReply is returned when Send is called on a session that
	// was never created.
	uninitializedReply = "Sorry, I'm not ready yet. Please try again in a moment."
)

// Engine dispatches conversation turns to the remote model and executes the
// tool calls it requests. One engine serves many sessions.
type Engine struct {
	client  *ChatClient
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewEngine creates a conversation engine
func NewEngine(cfg *config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		client: NewChatClient(cfg),
		breaker: resilience.NewCircuitBreaker(
			"gemini-chat",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger,
	}
}

// Session holds the append-only turn history for one conversation, seeded
// with a system instruction describing the current project snapshot.
type Session struct {
	engine   *Engine
	system   *chatContent
	tools    []chatTool
	registry *Registry

	mu      sync.Mutex
	history []chatContent
}

// NewSession seeds a session with a snapshot of the active project records
// and the tool registry the model may call into.
func (e *Engine) NewSession(snapshot []projects.Record, registry *Registry) *Session {
	decls := make([]functionDecl, 0)
	for _, tool := range registry.Declarations() {
		decls = append(decls, functionDecl{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}

	return &Session{
		engine: e,
		system: &chatContent{
			Parts: []chatPart{{Text: buildSystemInstruction(snapshot)}},
		},
		tools:    []chatTool{{FunctionDeclarations: decls}},
		registry: registry,
	}
}

// SystemInstruction returns the seeded instruction text, shared with the
// live audio link so both paths describe the same project snapshot
func (s *Session) SystemInstruction() string {
	if s == nil || s.system == nil || len(s.system.Parts) == 0 {
		return ""
	}
	return s.system.Parts[0].Text
}

// buildSystemInstruction renders the active project records into a compact
// snapshot plus the directive that archived or unlisted projects must go
// through the search tool.
func buildSystemInstruction(snapshot []projects.Record) string {
	var b strings.Builder
	b.WriteString("You are a concise spoken-voice analyst for a dashboard that tracks project staleness. ")
	b.WriteString("Answer in one or two short sentences suitable for reading aloud.\n\n")

	if len(snapshot) == 0 {
		b.WriteString("There are currently no active projects.\n")
	} else {
		b.WriteString("Current active projects:\n")
		for _, rec := range snapshot {
			fmt.Fprintf(&b, "- %s (status: %s, owner: %s, last touched: %s, tags: %s)\n",
				rec.Name, rec.Status, rec.Owner,
				rec.LastTouched.Format("2006-01-02"),
				strings.Join(rec.Tags, ", "))
		}
	}

	b.WriteString("\nFor any question about archived projects, or about any project not listed above, ")
	b.WriteString("you MUST call the searchProjectHistory tool instead of answering from memory.")
	return b.String()
}

// Send appends a user turn, invokes the remote model, and returns the final
// answer text. If the model requests tool calls they are resolved in the
// order returned and their results sent back as a single follow-up turn, at
// most once per user turn. All failures degrade to user-visible text.
func (s *Session) Send(ctx context.Context, text string) string {
	if s == nil || s.engine == nil {
		return uninitializedReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userTurn := chatContent{Role: "user", Parts: []chatPart{{Text: text}}}
	pending := append(append([]chatContent{}, s.history...), userTurn)

	first, err := s.engine.generate(ctx, s.system, s.tools, pending)
	if err != nil {
		s.engine.logger.Error().Err(err).Msg("Conversation request failed")
		return errorReply
	}

	calls := extractCalls(first)
	if len(calls) == 0 {
		reply := joinText(first)
		if reply == "" {
			s.engine.logger.Warn().Msg("Model returned neither text nor tool calls")
			return errorReply
		}
		s.history = append(s.history, userTurn, *first)
		return reply
	}

	// Resolve every call in model order and package the results as one
	// follow-up turn. No second round of tool execution happens even if
	// the model asks again.
	responseParts := make([]chatPart, 0, len(calls))
	for _, call := range calls {
		result := s.registry.Resolve(call.Name, call.Args)
		responseParts = append(responseParts, chatPart{
			FunctionResponse: &functionResponse{Name: call.Name, Response: result},
		})
	}
	toolTurn := chatContent{Role: "function", Parts: responseParts}
	pending = append(pending, *first, toolTurn)

	second, err := s.engine.generate(ctx, s.system, s.tools, pending)
	if err != nil {
		s.engine.logger.Error().Err(err).Msg("Conversation follow-up failed")
		return errorReply
	}

	reply := joinText(second)
	if reply == "" {
		s.engine.logger.Warn().Msg("Model follow-up returned no text")
		return errorReply
	}

	s.history = append(s.history, userTurn, *first, toolTurn, *second)
	return reply
}

// History returns a copy of the committed turn history
func (s *Session) History() []chatContent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chatContent{}, s.history...)
}

// generate runs one model request behind the circuit breaker
func (e *Engine) generate(ctx context.Context, system *chatContent, tools []chatTool, contents []chatContent) (*chatContent, error) {
	var content *chatContent
	err := e.breaker.Call(func() error {
		var callErr error
		content, callErr = e.client.Generate(ctx, &chatRequest{
			Contents:          contents,
			SystemInstruction: system,
			Tools:             tools,
		})
		return callErr
	})

	observability.UpdateCircuitBreakerState("gemini-chat", int(e.breaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("gemini-chat")
		return nil, err
	}
	return content, nil
}

func extractCalls(content *chatContent) []*functionCall {
	var calls []*functionCall
	for _, p := range content.Parts {
		if p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

func joinText(content *chatContent) string {
	var b strings.Builder
	for _, p := range content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}
