package convo

import (
	"github.com/rs/zerolog"

	"github.com/Socialeap/project-watch-dashboard/internal/observability"
	"github.com/Socialeap/project-watch-dashboard/internal/projects"
)

// Tool represents a function the model can invoke during a conversation turn.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "searchProjectHistory").
	Name string

	// Description explains what the tool does, helping the model decide when to use it.
	Description string

	// Parameters defines the JSON schema for the tool's arguments.
	Parameters map[string]any

	// Handler is called when the model invokes this tool.
	// It receives the parsed arguments and returns a structured result payload.
	Handler func(args map[string]any) map[string]any
}

// Registry holds the tools available to a conversation session and resolves
// model-issued calls against them.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger zerolog.Logger
}

// NewRegistry creates an empty tool registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool to the registry
func (r *Registry) Register(tool *Tool) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Declarations returns the registered tools in registration order for the
// remote model's tool schema.
func (r *Registry) Declarations() []*Tool {
	decls := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name])
	}
	return decls
}

// Resolve executes a named tool call. An unknown or unsupported tool name
// yields a structured error payload fed back into the turn rather than
// aborting it.
func (r *Registry) Resolve(name string, args map[string]any) map[string]any {
	tool, ok := r.tools[name]
	if !ok {
		r.logger.Warn().Str("tool", name).Msg("Model requested unknown tool")
		observability.RecordToolCall(name, false)
		return map[string]any{"error": "Unknown tool"}
	}

	result := tool.Handler(args)
	_, failed := result["error"]
	observability.RecordToolCall(name, !failed)
	return result
}

// NewProjectTools builds the standard registry for the project analyst:
// a single searchProjectHistory tool backed by the project store.
func NewProjectTools(store *projects.Store, logger zerolog.Logger) *Registry {
	registry := NewRegistry(logger)
	registry.Register(&Tool{
		Name: "searchProjectHistory",
		Description: "Search all project records, including archived and completed ones, " +
			"by a case-insensitive substring match over name, owner, status and tags. " +
			"Use this for any question about archived projects or any project not in the current snapshot.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Substring to match against project name, owner, status or tags",
				},
			},
			"required": []string{"query"},
		},
		Handler: func(args map[string]any) map[string]any {
			query, _ := args["query"].(string)
			matches := store.SearchHistory(query)

			results := make([]map[string]any, 0, len(matches))
			for _, rec := range matches {
				results = append(results, map[string]any{
					"name":        rec.Name,
					"status":      rec.Status,
					"lastTouched": rec.LastTouched.Format("2006-01-02"),
					"owner":       rec.Owner,
					"tags":        rec.Tags,
				})
			}
			return map[string]any{"results": results}
		},
	})
	return registry
}
