package convo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
)

// Wire types for the Gemini generateContent API.
// Note: the chat API uses camelCase JSON field names.

type chatRequest struct {
	Contents          []chatContent `json:"contents"`
	SystemInstruction *chatContent  `json:"systemInstruction,omitempty"`
	Tools             []chatTool    `json:"tools,omitempty"`
}

type chatContent struct {
	Role  string     `json:"role,omitempty"` // "user", "model", "function"
	Parts []chatPart `json:"parts"`
}

type chatPart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type chatTool struct {
	FunctionDeclarations []functionDecl `json:"functionDeclarations,omitempty"`
}

type functionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Candidates []struct {
		Content chatContent `json:"content"`
	} `json:"candidates"`
}

// ChatClient talks to the Gemini generateContent endpoint for conversational
// turns with tool calling.
type ChatClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewChatClient creates a chat client from configuration
func NewChatClient(cfg *config.Config) *ChatClient {
	return &ChatClient{
		apiKey:     cfg.GeminiAPIKey,
		model:      cfg.GeminiModel,
		baseURL:    cfg.GeminiBaseURL,
		httpClient: &http.Client{},
	}
}

// Generate sends one request and returns the first candidate's content.
// A response with no candidates is reported as an error; the conversation
// layer converts all failures into user-visible text.
func (c *ChatClient) Generate(ctx context.Context, req *chatRequest) (*chatContent, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("convo: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("convo: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("convo: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("convo: model API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("convo: failed to decode response: %w", err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("convo: model returned no candidates")
	}

	content := result.Candidates[0].Content
	return &content, nil
}
