package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Socialeap/project-watch-dashboard/internal/config"
	"github.com/Socialeap/project-watch-dashboard/internal/resilience"
)

// transcribeInstruction tells the model to return only the verbatim
// transcription, no commentary. The model yielding nothing is a valid
// outcome meaning no intelligible speech was present.
const transcribeInstruction = "Transcribe the spoken audio verbatim. " +
	"Return only the transcription text, with no commentary, labels or quotes. " +
	"If there is no intelligible speech, return an empty response."

// GeminiTranscriber implements Transcriber against the Gemini
// generateContent API: raw audio bytes are base64-encoded inline with the
// declared mime type and a fixed instruction.
type GeminiTranscriber struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	retry      resilience.Policy
	clock      resilience.Clock
}

// NewGeminiTranscriber creates a turn-based remote transcriber
func NewGeminiTranscriber(cfg *config.Config) *GeminiTranscriber {
	return &GeminiTranscriber{
		apiKey:     cfg.GeminiAPIKey,
		model:      cfg.GeminiModel,
		baseURL:    cfg.GeminiBaseURL,
		httpClient: &http.Client{},
		retry: resilience.ExponentialBackoff(
			cfg.RetryMaxAttempts,
			time.Duration(cfg.RetryInitialBackoff)*time.Millisecond,
			5*time.Second,
		),
		clock: resilience.RealClock(),
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64-encoded audio bytes
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Transcribe sends the captured artifact to the remote speech-understanding
// capability. Returns "" (not an error) when the service yields no usable
// text; hard transport failures wrap ErrTransport.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, audioData []byte, mimeType string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: transcribeInstruction},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(audioData),
				}},
			},
		}},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", ErrTransport, err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)

	// Connection failures and 5xx responses are worth another attempt under
	// the configured backoff; 4xx responses are not.
	var result generateResponse
	err = g.retry.RunRetryable(ctx, g.clock, func() error {
		result = generateResponse{}
		return g.post(ctx, url, jsonData, &result)
	}, resilience.IsRetryable)
	if err != nil {
		return "", err
	}

	// No candidates or no text is the valid "silence" outcome
	if len(result.Candidates) == 0 {
		return "", nil
	}

	var b strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String()), nil
}

// post performs one generateContent request, decoding the response into out
func (g *GeminiTranscriber) post(ctx context.Context, url string, body []byte, out *generateResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return resilience.NewRetryableError(fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		statusErr := fmt.Errorf("%w: transcription API returned status %d: %s", ErrTransport, resp.StatusCode, string(respBody))
		if resp.StatusCode >= http.StatusInternalServerError {
			return resilience.NewRetryableError(statusErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", ErrTransport, err)
	}
	return nil
}
