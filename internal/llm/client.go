// Package llm calls an OpenAI-compatible chat-completions endpoint to turn a
// repository digest into a structured summary.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Config holds the LLM endpoint settings. Validation happens at startup in
// the config package; values here are trusted.
type Config struct {
	APIKey              string
	BaseURL             string
	ModelID             string
	ContextWindowTokens int
	Temperature         float64
	TopP                float64
	MaxOutputTokens     int
	MaxRetries          int
}

// SummaryResult is the validated model output.
type SummaryResult struct {
	Summary      string   `json:"summary"`
	Technologies []string `json:"technologies"`
	Structure    string   `json:"structure"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.Status, truncate(e.Body, 200))
}

// Retryable reports whether the failure is transient.
func (e *APIError) Retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ValidationError means the model responded but the output does not meet the
// summary contract.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return "llm output validation: " + e.Message }

// Client is the chat-completions client.
type Client struct {
	cfg           Config
	httpClient    *http.Client
	log           *slog.Logger
	backoffDelays []time.Duration
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		log:           log,
		backoffDelays: []time.Duration{500 * time.Millisecond, time.Second},
	}
}

// Close releases resources.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

const systemPrompt = `You are a senior software engineer summarizing a GitHub repository from its extracted digest. Respond with a JSON object containing exactly three fields: "summary" (a concise paragraph describing what the project does and who it is for), "technologies" (an array of the languages, frameworks and notable tools the project uses), and "structure" (a short description of how the codebase is organized).`

var summarySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "technologies": {"type": "array", "items": {"type": "string"}},
    "structure": {"type": "string"}
  },
  "required": ["summary", "technologies", "structure"],
  "additionalProperties": false
}`)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	TopP           float64       `json:"top_p"`
	MaxTokens      int           `json:"max_tokens"`
	Stream         bool          `json:"stream"`
	ResponseFormat any           `json:"response_format,omitempty"`
	Messages       []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Summarize sends the digest and returns the validated summary. Transient
// provider failures are retried with fixed backoff; a context-window
// rejection comes back as a non-retryable *APIError for the overflow
// controller to inspect.
func (c *Client) Summarize(ctx context.Context, digestMarkdown string) (SummaryResult, error) {
	req := chatRequest{
		Model:       c.cfg.ModelID,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		MaxTokens:   c.cfg.MaxOutputTokens,
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "repo_summary",
				"schema": summarySchema,
				"strict": true,
			},
		},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Summarize this repository digest:\n\n" + digestMarkdown},
		},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		var resp chatResponse
		resp, err = c.post(ctx, payload)
		if err == nil {
			return c.parseResult(resp)
		}
		lastErr = err
		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.Retryable() || attempt == attempts-1 {
			return SummaryResult{}, err
		}
		c.log.Warn("retrying llm request", "attempt", attempt+1, "error", err.Error())
		select {
		case <-ctx.Done():
			return SummaryResult{}, ctx.Err()
		case <-time.After(c.backoff(attempt)):
		}
	}
	return SummaryResult{}, lastErr
}

func (c *Client) post(ctx context.Context, payload []byte) (chatResponse, error) {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport failures get the retryable 503 shape.
		return chatResponse{}, &APIError{Status: http.StatusServiceUnavailable, Body: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chatResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return chatResponse{}, &ValidationError{Message: "malformed completion response: " + err.Error()}
	}
	if parsed.Error != nil {
		return chatResponse{}, &ValidationError{Message: parsed.Error.Type + ": " + parsed.Error.Message}
	}
	return parsed, nil
}

func (c *Client) parseResult(resp chatResponse) (SummaryResult, error) {
	if len(resp.Choices) == 0 {
		return SummaryResult{}, &ValidationError{Message: "empty choices in completion"}
	}
	content := stripCodeBlock(resp.Choices[0].Message.Content)

	var raw SummaryResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return SummaryResult{}, &ValidationError{Message: fmt.Sprintf("model output is not valid JSON: %v (raw: %s)", err, truncate(content, 200))}
	}
	return normalize(raw)
}

// normalize enforces the summary contract: non-empty summary and structure,
// technologies deduplicated case-insensitively, each entry at most 80 runes,
// at most 20 entries.
func normalize(raw SummaryResult) (SummaryResult, error) {
	summary := strings.TrimSpace(raw.Summary)
	structure := strings.TrimSpace(raw.Structure)
	if summary == "" || structure == "" {
		return SummaryResult{}, &ValidationError{Message: "summary and structure must be non-empty"}
	}

	seen := make(map[string]bool, len(raw.Technologies))
	techs := make([]string, 0, len(raw.Technologies))
	for _, item := range raw.Technologies {
		t := strings.TrimSpace(item)
		if t == "" {
			continue
		}
		if runes := []rune(t); len(runes) > 80 {
			t = strings.TrimRight(string(runes[:80]), " ")
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		techs = append(techs, t)
		if len(techs) == 20 {
			break
		}
	}
	return SummaryResult{Summary: summary, Technologies: techs, Structure: structure}, nil
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func (c *Client) backoff(attempt int) time.Duration {
	idx := attempt
	if idx >= len(c.backoffDelays) {
		idx = len(c.backoffDelays) - 1
	}
	return c.backoffDelays[idx] + time.Duration(rand.Int64N(int64(150*time.Millisecond)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
