package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spendwatch/spendwatch/internal/logging"
)

// ErrMalformedResponse marks a successful HTTP exchange whose body is not a
// usable chat completion.
var ErrMalformedResponse = errors.New("malformed completion response")

// DefaultEndpoint is the OpenRouter chat completions URL.
const DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Models      []string  `json:"models,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// ClientOptions configures a chat completion client.
type ClientOptions struct {
	Endpoint string
	APIKey   string
	// Model may list fallbacks separated by commas; the first one is primary.
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	opts       ClientOptions
	models     []string
	httpClient *http.Client
}

// NewClient builds a Client. Empty endpoint and timeout fall back to defaults.
func NewClient(opts ClientOptions) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	var models []string
	for _, m := range strings.Split(opts.Model, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return &Client{opts: opts, models: models, httpClient: &http.Client{Timeout: opts.Timeout}}
}

// Complete sends one completion request and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	body := completionRequest{Messages: messages, Temperature: c.opts.Temperature}
	if len(c.models) > 0 {
		body.Model = c.models[0]
	}
	if len(c.models) > 1 {
		body.Models = c.models
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	logging.Get().Debug().Int("status", resp.StatusCode).Str("body", string(raw)).Msg("completion response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion api returned status %d", resp.StatusCode)
	}
	return parseCompletion(raw)
}

func parseCompletion(raw []byte) (string, error) {
	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: provider error %d: %s", ErrMalformedResponse, out.Error.Code, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return text, nil
}
