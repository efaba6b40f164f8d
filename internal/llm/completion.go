package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/chadiek/mio/internal/conversation"
)

// DefaultTimeout bounds a single completion request.
const DefaultTimeout = 30 * time.Second

// Client sends the whole conversation to an OpenAI-compatible chat
// completions endpoint (OpenRouter by default) and returns one reply.
type Client struct {
	HTTPClient  *http.Client
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// chatCompletionsResponse covers both the chat shape (choices[0].message.content)
// and the legacy text shape (choices[0].text).
type chatCompletionsResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
		Text *string `json:"text"`
	} `json:"choices"`
}

func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		HTTPClient:  &http.Client{Timeout: DefaultTimeout},
		Endpoint:    endpoint,
		APIKey:      apiKey,
		Model:       model,
		Temperature: 0.9,
		MaxTokens:   512,
	}
}

// Complete sends turns (role and content only) and extracts the reply text.
// It makes exactly one attempt.
func (c *Client) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	if c.APIKey == "" {
		return "", &Error{Kind: KindHTTP, Status: http.StatusUnauthorized, Err: errors.New("completion api key missing")}
	}

	messages := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	reqBody, err := json.Marshal(chatCompletionsRequest{
		Model:       c.Model,
		Messages:    messages,
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{Kind: KindHTTP, Status: resp.StatusCode, Err: fmt.Errorf("body=%s", truncate(string(body), 512))}
	}
	return extractReply(body)
}

// extractReply tries choices[0].message.content, then choices[0].text, and
// falls back to the raw body. Only a body that is not JSON at all fails.
func extractReply(body []byte) (string, error) {
	if !json.Valid(body) {
		return "", &Error{Kind: KindMalformed, Err: fmt.Errorf("body=%s", truncate(string(body), 512))}
	}
	var cr chatCompletionsResponse
	if err := json.Unmarshal(body, &cr); err == nil && len(cr.Choices) > 0 {
		first := cr.Choices[0]
		if first.Message != nil && first.Message.Content != nil {
			return strings.TrimSpace(*first.Message.Content), nil
		}
		if first.Text != nil {
			return strings.TrimSpace(*first.Text), nil
		}
	}
	return string(bytes.TrimSpace(body)), nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	return &Error{Kind: KindNetwork, Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
