package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"personachat/internal/models"
)

// ClientConfig configures an OpenAI-compatible chat-completions endpoint.
type ClientConfig struct {
	URL        string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// Client calls a chat-completions endpoint to generate persona replies.
type Client struct {
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "https://api.openai.com/v1/chat/completions"
	}
	return &Client{cfg: cfg}
}

type completionRequest struct {
	Model    string `json:"model"`
	Messages []Turn `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) GenerateReply(ctx context.Context, persona models.Persona, contextMessages []models.Message) (string, error) {
	if len(contextMessages) == 0 {
		return "", generationError("empty context")
	}
	body, err := json.Marshal(completionRequest{
		Model:    c.cfg.Model,
		Messages: Transcript(persona, contextMessages),
	})
	if err != nil {
		return "", generationError("marshal request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", generationError("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", generationError("request failed: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", generationError("status %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var payload completionResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", generationError("decode response: %v", err)
	}
	if len(payload.Choices) == 0 {
		return "", generationError("response has no choices")
	}
	text := strings.TrimSpace(payload.Choices[0].Message.Content)
	if text == "" {
		return "", generationError("empty reply")
	}
	return text, nil
}
