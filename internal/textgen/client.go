// Package textgen is a thin client for the text-generation service that
// writes analyst prose. Callers treat every failure as soft.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aidin1998/amlwatch/internal/config"
	"github.com/Aidin1998/amlwatch/pkg/errors"
)

// ErrUnavailable is returned when no endpoint is configured
var ErrUnavailable = errors.Unavailable.Reason("TextGenDisabled").Explain("text generation is not configured")

// Generator turns a prompt into prose
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Disabled always fails with ErrUnavailable
type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) { return "", ErrUnavailable }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Client posts non-streaming generate requests
type Client struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

// New returns a Client, or Disabled when cfg has no endpoint
func New(cfg config.TextGenConfig) Generator {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return Disabled{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("text generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("text generation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("text generation error: %s", out.Error)
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("text generation returned no text")
	}
	return text, nil
}
