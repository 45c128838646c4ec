package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pseudoapp/pseudo/internal/config"
	"github.com/pseudoapp/pseudo/internal/content"
	"github.com/pseudoapp/pseudo/internal/httpkit"
	"github.com/pseudoapp/pseudo/internal/modality"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicClient talks to the Anthropic Messages API. Text only; the
// API does not generate images or audio.
type AnthropicClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(baseURL string, logger *slog.Logger) *AnthropicClient {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Responses can take significant time before headers arrive
	// (thinking, long prompts). Use a generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &AnthropicClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(3*time.Minute),
			httpkit.WithTransport(t),
		),
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Invoke sends a non-streaming messages request.
func (c *AnthropicClient) Invoke(ctx context.Context, req Request) (content.Content, error) {
	if req.Mode != modality.Text {
		return content.Content{}, unsupportedMode("anthropic", req.Mode)
	}

	body := anthropicRequest{
		Model:     req.Model,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Payload}},
		System:    req.System,
		MaxTokens: 4096,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return content.Content{}, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return content.Content{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return content.Content{}, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return content.Content{}, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, errBody)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return content.Content{}, fmt.Errorf("decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	reply := strings.TrimSpace(sb.String())
	if reply == "" {
		return content.Content{}, fmt.Errorf("anthropic returned empty response for model %s", req.Model)
	}

	c.logger.Log(ctx, config.LevelTrace, "response content", "content", reply)
	c.logger.Debug("response received",
		"model", apiResp.Model,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)

	return content.Text(reply), nil
}
