package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pseudoapp/pseudo/internal/config"
	"github.com/pseudoapp/pseudo/internal/content"
	"github.com/pseudoapp/pseudo/internal/httpkit"
	"github.com/pseudoapp/pseudo/internal/modality"
)

// OpenAIClient talks to the OpenAI API. It is the only provider here
// that covers all three modalities: chat completions for text, image
// generation, and speech synthesis for audio.
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIClient creates a new OpenAI client. baseURL defaults to the
// public API endpoint; override it for compatible gateways.
func NewOpenAIClient(baseURL string, logger *slog.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Image generation can take well over the default client timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "openai"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(3*time.Minute),
			httpkit.WithTransport(t),
		),
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

// Invoke dispatches to the endpoint matching the requested modality.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (content.Content, error) {
	switch req.Mode {
	case modality.Text:
		return c.chat(ctx, req)
	case modality.Image:
		return c.generateImage(ctx, req)
	case modality.Audio:
		return c.generateSpeech(ctx, req)
	default:
		return content.Content{}, unsupportedMode("openai", req.Mode)
	}
}

type openaiChatRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) chat(ctx context.Context, req Request) (content.Content, error) {
	var messages []openaiMessage
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Payload})

	body := openaiChatRequest{Model: req.Model, Messages: messages}

	var resp openaiChatResponse
	if err := c.post(ctx, "/v1/chat/completions", req, body, &resp); err != nil {
		return content.Content{}, err
	}

	if len(resp.Choices) == 0 {
		return content.Content{}, fmt.Errorf("openai returned no choices for model %s", req.Model)
	}
	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	if reply == "" {
		return content.Content{}, fmt.Errorf("openai returned empty response for model %s", req.Model)
	}

	c.logger.Log(ctx, config.LevelTrace, "response content", "content", reply)
	return content.Text(reply), nil
}

type openaiImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

type openaiImageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func (c *OpenAIClient) generateImage(ctx context.Context, req Request) (content.Content, error) {
	body := openaiImageRequest{Model: req.Model, Prompt: req.Payload, N: 1}

	var resp openaiImageResponse
	if err := c.post(ctx, "/v1/images/generations", req, body, &resp); err != nil {
		return content.Content{}, err
	}

	if len(resp.Data) == 0 {
		return content.Content{}, fmt.Errorf("openai returned no image data for model %s", req.Model)
	}
	// Hosted URL when the model provides one, inline base64 otherwise.
	if resp.Data[0].URL != "" {
		return content.URL(resp.Data[0].URL), nil
	}
	if resp.Data[0].B64JSON != "" {
		return content.Base64(resp.Data[0].B64JSON), nil
	}
	return content.Content{}, fmt.Errorf("openai image response had neither url nor b64_json")
}

type openaiSpeechRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`
}

func (c *OpenAIClient) generateSpeech(ctx context.Context, req Request) (content.Content, error) {
	body := openaiSpeechRequest{Model: req.Model, Input: req.Payload, Voice: "alloy"}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return content.Content{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := c.newRequest(ctx, "/v1/audio/speech", req, jsonData)
	if err != nil {
		return content.Content{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return content.Content{}, fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return content.Content{}, fmt.Errorf("openai API error %d: %s", resp.StatusCode, errBody)
	}

	// Speech responses are raw audio bytes, not JSON.
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return content.Content{}, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return content.Content{}, fmt.Errorf("openai returned empty audio for model %s", req.Model)
	}

	return content.Bytes(audio), nil
}

// post sends a JSON request and decodes a JSON response.
func (c *OpenAIClient) post(ctx context.Context, path string, req Request, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, config.LevelTrace, "request payload", "path", path, "json", string(jsonData))

	httpReq, err := c.newRequest(ctx, path, req, jsonData)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "path", path, "status", resp.StatusCode, "body", errBody)
		return fmt.Errorf("openai API error %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *OpenAIClient) newRequest(ctx context.Context, path string, req Request, jsonData []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	if req.Organization != "" {
		httpReq.Header.Set("OpenAI-Organization", req.Organization)
	}
	return httpReq, nil
}
