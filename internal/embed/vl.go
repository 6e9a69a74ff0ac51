package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// VLConfig configures the vision-language client.
type VLConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Timeout bounds a single request (default 2 minutes).
	Timeout time.Duration
}

// VLClient describes an image with a vision-language model. The returned
// description is indexed as the file's text content.
type VLClient struct {
	client *http.Client
	config VLConfig
}

// NewVLClient creates a vision-language client.
func NewVLClient(cfg VLConfig) *VLClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultVLTimeout
	}
	return &VLClient{
		client: &http.Client{Timeout: cfg.Timeout},
		config: cfg,
	}
}

type vlContentPart struct {
	Type     string         `json:"type"`
	Text     string         `json:"text,omitempty"`
	ImageURL *imageURLField `json:"image_url,omitempty"`
}

type vlMessage struct {
	Role    string          `json:"role"`
	Content []vlContentPart `json:"content"`
}

type vlRequest struct {
	Model    string      `json:"model"`
	Messages []vlMessage `json:"messages"`
}

type vlResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// DescribeImage sends the image and prompt to a chat-completions endpoint
// and returns the model's textual description.
func (c *VLClient) DescribeImage(ctx context.Context, dataURL, prompt string) (string, error) {
	req := vlRequest{
		Model: c.config.Model,
		Messages: []vlMessage{{
			Role: "user",
			Content: []vlContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURLField{URL: dataURL}},
			},
		}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading vision response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result vlResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding vision response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("vision response contained no choices")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// ModelName returns the vision model identifier.
func (c *VLClient) ModelName() string {
	return c.config.Model
}
