package ollama

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/detection"
	"github.com/menta2k/blob-vision/pkg/types"
)

// Client wraps the Ollama API client for a single vision model
type Client struct {
	client *api.Client
	model  string
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL, model string, httpClient *http.Client) (*Client, error) {
	if model == "" {
		return nil, errors.New("ollama: model is required")
	}
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, errors.Wrap(err, "ollama: invalid URL")
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.Errorf("ollama: invalid URL %q", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{client: api.NewClient(baseURL, httpClient), model: model}, nil
}

// Detect asks the model to locate objects in src.Data
func (c *Client) Detect(ctx context.Context, src types.ImageSource) ([]types.Detection, error) {
	if len(src.Data) == 0 {
		return nil, errors.New("ollama: image data is required")
	}
	raw, err := c.chat(ctx, detection.DetectPrompt, src.Data)
	if err != nil {
		return nil, err
	}
	return detection.ParseDetections(raw)
}

// Classify asks the model for the dominant color of a PNG image
func (c *Client) Classify(ctx context.Context, pngData []byte) (*types.ColorResult, error) {
	raw, err := c.chat(ctx, detection.ColorPrompt, pngData)
	if err != nil {
		return nil, err
	}
	return detection.ParseColor(raw)
}

func (c *Client) chat(ctx context.Context, prompt string, img []byte) (string, error) {
	// Add timeout if context doesn't have one (vision models on CPU are slow)
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 300*time.Second)
		defer cancel()
	}

	options := map[string]any{
		"temperature": 0.1,
	}
	modelLower := strings.ToLower(c.model)
	if strings.Contains(modelLower, "minicpm-v") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(img)},
			},
		},
		Stream:  &streamFalse,
		Options: options,
	}

	var responseContent string
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "ollama chat error")
	}
	if responseContent == "" {
		return "", errors.New("empty response from ollama")
	}
	return responseContent, nil
}
