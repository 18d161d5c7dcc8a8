// Package computervision calls the Computer Vision analyze API for color
// features.
package computervision

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/types"
)

const analyzePath = "vision/v2.1/analyze"

// Client is a Computer Vision analyze client restricted to the Color feature
type Client struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

type analyzeResponse struct {
	Color     *types.ColorResult `json:"color"`
	RequestID string             `json:"requestId"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient creates an analyze client. endpoint is the resource root, e.g.
// https://westeurope.api.cognitive.microsoft.com/
func NewClient(endpoint, key string, httpClient *http.Client) (*Client, error) {
	if endpoint == "" || key == "" {
		return nil, errors.New("computervision: endpoint and key are required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errors.Wrap(err, "computervision: invalid endpoint")
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Client{endpoint: endpoint, key: key, httpClient: httpClient}, nil
}

// Classify posts the PNG bytes and returns the color analysis
func (c *Client) Classify(ctx context.Context, pngData []byte) (*types.ColorResult, error) {
	q := url.Values{}
	q.Set("visualFeatures", "Color")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+analyzePath+"?"+q.Encode(), bytes.NewReader(pngData))
	if err != nil {
		return nil, errors.Wrap(err, "computervision: failed to create request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "computervision: failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "computervision: failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Message != "" {
			return nil, errors.Errorf("computervision: status %d: %s: %s", resp.StatusCode, e.Code, e.Message)
		}
		return nil, errors.Errorf("computervision: status %d: %s", resp.StatusCode, string(body))
	}

	var res analyzeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "computervision: failed to parse response")
	}
	if res.Color == nil {
		return nil, errors.New("computervision: response has no color section")
	}
	return res.Color, nil
}
