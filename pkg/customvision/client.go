// Package customvision calls the Custom Vision prediction API to detect
// objects in an image reachable by URL.
package customvision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/types"
)

// Client talks to a published Custom Vision object detection iteration
type Client struct {
	endpoint      string
	key           string
	projectID     string
	iterationName string
	httpClient    *http.Client
}

// Prediction is one entry of the prediction response
type Prediction struct {
	Probability float64   `json:"probability"`
	TagID       string    `json:"tagId"`
	TagName     string    `json:"tagName"`
	BoundingBox types.Box `json:"boundingBox"`
}

// ImagePrediction is the response body of a detect call
type ImagePrediction struct {
	ID          string       `json:"id"`
	Project     string       `json:"project"`
	Iteration   string       `json:"iteration"`
	Created     time.Time    `json:"created"`
	Predictions []Prediction `json:"predictions"`
}

type imageURL struct {
	URL string `json:"Url"`
}

// NewClient creates a prediction client. endpoint is the resource root, e.g.
// https://myresource.cognitiveservices.azure.com/
func NewClient(endpoint, key, projectID, iterationName string, httpClient *http.Client) (*Client, error) {
	if endpoint == "" || key == "" || projectID == "" || iterationName == "" {
		return nil, errors.New("customvision: endpoint, key, project id and iteration name are required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, errors.Wrap(err, "customvision: invalid endpoint")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Minute}
	}
	return &Client{
		endpoint:      strings.TrimSuffix(endpoint, "/"),
		key:           key,
		projectID:     projectID,
		iterationName: iterationName,
		httpClient:    httpClient,
	}, nil
}

// Detect runs the published iteration against src.URL
func (c *Client) Detect(ctx context.Context, src types.ImageSource) ([]types.Detection, error) {
	res, err := c.DetectImageURL(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	dets := make([]types.Detection, 0, len(res.Predictions))
	for _, p := range res.Predictions {
		dets = append(dets, types.Detection{
			Box:         p.BoundingBox,
			TagID:       p.TagID,
			TagName:     p.TagName,
			Probability: p.Probability,
		})
	}
	return dets, nil
}

// DetectImageURL returns the raw prediction response for an image URL
func (c *Client) DetectImageURL(ctx context.Context, imgURL string) (*ImagePrediction, error) {
	if imgURL == "" {
		return nil, errors.New("customvision: image URL is required")
	}
	endpoint := fmt.Sprintf("%s/customvision/v3.0/Prediction/%s/detect/iterations/%s/url",
		c.endpoint, url.PathEscape(c.projectID), url.PathEscape(c.iterationName))

	body, err := c.sendRequest(ctx, endpoint, imageURL{URL: imgURL})
	if err != nil {
		return nil, err
	}

	var res ImagePrediction
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "customvision: failed to parse response")
	}
	return &res, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "customvision: failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "customvision: failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prediction-Key", c.key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "customvision: failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "customvision: failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("customvision: server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
