package config

import (
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/client"
	"github.com/menta2k/blob-vision/pkg/computervision"
	"github.com/menta2k/blob-vision/pkg/customvision"
	"github.com/menta2k/blob-vision/pkg/llamacpp"
	"github.com/menta2k/blob-vision/pkg/ollama"
	"github.com/menta2k/blob-vision/pkg/storage"
	"github.com/menta2k/blob-vision/pkg/vision"
)

// HTTPClient returns the client used for storage and cloud API calls
func (c *Config) HTTPClient() *http.Client {
	return &http.Client{Timeout: time.Duration(c.HTTPTimeoutSeconds) * time.Second}
}

// NewSigner builds the blob URL signer for the storage account
func (c *Config) NewSigner() (*storage.Signer, error) {
	return storage.NewSigner(c.Storage.Connection)
}

// NewDetector builds the configured object detector. Local model backends
// keep their own longer timeouts and ignore httpClient.
func (c *Config) NewDetector(httpClient *http.Client) (client.ObjectDetector, error) {
	d := c.Detector
	switch d.Backend {
	case BackendCustomVision:
		cv, err := customvision.NewClient(d.Endpoint, d.Key, d.ProjectID, d.IterationName, httpClient)
		if err != nil {
			return nil, err
		}
		return cv, nil
	case BackendOllama:
		oc, err := ollama.NewClient(d.URL, d.Model, nil)
		if err != nil {
			return nil, err
		}
		return oc, nil
	case BackendLlamaCpp:
		lc, err := llamacpp.NewClient(d.URL, d.Model, nil)
		if err != nil {
			return nil, err
		}
		return lc, nil
	default:
		return nil, errors.Errorf("unknown detector backend: %s", d.Backend)
	}
}

// NewClassifier builds the configured color classifier
func (c *Config) NewClassifier(httpClient *http.Client) (client.ColorClassifier, error) {
	cl := c.Classifier
	switch cl.Backend {
	case BackendComputerVision:
		cv, err := computervision.NewClient(cl.Endpoint, cl.Key, httpClient)
		if err != nil {
			return nil, err
		}
		return cv, nil
	case BackendOllama:
		oc, err := ollama.NewClient(cl.URL, cl.Model, nil)
		if err != nil {
			return nil, err
		}
		return oc, nil
	case BackendLlamaCpp:
		lc, err := llamacpp.NewClient(cl.URL, cl.Model, nil)
		if err != nil {
			return nil, err
		}
		return lc, nil
	case BackendLocal:
		return vision.New(), nil
	default:
		return nil, errors.Errorf("unknown classifier backend: %s", cl.Backend)
	}
}
