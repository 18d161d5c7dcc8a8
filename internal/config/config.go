package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Detector and classifier backends
const (
	BackendCustomVision   = "customvision"
	BackendComputerVision = "computervision"
	BackendOllama         = "ollama"
	BackendLlamaCpp       = "llamacpp"
	BackendLocal          = "local"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the application configuration
type Config struct {
	Storage            StorageConfig    `json:"storage" yaml:"storage"`
	Detector           DetectorConfig   `json:"detector" yaml:"detector"`
	Classifier         ClassifierConfig `json:"classifier" yaml:"classifier"`
	Server             ServerConfig     `json:"server" yaml:"server"`
	HTTPTimeoutSeconds int              `json:"http_timeout_seconds" yaml:"http_timeout_seconds"`
}

// StorageConfig holds the blob storage account used to sign image URLs
type StorageConfig struct {
	Connection string `json:"connection" yaml:"connection"`
	Container  string `json:"container" yaml:"container"`
}

// DetectorConfig selects and configures the object detector
type DetectorConfig struct {
	Backend       string `json:"backend" yaml:"backend"`
	Key           string `json:"key,omitempty" yaml:"key,omitempty"`
	Endpoint      string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ProjectID     string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	IterationName string `json:"iteration_name,omitempty" yaml:"iteration_name,omitempty"`
	Model         string `json:"model,omitempty" yaml:"model,omitempty"`
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ClassifierConfig selects and configures the color classifier
type ClassifierConfig struct {
	Backend  string `json:"backend" yaml:"backend"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
}

// ServerConfig holds the custom handler listener settings
type ServerConfig struct {
	Port int `json:"port" yaml:"port"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Container: "images",
		},
		Detector: DetectorConfig{
			Backend: BackendCustomVision,
		},
		Classifier: ClassifierConfig{
			Backend: BackendComputerVision,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		HTTPTimeoutSeconds: 30,
	}
}

// Load builds a configuration from defaults, an optional config file, an
// optional dotenv file and finally the process environment
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if envFile != "" {
		// godotenv never overrides variables already set in the environment
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "failed to load env file %s", envFile)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults. Files ending in .yaml or .yml are read as YAML.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML or JSON file
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	var data []byte
	var err error
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}

// ApplyEnv overlays values from the environment. lookup is usually
// os.LookupEnv. The lower-case names are the ones the function app settings use.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, names ...string) {
		for _, name := range names {
			if v, ok := lookup(name); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Storage.Connection, "AzureWebJobsStorage")
	set(&c.Storage.Container, "BLOB_CONTAINER")

	set(&c.Detector.Backend, "DETECTOR_BACKEND")
	set(&c.Classifier.Backend, "CLASSIFIER_BACKEND")
	c.Detector.Backend = strings.ToLower(c.Detector.Backend)
	c.Classifier.Backend = strings.ToLower(c.Classifier.Backend)

	switch c.Detector.Backend {
	case BackendCustomVision:
		set(&c.Detector.Key, "custom_vision_prediction_key")
		set(&c.Detector.Endpoint, "custom_vision_endpoint")
		set(&c.Detector.ProjectID, "project_id")
		set(&c.Detector.IterationName, "publish_iteration_name")
	case BackendOllama:
		set(&c.Detector.URL, "OLLAMA_URL")
		set(&c.Detector.Model, "OLLAMA_DETECT_MODEL", "OLLAMA_MODEL")
	case BackendLlamaCpp:
		set(&c.Detector.URL, "LLAMACPP_URL")
		set(&c.Detector.Model, "LLAMACPP_MODEL")
	}

	switch c.Classifier.Backend {
	case BackendComputerVision:
		set(&c.Classifier.Key, "cognitive_services_subscription_key")
		set(&c.Classifier.Endpoint, "cognitive_services_endpoint")
	case BackendOllama:
		set(&c.Classifier.URL, "OLLAMA_URL")
		set(&c.Classifier.Model, "OLLAMA_COLOR_MODEL", "OLLAMA_MODEL")
	case BackendLlamaCpp:
		set(&c.Classifier.URL, "LLAMACPP_URL")
		set(&c.Classifier.Model, "LLAMACPP_MODEL")
	}

	if v, ok := lookup("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v, ok := lookup("HTTP_TIMEOUT_SECONDS"); ok {
		if secs, err := strconv.Atoi(v); err == nil {
			c.HTTPTimeoutSeconds = secs
		}
	}
}

// Validate checks if the configuration is valid. Every missing or bad
// field is reported, not only the first.
func (c *Config) Validate() error {
	var problems []string
	missing := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, name+" is required")
		}
	}

	missing(c.Storage.Connection, "storage.connection")

	switch c.Detector.Backend {
	case BackendCustomVision:
		missing(c.Detector.Key, "detector.key")
		missing(c.Detector.Endpoint, "detector.endpoint")
		missing(c.Detector.ProjectID, "detector.project_id")
		missing(c.Detector.IterationName, "detector.iteration_name")
	case BackendOllama:
		missing(c.Detector.URL, "detector.url")
		missing(c.Detector.Model, "detector.model")
	case BackendLlamaCpp:
		missing(c.Detector.URL, "detector.url")
	default:
		problems = append(problems, "detector.backend "+strconv.Quote(c.Detector.Backend)+" is not one of customvision, ollama, llamacpp")
	}

	switch c.Classifier.Backend {
	case BackendComputerVision:
		missing(c.Classifier.Key, "classifier.key")
		missing(c.Classifier.Endpoint, "classifier.endpoint")
	case BackendOllama:
		missing(c.Classifier.URL, "classifier.url")
		missing(c.Classifier.Model, "classifier.model")
	case BackendLlamaCpp:
		missing(c.Classifier.URL, "classifier.url")
	case BackendLocal:
	default:
		problems = append(problems, "classifier.backend "+strconv.Quote(c.Classifier.Backend)+" is not one of computervision, ollama, llamacpp, local")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.HTTPTimeoutSeconds < 1 {
		problems = append(problems, "http_timeout_seconds must be positive")
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "blob-vision", "config.yaml")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}
