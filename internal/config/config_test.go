package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func functionAppEnv() map[string]string {
	key := base64.StdEncoding.EncodeToString([]byte("secret"))
	return map[string]string{
		"AzureWebJobsStorage":                 "AccountName=acct;AccountKey=" + key,
		"custom_vision_prediction_key":        "pk",
		"custom_vision_endpoint":              "https://cv.example.com/",
		"project_id":                          "proj",
		"publish_iteration_name":              "Iteration1",
		"cognitive_services_subscription_key": "sk",
		"cognitive_services_endpoint":         "https://cs.example.com/",
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Detector.Backend != BackendCustomVision {
		t.Errorf("Expected default detector %s, got %s", BackendCustomVision, cfg.Detector.Backend)
	}
	if cfg.Classifier.Backend != BackendComputerVision {
		t.Errorf("Expected default classifier %s, got %s", BackendComputerVision, cfg.Classifier.Backend)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", cfg.Server.Port)
	}
}

func TestValidateListsEveryMissingField(t *testing.T) {
	err := Default().Validate()
	if err == nil {
		t.Fatal("Expected validation error for empty config")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
	for _, field := range []string{
		"storage.connection", "detector.key", "detector.endpoint", "detector.project_id",
		"detector.iteration_name", "classifier.key", "classifier.endpoint",
	} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Expected %s in error, got %v", field, err)
		}
	}
}

func TestApplyEnvFunctionApp(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(functionAppEnv()))

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	if cfg.Detector.ProjectID != "proj" || cfg.Detector.IterationName != "Iteration1" {
		t.Errorf("Unexpected detector config %+v", cfg.Detector)
	}
	if cfg.Classifier.Key != "sk" {
		t.Errorf("Unexpected classifier key %s", cfg.Classifier.Key)
	}
}

func TestApplyEnvLocalBackends(t *testing.T) {
	env := functionAppEnv()
	env["DETECTOR_BACKEND"] = "Ollama"
	env["CLASSIFIER_BACKEND"] = "llamacpp"
	env["OLLAMA_URL"] = "http://localhost:11434"
	env["OLLAMA_MODEL"] = "llava"
	env["LLAMACPP_URL"] = "http://localhost:8081"
	env["FUNCTIONS_CUSTOMHANDLER_PORT"] = "7071"

	cfg := Default()
	cfg.ApplyEnv(envMap(env))

	if cfg.Detector.Backend != BackendOllama || cfg.Detector.URL != "http://localhost:11434" || cfg.Detector.Model != "llava" {
		t.Errorf("Unexpected detector config %+v", cfg.Detector)
	}
	if cfg.Classifier.URL != "http://localhost:8081" {
		t.Errorf("Unexpected classifier url %s", cfg.Classifier.URL)
	}
	if cfg.Detector.Key != "" {
		t.Errorf("Cloud key should not be applied to a local backend")
	}
	if cfg.Server.Port != 7071 {
		t.Errorf("Expected port 7071, got %d", cfg.Server.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestValidateUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(functionAppEnv()))
	cfg.Detector.Backend = "yolo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "detector.backend") {
		t.Errorf("Expected backend error, got %v", err)
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			cfg.Detector.ProjectID = "proj"
			cfg.Server.Port = 9000

			if err := cfg.SaveToFile(path); err != nil {
				t.Fatalf("SaveToFile failed: %v", err)
			}
			loaded, err := LoadFromFile(path)
			if err != nil {
				t.Fatalf("LoadFromFile failed: %v", err)
			}
			if loaded.Detector.ProjectID != "proj" || loaded.Server.Port != 9000 {
				t.Errorf("Round trip lost values: %+v", loaded)
			}
		})
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yml")
	if err := os.WriteFile(path, []byte("detector:\n  project_id: p1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Detector.ProjectID != "p1" {
		t.Errorf("Expected project p1, got %s", cfg.Detector.ProjectID)
	}
	if cfg.Server.Port != 8080 || cfg.Classifier.Backend != BackendComputerVision {
		t.Errorf("Defaults were lost: %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("publish_iteration_name=FromDotEnv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("publish_iteration_name", "")
	os.Unsetenv("publish_iteration_name")

	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Detector.IterationName != "FromDotEnv" {
		t.Errorf("Expected iteration from .env, got %q", cfg.Detector.IterationName)
	}

	if _, err := Load("", filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("A missing env file should be ignored, got %v", err)
	}
}

func TestBuildClients(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(envMap(functionAppEnv()))

	if _, err := cfg.NewSigner(); err != nil {
		t.Errorf("NewSigner failed: %v", err)
	}
	if _, err := cfg.NewDetector(cfg.HTTPClient()); err != nil {
		t.Errorf("NewDetector failed: %v", err)
	}
	if _, err := cfg.NewClassifier(cfg.HTTPClient()); err != nil {
		t.Errorf("NewClassifier failed: %v", err)
	}

	cfg.Classifier.Backend = BackendLocal
	if err := cfg.Validate(); err != nil {
		t.Errorf("Local classifier needs no settings, got %v", err)
	}
	if _, err := cfg.NewClassifier(nil); err != nil {
		t.Errorf("NewClassifier(local) failed: %v", err)
	}

	cfg.Classifier.Backend = "nope"
	if _, err := cfg.NewClassifier(nil); err == nil {
		t.Error("Expected error for unknown backend")
	}
}
