package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/menta2k/blob-vision/pkg/types"
)

func TestClassify(t *testing.T) {
	var req ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"yellow"}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL+"/", "minicpm", nil)
	res, err := c.Classify(context.Background(), []byte("png"))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if res.DominantForeground != "Yellow" {
		t.Errorf("Expected Yellow, got %s", res.DominantForeground)
	}

	parts, ok := req.Messages[0].Content.([]interface{})
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected two content parts, got %#v", req.Messages[0].Content)
	}
	img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})["url"].(string)
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Errorf("Unexpected image data URL %q", img)
	}
}

func TestDetectArrayContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"{\"objects\":[{\"label\":\"dog\",\"confidence\":0.9,\"box\":{\"left\":0,\"top\":0,\"width\":0.5,\"height\":0.5}}]}"}]}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "m", nil)
	dets, err := c.Detect(context.Background(), types.ImageSource{Data: []byte("x"), Format: "jpeg"})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 1 || dets[0].TagName != "dog" {
		t.Errorf("Unexpected detections %+v", dets)
	}
}

func TestServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "m", nil)
	if _, err := c.Classify(context.Background(), []byte("x")); err == nil {
		t.Error("Expected error for 503")
	}
}
