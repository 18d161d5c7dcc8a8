package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/menta2k/blob-vision/internal/logger"
	"github.com/menta2k/blob-vision/pkg/pipeline"
	"github.com/menta2k/blob-vision/pkg/types"
)

// maxBody caps the invocation payload. Blob triggers may inline the blob in Data.
const maxBody = 64 << 20

// Runner processes one blob
type Runner interface {
	Run(ctx context.Context, ref types.BlobRef) ([]types.Record, error)
}

// InvokeRequest is the payload the Functions host posts for a trigger
type InvokeRequest struct {
	Data     map[string]json.RawMessage `json:"Data"`
	Metadata map[string]json.RawMessage `json:"Metadata"`
}

// InvokeResponse is what the Functions host expects back
type InvokeResponse struct {
	Outputs     map[string]interface{} `json:"Outputs"`
	Logs        []string               `json:"Logs"`
	ReturnValue interface{}            `json:"ReturnValue"`
}

// Handler serves blob trigger invocations over HTTP
type Handler struct {
	runner Runner
	log    logrus.FieldLogger
}

// NewHandler creates a handler that runs detections through runner
func NewHandler(runner Runner, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{runner: runner, log: log}
}

// Routes registers the handler endpoints on a new mux
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/detect-objects", h.DetectObjects)
	return mux
}

// Health reports that the service is up
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// DetectObjects handles a blob trigger invocation
func (h *Handler) DetectObjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var req InvokeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ref := types.BlobRef{
		Name: metaString(req.Metadata, "name"),
		URI:  metaString(req.Metadata, "Uri"),
	}
	if ref.URI == "" {
		http.Error(w, "Metadata.Uri is required", http.StatusBadRequest)
		return
	}

	entry := h.log.WithFields(logrus.Fields{
		"invocation": r.Header.Get("X-Azure-Functions-InvocationId"),
	})
	entry.Infof("Processing blob %s", ref.Name)
	ctx := logger.WithLogEntry(r.Context(), entry)

	records, err := h.runner.Run(ctx, ref)
	if err != nil {
		entry.WithError(err).Error("Detection failed")
		writeJSON(w, http.StatusInternalServerError, InvokeResponse{
			Outputs: map[string]interface{}{},
			Logs:    []string{errors.Cause(err).Error()},
		})
		return
	}

	logs := make([]string, 0, len(records))
	for _, rec := range records {
		logs = append(logs, pipeline.FormatRecord(rec.Index, rec.TagName, rec.Probability, rec.Color))
	}
	writeJSON(w, http.StatusOK, InvokeResponse{
		Outputs:     map[string]interface{}{},
		Logs:        logs,
		ReturnValue: records,
	})
}

// metaString reads a string metadata value. The host sometimes sends values
// JSON-encoded a second time.
func metaString(meta map[string]json.RawMessage, key string) string {
	raw, ok := meta[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(s), &inner); err == nil {
			return inner
		}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
