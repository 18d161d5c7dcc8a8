package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/menta2k/blob-vision/internal/logger"
	"github.com/menta2k/blob-vision/pkg/processing"
	"github.com/menta2k/blob-vision/pkg/types"
)

type fakeSigner struct {
	calls int
	err   error
}

func (s *fakeSigner) SignURL(ctx context.Context, blobURI string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return blobURI + "?sig=x", nil
}

type fakeFetcher struct {
	img image.Image
	got string
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*processing.Fetched, error) {
	f.got = url
	if f.err != nil {
		return nil, f.err
	}
	return &processing.Fetched{Image: f.img, Data: []byte("encoded"), Format: "jpeg"}, nil
}

type fakeDetector struct {
	dets  []types.Detection
	calls int
	src   types.ImageSource
	err   error
}

func (d *fakeDetector) Detect(ctx context.Context, src types.ImageSource) ([]types.Detection, error) {
	d.calls++
	d.src = src
	return d.dets, d.err
}

type fakeClassifier struct {
	sizes  []image.Point
	colors []string
	failAt int
}

func (c *fakeClassifier) Classify(ctx context.Context, pngData []byte) (*types.ColorResult, error) {
	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, err
	}
	c.sizes = append(c.sizes, img.Bounds().Size())
	if c.failAt > 0 && len(c.sizes) == c.failAt {
		return nil, errors.New("classifier unavailable")
	}
	name := "Red"
	if len(c.colors) >= len(c.sizes) {
		name = c.colors[len(c.sizes)-1]
	}
	return &types.ColorResult{DominantForeground: name}, nil
}

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{200, 20, 20, 255})
		}
	}
	return img
}

func det(tag string, p float64) types.Detection {
	return types.Detection{TagName: tag, Probability: p, Box: types.Box{Left: 0.1, Top: 0.2, Width: 0.3, Height: 0.4}}
}

func newTestOrchestrator(t *testing.T, d *fakeDetector, c *fakeClassifier) (*Orchestrator, *fakeSigner, *fakeFetcher) {
	t.Helper()
	s := &fakeSigner{}
	f := &fakeFetcher{img: testImage(100, 100)}
	o, err := New(s, f, d, c)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o, s, f
}

func testContext() (context.Context, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return logger.WithLogEntry(context.Background(), logrus.NewEntry(log)), hook
}

func TestRunThreshold(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{det("car", 0.74), det("car", 0.75), det("bus", 0.9)}}
	c := &fakeClassifier{colors: []string{"Blue", "White"}}
	o, s, f := newTestOrchestrator(t, d, c)
	ctx, hook := testContext()

	ref := types.BlobRef{Name: "street.jpg", URI: "https://acct.blob.core.windows.net/images/street.jpg"}
	records, err := o.Run(ctx, ref)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if s.calls != 1 || d.calls != 1 {
		t.Errorf("Expected one sign and one detect call, got %d and %d", s.calls, d.calls)
	}
	if f.got != ref.URI+"?sig=x" || d.src.URL != f.got {
		t.Errorf("Signed URL was not passed through: fetch %q detect %q", f.got, d.src.URL)
	}
	if string(d.src.Data) != "encoded" {
		t.Errorf("Detector did not receive fetched bytes")
	}

	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Index != 1 || records[0].Probability != 0.75 || records[0].Color != "Blue" {
		t.Errorf("Unexpected first record %+v", records[0])
	}
	if records[1].Index != 2 || records[1].TagName != "bus" || records[1].Color != "White" {
		t.Errorf("Unexpected second record %+v", records[1])
	}
	want := types.PixelBox{TopX: 10, TopY: 20, BottomX: 40, BottomY: 60}
	if records[0].Box != want {
		t.Errorf("Expected box %+v, got %+v", want, records[0].Box)
	}

	for i, sz := range c.sizes {
		if sz.X != CropSize || sz.Y != CropSize {
			t.Errorf("Crop %d: expected %dx%d, got %v", i, CropSize, CropSize, sz)
		}
	}

	var lines []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.InfoLevel {
			lines = append(lines, e.Message)
		}
	}
	wantLines := []string{"1\tcar\t0.75\tBlue", "2\tbus\t0.9\tWhite"}
	if strings.Join(lines, "\n") != strings.Join(wantLines, "\n") {
		t.Errorf("Expected log lines %q, got %q", wantLines, lines)
	}
	if hook.LastEntry().Data["blob"] != "street.jpg" {
		t.Errorf("Expected blob field on log entries")
	}
}

func TestRunNoAcceptedDetections(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{det("car", 0.1)}}
	c := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(t, d, c)
	ctx, _ := testContext()

	records, err := o.Run(ctx, types.BlobRef{Name: "a.jpg", URI: "https://h/images/a.jpg"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != 0 || len(c.sizes) != 0 {
		t.Errorf("Expected no records and no classifier calls, got %d and %d", len(records), len(c.sizes))
	}
}

func TestRunEdgeBoxIsPadded(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{{TagName: "dog", Probability: 0.8,
		Box: types.Box{Left: 0.9, Top: 0.9, Width: 0.3, Height: 0.3}}}}
	c := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(t, d, c)
	ctx, _ := testContext()

	records, err := o.Run(ctx, types.BlobRef{Name: "a.jpg", URI: "https://h/images/a.jpg"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(records))
	}
	if records[0].Box.BottomX != 120 || records[0].Box.BottomY != 120 {
		t.Errorf("Box should extend past the image, got %+v", records[0].Box)
	}
}

func TestRunSkipsEmptyBox(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{
		{TagName: "speck", Probability: 0.9, Box: types.Box{Left: 0.5, Top: 0.5}},
		det("car", 0.9),
	}}
	c := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(t, d, c)
	ctx, hook := testContext()

	records, err := o.Run(ctx, types.BlobRef{Name: "a.jpg", URI: "https://h/images/a.jpg"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != 1 || records[0].Index != 2 {
		t.Fatalf("Expected the second detection only, got %+v", records)
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Error("Expected a warning for the empty box")
	}
}

func TestRunSkipsOversizedBox(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{
		{TagName: "car", Probability: 0.9, Box: types.Box{Left: 1.2, Top: 0.8, Width: 3e5, Height: 3e5}},
	}}
	c := &fakeClassifier{}
	o, _, _ := newTestOrchestrator(t, d, c)
	ctx, hook := testContext()

	records, err := o.Run(ctx, types.BlobRef{Name: "a.jpg", URI: "https://h/images/a.jpg"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected no records, got %+v", records)
	}
	if len(c.sizes) != 0 {
		t.Errorf("Classifier should not be called, got %d calls", len(c.sizes))
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Error("Expected a warning for the oversized box")
	}
}

func TestRunErrorsAbort(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name  string
		setup func(*fakeSigner, *fakeFetcher, *fakeDetector, *fakeClassifier)
	}{
		{"sign", func(s *fakeSigner, _ *fakeFetcher, _ *fakeDetector, _ *fakeClassifier) { s.err = boom }},
		{"fetch", func(_ *fakeSigner, f *fakeFetcher, _ *fakeDetector, _ *fakeClassifier) { f.err = boom }},
		{"detect", func(_ *fakeSigner, _ *fakeFetcher, d *fakeDetector, _ *fakeClassifier) { d.err = boom }},
		{"classify", func(_ *fakeSigner, _ *fakeFetcher, _ *fakeDetector, c *fakeClassifier) { c.failAt = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDetector{dets: []types.Detection{det("car", 0.9), det("car", 0.9)}}
			c := &fakeClassifier{}
			o, s, f := newTestOrchestrator(t, d, c)
			tt.setup(s, f, d, c)
			ctx, _ := testContext()

			records, err := o.Run(ctx, types.BlobRef{Name: "a.jpg", URI: "https://h/images/a.jpg"})
			if err == nil {
				t.Fatal("Expected error")
			}
			if records != nil {
				t.Errorf("Expected no records on failure, got %+v", records)
			}
			if len(c.sizes) > 1 {
				t.Errorf("Expected processing to stop after the failure, got %d classifier calls", len(c.sizes))
			}
		})
	}
}

func TestRunDebugOverlay(t *testing.T) {
	d := &fakeDetector{dets: []types.Detection{det("car", 0.9)}}
	o, _, _ := newTestOrchestrator(t, d, &fakeClassifier{})
	o.DebugDir = filepath.Join(t.TempDir(), "debug")
	ctx, _ := testContext()

	if _, err := o.Run(ctx, types.BlobRef{Name: "street.jpg", URI: "https://h/images/street.jpg"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(o.DebugDir, "street_debug.png")); err != nil {
		t.Errorf("Expected overlay file: %v", err)
	}
}

func TestNewRequiresClients(t *testing.T) {
	if _, err := New(nil, nil, &fakeDetector{}, &fakeClassifier{}); err == nil {
		t.Error("Expected error without signer")
	}
	if _, err := New(&fakeSigner{}, nil, nil, &fakeClassifier{}); err == nil {
		t.Error("Expected error without detector")
	}
	if _, err := New(&fakeSigner{}, nil, &fakeDetector{}, nil); err == nil {
		t.Error("Expected error without classifier")
	}
}

func TestFormatRecord(t *testing.T) {
	if got := FormatRecord(3, "person", 0.912, "Black"); got != "3\tperson\t0.912\tBlack" {
		t.Errorf("Unexpected record line %q", got)
	}
}
