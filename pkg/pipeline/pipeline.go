package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/internal/logger"
	"github.com/menta2k/blob-vision/internal/utils"
	"github.com/menta2k/blob-vision/pkg/client"
	"github.com/menta2k/blob-vision/pkg/detection"
	"github.com/menta2k/blob-vision/pkg/processing"
	"github.com/menta2k/blob-vision/pkg/types"
)

// CropSize is the edge length, in pixels, every crop is scaled to before
// color classification
const CropSize = 50

// Signer turns a blob URI into a time-limited readable URL
type Signer interface {
	SignURL(ctx context.Context, blobURI string) (string, error)
}

// Fetcher downloads and decodes an image
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*processing.Fetched, error)
}

// Orchestrator runs detection and color classification for one image at a time
type Orchestrator struct {
	signer     Signer
	fetcher    Fetcher
	detector   client.ObjectDetector
	classifier client.ColorClassifier
	proc       *processing.Processor

	// DebugDir, when set, receives an overlay PNG of the accepted boxes for
	// every processed blob
	DebugDir string
}

// New creates an Orchestrator. A nil fetcher downloads with a default Processor.
func New(signer Signer, fetcher Fetcher, detector client.ObjectDetector, classifier client.ColorClassifier) (*Orchestrator, error) {
	if signer == nil {
		return nil, errors.New("pipeline: signer is required")
	}
	if detector == nil {
		return nil, errors.New("pipeline: detector is required")
	}
	if classifier == nil {
		return nil, errors.New("pipeline: classifier is required")
	}

	proc := processing.NewProcessor()
	if fetcher == nil {
		fetcher = proc
	}
	return &Orchestrator{
		signer:     signer,
		fetcher:    fetcher,
		detector:   detector,
		classifier: classifier,
		proc:       proc,
	}, nil
}

// Run processes the blob at ref. Detections below detection.Threshold are
// dropped; every other one is cropped, classified, logged and returned in
// detector order. The first failing remote call aborts the run.
func (o *Orchestrator) Run(ctx context.Context, ref types.BlobRef) ([]types.Record, error) {
	log := logger.Entry(ctx).WithField("blob", ref.Name)

	signed, err := o.signer.SignURL(ctx, ref.URI)
	if err != nil {
		return nil, errors.Wrap(err, "sign blob URL")
	}

	fetched, err := o.fetcher.Fetch(ctx, signed)
	if err != nil {
		return nil, errors.Wrap(err, "fetch image")
	}
	b := fetched.Image.Bounds()
	log.Debugf("Fetched %dx%d %s image", b.Dx(), b.Dy(), fetched.Format)

	dets, err := o.detector.Detect(ctx, types.ImageSource{
		URL:    signed,
		Data:   fetched.Data,
		Format: fetched.Format,
	})
	if err != nil {
		return nil, errors.Wrap(err, "detect objects")
	}
	log.Debugf("Detector returned %d objects", len(dets))

	records := make([]types.Record, 0, len(dets))
	counter := 0
	for _, d := range detection.Filter(dets, detection.Threshold) {
		counter++

		box := detection.Project(d, b.Dx(), b.Dy())
		if box.Empty() {
			log.Warnf("Skipping %s at index %d: empty box %v", d.TagName, counter, box.Rect())
			continue
		}
		if processing.CropTooLarge(box, b.Dx(), b.Dy()) {
			log.Warnf("Skipping %s at index %d: box %v exceeds %dx%d image", d.TagName, counter, box.Rect(), b.Dx(), b.Dy())
			continue
		}

		resized, err := o.proc.CropAndResize(fetched.Image, box, CropSize, CropSize)
		if err != nil {
			return nil, errors.Wrapf(err, "crop detection %d", counter)
		}
		data, err := o.proc.EncodePNG(resized)
		if err != nil {
			return nil, errors.Wrapf(err, "encode detection %d", counter)
		}

		color, err := o.classifier.Classify(ctx, data)
		if err != nil {
			return nil, errors.Wrapf(err, "classify detection %d", counter)
		}

		log.Info(FormatRecord(counter, d.TagName, d.Probability, color.DominantForeground))
		records = append(records, types.Record{
			Index:       counter,
			TagName:     d.TagName,
			Probability: d.Probability,
			Color:       color.DominantForeground,
			Box:         box,
		})
	}

	if o.DebugDir != "" {
		if err := o.writeOverlay(fetched, ref, records); err != nil {
			log.WithError(err).Warn("Failed to write debug overlay")
		}
	}
	return records, nil
}

// FormatRecord renders one result line as index, tag, probability and color
// separated by tabs
func FormatRecord(index int, tag string, probability float64, color string) string {
	return fmt.Sprintf("%d\t%s\t%v\t%s", index, tag, probability, color)
}

func (o *Orchestrator) writeOverlay(fetched *processing.Fetched, ref types.BlobRef, records []types.Record) error {
	if err := utils.EnsureDir(o.DebugDir); err != nil {
		return err
	}
	boxes := make([]types.PixelBox, 0, len(records))
	for _, r := range records {
		boxes = append(boxes, r.Box)
	}
	name := utils.BaseName(ref.Name)
	if name == "" || name == "." || name == "/" {
		name = "blob"
	}
	overlay := o.proc.CreateDebugOverlay(fetched.Image, boxes)
	return o.proc.SaveImage(overlay, filepath.Join(o.DebugDir, name+"_debug.png"), "png", 0, false)
}
