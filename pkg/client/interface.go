package client

import (
	"context"

	"github.com/menta2k/blob-vision/pkg/types"
)

// ObjectDetector finds tagged objects in an image. Detections come back in
// the order the backend reports them.
type ObjectDetector interface {
	Detect(ctx context.Context, src types.ImageSource) ([]types.Detection, error)
}

// ColorClassifier reports the dominant colors of a PNG-encoded image
type ColorClassifier interface {
	Classify(ctx context.Context, pngData []byte) (*types.ColorResult, error)
}
