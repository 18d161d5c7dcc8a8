package detection

import (
	"math"

	"github.com/menta2k/blob-vision/pkg/types"
)

// Threshold is the minimum probability a detection needs to be kept
const Threshold = 0.75

// Project converts a normalized detection box to pixel coordinates for an
// image of imgWidth×imgHeight. Origins are floored and extents ceiled; the
// result is not clamped, so a box near an edge may extend past the image.
func Project(d types.Detection, imgWidth, imgHeight int) types.PixelBox {
	left := int(math.Floor(d.Box.Left * float64(imgWidth)))
	top := int(math.Floor(d.Box.Top * float64(imgHeight)))
	height := int(math.Ceil(d.Box.Height * float64(imgHeight)))
	width := int(math.Ceil(d.Box.Width * float64(imgWidth)))

	return types.PixelBox{
		TopX:    left,
		TopY:    top,
		BottomX: left + width,
		BottomY: top + height,
	}
}

// Filter returns the detections whose probability is at least threshold,
// keeping their order
func Filter(dets []types.Detection, threshold float64) []types.Detection {
	out := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Probability >= threshold {
			out = append(out, d)
		}
	}
	return out
}
