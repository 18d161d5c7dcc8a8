// Package vision classifies the colors of small image crops locally, without
// calling a remote service.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/detection"
	"github.com/menta2k/blob-vision/pkg/types"
)

// named holds the reference RGB value for every entry of detection.Palette
var named = map[string]color.RGBA{
	"Black":  {0, 0, 0, 255},
	"Blue":   {30, 60, 200, 255},
	"Brown":  {140, 80, 30, 255},
	"Gray":   {128, 128, 128, 255},
	"Green":  {30, 150, 40, 255},
	"Orange": {245, 140, 20, 255},
	"Pink":   {245, 150, 200, 255},
	"Purple": {120, 40, 140, 255},
	"Red":    {210, 30, 30, 255},
	"Teal":   {0, 128, 128, 255},
	"White":  {255, 255, 255, 255},
	"Yellow": {245, 225, 30, 255},
}

// ColorClassifier names the dominant colors of an image using a quantized
// histogram matched against detection.Palette
type ColorClassifier struct {
	config ColorConfig
}

// ColorConfig holds configuration for color classification
type ColorConfig struct {
	// MaxColors caps DominantColors
	MaxColors int

	// GraySaturation is the saturation below which a pixel counts as black,
	// white or gray
	GraySaturation float64
}

// New creates a ColorClassifier with default configuration
func New() *ColorClassifier {
	return &ColorClassifier{
		config: ColorConfig{
			MaxColors:      3,
			GraySaturation: 0.15,
		},
	}
}

// NewWithConfig creates a ColorClassifier with custom configuration
func NewWithConfig(config ColorConfig) *ColorClassifier {
	return &ColorClassifier{config: config}
}

// Classify decodes pngData and analyzes it
func (c *ColorClassifier) Classify(ctx context.Context, pngData []byte) (*types.ColorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, errors.Wrap(err, "vision: decode image")
	}
	return c.Analyze(img)
}

// Analyze names the dominant colors of img. The foreground is taken from the
// central half of the image and the background from the border around it.
func (c *ColorClassifier) Analyze(img image.Image) (*types.ColorResult, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("vision: empty image")
	}
	inner := image.Rect(
		b.Min.X+b.Dx()/4, b.Min.Y+b.Dy()/4,
		b.Max.X-b.Dx()/4, b.Max.Y-b.Dy()/4,
	)
	if inner.Empty() {
		inner = b
	}

	all := map[string]int{}
	fg := map[string]int{}
	bg := map[string]int{}
	gray := true
	var accent color.RGBA
	accentSat := -1.0

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			q := quantize(img.At(x, y))
			name := nearest(q)
			all[name]++
			if (image.Point{X: x, Y: y}).In(inner) {
				fg[name]++
			} else {
				bg[name]++
			}

			if s := saturation(q); s >= c.config.GraySaturation {
				gray = false
				if s > accentSat {
					accentSat, accent = s, q
				}
			}
		}
	}

	res := &types.ColorResult{
		DominantForeground: top(fg, 1)[0],
		DominantColors:     top(all, c.config.MaxColors),
		IsBWImage:          gray,
	}
	if len(bg) > 0 {
		res.DominantBackground = top(bg, 1)[0]
	} else {
		res.DominantBackground = res.DominantForeground
	}
	if accentSat >= 0 {
		res.AccentColor = fmt.Sprintf("%02X%02X%02X", accent.R, accent.G, accent.B)
	}
	return res, nil
}

// quantize drops the low four bits of every channel to reduce noise
func quantize(c color.Color) color.RGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	return color.RGBA{n.R & 0xf0, n.G & 0xf0, n.B & 0xf0, 255}
}

func nearest(c color.RGBA) string {
	best, bestDist := "", math.MaxFloat64
	for _, name := range detection.Palette {
		ref := named[name]
		dr := float64(c.R) - float64(ref.R)
		dg := float64(c.G) - float64(ref.G)
		db := float64(c.B) - float64(ref.B)
		if d := dr*dr + dg*dg + db*db; d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

func saturation(c color.RGBA) float64 {
	hi := math.Max(float64(c.R), math.Max(float64(c.G), float64(c.B)))
	lo := math.Min(float64(c.R), math.Min(float64(c.G), float64(c.B)))
	if hi == 0 {
		return 0
	}
	return (hi - lo) / hi
}

// top returns up to k names ordered by count, ties broken by name
func top(counts map[string]int, k int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if k > 0 && len(names) > k {
		names = names[:k]
	}
	return names
}
