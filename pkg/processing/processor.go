package processing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/blob-vision/pkg/types"
)

// Supported output formats
var Formats = []string{"jpg", "png", "webp"}

// Fetched is an image downloaded from a URL together with its encoded bytes
type Fetched struct {
	Image  image.Image
	Data   []byte
	Format string
}

// Processor handles image loading, cropping and encoding
type Processor struct {
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return NewProcessorWithClient(&http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewProcessorWithClient creates a processor that downloads through client
func NewProcessorWithClient(client *http.Client) *Processor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Processor{client: client}
}

// Fetch downloads and decodes an image from a URL
func (p *Processor) Fetch(ctx context.Context, imageURL string) (*Fetched, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, errors.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", "blob-vision/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download image")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("failed to download image: HTTP %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image data")
	}

	img, format, err := p.Decode(data)
	if err != nil {
		return nil, err
	}
	return &Fetched{Image: img, Data: data, Format: format}, nil
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}
	img, _, err := p.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return img, nil
}

// Decode decodes an image from byte data with WebP support
func (p *Processor) Decode(data []byte) (image.Image, string, error) {
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}

	return nil, "", errors.New("image: unknown or unsupported format")
}

// MaxCropScale bounds a crop box to this many times the image size per axis
const MaxCropScale = 2

// CropTooLarge reports whether box is wider or taller than MaxCropScale
// times an imgWidth×imgHeight image
func CropTooLarge(box types.PixelBox, imgWidth, imgHeight int) bool {
	return box.Width() > MaxCropScale*imgWidth || box.Height() > MaxCropScale*imgHeight
}

// CropRegion cuts box out of img. box is relative to the top-left corner of
// img. Parts of the box outside the image are filled with black, the same way
// edge tiles are padded.
func (p *Processor) CropRegion(img image.Image, box types.PixelBox) (image.Image, error) {
	if box.Empty() {
		return nil, errors.Errorf("empty crop rectangle %v", box.Rect())
	}
	b := img.Bounds()
	if CropTooLarge(box, b.Dx(), b.Dy()) {
		return nil, errors.Errorf("crop rectangle %v too large for %dx%d image", box.Rect(), b.Dx(), b.Dy())
	}

	canvas := imaging.New(box.Width(), box.Height(), color.Black)
	abs := box.Rect().Add(b.Min)
	inside := abs.Intersect(b)
	if inside.Empty() {
		return canvas, nil
	}
	return imaging.Paste(canvas, imaging.Crop(img, inside), inside.Min.Sub(abs.Min)), nil
}

// CropAndResize crops box out of img and scales the result to exactly width×height
func (p *Processor) CropAndResize(img image.Image, box types.PixelBox, width, height int) (image.Image, error) {
	cropped, err := p.CropRegion(img, box)
	if err != nil {
		return nil, err
	}
	return imaging.Resize(cropped, width, height, imaging.CatmullRom), nil
}

// EncodePNG encodes img as PNG
func (p *Processor) EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, errors.Wrap(err, "png encode")
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel downsizes img so its long side is at most maxDim and
// encodes it for sending to a vision model
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) ([]byte, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// IsSupportedFormat reports whether SaveImage can write format
func IsSupportedFormat(format string) bool {
	format = strings.ToLower(format)
	if format == "jpeg" {
		return true
	}
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		if err := webp.Encode(f, img, opts); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	case "png":
		return imaging.Save(img, path, imaging.PNGCompressionLevel(png.DefaultCompression))
	case "jpg", "jpeg":
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	default:
		return errors.Errorf("unsupported output format: %s", format)
	}
}

// CreateDebugOverlay draws every box onto a copy of img
func (p *Processor) CreateDebugOverlay(img image.Image, boxes []types.PixelBox) image.Image {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side

	for _, box := range boxes {
		drawBox(nrgba, box, green, stroke)
	}
	return nrgba
}

func drawBox(img *image.NRGBA, box types.PixelBox, color color.NRGBA, stroke int) {
	x0, y0, x1, y1 := box.TopX, box.TopY, box.BottomX, box.BottomY
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, color)
		drawHLine(img, y1-1-s, x0, x1, color)
		drawVLine(img, x0+s, y0, y1, color)
		drawVLine(img, x1-1-s, y0, y1, color)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 <= 0 || x0 >= img.Bounds().Dx() {
		return
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	if y1 <= 0 || y0 >= img.Bounds().Dy() {
		return
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
