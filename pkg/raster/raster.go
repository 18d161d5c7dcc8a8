// Package raster holds a plain width×height×channels pixel grid used for
// tiling and cropping.
//
// X runs horizontally (image columns, width) and Y vertically (image rows,
// height). Pixels are stored row-major with channels interleaved:
//
//	Pix[(y*Width+x)*Channels + c]
package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// ErrChannels is returned for channel counts other than 1, 3 or 4.
var ErrChannels = errors.New("raster: channels must be 1, 3 or 4")

// Raster is an 8-bit pixel grid
type Raster struct {
	Width    int
	Height   int
	Channels int
	Pix      []uint8
}

// New allocates a zero-filled raster
func New(width, height, channels int) (*Raster, error) {
	if !validChannels(channels) {
		return nil, errors.WithStack(ErrChannels)
	}
	if width < 0 || height < 0 {
		return nil, errors.Errorf("raster: negative size %dx%d", width, height)
	}
	return &Raster{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      make([]uint8, width*height*channels),
	}, nil
}

func validChannels(c int) bool {
	return c == 1 || c == 3 || c == 4
}

// FromImage converts img into a raster with the requested channel count.
// One channel uses luma, three drop alpha, four keep non-premultiplied alpha.
func FromImage(img image.Image, channels int) (*Raster, error) {
	b := img.Bounds()
	r, err := New(b.Dx(), b.Dy(), channels)
	if err != nil {
		return nil, err
	}

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.At(x, y)
			switch channels {
			case 1:
				g := color.GrayModel.Convert(c).(color.Gray)
				r.Pix[i] = g.Y
			case 3:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				r.Pix[i], r.Pix[i+1], r.Pix[i+2] = n.R, n.G, n.B
			case 4:
				n := color.NRGBAModel.Convert(c).(color.NRGBA)
				r.Pix[i], r.Pix[i+1], r.Pix[i+2], r.Pix[i+3] = n.R, n.G, n.B, n.A
			}
			i += channels
		}
	}
	return r, nil
}

// At returns the channel values at (x, y). Out of bounds yields nil.
func (r *Raster) At(x, y int) []uint8 {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return nil
	}
	i := r.offset(x, y)
	return r.Pix[i : i+r.Channels]
}

func (r *Raster) offset(x, y int) int {
	return (y*r.Width + x) * r.Channels
}

// Extract copies the w×h window whose top-left corner is (x, y) into a new
// raster. Cells of the window that fall outside r are left zero, so a window
// overrunning the right or bottom edge keeps its real pixels in the top-left.
func (r *Raster) Extract(x, y, w, h int) *Raster {
	out := &Raster{
		Width:    w,
		Height:   h,
		Channels: r.Channels,
		Pix:      make([]uint8, w*h*r.Channels),
	}

	src := image.Rect(x, y, x+w, y+h).Intersect(image.Rect(0, 0, r.Width, r.Height))
	if src.Empty() {
		return out
	}

	rowLen := src.Dx() * r.Channels
	for sy := src.Min.Y; sy < src.Max.Y; sy++ {
		from := r.offset(src.Min.X, sy)
		to := ((sy-y)*w + (src.Min.X - x)) * r.Channels
		copy(out.Pix[to:to+rowLen], r.Pix[from:from+rowLen])
	}
	return out
}

// Image returns an image.Image view backed by a copy of the pixels.
// Gray for one channel, opaque RGBA for three, NRGBA for four.
func (r *Raster) Image() image.Image {
	rect := image.Rect(0, 0, r.Width, r.Height)
	switch r.Channels {
	case 1:
		img := image.NewGray(rect)
		copy(img.Pix, r.Pix)
		return img
	case 3:
		img := image.NewRGBA(rect)
		j := 0
		for i := 0; i < len(r.Pix); i += 3 {
			img.Pix[j] = r.Pix[i]
			img.Pix[j+1] = r.Pix[i+1]
			img.Pix[j+2] = r.Pix[i+2]
			img.Pix[j+3] = 0xff
			j += 4
		}
		return img
	default:
		img := image.NewNRGBA(rect)
		copy(img.Pix, r.Pix)
		return img
	}
}

// Dims formats the raster shape as WxHxC
func (r *Raster) Dims() string {
	return fmt.Sprintf("%dx%dx%d", r.Width, r.Height, r.Channels)
}
