// Package tiling slices images into fixed-size square tiles with a sliding
// window.
//
// A window of n×n pixels moves across the image by stride pixels. Along an
// axis of size s the number of windows is ceil((s-n)/stride + 1); windows that
// run past the right or bottom edge are zero-padded. Tiles are ordered row by
// row: every X position for the first Y offset, then every X position for the
// next, so tile j sits at (j%numX, j/numX) in the tile grid.
package tiling

import (
	"math"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/raster"
)

// ErrInvalidConfig is returned for non-positive tile sizes or strides.
var ErrInvalidConfig = errors.New("tiling: tile size and stride must be positive")

// Tile is one n×n window cut out of a source image
type Tile struct {
	Index   int
	OffsetX int
	OffsetY int
	Raster  *raster.Raster
}

// Count returns how many windows of size n fit along an axis of length size
func Count(size, n, stride int) int {
	if size <= 0 {
		return 0
	}
	c := int(math.Ceil(float64(size-n)/float64(stride) + 1))
	if c < 1 {
		return 1
	}
	return c
}

// Offsets returns the starting coordinate of every window along an axis
func Offsets(size, n, stride int) []int {
	count := Count(size, n, stride)
	offsets := make([]int, count)
	off := 0
	for i := range offsets {
		if i > 0 {
			off += stride
		}
		offsets[i] = off
	}
	return offsets
}

// Validate checks tile size and stride
func Validate(n, stride int) error {
	if n <= 0 || stride <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "n=%d stride=%d", n, stride)
	}
	return nil
}

// Slice cuts r into n×n tiles stepping by stride
func Slice(r *raster.Raster, n, stride int) ([]Tile, error) {
	if err := Validate(n, stride); err != nil {
		return nil, err
	}

	xs := Offsets(r.Width, n, stride)
	ys := Offsets(r.Height, n, stride)

	tiles := make([]Tile, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			tiles = append(tiles, Tile{
				Index:   len(tiles),
				OffsetX: x,
				OffsetY: y,
				Raster:  r.Extract(x, y, n, n),
			})
		}
	}
	return tiles, nil
}
