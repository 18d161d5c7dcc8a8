// Package blobvision slices images into fixed-size tiles and runs object
// detection with per-object color classification on stored images.
//
// Basic usage:
//
//	package main
//
//	import (
//		"fmt"
//		"log"
//
//		blobvision "github.com/menta2k/blob-vision"
//	)
//
//	func main() {
//		bv := blobvision.New()
//
//		img, err := bv.LoadImage("photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		// 256×256 tiles overlapping by half
//		tiles, err := bv.SliceImage(img, 256, 128)
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, t := range tiles {
//			if err := bv.SaveImage(t.Raster.Image(), fmt.Sprintf("photo_%d.jpg", t.Index)); err != nil {
//				log.Fatal(err)
//			}
//		}
//	}
//
// The package consists of these main components:
//
// 1. Tiling (pkg/tiling): sliding-window slicing and directory batches
// 2. Detection (pkg/detection): confidence filter and box projection
// 3. Pipeline (pkg/pipeline): sign, fetch, detect, crop and classify one blob
//
// Remote backends live in pkg/customvision, pkg/computervision, pkg/ollama and
// pkg/llamacpp. cmd/tile and cmd/detect-objects are the command line entry points.
package blobvision

import (
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/menta2k/blob-vision/pkg/detection"
	"github.com/menta2k/blob-vision/pkg/pipeline"
	"github.com/menta2k/blob-vision/pkg/processing"
	"github.com/menta2k/blob-vision/pkg/raster"
	"github.com/menta2k/blob-vision/pkg/tiling"
	"github.com/menta2k/blob-vision/pkg/types"
)

// Version of the blob-vision library
const Version = "1.0.0"

// BlobVision bundles the local image operations behind one value
type BlobVision struct {
	proc *processing.Processor

	// Channels is the number of channels tiles are cut with (1, 3 or 4)
	Channels int

	// Quality is used when saving JPEG or WebP files
	Quality int
}

// New creates a BlobVision with RGB tiles and JPEG quality 95
func New() *BlobVision {
	return &BlobVision{
		proc:     processing.NewProcessor(),
		Channels: 3,
		Quality:  95,
	}
}

// Crop is one accepted detection cut out of an image
type Crop struct {
	Detection types.Detection
	Box       types.PixelBox
	Image     image.Image
}

// LoadImage loads an image from file
func (bv *BlobVision) LoadImage(path string) (image.Image, error) {
	return bv.proc.LoadImage(path)
}

// LoadImageFromReader loads an image from an io.Reader
func (bv *BlobVision) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}
	img, _, err := bv.proc.Decode(data)
	return img, err
}

// SaveImage saves an image to file. The format follows the file extension.
func (bv *BlobVision) SaveImage(img image.Image, path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	return bv.proc.SaveImage(img, path, format, bv.Quality, false)
}

// SliceImage cuts img into n×n tiles stepping by stride
func (bv *BlobVision) SliceImage(img image.Image, n, stride int) ([]tiling.Tile, error) {
	r, err := raster.FromImage(img, bv.Channels)
	if err != nil {
		return nil, err
	}
	return tiling.Slice(r, n, stride)
}

// TileFile slices one image file and writes its tiles into outputDir as
// <name>_<index>.jpg. It returns the number of tiles written.
func (bv *BlobVision) TileFile(inputPath, outputDir string, n, stride int) (int, error) {
	batch, err := tiling.NewBatch(tiling.Options{
		InputDir:  filepath.Dir(inputPath),
		OutputDir: outputDir,
		N:         n,
		Stride:    stride,
		Channels:  bv.Channels,
		Quality:   bv.Quality,
	}, nil)
	if err != nil {
		return 0, err
	}
	if err := batch.PrepareOutput(); err != nil {
		return 0, err
	}
	res, err := batch.ProcessFile(inputPath)
	if err != nil {
		return 0, err
	}
	return res.Tiles, nil
}

// CropDetections keeps the detections at or above detection.Threshold and
// cuts each one out of img at the size sent to color classifiers. Detections
// whose box is empty are left out.
func (bv *BlobVision) CropDetections(img image.Image, dets []types.Detection) ([]Crop, error) {
	b := img.Bounds()
	var crops []Crop
	for _, d := range detection.Filter(dets, detection.Threshold) {
		box := detection.Project(d, b.Dx(), b.Dy())
		if box.Empty() || processing.CropTooLarge(box, b.Dx(), b.Dy()) {
			continue
		}
		cropped, err := bv.proc.CropAndResize(img, box, pipeline.CropSize, pipeline.CropSize)
		if err != nil {
			return nil, err
		}
		crops = append(crops, Crop{Detection: d, Box: box, Image: cropped})
	}
	return crops, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
