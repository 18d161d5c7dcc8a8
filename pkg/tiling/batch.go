package tiling

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/blob-vision/internal/utils"
	"github.com/menta2k/blob-vision/pkg/processing"
	"github.com/menta2k/blob-vision/pkg/raster"
)

// InputExt is the extension of source images picked up by a batch
const InputExt = "jpg"

// Options configures a batch run over a directory
type Options struct {
	InputDir  string
	OutputDir string
	N         int
	Stride    int // defaults to N
	Channels  int // defaults to 3
	Format    string
	Quality   int
	Workers   int

	// MinDistance, when positive, skips writing a tile whose perceptual hash
	// is closer than this to a tile already written for the same image.
	// Indexes of the remaining tiles do not change.
	MinDistance int
}

// Summary reports what a batch run did. Tiles counts files written; Slices
// also counts near-duplicates that were skipped.
type Summary struct {
	Images  int
	Slices  int
	Tiles   int
	Skipped int
	Failed  int
}

// Batch slices every source image in a directory and writes the tiles
type Batch struct {
	opts Options
	proc *processing.Processor
	log  logrus.FieldLogger
}

// NewBatch validates opts, fills in defaults and returns a ready batch
func NewBatch(opts Options, log logrus.FieldLogger) (*Batch, error) {
	if opts.Stride == 0 {
		opts.Stride = opts.N
	}
	if opts.Channels == 0 {
		opts.Channels = 3
	}
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	opts.Format = strings.ToLower(opts.Format)
	if opts.Quality == 0 {
		opts.Quality = 95
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	if err := Validate(opts.N, opts.Stride); err != nil {
		return nil, err
	}
	if _, err := raster.New(0, 0, opts.Channels); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	if !processing.IsSupportedFormat(opts.Format) {
		return nil, errors.Wrapf(ErrInvalidConfig, "unsupported output format %q", opts.Format)
	}
	if opts.Quality < 1 || opts.Quality > 100 {
		return nil, errors.Wrapf(ErrInvalidConfig, "quality %d out of range 1-100", opts.Quality)
	}
	if !utils.DirExists(opts.InputDir) {
		return nil, errors.Errorf("input directory %s does not exist", opts.InputDir)
	}

	return &Batch{
		opts: opts,
		proc: processing.NewProcessor(),
		log:  log,
	}, nil
}

// Options returns the effective options after defaults
func (b *Batch) Options() Options {
	return b.opts
}

// Run tiles every image. A file that cannot be read, decoded or written is
// logged and counted in Summary.Failed; the remaining files are still
// processed. The returned error is non-nil only when the batch could not run
// at all or ctx was cancelled.
func (b *Batch) Run(ctx context.Context) (Summary, error) {
	files, err := utils.ListFiles(b.opts.InputDir, InputExt)
	if err != nil {
		return Summary{}, errors.Wrap(err, "list input images")
	}
	if err := b.PrepareOutput(); err != nil {
		return Summary{}, err
	}

	results := make([]FileResult, len(files))
	failed := make([]bool, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := b.ProcessFile(path)
			if err != nil {
				b.log.WithError(err).WithField("file", path).Error("failed to tile image")
				failed[i] = true
				return nil
			}
			results[i] = res
			b.log.Infof("Processed image %d: %s", i+1, filepath.Base(path))
			b.log.Infof("Dim: %s, Slices: %d", res.Dims, res.Slices)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	sum := Summary{Images: len(files)}
	for i := range files {
		sum.Slices += results[i].Slices
		sum.Tiles += results[i].Tiles
		sum.Skipped += results[i].Skipped
		if failed[i] {
			sum.Failed++
		}
	}
	return sum, nil
}

// PrepareOutput creates the output directory if it is missing
func (b *Batch) PrepareOutput() error {
	return errors.Wrap(utils.EnsureDir(b.opts.OutputDir), "create output directory")
}

// FileResult describes one tiled source image
type FileResult struct {
	Dims    string
	Slices  int
	Tiles   int
	Skipped int
}

// ProcessFile tiles a single image and writes its tiles
func (b *Batch) ProcessFile(path string) (FileResult, error) {
	img, err := b.proc.LoadImage(path)
	if err != nil {
		return FileResult{}, err
	}
	r, err := raster.FromImage(img, b.opts.Channels)
	if err != nil {
		return FileResult{}, err
	}
	tiles, err := Slice(r, b.opts.N, b.opts.Stride)
	if err != nil {
		return FileResult{}, err
	}

	res := FileResult{Dims: r.Dims(), Slices: len(tiles)}
	seen := newDedupe(b.opts.MinDistance)
	for _, t := range tiles {
		out := utils.TileFilename(path, b.opts.OutputDir, t.Index, b.opts.Format)
		img := t.Raster.Image()
		dup, err := seen.seen(img)
		if err != nil {
			return FileResult{}, errors.Wrapf(err, "hash tile %s", out)
		}
		if dup {
			res.Skipped++
			b.log.WithField("tile", out).Debug("skipped near-duplicate tile")
			continue
		}
		if err := b.proc.SaveImage(img, out, b.opts.Format, b.opts.Quality, false); err != nil {
			return FileResult{}, errors.Wrapf(err, "write tile %s", out)
		}
		res.Tiles++
		b.log.WithField("tile", out).Debug("wrote tile")
	}
	return res, nil
}
