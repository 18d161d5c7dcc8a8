package tiling

import (
	"image"

	"github.com/corona10/goimagehash"
	"github.com/pkg/errors"
)

const hashDim = 16

// dedupe remembers the perceptual hashes of tiles already written for one
// source image. It is not safe for concurrent use.
type dedupe struct {
	minDist int
	hashes  []*goimagehash.ExtImageHash
}

func newDedupe(minDist int) *dedupe {
	if minDist <= 0 {
		return nil
	}
	return &dedupe{minDist: minDist}
}

// seen reports whether img is closer than minDist to a tile already kept,
// and keeps it otherwise. A nil dedupe keeps everything.
func (d *dedupe) seen(img image.Image) (bool, error) {
	if d == nil {
		return false, nil
	}
	hash, err := goimagehash.ExtPerceptionHash(img, hashDim, hashDim)
	if err != nil {
		return false, errors.Wrap(err, "goimagehash.ExtPerceptionHash")
	}
	for _, h := range d.hashes {
		dist, err := hash.Distance(h)
		if err != nil {
			return false, errors.Wrap(err, "hash.Distance")
		}
		if dist < d.minDist {
			return true, nil
		}
	}
	d.hashes = append(d.hashes, hash)
	return false, nil
}
