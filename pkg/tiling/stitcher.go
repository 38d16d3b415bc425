// Package tiling runs a fixed-window predictor over images of arbitrary size and
// blends the overlapping tile outputs into one seamless probability map.
package tiling

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/sirupsen/logrus"

	"siperea/pkg/imageio"
	"siperea/pkg/predictor"
)

// weightFloor guards the final division against pixels no tile reached
const weightFloor = 1e-10

var (
	// ErrTileSizeMismatch is returned when the predictor window differs from the tile size
	ErrTileSizeMismatch = errors.New("predictor input size does not match tile size")

	// ErrNonPositiveStride is returned when overlap leaves no stride between tiles
	ErrNonPositiveStride = errors.New("tile stride is not positive")
)

// ProbabilityMap is a full-resolution foreground probability field, row-major
type ProbabilityMap struct {
	Width  int
	Height int
	Values []float32
}

// At returns the probability at (x, y)
func (p *ProbabilityMap) At(x, y int) float32 {
	return p.Values[y*p.Width+x]
}

// Range returns the minimum and maximum probability
func (p *ProbabilityMap) Range() (lo, hi float32) {
	if len(p.Values) == 0 {
		return 0, 0
	}
	lo, hi = p.Values[0], p.Values[0]
	for _, v := range p.Values[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	return lo, hi
}

// Accumulator collects weighted tile predictions at full resolution
type Accumulator struct {
	Width  int
	Height int
	Sum    []float32
	Weight []float32
}

// NewAccumulator allocates zeroed sum and weight fields
func NewAccumulator(width, height int) *Accumulator {
	return &Accumulator{
		Width:  width,
		Height: height,
		Sum:    make([]float32, width*height),
		Weight: make([]float32, width*height),
	}
}

// Add merges a size x size tile prediction with origin (x0, y0). Parts of the tile
// that fall outside the image are dropped.
func (a *Accumulator) Add(probs []float32, mask *WeightMask, x0, y0 int) {
	size := mask.Size
	w := min(size, a.Width-x0)
	h := min(size, a.Height-y0)
	for y := 0; y < h; y++ {
		dst := (y0+y)*a.Width + x0
		src := y * size
		for x := 0; x < w; x++ {
			wt := mask.Values[src+x]
			a.Sum[dst+x] += probs[src+x] * wt
			a.Weight[dst+x] += wt
		}
	}
}

// Resolve divides the weighted sum by the accumulated weight
func (a *Accumulator) Resolve() *ProbabilityMap {
	values := make([]float32, len(a.Sum))
	for i, s := range a.Sum {
		values[i] = s / max(a.Weight[i], weightFloor)
	}
	return &ProbabilityMap{Width: a.Width, Height: a.Height, Values: values}
}

// Grid is the tile layout along both axes
type Grid struct {
	XOrigins []int
	YOrigins []int
}

// Count returns the number of tiles
func (g Grid) Count() int {
	return len(g.XOrigins) * len(g.YOrigins)
}

// TileOrigins lays tiles along an axis of length dim. The last origin is clamped so the
// final tile ends on the boundary, which makes the far-edge overlap wider than the
// regular stride.
//
// The stride is tileSize-2*overlap, so an overlap of half the tile or more is
// rejected with ErrNonPositiveStride rather than clamped to a one pixel stride.
// Images that fit a single window never reach this and accept any overlap.
func TileOrigins(dim, tileSize, overlap int) ([]int, error) {
	effective := tileSize - 2*overlap
	if effective <= 0 {
		return nil, fmt.Errorf("%w: tile %d overlap %d", ErrNonPositiveStride, tileSize, overlap)
	}
	n := max(1, int(math.Ceil(float64(dim-tileSize)/float64(effective)))+1)
	origins := make([]int, n)
	last := max(0, dim-tileSize)
	for i := range origins {
		origins[i] = min(i*effective, last)
	}
	return origins, nil
}

// NewGrid lays out tiles over a width x height image
func NewGrid(width, height, tileSize, overlap int) (Grid, error) {
	xs, err := TileOrigins(width, tileSize, overlap)
	if err != nil {
		return Grid{}, err
	}
	ys, err := TileOrigins(height, tileSize, overlap)
	if err != nil {
		return Grid{}, err
	}
	return Grid{XOrigins: xs, YOrigins: ys}, nil
}

// Stitcher produces probability maps with a fixed-window predictor
type Stitcher struct {
	TileSize int
	Overlap  int

	logger  *logrus.Entry
	weights weightCache
}

// NewStitcher creates a stitcher for the given window and seam band
func NewStitcher(tileSize, overlap int, logger *logrus.Entry) *Stitcher {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Stitcher{
		TileSize: tileSize,
		Overlap:  overlap,
		logger:   logger.WithField("component", "stitcher"),
	}
}

// Stitch predicts the foreground probability of every pixel of img
func (s *Stitcher) Stitch(img image.Image, p predictor.Predictor) (*ProbabilityMap, error) {
	if p.InputSize() != s.TileSize {
		return nil, fmt.Errorf("%w: predictor %d, tile %d", ErrTileSizeMismatch, p.InputSize(), s.TileSize)
	}
	raster := imageio.NewRaster(img)

	if raster.Width <= s.TileSize && raster.Height <= s.TileSize {
		s.logger.Debugf("Image size (%dx%d) fits the %dx%d window, predicting without tiling",
			raster.Width, raster.Height, s.TileSize, s.TileSize)
		return s.stitchSingle(raster, p)
	}

	acc, err := s.accumulate(raster, p)
	if err != nil {
		return nil, err
	}
	return acc.Resolve(), nil
}

// stitchSingle pads the image to one window, predicts once and crops back
func (s *Stitcher) stitchSingle(raster *imageio.Raster, p predictor.Predictor) (*ProbabilityMap, error) {
	probs, err := predictOne(p, raster.Tile(0, 0, s.TileSize))
	if err != nil {
		return nil, err
	}
	values := make([]float32, raster.Width*raster.Height)
	for y := 0; y < raster.Height; y++ {
		copy(values[y*raster.Width:(y+1)*raster.Width], probs[y*s.TileSize:y*s.TileSize+raster.Width])
	}
	return &ProbabilityMap{Width: raster.Width, Height: raster.Height, Values: values}, nil
}

// accumulate runs the predictor over the tile grid and merges the weighted outputs
func (s *Stitcher) accumulate(raster *imageio.Raster, p predictor.Predictor) (*Accumulator, error) {
	grid, err := NewGrid(raster.Width, raster.Height, s.TileSize, s.Overlap)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Tile count: %dx%d = %d", len(grid.XOrigins), len(grid.YOrigins), grid.Count())

	mask := s.weights.get(s.TileSize, s.Overlap)
	acc := NewAccumulator(raster.Width, raster.Height)
	for _, y0 := range grid.YOrigins {
		for _, x0 := range grid.XOrigins {
			probs, err := predictOne(p, raster.Tile(x0, y0, s.TileSize))
			if err != nil {
				return nil, fmt.Errorf("tile (%d,%d): %w", x0, y0, err)
			}
			acc.Add(probs, mask, x0, y0)
		}
	}
	return acc, nil
}

func predictOne(p predictor.Predictor, tile []float32) ([]float32, error) {
	out, err := p.Predict([][]float32{tile})
	if err != nil {
		return nil, err
	}
	size := p.InputSize()
	if len(out) != 1 || len(out[0]) != size*size {
		return nil, fmt.Errorf("predictor returned %d maps, want 1 of %d values", len(out), size*size)
	}
	return out[0], nil
}

// Threshold converts probabilities to a {0,255} mask; values strictly above
// threshold are foreground
func Threshold(p *ProbabilityMap, threshold float32) *image.Gray {
	mask := image.NewGray(image.Rect(0, 0, p.Width, p.Height))
	for i, v := range p.Values {
		if v > threshold {
			mask.Pix[i] = 255
		}
	}
	return mask
}
