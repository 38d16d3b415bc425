package tiling

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"siperea/pkg/imageio"
)

// redPredictor returns the red channel of each pixel as its probability, so the
// output at a pixel depends only on that pixel
type redPredictor struct {
	size  int
	calls int
}

func (p *redPredictor) InputSize() int { return p.size }

func (p *redPredictor) Predict(tiles [][]float32) ([][]float32, error) {
	out := make([][]float32, len(tiles))
	for i, tile := range tiles {
		p.calls++
		probs := make([]float32, p.size*p.size)
		for j := range probs {
			probs[j] = tile[3*j]
		}
		out[i] = probs
	}
	return out, nil
}

// positionPredictor returns a value that depends on the position inside the window
type positionPredictor struct {
	size int
}

func (p *positionPredictor) InputSize() int { return p.size }

func (p *positionPredictor) Predict(tiles [][]float32) ([][]float32, error) {
	out := make([][]float32, len(tiles))
	for i := range tiles {
		probs := make([]float32, p.size*p.size)
		for y := 0; y < p.size; y++ {
			for x := 0; x < p.size; x++ {
				probs[y*p.size+x] = float32(x+y) / float32(2*p.size)
			}
		}
		out[i] = probs
	}
	return out, nil
}

type failingPredictor struct{ size int }

func (p *failingPredictor) InputSize() int { return p.size }

func (p *failingPredictor) Predict([][]float32) ([][]float32, error) {
	return nil, errors.New("device lost")
}

// createTestImage builds an RGB image with a deterministic red gradient
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x*7 + y*13) % 256), G: 100, B: 50, A: 255})
		}
	}
	return img
}

// TestTileOrigins verifies stride stepping and the clamped final tile
func TestTileOrigins(t *testing.T) {
	origins, err := TileOrigins(1000, 512, 64)
	if err != nil {
		t.Fatalf("TileOrigins failed: %v", err)
	}
	want := []int{0, 384, 488}
	if len(origins) != len(want) {
		t.Fatalf("Expected %d origins, got %v", len(want), origins)
	}
	for i := range want {
		if origins[i] != want[i] {
			t.Errorf("Origin %d: expected %d, got %d", i, want[i], origins[i])
		}
	}

	// A short axis gets a single tile at the origin
	origins, _ = TileOrigins(300, 512, 64)
	if len(origins) != 1 || origins[0] != 0 {
		t.Errorf("Expected single origin at 0, got %v", origins)
	}

	// Just under half the tile still leaves a stride
	origins, err = TileOrigins(20, 16, 7)
	if err != nil || len(origins) != 3 || origins[1] != 2 || origins[2] != 4 {
		t.Errorf("Expected origins [0 2 4], got %v, %v", origins, err)
	}

	for _, overlap := range []int{256, 300} {
		if _, err := TileOrigins(1000, 512, overlap); !errors.Is(err, ErrNonPositiveStride) {
			t.Errorf("Overlap %d: expected ErrNonPositiveStride, got %v", overlap, err)
		}
	}
}

// TestWeightRamp verifies the (k+1)/(o+1) border profile
func TestWeightRamp(t *testing.T) {
	size, overlap := 16, 4
	mask := NewWeightMask(size, overlap)
	mid := size / 2

	for k := 0; k < overlap; k++ {
		want := float32(k+1) / float32(overlap+1)
		if got := mask.Values[mid*size+k]; math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("Left ramp offset %d: expected %f, got %f", k, want, got)
		}
		if got := mask.Values[mid*size+size-1-k]; math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("Right ramp offset %d: expected %f, got %f", k, want, got)
		}
		if got := mask.Values[k*size+mid]; math.Abs(float64(got-want)) > 1e-6 {
			t.Errorf("Top ramp offset %d: expected %f, got %f", k, want, got)
		}
	}
	if got := mask.Values[mid*size+mid]; got != 1 {
		t.Errorf("Expected interior weight 1, got %f", got)
	}

	// Corners carry the product of both ramps
	corner := float32(1) / float32(overlap+1)
	if got := mask.Values[0]; math.Abs(float64(got-corner*corner)) > 1e-6 {
		t.Errorf("Expected corner weight %f, got %f", corner*corner, got)
	}
}

// TestWeightNoOverlap verifies hard seams when overlap is zero
func TestWeightNoOverlap(t *testing.T) {
	mask := NewWeightMask(8, 0)
	for i, v := range mask.Values {
		if v != 1 {
			t.Fatalf("Expected uniform weight 1, got %f at %d", v, i)
		}
	}
}

// TestSmallImageMatchesSingleTile verifies that images within the window are a cropped
// single prediction without blending
func TestSmallImageMatchesSingleTile(t *testing.T) {
	size := 32
	p := &positionPredictor{size: size}
	s := NewStitcher(size, 8, nil)

	img := createTestImage(20, 27)
	probs, err := s.Stitch(img, p)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}
	if probs.Width != 20 || probs.Height != 27 {
		t.Fatalf("Expected 20x27 map, got %dx%d", probs.Width, probs.Height)
	}
	for y := 0; y < 27; y++ {
		for x := 0; x < 20; x++ {
			want := float32(x+y) / float32(2*size)
			if got := probs.At(x, y); got != want {
				t.Fatalf("Pixel (%d,%d): expected %f, got %f", x, y, want, got)
			}
		}
	}
}

// TestLargeImageFullCoverage verifies that every pixel receives positive weight
func TestLargeImageFullCoverage(t *testing.T) {
	size, overlap := 16, 4
	s := NewStitcher(size, overlap, nil)
	raster := imageio.NewRaster(createTestImage(50, 37))

	acc, err := s.accumulate(raster, &redPredictor{size: size})
	if err != nil {
		t.Fatalf("accumulate failed: %v", err)
	}
	for i, w := range acc.Weight {
		if w <= 0 {
			t.Fatalf("Pixel %d has non-positive weight %f", i, w)
		}
	}
}

// TestLargeImageSeamless verifies that blending reproduces a pixel-local prediction
// exactly, so seams introduce no artifacts
func TestLargeImageSeamless(t *testing.T) {
	size, overlap := 16, 4
	p := &redPredictor{size: size}
	s := NewStitcher(size, overlap, nil)

	img := createTestImage(50, 37)
	probs, err := s.Stitch(img, p)
	if err != nil {
		t.Fatalf("Stitch failed: %v", err)
	}

	grid, _ := NewGrid(50, 37, size, overlap)
	if p.calls != grid.Count() {
		t.Errorf("Expected %d predictor calls, got %d", grid.Count(), p.calls)
	}

	raster := imageio.NewRaster(img)
	for y := 0; y < 37; y++ {
		for x := 0; x < 50; x++ {
			want := raster.Pix[(y*50+x)*3]
			if got := probs.At(x, y); math.Abs(float64(got-want)) > 1e-5 {
				t.Fatalf("Pixel (%d,%d): expected %f, got %f", x, y, want, got)
			}
		}
	}
}

// TestStitchErrors verifies size mismatch, degenerate stride and predictor failures
func TestStitchErrors(t *testing.T) {
	img := createTestImage(40, 40)

	s := NewStitcher(16, 4, nil)
	if _, err := s.Stitch(img, &redPredictor{size: 32}); !errors.Is(err, ErrTileSizeMismatch) {
		t.Errorf("Expected ErrTileSizeMismatch, got %v", err)
	}
	if _, err := s.Stitch(img, &failingPredictor{size: 16}); err == nil {
		t.Error("Expected predictor failure to propagate")
	}

	wide := NewStitcher(16, 8, nil)
	if _, err := wide.Stitch(img, &redPredictor{size: 16}); !errors.Is(err, ErrNonPositiveStride) {
		t.Errorf("Expected ErrNonPositiveStride, got %v", err)
	}
	// The single-window path never needs a stride
	if _, err := wide.Stitch(createTestImage(10, 10), &redPredictor{size: 16}); err != nil {
		t.Errorf("Expected single window to succeed, got %v", err)
	}
}

// TestThreshold verifies the strict 0.5 cut and {0,255} output
func TestThreshold(t *testing.T) {
	probs := &ProbabilityMap{Width: 2, Height: 2, Values: []float32{0.2, 0.5, 0.51, 1}}
	mask := Threshold(probs, 0.5)
	want := []uint8{0, 0, 255, 255}
	for i, v := range want {
		if mask.Pix[i] != v {
			t.Errorf("Pixel %d: expected %d, got %d", i, v, mask.Pix[i])
		}
	}
}

// TestWeightCacheReuse verifies masks are shared between calls
func TestWeightCacheReuse(t *testing.T) {
	var c weightCache
	if c.get(16, 4) != c.get(16, 4) {
		t.Error("Expected cached mask to be reused")
	}
	if c.get(16, 4) == c.get(16, 2) {
		t.Error("Expected distinct masks per overlap")
	}
}
