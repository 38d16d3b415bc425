// Package augment applies random geometric transforms to image and mask pairs.
// The same transform is applied to both members of a pair so labels stay aligned
// with the pixels they describe.
package augment

import (
	"image"
	"math"
	"math/rand"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Params bounds the random transforms. Angles are in degrees, shifts are
// fractions of the image size and ZoomRange is the [min, max] scale.
type Params struct {
	RotationRange  float64
	WidthShift     float64
	HeightShift    float64
	ShearRange     float64
	ZoomRange      [2]float64
	HorizontalFlip bool
}

// Transform is one sampled augmentation
type Transform struct {
	Rotation float64 // radians
	Shear    float64 // radians
	ShiftX   float64 // fraction of width
	ShiftY   float64 // fraction of height
	ZoomX    float64
	ZoomY    float64
	Flip     bool
}

// Identity leaves images unchanged
var Identity = Transform{ZoomX: 1, ZoomY: 1}

// Sample draws a transform from rng within the bounds of p
func (p Params) Sample(rng *rand.Rand) Transform {
	t := Identity
	if p.RotationRange > 0 {
		t.Rotation = uniform(rng, -p.RotationRange, p.RotationRange) * math.Pi / 180
	}
	if p.ShearRange > 0 {
		t.Shear = uniform(rng, -p.ShearRange, p.ShearRange) * math.Pi / 180
	}
	if p.WidthShift > 0 {
		t.ShiftX = uniform(rng, -p.WidthShift, p.WidthShift)
	}
	if p.HeightShift > 0 {
		t.ShiftY = uniform(rng, -p.HeightShift, p.HeightShift)
	}
	if lo, hi := p.ZoomRange[0], p.ZoomRange[1]; lo > 0 && hi > 0 && (lo != 1 || hi != 1) {
		t.ZoomX = uniform(rng, lo, hi)
		t.ZoomY = uniform(rng, lo, hi)
	}
	if p.HorizontalFlip {
		t.Flip = rng.Intn(2) == 1
	}
	return t
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// Matrix returns the source-to-destination affine map for a w x h image.
// Flip, zoom, shear and rotation act about the image centre, then the shift is added.
func (t Transform) Matrix(w, h int) f64.Aff3 {
	cx, cy := float64(w)/2, float64(h)/2

	m := f64.Aff3{1, 0, -cx, 0, 1, -cy}
	if t.Flip {
		m = mul(f64.Aff3{-1, 0, 0, 0, 1, 0}, m)
	}
	m = mul(f64.Aff3{t.ZoomX, 0, 0, 0, t.ZoomY, 0}, m)
	m = mul(f64.Aff3{1, -math.Sin(t.Shear), 0, 0, math.Cos(t.Shear), 0}, m)
	sin, cos := math.Sincos(t.Rotation)
	m = mul(f64.Aff3{cos, -sin, 0, sin, cos, 0}, m)
	return mul(f64.Aff3{1, 0, cx + t.ShiftX*float64(w), 0, 1, cy + t.ShiftY*float64(h)}, m)
}

// mul composes affine maps: the result applies b first, then a
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3], a[0]*b[1] + a[1]*b[4], a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3], a[3]*b[1] + a[4]*b[4], a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// Image warps img with bilinear sampling. Areas the source does not cover are black.
func (t Transform) Image(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.BiLinear.Transform(dst, t.Matrix(b.Dx(), b.Dy()), img, b, draw.Src, nil)
	return dst
}

// Mask warps mask with nearest-neighbour sampling so label values are never blended
func (t Transform) Mask(mask *image.Gray) *image.Gray {
	b := mask.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.NearestNeighbor.Transform(dst, t.Matrix(b.Dx(), b.Dy()), mask, b, draw.Src, nil)
	return dst
}

// Pair applies t to an image and its mask
func (t Transform) Pair(img image.Image, mask *image.Gray) (*image.RGBA, *image.Gray) {
	return t.Image(img), t.Mask(mask)
}

// EpochSource returns the random source for an epoch. Every epoch draws a new
// sequence of transforms while a run stays reproducible for a seed.
func EpochSource(seed int64, epoch int) *rand.Rand {
	return rand.New(rand.NewSource(seed + int64(epoch)))
}
