package tiling

import (
	"sync"
)

// WeightMask is the size x size blending field of a tile
type WeightMask struct {
	Size    int
	Overlap int
	Values  []float32
}

// rampFactor is the 1-D border attenuation at distance k from one edge
func rampFactor(k, overlap int) float32 {
	if k < overlap {
		return float32(k+1) / float32(overlap+1)
	}
	return 1
}

// NewWeightMask builds the border-ramp weights for (size, overlap).
//
// Along each axis a row/column at index i is attenuated once for its distance to the
// near edge and once for its distance to the far edge, so the field is the outer product
// of the two 1-D profiles. Inside the band the weight at ramp offset k is (k+1)/(overlap+1);
// with overlap == 0 the mask is uniformly 1. When overlap >= size/2 the two ramps meet and
// the centre is attenuated as well.
func NewWeightMask(size, overlap int) *WeightMask {
	profile := make([]float32, size)
	for i := range profile {
		profile[i] = rampFactor(i, overlap) * rampFactor(size-1-i, overlap)
	}

	values := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			values[y*size+x] = profile[y] * profile[x]
		}
	}
	return &WeightMask{Size: size, Overlap: overlap, Values: values}
}

type maskKey struct {
	size, overlap int
}

// weightCache reuses masks across tiles and images
type weightCache struct {
	mu    sync.Mutex
	masks map[maskKey]*WeightMask
}

func (c *weightCache) get(size, overlap int) *WeightMask {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := maskKey{size, overlap}
	if m, ok := c.masks[key]; ok {
		return m
	}
	if c.masks == nil {
		c.masks = make(map[maskKey]*WeightMask)
	}
	m := NewWeightMask(size, overlap)
	c.masks[key] = m
	return m
}
