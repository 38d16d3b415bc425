package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// pixelModelKind tags serialized pixel models
const pixelModelKind = "pixel-logistic"

// numFeatures is the per-pixel feature vector length:
// R, G, B, excess green, 3x3 mean excess green, bias
const numFeatures = 6

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-7

	// probability clipping used by the cross-entropy
	lossEpsilon = 1e-7
)

// PixelModel is a per-pixel logistic segmentation model over local colour features.
// It is trained with Adam on binary cross-entropy and serializes to JSON.
type PixelModel struct {
	size    int
	weights []float64

	// Adam optimizer state
	m    []float64
	v    []float64
	step int
}

type pixelModelFile struct {
	Kind      string    `json:"kind"`
	InputSize int       `json:"input_size"`
	Weights   []float64 `json:"weights"`
	AdamM     []float64 `json:"adam_m,omitempty"`
	AdamV     []float64 `json:"adam_v,omitempty"`
	AdamStep  int       `json:"adam_step,omitempty"`
}

// NewPixelModel creates a model for size x size tiles with freshly initialized weights
func NewPixelModel(size int, seed int64) *PixelModel {
	p := &PixelModel{size: size}
	p.Reset(seed)
	return p
}

// InputSize returns the tile side length
func (p *PixelModel) InputSize() int { return p.size }

// Reset reinitializes weights with small random values and clears optimizer state
func (p *PixelModel) Reset(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	p.weights = make([]float64, numFeatures)
	for i := range p.weights {
		p.weights[i] = rng.NormFloat64() * 0.01
	}
	p.m = make([]float64, numFeatures)
	p.v = make([]float64, numFeatures)
	p.step = 0
}

// Predict returns the foreground probability of every pixel of every tile
func (p *PixelModel) Predict(tiles [][]float32) ([][]float32, error) {
	out := make([][]float32, len(tiles))
	for i, tile := range tiles {
		x, err := p.features([][]float32{tile})
		if err != nil {
			return nil, err
		}
		probs := p.forward(x)
		res := make([]float32, len(probs))
		for j, v := range probs {
			res[j] = float32(v)
		}
		out[i] = res
	}
	return out, nil
}

// TrainBatch performs one Adam step on the concatenated pixels of the batch
func (p *PixelModel) TrainBatch(tiles, masks [][]float32, learningRate float64) (float64, float64, error) {
	x, y, err := p.design(tiles, masks)
	if err != nil {
		return 0, 0, err
	}
	probs := p.forward(x)
	loss, acc := crossEntropy(probs, y)

	n, _ := x.Dims()
	residual := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		residual.SetVec(i, probs[i]-y[i])
	}
	grad := mat.NewVecDense(numFeatures, nil)
	grad.MulVec(x.T(), residual)
	grad.ScaleVec(1/float64(n), grad)

	p.step++
	c1 := 1 - math.Pow(adamBeta1, float64(p.step))
	c2 := 1 - math.Pow(adamBeta2, float64(p.step))
	for i := 0; i < numFeatures; i++ {
		g := grad.AtVec(i)
		p.m[i] = adamBeta1*p.m[i] + (1-adamBeta1)*g
		p.v[i] = adamBeta2*p.v[i] + (1-adamBeta2)*g*g
		p.weights[i] -= learningRate * (p.m[i] / c1) / (math.Sqrt(p.v[i]/c2) + adamEpsilon)
	}

	return loss, acc, nil
}

// Evaluate returns the mean cross-entropy and pixel accuracy without updating weights
func (p *PixelModel) Evaluate(tiles, masks [][]float32) (float64, float64, error) {
	x, y, err := p.design(tiles, masks)
	if err != nil {
		return 0, 0, err
	}
	loss, acc := crossEntropy(p.forward(x), y)
	return loss, acc, nil
}

// Snapshot serializes weights and optimizer state as a JSON artifact
func (p *PixelModel) Snapshot() ([]byte, error) {
	return json.Marshal(pixelModelFile{
		Kind:      pixelModelKind,
		InputSize: p.size,
		Weights:   p.weights,
		AdamM:     p.m,
		AdamV:     p.v,
		AdamStep:  p.step,
	})
}

// Restore loads a snapshot produced by Snapshot
func (p *PixelModel) Restore(snapshot []byte) error {
	var f pixelModelFile
	if err := json.Unmarshal(snapshot, &f); err != nil {
		return fmt.Errorf("invalid pixel model: %w", err)
	}
	if f.Kind != pixelModelKind {
		return fmt.Errorf("unexpected model kind %q", f.Kind)
	}
	if f.InputSize <= 0 || len(f.Weights) != numFeatures {
		return fmt.Errorf("malformed pixel model: size %d, %d weights", f.InputSize, len(f.Weights))
	}
	p.size = f.InputSize
	p.weights = append([]float64(nil), f.Weights...)
	p.m = make([]float64, numFeatures)
	p.v = make([]float64, numFeatures)
	copy(p.m, f.AdamM)
	copy(p.v, f.AdamV)
	p.step = f.AdamStep
	return nil
}

// forward computes sigmoid(X·w)
func (p *PixelModel) forward(x *mat.Dense) []float64 {
	n, _ := x.Dims()
	logits := mat.NewVecDense(n, nil)
	logits.MulVec(x, mat.NewVecDense(numFeatures, p.weights))
	probs := make([]float64, n)
	for i := range probs {
		probs[i] = 1 / (1 + math.Exp(-logits.AtVec(i)))
	}
	return probs
}

// design builds the feature matrix and label vector for a batch
func (p *PixelModel) design(tiles, masks [][]float32) (*mat.Dense, []float64, error) {
	if len(tiles) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	if len(tiles) != len(masks) {
		return nil, nil, fmt.Errorf("batch has %d tiles but %d masks", len(tiles), len(masks))
	}
	x, err := p.features(tiles)
	if err != nil {
		return nil, nil, err
	}
	px := p.size * p.size
	y := make([]float64, 0, len(masks)*px)
	for i, m := range masks {
		if len(m) != px {
			return nil, nil, fmt.Errorf("mask %d has %d values, want %d", i, len(m), px)
		}
		for _, v := range m {
			y = append(y, float64(v))
		}
	}
	return x, y, nil
}

// features computes the per-pixel feature rows of all tiles
func (p *PixelModel) features(tiles [][]float32) (*mat.Dense, error) {
	size := p.size
	px := size * size
	data := make([]float64, 0, len(tiles)*px*numFeatures)
	exg := make([]float64, px)

	for t, tile := range tiles {
		if len(tile) != px*3 {
			return nil, fmt.Errorf("tile %d has %d values, want %d", t, len(tile), px*3)
		}
		for i := 0; i < px; i++ {
			r, g, b := float64(tile[3*i]), float64(tile[3*i+1]), float64(tile[3*i+2])
			exg[i] = 2*g - r - b
		}
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				i := y*size + x
				data = append(data,
					float64(tile[3*i]),
					float64(tile[3*i+1]),
					float64(tile[3*i+2]),
					exg[i],
					boxMean(exg, size, x, y),
					1,
				)
			}
		}
	}

	return mat.NewDense(len(tiles)*px, numFeatures, data), nil
}

// boxMean averages the 3x3 neighbourhood of (x, y) with edge clamping
func boxMean(plane []float64, size, x, y int) float64 {
	sum := 0.0
	for dy := -1; dy <= 1; dy++ {
		yy := clamp(y+dy, 0, size-1)
		for dx := -1; dx <= 1; dx++ {
			xx := clamp(x+dx, 0, size-1)
			sum += plane[yy*size+xx]
		}
	}
	return sum / 9
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// crossEntropy returns mean binary cross-entropy and thresholded accuracy
func crossEntropy(probs, labels []float64) (float64, float64) {
	if len(probs) == 0 {
		return 0, 0
	}
	loss := 0.0
	correct := 0
	for i, p := range probs {
		p = math.Min(math.Max(p, lossEpsilon), 1-lossEpsilon)
		y := labels[i]
		loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
		if (p > 0.5) == (y > 0.5) {
			correct++
		}
	}
	n := float64(len(probs))
	return loss / n, float64(correct) / n
}
