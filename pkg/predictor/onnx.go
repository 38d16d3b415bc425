package predictor

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxMetadata describes the tensors of an exported segmentation network
type OnnxMetadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`

	// Layout is NHWC (Keras export) or NCHW
	Layout string `json:"layout"`
}

// defaultOnnxMetadata matches a Keras encoder-decoder exported with a single-tile batch
func defaultOnnxMetadata() OnnxMetadata {
	return OnnxMetadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 512, 512, 3},
		OutputShape: []int64{1, 512, 512, 1},
		Layout:      "NHWC",
	}
}

var (
	ortMu   sync.Mutex
	ortRefs int
)

func acquireEnvironment(library string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ortRefs == 0 {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	ortRefs++
	return nil
}

func releaseEnvironment() {
	ortMu.Lock()
	defer ortMu.Unlock()
	ortRefs--
	if ortRefs == 0 {
		ort.DestroyEnvironment()
	}
}

// OnnxPredictor runs an ONNX segmentation network through onnxruntime.
// It is inference only and not safe for concurrent use.
type OnnxPredictor struct {
	session      *ort.AdvancedSession
	metadata     OnnxMetadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	size         int
	batch        int
}

// NewOnnxPredictor opens modelPath. A missing metadata file falls back to the
// single-tile NHWC 512x512 layout.
func NewOnnxPredictor(modelPath, metadataPath, library string) (*OnnxPredictor, error) {
	metadata, err := readOnnxMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	batch, size, err := metadata.window()
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(library); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &OnnxPredictor{
		session:      session,
		metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		size:         size,
		batch:        batch,
	}, nil
}

func readOnnxMetadata(path string) (OnnxMetadata, error) {
	metadata := defaultOnnxMetadata()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return metadata, nil
	}
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return metadata, nil
}

// window extracts the batch and square side from the input shape
func (m OnnxMetadata) window() (batch, size int, err error) {
	if len(m.InputShape) != 4 || len(m.OutputShape) != 4 {
		return 0, 0, fmt.Errorf("expected rank 4 tensors, got input %v output %v", m.InputShape, m.OutputShape)
	}
	var h, w, c int64
	switch strings.ToUpper(m.Layout) {
	case "NHWC", "":
		h, w, c = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	case "NCHW":
		c, h, w = m.InputShape[1], m.InputShape[2], m.InputShape[3]
	default:
		return 0, 0, fmt.Errorf("unsupported layout %q", m.Layout)
	}
	if h != w || c != 3 {
		return 0, 0, fmt.Errorf("expected square RGB input, got %dx%dx%d", h, w, c)
	}
	if m.InputShape[0] < 1 {
		return 0, 0, fmt.Errorf("input batch dimension must be fixed, got %d", m.InputShape[0])
	}
	outPixels := m.OutputShape[1] * m.OutputShape[2] * m.OutputShape[3]
	if m.OutputShape[0] != m.InputShape[0] || outPixels != h*w {
		return 0, 0, fmt.Errorf("output shape %v is not a single-channel map of the input", m.OutputShape)
	}
	return int(m.InputShape[0]), int(h), nil
}

// InputSize returns the network's square input side
func (o *OnnxPredictor) InputSize() int { return o.size }

// Predict feeds tiles through the session in chunks of the fixed batch dimension
func (o *OnnxPredictor) Predict(tiles [][]float32) ([][]float32, error) {
	px := o.size * o.size
	nchw := strings.EqualFold(o.metadata.Layout, "NCHW")
	out := make([][]float32, 0, len(tiles))

	for start := 0; start < len(tiles); start += o.batch {
		input := o.inputTensor.GetData()
		for i := range input {
			input[i] = 0
		}
		end := min(start+o.batch, len(tiles))
		for b, tile := range tiles[start:end] {
			if len(tile) != px*3 {
				return nil, fmt.Errorf("tile %d has %d values, want %d", start+b, len(tile), px*3)
			}
			dst := input[b*px*3 : (b+1)*px*3]
			if nchw {
				HWCToCHW(dst, tile, o.size)
			} else {
				copy(dst, tile)
			}
		}

		if err := o.session.Run(); err != nil {
			return nil, fmt.Errorf("inference failed: %w", err)
		}

		output := o.outputTensor.GetData()
		for b := 0; b < end-start; b++ {
			probs := make([]float32, px)
			copy(probs, output[b*px:(b+1)*px])
			out = append(out, probs)
		}
	}
	return out, nil
}

// Close releases the session, its tensors and the shared environment
func (o *OnnxPredictor) Close() {
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
	}
	if o.session != nil {
		o.session.Destroy()
	}
	releaseEnvironment()
}

// HWCToCHW reorders an interleaved RGB tile into planar channel order
func HWCToCHW(dst, src []float32, size int) {
	px := size * size
	for i := 0; i < px; i++ {
		dst[i] = src[3*i]
		dst[px+i] = src[3*i+1]
		dst[2*px+i] = src[3*i+2]
	}
}
