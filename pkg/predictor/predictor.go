// Package predictor defines the segmentation predictor contract used by tiling and training,
// together with the model artifacts that implement it.
//
// A tile is a square window of Size x Size RGB pixels normalized to [0,1] and stored
// row-major in HWC order (len = Size*Size*3). A prediction is a Size x Size single
// channel probability map (len = Size*Size).
package predictor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Predictor maps a batch of normalized tiles to foreground probability maps
type Predictor interface {
	// InputSize returns the fixed side length of the square input window
	InputSize() int

	// Predict runs the model on a batch of tiles. It blocks until all outputs are ready.
	Predict(tiles [][]float32) ([][]float32, error)
}

// Trainable is a Predictor whose weights are fitted in place by the training supervisor.
// Implementations are not safe for concurrent use.
type Trainable interface {
	Predictor

	// Reset reinitializes all weights and optimizer state from scratch
	Reset(seed int64)

	// TrainBatch performs one optimization step and returns the batch loss and accuracy
	TrainBatch(tiles, masks [][]float32, learningRate float64) (loss, accuracy float64, err error)

	// Evaluate returns the mean loss and accuracy over the given samples without updating weights
	Evaluate(tiles, masks [][]float32) (loss, accuracy float64, err error)

	// Snapshot serializes the current weights. The bytes are a loadable model artifact.
	Snapshot() ([]byte, error)

	// Restore replaces the current weights with a snapshot
	Restore(snapshot []byte) error
}

// Options configures artifact loading
type Options struct {
	// OnnxLibrary is the onnxruntime shared library path, empty for the platform default
	OnnxLibrary string

	// OnnxMetadata is the JSON metadata next to an ONNX model, empty for <model>.json
	OnnxMetadata string
}

// Load opens a model artifact. ONNX files yield an inference-only predictor,
// anything else is decoded as a pixel model.
func Load(path string, opts Options) (Predictor, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model artifact %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".onnx") {
		metadata := opts.OnnxMetadata
		if metadata == "" {
			metadata = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		}
		return NewOnnxPredictor(path, metadata, opts.OnnxLibrary)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	model := &PixelModel{}
	if err := model.Restore(data); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", path, err)
	}
	return model, nil
}

// Save writes a trainable predictor to path as a loadable artifact
func Save(p Predictor, path string) error {
	t, ok := p.(Trainable)
	if !ok {
		return fmt.Errorf("predictor %T cannot be serialized", p)
	}
	data, err := t.Snapshot()
	if err != nil {
		return fmt.Errorf("failed to snapshot model: %w", err)
	}
	return WriteArtifact(path, data)
}

// WriteArtifact atomically replaces path with data
func WriteArtifact(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move model into place: %w", err)
	}
	return nil
}

// Close releases native resources held by p, if any
func Close(p Predictor) {
	if c, ok := p.(interface{ Close() }); ok {
		c.Close()
	}
}
