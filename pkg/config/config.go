// Package config provides configuration loading and management for siperea.
// It handles loading configuration from YAML files, environment overrides and default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Model parameters
	Model struct {
		// Path is the model artifact used for analysis
		Path string `yaml:"path"`

		// TrainedPath is where a successful training run saves its final model
		TrainedPath string `yaml:"trainedPath"`

		// TileSize is the native square window of the predictor
		TileSize int `yaml:"tileSize"`

		// Overlap is the seam blending band between neighbouring tiles in pixels
		Overlap int `yaml:"overlap"`

		// Threshold converts probabilities to the binary mask
		Threshold float64 `yaml:"threshold"`

		// OnnxLibrary optionally points at the onnxruntime shared library
		OnnxLibrary string `yaml:"onnxLibrary"`

		// OnnxMetadata optionally describes tensor names and shapes of an ONNX model
		OnnxMetadata string `yaml:"onnxMetadata"`
	} `yaml:"model"`

	// Analysis parameters
	Analysis struct {
		// SaveMasks exports binary masks into the Output folder
		SaveMasks bool `yaml:"saveMasks"`

		// SaveVisualization writes the side-by-side original/mask image
		SaveVisualization bool `yaml:"saveVisualization"`

		// SaveEnhanced writes the three-panel original/heat-map/mask image
		SaveEnhanced bool `yaml:"saveEnhanced"`

		// ROIFile is the ROI table file name inside the input folder
		ROIFile string `yaml:"roiFile"`

		// ResultFile is the area time-series file name inside the input folder
		ResultFile string `yaml:"resultFile"`

		// TimeReportFile records per-image processing latency
		TimeReportFile string `yaml:"timeReportFile"`

		// PollInterval is how often the controller polls a running job
		PollInterval time.Duration `yaml:"pollInterval"`

		// MaxPanelHeight bounds visualization panels, 0 keeps full resolution
		MaxPanelHeight int `yaml:"maxPanelHeight"`
	} `yaml:"analysis"`

	// Training parameters
	Training struct {
		Epochs            int     `yaml:"epochs"`
		BatchSize         int     `yaml:"batchSize"`
		EarlyStopPatience int     `yaml:"earlyStopPatience"`
		LRPatience        int     `yaml:"lrPatience"`
		ValidationSplit   float64 `yaml:"validationSplit"`

		// Folds enables k-fold cross-validation when greater than 1
		Folds int `yaml:"folds"`

		LearningRate float64 `yaml:"learningRate"`
		MinLR        float64 `yaml:"minLR"`
		LRFactor     float64 `yaml:"lrFactor"`
		Seed         int64   `yaml:"seed"`

		// SaveVisualization and SaveEnhanced control the post-training prediction artifacts
		SaveVisualization bool `yaml:"saveVisualization"`
		SaveEnhanced      bool `yaml:"saveEnhanced"`

		// MetricsSampleLimit caps the number of pixels used for the ROC curve
		MetricsSampleLimit int `yaml:"metricsSampleLimit"`

		Augment struct {
			RotationRange  float64    `yaml:"rotationRange"`
			WidthShift     float64    `yaml:"widthShift"`
			HeightShift    float64    `yaml:"heightShift"`
			ShearRange     float64    `yaml:"shearRange"`
			ZoomRange      [2]float64 `yaml:"zoomRange"`
			HorizontalFlip bool       `yaml:"horizontalFlip"`
		} `yaml:"augment"`
	} `yaml:"training"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level"`

		// Format is either text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Server parameters
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.Path = "trained_model.json"
	cfg.Model.TrainedPath = "bestTrained_model.json"
	cfg.Model.TileSize = 512
	cfg.Model.Overlap = 64
	cfg.Model.Threshold = 0.5

	cfg.Analysis.SaveMasks = false
	cfg.Analysis.SaveVisualization = false
	cfg.Analysis.SaveEnhanced = false
	cfg.Analysis.ROIFile = "ROI.csv"
	cfg.Analysis.ResultFile = "resultArea.csv"
	cfg.Analysis.TimeReportFile = "analysisTimeReport.csv"
	cfg.Analysis.PollInterval = 100 * time.Millisecond
	cfg.Analysis.MaxPanelHeight = 1024

	cfg.Training.Epochs = 150
	cfg.Training.BatchSize = 2
	cfg.Training.EarlyStopPatience = 30
	cfg.Training.LRPatience = 10
	cfg.Training.ValidationSplit = 0.2
	cfg.Training.Folds = 0
	cfg.Training.LearningRate = 1e-4
	cfg.Training.MinLR = 1e-6
	cfg.Training.LRFactor = 0.5
	cfg.Training.Seed = 42
	cfg.Training.SaveVisualization = true
	cfg.Training.SaveEnhanced = true
	cfg.Training.MetricsSampleLimit = 200000
	cfg.Training.Augment.RotationRange = 15
	cfg.Training.Augment.WidthShift = 0.1
	cfg.Training.Augment.HeightShift = 0.1
	cfg.Training.Augment.ShearRange = 0.05
	cfg.Training.Augment.ZoomRange = [2]float64{0.9, 1.1}
	cfg.Training.Augment.HorizontalFlip = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Server.Addr = ":8080"

	return cfg
}

// Validate rejects values the pipelines cannot run with
func (c *Config) Validate() error {
	if c.Model.TileSize <= 0 {
		return fmt.Errorf("model.tileSize must be positive, got %d", c.Model.TileSize)
	}
	if c.Model.Overlap < 0 {
		return fmt.Errorf("model.overlap must be non-negative, got %d", c.Model.Overlap)
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return fmt.Errorf("model.threshold must be in (0,1), got %g", c.Model.Threshold)
	}
	if c.Analysis.PollInterval <= 0 {
		return fmt.Errorf("analysis.pollInterval must be positive")
	}
	if c.Training.Epochs <= 0 || c.Training.BatchSize <= 0 {
		return fmt.Errorf("training.epochs and training.batchSize must be positive")
	}
	if c.Training.Folds <= 1 && (c.Training.ValidationSplit <= 0 || c.Training.ValidationSplit >= 1) {
		return fmt.Errorf("training.validationSplit must be in (0,1), got %g", c.Training.ValidationSplit)
	}
	if c.Training.LRFactor <= 0 || c.Training.LRFactor >= 1 {
		return fmt.Errorf("training.lrFactor must be in (0,1), got %g", c.Training.LRFactor)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration.
// Environment overrides are applied in both cases.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Logging.Level = getEnv("SIPEREA_LOG_LEVEL", c.Logging.Level)
	c.Model.Path = getEnv("SIPEREA_MODEL_PATH", c.Model.Path)
	c.Server.Addr = getEnv("SIPEREA_SERVER_ADDR", c.Server.Addr)
}

// getEnv returns the environment value for key or defaultValue when unset
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
