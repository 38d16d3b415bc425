package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"siperea/pkg/imageio"
	"siperea/pkg/predictor"
	"siperea/pkg/tiling"
	"siperea/pkg/training"
	"siperea/pkg/visualization"
)

// Files written to the Output folder after training
const (
	MetricsFile   = "segmentation_metrics.csv"
	ConfusionFile = "confusion_matrix.csv"
	ROCFile       = "roc_auc_data_sampled.csv"
)

// TrainingParams holds the training pipeline parameters.
type TrainingParams struct {
	// SourceDir holds the training images; Output/ and Visualization/ are created inside it
	SourceDir string

	// MaskDir holds one binary mask per training image, with the same file name
	MaskDir string

	// Model, when set, is trained in place; otherwise a new pixel model is created
	Model predictor.Trainable

	TileSize  int
	Overlap   int
	Threshold float32

	// Options drives the supervisor. An empty Options.Dir means SourceDir.
	Options training.Options

	// SaveVisualization and SaveEnhanced write figures for the post-training predictions
	SaveVisualization bool
	SaveEnhanced      bool
	MaxPanelHeight    int

	// MetricsSampleLimit caps the pixels used for the ROC curve
	MetricsSampleLimit int
}

// TrainingSummary reports the outcome of a training pipeline run
type TrainingSummary struct {
	Pairs     int
	Result    *training.Result
	Predicted int
	Metrics   *training.SegmentationMetrics
	Stopped   bool
}

// Trainer runs the training pipeline
type Trainer struct {
	params TrainingParams
	logger *logrus.Entry
}

// NewTrainer creates a trainer. A nil logger logs to the standard logger.
func NewTrainer(params TrainingParams, logger *logrus.Entry) *Trainer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Trainer{params: params, logger: logger.WithField("component", "trainer")}
}

// Run collects and loads the dataset, trains, and when a model was produced
// without a stop request, predicts every training image and scores the model
// on the training set.
func (t *Trainer) Run(ctx context.Context) (*TrainingSummary, error) {
	p := t.params
	if p.SourceDir == "" || p.MaskDir == "" {
		return nil, fmt.Errorf("%w: source and mask folders must be specified", ErrInvalidInput)
	}
	pairs, err := training.CollectPairs(p.SourceDir, p.MaskDir, t.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no training images found: %w", training.ErrEmptyDataset)
	}
	t.logger.Infof("Total %d images are used for training", len(pairs))
	training.CheckMaskQuality(pairs, t.logger)

	ds, err := training.LoadDataset(pairs, p.TileSize, t.logger)
	if err != nil {
		return nil, err
	}

	model := p.Model
	if model == nil {
		model = predictor.NewPixelModel(p.TileSize, p.Options.Seed)
	}
	opts := p.Options
	if opts.Dir == "" {
		opts.Dir = p.SourceDir
	}
	supervisor, err := training.NewSupervisor(model, opts, t.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	t.logger.Info("Initiating training...")
	result, err := supervisor.Train(ctx, ds)
	summary := &TrainingSummary{Pairs: len(pairs), Result: result}
	t.saveHistoryFigures(opts.Dir, opts.Folds, result)
	if err != nil {
		return summary, err
	}
	if result.Stopped || !result.Produced() {
		summary.Stopped = result.Stopped
		return summary, nil
	}

	t.logger.Info("Training completed, starting prediction...")
	outDir := filepath.Join(p.SourceDir, OutputFolder)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return summary, fmt.Errorf("failed to create output folder: %w", err)
	}
	out := newArtifacts(AnalysisParams{
		InputDir:          p.SourceDir,
		Threshold:         p.Threshold,
		SaveVisualization: p.SaveVisualization,
		SaveEnhanced:      p.SaveEnhanced,
		MaxPanelHeight:    p.MaxPanelHeight,
	}, t.logger)
	stitcher := tiling.NewStitcher(p.TileSize, p.Overlap, t.logger)
	for _, pair := range pairs {
		if ctx.Err() != nil {
			t.logger.Info("Process stopped by user during prediction")
			summary.Stopped = true
			return summary, nil
		}
		logger := t.logger.WithField("file", pair.Name())
		logger.Infof("Predicting and saving binary mask for: %s", pair.Name())
		mask, err := out.process(stitcher, model, pair.Image, logger)
		if errors.Is(err, ErrDecode) {
			logger.WithError(err).Warn("Skipping prediction")
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("predicting %s: %w", pair.Name(), err)
		}
		name := strings.TrimSuffix(pair.Name(), filepath.Ext(pair.Name())) + ".png"
		if err := imageio.SavePNG(filepath.Join(outDir, name), mask); err != nil {
			return summary, fmt.Errorf("failed to save mask: %w", err)
		}
		summary.Predicted++
	}
	t.logger.Infof("Binary images generated and saved to: %s", outDir)

	metrics, err := t.evaluate(model, ds, outDir)
	if err != nil {
		return summary, err
	}
	summary.Metrics = metrics
	t.logger.Info("Training analysis completed")
	return summary, nil
}

// evaluate scores the model on the prepared dataset and writes the metric tables
func (t *Trainer) evaluate(model predictor.Predictor, ds *training.Dataset, outDir string) (*training.SegmentationMetrics, error) {
	t.logger.Info("Performing ROC-AUC analysis...")
	acc := training.NewMetricsAccumulator(t.params.Threshold, t.params.MetricsSampleLimit)
	for i := 0; i < ds.Len(); i++ {
		tiles, masks := ds.Tensors([]int{i})
		probs, err := model.Predict(tiles)
		if err != nil {
			return nil, fmt.Errorf("%w: evaluating %s: %v", training.ErrTrainingFailure, ds.Samples[i].Name, err)
		}
		acc.Add(probs[0], masks[0])
	}
	metrics, curve := acc.Compute()
	t.logger.Infof("ROC-AUC: %.4f", metrics.ROCAUC)
	t.logger.Infof("Pixel Accuracy: %.4f", metrics.PixelAccuracy)
	t.logger.Infof("IoU (Jaccard): %.4f", metrics.IoU)
	t.logger.Infof("Dice Coefficient: %.4f", metrics.Dice)
	t.logger.Infof("Precision: %.4f", metrics.Precision)
	t.logger.Infof("Recall: %.4f", metrics.Recall)

	if err := training.WriteROC(filepath.Join(outDir, ROCFile), training.SampleCurve(curve, training.ROCSamplePoints)); err != nil {
		return nil, err
	}
	if err := visualization.Save(outDir, ROCFigureFile, rocFigure(curve, metrics.ROCAUC)); err != nil {
		return nil, err
	}
	if err := training.WriteMetrics(filepath.Join(outDir, MetricsFile), metrics); err != nil {
		return nil, err
	}
	if err := training.WriteConfusion(filepath.Join(outDir, ConfusionFile), metrics.Confusion); err != nil {
		return nil, err
	}
	t.logger.Infof("Segmentation metrics saved to %s", filepath.Join(outDir, MetricsFile))
	return &metrics, nil
}
