package pipeline

import (
	"siperea/pkg/augment"
	"siperea/pkg/config"
	"siperea/pkg/predictor"
	"siperea/pkg/training"
)

// NewAnalysisParams fills analysis parameters for inputDir from cfg
func NewAnalysisParams(cfg *config.Config, inputDir string) AnalysisParams {
	return AnalysisParams{
		InputDir:  inputDir,
		ModelPath: cfg.Model.Path,
		ModelOptions: predictor.Options{
			OnnxLibrary:  cfg.Model.OnnxLibrary,
			OnnxMetadata: cfg.Model.OnnxMetadata,
		},
		TileSize:          cfg.Model.TileSize,
		Overlap:           cfg.Model.Overlap,
		Threshold:         float32(cfg.Model.Threshold),
		SaveMasks:         cfg.Analysis.SaveMasks,
		SaveVisualization: cfg.Analysis.SaveVisualization,
		SaveEnhanced:      cfg.Analysis.SaveEnhanced,
		MaxPanelHeight:    cfg.Analysis.MaxPanelHeight,
		ROIFile:           cfg.Analysis.ROIFile,
		ResultFile:        cfg.Analysis.ResultFile,
		TimeReportFile:    cfg.Analysis.TimeReportFile,
	}
}

// NewTrainingParams fills training parameters for the given folders from cfg.
// The final model goes to cfg.Model.TrainedPath.
func NewTrainingParams(cfg *config.Config, sourceDir, maskDir string) TrainingParams {
	t := cfg.Training
	return TrainingParams{
		SourceDir: sourceDir,
		MaskDir:   maskDir,
		TileSize:  cfg.Model.TileSize,
		Overlap:   cfg.Model.Overlap,
		Threshold: float32(cfg.Model.Threshold),
		Options: training.Options{
			Epochs:            t.Epochs,
			BatchSize:         t.BatchSize,
			EarlyStopPatience: t.EarlyStopPatience,
			LRPatience:        t.LRPatience,
			ValidationSplit:   t.ValidationSplit,
			Folds:             t.Folds,
			LearningRate:      t.LearningRate,
			MinLR:             t.MinLR,
			LRFactor:          t.LRFactor,
			Seed:              t.Seed,
			Augment:           augment.Params(t.Augment),
			Dir:               sourceDir,
			ModelPath:         cfg.Model.TrainedPath,
		},
		SaveVisualization:  t.SaveVisualization,
		SaveEnhanced:       t.SaveEnhanced,
		MaxPanelHeight:     cfg.Analysis.MaxPanelHeight,
		MetricsSampleLimit: t.MetricsSampleLimit,
	}
}
