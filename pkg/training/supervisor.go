// Package training fits a trainable predictor on image and mask pairs. A
// Supervisor runs the epoch loop with validation monitoring, checkpointing,
// learning-rate reduction, early stopping and cooperative cancellation, either
// on one train/validation split or across k folds.
package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"siperea/pkg/augment"
	"siperea/pkg/imageio"
	"siperea/pkg/predictor"
)

var (
	// ErrEmptyDataset is returned when there is nothing to train on
	ErrEmptyDataset = errors.New("training dataset is empty")

	// ErrShapeMismatch is returned when a sample does not fit the predictor window
	ErrShapeMismatch = errors.New("image and mask shapes do not match")

	// ErrTrainingFailure wraps compute errors raised inside the epoch loop
	ErrTrainingFailure = errors.New("training failed")
)

// File names written to Options.Dir
const (
	CheckpointFile      = "current_best_model.json"
	HistoryFile         = "training_history.csv"
	CrossValidationFile = "cross_validation.csv"
)

// FoldCheckpointFile returns the checkpoint name of a 1-based fold
func FoldCheckpointFile(fold int) string {
	return fmt.Sprintf("model_fold_%d.json", fold)
}

// FoldHistoryFile returns the history name of a 1-based fold
func FoldHistoryFile(fold int) string {
	return fmt.Sprintf("training_history_fold_%d.csv", fold)
}

// Options controls a training invocation
type Options struct {
	Epochs            int
	BatchSize         int
	EarlyStopPatience int
	LRPatience        int

	// ValidationSplit is the held-out fraction in split mode
	ValidationSplit float64

	// Folds selects k-fold cross-validation when greater than 1
	Folds int

	LearningRate float64
	MinLR        float64
	LRFactor     float64
	Seed         int64

	Augment augment.Params

	// Dir receives checkpoints and history files, empty for the working directory
	Dir string

	// ModelPath receives the final model when training produced one, empty to skip
	ModelPath string
}

// DefaultOptions returns the standard training parameters
func DefaultOptions() Options {
	return Options{
		Epochs:            150,
		BatchSize:         2,
		EarlyStopPatience: 30,
		LRPatience:        10,
		ValidationSplit:   0.2,
		LearningRate:      1e-4,
		MinLR:             1e-6,
		LRFactor:          0.5,
		Seed:              42,
		Augment: augment.Params{
			RotationRange:  15,
			WidthShift:     0.1,
			HeightShift:    0.1,
			ShearRange:     0.05,
			ZoomRange:      [2]float64{0.9, 1.1},
			HorizontalFlip: true,
		},
	}
}

// Result is the outcome of Train
type Result struct {
	// Runs holds one run in split mode and one per started fold in k-fold mode
	Runs []*Run

	// Best is the checkpoint now loaded in the model, nil when no model was produced
	Best *Checkpoint

	// BestFold is the 1-based fold that produced Best, 0 in split mode
	BestFold int

	// MeanValLoss and MeanValAccuracy average the completed folds
	MeanValLoss     float64
	MeanValAccuracy float64

	// Stopped is set when cancellation cut the invocation short
	Stopped bool
}

// Produced reports whether training left a usable model
func (r *Result) Produced() bool {
	return r != nil && r.Best != nil
}

// Supervisor drives training of one model. The model is mutated in place and
// must not be used by anything else while Train runs.
type Supervisor struct {
	model  predictor.Trainable
	opts   Options
	logger *logrus.Entry
}

// NewSupervisor validates opts and creates a supervisor for model
func NewSupervisor(model predictor.Trainable, opts Options, logger *logrus.Entry) (*Supervisor, error) {
	if model == nil {
		return nil, errors.New("training requires a model")
	}
	if opts.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", opts.Epochs)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.EarlyStopPatience < 0 || opts.LRPatience < 0 {
		return nil, fmt.Errorf("patience must not be negative")
	}
	if opts.Folds <= 1 && (opts.ValidationSplit <= 0 || opts.ValidationSplit >= 1) {
		return nil, fmt.Errorf("validation split must be in (0,1), got %g", opts.ValidationSplit)
	}
	if opts.LearningRate <= 0 || opts.MinLR < 0 {
		return nil, fmt.Errorf("invalid learning rate %g (min %g)", opts.LearningRate, opts.MinLR)
	}
	if opts.LRFactor <= 0 || opts.LRFactor >= 1 {
		return nil, fmt.Errorf("learning rate factor must be in (0,1), got %g", opts.LRFactor)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{model: model, opts: opts, logger: logger.WithField("component", "training")}, nil
}

// Train fits the model on ds. Cancellation of ctx is observed before every
// epoch and every batch; a cancelled invocation returns a Result with Stopped
// set and a nil error. Compute errors wrap ErrTrainingFailure.
func (s *Supervisor) Train(ctx context.Context, ds *Dataset) (*Result, error) {
	if err := ds.validate(s.model.InputSize()); err != nil {
		return nil, err
	}
	if s.opts.Folds > 1 {
		return s.trainFolds(ctx, ds)
	}
	return s.trainSplit(ctx, ds)
}

func (s *Supervisor) trainSplit(ctx context.Context, ds *Dataset) (*Result, error) {
	trainIdx, valIdx, err := trainTestSplit(ds.Len(), s.opts.ValidationSplit, s.opts.Seed)
	if err != nil {
		return nil, err
	}
	s.logger.Infof("Splitting data sets: Training Count = %d, Validation Count = %d", len(trainIdx), len(valIdx))

	run, err := s.runFold(ctx, ds, newRun(0, s.opts.LearningRate), trainIdx, valIdx, s.path(CheckpointFile))
	result := &Result{Runs: []*Run{run}}
	if histErr := WriteHistory(s.path(HistoryFile), run.History); histErr != nil {
		s.logger.WithError(histErr).Warn("Failed to write training history")
	}
	if err != nil {
		return result, err
	}
	if run.State == StateStopped {
		s.logger.Info("Training paused by user")
		result.Stopped = true
		return result, nil
	}
	if run.Best == nil {
		run.State = StateFailed
		return result, fmt.Errorf("%w: no checkpoint after %d epochs", ErrTrainingFailure, run.Epoch)
	}
	result.Best = run.Best
	result.MeanValLoss = run.Best.ValLoss
	result.MeanValAccuracy = run.Best.ValAccuracy
	return result, s.promote(result.Best)
}

// runFold executes the epoch loop for one run
func (s *Supervisor) runFold(ctx context.Context, ds *Dataset, run *Run, trainIdx, valIdx []int, checkpoint string) (*Run, error) {
	logger := s.logger
	if run.Fold > 0 {
		logger = logger.WithField("fold", run.Fold)
	}
	valTiles, valMasks := ds.Tensors(valIdx)
	steps := (len(trainIdx) + s.opts.BatchSize - 1) / s.opts.BatchSize

	for epoch := 1; epoch <= s.opts.Epochs; epoch++ {
		if ctx.Err() != nil {
			run.State = StateStopped
			return run, nil
		}
		run.Epoch = epoch
		rng := augment.EpochSource(s.opts.Seed, epoch)
		order := make([]int, len(trainIdx))
		for i, j := range rng.Perm(len(trainIdx)) {
			order[i] = trainIdx[j]
		}

		var lossSum, accSum float64
		for step := 0; step < steps; step++ {
			if ctx.Err() != nil {
				run.State = StateStopped
				return run, nil
			}
			batch := order[step*s.opts.BatchSize : min((step+1)*s.opts.BatchSize, len(order))]
			tiles, masks := s.augmentBatch(ds, batch, rng)
			loss, acc, err := s.model.TrainBatch(tiles, masks, run.LearningRate)
			if err != nil {
				run.State = StateFailed
				return run, fmt.Errorf("%w: epoch %d batch %d: %v", ErrTrainingFailure, epoch, step+1, err)
			}
			lossSum += loss * float64(len(batch))
			accSum += acc * float64(len(batch))
		}

		valLoss, valAcc, err := s.model.Evaluate(valTiles, valMasks)
		if err != nil {
			run.State = StateFailed
			return run, fmt.Errorf("%w: epoch %d validation: %v", ErrTrainingFailure, epoch, err)
		}
		if math.IsNaN(valLoss) || math.IsInf(valLoss, 0) {
			run.State = StateFailed
			return run, fmt.Errorf("%w: epoch %d validation loss is not finite (%g)", ErrTrainingFailure, epoch, valLoss)
		}

		stats := EpochStats{
			Epoch:         epoch,
			TrainLoss:     lossSum / float64(len(order)),
			ValLoss:       valLoss,
			TrainAccuracy: accSum / float64(len(order)),
			ValAccuracy:   valAcc,
			LearningRate:  run.LearningRate,
		}
		run.History = append(run.History, stats)
		logger.WithField("epoch", epoch).Infof("Epoch %d/%d - loss: %.4f - accuracy: %.4f - val_loss: %.4f - val_accuracy: %.4f - lr: %g",
			epoch, s.opts.Epochs, stats.TrainLoss, stats.TrainAccuracy, valLoss, valAcc, run.LearningRate)

		if run.improves(valLoss) {
			cp, err := s.checkpoint(epoch, valLoss, valAcc, checkpoint)
			if err != nil {
				run.State = StateFailed
				return run, err
			}
			logger.Infof("val_loss improved from %.5f to %.5f, saving model to %s", run.BestLoss(), valLoss, checkpoint)
			run.improved(cp)
			continue
		}

		reduce, stop := run.plateau(s.opts.EarlyStopPatience, s.opts.LRPatience)
		if reduce {
			old := run.LearningRate
			if run.reduceLR(s.opts.LRFactor, s.opts.MinLR) {
				logger.Infof("Epoch %d: reducing learning rate from %g to %g", epoch, old, run.LearningRate)
			}
		}
		if stop {
			if err := s.restore(run); err != nil {
				run.State = StateFailed
				return run, err
			}
			if run.Best != nil {
				logger.Infof("Epoch %d: early stopping, restored weights from epoch %d", epoch, run.Best.Epoch)
			}
			run.State = StateEarlyStopped
			return run, nil
		}
	}

	if err := s.restore(run); err != nil {
		run.State = StateFailed
		return run, err
	}
	run.State = StateExhausted
	return run, nil
}

func (s *Supervisor) augmentBatch(ds *Dataset, batch []int, rng *rand.Rand) (tiles, masks [][]float32) {
	tiles = make([][]float32, len(batch))
	masks = make([][]float32, len(batch))
	for i, j := range batch {
		sample := ds.Samples[j]
		img, mask := s.opts.Augment.Sample(rng).Pair(sample.Image, sample.Mask)
		tiles[i] = imageio.NewRaster(img).Pix
		masks[i] = imageio.MaskValues(mask)
	}
	return tiles, masks
}

// checkpoint snapshots the model and persists it to path
func (s *Supervisor) checkpoint(epoch int, valLoss, valAcc float64, path string) (*Checkpoint, error) {
	weights, err := s.model.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot at epoch %d: %v", ErrTrainingFailure, epoch, err)
	}
	if err := predictor.WriteArtifact(path, weights); err != nil {
		return nil, fmt.Errorf("failed to persist checkpoint: %w", err)
	}
	return &Checkpoint{Epoch: epoch, ValLoss: valLoss, ValAccuracy: valAcc, Weights: weights, Path: path}, nil
}

// restore loads the best checkpoint of run back into the model
func (s *Supervisor) restore(run *Run) error {
	if run.Best == nil {
		return nil
	}
	if err := s.model.Restore(run.Best.Weights); err != nil {
		return fmt.Errorf("%w: restoring epoch %d: %v", ErrTrainingFailure, run.Best.Epoch, err)
	}
	return nil
}

// promote saves the model, which holds the weights of cp, to the output model path
func (s *Supervisor) promote(cp *Checkpoint) error {
	if s.opts.ModelPath == "" || cp == nil {
		return nil
	}
	if err := predictor.Save(s.model, s.opts.ModelPath); err != nil {
		return fmt.Errorf("failed to save trained model: %w", err)
	}
	s.logger.Infof("Best model saved as %s", s.opts.ModelPath)
	return nil
}

func (s *Supervisor) path(name string) string {
	if s.opts.Dir == "" {
		return name
	}
	return filepath.Join(s.opts.Dir, name)
}

// trainTestSplit shuffles n indices and holds out ceil(split*n) for validation
func trainTestSplit(n int, split float64, seed int64) (train, val []int, err error) {
	nVal := int(math.Ceil(split * float64(n)))
	if nVal < 1 || n-nVal < 1 {
		return nil, nil, fmt.Errorf("%w: %d samples cannot be split with validation fraction %g", ErrEmptyDataset, n, split)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nVal:], perm[:nVal], nil
}
