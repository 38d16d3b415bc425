package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Fold is a disjoint train/validation partition of the dataset indices
type Fold struct {
	Train []int
	Val   []int
}

// KFoldSplits shuffles n indices with seed and cuts them into k validation
// folds. The first n%k folds hold one extra sample.
func KFoldSplits(n, k int, seed int64) ([]Fold, error) {
	if k < 2 || k > n {
		return nil, fmt.Errorf("%w: cannot make %d folds from %d samples", ErrEmptyDataset, k, n)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	folds := make([]Fold, k)
	start := 0
	for i := range folds {
		size := n / k
		if i < n%k {
			size++
		}
		stop := start + size
		val := append([]int(nil), perm[start:stop]...)
		train := make([]int, 0, n-size)
		train = append(train, perm[:start]...)
		train = append(train, perm[stop:]...)
		folds[i] = Fold{Train: train, Val: val}
		start = stop
	}
	return folds, nil
}

// trainFolds trains a fresh model per fold, strictly one after another, and loads
// the fold with the lowest validation loss. A failed fold is recorded and the
// remaining folds still run. Cancellation skips the current and later folds.
func (s *Supervisor) trainFolds(ctx context.Context, ds *Dataset) (*Result, error) {
	folds, err := KFoldSplits(ds.Len(), s.opts.Folds, s.opts.Seed)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var completed []*Run
	var failures []error
	for i, f := range folds {
		fold := i + 1
		if ctx.Err() != nil {
			result.Stopped = true
			break
		}
		s.logger.Infof("--------- Training Fold %d/%d ---------", fold, len(folds))
		s.logger.Infof("Fold %d split: Training images = %d, Validation images = %d", fold, len(f.Train), len(f.Val))

		s.model.Reset(s.opts.Seed + int64(i))
		run, err := s.runFold(ctx, ds, newRun(fold, s.opts.LearningRate), f.Train, f.Val, s.path(FoldCheckpointFile(fold)))
		result.Runs = append(result.Runs, run)
		if histErr := WriteHistory(s.path(FoldHistoryFile(fold)), run.History); histErr != nil {
			s.logger.WithError(histErr).Warnf("Failed to write history of fold %d", fold)
		}
		if err != nil {
			s.logger.WithError(err).Errorf("Fold %d failed", fold)
			failures = append(failures, fmt.Errorf("fold %d: %w", fold, err))
			continue
		}
		if run.State == StateStopped {
			s.logger.Infof("Training stopped by user during fold %d", fold)
			result.Stopped = true
			break
		}
		if run.Best == nil {
			run.State = StateFailed
			s.logger.Errorf("Fold %d finished without a checkpoint", fold)
			failures = append(failures, fmt.Errorf("fold %d: %w: no checkpoint", fold, ErrTrainingFailure))
			continue
		}
		completed = append(completed, run)
	}

	if len(completed) == 0 {
		if len(failures) > 0 && !result.Stopped {
			return result, errors.Join(failures...)
		}
		s.logger.Info("No complete fold training available, training was stopped prematurely")
		return result, nil
	}

	losses := make([]float64, len(completed))
	accuracies := make([]float64, len(completed))
	for i, run := range completed {
		losses[i] = run.Best.ValLoss
		accuracies[i] = run.Best.ValAccuracy
		s.logger.Infof("Fold %d: Loss = %.4f, Accuracy = %.4f", run.Fold, losses[i], accuracies[i])
	}
	result.MeanValLoss = stat.Mean(losses, nil)
	result.MeanValAccuracy = stat.Mean(accuracies, nil)
	s.logger.Infof("Average: Loss = %.4f, Accuracy = %.4f", result.MeanValLoss, result.MeanValAccuracy)

	best := completed[floats.MinIdx(losses)]
	s.logger.Infof("Best fold: %d with Loss = %.4f", best.Fold, best.Best.ValLoss)
	if err := s.model.Restore(best.Best.Weights); err != nil {
		return result, fmt.Errorf("%w: loading fold %d: %v", ErrTrainingFailure, best.Fold, err)
	}
	result.Best = best.Best
	result.BestFold = best.Fold

	if err := WriteFoldSummary(s.path(CrossValidationFile), result); err != nil {
		s.logger.WithError(err).Warn("Failed to write cross-validation summary")
	}
	return result, s.promote(result.Best)
}
