package pipeline

import (
	"fmt"
	"image"
	"path/filepath"

	"siperea/pkg/training"
	"siperea/pkg/visualization"
)

// Training figures. The history figures go next to the history tables, the
// ROC figure into the Output folder.
const (
	HistoryFigureFile         = "training_history.png"
	CrossValidationFigureFile = "cross_validation_history.png"
	ROCFigureFile             = "roc_auc_plot.png"
)

func lossAndAccuracy(history []training.EpochStats) (trainLoss, valLoss, trainAcc, valAcc []float64) {
	for _, h := range history {
		trainLoss = append(trainLoss, h.TrainLoss)
		valLoss = append(valLoss, h.ValLoss)
		trainAcc = append(trainAcc, h.TrainAccuracy)
		valAcc = append(valAcc, h.ValAccuracy)
	}
	return trainLoss, valLoss, trainAcc, valAcc
}

// historyFigure plots loss and accuracy per epoch of a single run
func historyFigure(history []training.EpochStats) image.Image {
	trainLoss, valLoss, trainAcc, valAcc := lossAndAccuracy(history)
	return visualization.Row(
		visualization.Chart{
			Title:  "Loss Over Epochs",
			XLabel: "Epoch",
			YLabel: "Loss",
			Series: []visualization.Series{
				visualization.EpochSeries("Training Loss", trainLoss, visualization.Blue, false),
				visualization.EpochSeries("Validation Loss", valLoss, visualization.Orange, false),
			},
		},
		visualization.Chart{
			Title:  "Accuracy Over Epochs",
			XLabel: "Epoch",
			YLabel: "Accuracy",
			Series: []visualization.Series{
				visualization.EpochSeries("Training Accuracy", trainAcc, visualization.Blue, false),
				visualization.EpochSeries("Validation Accuracy", valAcc, visualization.Orange, false),
			},
			Legend: visualization.LegendLowerRight,
		},
	)
}

// crossValidationFigure overlays every started fold, validation dashed
func crossValidationFigure(runs []*training.Run) image.Image {
	loss := visualization.Chart{Title: "Loss Over Epochs (All Folds)", XLabel: "Epoch", YLabel: "Loss"}
	acc := visualization.Chart{
		Title:  "Accuracy Over Epochs (All Folds)",
		XLabel: "Epoch",
		YLabel: "Accuracy",
		Legend: visualization.LegendLowerRight,
	}
	for i, run := range runs {
		c := visualization.Palette(i)
		trainLoss, valLoss, trainAcc, valAcc := lossAndAccuracy(run.History)
		loss.Series = append(loss.Series,
			visualization.EpochSeries(fmt.Sprintf("Train Loss (Fold %d)", run.Fold), trainLoss, c, false),
			visualization.EpochSeries(fmt.Sprintf("Val Loss (Fold %d)", run.Fold), valLoss, c, true))
		acc.Series = append(acc.Series,
			visualization.EpochSeries(fmt.Sprintf("Train Acc (Fold %d)", run.Fold), trainAcc, c, false),
			visualization.EpochSeries(fmt.Sprintf("Val Acc (Fold %d)", run.Fold), valAcc, c, true))
	}
	return visualization.Row(loss, acc)
}

// rocFigure plots the ROC curve against the chance diagonal
func rocFigure(curve []training.ROCPoint, auc float64) image.Image {
	fpr := make([]float64, len(curve))
	tpr := make([]float64, len(curve))
	for i, p := range curve {
		fpr[i], tpr[i] = p.FPR, p.TPR
	}
	return visualization.Chart{
		Title:  "Receiver Operating Characteristic (ROC)",
		XLabel: "False positive rate",
		YLabel: "True positive rate",
		Series: []visualization.Series{
			{Label: fmt.Sprintf("ROC curve (area = %.4f)", auc), X: fpr, Y: tpr, Color: visualization.DarkOrange},
			{X: []float64{0, 1}, Y: []float64{0, 1}, Color: visualization.Navy, Dashed: true},
		},
		XRange: [2]float64{0, 1},
		YRange: [2]float64{0, 1.05},
		Legend: visualization.LegendLowerRight,
	}.Render()
}

// saveHistoryFigures writes the history figure of a split run, or the
// overlay of all started folds in k-fold mode. Failures are logged only.
func (t *Trainer) saveHistoryFigures(dir string, folds int, result *training.Result) {
	if result == nil || len(result.Runs) == 0 {
		return
	}
	name := HistoryFigureFile
	var fig image.Image
	if folds > 1 {
		name, fig = CrossValidationFigureFile, crossValidationFigure(result.Runs)
	} else {
		fig = historyFigure(result.Runs[0].History)
	}
	if err := visualization.Save(dir, name, fig); err != nil {
		t.logger.WithError(err).Warn("Failed to save training history figure")
		return
	}
	t.logger.Infof("Training history figure saved to %s", filepath.Join(dir, name))
}
