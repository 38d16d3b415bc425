package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeCSV replaces path with rows
func writeCSV(path string, rows [][]string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// WriteHistory writes one row per epoch
func WriteHistory(path string, history []EpochStats) error {
	rows := [][]string{{"epoch", "training_loss", "validation_loss", "training_accuracy", "validation_accuracy", "learning_rate"}}
	for _, h := range history {
		rows = append(rows, []string{
			strconv.Itoa(h.Epoch),
			formatFloat(h.TrainLoss),
			formatFloat(h.ValLoss),
			formatFloat(h.TrainAccuracy),
			formatFloat(h.ValAccuracy),
			formatFloat(h.LearningRate),
		})
	}
	return writeCSV(path, rows)
}

// WriteFoldSummary writes the per-fold best scores followed by their mean
func WriteFoldSummary(path string, result *Result) error {
	rows := [][]string{{"fold", "val_loss", "val_accuracy", "best_epoch", "state"}}
	for _, run := range result.Runs {
		row := []string{strconv.Itoa(run.Fold), "", "", "", run.State.String()}
		if run.Best != nil && run.State.Completed() {
			row[1] = formatFloat(run.Best.ValLoss)
			row[2] = formatFloat(run.Best.ValAccuracy)
			row[3] = strconv.Itoa(run.Best.Epoch)
		}
		rows = append(rows, row)
	}
	rows = append(rows, []string{"mean", formatFloat(result.MeanValLoss), formatFloat(result.MeanValAccuracy), "", ""})
	return writeCSV(path, rows)
}
