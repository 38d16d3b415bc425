package server

import (
	"math"

	"siperea/pkg/pipeline"
	"siperea/pkg/training"
)

// TrainingView is the JSON form of a training summary. Model weights are left out.
type TrainingView struct {
	Pairs           int         `json:"pairs"`
	Stopped         bool        `json:"stopped"`
	Produced        bool        `json:"produced"`
	BestFold        int         `json:"bestFold,omitempty"`
	BestEpoch       int         `json:"bestEpoch,omitempty"`
	BestValLoss     *float64    `json:"bestValLoss,omitempty"`
	MeanValLoss     *float64    `json:"meanValLoss,omitempty"`
	MeanValAccuracy *float64    `json:"meanValAccuracy,omitempty"`
	Runs            []RunView   `json:"runs,omitempty"`
	Predicted       int         `json:"predicted"`
	Metrics         *MetricView `json:"metrics,omitempty"`
}

// RunView summarizes one run or fold
type RunView struct {
	Fold     int      `json:"fold"`
	State    string   `json:"state"`
	Epochs   int      `json:"epochs"`
	BestLoss *float64 `json:"bestLoss,omitempty"`
}

// MetricView carries the segmentation scores; an undefined ROC-AUC is omitted
type MetricView struct {
	PixelAccuracy float64  `json:"pixelAccuracy"`
	IoU           float64  `json:"iou"`
	Dice          float64  `json:"dice"`
	Precision     float64  `json:"precision"`
	Recall        float64  `json:"recall"`
	ROCAUC        *float64 `json:"rocAuc,omitempty"`
}

func newTrainingView(s *pipeline.TrainingSummary) TrainingView {
	v := TrainingView{Pairs: s.Pairs, Stopped: s.Stopped, Predicted: s.Predicted}
	if r := s.Result; r != nil {
		v.Stopped = v.Stopped || r.Stopped
		v.Produced = r.Produced()
		for _, run := range r.Runs {
			rv := RunView{Fold: run.Fold, State: run.State.String(), Epochs: len(run.History)}
			if run.Best != nil {
				rv.BestLoss = finite(run.Best.ValLoss)
			}
			v.Runs = append(v.Runs, rv)
		}
		if r.Best != nil {
			v.BestFold = r.BestFold
			v.BestEpoch = r.Best.Epoch
			v.BestValLoss = finite(r.Best.ValLoss)
			v.MeanValLoss = finite(r.MeanValLoss)
			v.MeanValAccuracy = finite(r.MeanValAccuracy)
		}
	}
	if m := s.Metrics; m != nil {
		v.Metrics = newMetricView(m)
	}
	return v
}

func newMetricView(m *training.SegmentationMetrics) *MetricView {
	return &MetricView{
		PixelAccuracy: m.PixelAccuracy,
		IoU:           m.IoU,
		Dice:          m.Dice,
		Precision:     m.Precision,
		Recall:        m.Recall,
		ROCAUC:        finite(m.ROCAUC),
	}
}

// finite returns nil for values encoding/json cannot represent
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
