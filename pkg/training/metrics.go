package training

import (
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// ROCSamplePoints is the number of curve points kept in the sampled ROC export
const ROCSamplePoints = 1000

// Confusion counts pixel outcomes at the decision threshold
type Confusion struct {
	TN, FP, FN, TP int
}

// SegmentationMetrics scores predicted masks against ground truth
type SegmentationMetrics struct {
	PixelAccuracy float64
	IoU           float64
	Dice          float64
	Precision     float64
	Recall        float64
	ROCAUC        float64
	Confusion     Confusion
}

// ROCPoint is one point of the ROC curve
type ROCPoint struct {
	FPR       float64
	TPR       float64
	Threshold float64
}

// MetricsAccumulator gathers probabilities and labels over many images.
// Threshold metrics use every pixel; the ROC curve uses an evenly strided
// subsample of at most sampleLimit pixels.
type MetricsAccumulator struct {
	threshold   float32
	sampleLimit int
	confusion   Confusion

	probs  [][]float32
	labels [][]float32
	total  int
}

// NewMetricsAccumulator creates an accumulator. sampleLimit <= 0 keeps every pixel.
func NewMetricsAccumulator(threshold float32, sampleLimit int) *MetricsAccumulator {
	return &MetricsAccumulator{threshold: threshold, sampleLimit: sampleLimit}
}

// Add records one image worth of probabilities and {0,1} labels
func (m *MetricsAccumulator) Add(probs, labels []float32) {
	n := min(len(probs), len(labels))
	for i := 0; i < n; i++ {
		pred := probs[i] > m.threshold
		truth := labels[i] > 0.5
		switch {
		case pred && truth:
			m.confusion.TP++
		case pred:
			m.confusion.FP++
		case truth:
			m.confusion.FN++
		default:
			m.confusion.TN++
		}
	}
	m.probs = append(m.probs, probs[:n])
	m.labels = append(m.labels, labels[:n])
	m.total += n
}

// Compute returns the metrics and the full ROC curve sorted by FPR. ROCAUC is
// NaN and the curve empty when the sampled labels hold a single class.
func (m *MetricsAccumulator) Compute() (SegmentationMetrics, []ROCPoint) {
	c := m.confusion
	metrics := SegmentationMetrics{Confusion: c}
	if m.total > 0 {
		metrics.PixelAccuracy = float64(c.TP+c.TN) / float64(m.total)
	}
	metrics.IoU = ratio(c.TP, c.TP+c.FP+c.FN)
	metrics.Dice = ratio(2*c.TP, 2*c.TP+c.FP+c.FN)
	metrics.Precision = ratio(c.TP, c.TP+c.FP)
	metrics.Recall = ratio(c.TP, c.TP+c.FN)

	curve := m.roc()
	metrics.ROCAUC = math.NaN()
	if len(curve) > 1 {
		fpr := make([]float64, len(curve))
		tpr := make([]float64, len(curve))
		for i, p := range curve {
			fpr[i], tpr[i] = p.FPR, p.TPR
		}
		metrics.ROCAUC = integrate.Trapezoidal(fpr, tpr)
	}
	return metrics, curve
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// roc builds the curve over the pixel subsample
func (m *MetricsAccumulator) roc() []ROCPoint {
	n := m.total
	if n == 0 {
		return nil
	}
	keep := n
	if m.sampleLimit > 0 && m.sampleLimit < n {
		keep = m.sampleLimit
	}

	y := make([]float64, 0, keep)
	classes := make([]bool, 0, keep)
	next, seen := 0, 0
	for img := range m.probs {
		for i, p := range m.probs[img] {
			if seen+i == next*n/keep && next < keep {
				y = append(y, float64(p))
				classes = append(classes, m.labels[img][i] > 0.5)
				next++
			}
		}
		seen += len(m.probs[img])
	}

	positives := 0
	for _, c := range classes {
		if c {
			positives++
		}
	}
	if positives == 0 || positives == len(classes) {
		return nil
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, thresh := stat.ROC(nil, y, classes, nil)

	curve := make([]ROCPoint, len(tpr))
	for i := range tpr {
		curve[i] = ROCPoint{FPR: fpr[i], TPR: tpr[i], Threshold: thresh[i]}
	}
	sort.SliceStable(curve, func(i, j int) bool {
		if curve[i].FPR != curve[j].FPR {
			return curve[i].FPR < curve[j].FPR
		}
		return curve[i].TPR < curve[j].TPR
	})
	return curve
}

// SampleCurve picks count points at evenly spaced indices of curve, repeating
// points when the curve is shorter
func SampleCurve(curve []ROCPoint, count int) []ROCPoint {
	if len(curve) == 0 || count <= 0 {
		return nil
	}
	out := make([]ROCPoint, count)
	for i := range out {
		idx := 0
		if count > 1 {
			idx = int(float64(i) * float64(len(curve)-1) / float64(count-1))
		}
		out[i] = curve[idx]
	}
	return out
}

// WriteMetrics writes the single-row metrics table
func WriteMetrics(path string, m SegmentationMetrics) error {
	return writeCSV(path, [][]string{
		{"Pixel Accuracy", "IoU", "Dice", "Precision", "Recall", "ROC-AUC"},
		{formatFloat(m.PixelAccuracy), formatFloat(m.IoU), formatFloat(m.Dice),
			formatFloat(m.Precision), formatFloat(m.Recall), formatFloat(m.ROCAUC)},
	})
}

// WriteConfusion writes the 2x2 confusion matrix with row and column labels
func WriteConfusion(path string, c Confusion) error {
	return writeCSV(path, [][]string{
		{"", "Predicted Negative", "Predicted Positive"},
		{"True Negative", strconv.Itoa(c.TN), strconv.Itoa(c.FP)},
		{"True Positive", strconv.Itoa(c.FN), strconv.Itoa(c.TP)},
	})
}

// WriteROC writes curve points
func WriteROC(path string, curve []ROCPoint) error {
	rows := [][]string{{"False positive rate", "True positive rate", "Thresholds"}}
	for _, p := range curve {
		rows = append(rows, []string{formatFloat(p.FPR), formatFloat(p.TPR), formatFloat(p.Threshold)})
	}
	return writeCSV(path, rows)
}
