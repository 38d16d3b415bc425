package training

import (
	"math"
)

// State is the lifecycle state of a training run
type State int

const (
	StateRunning State = iota
	StateStopped
	StateEarlyStopped
	StateExhausted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateEarlyStopped:
		return "early_stopped"
	case StateExhausted:
		return "exhausted"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Completed reports whether the run finished on its own and left usable weights
func (s State) Completed() bool {
	return s == StateEarlyStopped || s == StateExhausted
}

// Checkpoint is the best epoch of a run
type Checkpoint struct {
	Epoch       int
	ValLoss     float64
	ValAccuracy float64

	// Weights is the serialized model at that epoch
	Weights []byte

	// Path is the file the checkpoint was persisted to, empty if kept in memory only
	Path string
}

// EpochStats is one row of the training history
type EpochStats struct {
	Epoch         int
	TrainLoss     float64
	ValLoss       float64
	TrainAccuracy float64
	ValAccuracy   float64
	LearningRate  float64
}

// Run is the mutable state of one training run or one fold. It is owned by the
// goroutine executing the run.
type Run struct {
	// Fold is the 1-based fold number, 0 outside k-fold mode
	Fold int

	State        State
	Epoch        int
	LearningRate float64
	Best         *Checkpoint
	History      []EpochStats

	esWait int
	lrWait int
}

func newRun(fold int, learningRate float64) *Run {
	return &Run{Fold: fold, State: StateRunning, LearningRate: learningRate}
}

// BestLoss returns the lowest validation loss seen, +Inf before the first epoch
func (r *Run) BestLoss() float64 {
	if r.Best == nil {
		return math.Inf(1)
	}
	return r.Best.ValLoss
}

// improves reports whether valLoss is strictly better than the best so far
func (r *Run) improves(valLoss float64) bool {
	return valLoss < r.BestLoss()
}

// plateau advances both patience counters after an epoch without improvement.
// It reports whether the learning rate should be reduced and whether training
// should stop.
func (r *Run) plateau(esPatience, lrPatience int) (reduceLR, stop bool) {
	r.esWait++
	r.lrWait++
	if r.lrWait >= lrPatience {
		reduceLR = true
	}
	if r.esWait >= esPatience {
		stop = true
	}
	return reduceLR, stop
}

// reduceLR applies the plateau factor, floored at minLR. The counter restarts
// only when the rate actually changed.
func (r *Run) reduceLR(factor, minLR float64) bool {
	next := math.Max(r.LearningRate*factor, minLR)
	if next >= r.LearningRate {
		return false
	}
	r.LearningRate = next
	r.lrWait = 0
	return true
}

// improved resets both patience counters
func (r *Run) improved(cp *Checkpoint) {
	r.Best = cp
	r.esWait = 0
	r.lrWait = 0
}
