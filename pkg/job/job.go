// Package job runs one long operation on a dedicated goroutine. The controller
// polls for the outcome without blocking and requests cooperative stops.
package job

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind is the coarse outcome of a job
type Kind int

const (
	Running Kind = iota
	Completed
	Stopped
	Failed
)

func (k Kind) String() string {
	switch k {
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Status is a snapshot of a job
type Status struct {
	ID       string
	Name     string
	Kind     Kind
	Err      error
	Result   any
	Started  time.Time
	Finished time.Time
}

// Done reports whether the job reached a terminal state
func (s Status) Done() bool {
	return s.Kind != Running
}

// Func is the work of a job. It must return promptly once ctx is cancelled.
type Func func(ctx context.Context) (any, error)

// Job is a running or finished operation
type Job struct {
	cancel context.CancelFunc
	done   chan Status

	status        atomic.Pointer[Status]
	stopRequested atomic.Bool
}

// Start launches fn on its own goroutine
func Start(parent context.Context, name string, fn Func) *Job {
	ctx, cancel := context.WithCancel(parent)
	j := &Job{cancel: cancel, done: make(chan Status, 1)}
	initial := &Status{ID: uuid.NewString(), Name: name, Kind: Running, Started: time.Now()}
	j.status.Store(initial)

	go func() {
		defer cancel()
		result, err := fn(ctx)
		final := *initial
		final.Result = result
		final.Finished = time.Now()
		switch {
		case j.stopRequested.Load() && (err == nil || errors.Is(err, context.Canceled)):
			final.Kind = Stopped
		case err != nil:
			final.Kind = Failed
			final.Err = err
		default:
			final.Kind = Completed
		}
		j.done <- final
	}()
	return j
}

// ID returns the job identifier
func (j *Job) ID() string {
	return j.status.Load().ID
}

// Poll returns the latest status without blocking
func (j *Job) Poll() Status {
	select {
	case s := <-j.done:
		j.status.Store(&s)
	default:
	}
	return *j.status.Load()
}

// Stop requests cancellation. The job observes it at its next checkpoint.
func (j *Job) Stop() {
	j.stopRequested.Store(true)
	j.cancel()
}

// StopRequested reports whether Stop was called
func (j *Job) StopRequested() bool {
	return j.stopRequested.Load()
}

// Wait polls every interval until the job finishes
func (j *Job) Wait(interval time.Duration) Status {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if s := j.Poll(); s.Done() {
			return s
		}
		<-ticker.C
	}
}
