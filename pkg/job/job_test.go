package job

import (
	"context"
	"errors"
	"testing"
	"time"
)

// TestJobCompletes verifies the result is reported once finished
func TestJobCompletes(t *testing.T) {
	release := make(chan struct{})
	j := Start(context.Background(), "analysis", func(ctx context.Context) (any, error) {
		<-release
		return 42, nil
	})

	if s := j.Poll(); s.Kind != Running {
		t.Fatalf("Expected running, got %v", s.Kind)
	}
	close(release)

	s := j.Wait(time.Millisecond)
	if s.Kind != Completed || s.Result != 42 {
		t.Errorf("Expected completed with 42, got %+v", s)
	}
	if again := j.Poll(); again.Kind != Completed {
		t.Errorf("Expected cached terminal status, got %v", again.Kind)
	}
	if s.ID == "" || s.Name != "analysis" {
		t.Errorf("Expected id and name, got %+v", s)
	}
}

// TestJobStop verifies cooperative cancellation is not a failure
func TestJobStop(t *testing.T) {
	j := Start(context.Background(), "training", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	j.Stop()

	s := j.Wait(time.Millisecond)
	if s.Kind != Stopped || s.Err != nil {
		t.Errorf("Expected stopped without error, got %+v", s)
	}
	if !j.StopRequested() {
		t.Error("Expected stop to be recorded")
	}
}

// TestJobFails verifies errors surface as a failed status
func TestJobFails(t *testing.T) {
	boom := errors.New("boom")
	j := Start(context.Background(), "analysis", func(ctx context.Context) (any, error) {
		return nil, boom
	})
	s := j.Wait(time.Millisecond)
	if s.Kind != Failed || !errors.Is(s.Err, boom) {
		t.Errorf("Expected failure, got %+v", s)
	}
}
