package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"siperea/pkg/config"
	"siperea/pkg/events"
	"siperea/pkg/imageio"
	"siperea/pkg/job"
	"siperea/pkg/predictor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer returns a server whose jobs log into its broker
func newTestServer(t *testing.T) (*Server, *events.Broker) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Model.TileSize = 16
	cfg.Model.Overlap = 4
	cfg.Model.Path = filepath.Join(t.TempDir(), "model.json")
	if err := predictor.Save(predictor.NewPixelModel(16, 1), cfg.Model.Path); err != nil {
		t.Fatalf("Failed to write model: %v", err)
	}

	broker := events.NewBroker(0)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(events.NewHook(broker, logrus.InfoLevel))
	return New(cfg, broker, logrus.NewEntry(logger)), broker
}

func do(router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("Invalid JSON %q: %v", w.Body.String(), err)
	}
}

// TestHealthAndIdleStatus verifies the probes before any job
func TestHealthAndIdleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	if w := do(router, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	w := do(router, http.MethodGet, "/v1/status", nil)
	var status StatusResponse
	decode(t, w, &status)
	if status.State != "idle" {
		t.Errorf("Expected idle, got %+v", status)
	}

	if w := do(router, http.MethodPost, "/v1/stop", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 without a job, got %d", w.Code)
	}
}

// TestAnalysisJob verifies an analysis runs to completion and logs events
func TestAnalysisJob(t *testing.T) {
	s, broker := newTestServer(t)
	router := s.Router()

	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetRGBA(0, 0, color.RGBA{A: 255})
	if err := imageio.SavePNG(filepath.Join(dir, "2024-01-01 (00-00-00-000).png"), img); err != nil {
		t.Fatal(err)
	}

	w := do(router, http.MethodPost, "/v1/analysis", AnalysisRequest{InputDir: dir})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if final := s.active().Wait(time.Millisecond); final.Kind != job.Completed {
		t.Fatalf("Expected completed job, got %+v", final)
	}

	var status StatusResponse
	decode(t, do(router, http.MethodGet, "/v1/status", nil), &status)
	if status.State != "completed" || status.Name != "analysis" || status.Finished == nil {
		t.Errorf("Unexpected status %+v", status)
	}

	var stream struct {
		Events []events.Event `json:"events"`
		Last   uint64         `json:"last"`
	}
	decode(t, do(router, http.MethodGet, "/v1/events?since=0", nil), &stream)
	if len(stream.Events) == 0 || stream.Last != broker.Last() {
		t.Fatalf("Expected events up to %d, got %+v", broker.Last(), stream)
	}

	decode(t, do(router, http.MethodGet, "/v1/events?since="+strconv.FormatUint(stream.Last, 10), nil), &stream)
	if len(stream.Events) != 0 {
		t.Errorf("Expected no newer events, got %d", len(stream.Events))
	}
}

// TestAnalysisJobFails verifies setup errors surface in the status
func TestAnalysisJobFails(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	w := do(router, http.MethodPost, "/v1/analysis", AnalysisRequest{InputDir: filepath.Join(t.TempDir(), "missing")})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	s.active().Wait(time.Millisecond)

	var status StatusResponse
	decode(t, do(router, http.MethodGet, "/v1/status", nil), &status)
	if status.State != "failed" || status.Error == "" {
		t.Errorf("Expected failed status with error, got %+v", status)
	}
}

// TestSingleActiveJob verifies a second job is refused until the first stops
func TestSingleActiveJob(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	s.current = job.Start(context.Background(), "training", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	w := do(router, http.MethodPost, "/v1/training", TrainingRequest{SourceDir: t.TempDir(), MaskDir: t.TempDir()})
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d", w.Code)
	}

	if w := do(router, http.MethodPost, "/v1/stop", nil); w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if final := s.current.Wait(time.Millisecond); final.Kind != job.Stopped {
		t.Fatalf("Expected stopped job, got %+v", final)
	}

	var status StatusResponse
	decode(t, do(router, http.MethodGet, "/v1/status", nil), &status)
	if status.State != "stopped" {
		t.Errorf("Expected stopped, got %+v", status)
	}

	// Once finished, a new job may start
	w = do(router, http.MethodPost, "/v1/analysis", AnalysisRequest{InputDir: t.TempDir()})
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202 after stop, got %d", w.Code)
	}
	s.active().Wait(time.Millisecond)
}

// TestBadRequests verifies validation of request bodies and queries
func TestBadRequests(t *testing.T) {
	s, _ := newTestServer(t)
	router := s.Router()

	if w := do(router, http.MethodPost, "/v1/analysis", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without inputDir, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/v1/training", map[string]string{"sourceDir": "x"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without maskDir, got %d", w.Code)
	}
	zero := 0
	if w := do(router, http.MethodPost, "/v1/training", TrainingRequest{SourceDir: "x", MaskDir: "y", Epochs: &zero}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero epochs, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/v1/events?since=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", w.Code)
	}
	if w := do(router, http.MethodGet, "/v1/events/stream?since=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad stream since, got %d", w.Code)
	}
}

// nextEvent reads one server-sent event from r
func nextEvent(t *testing.T, r *bufio.Reader) events.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("Stream ended early: %v", err)
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			t.Fatalf("Invalid event %q: %v", data, err)
		}
		return ev
	}
}

// TestEventStream verifies the stream replays after since and then follows live events
func TestEventStream(t *testing.T) {
	s, broker := newTestServer(t)
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	broker.Publish(events.Event{Message: "first"})
	broker.Publish(events.Event{Message: "second"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/stream?since=1", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Expected an event stream, got %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	if ev := nextEvent(t, r); ev.Seq != 2 || ev.Message != "second" {
		t.Fatalf("Expected replay of event 2, got %+v", ev)
	}
	broker.Publish(events.Event{Message: "live"})
	if ev := nextEvent(t, r); ev.Seq != 3 || ev.Message != "live" {
		t.Fatalf("Expected live event 3, got %+v", ev)
	}
}
