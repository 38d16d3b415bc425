// Package server exposes the analysis and training jobs over HTTP. One job runs
// at a time; progress is followed through the event stream.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"siperea/pkg/config"
	"siperea/pkg/events"
	"siperea/pkg/job"
	"siperea/pkg/pipeline"
)

const (
	eventName    = "log"
	streamBuffer = 256
)

// Server owns the active job and the event broker
type Server struct {
	cfg    *config.Config
	broker *events.Broker
	logger *logrus.Entry

	mu      sync.Mutex
	current *job.Job
}

// New creates a server. Jobs log through logger; the broker should be fed by
// an events.Hook on the same logger.
func New(cfg *config.Config, broker *events.Broker, logger *logrus.Entry) *Server {
	return &Server{cfg: cfg, broker: broker, logger: logger.WithField("component", "server")}
}

// AnalysisRequest starts an analysis. Unset flags keep the configured value.
type AnalysisRequest struct {
	InputDir          string `json:"inputDir" binding:"required"`
	ModelPath         string `json:"modelPath"`
	SaveMasks         *bool  `json:"saveMasks"`
	SaveVisualization *bool  `json:"saveVisualization"`
	SaveEnhanced      *bool  `json:"saveEnhanced"`
}

// TrainingRequest starts a training run. Unset values keep the configured value.
type TrainingRequest struct {
	SourceDir string `json:"sourceDir" binding:"required"`
	MaskDir   string `json:"maskDir" binding:"required"`
	Epochs    *int   `json:"epochs"`
	Folds     *int   `json:"folds"`
}

// StatusResponse describes the latest job
type StatusResponse struct {
	ID       string     `json:"id,omitempty"`
	Name     string     `json:"name,omitempty"`
	State    string     `json:"state"`
	Error    string     `json:"error,omitempty"`
	Result   any        `json:"result,omitempty"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
}

// Router builds the gin engine with all routes registered
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/health", s.health)
	api := router.Group("/v1")
	{
		api.POST("/analysis", s.startAnalysis)
		api.POST("/training", s.startTraining)
		api.POST("/stop", s.stop)
		api.GET("/status", s.status)
		api.GET("/events", s.events)
		api.GET("/events/stream", s.streamEvents)
	}
	return router
}

// Run serves on addr until ctx is cancelled, then stops the active job and
// shuts the listener down
func (s *Server) Run(ctx context.Context, addr string) error {
	// requests derive from ctx so open event streams end on shutdown
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Router(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Infof("Listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	if j := s.active(); j != nil {
		j.Stop()
		j.Wait(s.cfg.Analysis.PollInterval)
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request handled")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) startAnalysis(c *gin.Context) {
	var req AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := pipeline.NewAnalysisParams(s.cfg, req.InputDir)
	if req.ModelPath != "" {
		params.ModelPath = req.ModelPath
	}
	if req.SaveMasks != nil {
		params.SaveMasks = *req.SaveMasks
	}
	if req.SaveVisualization != nil {
		params.SaveVisualization = *req.SaveVisualization
	}
	if req.SaveEnhanced != nil {
		params.SaveEnhanced = *req.SaveEnhanced
	}

	analyzer := pipeline.NewAnalyzer(params, s.logger.WithField("job", "analysis"))
	s.launch(c, "analysis", func(ctx context.Context) (any, error) {
		return analyzer.Run(ctx)
	})
}

func (s *Server) startTraining(c *gin.Context) {
	var req TrainingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params := pipeline.NewTrainingParams(s.cfg, req.SourceDir, req.MaskDir)
	if req.Epochs != nil {
		if *req.Epochs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "epochs must be positive"})
			return
		}
		params.Options.Epochs = *req.Epochs
	}
	if req.Folds != nil {
		params.Options.Folds = *req.Folds
	}

	trainer := pipeline.NewTrainer(params, s.logger.WithField("job", "training"))
	s.launch(c, "training", func(ctx context.Context) (any, error) {
		summary, err := trainer.Run(ctx)
		if summary == nil {
			return nil, err
		}
		return newTrainingView(summary), err
	})
}

// launch starts fn unless another job is still running
func (s *Server) launch(c *gin.Context, name string, fn job.Func) {
	s.mu.Lock()
	if s.current != nil && !s.current.Poll().Done() {
		s.mu.Unlock()
		c.JSON(http.StatusConflict, gin.H{"error": "a job is already running", "id": s.current.ID()})
		return
	}
	j := job.Start(context.Background(), name, fn)
	s.current = j
	s.mu.Unlock()

	s.logger.WithField("id", j.ID()).Infof("Started %s job", name)
	c.JSON(http.StatusAccepted, gin.H{"id": j.ID(), "name": name})
}

func (s *Server) active() *job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Server) stop(c *gin.Context) {
	j := s.active()
	if j == nil || j.Poll().Done() {
		c.JSON(http.StatusConflict, gin.H{"error": "no job is running"})
		return
	}
	j.Stop()
	s.logger.WithField("id", j.ID()).Info("Stop requested")
	c.JSON(http.StatusAccepted, gin.H{"id": j.ID(), "stopRequested": true})
}

func (s *Server) status(c *gin.Context) {
	j := s.active()
	if j == nil {
		c.JSON(http.StatusOK, StatusResponse{State: "idle"})
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(j.Poll()))
}

func (s *Server) events(c *gin.Context) {
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a sequence number"})
		return
	}
	evs := s.broker.Since(since)
	if evs == nil {
		evs = []events.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": evs, "last": s.broker.Last()})
}

// streamEvents sends the retained events after since, then follows the broker
// as server-sent events until the client goes away
func (s *Server) streamEvents(c *gin.Context) {
	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a sequence number"})
		return
	}
	// subscribe first so nothing published during the replay is missed
	live, unsubscribe := s.broker.Subscribe(streamBuffer)
	defer unsubscribe()

	last := since
	for _, ev := range s.broker.Since(since) {
		c.SSEvent(eventName, ev)
		last = ev.Seq
	}
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case ev, ok := <-live:
			if !ok {
				return false
			}
			if ev.Seq > last {
				c.SSEvent(eventName, ev)
				last = ev.Seq
			}
			return true
		}
	})
}

func newStatusResponse(st job.Status) StatusResponse {
	resp := StatusResponse{
		ID:      st.ID,
		Name:    st.Name,
		State:   st.Kind.String(),
		Result:  st.Result,
		Started: &st.Started,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	if st.Done() {
		resp.Finished = &st.Finished
	}
	return resp
}
