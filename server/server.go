// Package server exposes the workflow engine over HTTP: JSON endpoints to
// start, inspect, resume, and cancel executions, plus a Server-Sent Events
// stream of run progress and completion tokens for live learner UIs.
package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ellflow/ellflow-go/flow"
	"github.com/ellflow/ellflow-go/flow/assessment"
	"github.com/ellflow/ellflow-go/flow/completion"
	"github.com/ellflow/ellflow-go/flow/emit"
	"github.com/ellflow/ellflow-go/flow/store"
)

// Options configures a Server. Zero values get working defaults: an
// in-memory store, the deterministic fallback completion client, and no
// metrics endpoint.
type Options struct {
	// Store persists execution records and audit trails.
	// Default: store.NewMemStore().
	Store store.Store

	// Completion is the backend used by content and inference nodes.
	// Default: completion.NewFallback().
	Completion completion.Client

	// AssessmentSink receives comprehension-check scores.
	AssessmentSink assessment.Sink

	// Emitter receives engine lifecycle events for every run.
	Emitter emit.Emitter

	// Registry overrides the built-in node handlers.
	Registry *flow.Registry

	// PromRegistry, when set, enables engine metrics and mounts
	// GET /metrics backed by this registry.
	PromRegistry *prometheus.Registry

	// MaxConcurrentNodes and NodeTimeout override engine defaults for
	// every run when positive.
	MaxConcurrentNodes int
	NodeTimeout        time.Duration

	// Logger receives server-side warnings (persistence failures,
	// rejected requests). Default: slog.Default().
	Logger *slog.Logger
}

// Server hosts workflow runs. Each POSTed execution gets its own engine
// instance; the server tracks live runs for event streaming and control,
// and persists records through the configured store.
type Server struct {
	opts    Options
	metrics *flow.PrometheusMetrics
	log     *slog.Logger
	engine  *gin.Engine

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	if opts.Store == nil {
		opts.Store = store.NewMemStore()
	}
	if opts.Completion == nil {
		opts.Completion = completion.NewFallback()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Server{
		opts: opts,
		log:  opts.Logger,
		runs: make(map[string]*runHandle),
	}
	if opts.PromRegistry != nil {
		s.metrics = flow.NewPrometheusMetrics(opts.PromRegistry)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	s.engine = engine
	s.registerRoutes()
	return s
}

// Router returns the underlying gin engine, for mounting middleware or
// serving: http.ListenAndServe(addr, srv.Router()).
func (s *Server) Router() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("/api/v1")
	{
		api.POST("/executions", s.startExecution)
		api.GET("/executions", s.listExecutions)
		api.GET("/executions/:id", s.getExecution)
		api.GET("/executions/:id/events", s.streamEvents)
		api.POST("/executions/:id/resume", s.resumeExecution)
		api.POST("/executions/:id/cancel", s.cancelExecution)
	}
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if s.opts.PromRegistry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.PromRegistry, promhttp.HandlerOpts{})))
	}
}

// executorOptions assembles the engine options for one run.
func (s *Server) executorOptions(runID string, cb flow.Callbacks) []flow.Option {
	opts := []flow.Option{
		flow.WithRunID(runID),
		flow.WithCompletion(s.opts.Completion),
		flow.WithCallbacks(cb),
	}
	if s.opts.AssessmentSink != nil {
		opts = append(opts, flow.WithAssessmentSink(s.opts.AssessmentSink))
	}
	if s.opts.Emitter != nil {
		opts = append(opts, flow.WithEmitter(s.opts.Emitter))
	}
	if s.opts.Registry != nil {
		opts = append(opts, flow.WithRegistry(s.opts.Registry))
	}
	if s.metrics != nil {
		opts = append(opts, flow.WithMetrics(s.metrics))
	}
	if s.opts.MaxConcurrentNodes > 0 {
		opts = append(opts, flow.WithMaxConcurrentNodes(s.opts.MaxConcurrentNodes))
	}
	if s.opts.NodeTimeout > 0 {
		opts = append(opts, flow.WithNodeTimeout(s.opts.NodeTimeout))
	}
	return opts
}

func (s *Server) addRun(h *runHandle) {
	s.mu.Lock()
	s.runs[h.id] = h
	s.mu.Unlock()
}

func (s *Server) run(id string) (*runHandle, bool) {
	s.mu.RLock()
	h, ok := s.runs[id]
	s.mu.RUnlock()
	return h, ok
}
