// Package api exposes the HTTP interface for the crawl engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/metascan/crawler/internal/crawl"
	"github.com/metascan/crawler/internal/metrics"
	"github.com/metascan/crawler/internal/scheduler"
)

// TaskService is the scheduler surface the API depends on.
type TaskService interface {
	Submit(ctx context.Context, rawURL string, opts crawl.SubmitOptions) (crawl.Task, error)
	SubmitBatch(ctx context.Context, urls []string, opts crawl.SubmitOptions) ([]crawl.Task, error)
	GetTask(id string) (crawl.Task, error)
	ListTasks(filter crawl.ListFilter) []crawl.Task
	Cancel(ctx context.Context, id string) error
}

// Server wires HTTP handlers to the scheduler and the result repository.
type Server struct {
	router chi.Router
	tasks  TaskService
	repo   crawl.Repository
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(tasks TaskService, repo crawl.Repository, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{tasks: tasks, repo: repo, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/crawl", s.submitCrawl)
		r.Post("/crawl/batch", s.submitBatch)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Route("/{task_id}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Get("/result", s.getResult)
				r.Post("/cancel", s.cancelTask)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type crawlRequest struct {
	URL           string            `json:"url"`
	Priority      int               `json:"priority"`
	MaxAttempts   int               `json:"max_attempts"`
	CrawlDelayMs  int               `json:"crawl_delay_ms"`
	RespectRobots *bool             `json:"respect_robots"`
	UserAgent     string            `json:"user_agent"`
	Headers       map[string]string `json:"headers"`
}

type batchRequest struct {
	URLs          []string          `json:"urls"`
	Priority      int               `json:"priority"`
	MaxAttempts   int               `json:"max_attempts"`
	CrawlDelayMs  int               `json:"crawl_delay_ms"`
	RespectRobots *bool             `json:"respect_robots"`
	UserAgent     string            `json:"user_agent"`
	Headers       map[string]string `json:"headers"`
}

func submitOptions(priority, maxAttempts, delayMs int, respectRobots *bool, userAgent string, headers map[string]string) crawl.SubmitOptions {
	opts := crawl.SubmitOptions{
		Priority:      priority,
		MaxAttempts:   maxAttempts,
		CrawlDelay:    time.Duration(delayMs) * time.Millisecond,
		RespectRobots: respectRobots,
		UserAgent:     userAgent,
	}
	if len(headers) > 0 {
		opts.Headers = http.Header{}
		for k, v := range headers {
			opts.Headers.Set(k, v)
		}
	}
	return opts
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	opts := submitOptions(req.Priority, req.MaxAttempts, req.CrawlDelayMs, req.RespectRobots, req.UserAgent, req.Headers)
	task, err := s.tasks.Submit(r.Context(), req.URL, opts)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts := submitOptions(req.Priority, req.MaxAttempts, req.CrawlDelayMs, req.RespectRobots, req.UserAgent, req.Headers)
	tasks, err := s.tasks.SubmitBatch(r.Context(), req.URLs, opts)
	if err != nil {
		writeError(w, submitStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if !task.State.Terminal() {
		writeError(w, http.StatusConflict, "task has not finished")
		return
	}
	meta, finalState, err := s.repo.LoadResult(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":     taskID,
		"final_state": finalState,
		"metadata":    meta,
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	filter := crawl.ListFilter{
		State: crawl.TaskState(r.URL.Query().Get("state")),
		Limit: 100,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}
	tasks := s.tasks.ListTasks(filter)
	if tasks == nil {
		tasks = []crawl.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	err := s.tasks.Cancel(r.Context(), taskID)
	switch {
	case errors.Is(err, scheduler.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, scheduler.ErrTaskFinished):
		writeError(w, http.StatusConflict, "task already in a terminal state")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"task_id": taskID, "status": "canceling"})
	}
}

func submitStatus(err error) int {
	var te *crawl.TaskError
	if errors.As(err, &te) && te.Kind == crawl.ErrInvalidURL {
		return http.StatusBadRequest
	}
	if errors.Is(err, scheduler.ErrBatchTooLarge) || errors.Is(err, scheduler.ErrEmptyBatch) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
