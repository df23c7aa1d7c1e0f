package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/config"
	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
	"github.com/JakeFAU/ondemand-crawler/internal/live"
	"github.com/JakeFAU/ondemand-crawler/internal/metrics"
	"github.com/JakeFAU/ondemand-crawler/internal/results"
)

const (
	enqueueTimeout = 5 * time.Second
	requestTimeout = 60 * time.Second
	maxQueryLength = 512
)

// Enqueuer accepts tasks for asynchronous execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// StatusReader answers poll requests.
type StatusReader interface {
	Status(ctx context.Context, taskID string) (results.Status, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options wires a Server's collaborators.
type Options struct {
	Tasks    crawler.TaskStore
	Enqueuer Enqueuer
	Results  StatusReader
	Live     *live.Registry
	LiveConn live.ConnConfig
	IDGen    crawler.IDGenerator
	Clock    crawler.Clock
	// ValidID rejects malformed task ids before any store lookup. Nil accepts all.
	ValidID func(string) bool
	Ready   map[string]ReadinessCheck
	Auth    config.AuthConfig
	Logger  *zap.Logger
}

// Server wires HTTP handlers to the task queue, stores and live registry.
type Server struct {
	router   chi.Router
	opts     Options
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ValidID == nil {
		opts.ValidID = func(id string) bool { return id != "" }
	}
	s := &Server{
		opts:   opts,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if opts.Auth.Enabled {
			r.Use(s.apiKeyMiddleware(opts.Auth.APIKey))
		}
		// Upgraded connections outlive any request timeout.
		r.Get("/ws/{task_id}", s.liveChannel)

		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(requestTimeout))
			r.Get("/search", s.searchQuery)
			r.Get("/result/{task_id}", s.getResult)
			r.Route("/v1", func(r chi.Router) {
				r.Post("/search", s.searchJSON)
				r.Get("/tasks/{task_id}", s.getResult)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failed := make(map[string]string)
	for name, check := range s.opts.Ready {
		if err := check(r.Context()); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failed})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	TaskID string `json:"task_id"`
	Query  string `json:"query"`
}

func (s *Server) searchQuery(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, r.URL.Query().Get("q"))
}

func (s *Server) searchJSON(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.submit(w, r, req.Query)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, rawQuery string) {
	query := strings.TrimSpace(rawQuery)
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if len(query) > maxQueryLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("query exceeds %d bytes", maxQueryLength))
		return
	}
	taskID, err := s.enqueueTask(r.Context(), query)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("submit task failed", zap.String("query", query), zap.Error(err))
		s.writeError(w, status, err.Error())
		return
	}
	metrics.ObserveSubmission()
	s.writeJSON(w, http.StatusAccepted, searchResponse{TaskID: taskID, Query: query})
}

func (s *Server) enqueueTask(ctx context.Context, query string) (string, error) {
	taskID, err := s.opts.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	now := s.opts.Clock.Now()
	task := crawler.Task{
		ID:          taskID,
		Query:       query,
		State:       crawler.TaskPending,
		SubmittedAt: now,
	}
	if err := s.opts.Tasks.CreateTask(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		TaskID:    taskID,
		Query:     query,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.opts.Enqueuer.Enqueue(queueCtx, item); err != nil {
		// The task would otherwise stay PENDING forever.
		if failErr := s.opts.Tasks.FailTask(context.WithoutCancel(ctx), taskID, "task could not be queued"); failErr != nil {
			s.logger.Warn("mark unqueued task failed", zap.String("task_id", taskID), zap.Error(failErr))
		}
		return "", fmt.Errorf("enqueue task: %w", err)
	}
	s.logger.Info("task submitted", zap.String("task_id", taskID), zap.String("query", query))
	return taskID, nil
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if !s.opts.ValidID(taskID) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	status, err := s.opts.Results.Status(r.Context(), taskID)
	switch {
	case errors.Is(err, crawler.ErrTaskNotFound):
		s.writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, results.ErrStoreUnavailable):
		s.logger.Error("hydrate results failed", zap.String("task_id", taskID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load results")
	case err != nil:
		s.logger.Error("lookup task failed", zap.String("task_id", taskID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "task store unavailable")
	default:
		s.writeJSON(w, http.StatusOK, status)
	}
}

func (s *Server) liveChannel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	if !s.opts.ValidID(taskID) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if _, err := s.opts.Tasks.GetTask(r.Context(), taskID); err != nil {
		if errors.Is(err, crawler.ErrTaskNotFound) {
			s.writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, "task store unavailable")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	metrics.LiveConnected(1)
	defer metrics.LiveConnected(-1)

	logger := s.logger.With(zap.String("task_id", taskID))
	logger.Debug("live subscriber connected")
	s.opts.Live.Serve(taskID, live.NewConn(ws, s.opts.LiveConn, logger))
	logger.Debug("live subscriber disconnected")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Int("status", status), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
