package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"episode-generator/internal/events"
	"episode-generator/internal/models"
	"episode-generator/internal/processor"
	"episode-generator/internal/ratelimit"
	"episode-generator/internal/store"
	"episode-generator/internal/telemetry"
)

const (
	defaultLogLimit = 100
	stopTimeout     = 30 * time.Second
)

// Limiter throttles enqueue requests per source.
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Server wires HTTP handlers for the queue and processor control surface.
type Server struct {
	proc    *processor.QueueProcessor
	limiter Limiter
	metrics http.Handler
	logger  *zap.Logger
}

// New constructs the API server. limiter and metrics may be nil.
func New(proc *processor.QueueProcessor, limiter Limiter, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		proc:    proc,
		limiter: limiter,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": s.proc.Running()})
	})
	if s.metrics != nil {
		r.Mount("/metrics", s.metrics)
	}

	r.Route("/queue", func(r chi.Router) {
		r.Post("/", s.handleEnqueue)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGetItem)
		r.Post("/{id}/process", s.handleProcess)
	})

	r.Route("/processor", func(r chi.Router) {
		r.Post("/start", s.control(func(*http.Request) models.ControlResult { return s.proc.Start() }))
		r.Post("/stop", s.control(s.stop))
		r.Post("/pause", s.control(func(*http.Request) models.ControlResult { return s.proc.Pause() }))
		r.Post("/resume", s.control(func(*http.Request) models.ControlResult { return s.proc.Resume() }))
		r.Get("/status", s.handleStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
		r.Get("/config", s.handleGetConfig)
		r.Put("/config", s.handleUpdateConfig)
	})
	return r
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req processor.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		source := req.SourceName
		if source == "" {
			source = "manual"
		}
		d, err := s.limiter.Allow(r.Context(), source)
		if err != nil {
			s.logger.Warn("enqueue rate limit check failed", zap.String("source", source), zap.Error(err))
		} else if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	item, err := s.proc.Enqueue(req)
	if err != nil {
		if errors.Is(err, processor.ErrInvalidRequest) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	items := s.proc.Items()
	if status := models.Status(r.URL.Query().Get("status")); status != "" {
		if !status.Valid() {
			http.Error(w, fmt.Sprintf("unknown status %q", status), http.StatusBadRequest)
			return
		}
		filtered := items[:0]
		for _, it := range items {
			if it.Status == status {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type itemResponse struct {
	models.QueueItem
	Payload models.Payload `json:"payload"`
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.proc.Item(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, itemResponse{QueueItem: item, Payload: item.Payload})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.ProcessItem(chi.URLParam(r, "id")))
}

// control adapts a processor control operation. Results always go out as
// 200 with the success flag in the body.
func (s *Server) control(op func(*http.Request) models.ControlResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, op(r))
	}
}

func (s *Server) stop(r *http.Request) models.ControlResult {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	return s.proc.Stop(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Stats())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	level, err := events.ParseLevel(r.URL.Query().Get("level"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": s.proc.Logs(level, limit)})
}

type configResponse struct {
	Active  processor.ConfigView  `json:"active"`
	Pending *processor.ConfigView `json:"pending,omitempty"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	resp := configResponse{Active: s.proc.Config().View()}
	if pending, ok := s.proc.PendingConfig(); ok {
		v := pending.View()
		resp.Pending = &v
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch processor.ConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.proc.UpdateConfig(patch))
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
