// Package server exposes the pipeline over HTTP and streams status updates
// to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/ngandimoun/voicejobs/models"
	"github.com/ngandimoun/voicejobs/pipeline"
	"github.com/ngandimoun/voicejobs/store"
)

// Server handles HTTP requests for job management.
type Server struct {
	pipeline    *pipeline.Pipeline
	hub         *Hub
	httpAddr    string
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	httpSrv     *http.Server
	unsubscribe func()
}

// NewServer creates a server over the pipeline and wires the websocket hub
// to the status broadcaster.
func NewServer(p *pipeline.Pipeline, httpAddr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	hub := NewHub(logger)
	hub.Start()

	s := &Server{
		pipeline: p,
		hub:      hub,
		httpAddr: httpAddr,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.unsubscribe = p.Subscribe(hub.BroadcastUpdate)
	return s
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	corsMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}

	mux.Handle("/jobs", corsMiddleware(http.HandlerFunc(s.handleJobs)))
	mux.Handle("/jobs/", corsMiddleware(http.HandlerFunc(s.handleJobDetails)))
	mux.Handle("/ws", http.HandlerFunc(s.handleWebSocket))
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{Addr: s.httpAddr, Handler: s.Handler()}

	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpAddr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops the HTTP server and disconnects websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()
	s.hub.Stop()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type submitRequest struct {
	SourceID   string `json:"source_id"`
	Transcript string `json:"transcript"`
	Summary    string `json:"summary,omitempty"`
}

// handleJobs handles job submission and listing.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Transcript) == "" {
			http.Error(w, "Missing transcript", http.StatusBadRequest)
			return
		}

		jobID, err := s.pipeline.Submit(r.Context(), req.SourceID, models.JobPayload{
			Transcript: req.Transcript,
			Summary:    req.Summary,
		})
		if err != nil {
			http.Error(w, "Failed to submit job", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": jobID})
		return
	}

	// GET - list unfinished jobs, optionally narrowed by status.
	views := s.pipeline.ListPendingJobs(r.Context())
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := views[:0]
		for _, v := range views {
			if v.Status == models.JobStatus(status) {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(views)
}

// handleJobDetails serves a single job and the retry action.
func (s *Server) handleJobDetails(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/jobs/")

	if r.Method == http.MethodPost && path.Base(rest) == "retry" {
		jobID := path.Dir(rest)
		// Silent no-op on unknown jobs: the caller cannot know whether
		// the job was already swept.
		s.pipeline.RetryJob(r.Context(), jobID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	job, err := s.pipeline.Job(r.Context(), rest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "Job not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to load job", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// handleWebSocket upgrades the connection and streams status updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade to websocket", slog.String("error", err.Error()))
		return
	}

	s.hub.Register(conn)

	// New listeners cannot see past transitions; send the unfinished jobs
	// so they can reconcile.
	views := s.pipeline.ListPendingJobs(r.Context())
	initial, err := json.Marshal(map[string]interface{}{
		"type": "pending_jobs",
		"jobs": views,
	})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, initial)
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.hub.Unregister(conn)
				break
			}
		}
	}()
}
