package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-http-utils/etag"
	"github.com/sardine-ai/go-db-config/source"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// probePaths are served without authentication.
var probePaths = map[string]bool{
	"/health": true,
	"/ready":  true,
	"/status": true,
}

// Server exposes the published settings of its repositories over HTTP.
// Repositories refresh themselves; the server only reads them.
type Server struct {
	Repositories []source.Repository
	AuthKey      string

	mu         sync.Mutex
	httpServer *http.Server
	shutdown   bool
}

func NewServer(repositories []source.Repository) *Server {
	return &Server{Repositories: repositories}
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	logrus.WithField("addr", addr).Info("Starting server")

	handler := etag.Handler(s.CreateHandlers(), false)
	if s.AuthKey != "" {
		handler = Auth(handler, s.AuthKey)
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{Addr: addr, Handler: handler}
	httpServer := s.httpServer
	s.mu.Unlock()

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server. A Start after Shutdown returns
// immediately.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.shutdown = true
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// IsHealthy reports whether the last refresh of every repository succeeded.
func (s *Server) IsHealthy() bool {
	for _, repo := range s.Repositories {
		if !repo.Status().IsHealthy {
			return false
		}
	}
	return true
}

// IsReady reports whether at least one repository has loaded its settings.
func (s *Server) IsReady() bool {
	for _, repo := range s.Repositories {
		if repo.Status().IsReady {
			return true
		}
	}
	return false
}

// GetRepositoryStatus returns the status of every repository keyed by name.
func (s *Server) GetRepositoryStatus() map[string]source.Status {
	status := make(map[string]source.Status, len(s.Repositories))
	for _, repo := range s.Repositories {
		status[repo.GetName()] = repo.Status()
	}
	return status
}

func (s *Server) CreateHandlers() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", readOnly(func(w http.ResponseWriter, r *http.Request) {
		if s.IsHealthy() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}))
	mux.HandleFunc("/ready", readOnly(func(w http.ResponseWriter, r *http.Request) {
		if s.IsReady() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}))
	mux.HandleFunc("/status", readOnly(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"healthy":      s.IsHealthy(),
			"ready":        s.IsReady(),
			"repositories": s.GetRepositoryStatus(),
		})
	}))
	registered := map[string]bool{"/": true}
	for path := range probePaths {
		registered[path] = true
	}
	for _, repo := range s.Repositories {
		repo := repo
		path := "/" + repo.GetName()
		if registered[path] {
			logrus.WithField("repository", repo.GetName()).Error("repository path already in use, not serving it")
			continue
		}
		registered[path] = true
		mux.HandleFunc(path, readOnly(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.WriteHeader(http.StatusOK)
			_, err := w.Write(repo.GetRawData())
			if err != nil {
				logrus.WithError(err).Error("error writing response")
			}
		}))
	}
	return mux
}

func readOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Error("error writing response")
	}
}

// Auth is a middleware that checks the X-API-KEY header against authKey.
// Health probes are served without a key.
func Auth(next http.Handler, authKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if probePaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-KEY")
		if key == "" || key != authKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
