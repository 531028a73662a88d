// Package api serves a read-only status surface over the pipeline's durable
// state. It never writes: all mutation happens through stage runs.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	router  *chi.Mux
	port    int
	dataDir string
}

// StageStatus summarizes one stage's state file.
type StageStatus struct {
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
}

func NewServer(port int, dataDir string) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:  router,
		port:    port,
		dataDir: dataDir,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/pipeline/status", s.status)

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	stages, err := s.readStageCounts()
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"data_dir": s.dataDir,
		"stages":   stages,
	})
}

// readStageCounts counts recorded hashes per stage from the state files on
// disk. A missing state directory just means nothing has run yet.
func (s *Server) readStageCounts() ([]StageStatus, error) {
	stateDir := filepath.Join(s.dataDir, "state")
	entries, err := os.ReadDir(stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []StageStatus{}, nil
		}
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	stages := make([]StageStatus, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(stateDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read state file: %w", err)
		}
		var state struct {
			Stage   string                     `json:"stage"`
			Entries map[string]json.RawMessage `json:"entries"`
		}
		if err := json.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", e.Name(), err)
		}
		stage := state.Stage
		if stage == "" {
			stage = strings.TrimSuffix(e.Name(), ".json")
		}
		stages = append(stages, StageStatus{
			Stage:     stage,
			Processed: len(state.Entries),
		})
	}
	return stages, nil
}
