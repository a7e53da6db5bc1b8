package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mtzanidakis/conclave/internal/pipeline"
	"github.com/mtzanidakis/conclave/internal/router"
	"github.com/mtzanidakis/conclave/internal/store"
	"github.com/mtzanidakis/conclave/internal/swarm"
)

const maxBodyBytes = 4 << 20

func (s *Server) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.getStatus)

	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)

	mux.HandleFunc("POST /api/pipelines", s.createPipeline)
	mux.HandleFunc("POST /api/recommend", s.recommend)

	mux.HandleFunc("GET /api/schedules", s.listSchedules)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.store.CountRuns()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	natsStatus := "disabled"
	if s.nats != nil {
		natsStatus = "ok"
	}

	jsonResponse(w, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime":         formatUptime(time.Since(s.startedAt)),
		"active_runs":    s.activeRuns.Load(),
		"runs_total":     total,
		"max_concurrent": s.runner.Dispatcher().Config().MaxConcurrent,
		"ws_clients":     s.hub.Clients(),
		"nats":           natsStatus,
		"timestamp":      time.Now().UTC(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	jsonResponse(w, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.PathValue("id"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, run)
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRun(r.PathValue("id")); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

// createPipeline validates the submitted pipeline synchronously and runs
// it in the background. Configuration errors come back as 400 before
// anything is dispatched.
func (s *Server) createPipeline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := pipeline.Parse(body, true)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if p.Name == "" {
		p.Name = "api"
	}

	plan, err := s.runner.Plan(p)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, swarm.ErrConfig) {
			code = http.StatusBadRequest
		}
		jsonError(w, fmt.Sprintf("invalid pipeline: %v", err), code)
		return
	}

	s.runs.Add(1)
	s.activeRuns.Add(1)
	go func() {
		defer s.runs.Done()
		defer s.activeRuns.Add(-1)
		s.runner.Execute(s.runCtx, plan)
	}()

	w.Header().Set("Location", "/api/runs/"+plan.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"id":     plan.ID,
		"name":   plan.Name,
		"phases": len(plan.Steps),
		"tasks":  plan.TaskCount(),
	})
}

func (s *Server) recommend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Task string `json:"task"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Task == "" {
		jsonError(w, "task is required", http.StatusBadRequest)
		return
	}
	jsonResponse(w, router.Recommend(body.Task))
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if schedules == nil {
		schedules = []store.Schedule{}
	}
	jsonResponse(w, schedules)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
