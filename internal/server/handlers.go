package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/horizon/internal/config"
	"github.com/aristath/horizon/internal/scenario"
	"github.com/aristath/horizon/internal/simulation"
)

// Handlers holds the API handlers and their dependencies.
type Handlers struct {
	scenarios *scenario.Repository
	runs      *simulation.Repository
	cfg       *config.Config
	log       zerolog.Logger
}

// NewHandlers creates the API handlers.
func NewHandlers(scenarios *scenario.Repository, runs *simulation.Repository, cfg *config.Config, log zerolog.Logger) *Handlers {
	return &Handlers{
		scenarios: scenarios,
		runs:      runs,
		cfg:       cfg,
		log:       log.With().Str("handler", "api").Logger(),
	}
}

// Health reports service liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListScenarios returns metadata for all stored scenarios.
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	metas, err := h.scenarios.List()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list scenarios")
		writeError(w, http.StatusInternalServerError, "failed to list scenarios")
		return
	}
	writeJSON(w, http.StatusOK, metas)
}

// CreateScenario validates and stores a scenario document.
func (h *Handlers) CreateScenario(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	scn, err := scenario.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := scenario.Validate(scn, h.log); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id, err := h.scenarios.Save(scn)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to save scenario")
		writeError(w, http.StatusInternalServerError, "failed to save scenario")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// GetScenario returns one stored scenario document.
func (h *Handlers) GetScenario(w http.ResponseWriter, r *http.Request) {
	scn, err := h.scenarios.Get(chi.URLParam(r, "id"))
	if errors.Is(err, scenario.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scenario")
		return
	}
	writeJSON(w, http.StatusOK, scn)
}

// DeleteScenario removes a stored scenario.
func (h *Handlers) DeleteScenario(w http.ResponseWriter, r *http.Request) {
	err := h.scenarios.Delete(chi.URLParam(r, "id"))
	if errors.Is(err, scenario.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete scenario")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runRequest is the body of POST /api/runs. Zero values fall back to the
// configured defaults.
type runRequest struct {
	ScenarioID string `json:"scenario_id"`
	Trials     int    `json:"trials,omitempty"`
	Seed       uint64 `json:"seed,omitempty"`
	Workers    int    `json:"workers,omitempty"`
	KeepPaths  bool   `json:"keep_paths,omitempty"`
}

// CreateRun executes a Monte Carlo run synchronously and archives it. The
// request context cancels pending trials when the client disconnects.
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScenarioID == "" {
		writeError(w, http.StatusBadRequest, "scenario_id is required")
		return
	}

	scn, err := h.scenarios.Get(req.ScenarioID)
	if errors.Is(err, scenario.ErrNotFound) {
		writeError(w, http.StatusNotFound, "scenario not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scenario")
		return
	}

	schedule, err := scenario.Validate(scn, h.log)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	opts := simulation.Options{
		Trials:    req.Trials,
		Seed:      req.Seed,
		Workers:   req.Workers,
		KeepPaths: req.KeepPaths,
	}
	if opts.Trials <= 0 {
		opts.Trials = h.cfg.Trials
	}
	if opts.Seed == 0 {
		opts.Seed = h.cfg.Seed
	}
	if opts.Workers <= 0 {
		opts.Workers = h.cfg.Workers
	}

	runner := simulation.NewRunner(scn, schedule, opts, h.log)
	res, err := runner.Run(r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("scenario_id", req.ScenarioID).Msg("run failed")
		writeError(w, http.StatusInternalServerError, "run failed")
		return
	}

	id, err := h.runs.SaveRun(req.ScenarioID, opts, res)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to archive run")
		writeError(w, http.StatusInternalServerError, "failed to archive run")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"summary": res.Summary,
	})
}

// ListRuns returns archived runs, optionally filtered by scenario_id.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.URL.Query().Get("scenario_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetRun returns one archived run's summary.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, simulation.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetRunTrials returns a run's per-trial results, including stored traces.
func (h *Handlers) GetRunTrials(w http.ResponseWriter, r *http.Request) {
	trials, err := h.runs.GetTrials(chi.URLParam(r, "id"))
	if errors.Is(err, simulation.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load trials")
		return
	}
	writeJSON(w, http.StatusOK, trials)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
