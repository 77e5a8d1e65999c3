package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/avolkov/bekk/internal/database"
	"github.com/avolkov/bekk/internal/modules/estimation"
	"github.com/avolkov/bekk/internal/modules/forecast"
	"github.com/avolkov/bekk/internal/modules/params"
	"github.com/avolkov/bekk/internal/modules/simulation"
)

// modelRequest carries the estimation options shared by the estimate and
// losses endpoints.
type modelRequest struct {
	Model       string        `json:"model"`
	Restriction string        `json:"restriction"`
	UseTarget   bool          `json:"useTarget"`
	CFree       bool          `json:"cfree"`
	Groups      params.Groups `json:"groups,omitempty"`
	Method      string        `json:"method,omitempty"`
	MaxIter     int           `json:"maxIter,omitempty"`
}

type estimateRequest struct {
	modelRequest
	Innovations [][]float64 `json:"innovations"`
}

type estimateResponse struct {
	ID            string          `json:"id"`
	Restriction   string          `json:"restriction"`
	Loss          float64         `json:"loss"`
	LogLikelihood float64         `json:"logLikelihood"`
	Converged     bool            `json:"converged"`
	Status        string          `json:"status"`
	Iterations    int             `json:"iterations"`
	Theta         []float64       `json:"theta"`
	Params        params.Snapshot `json:"params"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	innov, err := toDense(req.Innovations)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.estimationConfig(req.modelRequest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	est, err := estimation.New(innov, s.log)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	res, err := est.Estimate(cfg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, estimation.ErrConfiguration) || errors.Is(err, params.ErrInvalidParameter) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err)
		return
	}

	run := &database.Run{
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Model:         cfg.Model.String(),
		Restriction:   res.Restriction.String(),
		UseTarget:     cfg.UseTarget,
		Loss:          res.Loss,
		LogLikelihood: res.LogLikelihood,
		Converged:     res.Converged,
		Iterations:    res.Iterations,
		Params:        params.Snap(res.Params),
		Theta:         res.Theta,
	}
	if err := s.store.SaveRun(run); err != nil {
		s.log.Error().Err(err).Str("run", run.ID).Msg("failed to persist run")
	}

	s.writeJSON(w, http.StatusOK, estimateResponse{
		ID:            run.ID,
		Restriction:   run.Restriction,
		Loss:          run.Loss,
		LogLikelihood: run.LogLikelihood,
		Converged:     run.Converged,
		Status:        res.Status,
		Iterations:    run.Iterations,
		Theta:         run.Theta,
		Params:        run.Params,
	})
}

type simulateRequest struct {
	Params  params.Snapshot `json:"params"`
	Obs     int             `json:"obs"`
	Distr   string          `json:"distr,omitempty"`
	DegFree float64         `json:"degFree,omitempty"`
	Seed    uint64          `json:"seed,omitempty"`
}

type simulateResponse struct {
	Innovations [][]float64 `json:"innovations"`
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := req.Params.Params()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	distr, err := simulation.ParseDistribution(req.Distr)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	innov, _, err := simulation.Simulate(p, simulation.Config{
		Obs:     req.Obs,
		Distr:   distr,
		DegFree: req.DegFree,
		Seed:    req.Seed,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, simulateResponse{Innovations: toRows(innov)})
}

type lossesRequest struct {
	modelRequest
	Innovations  [][]float64 `json:"innovations"`
	Window       int         `json:"window"`
	Restrictions []string    `json:"restrictions"`
}

type lossesResponse struct {
	ID     string           `json:"id"`
	Report *forecast.Report `json:"report"`
}

func (s *Server) handleLosses(w http.ResponseWriter, r *http.Request) {
	var req lossesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	innov, err := toDense(req.Innovations)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.estimationConfig(req.modelRequest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	restrictions := make([]params.Restriction, 0, len(req.Restrictions))
	for _, tag := range req.Restrictions {
		restriction, err := params.ParseRestriction(tag)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		restrictions = append(restrictions, restriction)
	}

	evaluator := forecast.NewEvaluator(s.pool, s.log)
	report, err := evaluator.CollectLosses(r.Context(), innov, req.Window, cfg, restrictions)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, estimation.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err)
		return
	}

	id := uuid.NewString()
	if err := s.store.SaveLossReport(id, report); err != nil {
		s.log.Error().Err(err).Str("report", id).Msg("failed to persist loss report")
	}

	s.writeJSON(w, http.StatusOK, lossesResponse{ID: id, Report: report})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(50)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetLossReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetLossReport(chi.URLParam(r, "id"))
	if errors.Is(err, database.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// estimationConfig maps the request tags onto an estimation config.
func (s *Server) estimationConfig(req modelRequest) (estimation.Config, error) {
	var cfg estimation.Config

	model, err := estimation.ParseModel(defaultString(req.Model, "standard"))
	if err != nil {
		return cfg, err
	}
	restriction, err := params.ParseRestriction(defaultString(req.Restriction, "scalar"))
	if err != nil {
		return cfg, err
	}

	maxIter := req.MaxIter
	if maxIter <= 0 {
		maxIter = s.maxIter
	}

	return estimation.Config{
		Model:       model,
		Restriction: restriction,
		UseTarget:   req.UseTarget,
		CFree:       req.CFree,
		Groups:      req.Groups,
		Method:      req.Method,
		MaxIter:     maxIter,
	}, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	} else {
		s.log.Debug().Err(err).Msg("request rejected")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// toDense converts a rectangular JSON matrix into a gonum matrix.
func toDense(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("innovations must be a non-empty matrix")
	}
	n := len(rows[0])
	out := mat.NewDense(len(rows), n, nil)
	for i, row := range rows {
		if len(row) != n {
			return nil, errors.New("innovations must be rectangular")
		}
		out.SetRow(i, row)
	}
	return out, nil
}

func toRows(m *mat.Dense) [][]float64 {
	r, c := m.Dims()
	rows := make([][]float64, r)
	for i := 0; i < r; i++ {
		rows[i] = make([]float64, c)
		for j := 0; j < c; j++ {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
