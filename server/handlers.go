package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/topazyo/s3-sentinel-connector-sub001/alert"
	"github.com/topazyo/s3-sentinel-connector-sub001/errors"
	"github.com/topazyo/s3-sentinel-connector-sub001/failedbatch"
	"github.com/topazyo/s3-sentinel-connector-sub001/health"
	"github.com/topazyo/s3-sentinel-connector-sub001/shipper"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string  `json:"status"`
	Running   bool    `json:"running"`
	Uptime    float64 `json:"uptime"` // seconds
	StartedAt string  `json:"started_at,omitempty"`
}

// ReadyResponse is the body of GET /ready
type ReadyResponse struct {
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// StatusResponse is the body of GET /status
type StatusResponse struct {
	Health        health.Status      `json:"health"`
	Alerts        []alert.RuleStatus `json:"alerts"`
	FailedBatches *int               `json:"failed_batches,omitempty"`
}

// IngestRequest is the body of POST /ingest. It has the same shape as a
// failed batch file.
type IngestRequest struct {
	LogType string               `json:"log_type"`
	Data    []failedbatch.Record `json:"data"`
}

// IngestResponse is the body returned by POST /ingest
type IngestResponse struct {
	Outcome string `json:"outcome"`
	Records int    `json:"records"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}

// handleHealth reports liveness: 200 while running, 503 otherwise
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.State.Snapshot()
	resp := HealthResponse{
		Status:  "healthy",
		Running: snap.Running,
		Uptime:  snap.Uptime(s.now()).Seconds(),
	}
	if !snap.StartedAt.IsZero() && snap.Running {
		resp.StartedAt = snap.StartedAt.UTC().Format(time.RFC3339)
	}

	status := http.StatusOK
	if !snap.Running {
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleReady reports readiness: 200 when ready, 503 otherwise
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.deps.State.IsReady() {
		s.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Ready: true})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready"})
}

// handleStatus returns dependency health and alert rule states. It is
// informational and always answers 200.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Health: s.deps.Health.AggregateHealth("s3sentinel"),
		Alerts: []alert.RuleStatus{},
	}
	if s.deps.Alerts != nil {
		resp.Alerts = s.deps.Alerts.Status()
	}
	if s.deps.Store != nil {
		if n, err := s.deps.Store.Count(); err == nil {
			resp.FailedBatches = &n
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// refreshPipelineGauges copies the pipeline flags into their gauges before
// every scrape
func (s *Server) refreshPipelineGauges(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := s.deps.State.Snapshot()
		s.deps.Registry.CoreMetrics().RecordPipelineState(snap.Running, snap.Ready)
		next.ServeHTTP(w, r)
	})
}

// handleIngest ships one batch. 200 means delivered, 202 means persisted for
// replay.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !s.deps.State.IsRunning() {
		s.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "pipeline is not running"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxIngestBytes)
	var req IngestRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if q := r.URL.Query().Get("log_type"); q != "" {
		req.LogType = q
	}
	req.LogType = strings.TrimSpace(req.LogType)
	if req.LogType == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "log_type is required"})
		return
	}
	if len(req.Data) == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "data must contain at least one record"})
		return
	}

	outcome, err := s.deps.Shipper.Ship(r.Context(), req.LogType, req.Data)
	if err != nil {
		s.logger.Error("Ingested batch could not be delivered or persisted",
			"log_type", req.LogType, "records", len(req.Data), "error", err)
		status := http.StatusInternalServerError
		if errors.IsFatal(err) {
			status = http.StatusInsufficientStorage
		}
		s.writeJSON(w, status, errorResponse{Error: "batch not accepted"})
		return
	}

	status := http.StatusOK
	if outcome == shipper.Persisted {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, IngestResponse{Outcome: outcome.String(), Records: len(req.Data)})
}
