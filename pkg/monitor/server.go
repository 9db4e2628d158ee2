package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kylerisse/laeuft/pkg/wire"
)

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Mode             Mode                    `json:"mode"`
	Since            time.Time               `json:"since"`
	BootID           string                  `json:"boot_id"`
	OutageStart      *time.Time              `json:"outage_start,omitempty"`
	LastCycle        *CycleStatus            `json:"last_cycle,omitempty"`
	Targets          map[string]TargetStatus `json:"targets,omitempty"`
	RollingLatencyMs []float64               `json:"rolling_latency_ms"`
	LastSpeedTest    *wire.SpeedTestReport   `json:"last_speed_test,omitempty"`
	PendingOutage    bool                    `json:"pending_outage_report"`
	PendingSpeed     bool                    `json:"pending_speed_report"`
}

// CycleStatus is the last probe cycle as shown by the status API.
type CycleStatus struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	LatencyMs float64   `json:"latency_ms,omitempty"`
	Failed    []string  `json:"failed_targets,omitempty"`
}

// TargetStatus is one target's latest probe result as shown by the
// status API. Metrics appear in the order the probe's descriptor
// declares them, converted to display units.
type TargetStatus struct {
	Probe   string         `json:"probe"`
	Success bool           `json:"success"`
	Metrics []TargetMetric `json:"metrics,omitempty"`
}

// TargetMetric is one rendered metric value.
type TargetMetric struct {
	Name  string  `json:"name"`
	Label string  `json:"label,omitempty"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Status returns a consistent snapshot of the monitor state.
func (m *Monitor) Status() StatusResponse {
	m.mu.Lock()
	defer m.mu.Unlock()

	resp := StatusResponse{
		Mode:             m.machine.mode,
		Since:            m.machine.enteredAt,
		BootID:           m.bootID,
		Targets:          m.targetStatuses(),
		RollingLatencyMs: append([]float64(nil), m.recent...),
		PendingOutage:    m.pendingOutage != nil,
		PendingSpeed:     m.pendingSpeed != nil,
	}
	if m.machine.mode == ModeOutage {
		start := m.machine.outageStart
		resp.OutageStart = &start
	}
	if m.lastCycle != nil {
		cycle := &CycleStatus{
			Timestamp: m.lastCycle.Timestamp,
			Success:   m.lastCycle.Success,
			Failed:    append([]string(nil), m.lastCycle.Failed...),
		}
		if m.lastCycle.HasLatency {
			cycle.LatencyMs = float64(m.lastCycle.Latency.Microseconds()) / 1000
		}
		resp.LastCycle = cycle
	}
	if m.lastSpeed != nil {
		speed := *m.lastSpeed
		resp.LastSpeedTest = &speed
	}
	return resp
}

// targetStatuses renders each target's latest result through its
// probe's descriptor. Metrics the result does not carry are omitted.
func (m *Monitor) targetStatuses() map[string]TargetStatus {
	results := m.results.Snapshot()
	if len(results) == 0 {
		return nil
	}

	out := make(map[string]TargetStatus, len(results))
	for target, result := range results {
		p, ok := m.probes[target]
		if !ok {
			continue
		}
		ts := TargetStatus{Probe: p.Type(), Success: result.Success}
		for _, def := range p.Describe().Metrics {
			raw, ok := result.Metric(def.ResultKey)
			if !ok {
				continue
			}
			ts.Metrics = append(ts.Metrics, TargetMetric{
				Name:  def.Column,
				Label: def.Label,
				Value: def.Display(raw),
				Unit:  def.Unit,
			})
		}
		out[target] = ts
	}
	return out
}

// apiHandler builds the full handler stack of the status API.
func (m *Monitor) apiHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", m.handleStatus)
	mux.HandleFunc("GET /metrics", m.handleMetrics)
	mux.HandleFunc("POST /api/speedtest/run", m.handleSpeedTestRun)
	mux.HandleFunc("GET /healthz", m.handleHealthz)
	return noCacheMiddleware(mux)
}

func (m *Monitor) startAPI() {
	m.srv = &http.Server{
		Addr:              m.cfg.Listen,
		Handler:           m.apiHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.logger.Infof("status API listening on %s", m.cfg.Listen)
		if err := m.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Errorf("status API stopped: %v", err)
		}
	}()
}

func (m *Monitor) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.Status()); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func (m *Monitor) handleSpeedTestRun(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !m.startSpeedTest(wire.TriggerManual) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "speed test already running"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "started"})
}

func (m *Monitor) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok\n"))
}

// noCacheMiddleware keeps status responses out of client caches.
func noCacheMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
