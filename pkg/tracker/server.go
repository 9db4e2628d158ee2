package tracker

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/kylerisse/laeuft/pkg/incident"
	"github.com/kylerisse/laeuft/pkg/wire"
)

const (
	recentEventLimit    = 50
	recentIncidentLimit = 20
	recentSpeedLimit    = 20

	defaultDownloadMB = 20
	maxDownloadMB     = 100
)

// downloadChunk is the 1 MB block the measurement endpoint streams.
// Random content keeps transparent compression along the path from
// flattering the numbers.
var downloadChunk = func() []byte {
	b := make([]byte, 1<<20)
	_, _ = rand.Read(b)
	return b
}()

// StatusResponse is the read-only tracker snapshot.
type StatusResponse struct {
	Mode            Phase      `json:"mode"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	HeartbeatAgeS   *int64     `json:"heartbeat_age_s,omitempty"`
	BootID          string     `json:"boot_id,omitempty"`
	MonitorState    string     `json:"monitor_state,omitempty"`
	UptimeS         int64      `json:"uptime_s,omitempty"`
	GraceUntil      *time.Time `json:"grace_until,omitempty"`
	OutageStart     *time.Time `json:"outage_start,omitempty"`
	OutageDurationS int64      `json:"outage_duration_s,omitempty"`
	OpenIncidents   int        `json:"open_incidents"`
}

// IncidentsResponse pairs the live open set with recent history.
type IncidentsResponse struct {
	Open   []incident.Incident `json:"open"`
	Recent []incident.Incident `json:"recent"`
}

// status builds a consistent snapshot without blocking writers.
func (t *Tracker) status(now time.Time) StatusResponse {
	t.mu.Lock()
	rec := *t.rec
	t.mu.Unlock()

	resp := StatusResponse{
		Mode:         rec.phase,
		BootID:       rec.bootID,
		MonitorState: rec.monitorState,
		UptimeS:      rec.uptimeS,
	}
	if rec.everSeen {
		seen := rec.lastSeenAt
		age := int64(now.Sub(rec.lastSeenAt) / time.Second)
		resp.LastHeartbeat = &seen
		resp.HeartbeatAgeS = &age
	}
	if rec.phase == PhaseGrace {
		until := rec.graceUntil
		resp.GraceUntil = &until
	}
	if rec.phase == PhaseOutage {
		start := rec.outageStart
		resp.OutageStart = &start
		resp.OutageDurationS = int64(now.Sub(rec.outageStart) / time.Second)
	}

	for _, inc := range t.agg.Snapshot() {
		if !inc.Resolved() {
			resp.OpenIncidents++
		}
	}
	return resp
}

func (t *Tracker) apiHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/heartbeat", t.handleHeartbeat)
	mux.HandleFunc("POST /api/outage", t.handleOutage)
	mux.HandleFunc("POST /api/speedtest", t.handleSpeedTest)
	mux.Handle("/api/status", requireGET(http.HandlerFunc(t.handleStatus)))
	mux.Handle("/api/incidents", requireGET(http.HandlerFunc(t.handleIncidents)))
	mux.Handle("/api/events", requireGET(http.HandlerFunc(t.handleEvents)))
	mux.Handle("/api/speedtests", requireGET(http.HandlerFunc(t.handleSpeedTests)))
	mux.Handle("/speedtest", requireGET(http.HandlerFunc(t.handleDownload)))
	mux.Handle("/live", requireGET(http.HandlerFunc(t.handleLive)))
	mux.HandleFunc("GET /healthz", t.handleHealthz)

	rl := newRateLimitMiddleware(rate.NewLimiter(rate.Limit(200), 500))
	return rl(noCacheMiddleware(securityHeadersMiddleware(mux)))
}

func (t *Tracker) startAPI() {
	t.srv = &http.Server{
		Addr:              t.cfg.Listen,
		Handler:           t.apiHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		t.logger.Infof("API listening on %s", t.cfg.Listen)
		if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Errorf("API server failed: %v", err)
		}
	}()
}

func (t *Tracker) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var sig wire.LivenessSignal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		t.rejectPayload(w, "heartbeat", err)
		return
	}
	if err := sig.Validate(); err != nil {
		t.rejectPayload(w, "heartbeat", err)
		return
	}
	t.receiveHeartbeat(sig, time.Now())
	writeJSON(w, map[string]string{"status": "ok"})
}

func (t *Tracker) handleOutage(w http.ResponseWriter, r *http.Request) {
	var rep wire.OutageReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		t.rejectPayload(w, "outage report", err)
		return
	}
	if err := rep.Validate(); err != nil {
		t.rejectPayload(w, "outage report", err)
		return
	}
	t.receiveOutageReport(rep, time.Now())
	writeJSON(w, map[string]string{"status": "ok"})
}

func (t *Tracker) handleSpeedTest(w http.ResponseWriter, r *http.Request) {
	var rep wire.SpeedTestReport
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		t.rejectPayload(w, "speed test report", err)
		return
	}
	if err := rep.Validate(); err != nil {
		t.rejectPayload(w, "speed test report", err)
		return
	}
	t.receiveSpeedTest(rep)
	writeJSON(w, map[string]string{"status": "ok"})
}

func (t *Tracker) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, t.status(time.Now()))
}

func (t *Tracker) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if cached, ok := t.incCache.Get(incidentsCacheKey); ok {
		writeJSON(w, cached)
		return
	}

	recent, err := t.store.RecentIncidents(r.Context(), recentIncidentLimit)
	if err != nil {
		t.logger.Warnf("incident history unavailable: %v", err)
	}

	resp := IncidentsResponse{Open: t.agg.Snapshot(), Recent: recent}
	if resp.Open == nil {
		resp.Open = []incident.Incident{}
	}
	if resp.Recent == nil {
		resp.Recent = []incident.Incident{}
	}
	t.incCache.Set(incidentsCacheKey, resp, incidentsCacheTTL)
	writeJSON(w, resp)
}

func (t *Tracker) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := t.store.RecentEvents(r.Context(), recentEventLimit)
	if err != nil {
		t.logger.Warnf("event history unavailable: %v", err)
	}
	if events == nil {
		events = []incident.Event{}
	}
	writeJSON(w, events)
}

func (t *Tracker) handleSpeedTests(w http.ResponseWriter, r *http.Request) {
	tests, err := t.store.RecentSpeedTests(r.Context(), recentSpeedLimit)
	if err != nil {
		t.logger.Warnf("speed test history unavailable: %v", err)
	}
	if tests == nil {
		tests = []wire.SpeedTestReport{}
	}
	writeJSON(w, tests)
}

// handleDownload streams a fixed-size payload for the monitor's quick
// throughput measurement.
func (t *Tracker) handleDownload(w http.ResponseWriter, r *http.Request) {
	sizeMB := defaultDownloadMB
	if raw := r.URL.Query().Get("size_mb"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			http.Error(w, "size_mb must be a positive integer", http.StatusBadRequest)
			return
		}
		sizeMB = v
	}
	if sizeMB > maxDownloadMB {
		sizeMB = maxDownloadMB
	}

	// The payload must survive the server's write timeout on slow
	// links; slow is exactly what this endpoint is here to measure.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Now().Add(5 * time.Minute))

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(sizeMB<<20))
	if r.Method == http.MethodHead {
		return
	}
	for i := 0; i < sizeMB; i++ {
		if _, err := w.Write(downloadChunk); err != nil {
			return
		}
	}
}

func (t *Tracker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok\n"))
}

func (t *Tracker) rejectPayload(w http.ResponseWriter, what string, err error) {
	t.logger.Warnf("rejected %s payload: %v", what, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
