// Package monitor runs the local side of the connectivity watch: it
// probes the configured targets each cycle, drives the
// ONLINE/DEGRADED/OUTAGE state machine, reports outages and speed
// tests to the tracker, and serves a small status API.
package monitor

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/config"
	"github.com/kylerisse/laeuft/pkg/eventlog"
	"github.com/kylerisse/laeuft/pkg/probe"
	"github.com/kylerisse/laeuft/pkg/probe/dns"
	httpprobe "github.com/kylerisse/laeuft/pkg/probe/http"
	"github.com/kylerisse/laeuft/pkg/probe/icmp"
	"github.com/kylerisse/laeuft/pkg/speedtest"
	"github.com/kylerisse/laeuft/pkg/wire"
)

// recentWindow is how many cycle latencies the status API keeps.
const recentWindow = 20

// Monitor owns the connectivity state and all periodic work.
type Monitor struct {
	cfg    config.Monitor
	logger *logrus.Logger

	probes  map[string]probe.Probe
	results *probe.Status
	client  *wire.Client
	runner  speedtest.Runner
	events  *eventlog.Log
	sched   *cron.Cron
	bootID  string

	srv *http.Server

	mu            sync.Mutex
	machine       *machine
	lastCycle     *CycleOutcome
	recent        []float64
	lastSpeed     *wire.SpeedTestReport
	pendingOutage *wire.OutageReport
	pendingSpeed  *wire.SpeedTestReport
	outageLogged  bool
	speedLogged   bool
	slowRetest    cron.EntryID
	speedRunning  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a monitor from its configuration. The tracker client,
// event log, and download triage are all optional at runtime: the
// monitor keeps probing without them.
func New(cfg config.Monitor, logger *logrus.Logger) (*Monitor, error) {
	reg, err := newProbeRegistry()
	if err != nil {
		return nil, err
	}
	probes, err := buildProbes(cfg, reg)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		cfg:     cfg,
		logger:  logger,
		probes:  probes,
		results: probe.NewStatus(),
		machine: newMachine(cfg.LatencyThreshold.Std(), cfg.DegradedEnterCycles, cfg.DegradedExitCycles),
		sched:   cron.New(),
	}

	if cfg.TrackerURL != "" {
		client, err := wire.NewClient(cfg.TrackerURL, logger)
		if err != nil {
			return nil, fmt.Errorf("tracker client: %w", err)
		}
		m.client = client
	}

	m.runner, err = buildRunner(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.EventLog.Path != "" {
		events, err := eventlog.Open(cfg.EventLog.Path, logger)
		if err != nil {
			logger.Warnf("event log unavailable: %v", err)
		} else {
			m.events = events
		}
	}

	bootID, err := wire.HostBootID()
	if err != nil {
		logger.Warnf("host boot id unavailable: %v", err)
		bootID = "unknown"
	}
	m.bootID = bootID

	return m, nil
}

// Start launches the probe loop, the heartbeat loop, the schedules,
// and the status API.
func (m *Monitor) Start() error {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	if _, err := m.sched.AddFunc(fmt.Sprintf("@every %s", m.cfg.SpeedTest.Schedule.Std()), func() {
		m.startSpeedTest(wire.TriggerScheduled)
	}); err != nil {
		return fmt.Errorf("schedule speed test: %w", err)
	}

	if m.events != nil && m.cfg.EventLog.RetentionDays > 0 {
		if _, err := m.sched.AddFunc("@daily", m.pruneEvents); err != nil {
			return fmt.Errorf("schedule event log pruning: %w", err)
		}
	}

	m.sched.Start()
	m.startAPI()

	m.wg.Add(2)
	go m.probeLoop()
	go m.heartbeatLoop()

	m.logger.Infof("monitoring %d targets every %s", len(m.probes), m.cfg.ProbeInterval.Std())
	return nil
}

// Stop shuts the monitor down. In-flight report sends are abandoned.
func (m *Monitor) Stop() {
	m.cancel()
	m.sched.Stop()
	if m.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.srv.Shutdown(ctx); err != nil {
			m.logger.Debugf("API shutdown: %v", err)
		}
	}
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

func (m *Monitor) probeLoop() {
	defer m.wg.Done()

	m.runCycle(m.ctx)

	ticker := time.NewTicker(m.cfg.ProbeInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.runCycle(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) heartbeatLoop() {
	defer m.wg.Done()

	m.sendHeartbeat(m.ctx)

	ticker := time.NewTicker(m.cfg.HeartbeatInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sendHeartbeat(m.ctx)
			m.flushPending(m.ctx)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) {
	m.applyOutcome(m.probeAll(ctx))
}

// probeAll queries every target concurrently and folds the results
// into one cycle outcome.
func (m *Monitor) probeAll(ctx context.Context) CycleOutcome {
	type targetResult struct {
		target string
		result probe.Result
	}

	ch := make(chan targetResult, len(m.probes))
	var wg sync.WaitGroup
	for target, p := range m.probes {
		wg.Add(1)
		go func(target string, p probe.Probe) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout.Std())
			defer cancel()
			ch <- targetResult{target: target, result: p.Run(pctx)}
		}(target, p)
	}
	wg.Wait()
	close(ch)

	outcome := CycleOutcome{Timestamp: time.Now()}
	for tr := range ch {
		m.results.Set(tr.target, tr.result)
		if !tr.result.Success {
			outcome.Failed = append(outcome.Failed, tr.target)
			m.logger.Debugf("probe %s failed: %v", tr.target, tr.result.Err)
			continue
		}
		outcome.Success = true
		if lat, ok := tr.result.Latency(); ok {
			if !outcome.HasLatency || lat < outcome.Latency {
				outcome.Latency = lat
				outcome.HasLatency = true
			}
		}
	}
	sort.Strings(outcome.Failed)
	return outcome
}

func (m *Monitor) applyOutcome(c CycleOutcome) {
	m.mu.Lock()
	tr := m.machine.apply(c)
	m.lastCycle = &c
	if c.HasLatency {
		m.recent = append(m.recent, float64(c.Latency.Microseconds())/1000)
		if len(m.recent) > recentWindow {
			m.recent = m.recent[len(m.recent)-recentWindow:]
		}
	}
	m.mu.Unlock()

	if !tr.Changed() {
		return
	}
	m.logger.Infof("connectivity %s -> %s", tr.From, tr.To)

	switch {
	case tr.To == ModeOutage:
		m.logEvent(eventlog.Entry{
			Timestamp: c.Timestamp,
			Kind:      eventlog.KindStateChange,
			State:     string(ModeOutage),
			Detail:    fmt.Sprintf("all targets failed: %s", strings.Join(c.Failed, " ")),
		})
	case tr.Outage != nil:
		m.handleRecovery(c, tr.Outage)
	case tr.To == ModeDegraded:
		m.logEvent(eventlog.Entry{
			Timestamp: c.Timestamp,
			Kind:      eventlog.KindStateChange,
			State:     string(ModeDegraded),
			Detail:    fmt.Sprintf("latency %s above %s", c.Latency, m.cfg.LatencyThreshold.Std()),
		})
		m.startSpeedTest(wire.TriggerDegraded)
	case tr.From == ModeDegraded && tr.To == ModeOnline:
		m.logEvent(eventlog.Entry{
			Timestamp: c.Timestamp,
			Kind:      eventlog.KindStateChange,
			State:     string(ModeOnline),
			Detail:    "latency recovered",
		})
	}
}

// handleRecovery queues the outage report and kicks off the
// post-outage speed test.
func (m *Monitor) handleRecovery(c CycleOutcome, span *OutageSpan) {
	report := wire.OutageReport{
		Start:        span.Start,
		End:          span.End,
		DurationS:    int64(span.Duration.Round(time.Second) / time.Second),
		Targets:      m.targets(),
		OutageBootID: m.bootID,
		ReportBootID: m.bootID,
	}

	m.logEvent(eventlog.Entry{
		Timestamp: c.Timestamp,
		Kind:      eventlog.KindOutage,
		State:     string(ModeOnline),
		DurationS: report.DurationS,
		Detail:    strings.Join(report.Targets, " "),
	})

	m.mu.Lock()
	m.pendingOutage = &report
	m.outageLogged = false
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.flushPending(m.ctx)
	}()

	m.startSpeedTest(wire.TriggerPostOutage)
}

func (m *Monitor) sendHeartbeat(ctx context.Context) {
	if m.client == nil {
		return
	}

	m.mu.Lock()
	state := string(m.machine.mode)
	m.mu.Unlock()

	uptime, err := wire.HostUptime()
	if err != nil {
		m.logger.Debugf("host uptime unavailable: %v", err)
	}

	sig := wire.LivenessSignal{
		SentAt:  time.Now(),
		BootID:  m.bootID,
		UptimeS: uptime,
		State:   state,
	}
	if err := m.client.SendHeartbeat(ctx, sig); err != nil {
		m.logger.Warnf("heartbeat not delivered: %v", err)
	}
}

// flushPending tries to deliver the queued reports. Each report type
// keeps only its most recent instance; a failed send leaves it queued
// for the next heartbeat tick.
func (m *Monitor) flushPending(ctx context.Context) {
	if m.client == nil {
		return
	}

	m.mu.Lock()
	outage := m.pendingOutage
	speed := m.pendingSpeed
	m.mu.Unlock()

	if outage != nil {
		if err := m.client.SendOutageReport(ctx, *outage); err != nil {
			m.noteSendFailure("outage report", err, &m.outageLogged)
		} else {
			m.mu.Lock()
			if m.pendingOutage == outage {
				m.pendingOutage = nil
			}
			m.mu.Unlock()
			m.logger.Infof("outage report delivered, duration %ds", outage.DurationS)
		}
	}

	if speed != nil {
		if err := m.client.SendSpeedTestReport(ctx, *speed); err != nil {
			m.noteSendFailure("speed test report", err, &m.speedLogged)
		} else {
			m.mu.Lock()
			if m.pendingSpeed == speed {
				m.pendingSpeed = nil
			}
			m.mu.Unlock()
			m.logger.Debugf("speed test report delivered")
		}
	}
}

// noteSendFailure logs one event row per pending report, not one per
// retry, so a long outage does not flood the CSV.
func (m *Monitor) noteSendFailure(what string, err error, logged *bool) {
	m.logger.Warnf("%s not delivered, will retry: %v", what, err)

	m.mu.Lock()
	first := !*logged
	*logged = true
	m.mu.Unlock()

	if first {
		m.logEvent(eventlog.Entry{
			Timestamp: time.Now(),
			Kind:      eventlog.KindSendFailure,
			Detail:    fmt.Sprintf("%s: %v", what, err),
		})
	}
}

// startSpeedTest launches a speed test unless one is already running.
// It reports whether the test was started.
func (m *Monitor) startSpeedTest(trigger string) bool {
	m.mu.Lock()
	if m.speedRunning {
		m.mu.Unlock()
		m.logger.Debugf("speed test already running, ignoring %s trigger", trigger)
		return false
	}
	m.speedRunning = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runSpeedTest(m.ctx, trigger)
	}()
	return true
}

func (m *Monitor) runSpeedTest(ctx context.Context, trigger string) {
	defer func() {
		m.mu.Lock()
		m.speedRunning = false
		m.mu.Unlock()
	}()

	m.logger.Infof("running speed test (%s)", trigger)
	report, err := m.runner.Run(ctx, trigger)
	if err != nil {
		m.logger.Errorf("speed test (%s) failed: %v", trigger, err)
		return
	}
	report.Passed = report.DownloadMbps >= m.cfg.SpeedTest.SlowThresholdMbps
	report.BootID = m.bootID

	m.mu.Lock()
	m.lastSpeed = &report
	m.pendingSpeed = &report
	m.speedLogged = false
	m.mu.Unlock()

	m.logger.Infof("speed test (%s): %.1f Mbps down via %s, passed=%t",
		trigger, report.DownloadMbps, report.Source, report.Passed)
	m.logEvent(eventlog.Entry{
		Timestamp:    report.Timestamp,
		Kind:         eventlog.KindSpeedTest,
		DownloadMbps: report.DownloadMbps,
		Detail:       fmt.Sprintf("%s via %s, passed=%t", trigger, report.Source, report.Passed),
	})

	m.updateSlowRetest(report.Passed)
	m.flushPending(ctx)
}

// updateSlowRetest keeps a dynamic schedule entry alive while the
// last verdict is a fail, retesting until a pass removes it.
func (m *Monitor) updateSlowRetest(passed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if passed {
		if m.slowRetest != 0 {
			m.sched.Remove(m.slowRetest)
			m.slowRetest = 0
			m.logger.Info("speed recovered, stopping retests")
		}
		return
	}

	if m.slowRetest != 0 {
		return
	}
	id, err := m.sched.AddFunc(fmt.Sprintf("@every %s", m.cfg.SpeedTest.SlowRetestInterval.Std()), func() {
		m.startSpeedTest(wire.TriggerSlowRetest)
	})
	if err != nil {
		m.logger.Errorf("schedule slow retest: %v", err)
		return
	}
	m.slowRetest = id
	m.logger.Infof("download below %.1f Mbps, retesting every %s",
		m.cfg.SpeedTest.SlowThresholdMbps, m.cfg.SpeedTest.SlowRetestInterval.Std())
}

func (m *Monitor) pruneEvents() {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.EventLog.RetentionDays)
	n, err := m.events.Prune(cutoff)
	if err != nil {
		m.logger.Errorf("event log pruning failed: %v", err)
		return
	}
	if n > 0 {
		m.logger.Infof("pruned %d event rows older than %d days", n, m.cfg.EventLog.RetentionDays)
	}
}

func (m *Monitor) logEvent(e eventlog.Entry) {
	if m.events == nil {
		return
	}
	if err := m.events.Append(e); err != nil {
		m.logger.Warnf("event log write failed: %v", err)
	}
}

func (m *Monitor) targets() []string {
	targets := make([]string, 0, len(m.cfg.Targets))
	for _, t := range m.cfg.Targets {
		targets = append(targets, t.Address)
	}
	return targets
}

func newProbeRegistry() (*probe.Registry, error) {
	reg := probe.NewRegistry()
	for name, factory := range map[string]probe.Factory{
		icmp.TypeName:      icmp.Factory,
		dns.TypeName:       dns.Factory,
		httpprobe.TypeName: httpprobe.Factory,
	} {
		if err := reg.Register(name, factory); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildProbes(cfg config.Monitor, reg *probe.Registry) (map[string]probe.Probe, error) {
	probes := make(map[string]probe.Probe, len(cfg.Targets))
	for _, t := range cfg.Targets {
		probeType := t.Probe
		if probeType == "" {
			probeType = icmp.TypeName
		}
		params := buildFactoryConfig(t.Params, t.Address)
		if _, ok := params["timeout"]; !ok {
			params["timeout"] = cfg.ProbeTimeout.Std().String()
		}
		if probeType == icmp.TypeName {
			if _, ok := params["count"]; !ok {
				params["count"] = cfg.ProbeCount
			}
		}

		p, err := reg.Create(probeType, params)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Address, err)
		}
		if err := p.Describe().Validate(); err != nil {
			return nil, fmt.Errorf("target %s: descriptor: %w", t.Address, err)
		}
		if _, dup := probes[t.Address]; dup {
			return nil, fmt.Errorf("duplicate target %s", t.Address)
		}
		probes[t.Address] = p
	}
	return probes, nil
}

// buildFactoryConfig copies the target's params and injects its
// address, leaving the original map untouched.
func buildFactoryConfig(params map[string]any, target string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["target"] = target
	return out
}

func buildRunner(cfg config.Monitor, logger *logrus.Logger) (speedtest.Runner, error) {
	var quick speedtest.Runner
	if cfg.TrackerURL != "" {
		dl, err := speedtest.NewDownload(cfg.TrackerURL, cfg.SpeedTest.DownloadSizeMB, logger)
		if err != nil {
			return nil, fmt.Errorf("download runner: %w", err)
		}
		quick = dl
	}

	confirm, err := speedtest.NewOokla(cfg.SpeedTest.OoklaBin, logger)
	if err != nil {
		return nil, fmt.Errorf("ookla runner: %w", err)
	}

	triage, err := speedtest.NewTriage(quick, confirm, cfg.SpeedTest.SlowThresholdMbps, logger)
	if err != nil {
		return nil, fmt.Errorf("speed triage: %w", err)
	}
	return triage, nil
}
