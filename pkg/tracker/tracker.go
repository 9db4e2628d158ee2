package tracker

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-orz/cache"
	"github.com/sirupsen/logrus"

	"github.com/kylerisse/laeuft/pkg/config"
	"github.com/kylerisse/laeuft/pkg/incident"
	"github.com/kylerisse/laeuft/pkg/notify"
	"github.com/kylerisse/laeuft/pkg/store"
	"github.com/kylerisse/laeuft/pkg/wire"
)

const (
	// storeOpTimeout bounds every persistence call made outside a
	// request context.
	storeOpTimeout = 5 * time.Second

	// incidentsCacheTTL keeps the incident listing from hammering the
	// store under a polling dashboard.
	incidentsCacheTTL = 5 * time.Second

	incidentsCacheKey = "incidents"
)

// Tracker owns the liveness record and everything downstream of it:
// raw events, incidents, notifications, and the live status feed.
type Tracker struct {
	cfg    config.Tracker
	logger *logrus.Logger

	store    *store.Store
	agg      *incident.Aggregator
	notifier notify.Notifier
	hub      *hub
	incCache cache.Cache[string, IncidentsResponse]

	srv *http.Server

	mu           sync.Mutex
	rec          *record
	lastResolved *incident.Event
	lastSlowID   string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a tracker from its configuration. A store that cannot be
// opened is logged and skipped; the tracker keeps working with reduced
// history.
func New(cfg config.Tracker, logger *logrus.Logger) (*Tracker, error) {
	t := &Tracker{
		cfg:      cfg,
		logger:   logger,
		hub:      newHub(),
		incCache: cache.New[string, IncidentsResponse](time.Minute),
		rec:      newRecord(time.Now(), cfg.StartupGrace.Std(), cfg.HeartbeatTimeout.Std()),
	}

	if cfg.DBPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
		defer cancel()
		st, err := store.Open(ctx, cfg.DBPath, logger)
		if err != nil {
			logger.Warnf("store unavailable, keeping reduced history: %v", err)
		} else {
			t.store = st
		}
	}

	t.agg = incident.New(cfg.MergeWindow.Std(), t.persistIncident, logger)

	t.notifier = notify.Noop{}
	if cfg.Ntfy.Enabled {
		n, err := notify.NewNtfy(cfg.Ntfy.Server, cfg.Ntfy.Topic, logger)
		if err != nil {
			return nil, fmt.Errorf("ntfy notifier: %w", err)
		}
		t.notifier = n
	}

	return t, nil
}

// Start launches the staleness check loop and the HTTP API.
func (t *Tracker) Start() {
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.startAPI()

	t.wg.Add(1)
	go t.staleLoop()

	t.logger.Infof("tracking heartbeats, timeout %s, startup grace %s",
		t.cfg.HeartbeatTimeout.Std(), t.cfg.StartupGrace.Std())
}

// Stop shuts the tracker down. In-flight sends are abandoned.
func (t *Tracker) Stop() {
	t.cancel()
	if t.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.srv.Shutdown(ctx); err != nil {
			t.logger.Debugf("API shutdown: %v", err)
		}
	}
	t.wg.Wait()
	if err := t.store.Close(); err != nil {
		t.logger.Warnf("store close: %v", err)
	}
	t.logger.Info("tracker stopped")
}

func (t *Tracker) staleLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.CheckInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.checkStale(time.Now())
		case <-t.ctx.Done():
			return
		}
	}
}

// checkStale runs one staleness evaluation and finalizes incidents
// that aged out of the merge window.
func (t *Tracker) checkStale(now time.Time) {
	t.mu.Lock()
	ch := t.rec.checkStale(now)
	t.mu.Unlock()

	if ch.LeftGrace {
		t.logger.Info("startup grace ended")
	}
	if ch.Detected {
		t.outageDetected(ch.OutageStart)
	}
	if n := t.agg.Expire(now); n > 0 {
		t.logger.Debugf("finalized %d incidents", n)
	}
}

// receiveHeartbeat applies one liveness signal to the record.
func (t *Tracker) receiveHeartbeat(sig wire.LivenessSignal, now time.Time) {
	t.mu.Lock()
	ch := t.rec.observe(sig, now)
	t.mu.Unlock()

	if !ch.Updated {
		t.logger.Debugf("dropped replayed heartbeat sent %s", sig.SentAt.Format(time.RFC3339))
		return
	}
	t.logger.Debugf("heartbeat boot %s uptime %ds state %s", sig.BootID, sig.UptimeS, sig.State)

	if ch.Resolved != nil {
		t.outageResolved(*ch.Resolved)
	}
}

// receiveOutageReport folds the monitor's own measurement of an outage
// into the record, the store, and the incident set.
func (t *Tracker) receiveOutageReport(rep wire.OutageReport, now time.Time) {
	t.mu.Lock()
	ch, disp := t.rec.absorbReport(rep, now)
	prev := t.lastResolved
	t.mu.Unlock()

	switch disp {
	case reportEndsOutage:
		t.logger.Infof("outage report ended the outage, duration %ds", rep.DurationS)
		t.outageResolved(*ch.Resolved)

	case reportMerged:
		if prev == nil {
			t.logger.Warnf("outage report overlaps a closed window with no event on record, dropped")
			return
		}
		ev := *prev
		ev.DurationS = ch.Resolved.DurationS
		ev.Cause = ch.Resolved.Cause
		t.mu.Lock()
		t.lastResolved = &ev
		t.mu.Unlock()
		t.appendEvent(ev)
		t.logger.Infof("outage report merged into the outage resolved at %s, duration now %ds",
			ev.Timestamp.Format(time.RFC3339), ev.DurationS)

	case reportStandalone:
		w := *ch.Resolved
		ev := incident.NewOutageResolved(w.End, time.Duration(w.DurationS)*time.Second, w.Cause)
		t.mu.Lock()
		t.lastResolved = &ev
		t.mu.Unlock()
		t.appendEvent(ev)
		t.agg.Apply(ev)
		t.incCache.Delete(incidentsCacheKey)
		t.hub.broadcast(liveEvent{Type: string(ev.Kind), Event: &ev})
		t.logger.Infof("monitor reported an outage the tracker never saw: %ds ending %s",
			w.DurationS, w.End.Format(time.RFC3339))
	}
}

// receiveSpeedTest records a throughput measurement and drives the
// SLOW_SPEED incident lifecycle from its embedded verdict.
func (t *Tracker) receiveSpeedTest(rep wire.SpeedTestReport) {
	t.logger.Infof("speed test: %.1f Mbps down via %s (%s), passed=%t",
		rep.DownloadMbps, rep.Source, rep.Trigger, rep.Passed)

	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := t.store.AppendSpeedTest(ctx, rep); err != nil {
		t.logger.Warnf("speed test not persisted: %v", err)
	}

	ev := incident.NewSpeedTest(incident.SpeedResult{
		Timestamp:    rep.Timestamp,
		DownloadMbps: rep.DownloadMbps,
		UploadMbps:   rep.UploadMbps,
		PingMs:       rep.PingMs,
		Passed:       rep.Passed,
		Trigger:      rep.Trigger,
	})
	t.appendEvent(ev)

	touched, ok := t.agg.Apply(ev)
	if ok {
		t.incCache.Delete(incidentsCacheKey)
	}
	if ok && touched.Kind == incident.KindSlowSpeed {
		t.mu.Lock()
		isNew := !touched.Resolved() && touched.ID != t.lastSlowID
		if touched.Resolved() {
			t.lastSlowID = ""
		} else {
			t.lastSlowID = touched.ID
		}
		t.mu.Unlock()

		switch {
		case touched.Resolved():
			t.send(notify.SlowResolved(rep.DownloadMbps))
		case isNew:
			t.send(notify.Slow(rep.DownloadMbps))
		}
	}
	t.hub.broadcast(liveEvent{Type: string(ev.Kind), Event: &ev})
}

func (t *Tracker) outageDetected(start time.Time) {
	t.logger.Warnf("no heartbeat since %s, outage presumed", start.Format(time.RFC3339))

	ev := incident.NewOutageDetected(start)
	t.appendEvent(ev)
	t.agg.Apply(ev)
	t.incCache.Delete(incidentsCacheKey)
	t.send(notify.Down(start))
	t.hub.broadcast(liveEvent{Type: string(ev.Kind), Event: &ev})
}

func (t *Tracker) outageResolved(w window) {
	duration := time.Duration(w.DurationS) * time.Second
	t.logger.Infof("back online after %s (%s)", notify.HumanDuration(duration), w.Cause)

	ev := incident.NewOutageResolved(w.End, duration, w.Cause)
	t.mu.Lock()
	t.lastResolved = &ev
	t.mu.Unlock()

	t.appendEvent(ev)
	t.agg.Apply(ev)
	t.incCache.Delete(incidentsCacheKey)
	t.send(notify.Restored(duration, w.Cause))
	t.hub.broadcast(liveEvent{Type: string(ev.Kind), Event: &ev})
}

// send delivers a notification without blocking state progression.
func (t *Tracker) send(n notify.Notification) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), notify.DefaultNtfyTimeout)
		defer cancel()
		if err := t.notifier.Notify(ctx, n); err != nil {
			t.logger.Warnf("%s notification not delivered: %v", n.Kind, err)
		}
	}()
}

// persistIncident is the aggregator's sink for finalized incidents.
func (t *Tracker) persistIncident(inc incident.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := t.store.AppendIncident(ctx, inc); err != nil {
		t.logger.Warnf("incident %s not persisted: %v", inc.ID, err)
	}
}

func (t *Tracker) appendEvent(ev incident.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if err := t.store.AppendEvent(ctx, ev); err != nil {
		t.logger.Warnf("event %s not persisted: %v", ev.ID, err)
	}
}
