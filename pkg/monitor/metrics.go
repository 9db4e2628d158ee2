package monitor

import (
	"fmt"
	"net/http"
	"strings"
)

// handleMetrics writes Prometheus-formatted metrics: overall
// connectivity, per-target results from the last probe cycle, and the
// last speed test.
func (m *Monitor) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	mode := m.machine.mode
	var lastSpeed float64
	hasSpeed := m.lastSpeed != nil
	if hasSpeed {
		lastSpeed = m.lastSpeed.DownloadMbps
	}
	m.mu.Unlock()
	results := m.results.Snapshot()

	w.Header().Set("Content-Type", "text/plain")

	w.Write([]byte("# HELP connectivity_up Whether the connection is up (1=up, 0=outage).\n"))
	w.Write([]byte("# TYPE connectivity_up gauge\n"))
	up := 1
	if mode == ModeOutage {
		up = 0
	}
	w.Write(fmt.Appendf([]byte{}, "connectivity_up %d\n", up))

	w.Write([]byte("# HELP connectivity_degraded Whether the connection is degraded (1=degraded).\n"))
	w.Write([]byte("# TYPE connectivity_degraded gauge\n"))
	degraded := 0
	if mode == ModeDegraded {
		degraded = 1
	}
	w.Write(fmt.Appendf([]byte{}, "connectivity_degraded %d\n", degraded))

	w.Write([]byte("# HELP probe_alive Whether the probe target answered the last cycle (1=up, 0=down).\n"))
	w.Write([]byte("# TYPE probe_alive gauge\n"))
	w.Write([]byte("# HELP probe_metric Probe metric value from the last cycle.\n"))
	w.Write([]byte("# TYPE probe_metric gauge\n"))

	for target, result := range results {
		p, ok := m.probes[target]
		if !ok {
			continue
		}
		sanitizedTarget := sanitizePrometheusLabel(target)
		sanitizedProbe := sanitizePrometheusLabel(p.Type())
		aliveVal := 0
		if result.Success {
			aliveVal = 1
		}
		w.Write(fmt.Appendf([]byte{},
			"probe_alive{target=\"%s\", probe=\"%s\"} %d\n",
			sanitizedTarget,
			sanitizedProbe,
			aliveVal,
		))
		for metricKey, metricVal := range result.Metrics {
			if metricVal == nil {
				continue
			}
			w.Write(fmt.Appendf([]byte{},
				"probe_metric{target=\"%s\", probe=\"%s\", metric=\"%s\"} %d\n",
				sanitizedTarget,
				sanitizedProbe,
				sanitizePrometheusLabel(metricKey),
				*metricVal,
			))
		}
	}

	if hasSpeed {
		w.Write([]byte("# HELP speedtest_download_mbps Download rate of the last speed test.\n"))
		w.Write([]byte("# TYPE speedtest_download_mbps gauge\n"))
		w.Write(fmt.Appendf([]byte{}, "speedtest_download_mbps %g\n", lastSpeed))
	}
}

// sanitizePrometheusLabel escapes backslash, double-quote, and newline
// characters in a Prometheus label value per the exposition format spec.
func sanitizePrometheusLabel(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
