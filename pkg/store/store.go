// Package store persists the tracker's history: raw events, finalized
// incidents, and speed test reports. It keeps everything in a single
// SQLite file. A nil *Store is valid and turns every method into a
// no-op, so the tracker runs with reduced history when the database
// cannot be opened.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/kylerisse/laeuft/pkg/incident"
	"github.com/kylerisse/laeuft/pkg/wire"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	ts INTEGER NOT NULL,
	duration_s INTEGER NOT NULL DEFAULT 0,
	cause TEXT NOT NULL DEFAULT '',
	speed_json TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);

CREATE TABLE IF NOT EXISTS incidents (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	cause TEXT NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER,
	downtime_s INTEGER NOT NULL DEFAULT 0,
	event_ids_json TEXT NOT NULL DEFAULT '',
	retest_json TEXT NOT NULL DEFAULT '',
	resolved_ts INTEGER
);
CREATE INDEX IF NOT EXISTS idx_incidents_start ON incidents(start_ts);

CREATE TABLE IF NOT EXISTS speedtests (
	ts INTEGER NOT NULL,
	download_mbps REAL NOT NULL,
	upload_mbps REAL NOT NULL DEFAULT 0,
	ping_ms REAL NOT NULL DEFAULT 0,
	passed INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	trigger_kind TEXT NOT NULL DEFAULT '',
	boot_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_speedtests_ts ON speedtests(ts);
`

// Store is the SQLite-backed history.
type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

// Open opens or creates the database at path and applies the schema.
// A nil logger discards log output.
func Open(ctx context.Context, path string, logger *logrus.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path must not be empty")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	logger.Debugf("opened store at %s", path)
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendEvent records one raw event. Replaying an event with a known
// id overwrites the previous row.
func (s *Store) AppendEvent(ctx context.Context, e incident.Event) error {
	if s == nil || s.db == nil {
		return nil
	}

	speedJSON := ""
	if e.Speed != nil {
		b, err := json.Marshal(e.Speed)
		if err != nil {
			return fmt.Errorf("store: encode speed payload: %w", err)
		}
		speedJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (id, kind, ts, duration_s, cause, speed_json) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.Timestamp.Unix(), e.DurationS, string(e.Cause), speedJSON)
	if err != nil {
		return fmt.Errorf("store: append event %s: %w", e.ID, err)
	}
	return nil
}

// AppendIncident records one finalized incident. Re-finalizing the
// same incident id overwrites the previous row.
func (s *Store) AppendIncident(ctx context.Context, inc incident.Incident) error {
	if s == nil || s.db == nil {
		return nil
	}

	eventIDs, err := json.Marshal(inc.EventIDs)
	if err != nil {
		return fmt.Errorf("store: encode event ids: %w", err)
	}
	retestJSON := ""
	if inc.Retest != nil {
		b, err := json.Marshal(inc.Retest)
		if err != nil {
			return fmt.Errorf("store: encode retest: %w", err)
		}
		retestJSON = string(b)
	}

	var endTS, resolvedTS sql.NullInt64
	if inc.End != nil {
		endTS = sql.NullInt64{Int64: inc.End.Unix(), Valid: true}
	}
	if inc.ResolvedAt != nil {
		resolvedTS = sql.NullInt64{Int64: inc.ResolvedAt.Unix(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO incidents (id, kind, cause, start_ts, end_ts, downtime_s, event_ids_json, retest_json, resolved_ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, string(inc.Kind), string(inc.Cause), inc.Start.Unix(), endTS, inc.DowntimeS, string(eventIDs), retestJSON, resolvedTS)
	if err != nil {
		return fmt.Errorf("store: append incident %s: %w", inc.ID, err)
	}
	return nil
}

// AppendSpeedTest records one speed test report.
func (s *Store) AppendSpeedTest(ctx context.Context, r wire.SpeedTestReport) error {
	if s == nil || s.db == nil {
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speedtests (ts, download_mbps, upload_mbps, ping_ms, passed, source, trigger_kind, boot_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Timestamp.Unix(), r.DownloadMbps, r.UploadMbps, r.PingMs, r.Passed, r.Source, r.Trigger, r.BootID)
	if err != nil {
		return fmt.Errorf("store: append speed test: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]incident.Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, ts, duration_s, cause, speed_json FROM events ORDER BY ts DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var events []incident.Event
	for rows.Next() {
		var (
			e         incident.Event
			kind      string
			ts        int64
			cause     string
			speedJSON string
		)
		if err := rows.Scan(&e.ID, &kind, &ts, &e.DurationS, &cause, &speedJSON); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		e.Kind = incident.EventKind(kind)
		e.Timestamp = time.Unix(ts, 0).UTC()
		e.Cause = incident.Cause(cause)
		if speedJSON != "" {
			var speed incident.SpeedResult
			if err := json.Unmarshal([]byte(speedJSON), &speed); err != nil {
				s.logger.Warnf("skipping speed payload of event %s: %v", e.ID, err)
			} else {
				e.Speed = &speed
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	return events, nil
}

// RecentIncidents returns up to limit finalized incidents, newest
// first by start time.
func (s *Store) RecentIncidents(ctx context.Context, limit int) ([]incident.Incident, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, cause, start_ts, end_ts, downtime_s, event_ids_json, retest_json, resolved_ts
		 FROM incidents ORDER BY start_ts DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []incident.Incident
	for rows.Next() {
		var (
			inc        incident.Incident
			kind       string
			cause      string
			startTS    int64
			endTS      sql.NullInt64
			eventIDs   string
			retestJSON string
			resolvedTS sql.NullInt64
		)
		if err := rows.Scan(&inc.ID, &kind, &cause, &startTS, &endTS, &inc.DowntimeS, &eventIDs, &retestJSON, &resolvedTS); err != nil {
			return nil, fmt.Errorf("store: scan incident: %w", err)
		}
		inc.Kind = incident.Kind(kind)
		inc.Cause = incident.Cause(cause)
		inc.Start = time.Unix(startTS, 0).UTC()
		if endTS.Valid {
			end := time.Unix(endTS.Int64, 0).UTC()
			inc.End = &end
		}
		if resolvedTS.Valid {
			resolved := time.Unix(resolvedTS.Int64, 0).UTC()
			inc.ResolvedAt = &resolved
		}
		if eventIDs != "" {
			if err := json.Unmarshal([]byte(eventIDs), &inc.EventIDs); err != nil {
				s.logger.Warnf("skipping event ids of incident %s: %v", inc.ID, err)
			}
		}
		if retestJSON != "" {
			var retest incident.SpeedResult
			if err := json.Unmarshal([]byte(retestJSON), &retest); err != nil {
				s.logger.Warnf("skipping retest of incident %s: %v", inc.ID, err)
			} else {
				inc.Retest = &retest
			}
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query incidents: %w", err)
	}
	return incidents, nil
}

// RecentSpeedTests returns up to limit speed test reports, newest
// first.
func (s *Store) RecentSpeedTests(ctx context.Context, limit int) ([]wire.SpeedTestReport, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, download_mbps, upload_mbps, ping_ms, passed, source, trigger_kind, boot_id
		 FROM speedtests ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query speed tests: %w", err)
	}
	defer rows.Close()

	var reports []wire.SpeedTestReport
	for rows.Next() {
		var (
			r  wire.SpeedTestReport
			ts int64
		)
		if err := rows.Scan(&ts, &r.DownloadMbps, &r.UploadMbps, &r.PingMs, &r.Passed, &r.Source, &r.Trigger, &r.BootID); err != nil {
			return nil, fmt.Errorf("store: scan speed test: %w", err)
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query speed tests: %w", err)
	}
	return reports, nil
}
