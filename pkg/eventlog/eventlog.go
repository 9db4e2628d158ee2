// Package eventlog keeps a local CSV history of monitor events: state
// transitions, finished outages, and speed test results. The file is
// append-only during operation and pruned on a daily schedule.
package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Kind distinguishes the event rows.
type Kind string

const (
	KindStateChange Kind = "state_change"
	KindOutage      Kind = "outage"
	KindSpeedTest   Kind = "speed_test"
	KindSendFailure Kind = "send_failure"
)

// header is the CSV column layout. Duration and download are left
// empty on rows where they do not apply.
var header = []string{"timestamp", "kind", "state", "duration_s", "download_mbps", "detail"}

// Entry is one event row.
type Entry struct {
	Timestamp    time.Time
	Kind         Kind
	State        string
	DurationS    int64
	DownloadMbps float64
	Detail       string
}

// Log is a CSV-backed event history. It is safe for concurrent use.
type Log struct {
	path   string
	mu     sync.Mutex
	logger *logrus.Logger
}

// Open prepares the event log at path, creating the file with a header
// row when it does not exist yet.
func Open(path string, logger *logrus.Logger) (*Log, error) {
	if path == "" {
		return nil, fmt.Errorf("eventlog: path must not be empty")
	}

	l := &Log{
		path:   path,
		logger: logger,
	}

	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return l, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("eventlog: stat %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("eventlog: write header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("eventlog: write header: %w", err)
	}

	return l, nil
}

// Append adds one event row.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(encodeEntry(e)); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

// Entries reads the full history. Rows that fail to parse are skipped
// with a warning so one corrupt line cannot take down the history.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readLocked()
}

// Tail returns the most recent n entries in chronological order.
func (l *Log) Tail(n int) ([]Entry, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Prune rewrites the log keeping only entries at or after cutoff. It
// returns the number of rows dropped.
func (l *Log) Prune(cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readLocked()
	if err != nil {
		return 0, err
	}

	kept := entries[:0]
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	dropped := len(entries) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp")
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	writeErr := w.Write(header)
	for _, e := range kept {
		if writeErr != nil {
			break
		}
		writeErr = w.Write(encodeEntry(e))
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("eventlog: prune: %w", writeErr)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}

	return dropped, nil
}

func (l *Log) readLocked() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: open %s: %w", l.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var entries []Entry
	first := true
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("eventlog: read %s: %w", l.path, err)
		}
		if first {
			first = false
			if len(record) > 0 && record[0] == header[0] {
				continue
			}
		}

		e, err := decodeEntry(record)
		if err != nil {
			l.logger.Warnf("skipping malformed event row: %v", err)
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

func encodeEntry(e Entry) []string {
	duration := ""
	if e.DurationS > 0 {
		duration = strconv.FormatInt(e.DurationS, 10)
	}
	download := ""
	if e.DownloadMbps > 0 {
		download = strconv.FormatFloat(e.DownloadMbps, 'f', 2, 64)
	}
	return []string{
		e.Timestamp.UTC().Format(time.RFC3339),
		string(e.Kind),
		e.State,
		duration,
		download,
		e.Detail,
	}
}

func decodeEntry(record []string) (Entry, error) {
	if len(record) < 6 {
		return Entry{}, fmt.Errorf("expected 6 columns, got %d", len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return Entry{}, fmt.Errorf("bad timestamp %q: %w", record[0], err)
	}

	e := Entry{
		Timestamp: ts,
		Kind:      Kind(record[1]),
		State:     record[2],
		Detail:    record[5],
	}

	if record[3] != "" {
		d, err := strconv.ParseInt(record[3], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("bad duration %q: %w", record[3], err)
		}
		e.DurationS = d
	}
	if record[4] != "" {
		m, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return Entry{}, fmt.Errorf("bad download rate %q: %w", record[4], err)
		}
		e.DownloadMbps = m
	}

	return e, nil
}
