package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// appendEvent adds one line to requests.log. Single writer mutex plus
// O_APPEND keeps lines whole under concurrency.
func (st *Store) appendEvent(ev OpenEvent) error {
	raw, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("%s : while encoding open event for message %s", err, ev.MessageID)
	}
	st.logMu.Lock()
	defer st.logMu.Unlock()
	f, err := os.OpenFile(st.logPath(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%s : while opening %s", err, st.logPath())
	}
	_, err = f.Write(append(raw, '\n'))
	if err != nil {
		f.Close()
		return fmt.Errorf("%s : while appending to %s", err, st.logPath())
	}
	return f.Close()
}

func (st *Store) logPath() string {
	return filepath.Join(st.root, logFile)
}

// EventFilter selects open events for reporting. Zero Start or End means
// unbounded on that side, bounds are inclusive.
type EventFilter struct {
	Start     time.Time
	End       time.Time
	MessageID string
}

// Events reads the chronological log and returns matching events sorted
// newest first. Missing log yields an empty result, corrupt lines are
// skipped.
func (st *Store) Events(filter EventFilter) ([]OpenEvent, error) {
	f, err := os.Open(st.logPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s : while opening %s", err, st.logPath())
	}
	defer f.Close()
	var out []OpenEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev OpenEvent
		if json.Unmarshal(scanner.Bytes(), &ev) != nil {
			continue // half written or corrupt line, reporting is best effort
		}
		if filter.MessageID != "" && ev.MessageID != filter.MessageID {
			continue
		}
		if !filter.Start.IsZero() && ev.At.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && ev.At.After(filter.End) {
			continue
		}
		out = append(out, ev)
	}
	err = scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("%s : while scanning %s", err, st.logPath())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.After(out[j].At)
	})
	return out, nil
}

// Stats are aggregate counters over all stored messages
type Stats struct {
	Messages   int `json:"messages"`
	Tracked    int `json:"tracked"`
	Opened     int `json:"opened"`
	TotalOpens int `json:"total_opens"`
}

// Stats scans stored messages, skipping entries it cannot read
func (st *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(st.root)
	if err != nil {
		return Stats{}, fmt.Errorf("%s : while listing store root %s", err, st.root)
	}
	var stats Stats
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := st.ReadMeta(entry.Name())
		if err != nil {
			continue
		}
		stats.Messages++
		if meta.TrackingEnabled {
			stats.Tracked++
		}
		if meta.Opens > 0 {
			stats.Opened++
			stats.TotalOpens += meta.Opens
		}
	}
	return stats, nil
}
