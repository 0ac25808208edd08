// Package snapshot persists daily inspection snapshots on disk and merges
// them into the deduplicated master view of the indexing universe.
package snapshot

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seolens/seolens/internal/inspect"
	"github.com/seolens/seolens/internal/util"
)

const (
	// DefaultRetentionDays is how long daily snapshot files are kept.
	DefaultRetentionDays = 7

	snapshotPrefix = "url_indexing_status_"
	snapshotSuffix = ".csv"
	dateLayout     = "2006-01-02"
)

var csvHeader = []string{"url", "coverage_state", "indexing_state", "verdict", "last_crawl"}

// MasterRecord is a deduplicated inspection record annotated with the date
// of the snapshot it came from.
type MasterRecord struct {
	inspect.Record
	InspectionDate time.Time
}

// Store reads and writes dated snapshot files under a single directory.
type Store struct {
	dir string
}

// NewStore creates the snapshot directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the snapshot directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) pathFor(date time.Time) string {
	return filepath.Join(s.dir, snapshotPrefix+date.Format(dateLayout)+snapshotSuffix)
}

// Write persists one daily snapshot. At most one snapshot exists per date;
// re-running the pipeline on the same day overwrites it.
func (s *Store) Write(date time.Time, records []inspect.Record) error {
	f, err := os.Create(s.pathFor(date))
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write snapshot header: %w", err)
	}

	for _, record := range records {
		lastCrawl := ""
		if record.LastCrawlTime != nil {
			lastCrawl = record.LastCrawlTime.Format(time.RFC3339)
		}
		row := []string{record.URL, record.CoverageState, record.IndexingState, record.Verdict, lastCrawl}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write snapshot row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush snapshot: %w", err)
	}

	log.Info().
		Str("date", date.Format(dateLayout)).
		Int("records", len(records)).
		Msg("Wrote daily inspection snapshot")

	return nil
}

// Dates lists the dates of all snapshots currently on disk, ascending.
// Files whose names don't parse as snapshot dates are ignored.
func (s *Store) Dates() ([]time.Time, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot directory: %w", err)
	}

	var dates []time.Time
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := parseSnapshotName(entry.Name())
		if !ok {
			continue
		}
		dates = append(dates, date)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// Read loads the snapshot for one date.
func (s *Store) Read(date time.Time) ([]inspect.Record, error) {
	f, err := os.Open(s.pathFor(date))
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var records []inspect.Record
	for i, row := range rows {
		if i == 0 || len(row) < 4 {
			continue
		}
		record := inspect.Record{
			URL:           row[0],
			CoverageState: row[1],
			IndexingState: row[2],
			Verdict:       row[3],
		}
		if len(row) > 4 && row[4] != "" {
			if ts, err := time.Parse(time.RFC3339, row[4]); err == nil {
				record.LastCrawlTime = &ts
			}
		}
		records = append(records, record)
	}

	return records, nil
}

// Merge folds every retained snapshot into one master record per distinct
// normalised URL. Snapshots are ingested in ascending date order so a later
// inspection always overwrites an earlier one; within a single day the
// last-written row wins. The result is sorted by normalised URL.
func (s *Store) Merge() ([]MasterRecord, error) {
	dates, err := s.Dates()
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]MasterRecord)
	for _, date := range dates {
		records, err := s.Read(date)
		if err != nil {
			log.Warn().Err(err).Str("date", date.Format(dateLayout)).Msg("Skipping unreadable snapshot during merge")
			continue
		}
		for _, record := range records {
			key := util.NormaliseURL(record.URL)
			byURL[key] = MasterRecord{Record: record, InspectionDate: date}
		}
	}

	keys := make([]string, 0, len(byURL))
	for key := range byURL {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	master := make([]MasterRecord, 0, len(keys))
	for _, key := range keys {
		master = append(master, byURL[key])
	}

	log.Info().
		Int("snapshots", len(dates)).
		Int("master_records", len(master)).
		Msg("Merged daily snapshots into master record")

	return master, nil
}

// Expire deletes snapshots strictly older than reference minus the retention
// window. A snapshot dated exactly retentionDays before reference is kept.
// Safe to call with no snapshots on disk.
func (s *Store) Expire(retentionDays int, reference time.Time) (int, error) {
	dates, err := s.Dates()
	if err != nil {
		return 0, err
	}

	cutoff := reference.AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, date := range dates {
		if !date.Before(cutoff) {
			continue
		}
		if err := os.Remove(s.pathFor(date)); err != nil {
			log.Warn().Err(err).Str("date", date.Format(dateLayout)).Msg("Failed to delete expired snapshot")
			continue
		}
		deleted++
		log.Debug().Str("date", date.Format(dateLayout)).Msg("Deleted expired snapshot")
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Int("retention_days", retentionDays).Msg("Expired old snapshots")
	}

	return deleted, nil
}
