// Dovetail - Plex Dolby Vision Library Curator and Upgrade Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/dovetail

// Package reports dumps scan results to disk: a pipe-delimited CSV of
// every catalogued movie plus a JSON report carrying the scan summary,
// with an age-based retention sweep over the reports directory.
package reports

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tomtom215/dovetail/internal/config"
	"github.com/tomtom215/dovetail/internal/database"
	"github.com/tomtom215/dovetail/internal/logging"
	"github.com/tomtom215/dovetail/internal/models"
)

// timestampLayout names report files sortably.
const timestampLayout = "20060102_150405"

var csvHeader = []string{
	"rating_key", "title", "year", "dv_profile", "dv_fel", "has_atmos",
	"resolution", "video_bitrate_mbps", "file_size_bytes", "audio_tracks",
}

// Writer generates scan reports into the configured directory.
type Writer struct {
	db  *database.DB
	cfg config.ReportsConfig

	// now is swapped out in tests.
	now func() time.Time
}

// NewWriter creates a report writer.
func NewWriter(db *database.DB, cfg config.ReportsConfig) *Writer {
	return &Writer{db: db, cfg: cfg, now: time.Now}
}

// jsonReport is the JSON report document.
type jsonReport struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Scan        *models.ScanSnapshot       `json:"scan"`
	Movies      []*models.CapabilityRecord `json:"movies"`
}

// Generate writes one CSV and one JSON report for the scan, then sweeps
// old reports past the retention window.
func (w *Writer) Generate(ctx context.Context, snap *models.ScanSnapshot) error {
	if !w.cfg.Enabled {
		return nil
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o750); err != nil {
		return fmt.Errorf("create reports dir: %w", err)
	}

	movies, err := w.db.ListMovies(ctx, database.BucketAll)
	if err != nil {
		return fmt.Errorf("list movies for report: %w", err)
	}

	stamp := w.now().UTC().Format(timestampLayout)
	csvPath := filepath.Join(w.cfg.Dir, fmt.Sprintf("movies_%s.csv", stamp))
	jsonPath := filepath.Join(w.cfg.Dir, fmt.Sprintf("scan_%s.json", stamp))

	if err := w.writeCSV(csvPath, movies); err != nil {
		return err
	}
	if err := w.writeJSON(jsonPath, snap, movies); err != nil {
		return err
	}

	logging.Info().
		Str("csv", csvPath).
		Str("json", jsonPath).
		Int("movies", len(movies)).
		Msg("Scan reports written")

	w.sweepRetention()
	return nil
}

func (w *Writer) writeCSV(path string, movies []*models.CapabilityRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv report: %w", err)
	}
	defer closeWithLog(f, path)

	cw := csv.NewWriter(f)
	cw.Comma = '|'
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, m := range movies {
		year := ""
		if m.Year != nil {
			year = strconv.Itoa(*m.Year)
		}
		row := []string{
			m.RatingKey,
			m.Title,
			year,
			m.DVProfile,
			strconv.FormatBool(m.DVFEL),
			strconv.FormatBool(m.HasAtmos),
			m.Extra.Resolution,
			strconv.FormatFloat(m.VideoBitrate, 'f', 1, 64),
			strconv.FormatInt(m.FileSize, 10),
			m.AudioTracks,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", m.RatingKey, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv report: %w", err)
	}
	return nil
}

func (w *Writer) writeJSON(path string, snap *models.ScanSnapshot, movies []*models.CapabilityRecord) error {
	report := jsonReport{
		GeneratedAt: w.now().UTC(),
		Scan:        snap,
		Movies:      movies,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write json report: %w", err)
	}
	return nil
}

// ReportFile describes one generated report for the control plane.
type ReportFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// List returns the generated reports, newest first.
func (w *Writer) List() ([]ReportFile, error) {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reports dir: %w", err)
	}

	var files []ReportFile
	for _, entry := range entries {
		if entry.IsDir() || !isReportName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, ReportFile{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].ModifiedAt.After(files[j].ModifiedAt)
	})
	return files, nil
}

// sweepRetention removes reports older than the retention window.
// Failures are logged; retention never fails a scan.
func (w *Writer) sweepRetention() {
	if w.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := w.now().Add(-time.Duration(w.cfg.RetentionDays) * 24 * time.Hour)

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		logging.Warn().Err(err).Msg("Report retention sweep failed")
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isReportName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logging.Warn().Str("report", path).Err(err).Msg("Stale report removal failed")
			continue
		}
		logging.Debug().Str("report", path).Msg("Stale report removed")
	}
}

func isReportName(name string) bool {
	return (strings.HasPrefix(name, "movies_") && strings.HasSuffix(name, ".csv")) ||
		(strings.HasPrefix(name, "scan_") && strings.HasSuffix(name, ".json"))
}

func closeWithLog(f *os.File, path string) {
	if err := f.Close(); err != nil {
		logging.Warn().Str("file", path).Err(err).Msg("Report file close failed")
	}
}
