package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
)

const (
	fileDateLayout = "2006/01/02"
	fileTimeLayout = "1504"
)

// HistoryImporter parses exported bar files and bulk-loads them, one
// transaction per file. File layout: a header line `code name type adjust`,
// a column-caption line, then tab-separated bars.
type HistoryImporter struct {
	store     port.Store
	encodings []string
}

func NewHistoryImporter(store port.Store, encodings []string) *HistoryImporter {
	return &HistoryImporter{store: store, encodings: encodings}
}

// ImportDir loads every .txt file under dir as bars of granularity g. A bad
// line skips the line, a bad file skips the file; only an unreadable directory
// fails the import.
func (i *HistoryImporter) ImportDir(ctx context.Context, dir string, g model.Granularity) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("history import %s: %w", dir, err)
	}

	files, total := 0, 0
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		bars, err := i.parseFile(path, g)
		if err != nil {
			log.Error().Err(err).Str("file", e.Name()).Msg("bar file skipped")
			continue
		}
		if len(bars) == 0 {
			log.Warn().Str("file", e.Name()).Msg("bar file has no data rows")
			continue
		}
		if err := i.store.BatchUpsertHistoricalBars(ctx, g, bars); err != nil {
			log.Error().Err(err).Str("file", e.Name()).Msg("bar batch rolled back")
			continue
		}
		files++
		total += len(bars)
	}
	log.Info().Str("granularity", string(g)).Int("files", files).Int("bars", total).Msg("history import done")
	return nil
}

func (i *HistoryImporter) parseFile(path string, g model.Granularity) ([]model.HistoricalBar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw, i.encodings)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("file too short: %d lines", len(lines))
	}
	code, name, err := parseBarHeader(lines[0])
	if err != nil {
		return nil, err
	}

	var bars []model.HistoricalBar
	// lines[1] is the column caption row
	for n, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		bar, err := parseBarLine(line, g)
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(path)).Int("line", n+3).Msg("bar line skipped")
			continue
		}
		bar.Code = code
		bar.Name = name
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseBarHeader reads the first file line: `600000 浦发银行 日线 不复权`.
func parseBarHeader(line string) (code, name string, err error) {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed header %q", line)
	}
	return parts[0], parts[1], nil
}

func parseBarLine(line string, g model.Granularity) (model.HistoricalBar, error) {
	var bar model.HistoricalBar
	parts := strings.Split(strings.TrimSpace(line), "\t")

	want := 7 // date O H L C volume amount
	if g.Intraday() {
		want = 8 // date time O H L C volume amount
	}
	if len(parts) != want {
		return bar, fmt.Errorf("expected %d fields, got %d", want, len(parts))
	}

	date, err := time.Parse(fileDateLayout, strings.TrimSpace(parts[0]))
	if err != nil {
		return bar, fmt.Errorf("bad date %q: %w", parts[0], err)
	}
	bar.Date = date.Format("2006-01-02")

	idx := 1
	if g.Intraday() {
		tm, err := time.Parse(fileTimeLayout, strings.TrimSpace(parts[1]))
		if err != nil {
			return bar, fmt.Errorf("bad time %q: %w", parts[1], err)
		}
		bar.Time = tm.Format("15:04:05")
		idx = 2
	}

	nums := make([]float64, 6)
	for j := 0; j < 6; j++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[idx+j]), 64)
		if err != nil {
			return bar, fmt.Errorf("bad number %q: %w", parts[idx+j], err)
		}
		nums[j] = v
	}
	bar.Open, bar.High, bar.Low, bar.Close = nums[0], nums[1], nums[2], nums[3]
	bar.Volume = int64(nums[4]) // volumes come in scientific notation
	bar.Amount = nums[5]
	return bar, nil
}
