package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
)

// sectorFiles maps the fixed export filenames to their sector type.
var sectorFiles = map[string]model.SectorType{
	"地区板块.txt": model.SectorRegion,
	"风格板块.txt": model.SectorStyle,
	"概念板块.txt": model.SectorConcept,
	"行业板块.txt": model.SectorIndustry,
	"指数板块.txt": model.SectorIndex,
}

// nameMarkers are status prefixes stripped from stock names on import.
var nameMarkers = []string{"*", "ST", "N", "XD", "XR", "DR"}

// SectorImporter loads sector membership files. Each sector's member set is
// replaced atomically, so readers never see a half-imported sector.
type SectorImporter struct {
	store     port.Store
	encodings []string
}

func NewSectorImporter(store port.Store, encodings []string) *SectorImporter {
	return &SectorImporter{store: store, encodings: encodings}
}

// ImportDir processes every known sector file present under dir. A failing
// file is logged and skipped; the remaining files still import.
func (i *SectorImporter) ImportDir(ctx context.Context, dir string) error {
	found := 0
	for filename, typ := range sectorFiles {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		found++
		if err := i.importFile(ctx, path, typ); err != nil {
			log.Error().Err(err).Str("file", filename).Msg("sector file skipped")
			continue
		}
		log.Info().Str("file", filename).Str("type", string(typ)).Msg("sector file imported")
	}
	if found == 0 {
		return fmt.Errorf("no sector files found under %s", dir)
	}
	return nil
}

// importFile walks the file's lines, which group rows of the same sector
// consecutively, and flushes each completed group as one replacement.
func (i *SectorImporter) importFile(ctx context.Context, path string, typ model.SectorType) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	text, err := decodeText(raw, i.encodings)
	if err != nil {
		return err
	}

	var meta model.SectorRecord
	var members []model.SectorMember

	flush := func() {
		if meta.Code == "" || len(members) == 0 {
			return
		}
		if err := i.store.ReplaceSectorMembership(ctx, meta, members); err != nil {
			log.Error().Err(err).Str("sector", meta.Code).Msg("sector replacement rolled back")
		}
		members = nil
	}

	for n, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := parseSectorLine(line)
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(path)).Int("line", n+1).Msg("sector line skipped")
			continue
		}
		if row.sectorCode != meta.Code {
			flush()
			meta = model.SectorRecord{Code: row.sectorCode, Name: row.sectorName, Type: typ}
		}
		members = append(members, model.SectorMember{
			StockCode:  row.stockCode,
			StockName:  row.stockName,
			SectorCode: row.sectorCode,
			SectorType: typ,
			Weight:     1.0,
		})
	}
	flush()
	return nil
}

type sectorLine struct {
	sectorCode, sectorName, stockCode, stockName string
}

func parseSectorLine(line string) (sectorLine, error) {
	var row sectorLine
	parts := strings.Split(strings.TrimSpace(line), "\t")
	if len(parts) != 4 {
		return row, fmt.Errorf("expected 4 fields, got %d", len(parts))
	}
	row.sectorCode = strings.TrimSpace(parts[0])
	row.sectorName = strings.TrimSpace(parts[1])
	row.stockCode = strings.TrimSpace(parts[2])
	row.stockName = cleanStockName(strings.TrimSpace(parts[3]))

	if !isDigits(row.sectorCode, 6) {
		return row, fmt.Errorf("bad sector code %q", row.sectorCode)
	}
	if !isDigits(row.stockCode, 6) {
		return row, fmt.Errorf("bad stock code %q", row.stockCode)
	}
	if row.sectorName == "" || row.stockName == "" {
		return row, fmt.Errorf("empty name in %q", line)
	}
	return row, nil
}

// cleanStockName strips leading status markers, like *ST or N for new
// listings. Markers are prefixes only; the same letters inside a name stay.
// Falls back to the original name if stripping empties it.
func cleanStockName(name string) string {
	cleaned := strings.TrimSpace(name)
	for stripped := true; stripped; {
		stripped = false
		for _, m := range nameMarkers {
			if next := strings.TrimPrefix(cleaned, m); next != cleaned {
				cleaned = next
				stripped = true
			}
		}
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return name
	}
	return cleaned
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
