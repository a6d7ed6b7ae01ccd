package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[memory]
process = "tdxw.exe"
base_address = 0xF3B919
row_stride = 0x144
rows = 80
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.CollectEveryMs != 1000 {
		t.Fatalf("collect_every_ms default = %d, want 1000", cfg.App.CollectEveryMs)
	}
	if cfg.Market.LimitUpThreshold != 9.9 {
		t.Fatalf("limit_up_threshold default = %v, want 9.9", cfg.Market.LimitUpThreshold)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Fatalf("backend default = %q, want sqlite", cfg.Store.Backend)
	}
}

func TestLoadRejectsMissingProcess(t *testing.T) {
	path := writeConfig(t, `
[memory]
row_stride = 0x144
rows = 80
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted a config without memory.process")
	}
}

// The example config carries the offset table of the terminal build it names.
// The fields sit at irregular deltas from the code address; any drift here
// means decoding garbage against the real process.
func TestShippedConfigOffsetTable(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "..", "configs", "config.toml"))
	if err != nil {
		t.Fatalf("Load shipped config: %v", err)
	}

	if cfg.Memory.Process != "tdxw.exe" {
		t.Fatalf("process = %q, want tdxw.exe", cfg.Memory.Process)
	}
	if cfg.Memory.BaseAddress != 0xF3B919 {
		t.Fatalf("base_address = %#x, want 0xF3B919", cfg.Memory.BaseAddress)
	}
	if cfg.Memory.RowStride != 0x144 {
		t.Fatalf("row_stride = %#x, want 0x144", cfg.Memory.RowStride)
	}

	offs := cfg.Memory.Offsets
	want := map[string][2]int64{
		"code":           {offs.Code, 0x00},
		"prev_close":     {offs.PrevClose, 0x0B},
		"open":           {offs.Open, 0x0F},
		"high":           {offs.High, 0x13},
		"low":            {offs.Low, 0x17},
		"current":        {offs.Current, 0x1B},
		"volume":         {offs.Volume, 0x27},
		"current_volume": {offs.CurVolume, 0x2B},
		"buy_volume":     {offs.BuyVolume, 0x57},
		"sell_price":     {offs.SellPrice, 0x6B},
		"sell_volume":    {offs.SellVolume, 0x7F},
	}
	for field, v := range want {
		if v[0] != v[1] {
			t.Errorf("%s offset = %#x, want %#x", field, v[0], v[1])
		}
	}
}
