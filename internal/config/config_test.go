package config

import (
	"path/filepath"
	"testing"
)

func TestLoadFileAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amc.json")
	writeFile(t, path, `{"tech": "freepdk45", "lint": {"rules": {"pin_without_shape": "off"}}}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Tech != "freepdk45" {
		t.Fatalf("expected tech freepdk45, got %q", cfg.Tech)
	}
	if cfg.Regression.GoldenDir != "golden" {
		t.Fatalf("expected default golden dir, got %q", cfg.Regression.GoldenDir)
	}
	if !cfg.CacheEnabled() {
		t.Fatalf("expected cache enabled by default")
	}
	if _, ok := cfg.Libraries["cells"]; !ok {
		t.Fatalf("expected default cells library, got %v", cfg.Libraries)
	}
	if cfg.IsRuleEnabled("pin_without_shape") {
		t.Fatalf("expected pin_without_shape disabled")
	}
	if !cfg.IsRuleEnabled("positive_size") {
		t.Fatalf("expected unconfigured rule enabled")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amc.json")

	cfg := DefaultConfig()
	cfg.Cells["inv"] = "pinv_1x"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := loaded.CellName("inv", "inv"); got != "pinv_1x" {
		t.Fatalf("expected pinv_1x, got %q", got)
	}
	if got := loaded.CellName("nand2", "nand2"); got != "nand2" {
		t.Fatalf("expected default nand2, got %q", got)
	}
}

func TestApplyEnvOverridesFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Home = "/from/file"
	env := map[string]string{"AMC_HOME": "/from/env", "AMC_TECH": "tsmc65"}

	cfg.ApplyEnv(func(k string) string { return env[k] })

	if cfg.Home != "/from/env" || cfg.Tech != "tsmc65" {
		t.Fatalf("expected env overrides, got home=%q tech=%q", cfg.Home, cfg.Tech)
	}
	want := filepath.Join("/from/env", "technology", "tsmc65")
	if cfg.TechDir() != want {
		t.Fatalf("expected tech dir %s, got %s", want, cfg.TechDir())
	}
}

func TestIsCellIgnored(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Lint.IgnoreCells = []string{"fill_*"}
	if !cfg.IsCellIgnored("fill_4") {
		t.Fatalf("expected fill_4 ignored")
	}
	if cfg.IsCellIgnored("pinv") {
		t.Fatalf("did not expect pinv ignored")
	}
}
