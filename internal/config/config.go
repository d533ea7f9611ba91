package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTech is the technology used when neither AMC_TECH nor the config names one.
const DefaultTech = "scn3me_subm"

// Config is the top-level configuration for amc
type Config struct {
	// Tech names the technology directory under <home>/technology
	Tech string `json:"tech,omitempty"`

	// Home is the compiler installation root (AMC_HOME)
	Home string `json:"home,omitempty"`

	// Libraries maps library names to their cell files
	Libraries map[string]LibraryConfig `json:"libraries,omitempty"`

	// Cells maps generator kinds to library cell names for this technology
	Cells map[string]string `json:"cells,omitempty"`

	// Lint contains library conformance rule configuration
	Lint LintConfig `json:"lint,omitempty"`

	// Regression contains golden-reference harness options
	Regression RegressionConfig `json:"regression,omitempty"`
}

// LibraryConfig defines the files making up a cell library
type LibraryConfig struct {
	// Files is a list of glob patterns for .lef and .cells.yaml files
	Files []string `json:"files"`

	// Exclude is a list of glob patterns removed from Files
	Exclude []string `json:"exclude,omitempty"`
}

// LintConfig contains conformance rule configuration
type LintConfig struct {
	// Rules maps rule names to severity: "off", "warning", "error"
	Rules map[string]string `json:"rules,omitempty"`

	// IgnoreCells is a list of cell name patterns skipped by the conformance check
	IgnoreCells []string `json:"ignoreCells,omitempty"`
}

// CacheConfig controls the regression cache
type CacheConfig struct {
	// Enabled turns on cache usage
	Enabled *bool `json:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty"`
}

// RegressionConfig contains harness options
type RegressionConfig struct {
	// GoldenDir holds reference outputs, one subdirectory per technology
	GoldenDir string `json:"goldenDir,omitempty"`

	// OutputDir receives generated outputs, one subdirectory per technology
	OutputDir string `json:"outputDir,omitempty"`

	// MaxParallel limits concurrent cases (0 = auto)
	MaxParallel int `json:"maxParallel,omitempty"`

	// FailFast stops scheduling cases after the first failure
	FailFast bool `json:"failFast,omitempty"`

	// Tolerance is the absolute geometry tolerance in microns
	Tolerance float64 `json:"tolerance,omitempty"`

	// Cache controls result reuse between runs
	Cache CacheConfig `json:"cache,omitempty"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Tech: DefaultTech,
		Libraries: map[string]LibraryConfig{
			"cells": {
				Files:   []string{"gds_lib/*.lef", "gds_lib/*.cells.yaml"},
				Exclude: []string{},
			},
		},
		Cells: map[string]string{},
		Lint: LintConfig{
			Rules:       map[string]string{},
			IgnoreCells: []string{},
		},
		Regression: RegressionConfig{
			GoldenDir:   "golden",
			OutputDir:   "amc_out",
			MaxParallel: 0, // auto
			Tolerance:   1e-6,
			Cache: CacheConfig{
				Enabled: boolPtr(true),
				Dir:     ".amc_cache",
			},
		},
	}
}

func boolPtr(v bool) *bool {
	return &v
}

// Load finds and loads the configuration file
// Search order:
//  1. ./amc.json (current working directory)
//  2. ./.amc.json (current working directory)
//  3. <rootPath>/amc.json (if different from cwd)
//  4. <rootPath>/.amc.json
//  5. ~/.config/amc/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	searchPaths := []string{
		filepath.Join(cwd, "amc.json"),
		filepath.Join(cwd, ".amc.json"),
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			searchPaths = append(searchPaths,
				filepath.Join(rootPath, "amc.json"),
				filepath.Join(rootPath, ".amc.json"),
			)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "amc", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Tech == "" {
		c.Tech = def.Tech
	}
	if c.Libraries == nil {
		c.Libraries = def.Libraries
	}
	if c.Cells == nil {
		c.Cells = make(map[string]string)
	}
	if c.Lint.Rules == nil {
		c.Lint.Rules = make(map[string]string)
	}
	if c.Regression.GoldenDir == "" {
		c.Regression.GoldenDir = def.Regression.GoldenDir
	}
	if c.Regression.OutputDir == "" {
		c.Regression.OutputDir = def.Regression.OutputDir
	}
	if c.Regression.Tolerance <= 0 {
		c.Regression.Tolerance = def.Regression.Tolerance
	}
	if c.Regression.Cache.Dir == "" {
		c.Regression.Cache.Dir = def.Regression.Cache.Dir
	}
	if c.Regression.Cache.Enabled == nil {
		c.Regression.Cache.Enabled = boolPtr(true)
	}
}

// ApplyEnv lets AMC_HOME and AMC_TECH override the file values
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if home := getenv("AMC_HOME"); home != "" {
		c.Home = home
	}
	if tech := getenv("AMC_TECH"); tech != "" {
		c.Tech = tech
	}
}

// Save writes the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// CacheEnabled reports whether the regression cache is on
func (c *Config) CacheEnabled() bool {
	if c == nil || c.Regression.Cache.Enabled == nil {
		return false
	}
	return *c.Regression.Cache.Enabled
}

// TechDir returns <home>/technology/<tech>, or "" without a home
func (c *Config) TechDir() string {
	if c.Home == "" {
		return ""
	}
	return filepath.Join(c.Home, "technology", c.Tech)
}

// RuleSeverity returns the severity for a rule, or the default if not configured
func (c *Config) RuleSeverity(rule string, defaultSeverity string) string {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity
	}
	return defaultSeverity
}

// IsRuleEnabled returns true if the rule is not set to "off"
func (c *Config) IsRuleEnabled(rule string) bool {
	if severity, ok := c.Lint.Rules[rule]; ok {
		return severity != "off"
	}
	return true
}

// IsCellIgnored checks if a cell is excluded from conformance checks
func (c *Config) IsCellIgnored(name string) bool {
	for _, pattern := range c.Lint.IgnoreCells {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}

// CellName returns the library cell used for a generator kind
func (c *Config) CellName(kind, defaultName string) string {
	if c != nil {
		if name, ok := c.Cells[kind]; ok && name != "" {
			return name
		}
	}
	return defaultName
}
