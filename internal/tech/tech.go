// Package tech resolves the active technology from AMC_HOME and AMC_TECH and
// reads its setup script and parameter files.
package tech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/amc/internal/config"
)

// ErrMissingEnv is returned when a required environment variable is unset.
var ErrMissingEnv = errors.New("missing environment variable")

const (
	EnvHome = "AMC_HOME"
	EnvTech = "AMC_TECH"
)

// Technology is a resolved technology directory with its exported environment.
type Technology struct {
	Name        string            `json:"name"`
	Home        string            `json:"home"`
	Dir         string            `json:"dir"`
	Env         map[string]string `json:"env"`
	Params      Params            `json:"params"`
	SearchPaths []string          `json:"searchPaths,omitempty"`
	SetupFile   string            `json:"setupFile,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// Options tweaks Resolve.
type Options struct {
	Logger *zap.Logger
}

// Resolve locates <home>/technology/<tech>, runs its setup file and reads its
// parameters. getenv is usually os.Getenv.
func Resolve(ctx context.Context, getenv func(string) string, cfg *config.Config, opts Options) (*Technology, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if getenv == nil {
		getenv = func(string) string { return "" }
	}

	home := getenv(EnvHome)
	if home == "" && cfg != nil {
		home = cfg.Home
	}
	if home == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingEnv, EnvHome)
	}
	name := getenv(EnvTech)
	if name == "" && cfg != nil {
		name = cfg.Tech
	}
	if name == "" {
		name = config.DefaultTech
	}

	t := &Technology{
		Name:   name,
		Home:   home,
		Dir:    filepath.Join(home, "technology", name),
		Env:    make(map[string]string),
		Params: Params{},
	}
	if info, err := os.Stat(t.Dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("technology %q not found under %s", name, filepath.Join(home, "technology"))
	}

	environ := map[string]string{EnvHome: home, EnvTech: name}

	script, err := t.readSetup(ctx, environ, getenv)
	if err != nil {
		return nil, err
	}
	if script != nil {
		t.SetupFile = script.Path
		t.SearchPaths = script.SearchPaths
		for k, v := range script.Env {
			t.Env[k] = v
			environ[k] = v
		}
		log.Debug("setup file read", zap.String("path", script.Path), zap.Int("vars", len(script.Env)))
	} else {
		log.Debug("no setup file", zap.String("tech", name))
	}

	techPy := filepath.Join(t.Dir, "tech", "tech.py")
	if _, err := os.Stat(techPy); err == nil {
		params, warnings, err := ReadTechPy(ctx, techPy, environ, getenv)
		if err != nil {
			return nil, err
		}
		t.Params.Merge(params)
		t.Warnings = append(t.Warnings, warnings...)
	}
	techYAML := filepath.Join(t.Dir, "tech", "tech.yaml")
	if _, err := os.Stat(techYAML); err == nil {
		params, err := ReadTechYAML(techYAML)
		if err != nil {
			return nil, err
		}
		t.Params.Merge(params)
	}
	for _, w := range t.Warnings {
		log.Warn("tech parameter skipped", zap.String("detail", w))
	}
	return t, nil
}

// readSetup prefers the Python setup script and falls back to setup.yaml.
func (t *Technology) readSetup(ctx context.Context, environ map[string]string, getenv func(string) string) (*SetupScript, error) {
	py := filepath.Join(t.Home, "technology", "setup_scripts", "setup_amc_"+t.Name+".py")
	if _, err := os.Stat(py); err == nil {
		return ReadSetupScript(ctx, py, environ, getenv)
	}
	y := filepath.Join(t.Dir, "setup.yaml")
	if _, err := os.Stat(y); err == nil {
		return ReadSetupYAML(y, environ, getenv)
	}
	return nil, nil
}

// Export renders the environment as sorted shell export lines, AMC_HOME and
// AMC_TECH first.
func (t *Technology) Export() []string {
	lines := []string{
		fmt.Sprintf("export %s=%s", EnvHome, strconv.Quote(t.Home)),
		fmt.Sprintf("export %s=%s", EnvTech, strconv.Quote(t.Name)),
	}
	for _, k := range sortedKeys(t.Env) {
		if k == EnvHome || k == EnvTech {
			continue
		}
		lines = append(lines, fmt.Sprintf("export %s=%s", k, strconv.Quote(t.Env[k])))
	}
	return lines
}

// Apply sets every exported variable through setenv.
func (t *Technology) Apply(setenv func(key, value string) error) error {
	if err := setenv(EnvHome, t.Home); err != nil {
		return err
	}
	if err := setenv(EnvTech, t.Name); err != nil {
		return err
	}
	for _, k := range sortedKeys(t.Env) {
		if err := setenv(k, t.Env[k]); err != nil {
			return fmt.Errorf("setting %s: %w", k, err)
		}
	}
	return nil
}

// MissingPaths lists *_HOME, *_DIR and *_PATH variables whose value does not exist on disk.
func (t *Technology) MissingPaths() []string {
	var missing []string
	for _, k := range sortedKeys(t.Env) {
		if !strings.HasSuffix(k, "_HOME") && !strings.HasSuffix(k, "_DIR") && !strings.HasSuffix(k, "_PATH") {
			continue
		}
		if _, err := os.Stat(t.Env[k]); err != nil {
			missing = append(missing, k+"="+t.Env[k])
		}
	}
	return missing
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
