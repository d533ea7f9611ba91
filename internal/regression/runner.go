package regression

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/library"
	"github.com/robert-at-pretension-io/amc/internal/validator"
)

// Runner executes suites against one library and technology.
type Runner struct {
	Config  *config.Config
	Library *library.Library
	Tech    string
	Logger  *zap.Logger

	// Root resolves relative golden, output and cache directories.
	Root string

	// Update rewrites goldens from the generated output instead of comparing.
	Update bool

	// FailFast skips remaining cases after the first failure. The config
	// setting turns it on as well.
	FailFast bool

	// NoCache ignores and leaves untouched the regression cache.
	NoCache bool

	Timing     bool
	TimingPath string

	// Getenv reads AMC_TIMING and AMC_TIMING_JSONL; nil uses os.Getenv.
	Getenv func(string) string
}

func (r *Runner) getenv(key string) string {
	if r.Getenv != nil {
		return r.Getenv(key)
	}
	return os.Getenv(key)
}

func (r *Runner) dir(p string) string {
	if filepath.IsAbs(p) || r.Root == "" {
		return p
	}
	return filepath.Join(r.Root, p)
}

func (r *Runner) config() *config.Config {
	if r.Config != nil {
		return r.Config
	}
	return config.DefaultConfig()
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// GoldenDir is where goldens for tech live.
func (r *Runner) GoldenDir(tech string) string {
	return filepath.Join(r.dir(r.config().Regression.GoldenDir), tech)
}

// OutputDir is where generated outputs for tech are written.
func (r *Runner) OutputDir(tech string) string {
	return filepath.Join(r.dir(r.config().Regression.OutputDir), tech)
}

// Run executes every case of the suite. Case failures are reported in the
// result; the error is reserved for setup problems and cancellation.
func (r *Runner) Run(ctx context.Context, suite *Suite) (*RunResult, error) {
	if r.Library == nil {
		return nil, errors.New("runner has no library")
	}
	cfg := r.config()
	log := r.logger()

	// The active technology comes from the runner or config, never the suite.
	tech := r.Tech
	if tech == "" {
		tech = cfg.Tech
	}
	if tech == "" {
		tech = config.DefaultTech
	}
	if suite.Tech != "" && suite.Tech != tech {
		return nil, fmt.Errorf("%w: suite wants %s, active technology is %s", ErrTechMismatch, suite.Tech, tech)
	}

	started := time.Now()
	result := &RunResult{
		RunID:       uuid.NewString(),
		Suite:       suite.Path,
		Tech:        tech,
		Started:     started.UTC(),
		LibraryHash: r.Library.Hash(),
		Cases:       make([]CaseResult, len(suite.Cases)),
	}

	goldenDir := r.GoldenDir(tech)
	outputDir := r.OutputDir(tech)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	timing := newTimingRecorder(started, r.resolveTimingPath(outputDir))
	defer timing.Close()
	if err := timing.Err(); err != nil {
		log.Warn("timing disabled", zap.Error(err))
	}

	var cache *caseCache
	if cfg.CacheEnabled() && !r.NoCache {
		cache = newCaseCache(filepath.Join(r.dir(cfg.Regression.Cache.Dir), "regression", tech))
		if err := cache.Load(); err != nil {
			log.Warn("regression cache disabled", zap.Error(err))
			cache = nil
		}
	}
	if cache != nil {
		stageStart := time.Now()
		result.Impact = r.checkImpact(cache, log)
		timing.RecordStage("impact", stageStart, "")
	}

	limit := cfg.Regression.MaxParallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	failFast := r.FailFast || cfg.Regression.FailFast

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(limit)

	for i, c := range suite.Cases {
		g.Go(func() error {
			if gctx.Err() != nil {
				reason := "fail-fast"
				if ctx.Err() != nil {
					reason = "cancelled"
				}
				result.Cases[i] = CaseResult{ID: c.ID, Generator: c.Generator, Status: StatusSkipped, Message: "not run: " + reason}
				return nil
			}
			caseStart := time.Now()
			cr := r.runCase(c, goldenDir, outputDir, cfg, result.LibraryHash, cache)
			cr.DurationMS = time.Since(caseStart).Milliseconds()
			result.Cases[i] = cr
			timing.RecordCase("case", c.ID, string(cr.Status), caseStart)
			log.Debug("case finished",
				zap.String("case", c.ID),
				zap.String("status", string(cr.Status)),
				zap.Int64("duration_ms", cr.DurationMS))
			if failFast && !cr.Status.OK() {
				cancel()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, c := range result.Cases {
		result.Summary.add(c.Status)
	}
	if cache != nil {
		if err := cache.Save(); err != nil {
			log.Warn("regression cache save failed", zap.Error(err))
		}
	}
	result.DurationMS = time.Since(started).Milliseconds()
	timing.RecordStage("total", started, "")

	v, err := validator.New()
	if err != nil {
		return nil, err
	}
	if err := v.ValidateResult(result); err != nil {
		return nil, fmt.Errorf("run result: %w", err)
	}

	log.Info("suite finished",
		zap.String("run_id", result.RunID),
		zap.String("tech", tech),
		zap.Int("total", result.Summary.Total),
		zap.Int("failed", result.Summary.Fail+result.Summary.Error))

	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// checkImpact compares the library with the snapshot from the previous run
// and stores the current one.
func (r *Runner) checkImpact(cache *caseCache, log *zap.Logger) *Impact {
	snapshot := r.Library.Snapshot()
	defer func() {
		if err := cache.SaveLibrary(snapshot); err != nil {
			log.Warn("library snapshot save failed", zap.Error(err))
		}
	}()

	prev, ok, err := cache.PreviousLibrary()
	if err != nil {
		log.Warn("library snapshot unreadable", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	delta := library.ComputeDelta(prev, snapshot)
	if delta.Empty() {
		return nil
	}
	impact, reports := libraryImpact(delta, cache.entries())
	for _, report := range reports {
		log.Debug("library impact", zap.String("report", formatImpactReport(report)))
	}
	return impact
}

func checkExt(check string) string {
	if check == CheckNetlist {
		return ".sp"
	}
	return ".json"
}

func (r *Runner) runCase(c Case, goldenDir, outputDir string, cfg *config.Config, libraryHash string, cache *caseCache) CaseResult {
	res := CaseResult{ID: c.ID, Generator: c.Generator}
	tolerance := cfg.Regression.Tolerance

	var checks []string
	golden := make(map[string]string)
	for _, check := range []string{CheckNetlist, CheckAbstract} {
		if c.Wants(check) {
			checks = append(checks, check)
			golden[check] = filepath.Join(goldenDir, c.ID+checkExt(check))
		}
	}

	fail := func(status Status, format string, args ...any) CaseResult {
		res.Status = status
		res.Message = fmt.Sprintf(format, args...)
		if cache != nil {
			if len(res.Cells) > 0 {
				cache.Put(c.ID, cacheEntry{Status: status, Cells: res.Cells})
			} else {
				cache.Forget(c.ID)
			}
		}
		return res
	}

	if cache != nil && !r.Update {
		if key, err := caseKey(c, libraryHash, tolerance, goldenHashes(golden)); err == nil {
			if entry, ok := cache.Get(c.ID, key); ok && entry.Status.OK() {
				res.Status = StatusCached
				res.Cells = entry.Cells
				return res
			}
		}
	}

	d, err := design.Build(r.Library, design.Names(cfg.Cells), c.Generator, c.Params)
	if err != nil {
		return fail(StatusError, "%v", err)
	}
	res.Cells = d.Cells()

	generated := make(map[string][]byte, len(checks))
	res.Artifacts = &Artifacts{}
	for _, check := range checks {
		var data []byte
		switch check {
		case CheckNetlist:
			data = []byte(Netlist(d))
		case CheckAbstract:
			data, err = design.MarshalAbstract(d)
			if err != nil {
				return fail(StatusError, "abstract: %v", err)
			}
		}
		generated[check] = data
		out := filepath.Join(outputDir, c.ID+checkExt(check))
		if err := library.WriteFileAtomic(out, data); err != nil {
			return fail(StatusError, "writing output: %v", err)
		}
		if check == CheckNetlist {
			res.Artifacts.Netlist = out
		} else {
			res.Artifacts.Abstract = out
		}
	}

	if r.Update {
		for _, check := range checks {
			if err := library.WriteFileAtomic(golden[check], generated[check]); err != nil {
				return fail(StatusError, "writing golden: %v", err)
			}
		}
		res.Status = StatusUpdated
		res.Message = "golden updated"
	} else {
		var missing, differs, diffs []string
		for _, check := range checks {
			want, err := os.ReadFile(golden[check])
			if os.IsNotExist(err) {
				missing = append(missing, golden[check])
				continue
			}
			if err != nil {
				return fail(StatusError, "reading golden: %v", err)
			}
			var diff string
			if check == CheckNetlist {
				diff, err = compareNetlist(string(want), string(generated[check]))
			} else {
				diff, err = compareAbstract(want, generated[check], tolerance)
			}
			if err != nil {
				return fail(StatusError, "%s comparison: %v", check, err)
			}
			if diff != "" {
				differs = append(differs, check)
				diffs = append(diffs, fmt.Sprintf("--- %s ---\n%s", check, diff))
			}
		}
		switch {
		case len(missing) > 0:
			return fail(StatusFail, "%v: %s", ErrGoldenMissing, strings.Join(missing, ", "))
		case len(diffs) > 0:
			res.Diff = strings.Join(diffs, "\n")
			return fail(StatusFail, "output differs from golden (%s)", strings.Join(differs, ", "))
		}
		res.Status = StatusPass
	}

	if cache != nil {
		// Keyed on the goldens as they are now, so an update run primes the cache.
		if key, err := caseKey(c, libraryHash, tolerance, goldenHashes(golden)); err == nil {
			cache.Put(c.ID, cacheEntry{Key: key, Status: StatusPass, Cells: res.Cells})
		}
	}
	return res
}

// Netlist is the netlist text the runner writes for a design.
func Netlist(d *design.Design) string {
	return design.Netlist(d)
}

// Failed returns the ids of cases that did not succeed, sorted.
func (r *RunResult) Failed() []string {
	var out []string
	for _, c := range r.Cases {
		if !c.Status.OK() {
			out = append(out, c.ID)
		}
	}
	sort.Strings(out)
	return out
}
