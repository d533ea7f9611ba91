package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/robert-at-pretension-io/amc/internal/config"
	"github.com/robert-at-pretension-io/amc/internal/history"
	"github.com/robert-at-pretension-io/amc/internal/regression"
)

var (
	regressUpdate    bool
	regressRun       []string
	regressFailFast  bool
	regressNoCache   bool
	regressJSON      bool
	regressTiming    bool
	regressWatch     bool
	regressDiffs     bool
	regressNoHistory bool
)

var regressCmd = &cobra.Command{
	Use:   "regress <suite.yaml>",
	Short: "Run a regression suite against golden references",
	Long: `Builds every case of the suite with the active technology and compares
the netlist and layout abstract with <goldenDir>/<tech>/<id>.{sp,json}.

  amc regress suites/basic.yaml
  amc regress suites/basic.yaml --run 'pre*' --update
  AMC_TIMING=1 amc regress suites/basic.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if regressWatch && regressUpdate {
			return fmt.Errorf("--watch and --update cannot be combined")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		suite, err := regression.LoadSuite(args[0])
		if err != nil {
			return err
		}
		if suite, err = suite.Filter(regressRun); err != nil {
			return err
		}

		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		ok, err := runSuite(ctx, out, cfg, suite)
		if err != nil {
			return err
		}
		if !regressWatch {
			if !ok {
				return errReported
			}
			return nil
		}
		return watchSuite(ctx, out, cfg, suite)
	},
}

// runSuite loads the library, runs the suite and reports it. It returns
// whether every case succeeded.
func runSuite(ctx context.Context, out io.Writer, cfg *config.Config, suite *regression.Suite) (bool, error) {
	lib, err := loadLibrary(ctx, cfg)
	if err != nil {
		return false, err
	}
	runner := &regression.Runner{
		Config:   cfg,
		Library:  lib,
		Tech:     cfg.Tech,
		Logger:   log(),
		Root:     rootDir,
		Update:   regressUpdate,
		FailFast: regressFailFast,
		NoCache:  regressNoCache,
		Timing:   regressTiming,
	}
	result, err := runner.Run(ctx, suite)
	if err != nil {
		return false, err
	}

	if !regressNoHistory {
		recordHistory(ctx, cfg, result)
	}
	if regressJSON {
		if err := regression.WriteJSON(out, result); err != nil {
			return false, err
		}
	} else {
		regression.WriteText(out, result, regressDiffs || verbose)
	}
	return result.OK(), nil
}

func recordHistory(ctx context.Context, cfg *config.Config, result *regression.RunResult) {
	store, err := history.Open(historyPath(cfg))
	if err != nil {
		log().Warn("history unavailable", zap.Error(err))
		return
	}
	defer store.Close()
	if err := store.Record(ctx, result); err != nil {
		log().Warn("history record failed", zap.Error(err))
	}
}

func historyPath(cfg *config.Config) string {
	return filepath.Join(cacheDir(cfg), "history.db")
}

// watchSuite reruns the suite whenever a library file, the technology files
// or the suite itself change, until interrupted.
func watchSuite(ctx context.Context, out io.Writer, cfg *config.Config, suite *regression.Suite) error {
	files, err := cfg.GetAllFiles(libRoot)
	if err != nil {
		return err
	}
	dirs := map[string]bool{filepath.Dir(suite.Path): true}
	for _, f := range files {
		dirs[filepath.Dir(f)] = true
	}
	if techDir := cfg.TechDir(); techDir != "" {
		dirs[filepath.Join(techDir, "tech")] = true
	}
	var list []string
	for d := range dirs {
		list = append(list, d)
	}

	ignored := []string{
		absPath(filepath.Join(rootDir, cfg.Regression.OutputDir)),
		absPath(filepath.Join(rootDir, cfg.Regression.GoldenDir)),
		absPath(cacheDir(cfg)),
	}
	w := &regression.Watcher{
		Dirs:   list,
		Logger: log(),
		Ignore: func(path string) bool {
			p := absPath(path)
			for _, dir := range ignored {
				if strings.HasPrefix(p, dir+string(os.PathSeparator)) {
					return true
				}
			}
			return false
		},
		OnChange: func(ctx context.Context, paths []string) {
			fmt.Fprintf(out, "\nchanged: %s\n", strings.Join(paths, ", "))
			current := suite
			if reloaded, err := regression.LoadSuite(suite.Path); err != nil {
				log().Warn("suite reload failed, keeping previous", zap.Error(err))
			} else if filtered, err := reloaded.Filter(regressRun); err == nil {
				current = filtered
			}
			if _, err := runSuite(ctx, out, cfg, current); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		},
	}
	fmt.Fprintf(out, "\nwatching %d directories (Ctrl-C to stop)\n", len(list))
	return w.Run(ctx)
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [case]",
	Short: "Show recorded regression runs, or one case across runs",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := history.Open(historyPath(cfg))
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		if len(args) == 1 {
			records, err := store.CaseHistory(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				return fmt.Errorf("no history for case %q", args[0])
			}
			fmt.Fprintln(tw, "STARTED\tTECH\tSTATUS\tDURATION\tMESSAGE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", r.Started.Local().Format("2006-01-02 15:04:05"), r.Tech, r.Status, r.DurationMS, r.Message)
			}
			return tw.Flush()
		}

		runs, err := store.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "STARTED\tTECH\tSUITE\tTOTAL\tOK\tFAIL\tERROR\tLIBRARY\tRUN")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
				r.Started.Local().Format("2006-01-02 15:04:05"), r.Tech, r.Suite,
				r.Total, r.Passed, r.Failed, r.Errors, shortHash(r.LibraryHash), r.RunID)
		}
		return tw.Flush()
	},
}

func init() {
	f := regressCmd.Flags()
	f.BoolVarP(&regressUpdate, "update", "u", false, "write goldens from the generated output")
	f.StringSliceVar(&regressRun, "run", nil, "only run cases whose id matches one of these globs")
	f.BoolVar(&regressFailFast, "fail-fast", false, "skip remaining cases after the first failure")
	f.BoolVar(&regressNoCache, "no-cache", false, "rebuild every case")
	f.BoolVar(&regressJSON, "json", false, "print the run result as JSON")
	f.BoolVar(&regressTiming, "timing", false, "write timing.jsonl next to the outputs")
	f.BoolVarP(&regressWatch, "watch", "w", false, "rerun when library, tech or suite files change")
	f.BoolVarP(&regressDiffs, "diff", "d", false, "show golden diffs of failed cases")
	f.BoolVar(&regressNoHistory, "no-history", false, "do not record the run in the history database")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show (0 = all)")
}
