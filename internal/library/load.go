package library

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/robert-at-pretension-io/amc/internal/config"
)

// LoadOptions tunes Load.
type LoadOptions struct {
	// CacheDir enables the parsed-cell cache when non-empty.
	CacheDir string

	// MaxParallel bounds concurrent file reads (0 = GOMAXPROCS).
	MaxParallel int

	Logger *zap.Logger
}

// FileStat records how one library file was loaded.
type FileStat struct {
	Path   string `json:"path"`
	Cells  int    `json:"cells"`
	Status string `json:"status"` // "parsed" or "cache_hit"
}

// LoadStats summarizes a Load.
type LoadStats struct {
	Files     []FileStat `json:"files"`
	CacheHits int        `json:"cache_hits"`
	Warnings  []string   `json:"warnings,omitempty"`
}

// ReadFile dispatches on the file extension.
func ReadFile(path string) ([]Cell, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".lef"):
		return ReadLEF(path)
	case strings.HasSuffix(lower, ".cells.yaml"), strings.HasSuffix(lower, ".cells.yml"):
		return ReadYAML(path)
	default:
		return nil, fmt.Errorf("%s: unsupported cell library file", path)
	}
}

// Load resolves the configured library files under root (or the technology
// directory when root is empty) and reads them into one Library.
func Load(ctx context.Context, cfg *config.Config, root string, opts LoadOptions) (*Library, LoadStats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var stats LoadStats

	files, err := cfg.GetAllFiles(root)
	if err != nil {
		return nil, stats, fmt.Errorf("resolve libraries: %w", err)
	}
	if len(files) == 0 {
		return nil, stats, fmt.Errorf("no cell library files found (root %q)", root)
	}

	var cache *cellCache
	if opts.CacheDir != "" {
		cache = newCellCache(opts.CacheDir)
		if err := cache.Load(); err != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("cache disabled: %v", err))
			cache = nil
		}
	}

	limit := opts.MaxParallel
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([][]Cell, len(files))
	fileStats := make([]FileStat, len(files))
	var warnMu sync.Mutex
	warn := func(msg string) {
		warnMu.Lock()
		stats.Warnings = append(stats.Warnings, msg)
		warnMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var contentHash string
			if cache != nil {
				h, err := HashFile(file)
				if err != nil {
					return fmt.Errorf("%s: %w", file, err)
				}
				contentHash = h
				cells, ok, err := cache.Get(file, contentHash)
				if err != nil {
					warn(fmt.Sprintf("cache read failed for %s: %v", file, err))
				} else if ok {
					results[i] = cells
					fileStats[i] = FileStat{Path: file, Cells: len(cells), Status: "cache_hit"}
					return nil
				}
			}

			cells, err := ReadFile(file)
			if err != nil {
				return err
			}
			if cache != nil {
				if err := cache.Put(file, contentHash, cells); err != nil {
					warn(fmt.Sprintf("cache write failed for %s: %v", file, err))
				}
			}
			results[i] = cells
			fileStats[i] = FileStat{Path: file, Cells: len(cells), Status: "parsed"}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stats, err
	}

	if cache != nil {
		if err := cache.Save(); err != nil {
			stats.Warnings = append(stats.Warnings, fmt.Sprintf("cache save failed: %v", err))
		}
	}

	// Files are registered in sorted order so duplicate errors are stable.
	lib := New()
	var errs []error
	for i, cells := range results {
		for _, c := range cells {
			if err := lib.Add(c); err != nil {
				errs = append(errs, err)
			}
		}
		if fileStats[i].Status == "cache_hit" {
			stats.CacheHits++
		}
		logger.Debug("library file loaded",
			zap.String("file", filepath.Base(fileStats[i].Path)),
			zap.Int("cells", fileStats[i].Cells),
			zap.String("status", fileStats[i].Status))
	}
	stats.Files = fileStats
	if len(errs) > 0 {
		return nil, stats, errors.Join(errs...)
	}

	logger.Info("cell library loaded",
		zap.Int("files", len(files)),
		zap.Int("cells", lib.Len()),
		zap.Int("cache_hits", stats.CacheHits))
	return lib, stats, nil
}
