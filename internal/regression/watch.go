package regression

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchExts are the files whose edits trigger a rerun.
var DefaultWatchExts = []string{".lef", ".yaml", ".yml", ".py", ".json"}

// Watcher reruns a callback when library, technology or suite files change.
// Rapid saves to the same file are collapsed into one call.
type Watcher struct {
	Dirs     []string
	Exts     []string
	Debounce time.Duration
	Logger   *zap.Logger

	// Ignore drops events for paths it returns true for.
	Ignore func(path string) bool

	// OnChange receives the settled paths, sorted.
	OnChange func(ctx context.Context, paths []string)

	mu       sync.Mutex
	pending  map[string]time.Time
	triggers int
}

func (w *Watcher) logger() *zap.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return zap.NewNop()
}

// Triggers returns how many times OnChange has run.
func (w *Watcher) Triggers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.triggers
}

// Run blocks until ctx is done or the underlying watcher fails to start.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	log := w.logger()
	seen := make(map[string]bool)
	for _, dir := range w.Dirs {
		abs, err := filepath.Abs(dir)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			log.Warn("watch: skipping directory", zap.String("dir", abs))
			continue
		}
		if err := fw.Add(abs); err != nil {
			return err
		}
		log.Debug("watch: watching directory", zap.String("dir", abs))
	}

	debounce := w.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w.mu.Lock()
	w.pending = make(map[string]time.Time)
	w.mu.Unlock()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))

		case <-ticker.C:
			w.flush(ctx, debounce)
		}
	}
}

func (w *Watcher) relevant(path string) bool {
	if w.Ignore != nil && w.Ignore(path) {
		return false
	}
	exts := w.Exts
	if len(exts) == 0 {
		exts = DefaultWatchExts
	}
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, ext := range exts {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	return false
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if !w.relevant(event.Name) {
		return
	}
	w.logger().Debug("watch event", zap.String("path", event.Name), zap.String("op", event.Op.String()))
	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush hands settled paths to OnChange.
func (w *Watcher) flush(ctx context.Context, debounce time.Duration) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.pending {
		if now.Sub(at) >= debounce {
			settled = append(settled, path)
			delete(w.pending, path)
		}
	}
	if len(settled) > 0 {
		w.triggers++
	}
	w.mu.Unlock()

	if len(settled) == 0 || w.OnChange == nil {
		return
	}
	sort.Strings(settled)
	w.OnChange(ctx, settled)
}
