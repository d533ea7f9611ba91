package regression

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/robert-at-pretension-io/amc/internal/design"
	"github.com/robert-at-pretension-io/amc/internal/library"
)

const cacheIndexVersion = 1

type cacheEntry struct {
	Key    string   `json:"key"`
	Status Status   `json:"status"`
	Cells  []string `json:"cells"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// caseCache remembers the last successful key per case and the library
// snapshot of the previous run, one directory per technology.
type caseCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newCaseCache(dir string) *caseCache {
	return &caseCache{
		dir: dir,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *caseCache) indexPath() string {
	return filepath.Join(c.dir, "index.json")
}

func (c *caseCache) libraryPath() string {
	return filepath.Join(c.dir, "library.json")
}

func (c *caseCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("cache mkdir: %w", err)
	}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read cache index: %w", err)
	}
	var idx cacheIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse cache index: %w", err)
	}
	if idx.Version != cacheIndexVersion {
		// Reset on version mismatch
		c.index = cacheIndex{Version: cacheIndexVersion, Entries: make(map[string]cacheEntry)}
		return nil
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]cacheEntry)
	}
	c.index = idx
	return nil
}

func (c *caseCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return library.WriteJSONAtomic(c.indexPath(), c.index)
}

func (c *caseCache) Get(id, key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.index.Entries[id]
	if !ok || entry.Key != key {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *caseCache) Put(id string, entry cacheEntry) {
	c.mu.Lock()
	c.index.Entries[id] = entry
	c.mu.Unlock()
}

func (c *caseCache) Forget(id string) {
	c.mu.Lock()
	delete(c.index.Entries, id)
	c.mu.Unlock()
}

// entries returns a copy of the index for impact analysis.
func (c *caseCache) entries() map[string]cacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]cacheEntry, len(c.index.Entries))
	for k, v := range c.index.Entries {
		out[k] = v
	}
	return out
}

// PreviousLibrary returns the snapshot saved by the last run, if any.
func (c *caseCache) PreviousLibrary() ([]library.Cell, bool, error) {
	data, err := os.ReadFile(c.libraryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read library snapshot: %w", err)
	}
	var cells []library.Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, false, fmt.Errorf("parse library snapshot: %w", err)
	}
	return cells, true, nil
}

func (c *caseCache) SaveLibrary(cells []library.Cell) error {
	return library.WriteJSONAtomic(c.libraryPath(), cells)
}

// caseKey identifies everything a case result depends on.
func caseKey(c Case, libraryHash string, tolerance float64, goldenHashes map[string]string) (string, error) {
	// Description and tags do not change the output.
	data, err := json.Marshal(struct {
		ID        string            `json:"id"`
		Gen       string            `json:"generator"`
		Params    design.Params     `json:"params"`
		Checks    []string          `json:"checks"`
		Library   string            `json:"library"`
		Generator string            `json:"generator_version"`
		Tolerance float64           `json:"tolerance"`
		Golden    map[string]string `json:"golden"`
	}{c.ID, c.Generator, c.Params, c.Checks, libraryHash, design.Version, tolerance, goldenHashes})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// goldenHashes hashes whichever golden files exist.
func goldenHashes(paths map[string]string) map[string]string {
	out := make(map[string]string, len(paths))
	for check, p := range paths {
		if h, err := library.HashFile(p); err == nil {
			out[check] = h
		}
	}
	return out
}
