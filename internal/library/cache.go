package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const cacheIndexVersion = 1

// readerVersion changes whenever ReadLEF or ReadYAML change their output.
const readerVersion = "lef-yaml-1"

type cacheEntry struct {
	ContentHash   string `json:"content_hash"`
	CellsPath     string `json:"cells_path"`
	ReaderVersion string `json:"reader_version"`
}

type cacheIndex struct {
	Version int                   `json:"version"`
	Entries map[string]cacheEntry `json:"entries"`
}

// cellCache keeps parsed cells per library file keyed by file content.
type cellCache struct {
	dir   string
	mu    sync.Mutex
	index cacheIndex
}

func newCellCache(dir string) *cellCache {
	return &cellCache{
		dir: dir,
		index: cacheIndex{
			Version: cacheIndexVersion,
			Entries: make(map[string]cacheEntry),
		},
	}
}

func (c *cellCache) indexPath() string {
	return filepath.Join(c.dir, "library", "index.json")
}

func (c *cellCache) cellsPathForFile(filePath string) string {
	h := sha256.Sum256([]byte(filePath))
	return filepath.Join(c.dir, "library", "cells", hex.EncodeToString(h[:])+".json")
}

func (c *cellCache) Load() error {
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

func (c *cellCache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteJSONAtomic(c.indexPath(), c.index)
}

func (c *cellCache) Get(filePath, contentHash string) ([]Cell, bool, error) {
	c.mu.Lock()
	entry, ok := c.index.Entries[filePath]
	c.mu.Unlock()
	if !ok || entry.ContentHash != contentHash || entry.ReaderVersion != readerVersion {
		return nil, false, nil
	}

	data, err := os.ReadFile(entry.CellsPath)
	if err != nil {
		return nil, false, fmt.Errorf("read cached cells: %w", err)
	}
	var cells []Cell
	if err := json.Unmarshal(data, &cells); err != nil {
		return nil, false, fmt.Errorf("parse cached cells: %w", err)
	}
	return cells, true, nil
}

func (c *cellCache) Put(filePath, contentHash string, cells []Cell) error {
	cellsPath := c.cellsPathForFile(filePath)
	if err := WriteJSONAtomic(cellsPath, cells); err != nil {
		return err
	}

	c.mu.Lock()
	c.index.Entries[filePath] = cacheEntry{
		ContentHash:   contentHash,
		CellsPath:     cellsPath,
		ReaderVersion: readerVersion,
	}
	c.mu.Unlock()
	return nil
}

// WriteJSONAtomic writes v as indented JSON through a temp file and rename.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data through a temp file in the target directory.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename file: %w", err)
	}
	return nil
}

// HashFile returns the hex sha256 of a file's content.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
