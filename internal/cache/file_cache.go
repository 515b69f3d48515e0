package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// FileCache 将缓存保存为单个 JSON 文件。
// 写入先进入内存, 调用 Flush 时才落盘。
type FileCache struct {
	filePath string
	entries  map[string]Entry
	dirty    bool
	mu       sync.RWMutex
	log      zerolog.Logger
}

// OpenFileCache loads filePath if it exists; a missing file starts an empty cache.
func OpenFileCache(filePath string, log zerolog.Logger) (*FileCache, error) {
	fc := &FileCache{
		filePath: filePath,
		entries:  make(map[string]Entry),
		log:      log,
	}
	if err := fc.load(); err != nil {
		return nil, err
	}
	return fc, nil
}

func (fc *FileCache) load() error {
	data, err := os.ReadFile(fc.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			fc.log.Info().Str("path", fc.filePath).Msg("Cache file not found, starting with an empty cache.")
			return nil
		}
		return fmt.Errorf("failed to read cache file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &fc.entries); err != nil {
		return fmt.Errorf("failed to parse cache file %s: %w", fc.filePath, err)
	}
	if fc.entries == nil {
		fc.entries = make(map[string]Entry)
	}
	fc.log.Info().Int("count", len(fc.entries)).Str("path", fc.filePath).Msg("Loaded cache entries from file.")
	return nil
}

func (fc *FileCache) Get(key string) (Entry, bool, error) {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	e, ok := fc.entries[key]
	return e, ok, nil
}

func (fc *FileCache) Set(key string, entry Entry) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries[key] = entry
	fc.dirty = true
	return nil
}

// Flush 将内存中的条目写入文件, 没有变化时不写。
func (fc *FileCache) Flush() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if !fc.dirty {
		return nil
	}

	data, err := json.MarshalIndent(fc.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if dir := filepath.Dir(fc.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	// 先写临时文件再改名, 避免中途退出留下半个文件
	tmp := fc.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, fc.filePath); err != nil {
		return err
	}
	fc.dirty = false
	fc.log.Debug().Int("count", len(fc.entries)).Str("path", fc.filePath).Msg("Cache flushed to file.")
	return nil
}
