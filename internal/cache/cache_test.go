package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestEntry_FailureSentinelSerializesAsEmptyObject(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Failure())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("Expected failure sentinel to be {}, got %s", data)
	}
	if Failure().Succeeded() {
		t.Errorf("failure sentinel must not report success")
	}
}

func TestMemoryCache_MissVersusFailure(t *testing.T) {
	t.Parallel()

	c := NewMemoryCache()
	if _, ok, _ := c.Get("k"); ok {
		t.Fatalf("Expected miss on empty cache")
	}
	_ = c.Set("k", Failure())
	e, ok, err := c.Get("k")
	if err != nil || !ok {
		t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
	}
	if e.Succeeded() {
		t.Errorf("Expected failure entry")
	}
}

func TestFileCache_FlushAndReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	fc, err := OpenFileCache(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenFileCache() returned an error: %v", err)
	}

	score := 87
	_ = fc.Set("ok", Entry{API: map[string]any{"country": "日本"}, Risk: &score})
	_ = fc.Set("bad", Failure())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("Expected no file before Flush, stat err=%v", err)
	}
	if err := fc.Flush(); err != nil {
		t.Fatalf("Flush() returned an error: %v", err)
	}

	reloaded, err := OpenFileCache(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen returned an error: %v", err)
	}
	ok, found, _ := reloaded.Get("ok")
	if !found || !ok.Succeeded() || ok.API["country"] != "日本" || ok.Risk == nil || *ok.Risk != 87 {
		t.Errorf("unexpected success entry after reload: %+v", ok)
	}
	bad, found, _ := reloaded.Get("bad")
	if !found || bad.Succeeded() {
		t.Errorf("Expected failure sentinel after reload, got found=%v entry=%+v", found, bad)
	}
}

func TestOpenFileCache_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileCache(path, zerolog.Nop()); err == nil {
		t.Errorf("Expected error for corrupt cache file")
	}
}
