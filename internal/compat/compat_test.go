package compat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func writeContent(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		ManifestFile:              "id: crypt\nversion: 1.0.0\n",
		"content/world.yaml":      "rooms: []\n",
		"content/characters.yaml": "npcs: []\n",
		"content/items.yaml":      "items:\n  - id: lantern\n",
	}
	for rel, body := range files {
		p := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func mustHash(t *testing.T, dir string) string {
	t.Helper()
	h, err := GenerateContentHash(dir, ContentFiles())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func TestGenerateContentHash_Deterministic(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeContent(t, a)
	writeContent(t, b)
	if mustHash(t, a) != mustHash(t, b) {
		t.Fatalf("identical content produced different hashes")
	}

	before := mustHash(t, a)
	p := filepath.Join(a, "content", "world.yaml")
	if err := os.WriteFile(p, []byte("rooms: [ ]\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if mustHash(t, a) == before {
		t.Fatalf("one changed byte did not change the hash")
	}
}

func TestGenerateContentHash_MissingFileMarker(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir)
	full := mustHash(t, dir)
	if err := os.Remove(filepath.Join(dir, "content", "characters.yaml")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	partial := mustHash(t, dir)
	if partial == full {
		t.Fatalf("missing file not reflected in hash")
	}
	if partial != mustHash(t, dir) {
		t.Fatalf("hash with a missing file is not deterministic")
	}
}

func TestCheckCompatibility_ItemsEditAndRevert(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir)
	meta := &SaveMetadata{ContentHash: mustHash(t, dir), GameID: "crypt"}

	if got := CheckCompatibility(mustHash(t, dir), meta); !got.Compatible || got.Reason != ReasonContentMatch {
		t.Fatalf("fresh save: %+v", got)
	}

	items := filepath.Join(dir, "content", "items.yaml")
	orig, _ := os.ReadFile(items)
	if err := os.WriteFile(items, append(orig, []byte("  - id: sword\n")...), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := CheckCompatibility(mustHash(t, dir), meta); got.Compatible || got.Reason != ReasonContentChanged {
		t.Fatalf("after edit: %+v", got)
	}

	if err := os.WriteFile(items, orig, 0o644); err != nil {
		t.Fatalf("revert: %v", err)
	}
	if got := CheckCompatibility(mustHash(t, dir), meta); !got.Compatible || got.Reason != ReasonContentMatch {
		t.Fatalf("after revert: %+v", got)
	}
}

func TestCheckCompatibility_NoMetadata(t *testing.T) {
	for _, m := range []*SaveMetadata{nil, {}} {
		got := CheckCompatibility("abc", m)
		if got.Compatible || got.Reason != ReasonNoSaveMetadata {
			t.Fatalf("meta=%+v: %+v", m, got)
		}
	}
}

func TestCachingHasher_RecomputesOnlyOnChange(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir)
	c := NewCachingHasher(dir, nil, nil)

	h1, err := c.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for i := 0; i < 5; i++ {
		if h, _ := c.Hash(); h != h1 {
			t.Fatalf("cached hash changed")
		}
	}
	if c.Computations() != 1 {
		t.Fatalf("computations=%d want 1", c.Computations())
	}

	items := filepath.Join(dir, "content", "items.yaml")
	if err := os.WriteFile(items, []byte("items: []\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	future := time.Now().Add(time.Hour)
	_ = os.Chtimes(items, future, future)
	h2, _ := c.Hash()
	if h2 == h1 || c.Computations() != 2 {
		t.Fatalf("edit not detected: h2=%s computations=%d", h2, c.Computations())
	}

	if err := os.Remove(items); err != nil {
		t.Fatalf("remove: %v", err)
	}
	h3, _ := c.Hash()
	if h3 == h2 || c.Computations() != 3 {
		t.Fatalf("file count change not detected")
	}
	if h3 != mustHash(t, dir) {
		t.Fatalf("cached hash diverged from direct hash")
	}
}

func TestCachingHasher_WatchInvalidates(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	writeContent(t, dir)
	c := NewCachingHasher(dir, nil, nil)
	if _, err := c.Hash(); err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := c.Watch(context.Background()); err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer c.Stop()

	c.Invalidate()
	if _, err := c.Hash(); err != nil {
		t.Fatalf("hash: %v", err)
	}
	if c.Computations() != 2 {
		t.Fatalf("invalidate did not force recompute: %d", c.Computations())
	}
	c.Stop()
}
