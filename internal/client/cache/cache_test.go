package cache

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestCache(t *testing.T, opts Options) *Cache {
	t.Helper()
	c, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})
	audio := []byte("mp3 frames go here")

	if c.Has("a1") {
		t.Error("Has before Put")
	}
	if err := c.Put("a1", audio); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !c.Has("a1") {
		t.Error("Has after Put is false")
	}

	got, ok := c.Get("a1")
	if !ok {
		t.Fatal("Get missed after Put")
	}
	if !bytes.Equal(got, audio) {
		t.Errorf("Get returned %q, want %q", got, audio)
	}
}

func TestGetMissIsNotAnError(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})
	if _, ok := c.Get("never-cached"); ok {
		t.Error("Get hit on an empty cache")
	}
}

func TestPutReplacesEntirely(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})

	if err := c.Put("a1", []byte("original audio")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPosition("a1", 12); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("a1", []byte("re-ingested")); err != nil {
		t.Fatal(err)
	}

	got, ok := c.Get("a1")
	if !ok || string(got) != "re-ingested" {
		t.Errorf("Get = %q, %v", got, ok)
	}
	// Position survives a re-cache.
	if p := c.GetPosition("a1"); p != 12 {
		t.Errorf("position after re-Put = %v, want 12", p)
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir(), CompressionLevel: 3})
	audio := []byte(strings.Repeat("highly compressible audio. ", 200))

	if err := c.Put("a1", audio); err != nil {
		t.Fatal(err)
	}
	if c.Size() >= int64(len(audio)) {
		t.Errorf("disk size %d not smaller than input %d", c.Size(), len(audio))
	}

	got, ok := c.Get("a1")
	if !ok || !bytes.Equal(got, audio) {
		t.Fatal("compressed round trip lost data")
	}
}

func TestPositionSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Put("x", []byte("cached audio")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPosition("x", 37.5); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openTestCache(t, Options{Dir: dir})
	if p := reopened.GetPosition("x"); p != 37.5 {
		t.Errorf("position after restart = %v, want 37.5", p)
	}
	if !reopened.Has("x") {
		t.Error("audio lost across restart")
	}
	got, ok := reopened.Get("x")
	if !ok || string(got) != "cached audio" {
		t.Errorf("Get after restart = %q, %v", got, ok)
	}
}

func TestPositionMonotonicGuard(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})
	if err := c.Add("a1"); err != nil {
		t.Fatal(err)
	}

	if err := c.SetPosition("a1", 50); err != nil {
		t.Fatal(err)
	}
	// A stale write from before the latest save must not regress it.
	if err := c.SetPosition("a1", 42); err != nil {
		t.Fatal(err)
	}
	if p := c.GetPosition("a1"); p != 50 {
		t.Errorf("position = %v, want 50 after stale write", p)
	}

	// An explicit seek back is an override.
	if err := c.Seek("a1", 42); err != nil {
		t.Fatal(err)
	}
	if p := c.GetPosition("a1"); p != 42 {
		t.Errorf("position after seek = %v, want 42", p)
	}
}

func TestCoalescedPositionsFlushOnClose(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{Dir: dir, FlushDelay: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add("a1"); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 20; i++ {
		if err := c.SetPosition("a1", float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	// The flush timer has not fired; Close must persist the latest
	// position anyway.
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openTestCache(t, Options{Dir: dir})
	if p := reopened.GetPosition("a1"); p != 20 {
		t.Errorf("position after close = %v, want 20", p)
	}
}

func TestPositionOnUnknownEntry(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})
	if err := c.SetPosition("ghost", 5); !errors.Is(err, ErrUnknownEntry) {
		t.Errorf("got %v, want ErrUnknownEntry", err)
	}
	if p := c.GetPosition("ghost"); p != 0 {
		t.Errorf("GetPosition for unknown = %v, want 0", p)
	}
}

func TestRatePersists(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Options{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add("a1"); err != nil {
		t.Fatal(err)
	}
	if r := c.GetRate("a1"); r != 1.0 {
		t.Errorf("default rate = %v, want 1.0", r)
	}
	if err := c.SetRate("a1", 1.5); err != nil {
		t.Fatal(err)
	}
	c.Close()

	reopened := openTestCache(t, Options{Dir: dir})
	if r := reopened.GetRate("a1"); r != 1.5 {
		t.Errorf("rate after restart = %v, want 1.5", r)
	}
}

func TestRemove(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})

	if err := c.Put("a1", []byte("bytes")); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove("a1"); err != nil {
		t.Fatal(err)
	}
	if c.Has("a1") {
		t.Error("Has after Remove")
	}
	if c.Size() != 0 {
		t.Errorf("size after Remove = %d", c.Size())
	}
	// Unknown removes are fine.
	if err := c.Remove("never-there"); err != nil {
		t.Errorf("Remove of unknown entry: %v", err)
	}
}

func TestOverflowReject(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir(), Capacity: 1000})

	if err := c.Put("a1", make([]byte, 600)); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("a2", make([]byte, 600)); !errors.Is(err, ErrCacheFull) {
		t.Fatalf("got %v, want ErrCacheFull", err)
	}

	// The rejected blob changed nothing.
	if !c.Has("a1") || c.Has("a2") {
		t.Error("reject mutated cache contents")
	}

	// Replacing the existing blob reclaims its space first.
	if err := c.Put("a1", make([]byte, 900)); err != nil {
		t.Errorf("replacing within cap failed: %v", err)
	}
}

func TestOverflowEvictOldest(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir(), Capacity: 1000, Policy: PolicyEvictOldest})

	if err := c.Put("old", make([]byte, 400)); err != nil {
		t.Fatal(err)
	}
	if err := c.Put("mid", make([]byte, 400)); err != nil {
		t.Fatal(err)
	}
	// Touch "old" so "mid" becomes the least recently accessed.
	if _, ok := c.Get("old"); !ok {
		t.Fatal("warm-up Get missed")
	}

	if err := c.Put("new", make([]byte, 400)); err != nil {
		t.Fatalf("evicting Put failed: %v", err)
	}

	if c.Has("mid") {
		t.Error("least recently accessed entry survived eviction")
	}
	if !c.Has("old") || !c.Has("new") {
		t.Error("wrong entries evicted")
	}

	// A blob that cannot fit even in an empty cache is still refused.
	if err := c.Put("huge", make([]byte, 2000)); !errors.Is(err, ErrCacheFull) {
		t.Errorf("got %v, want ErrCacheFull", err)
	}
}

func TestListInAddedOrder(t *testing.T) {
	c := openTestCache(t, Options{Dir: t.TempDir()})

	for _, id := range []string{"first", "second", "third"} {
		if err := c.Add(id); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	list := c.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d entries", len(list))
	}
	want := []string{"first", "second", "third"}
	for i, e := range list {
		if e.ID != want[i] {
			t.Errorf("list[%d] = %s, want %s", i, e.ID, want[i])
		}
		if e.HasAudio {
			t.Errorf("metadata-only entry %s claims audio", e.ID)
		}
	}
}

func TestLostBlobFileDegradesToMetadata(t *testing.T) {
	dir := t.TempDir()
	c := openTestCache(t, Options{Dir: dir})

	if err := c.Put("a1", []byte("bytes")); err != nil {
		t.Fatal(err)
	}
	if err := c.SetPosition("a1", 9); err != nil {
		t.Fatal(err)
	}

	// Simulate external blob loss.
	if err := os.Remove(filepath.Join(dir, blobName("a1"))); err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get("a1"); ok {
		t.Error("Get hit on a lost blob")
	}
	if c.Has("a1") {
		t.Error("Has still true after blob loss")
	}
	if p := c.GetPosition("a1"); p != 9 {
		t.Errorf("position lost with blob: %v", p)
	}
}
