package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/articast/internal/config"
	"github.com/dgnsrekt/articast/internal/extract"
	"github.com/dgnsrekt/articast/internal/ratelimit"
	"github.com/dgnsrekt/articast/internal/store"
	"github.com/dgnsrekt/articast/internal/tts"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// captureScheduler records deferred jobs instead of running them, so a
// test can advance the fake clock before firing.
type captureScheduler struct {
	mu  sync.Mutex
	fns []func()
	ch  chan time.Duration
}

func newCaptureScheduler() *captureScheduler {
	return &captureScheduler{ch: make(chan time.Duration, 16)}
}

func (s *captureScheduler) Schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
	s.ch <- d
}

func (s *captureScheduler) FireAll() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

type stubExtractor struct {
	doc extract.Document
	err error
}

func (s *stubExtractor) Extract(ctx context.Context, src extract.Source) (extract.Document, error) {
	if s.err != nil {
		return extract.Document{}, s.err
	}
	return s.doc, nil
}

type testPipeline struct {
	*Pipeline
	catalog *store.Catalog
	blobs   *store.BlobStore
	engine  *tts.MockEngine
	clock   *fakeClock
	sched   *captureScheduler
}

func newTestPipeline(t *testing.T, charsPerMin int, extractor extract.Extractor) *testPipeline {
	t.Helper()
	dir := t.TempDir()

	catalog, err := store.OpenCatalog(filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("OpenCatalog failed: %v", err)
	}
	t.Cleanup(func() { catalog.Close() })

	blobs, err := store.NewBlobStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewBlobStore failed: %v", err)
	}

	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	sched := newCaptureScheduler()
	engine := tts.NewMockEngine(config.MockConfig{})

	if extractor == nil {
		extractor = extract.NewReadabilityExtractor(config.ExtractConfig{Timeout: time.Second})
	}

	p := New(Options{
		Catalog:   catalog,
		Blobs:     blobs,
		Limiter:   ratelimit.New(charsPerMin, clock),
		Extractor: extractor,
		Engine:    engine,
		Scheduler: sched.Schedule,
		Logger:    log.New(os.Stderr),
	})
	p.Start(2)
	t.Cleanup(p.Close)

	return &testPipeline{Pipeline: p, catalog: catalog, blobs: blobs, engine: engine, clock: clock, sched: sched}
}

func waitStatus(t *testing.T, c *store.Catalog, id string, want store.Status) store.Article {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		a, err := c.Get(id)
		if err != nil {
			t.Fatalf("Get(%q) failed: %v", id, err)
		}
		if a.Status == want {
			return a
		}
		if a.Status == store.StatusFailed && want != store.StatusFailed {
			t.Fatalf("article %s failed (%s), want %s", id, a.FailureCause, want)
		}
		if time.Now().After(deadline) {
			t.Fatalf("article %s stuck at %s, want %s", id, a.Status, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPipeline_PastedTextBecomesReady(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, nil)

	a, err := tp.Submit(extract.Source{Title: "My Article", Body: "Some body text worth hearing."})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if a.Status != store.StatusPending {
		t.Errorf("submit returned status %s, want pending", a.Status)
	}

	got := waitStatus(t, tp.catalog, a.ID, store.StatusReady)
	if got.Audio == nil {
		t.Fatal("ready article has no blob metadata")
	}

	// The mock engine emits 4 bytes per character of spoken text, and
	// the title is spoken before the body.
	spoken := "My Article. Some body text worth hearing."
	if got.Audio.ByteLen != int64(len(spoken)*4) {
		t.Errorf("blob is %d bytes, want %d", got.Audio.ByteLen, len(spoken)*4)
	}

	data, err := tp.blobs.Read(a.ID)
	if err != nil {
		t.Fatalf("blob read failed: %v", err)
	}
	if int64(len(data)) != got.Audio.ByteLen {
		t.Errorf("blob on disk is %d bytes, metadata says %d", len(data), got.Audio.ByteLen)
	}
}

func TestPipeline_NotifiesOnReady(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, nil)

	ready := make(chan string, 1)
	tp.OnReady(func(id string) { ready <- id })

	a, err := tp.Submit(extract.Source{Title: "Notify", Body: "Short body."})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case id := <-ready:
		if id != a.ID {
			t.Errorf("notified for %q, want %q", id, a.ID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no ready notification")
	}

	// The notification follows the catalog commit.
	got, err := tp.catalog.Get(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusReady {
		t.Errorf("status at notification time = %s, want ready", got.Status)
	}
}

func TestPipeline_ExtractionFailure(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, &stubExtractor{err: errors.New("boom")})

	a, err := tp.Submit(extract.Source{URL: "https://example.com/gone"})
	if err != nil {
		t.Fatal(err)
	}

	got := waitStatus(t, tp.catalog, a.ID, store.StatusFailed)
	if got.FailureCause != store.CauseExtraction {
		t.Errorf("cause = %s, want %s", got.FailureCause, store.CauseExtraction)
	}
	if _, err := tp.blobs.Read(a.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failed article has a blob: %v", err)
	}
}

func TestPipeline_SynthesisFailureCleansUp(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, nil)
	tp.engine.FailNext(errors.New("provider quota"))

	a, err := tp.Submit(extract.Source{Title: "T", Body: "some text"})
	if err != nil {
		t.Fatal(err)
	}

	got := waitStatus(t, tp.catalog, a.ID, store.StatusFailed)
	if got.FailureCause != store.CauseSynthesis {
		t.Errorf("cause = %s, want %s", got.FailureCause, store.CauseSynthesis)
	}

	entries, err := os.ReadDir(tp.blobs.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("blob directory has %d entries after failure, want 0", len(entries))
	}
}

func TestPipeline_OversizeTextRejected(t *testing.T) {
	tp := newTestPipeline(t, 100, nil)

	a, err := tp.Submit(extract.Source{Title: "Big", Body: strings.Repeat("w", 500)})
	if err != nil {
		t.Fatal(err)
	}

	got := waitStatus(t, tp.catalog, a.ID, store.StatusFailed)
	if got.FailureCause != store.CauseRateLimit {
		t.Errorf("cause = %s, want %s", got.FailureCause, store.CauseRateLimit)
	}
}

func TestPipeline_WaitReschedulesWithoutBlocking(t *testing.T) {
	// Cap of 1000 chars/min. The first article drains most of the
	// budget; the second must wait for the window to refill.
	tp := newTestPipeline(t, 1000, nil)

	first, err := tp.Submit(extract.Source{Title: "A", Body: strings.Repeat("x", 900)})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tp.catalog, first.ID, store.StatusReady)

	second, err := tp.Submit(extract.Source{Title: "B", Body: strings.Repeat("y", 500)})
	if err != nil {
		t.Fatal(err)
	}

	var delay time.Duration
	select {
	case delay = <-tp.sched.ch:
	case <-time.After(3 * time.Second):
		t.Fatal("pipeline never rescheduled the rate-limited article")
	}
	if delay <= 0 || delay > time.Minute {
		t.Fatalf("reschedule delay = %v, want within one window", delay)
	}

	// Parked articles report synthesizing, not failed.
	a, err := tp.catalog.Get(second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != store.StatusSynthesizing {
		t.Errorf("parked article status = %s, want synthesizing", a.Status)
	}

	tp.clock.Advance(delay)
	tp.sched.FireAll()
	waitStatus(t, tp.catalog, second.ID, store.StatusReady)
}

func TestPipeline_RetryAfterFailureLeavesOneBlob(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, nil)
	tp.engine.FailNext(errors.New("transient"))

	a, err := tp.Submit(extract.Source{Title: "Flaky", Body: "text that fails once"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tp.catalog, a.ID, store.StatusFailed)

	if _, err := tp.Retry(a.ID); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	got := waitStatus(t, tp.catalog, a.ID, store.StatusReady)
	if got.FailureCause != "" {
		t.Errorf("ready article still carries cause %q", got.FailureCause)
	}

	entries, err := os.ReadDir(tp.blobs.Dir())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("blob directory has %d entries, want exactly 1", len(entries))
	}
}

func TestPipeline_RetryOfReadyRejected(t *testing.T) {
	tp := newTestPipeline(t, 1_000_000, nil)

	a, err := tp.Submit(extract.Source{Title: "Done", Body: "already converted"})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, tp.catalog, a.ID, store.StatusReady)

	if _, err := tp.Retry(a.ID); !errors.Is(err, store.ErrBadTransition) {
		t.Fatalf("Retry of ready article: got %v, want ErrBadTransition", err)
	}
}

func TestSpokenText(t *testing.T) {
	doc := extract.Document{Title: "Title", Text: "body"}
	if got := spokenText(doc); got != "Title. body" {
		t.Errorf("spokenText = %q", got)
	}
	doc.Title = ""
	if got := spokenText(doc); got != "body" {
		t.Errorf("spokenText without title = %q", got)
	}
}
