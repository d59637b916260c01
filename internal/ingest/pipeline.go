// Package ingest orchestrates the article ingestion pipeline:
// extraction, rate-limited speech synthesis, and atomic publication of
// the finished audio blob.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/dgnsrekt/articast/internal/extract"
	"github.com/dgnsrekt/articast/internal/ratelimit"
	"github.com/dgnsrekt/articast/internal/store"
	"github.com/dgnsrekt/articast/internal/tts"
)

// ErrClosed is returned when submitting to a pipeline that has shut
// down.
var ErrClosed = errors.New("ingest: pipeline closed")

// Scheduler defers fn by d. The default uses time.AfterFunc; tests
// substitute an immediate or manual scheduler.
type Scheduler func(d time.Duration, fn func())

// job is one in-flight ingestion attempt. After a limiter Wait the job
// carries its extracted document and reserved flag back into the
// queue, so re-admission skips extraction and never charges the
// character budget twice.
type job struct {
	id       string
	src      extract.Source
	doc      *extract.Document
	reserved bool
}

// Pipeline runs article ingestion on a pool of workers. Per-article
// state lives in the catalog and in job values; the rate limiter is
// the only shared synchronization point between in-flight articles.
type Pipeline struct {
	catalog   *store.Catalog
	blobs     *store.BlobStore
	limiter   *ratelimit.Limiter
	extractor extract.Extractor
	engine    tts.Engine
	schedule  Scheduler
	log       *log.Logger

	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	readyMu sync.Mutex
	onReady func(id string)
}

// Options carries the pipeline's collaborators. Scheduler and Logger
// are optional.
type Options struct {
	Catalog   *store.Catalog
	Blobs     *store.BlobStore
	Limiter   *ratelimit.Limiter
	Extractor extract.Extractor
	Engine    tts.Engine
	Scheduler Scheduler
	Logger    *log.Logger
}

// New creates a pipeline. Call Start to launch workers.
func New(opts Options) *Pipeline {
	schedule := opts.Scheduler
	if schedule == nil {
		schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		catalog:   opts.Catalog,
		blobs:     opts.Blobs,
		limiter:   opts.Limiter,
		extractor: opts.Extractor,
		engine:    opts.Engine,
		schedule:  schedule,
		log:       logger,
		jobs:      make(chan job, 128),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker pool and sweeps temp files left by a
// previous crashed run.
func (p *Pipeline) Start(workers int) {
	if n, err := p.blobs.SweepTemp(); err != nil {
		p.log.Warn("temp sweep failed", "error", err)
	} else if n > 0 {
		p.log.Info("removed orphaned temp files", "count", n)
	}

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	p.log.Debug("pipeline started", "workers", workers, "engine", p.engine.Name())
}

// Close stops the workers. In-flight articles finish their current
// stage; queued and rescheduled jobs are dropped.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// OnReady registers fn to run after an article is marked ready in the
// catalog. At most one callback is held; a later call replaces it.
func (p *Pipeline) OnReady(fn func(id string)) {
	p.readyMu.Lock()
	p.onReady = fn
	p.readyMu.Unlock()
}

func (p *Pipeline) notifyReady(id string) {
	p.readyMu.Lock()
	fn := p.onReady
	p.readyMu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Submit creates a pending article for the given source and queues it
// for ingestion. It returns the created article immediately; ingestion
// proceeds asynchronously.
func (p *Pipeline) Submit(src extract.Source) (store.Article, error) {
	a := store.Article{
		ID:        uuid.NewString(),
		Title:     extract.TruncateTitle(src.Title),
		SourceURL: src.URL,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := p.catalog.Create(a); err != nil {
		return store.Article{}, err
	}
	if err := p.enqueue(job{id: a.ID, src: src}); err != nil {
		return store.Article{}, err
	}
	p.log.Info("article submitted", "id", a.ID, "url", src.URL)
	return a, nil
}

// Retry resubmits a failed article. URL articles are re-extracted from
// their source; pasted articles reuse the stored text. Synthesis
// restarts from scratch with a fresh temp file.
func (p *Pipeline) Retry(id string) (store.Article, error) {
	a, err := p.catalog.Get(id)
	if err != nil {
		return store.Article{}, err
	}
	if err := p.catalog.Retry(id); err != nil {
		return store.Article{}, err
	}

	src := extract.Source{URL: a.SourceURL}
	if a.SourceURL == "" {
		src = extract.Source{Title: a.Title, Body: a.Text}
	}
	if err := p.enqueue(job{id: id, src: src}); err != nil {
		return store.Article{}, err
	}

	p.log.Info("article retry", "id", id)
	a.Status = store.StatusPending
	a.FailureCause = ""
	return a, nil
}

func (p *Pipeline) enqueue(j job) error {
	select {
	case p.jobs <- j:
		return nil
	case <-p.ctx.Done():
		return ErrClosed
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.jobs:
			p.run(j)
		case <-p.ctx.Done():
			return
		}
	}
}

// run advances one job as far as it can. A limiter Wait reschedules the
// job and returns, releasing the worker slot for the full delay.
func (p *Pipeline) run(j job) {
	if j.doc == nil {
		doc, ok := p.extract(j)
		if !ok {
			return
		}
		j.doc = &doc
		if err := p.catalog.SetStatus(j.id, store.StatusSynthesizing); err != nil {
			p.log.Error("status update failed", "id", j.id, "error", err)
			return
		}
	}

	if !j.reserved {
		switch d := p.limiter.Reserve(len(spokenText(*j.doc))); d.Status {
		case ratelimit.Rejected:
			p.fail(j.id, store.CauseRateLimit, fmt.Errorf("text of %d chars exceeds the per-minute cap", len(spokenText(*j.doc))))
			return
		case ratelimit.Wait:
			j.reserved = true
			p.log.Info("rate limited, rescheduling", "id", j.id, "delay", d.Delay)
			p.schedule(d.Delay, func() {
				if err := p.enqueue(j); err != nil {
					p.log.Warn("dropping rescheduled article", "id", j.id)
				}
			})
			return
		}
	}

	p.synthesize(j)
}

func (p *Pipeline) extract(j job) (extract.Document, bool) {
	if err := p.catalog.SetStatus(j.id, store.StatusExtracting); err != nil {
		p.log.Error("status update failed", "id", j.id, "error", err)
		return extract.Document{}, false
	}

	doc, err := p.extractor.Extract(p.ctx, j.src)
	if err != nil {
		p.fail(j.id, store.CauseExtraction, err)
		return extract.Document{}, false
	}

	if err := p.catalog.UpdateText(j.id, doc.Title, doc.Byline, doc.SourceURL, doc.Text); err != nil {
		p.log.Error("recording extracted text failed", "id", j.id, "error", err)
		return extract.Document{}, false
	}
	return doc, true
}

func (p *Pipeline) synthesize(j job) {
	tb, err := p.blobs.NewTemp(j.id)
	if err != nil {
		p.fail(j.id, store.CauseStorage, err)
		return
	}

	if err := tts.Speak(p.ctx, p.engine, spokenText(*j.doc), tb); err != nil {
		tb.Abort()
		cause := store.CauseSynthesis
		var we *tts.WriteError
		if errors.As(err, &we) {
			cause = store.CauseStorage
		}
		p.fail(j.id, cause, err)
		return
	}

	info, err := tb.Commit()
	if err != nil {
		p.fail(j.id, store.CauseStorage, err)
		return
	}
	if err := p.catalog.MarkReady(j.id, info); err != nil {
		p.log.Error("marking ready failed", "id", j.id, "error", err)
		return
	}
	p.log.Info("article ready", "id", j.id, "bytes", info.ByteLen, "duration", info.Duration)
	p.notifyReady(j.id)
}

func (p *Pipeline) fail(id string, cause store.FailureCause, err error) {
	p.log.Warn("ingestion failed", "id", id, "cause", cause, "error", err)
	if err := p.catalog.MarkFailed(id, cause); err != nil {
		p.log.Error("recording failure failed", "id", id, "error", err)
	}
}

// spokenText is what the engine actually reads aloud: the title spoken
// first, then the body.
func spokenText(doc extract.Document) string {
	if doc.Title == "" {
		return doc.Text
	}
	return doc.Title + ". " + doc.Text
}
