// Package server exposes the ingestion pipeline, catalog, and podcast
// feed over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/articast/internal/extract"
	"github.com/dgnsrekt/articast/internal/feed"
	"github.com/dgnsrekt/articast/internal/ingest"
	"github.com/dgnsrekt/articast/internal/store"
)

// Server wires the HTTP handlers to their backing components.
type Server struct {
	catalog  *store.Catalog
	blobs    *store.BlobStore
	pipeline *ingest.Pipeline
	feeds    *feedCache
	log      *log.Logger
}

// Options carries the server's collaborators. Logger is optional.
type Options struct {
	Catalog  *store.Catalog
	Blobs    *store.BlobStore
	Pipeline *ingest.Pipeline
	FeedMeta feed.Meta
	Logger   *log.Logger
}

// New creates a server and starts watching the blob directory so the
// feed cache drops as soon as audio is published or removed. The
// pipeline's ready notification is a second invalidation trigger; it
// fires after the catalog commit, which the blob event can precede.
func New(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		catalog:  opts.Catalog,
		blobs:    opts.Blobs,
		pipeline: opts.Pipeline,
		log:      logger,
	}
	fc, err := newFeedCache(opts.FeedMeta, opts.Catalog, opts.Blobs, logger)
	if err != nil {
		return nil, err
	}
	s.feeds = fc
	if opts.Pipeline != nil {
		opts.Pipeline.OnReady(func(string) { fc.invalidate() })
	}
	return s, nil
}

// Close releases the blob watcher.
func (s *Server) Close() error {
	return s.feeds.Close()
}

// Handler returns the server's routing table wrapped in logging and
// cache-control middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/articles", s.handleSubmit)
	mux.HandleFunc("GET /api/articles", s.handleList)
	mux.HandleFunc("GET /api/articles/{id}", s.handleStatus)
	mux.HandleFunc("POST /api/articles/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /api/articles/{id}/audio", s.handleAudio)
	mux.HandleFunc("GET /feed.xml", s.handleFeed)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s.logging(noStoreCaching(mux))
}

// submitRequest is the POST /api/articles body: either a url, or a
// title with pasted body text.
type submitRequest struct {
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

// articleView is the JSON shape of an article in API responses.
type articleView struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Byline       string     `json:"byline,omitempty"`
	SourceURL    string     `json:"source_url,omitempty"`
	Status       string     `json:"status"`
	FailureCause string     `json:"failure_cause,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Audio        *audioView `json:"audio,omitempty"`
}

type audioView struct {
	Bytes           int64   `json:"bytes"`
	DurationSeconds float64 `json:"duration_seconds"`
	Checksum        string  `json:"checksum"`
}

func viewOf(a store.Article) articleView {
	v := articleView{
		ID:           a.ID,
		Title:        a.Title,
		Byline:       a.Byline,
		SourceURL:    a.SourceURL,
		Status:       string(a.Status),
		FailureCause: string(a.FailureCause),
		CreatedAt:    a.CreatedAt,
	}
	if a.Audio != nil {
		v.Audio = &audioView{
			Bytes:           a.Audio.ByteLen,
			DurationSeconds: a.Audio.Duration.Seconds(),
			Checksum:        a.Audio.Checksum,
		}
	}
	return v
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if (req.URL == "") == (req.Body == "") {
		s.error(w, http.StatusBadRequest, "provide either url or body, not both")
		return
	}

	a, err := s.pipeline.Submit(extract.Source{URL: req.URL, Title: req.Title, Body: req.Body})
	if err != nil {
		s.log.Error("submit failed", "error", err)
		s.error(w, http.StatusInternalServerError, "could not queue article")
		return
	}
	s.json(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	articles, err := s.catalog.List()
	if err != nil {
		s.log.Error("listing articles failed", "error", err)
		s.error(w, http.StatusInternalServerError, "could not list articles")
		return
	}
	views := make([]articleView, 0, len(articles))
	for _, a := range articles {
		views = append(views, viewOf(a))
	}
	s.json(w, http.StatusOK, views)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Get(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.error(w, http.StatusNotFound, "unknown article")
		return
	}
	if err != nil {
		s.error(w, http.StatusInternalServerError, "could not load article")
		return
	}
	s.json(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	a, err := s.pipeline.Retry(r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.error(w, http.StatusNotFound, "unknown article")
		return
	case errors.Is(err, store.ErrBadTransition):
		s.error(w, http.StatusConflict, "only failed articles can be retried")
		return
	case err != nil:
		s.error(w, http.StatusInternalServerError, "could not retry article")
		return
	}
	s.json(w, http.StatusOK, viewOf(a))
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Get(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.error(w, http.StatusNotFound, "unknown article")
		return
	}
	if err != nil {
		s.error(w, http.StatusInternalServerError, "could not load article")
		return
	}

	switch a.Status {
	case store.StatusReady:
	case store.StatusFailed:
		s.error(w, http.StatusNotFound, "ingestion failed: "+string(a.FailureCause))
		return
	default:
		s.json(w, http.StatusAccepted, viewOf(a))
		return
	}

	path, err := s.blobs.Path(a.ID)
	if err != nil {
		s.log.Error("ready article has no blob", "id", a.ID, "error", err)
		s.error(w, http.StatusInternalServerError, "audio unavailable")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, path)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	rss, err := s.feeds.Current()
	if err != nil {
		s.log.Error("feed render failed", "error", err)
		s.error(w, http.StatusInternalServerError, "could not render feed")
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(rss)) //nolint:errcheck
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok")) //nolint:errcheck
}

func (s *Server) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("writing response failed", "error", err)
	}
}

func (s *Server) error(w http.ResponseWriter, status int, msg string) {
	s.json(w, status, map[string]string{"error": msg})
}

// statusRecorder captures the status code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// noStoreCaching keeps intermediaries and browsers from caching API and
// audio responses; offline caching is the client cache's job.
func noStoreCaching(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}
