package server

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/articast/internal/feed"
	"github.com/dgnsrekt/articast/internal/store"
)

// feedCache memoizes the rendered RSS document. The cached copy is
// dropped when the blob directory changes and re-rendered only when the
// set of ready articles actually differs, so podcast clients polling
// the feed never trigger repeated rendering.
type feedCache struct {
	meta    feed.Meta
	catalog *store.Catalog
	watcher *store.Watcher
	log     *log.Logger

	mu          sync.Mutex
	rss         string
	fingerprint string
	valid       bool
}

func newFeedCache(meta feed.Meta, catalog *store.Catalog, blobs *store.BlobStore, logger *log.Logger) (*feedCache, error) {
	fc := &feedCache{meta: meta, catalog: catalog, log: logger}
	w, err := store.WatchBlobs(blobs, fc.invalidate)
	if err != nil {
		return nil, err
	}
	fc.watcher = w
	return fc, nil
}

func (fc *feedCache) Close() error {
	return fc.watcher.Close()
}

func (fc *feedCache) invalidate() {
	fc.mu.Lock()
	fc.valid = false
	fc.mu.Unlock()
	fc.log.Debug("feed cache invalidated")
}

// Current returns the feed document, re-rendering if the cache was
// invalidated and the ready set changed since the last render.
func (fc *feedCache) Current() (string, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.valid {
		return fc.rss, nil
	}

	articles, err := fc.catalog.ListReady()
	if err != nil {
		return "", err
	}

	fp := fingerprint(articles)
	if fp == fc.fingerprint && fc.rss != "" {
		fc.valid = true
		return fc.rss, nil
	}

	rss, err := feed.Render(fc.meta, articles)
	if err != nil {
		return "", err
	}
	fc.rss = rss
	fc.fingerprint = fp
	fc.valid = true
	return rss, nil
}

// fingerprint identifies a ready set: same ids, order, and blob sizes
// mean the same document.
func fingerprint(articles []store.Article) string {
	h := sha256.New()
	for _, a := range articles {
		h.Write([]byte(a.ID))
		h.Write([]byte{0})
		if a.Audio != nil {
			h.Write([]byte(strconv.FormatInt(a.Audio.ByteLen, 10)))
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
