// Package cache is the client's durable offline store: one entry per
// queued article holding its cached audio, playback position, and
// playback rate. It is the single source of truth for "is this article
// available offline" and survives process restarts.
package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	gap "github.com/muesli/go-app-paths"
)

// OverflowPolicy decides what happens when a Put would push the cache
// over its size cap.
type OverflowPolicy string

const (
	// PolicyReject refuses the new blob. The default: queued audio is
	// never silently thrown away.
	PolicyReject OverflowPolicy = "reject"

	// PolicyEvictOldest removes least recently accessed entries until
	// the new blob fits.
	PolicyEvictOldest OverflowPolicy = "evict-oldest"
)

var (
	// ErrCacheFull is returned by Put under PolicyReject when the blob
	// does not fit, and under PolicyEvictOldest when it would not fit
	// even in an empty cache.
	ErrCacheFull = errors.New("cache: size cap exceeded")

	// ErrUnknownEntry is returned for position and rate operations on
	// an article that was never queued.
	ErrUnknownEntry = errors.New("cache: no such entry")
)

// indexName is the gob index file inside the cache directory.
const indexName = "queue.index"

// compressMin is the smallest blob worth running through zstd.
const compressMin = 1024

// entry is the persisted record for one queued article. Fields are
// exported for gob.
type entry struct {
	ID         string
	File       string // blob file name, empty when metadata-only
	Compressed bool
	ByteLen    int64 // uncompressed audio size
	DiskLen    int64
	Position   float64 // playback position in seconds
	Rate       float64
	AddedAt    time.Time
	LastAccess time.Time
}

// QueueEntry is the caller-visible view of a cached article.
type QueueEntry struct {
	ID         string
	HasAudio   bool
	ByteLen    int64
	Position   float64
	Rate       float64
	AddedAt    time.Time
	LastAccess time.Time
}

// Options configures a Cache.
type Options struct {
	Dir string

	// Capacity caps total blob bytes on disk. Zero means unbounded.
	Capacity int64

	// Policy picks the overflow behavior; defaults to PolicyReject.
	Policy OverflowPolicy

	// CompressionLevel is the zstd level for stored blobs; zero
	// disables compression.
	CompressionLevel int

	// FlushDelay is the position write coalescing window; defaults to
	// one second.
	FlushDelay time.Duration
}

// Cache is safe for concurrent use. Every mutation except coalesced
// position writes is persisted before it returns.
type Cache struct {
	dir        string
	capacity   int64
	policy     OverflowPolicy
	flushDelay time.Duration

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu      sync.Mutex
	entries map[string]*entry
	size    int64
	flusher *time.Timer // pending coalesced index save
	closed  bool
}

// DefaultDir returns the per-user data directory for the cache.
func DefaultDir() (string, error) {
	scope := gap.NewScope(gap.User, "articast")
	dir, err := scope.DataPath("cache")
	if err != nil {
		return "", fmt.Errorf("resolving cache directory: %w", err)
	}
	return dir, nil
}

// Open loads or creates a cache in opts.Dir. A missing or unreadable
// index starts empty; blob files without index entries are ignored.
func Open(opts Options) (*Cache, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	policy := opts.Policy
	if policy == "" {
		policy = PolicyReject
	}
	flushDelay := opts.FlushDelay
	if flushDelay <= 0 {
		flushDelay = time.Second
	}

	c := &Cache{
		dir:        opts.Dir,
		capacity:   opts.Capacity,
		policy:     policy,
		flushDelay: flushDelay,
		entries:    make(map[string]*entry),
	}

	if opts.CompressionLevel > 0 {
		var err error
		c.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		c.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
	}

	if err := c.loadIndex(); err != nil {
		c.entries = make(map[string]*entry)
	}
	for _, e := range c.entries {
		c.size += e.DiskLen
	}

	return c, nil
}

// Close flushes any coalesced position write and saves the index.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.flusher != nil {
		c.flusher.Stop()
		c.flusher = nil
	}
	return c.saveIndex()
}

// Add creates a metadata-only queue entry for an article. Adding an
// existing entry is a no-op.
func (c *Cache) Add(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		return nil
	}
	now := time.Now()
	c.entries[id] = &entry{ID: id, Rate: 1.0, AddedAt: now, LastAccess: now}
	return c.saveIndex()
}

// Has reports whether the article's audio is fully cached. This is the
// offline-availability check and never touches the network.
func (c *Cache) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	return ok && e.File != ""
}

// Put caches the complete audio for an article, replacing any prior
// bytes entirely. The entry is created if the article was not queued
// yet. Position and rate survive a re-Put.
func (c *Cache) Put(id string, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data := audio
	compressed := false
	if c.encoder != nil && len(audio) > compressMin {
		if packed := c.encoder.EncodeAll(audio, nil); len(packed) < len(audio) {
			data = packed
			compressed = true
		}
	}
	diskLen := int64(len(data))

	e, ok := c.entries[id]
	if !ok {
		now := time.Now()
		e = &entry{ID: id, Rate: 1.0, AddedAt: now, LastAccess: now}
	}

	// The replaced blob's space is reclaimed before the cap check.
	freed := e.DiskLen
	if err := c.makeRoom(diskLen, c.size-freed, id); err != nil {
		return err
	}
	if e.File != "" {
		os.Remove(filepath.Join(c.dir, e.File)) //nolint:errcheck
		c.size -= e.DiskLen
	}

	name := blobName(id)
	if err := writeAtomic(filepath.Join(c.dir, name), data); err != nil {
		return fmt.Errorf("writing cached audio: %w", err)
	}

	e.File = name
	e.Compressed = compressed
	e.ByteLen = int64(len(audio))
	e.DiskLen = diskLen
	e.LastAccess = time.Now()
	c.entries[id] = e
	c.size += diskLen

	return c.saveIndex()
}

// Get returns the cached audio bytes for an article. A miss is a
// normal outcome, not an error.
func (c *Cache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok || e.File == "" {
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.dir, e.File))
	if err != nil {
		// Blob lost outside our control; keep the entry as
		// metadata-only so position survives.
		c.size -= e.DiskLen
		e.File = ""
		e.DiskLen = 0
		e.ByteLen = 0
		return nil, false
	}

	if e.Compressed {
		if c.decoder == nil {
			return nil, false
		}
		plain, err := c.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, false
		}
		data = plain
	}

	e.LastAccess = time.Now()
	return data, true
}

// SetPosition records the playback position for an article. Writes are
// coalesced: rapid calls within the flush window collapse into one
// durable index save. A position behind the current one is ignored;
// use Seek for an intentional move backwards.
func (c *Cache) SetPosition(id string, seconds float64) error {
	return c.setPosition(id, seconds, false)
}

// Seek records an explicit user seek. Unlike SetPosition it may move
// the position backwards, and it is persisted immediately.
func (c *Cache) Seek(id string, seconds float64) error {
	return c.setPosition(id, seconds, true)
}

func (c *Cache) setPosition(id string, seconds float64, override bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return ErrUnknownEntry
	}
	if seconds < 0 {
		seconds = 0
	}
	if !override && seconds < e.Position {
		return nil
	}
	e.Position = seconds
	e.LastAccess = time.Now()

	if override {
		if c.flusher != nil {
			c.flusher.Stop()
			c.flusher = nil
		}
		return c.saveIndex()
	}
	c.scheduleFlush()
	return nil
}

// GetPosition returns the last recorded playback position in seconds.
// Unknown articles report zero.
func (c *Cache) GetPosition(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.Position
	}
	return 0
}

// SetRate records the playback rate for an article.
func (c *Cache) SetRate(id string, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return ErrUnknownEntry
	}
	e.Rate = rate
	return c.saveIndex()
}

// GetRate returns the recorded playback rate, defaulting to 1.0.
func (c *Cache) GetRate(id string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok && e.Rate > 0 {
		return e.Rate
	}
	return 1.0
}

// Remove drops an article from the queue, deleting its cached audio
// and position. Removing an unknown article is a no-op.
func (c *Cache) Remove(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil
	}
	if e.File != "" {
		os.Remove(filepath.Join(c.dir, e.File)) //nolint:errcheck
		c.size -= e.DiskLen
	}
	delete(c.entries, id)
	return c.saveIndex()
}

// List returns all queue entries in the order they were added.
func (c *Cache) List() []QueueEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]QueueEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, QueueEntry{
			ID:         e.ID,
			HasAudio:   e.File != "",
			ByteLen:    e.ByteLen,
			Position:   e.Position,
			Rate:       e.Rate,
			AddedAt:    e.AddedAt,
			LastAccess: e.LastAccess,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

// Size returns the total blob bytes on disk.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// makeRoom enforces the size cap for an incoming blob of diskLen bytes
// given the size after the replaced blob is reclaimed. keep is never
// evicted.
func (c *Cache) makeRoom(diskLen, sizeAfterReplace int64, keep string) error {
	if c.capacity <= 0 {
		return nil
	}
	if diskLen > c.capacity {
		return ErrCacheFull
	}
	if sizeAfterReplace+diskLen <= c.capacity {
		return nil
	}
	if c.policy == PolicyReject {
		return ErrCacheFull
	}

	for sizeAfterReplace+diskLen > c.capacity {
		victim := c.oldestBlob(keep)
		if victim == nil {
			return ErrCacheFull
		}
		os.Remove(filepath.Join(c.dir, victim.File)) //nolint:errcheck
		c.size -= victim.DiskLen
		sizeAfterReplace -= victim.DiskLen
		delete(c.entries, victim.ID)
	}
	return nil
}

func (c *Cache) oldestBlob(keep string) *entry {
	var oldest *entry
	for id, e := range c.entries {
		if id == keep || e.File == "" {
			continue
		}
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	return oldest
}

// scheduleFlush arms the coalescing timer. Callers hold the lock.
func (c *Cache) scheduleFlush() {
	if c.flusher != nil || c.closed {
		return
	}
	c.flusher = time.AfterFunc(c.flushDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.flusher = nil
		if c.closed {
			return
		}
		if err := c.saveIndex(); err != nil {
			// Positions stay in memory; the next mutation retries.
			return
		}
	})
}

func blobName(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:16]) + ".blob"
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	return nil
}

func (c *Cache) loadIndex() error {
	f, err := os.Open(filepath.Join(c.dir, indexName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close() //nolint:errcheck
	return gob.NewDecoder(f).Decode(&c.entries)
}

// saveIndex persists the index atomically. Callers hold the lock.
func (c *Cache) saveIndex() error {
	path := filepath.Join(c.dir, indexName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(c.entries)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	return os.Rename(tmp, path)
}
