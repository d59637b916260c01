package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// mp3Ext is the extension of every published blob.
const mp3Ext = ".mp3"

// tempMarker appears in every in-progress file name; SweepTemp removes
// anything containing it.
const tempMarker = ".tmp-"

// mp3BytesPerSecond is the byte rate of the 64 kbps MP3 streams the TTS
// provider produces, used to estimate duration from size.
const mp3BytesPerSecond = 8000

// BlobStore holds finished audio blobs as files, one per article id.
// Publish is atomic with respect to Read: bytes land in a uniquely named
// temp file which is renamed into place, so a reader never observes a
// partial blob. Publishes to the same id serialize; distinct ids never
// contend.
type BlobStore struct {
	dir string

	// Per-id locks for same-id publish serialization.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBlobStore creates a blob store rooted at dir, creating it if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &BlobStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the blob directory path.
func (s *BlobStore) Dir() string { return s.dir }

func (s *BlobStore) idLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *BlobStore) blobPath(id string) string {
	return filepath.Join(s.dir, id+mp3Ext)
}

// Publish atomically stores audio bytes for the given article id,
// replacing any prior blob. Returns the published blob's metadata.
func (s *BlobStore) Publish(id string, audio []byte) (BlobInfo, error) {
	l := s.idLock(id)
	l.Lock()
	defer l.Unlock()

	// Unique temp name per attempt; a crashed attempt never blocks or
	// corrupts a later one.
	tmpPath := s.blobPath(id) + tempMarker + uuid.NewString()

	if err := os.WriteFile(tmpPath, audio, 0o644); err != nil {
		return BlobInfo{}, fmt.Errorf("writing temp blob: %w", err)
	}

	if err := os.Rename(tmpPath, s.blobPath(id)); err != nil {
		_ = os.Remove(tmpPath)
		return BlobInfo{}, fmt.Errorf("publishing blob: %w", err)
	}

	sum := sha256.Sum256(audio)
	return BlobInfo{
		ByteLen:  int64(len(audio)),
		Duration: EstimateDuration(int64(len(audio))),
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// TempBlob accumulates audio bytes in a uniquely named temp file until
// Commit renames it into place. Abort discards it. Either way the temp
// file is gone afterwards; an abandoned one is picked up by SweepTemp.
type TempBlob struct {
	store *BlobStore
	id    string
	f     *os.File
	hash  hash.Hash
	n     int64
}

// NewTemp opens a temp blob for the given article id. Synthesis writes
// each audio chunk as it arrives and commits once, so a crash mid-way
// never leaves a partial published blob.
func (s *BlobStore) NewTemp(id string) (*TempBlob, error) {
	f, err := os.OpenFile(s.blobPath(id)+tempMarker+uuid.NewString(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating temp blob: %w", err)
	}
	return &TempBlob{store: s, id: id, f: f, hash: sha256.New()}, nil
}

// Write appends audio bytes to the temp blob.
func (t *TempBlob) Write(p []byte) (int, error) {
	n, err := t.f.Write(p)
	t.hash.Write(p[:n])
	t.n += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing temp blob: %w", err)
	}
	return n, nil
}

// Commit publishes the accumulated bytes under the article id,
// replacing any prior blob, and returns the published blob's metadata.
func (t *TempBlob) Commit() (BlobInfo, error) {
	if err := t.f.Close(); err != nil {
		_ = os.Remove(t.f.Name())
		return BlobInfo{}, fmt.Errorf("closing temp blob: %w", err)
	}

	l := t.store.idLock(t.id)
	l.Lock()
	defer l.Unlock()

	if err := os.Rename(t.f.Name(), t.store.blobPath(t.id)); err != nil {
		_ = os.Remove(t.f.Name())
		return BlobInfo{}, fmt.Errorf("publishing blob: %w", err)
	}

	return BlobInfo{
		ByteLen:  t.n,
		Duration: EstimateDuration(t.n),
		Checksum: hex.EncodeToString(t.hash.Sum(nil)),
	}, nil
}

// Abort discards the temp blob. Safe to call after Commit.
func (t *TempBlob) Abort() {
	_ = t.f.Close()
	_ = os.Remove(t.f.Name())
}

// Read returns the audio bytes for the given article id.
func (s *BlobStore) Read(id string) ([]byte, error) {
	data, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Path returns the on-disk path of a published blob, or ErrNotFound.
// Serving code uses this with http.ServeFile; the atomic rename in
// Publish guarantees the file at this path is never half-written.
func (s *BlobStore) Path(id string) (string, error) {
	p := s.blobPath(id)
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return p, nil
}

// Delete removes the blob for the given article id. Deleting a missing
// blob is not an error.
func (s *BlobStore) Delete(id string) error {
	err := os.Remove(s.blobPath(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

// SweepTemp removes temp files left behind by attempts that crashed
// mid-synthesis. Call once at startup. Returns the number removed.
func (s *BlobStore) SweepTemp() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("listing blob directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// EstimateDuration estimates playback time of a 64 kbps MP3 from its
// byte length.
func EstimateDuration(byteLen int64) time.Duration {
	return time.Duration(float64(byteLen) / mp3BytesPerSecond * float64(time.Second))
}
