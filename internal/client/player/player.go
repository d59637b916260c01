// Package player drives audio playback for queued articles: it resumes
// from the last saved position, persists progress while playing, and
// keeps the playback rate per article.
package player

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/articast/internal/client/cache"
)

// JumpSeconds is the seek distance of the skip controls.
const JumpSeconds = 10.0

// finishedEpsilon is how close to the end counts as finished; selecting
// a finished article replays it from the start.
const finishedEpsilon = 1.0

// defaultSaveInterval is how often the position is persisted during
// playback.
const defaultSaveInterval = 10 * time.Second

// Rates are the selectable playback speeds.
var Rates = []float64{0.5, 0.75, 1.0, 1.25, 1.5, 1.75, 2.0, 2.5, 3.0, 3.5, 4.0}

var (
	// ErrNotCached is returned by Select when the article's audio is
	// not available offline.
	ErrNotCached = errors.New("player: article audio not cached")

	// ErrNothingSelected is returned by playback operations before any
	// Select.
	ErrNothingSelected = errors.New("player: no article selected")

	// ErrBadRate is returned for a playback rate outside Rates.
	ErrBadRate = errors.New("player: unsupported playback rate")
)

// Audio is the host audio element. Implementations are adapters over
// whatever the platform provides; tests use an in-memory fake.
type Audio interface {
	Load(data []byte) error
	Play()
	Pause()
	Position() float64
	SetPosition(seconds float64)
	Duration() float64
	SetRate(rate float64)
}

// Controller owns one Audio element and the persistence of playback
// state into the cache. All methods are safe for concurrent use.
type Controller struct {
	cache        *cache.Cache
	audio        Audio
	saveInterval time.Duration

	mu       sync.Mutex
	current  string
	playing  bool
	stopSave chan struct{}
}

// New creates a controller. saveInterval zero means the default ten
// seconds.
func New(c *cache.Cache, audio Audio, saveInterval time.Duration) *Controller {
	if saveInterval <= 0 {
		saveInterval = defaultSaveInterval
	}
	return &Controller{cache: c, audio: audio, saveInterval: saveInterval}
}

// Select loads an article's cached audio and prepares playback at its
// saved position and rate. A saved position at or past the end means
// the article was finished; it restarts from zero. Select never
// touches the network.
func (c *Controller) Select(id string) error {
	data, ok := c.cache.Get(id)
	if !ok {
		return ErrNotCached
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopSaveLoop()
	if err := c.audio.Load(data); err != nil {
		return err
	}

	pos := c.cache.GetPosition(id)
	dur := c.audio.Duration()
	if pos < 0 {
		pos = 0
	}
	if dur > 0 && pos >= dur-finishedEpsilon {
		pos = 0
		// Reset the persisted position too; the old end-of-track value
		// would outrank every save of the replay.
		if err := c.cache.Seek(id, 0); err != nil {
			return err
		}
	}
	c.audio.SetPosition(pos)
	c.audio.SetRate(c.cache.GetRate(id))
	c.current = id
	c.playing = false
	return nil
}

// Current returns the selected article id, empty if none.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Play starts playback and the periodic position save.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return ErrNothingSelected
	}
	c.audio.Play()
	c.playing = true
	c.savePositionLocked()
	c.startSaveLoop()
	return nil
}

// Pause stops playback and persists the position.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return ErrNothingSelected
	}
	c.audio.Pause()
	c.playing = false
	c.stopSaveLoop()
	c.savePositionLocked()
	return nil
}

// SeekTo moves playback to the given position, clamped to the track,
// and persists it immediately. Seeks may move backwards.
func (c *Controller) SeekTo(seconds float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return ErrNothingSelected
	}

	if seconds < 0 {
		seconds = 0
	}
	if dur := c.audio.Duration(); dur > 0 && seconds > dur {
		seconds = dur
	}
	c.audio.SetPosition(seconds)
	return c.cache.Seek(c.current, seconds)
}

// JumpForward skips ahead by the standard jump distance.
func (c *Controller) JumpForward() error {
	return c.SeekTo(c.audio.Position() + JumpSeconds)
}

// JumpBack skips back by the standard jump distance.
func (c *Controller) JumpBack() error {
	return c.SeekTo(c.audio.Position() - JumpSeconds)
}

// SetRate applies and persists a playback rate for the selected
// article.
func (c *Controller) SetRate(rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return ErrNothingSelected
	}
	if !validRate(rate) {
		return ErrBadRate
	}
	c.audio.SetRate(rate)
	return c.cache.SetRate(c.current, rate)
}

// Suspend persists playback state ahead of the app going away
// (page-hide, app close). Playback itself is left to the host.
func (c *Controller) Suspend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == "" {
		return
	}
	c.savePositionLocked()
}

// Close stops the save loop and persists the final position.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSaveLoop()
	if c.current != "" {
		c.savePositionLocked()
	}
}

func validRate(rate float64) bool {
	for _, r := range Rates {
		if r == rate {
			return true
		}
	}
	return false
}

// savePositionLocked writes the live position through the cache's
// coalescing path. Callers hold the lock.
func (c *Controller) savePositionLocked() {
	c.cache.SetPosition(c.current, c.audio.Position()) //nolint:errcheck
}

func (c *Controller) startSaveLoop() {
	if c.stopSave != nil {
		return
	}
	stop := make(chan struct{})
	c.stopSave = stop
	go func() {
		ticker := time.NewTicker(c.saveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				if c.playing && c.current != "" {
					c.savePositionLocked()
				}
				c.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (c *Controller) stopSaveLoop() {
	if c.stopSave != nil {
		close(c.stopSave)
		c.stopSave = nil
	}
}
