package player

// MediaControls translates host media-session events (lockscreen,
// headset, keyboard keys) into controller calls. Every handler goes
// through the exact same methods a UI control would, so lockscreen and
// in-page state can never diverge.
type MediaControls struct {
	c *Controller
}

// NewMediaControls wraps a controller for host media events.
func NewMediaControls(c *Controller) *MediaControls {
	return &MediaControls{c: c}
}

func (m *MediaControls) Play() error  { return m.c.Play() }
func (m *MediaControls) Pause() error { return m.c.Pause() }

func (m *MediaControls) SeekTo(seconds float64) error { return m.c.SeekTo(seconds) }
func (m *MediaControls) SeekForward() error           { return m.c.JumpForward() }
func (m *MediaControls) SeekBackward() error          { return m.c.JumpBack() }

// PreviousTrack restarts the current article.
func (m *MediaControls) PreviousTrack() error { return m.c.SeekTo(0) }

// NextTrack is intentionally a no-op: there is no meaningful next
// article from the lockscreen.
func (m *MediaControls) NextTrack() error { return nil }
