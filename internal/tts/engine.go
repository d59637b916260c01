// Package tts wraps external speech-synthesis providers. An Engine turns a
// bounded chunk of text into MP3 bytes; Speak handles chunking long text
// and streaming the concatenated result.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// MaxChunkChars is the provider-safe upper bound on characters per
// synthesis request. Google Cloud TTS enforces 5000; the chunker never
// emits chunks above this size.
const MaxChunkChars = 5000

// ErrTextTooLong is returned when a single synthesis request exceeds the
// provider limit. The chunker should make this unreachable in practice.
var ErrTextTooLong = errors.New("tts: text exceeds provider limit")

// Engine converts one provider-safe chunk of text into MP3 audio.
type Engine interface {
	// Synthesize speaks text of at most MaxChunkChars characters and
	// returns MP3 bytes.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// Name identifies the engine in logs.
	Name() string
}

// WriteError reports a failure of the destination writer rather than
// the synthesis provider.
type WriteError struct{ Err error }

func (e *WriteError) Error() string { return "writing audio: " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// Speak converts text of arbitrary length into a single MP3 stream
// written to w. The text is broken into provider-safe chunks, each
// chunk is synthesized in order, and the MP3 frames are concatenated
// (the concatenation of MP3 files is itself a valid MP3 file).
// Failures of w come back as *WriteError so callers can tell them
// apart from provider failures.
func Speak(ctx context.Context, engine Engine, text string, w io.Writer) error {
	chunks, err := SplitText(text, MaxChunkChars)
	if err != nil {
		return fmt.Errorf("splitting text: %w", err)
	}

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		audio, err := engine.Synthesize(ctx, chunk)
		if err != nil {
			return fmt.Errorf("synthesizing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if _, err := w.Write(audio); err != nil {
			return &WriteError{Err: err}
		}
	}
	return nil
}
