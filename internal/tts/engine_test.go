package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/articast/internal/config"
)

func TestSpeak_ConcatenatesChunks(t *testing.T) {
	engine := NewMockEngine(config.MockConfig{BytesPerChar: 2})

	// Long enough to need multiple chunks at the provider limit.
	text := strings.Repeat("one sentence here. ", 400)

	var buf bytes.Buffer
	if err := Speak(context.Background(), engine, text, &buf); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("Speak produced no audio")
	}
	if engine.CallCount() < 2 {
		t.Errorf("expected multiple synthesis calls, got %d", engine.CallCount())
	}
}

func TestSpeak_PropagatesEngineError(t *testing.T) {
	engine := NewMockEngine(config.MockConfig{})
	wantErr := errors.New("provider quota exceeded")
	engine.FailNext(wantErr)

	err := Speak(context.Background(), engine, "hello world", &bytes.Buffer{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want wrapped %v", err, wantErr)
	}
}

// failingWriter rejects every write.
type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSpeak_ReportsWriterFailure(t *testing.T) {
	engine := NewMockEngine(config.MockConfig{})

	err := Speak(context.Background(), engine, "hello", failingWriter{})
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("got %v, want *WriteError", err)
	}
}

func TestSpeak_RespectsCancellation(t *testing.T) {
	engine := NewMockEngine(config.MockConfig{GenerationDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Speak(ctx, engine, "hello", &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestGoogleEngine_Synthesize(t *testing.T) {
	wantAudio := []byte("mp3-bytes-here")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if key := r.URL.Query().Get("key"); key != "test-key" {
			t.Errorf("key = %q, want test-key", key)
		}

		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Input.Text != "hello" {
			t.Errorf("text = %q, want hello", req.Input.Text)
		}
		if req.AudioConfig.AudioEncoding != "MP3_64_KBPS" {
			t.Errorf("encoding = %q", req.AudioConfig.AudioEncoding)
		}

		resp := synthesizeResponse{AudioContent: base64.StdEncoding.EncodeToString(wantAudio)}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encoding response: %v", err)
		}
	}))
	defer srv.Close()

	engine := &GoogleEngine{
		apiKey:   "test-key",
		voice:    "en-US-Standard-C",
		language: "en-US",
		endpoint: srv.URL,
		client:   srv.Client(),
	}

	audio, err := engine.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != string(wantAudio) {
		t.Errorf("audio = %q, want %q", audio, wantAudio)
	}
}

func TestGoogleEngine_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := &GoogleEngine{
		apiKey:   "test-key",
		endpoint: srv.URL,
		client:   srv.Client(),
	}

	if _, err := engine.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestGoogleEngine_RejectsOversizedText(t *testing.T) {
	engine := &GoogleEngine{apiKey: "k", endpoint: "http://invalid", client: http.DefaultClient}

	_, err := engine.Synthesize(context.Background(), strings.Repeat("x", MaxChunkChars+1))
	if !errors.Is(err, ErrTextTooLong) {
		t.Fatalf("got %v, want ErrTextTooLong", err)
	}
}

func TestNewGoogleEngine_RequiresKey(t *testing.T) {
	if _, err := NewGoogleEngine(config.GoogleConfig{}); err == nil {
		t.Fatal("expected error when no API key is configured")
	}
}
