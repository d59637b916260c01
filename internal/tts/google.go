package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/dgnsrekt/articast/internal/config"
)

// googleTTSEndpoint is the Cloud TTS synthesis endpoint.
const googleTTSEndpoint = "https://texttospeech.googleapis.com/v1beta1/text:synthesize"

// GoogleEngine implements Engine against the Google Cloud TTS REST API.
// It produces 64 kbps MP3 audio.
type GoogleEngine struct {
	apiKey   string
	voice    string
	language string
	endpoint string
	client   *http.Client
}

// NewGoogleEngine creates a Google Cloud TTS engine from configuration.
// The API key must already be resolved; construction fails without one so
// a missing key surfaces at startup rather than on the first article.
func NewGoogleEngine(cfg config.GoogleConfig) (*GoogleEngine, error) {
	key, err := cfg.ResolveGoogleAPIKey()
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("no Google TTS API key configured (set google.api_key or google.api_key_file)")
	}

	voice := cfg.VoiceName
	if cfg.Wavenet {
		voice = "en-US-Wavenet-C"
	}

	return &GoogleEngine{
		apiKey:   key,
		voice:    voice,
		language: cfg.LanguageCode,
		endpoint: googleTTSEndpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name identifies the engine in logs.
func (e *GoogleEngine) Name() string { return "google" }

// synthesizeRequest is the Cloud TTS request payload.
type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding   string `json:"audioEncoding"`
		SampleRateHertz int    `json:"sampleRateHertz"`
	} `json:"audioConfig"`
}

// synthesizeResponse carries the base64-encoded MP3 bytes.
type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
}

// Synthesize speaks one provider-safe chunk of text.
func (e *GoogleEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	// The chunker should keep us under the provider limit; this is a
	// hard failure, not something to truncate silently.
	if len(text) > MaxChunkChars {
		return nil, ErrTextTooLong
	}

	var payload synthesizeRequest
	payload.Input.Text = text
	payload.Voice.LanguageCode = e.language
	payload.Voice.Name = e.voice
	payload.AudioConfig.AudioEncoding = "MP3_64_KBPS"
	payload.AudioConfig.SampleRateHertz = 48000

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding TTS request: %w", err)
	}

	u := e.endpoint + "?" + url.Values{"key": {e.apiKey}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("TTS request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("TTS request returned %s: %s", resp.Status, msg)
	}

	var decoded synthesizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding TTS response: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("decoding audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("TTS response contained no audio")
	}

	return audio, nil
}

// Ensure GoogleEngine implements the Engine interface.
var _ Engine = (*GoogleEngine)(nil)
