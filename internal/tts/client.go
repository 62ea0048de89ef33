// Package tts is a client for the speech synthesis service: text in, mp3 bytes out.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"
)

var ErrSynthesis = errors.New("speech synthesis failed")

type Request struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate,omitempty"`
	Pitch string `json:"pitch,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type Client struct {
	http  *http.Client
	url   string
	voice string
	rate  string
	pitch string
}

func NewClient(httpClient *http.Client, url, voice, rate, pitch string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		http:  httpClient,
		url:   url,
		voice: voice,
		rate:  rate,
		pitch: pitch,
	}
}

// Synthesize returns the encoded audio for text. All failures wrap ErrSynthesis.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesis)
	}

	body, err := json.Marshal(Request{
		Text:  text,
		Voice: c.voice,
		Rate:  c.rate,
		Pitch: c.pitch,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %w", ErrSynthesis, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %w", ErrSynthesis, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %w", ErrSynthesis, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrSynthesis)
	}

	log.Debug("Synthesized", "chars", len(text), "bytes", len(audio))
	return audio, nil
}

func parseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Detail != "" {
		return fmt.Errorf("%w: %s: %s", ErrSynthesis, resp.Status, e.Detail)
	}
	return fmt.Errorf("%w: %s: %s", ErrSynthesis, resp.Status, strings.TrimSpace(string(raw)))
}
