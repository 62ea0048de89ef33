package tts_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alfred/internal/tts"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()

	var got tts.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tts", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	}))
	defer srv.Close()

	c := tts.NewClient(srv.Client(), srv.URL+"/api/tts", "en-GB-RyanNeural", "+0%", "-5Hz")
	audio, err := c.Synthesize(context.Background(), "Good evening, Master Hanlin.")
	require.NoError(t, err)

	assert.Equal(t, []byte("ID3fake-mp3"), audio)
	assert.Equal(t, tts.Request{
		Text:  "Good evening, Master Hanlin.",
		Voice: "en-GB-RyanNeural",
		Rate:  "+0%",
		Pitch: "-5Hz",
	}, got)
}

func TestSynthesizeServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"No audio was received"}`))
	}))
	defer srv.Close()

	c := tts.NewClient(srv.Client(), srv.URL, "v", "", "")
	_, err := c.Synthesize(context.Background(), "hello")

	require.ErrorIs(t, err, tts.ErrSynthesis)
	assert.Contains(t, err.Error(), "No audio was received")
}

func TestSynthesizeEmpty(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	c := tts.NewClient(srv.Client(), srv.URL, "v", "", "")

	_, err := c.Synthesize(context.Background(), "   ")
	assert.ErrorIs(t, err, tts.ErrSynthesis)
	assert.Zero(t, calls)

	_, err = c.Synthesize(context.Background(), "hello")
	assert.ErrorIs(t, err, tts.ErrSynthesis)
	assert.Equal(t, 1, calls)
}
