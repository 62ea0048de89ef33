package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alfred/internal/router"
)

// The controller holds its lock while a stopped session drains, and the
// session may be reporting its start at that moment. A full queue must not
// hold it up.
func TestAudioStartDoesNotBlockOnFullQueue(t *testing.T) {
	t.Parallel()

	m := New(nil, nil)
	for range eventQueueCapacity {
		m.post(utterance{text: "hello"})
	}
	require.Len(t, m.queue, eventQueueCapacity)

	returned := make(chan struct{})
	go func() {
		m.hooks().Started("speech-1", time.Second)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Started hook blocked on a full queue")
	}
	assert.Len(t, m.queue, eventQueueCapacity)
}

func TestAudioStartQueuedWhenRoom(t *testing.T) {
	t.Parallel()

	m := New(nil, nil)
	m.hooks().Started("speech-1", 3*time.Second)

	require.Len(t, m.queue, 1)
	assert.Equal(t, audioStarted{id: "speech-1", length: 3 * time.Second}, <-m.queue)
}

func TestStateOutcomeSong(t *testing.T) {
	t.Parallel()

	var s State
	s.apply(router.Outcome{SpokenText: "Clearing my throat...", Action: router.ActionSingSong,
		Payload: router.SongRequest{Query: "yesterday"}})
	q, ok := s.outcome().Song()
	assert.True(t, ok)
	assert.Equal(t, "yesterday", q)

	s.apply(router.Outcome{SpokenText: "Here it is.", Action: router.ActionShowProject,
		Payload: router.Card{Title: "EV Dashboard"}})
	_, ok = s.outcome().Song()
	assert.False(t, ok)
}
