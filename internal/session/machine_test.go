package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alfred/internal/audio"
	"alfred/internal/config"
	"alfred/internal/router"
	"alfred/internal/session"
)

const waitFor = 2 * time.Second

type fakeBridge struct {
	answer       string
	err          error
	hold         chan struct{}
	ignoreCancel bool
	calls        atomic.Int32
}

func (b *fakeBridge) Complete(ctx context.Context, prompt string) (string, error) {
	b.calls.Add(1)
	if b.hold != nil {
		if b.ignoreCancel {
			<-b.hold
		} else {
			select {
			case <-b.hold:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return b.answer, b.err
}

type fakeSynth struct {
	err error
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("speech:" + text), nil
}

type fakeSongs struct {
	err error
}

func (s *fakeSongs) Open(_ context.Context, query string) (io.ReadCloser, error) {
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(bytes.NewReader([]byte("song:" + query))), nil
}

// fakeSpeaker plays each stream until end is called or the session is stopped.
type fakeSpeaker struct {
	ends chan struct{}

	mu      sync.Mutex
	playing string
	played  []string
	stopped []string
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{ends: make(chan struct{})}
}

func (p *fakeSpeaker) Play(ctx context.Context, stream io.ReadCloser, started func(time.Duration)) error {
	data, _ := io.ReadAll(stream)
	stream.Close()
	name := string(data)

	p.mu.Lock()
	p.playing = name
	p.played = append(p.played, name)
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = ""
		p.mu.Unlock()
	}()

	started(3 * time.Second)

	select {
	case <-p.ends:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		p.stopped = append(p.stopped, name)
		p.mu.Unlock()
		return ctx.Err()
	}
}

// end finishes whatever is playing, waiting for playback to attach.
func (p *fakeSpeaker) end(t *testing.T) {
	t.Helper()
	select {
	case p.ends <- struct{}{}:
	case <-time.After(waitFor):
		t.Fatal("nothing playing")
	}
}

func (p *fakeSpeaker) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakeSpeaker) history() (played, stopped []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...), append([]string(nil), p.stopped...)
}

type fakeRecognizer struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (r *fakeRecognizer) Start() error { r.starts.Add(1); return nil }
func (r *fakeRecognizer) Stop() error  { r.stops.Add(1); return nil }

type harness struct {
	m       *session.Machine
	bridge  *fakeBridge
	speaker *fakeSpeaker
	rec     *fakeRecognizer
	gate    *session.Gate

	mu     sync.Mutex
	states []session.State
}

type harnessOpts struct {
	synthErr error
	songErr  error
}

func newHarness(t *testing.T, bridge *fakeBridge, opts harnessOpts) *harness {
	t.Helper()

	cfg := config.Default()
	h := &harness{
		bridge:  bridge,
		speaker: newFakeSpeaker(),
		rec:     &fakeRecognizer{},
	}
	h.gate = session.NewGate(h.rec, 10*time.Millisecond)

	ctrl := audio.NewController(&fakeSynth{err: opts.synthErr}, &fakeSongs{err: opts.songErr}, h.speaker,
		audio.WithFallbackDelay(20*time.Millisecond))

	h.m = session.New(router.New(bridge, cfg.Phrases, cfg.Cards), ctrl,
		session.WithGate(h.gate),
		session.WithObserver(func(s session.State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.m.Done()
		h.gate.Close()
	})

	h.waitMode(t, session.Idle)
	return h
}

func (h *harness) waitMode(t *testing.T, mode session.Mode) session.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.m.State().Mode == mode && !h.m.State().Changed.IsZero()
	}, waitFor, 2*time.Millisecond, "want mode %s, have %s", mode, h.m.State().Mode)
	return h.m.State()
}

func (h *harness) modes() []session.Mode {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []session.Mode
	for _, s := range h.states {
		if len(out) == 0 || out[len(out)-1] != s.Mode {
			out = append(out, s.Mode)
		}
	}
	return out
}

func TestConverseCycle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{answer: "Rayleigh scattering, Master Hanlin."}, harnessOpts{})

	h.m.Hear("Why is the sky blue?")

	st := h.waitMode(t, session.Speaking)
	assert.Equal(t, "Why is the sky blue?", st.Transcript)
	assert.Equal(t, "Rayleigh scattering, Master Hanlin.", st.Response)
	assert.Equal(t, router.ActionNone, st.Action)
	assert.False(t, st.MicArmed)
	require.NotNil(t, st.Audio)
	assert.Equal(t, audio.SourceSpeech, st.Audio.Source)

	require.Eventually(t, func() bool {
		a := h.m.State().Audio
		return a != nil && a.Duration == 3
	}, waitFor, 2*time.Millisecond)

	h.speaker.end(t)
	st = h.waitMode(t, session.Idle)
	assert.True(t, st.MicArmed)
	assert.Nil(t, st.Audio)
	assert.Equal(t, "Rayleigh scattering, Master Hanlin.", st.Response)

	assert.Equal(t, []session.Mode{session.Idle, session.Processing, session.Speaking, session.Idle}, h.modes())

	played, _ := h.speaker.history()
	assert.Equal(t, []string{"speech:Rayleigh scattering, Master Hanlin."}, played)
}

func TestSingThenStopPhrase(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})

	h.m.Hear("sing me a song")
	st := h.waitMode(t, session.Speaking)
	assert.Equal(t, router.ActionSingSong, st.Action)
	assert.Equal(t, router.SongRequest{Query: "random"}, st.Payload)

	h.speaker.end(t)
	st = h.waitMode(t, session.Singing)
	assert.True(t, st.MicArmed)
	require.NotNil(t, st.Audio)
	assert.Equal(t, audio.SourceSong, st.Audio.Source)
	require.Eventually(t, func() bool { return h.speaker.current() == "song:random" }, waitFor, 2*time.Millisecond)

	h.m.Hear("la la la, what a lovely tune")
	h.m.Hear("tell me about dinosaurs")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, session.Singing, h.m.State().Mode)
	assert.Equal(t, "song:random", h.speaker.current())

	h.m.Hear("Alfred, 安静")
	st = h.waitMode(t, session.Idle)
	assert.Equal(t, router.ActionStop, st.Action)
	assert.Equal(t, "好的少爷，保持安静。", st.Response)
	assert.Nil(t, st.Audio)
	assert.Empty(t, h.speaker.current())

	_, stopped := h.speaker.history()
	assert.Equal(t, []string{"song:random"}, stopped)
	assert.Zero(t, h.bridge.calls.Load())
}

func TestSongEndsNaturally(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})

	h.m.Hear("我想听七里香")
	h.waitMode(t, session.Speaking)
	h.speaker.end(t)
	h.waitMode(t, session.Singing)
	h.speaker.end(t)
	h.waitMode(t, session.Idle)

	played, stopped := h.speaker.history()
	assert.Equal(t, []string{"speech:Clearing my throat... Playing 七里香.", "song:七里香"}, played)
	assert.Empty(t, stopped)
}

func TestSongFailureReturnsToIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{songErr: audio.ErrPlaybackBlocked})

	h.m.Hear("sing yesterday")
	h.waitMode(t, session.Speaking)
	h.speaker.end(t)

	require.Eventually(t, func() bool {
		return h.m.State().Mode == session.Idle && len(h.modes()) == 5
	}, waitFor, 2*time.Millisecond)
	assert.Equal(t, []session.Mode{session.Idle, session.Processing, session.Speaking, session.Singing, session.Idle}, h.modes())
}

func TestStopDuringProcessingDiscardsAnswer(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{answer: "A very late answer.", hold: make(chan struct{}), ignoreCancel: true}
	h := newHarness(t, bridge, harnessOpts{})

	h.m.Hear("tell me a long story")
	h.waitMode(t, session.Processing)
	require.Eventually(t, func() bool { return bridge.calls.Load() == 1 }, waitFor, 2*time.Millisecond)

	h.m.Stop()
	h.waitMode(t, session.Idle)

	close(bridge.hold)
	time.Sleep(50 * time.Millisecond)

	st := h.m.State()
	assert.Equal(t, session.Idle, st.Mode)
	assert.NotEqual(t, "A very late answer.", st.Response)
	played, _ := h.speaker.history()
	assert.Empty(t, played)
}

func TestStopCancelsBridgeCall(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{answer: "unused", hold: make(chan struct{})}
	h := newHarness(t, bridge, harnessOpts{})

	h.m.Hear("what is a black hole")
	h.waitMode(t, session.Processing)
	require.Eventually(t, func() bool { return bridge.calls.Load() == 1 }, waitFor, 2*time.Millisecond)

	h.m.Stop()
	h.waitMode(t, session.Idle)
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, session.Idle, h.m.State().Mode)
	played, _ := h.speaker.history()
	assert.Empty(t, played)
}

func TestStopUtteranceWhenIdle(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})

	h.m.Hear("shut up")
	require.Eventually(t, func() bool {
		return h.m.State().Action == router.ActionStop
	}, waitFor, 2*time.Millisecond)

	st := h.m.State()
	assert.Equal(t, session.Idle, st.Mode)
	assert.Equal(t, "好的少爷，保持安静。", st.Response)
	played, _ := h.speaker.history()
	assert.Empty(t, played)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{answer: "Indeed."}, harnessOpts{})

	h.m.Stop()
	h.m.Stop()
	h.waitMode(t, session.Idle)

	h.m.Hear("how are you")
	h.waitMode(t, session.Speaking)
	require.Eventually(t, func() bool { return h.speaker.current() == "speech:Indeed." }, waitFor, 2*time.Millisecond)
	h.m.Stop()
	h.m.Stop()
	st := h.waitMode(t, session.Idle)
	assert.True(t, st.MicArmed)

	_, stopped := h.speaker.history()
	assert.Equal(t, []string{"speech:Indeed."}, stopped)
}

func TestUtterancesIgnoredWhileBusy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{answer: "First answer."}, harnessOpts{})

	h.m.Hear("first question")
	h.waitMode(t, session.Speaking)
	h.m.Hear("second question")
	h.m.Hear("show my project")
	time.Sleep(30 * time.Millisecond)

	st := h.m.State()
	assert.Equal(t, session.Speaking, st.Mode)
	assert.Equal(t, "first question", st.Transcript)
	assert.Equal(t, int32(1), h.bridge.calls.Load())
}

func TestNewCycleClearsPreviousAction(t *testing.T) {
	t.Parallel()

	bridge := &fakeBridge{answer: "Certainly.", hold: make(chan struct{})}
	h := newHarness(t, bridge, harnessOpts{})

	h.m.Hear("show my project")
	st := h.waitMode(t, session.Speaking)
	assert.Equal(t, router.ActionShowProject, st.Action)
	require.NotNil(t, st.Visual)
	assert.Equal(t, "EV Dashboard", st.Visual.Title)

	h.speaker.end(t)
	st = h.waitMode(t, session.Idle)
	assert.NotNil(t, st.Visual)

	h.m.Hear("thank you")
	st = h.waitMode(t, session.Processing)
	assert.Equal(t, router.ActionNone, st.Action)
	assert.Nil(t, st.Payload)
	assert.Nil(t, st.Visual)
	assert.Empty(t, st.Response)

	close(bridge.hold)
	h.waitMode(t, session.Speaking)
}

func TestCloseVisual(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})

	h.m.Hear("my contact please")
	h.waitMode(t, session.Speaking)
	h.speaker.end(t)
	require.NotNil(t, h.waitMode(t, session.Idle).Visual)

	h.m.CloseVisual()
	require.Eventually(t, func() bool { return h.m.State().Visual == nil }, waitFor, 2*time.Millisecond)
	assert.Equal(t, router.ActionShowContact, h.m.State().Action)
}

func TestBridgeFailureSpeaksApology(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{err: errors.New("dial tcp: connection refused")}, harnessOpts{})

	h.m.Hear("what is love")
	st := h.waitMode(t, session.Speaking)
	assert.Equal(t, router.ActionError, st.Action)
	assert.Equal(t, "无法连接到神经网络。", st.Response)

	h.speaker.end(t)
	h.waitMode(t, session.Idle)
}

func TestSynthesisFailureStillFinishes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{answer: "Quite."}, harnessOpts{synthErr: errors.New("tts offline")})

	h.m.Hear("why do magnets attract")
	h.waitMode(t, session.Speaking)
	h.waitMode(t, session.Idle)

	played, _ := h.speaker.history()
	assert.Empty(t, played)
}

func TestGreeting(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{answer: "Yes."}, harnessOpts{})

	h.m.Greet()
	st := h.waitMode(t, session.Speaking)
	assert.Contains(t, st.Response, "Alfred is online")
	assert.Equal(t, router.ActionNone, st.Action)

	h.m.Greet()
	time.Sleep(20 * time.Millisecond)

	h.speaker.end(t)
	h.waitMode(t, session.Idle)

	played, _ := h.speaker.history()
	assert.Len(t, played, 1)
}

func TestGateFollowsMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})

	require.Eventually(t, h.gate.Active, waitFor, 2*time.Millisecond)
	assert.Equal(t, int32(1), h.rec.starts.Load())

	h.m.Hear("sing a song")
	h.waitMode(t, session.Speaking)
	assert.False(t, h.gate.Active())
	assert.Equal(t, int32(1), h.rec.stops.Load())

	h.speaker.end(t)
	h.waitMode(t, session.Singing)
	require.Eventually(t, h.gate.Active, waitFor, 2*time.Millisecond)
	assert.Equal(t, int32(2), h.rec.starts.Load())
}

func TestRunOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeBridge{}, harnessOpts{})
	assert.ErrorIs(t, h.m.Run(context.Background()), session.ErrAlreadyRunning)
}
