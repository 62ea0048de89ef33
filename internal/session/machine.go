package session

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"alfred/internal/audio"
	"alfred/internal/intent"
	"alfred/internal/router"
)

const eventQueueCapacity = 32

var ErrAlreadyRunning = errors.New("machine already running")

type Resolver interface {
	Resolve(ctx context.Context, text string) router.Outcome
	Greeting() router.Outcome
}

type Player interface {
	PlaySpeech(ctx context.Context, text string, hooks audio.Hooks) *audio.Session
	PlaySong(ctx context.Context, query string, hooks audio.Hooks) *audio.Session
	Stop()
}

type MicGate interface {
	Update(listen bool)
}

// Observer receives every committed state on the loop goroutine and must not block.
type Observer func(State)

type Option func(*Machine)

func WithGate(g MicGate) Option {
	return func(m *Machine) { m.gate = g }
}

func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

type Machine struct {
	resolver  Resolver
	player    Player
	gate      MicGate
	observers []Observer

	queue     chan event
	done      chan struct{}
	startOnce sync.Once

	// Owned by the loop goroutine.
	state         State
	session       *audio.Session
	cycle         uint64
	cancelResolve context.CancelFunc

	mu       sync.RWMutex
	snapshot State
}

func New(resolver Resolver, player Player, opts ...Option) *Machine {
	m := &Machine{
		resolver: resolver,
		player:   player,
		queue:    make(chan event, eventQueueCapacity),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run processes events until ctx is done, then stops audio and the microphone.
func (m *Machine) Run(ctx context.Context) error {
	started := false
	m.startOnce.Do(func() { started = true })
	if !started {
		return ErrAlreadyRunning
	}
	defer close(m.done)

	log.Info("Session started")
	m.commit()

	for {
		select {
		case <-ctx.Done():
			m.halt()
			m.state.Mode = Idle
			if m.gate != nil {
				m.gate.Update(false)
			}
			log.Info("Session ended")
			return ctx.Err()

		case e := <-m.queue:
			m.handle(ctx, e)
		}
	}
}

// Hear delivers one recognized utterance.
func (m *Machine) Hear(text string) {
	m.post(utterance{text: text, at: time.Now()})
}

// Stop returns the machine to idle from any state, silencing audio and
// discarding any answer still being prepared.
func (m *Machine) Stop() {
	m.post(stopRequested{})
}

// Greet speaks the greeting if the machine is idle.
func (m *Machine) Greet() {
	m.post(greetRequested{})
}

func (m *Machine) CloseVisual() {
	m.post(visualClosed{})
}

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.snapshot
}

func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// tryPost drops e instead of waiting for room in the queue.
func (m *Machine) tryPost(e event) bool {
	select {
	case m.queue <- e:
		return true
	case <-m.done:
		return false
	default:
		return false
	}
}

func (m *Machine) post(e event) {
	select {
	case m.queue <- e:
	case <-m.done:
	}
}

func (m *Machine) handle(ctx context.Context, e event) {
	switch e := e.(type) {
	case utterance:
		m.onUtterance(ctx, e)
	case resolved:
		m.onResolved(ctx, e)
	case audioStarted:
		m.onAudioStarted(e)
	case audioFinished:
		m.onAudioFinished(ctx, e.Completion)
	case stopRequested:
		log.Info("Stop requested", "mode", m.state.Mode)
		m.halt()
		m.state.Mode = Idle
		m.commit()
	case greetRequested:
		m.onGreet(ctx)
	case visualClosed:
		if m.state.Visual != nil {
			m.state.Visual = nil
			m.commit()
		}
	}
}

func (m *Machine) onUtterance(ctx context.Context, e utterance) {
	text := strings.TrimSpace(e.text)
	if text == "" {
		return
	}

	if m.state.Mode == Singing {
		if !intent.IsStop(text) {
			log.Debug("Ignoring speech during song", "text", text)
			return
		}

		log.Info("Stop heard during song", "text", text)
		out := m.resolver.Resolve(ctx, text)
		m.halt()
		m.state.Mode = Idle
		m.state.Transcript = text
		m.state.apply(out)
		m.commit()
		return
	}

	if m.state.Mode != Idle || !m.state.MicArmed {
		log.Debug("Dropping utterance", "mode", m.state.Mode, "text", text)
		return
	}

	log.Info("Heard", "text", text, "age", time.Since(e.at))

	m.cycle++
	cycle := m.cycle
	rctx, cancel := context.WithCancel(ctx)
	m.cancelResolve = cancel

	m.state = State{Mode: Processing, Transcript: text}
	m.commit()

	go func() {
		out := m.resolver.Resolve(rctx, text)
		m.post(resolved{cycle: cycle, outcome: out})
	}()
}

func (m *Machine) onResolved(ctx context.Context, e resolved) {
	if e.cycle != m.cycle || m.state.Mode != Processing {
		log.Debug("Discarding stale outcome", "action", e.outcome.Action)
		return
	}
	m.cancelResolve()
	m.cancelResolve = nil

	m.state.apply(e.outcome)

	if e.outcome.Action == router.ActionStop {
		m.halt()
		m.state.Mode = Idle
		m.commit()
		return
	}

	m.speak(ctx, e.outcome.SpokenText)
}

func (m *Machine) onGreet(ctx context.Context) {
	if m.state.Mode != Idle {
		log.Debug("Ignoring greeting", "mode", m.state.Mode)
		return
	}

	m.state = State{}
	m.state.apply(m.resolver.Greeting())
	m.speak(ctx, m.state.Response)
}

func (m *Machine) onAudioStarted(e audioStarted) {
	if m.session == nil || m.session.ID != e.id || m.state.Audio == nil {
		return
	}
	m.state.Audio.Duration = e.length.Seconds()
	m.commit()
}

func (m *Machine) onAudioFinished(ctx context.Context, c audio.Completion) {
	if m.session == nil || m.session.ID != c.ID {
		log.Debug("Ignoring completion of stale session", "id", c.ID)
		return
	}
	m.session = nil
	m.state.Audio = nil

	switch m.state.Mode {
	case Speaking:
		if c.Err != nil {
			log.Warn("Speech failed", "err", c.Err)
		}
		if query, ok := m.state.outcome().Song(); ok && !c.Stopped {
			m.sing(ctx, query)
			return
		}
		m.state.Mode = Idle

	case Singing:
		if c.Err != nil {
			log.Error("Song playback failed", "err", c.Err)
		}
		m.state.Mode = Idle

	default:
		return
	}

	m.commit()
}

func (m *Machine) speak(ctx context.Context, text string) {
	m.state.Mode = Speaking
	m.syncGate()

	m.session = m.player.PlaySpeech(ctx, text, m.hooks())
	m.state.Audio = audioInfo(m.session)
	m.commit()
}

func (m *Machine) sing(ctx context.Context, query string) {
	m.state.Mode = Singing

	m.session = m.player.PlaySong(ctx, query, m.hooks())
	m.state.Audio = audioInfo(m.session)
	m.commit()
}

// halt cancels the in-flight answer and any audio.
func (m *Machine) halt() {
	m.cycle++
	if m.cancelResolve != nil {
		m.cancelResolve()
		m.cancelResolve = nil
	}

	m.player.Stop()
	m.session = nil
	m.state.Audio = nil
}

func (m *Machine) hooks() audio.Hooks {
	return audio.Hooks{
		// Runs while the controller may be waiting on this session to release,
		// so it must never block on a full queue.
		Started: func(id string, length time.Duration) {
			if !m.tryPost(audioStarted{id: id, length: length}) {
				log.Debug("Dropping audio start", "id", id)
			}
		},
		Finished: func(c audio.Completion) {
			m.post(audioFinished{Completion: c})
		},
	}
}

func (m *Machine) syncGate() {
	m.state.MicArmed = ShouldListen(m.state)
	if m.gate != nil {
		m.gate.Update(m.state.MicArmed)
	}
}

func (m *Machine) commit() {
	m.syncGate()
	m.state.Changed = time.Now()

	snap := m.state
	if snap.Audio != nil {
		a := *snap.Audio
		snap.Audio = &a
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	log.Debug("State", "mode", snap.Mode, "action", snap.Action, "mic", snap.MicArmed)
	for _, o := range m.observers {
		o(snap)
	}
}

func audioInfo(s *audio.Session) *AudioInfo {
	return &AudioInfo{ID: s.ID, Source: s.Source, Label: s.Label}
}
