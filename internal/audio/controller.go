package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrPlaybackBlocked means the output refused the stream: no device, or audio it cannot decode.
var ErrPlaybackBlocked = errors.New("playback blocked")

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type SongSource interface {
	Open(ctx context.Context, query string) (io.ReadCloser, error)
}

// Player renders one encoded stream. Play blocks until the stream ends or ctx
// is cancelled, and must return promptly on cancel. started, if non-nil, is
// called once audio is attached, with the decoded length (zero if unknown).
type Player interface {
	Play(ctx context.Context, stream io.ReadCloser, started func(time.Duration)) error
}

type Source int

const (
	SourceSpeech Source = iota
	SourceSong
)

func (s Source) String() string {
	if s == SourceSong {
		return "song"
	}
	return "speech"
}

func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Completion reports how a session ended. Stopped is set when the session was
// stopped or superseded; Err is set when it failed.
type Completion struct {
	ID      string
	Source  Source
	Err     error
	Stopped bool
}

// Hooks observe one session. Finished runs exactly once per session; Started
// runs when audio is attached, which a failed session never reaches.
type Hooks struct {
	Started  func(id string, length time.Duration)
	Finished func(Completion)
}

// Session is one playback.
type Session struct {
	ID        string
	Source    Source
	Label     string
	StartedAt time.Time

	duration atomic.Int64
	ctx      context.Context
	cancel   context.CancelFunc
	released chan struct{}
	hooks    Hooks
	once     sync.Once
}

func (s *Session) Duration() time.Duration {
	return time.Duration(s.duration.Load())
}

func (s *Session) complete(c Completion) {
	s.once.Do(func() {
		if s.hooks.Finished != nil {
			s.hooks.Finished(c)
		}
	})
}

// Controller owns the single audio output. Starting a session stops the
// previous one and waits until its stream is detached.
type Controller struct {
	synth         Synthesizer
	songs         SongSource
	player        Player
	fallbackDelay time.Duration

	mu      sync.Mutex
	current *Session
}

type Option func(*Controller)

// WithFallbackDelay sets how long a failed synthesis waits before completing.
func WithFallbackDelay(d time.Duration) Option {
	return func(c *Controller) { c.fallbackDelay = d }
}

func NewController(synth Synthesizer, songs SongSource, player Player, opts ...Option) *Controller {
	c := &Controller{
		synth:         synth,
		songs:         songs,
		player:        player,
		fallbackDelay: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PlaySpeech synthesizes text and plays it. When synthesis fails, the session
// completes with the error after the fallback delay.
func (c *Controller) PlaySpeech(ctx context.Context, text string, hooks Hooks) *Session {
	s := c.begin(ctx, SourceSpeech, text, hooks)
	go c.run(s, func(ctx context.Context) (io.ReadCloser, error) {
		audio, err := c.synth.Synthesize(ctx, text)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(audio)), nil
	})
	return s
}

func (c *Controller) PlaySong(ctx context.Context, query string, hooks Hooks) *Session {
	s := c.begin(ctx, SourceSong, query, hooks)
	go c.run(s, func(ctx context.Context) (io.ReadCloser, error) {
		return c.songs.Open(ctx, query)
	})
	return s
}

// Stop detaches the current session, if any. Safe to call repeatedly.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
}

func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

func (c *Controller) begin(parent context.Context, src Source, label string, hooks Hooks) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))

	s := &Session{
		ID:        uuid.NewString(),
		Source:    src,
		Label:     label,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		released:  make(chan struct{}),
		hooks:     hooks,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.current = s

	log.Debug("Audio session started", "id", s.ID, "source", src, "label", label)
	return s
}

func (c *Controller) stopLocked() {
	s := c.current
	if s == nil {
		return
	}
	c.current = nil

	s.cancel()
	<-s.released
	log.Debug("Audio session stopped", "id", s.ID, "source", s.Source)
}

func (c *Controller) run(s *Session, open func(context.Context) (io.ReadCloser, error)) {
	ctx, span := tracer.Start(s.ctx, "play "+s.Source.String())
	span.SetAttributes(attribute.String("session.id", s.ID))

	err := c.play(ctx, s, open)
	stopped := s.ctx.Err() != nil

	if err != nil && !stopped {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	close(s.released)

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	s.cancel()

	if stopped {
		err = nil
	}
	s.complete(Completion{ID: s.ID, Source: s.Source, Err: err, Stopped: stopped})
}

func (c *Controller) play(ctx context.Context, s *Session, open func(context.Context) (io.ReadCloser, error)) error {
	stream, err := open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.Source != SourceSpeech {
			return fmt.Errorf("open %s: %w", s.Source, err)
		}

		log.Warn("Speech synthesis failed, continuing after delay", "delay", c.fallbackDelay, "err", err)
		t := time.NewTimer(c.fallbackDelay)
		defer t.Stop()

		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
		return fmt.Errorf("synthesize: %w", err)
	}

	return c.player.Play(ctx, stream, func(d time.Duration) {
		s.duration.Store(int64(d))
		log.Debug("Audio attached", "id", s.ID, "duration", d)
		if s.hooks.Started != nil {
			s.hooks.Started(s.ID, d)
		}
	})
}
