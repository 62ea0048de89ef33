package session

import (
	log "log/slog"
	"sync"
	"time"
)

// Recognizer is the speech recognition engine's control surface.
type Recognizer interface {
	Start() error
	Stop() error
}

// Gate starts and stops the recognizer as the machine's microphone policy
// changes. Stopping is immediate; starting waits for the debounce delay so
// the tail of Alfred's own voice is not captured.
type Gate struct {
	rec      Recognizer
	debounce time.Duration

	mu     sync.Mutex
	gen    uint64
	active bool
	timer  *time.Timer
}

func NewGate(rec Recognizer, debounce time.Duration) *Gate {
	return &Gate{rec: rec, debounce: debounce}
}

func (g *Gate) Update(listen bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}

	if !listen {
		g.stopLocked()
		return
	}
	if g.active {
		return
	}

	gen := g.gen
	g.timer = time.AfterFunc(g.debounce, func() {
		g.mu.Lock()
		defer g.mu.Unlock()

		if gen != g.gen || g.active {
			return
		}
		g.timer = nil

		if err := g.rec.Start(); err != nil {
			log.Error("Failed to start recognizer", "err", err)
			return
		}
		g.active = true
		log.Debug("Microphone armed")
	})
}

func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.active
}

// Close cancels a pending start and stops the recognizer.
func (g *Gate) Close() {
	g.Update(false)
}

func (g *Gate) stopLocked() {
	if !g.active {
		return
	}
	g.active = false

	if err := g.rec.Stop(); err != nil {
		log.Warn("Failed to stop recognizer", "err", err)
	}
	log.Debug("Microphone disarmed")
}
