// Package session holds the overlay state machine. A single event loop owns
// the state; recognizer, router and audio results reach it as events.
package session

import (
	"fmt"
	"time"

	"alfred/internal/audio"
	"alfred/internal/router"
)

type Mode int

const (
	Idle Mode = iota
	Listening
	Processing
	Speaking
	Singing
)

var modeNames = [...]string{"idle", "listening", "processing", "speaking", "singing"}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Audible reports whether Alfred is producing sound in this mode.
func (m Mode) Audible() bool {
	return m == Speaking || m == Singing
}

type AudioInfo struct {
	ID       string       `json:"id"`
	Source   audio.Source `json:"source"`
	Label    string       `json:"label"`
	Duration float64      `json:"duration"`
}

// State is a snapshot of the machine, as handed to observers.
type State struct {
	Mode       Mode          `json:"mode"`
	Transcript string        `json:"transcript"`
	Response   string        `json:"response"`
	Action     router.Action `json:"action"`
	Payload    any           `json:"payload,omitempty"`
	Visual     *router.Card  `json:"visual,omitempty"`
	MicArmed   bool          `json:"mic_armed"`
	Audio      *AudioInfo    `json:"audio,omitempty"`
	Changed    time.Time     `json:"changed"`
}

// ShouldListen is the microphone policy: listen when idle, and while singing
// (where only stop phrases are acted on).
func ShouldListen(s State) bool {
	return s.Mode == Idle || s.Mode == Singing
}

func (s *State) apply(out router.Outcome) {
	s.Response = out.SpokenText
	s.Action = out.Action
	s.Payload = out.Payload
	s.Visual = out.Visual()
}

func (s State) outcome() router.Outcome {
	return router.Outcome{SpokenText: s.Response, Action: s.Action, Payload: s.Payload}
}
