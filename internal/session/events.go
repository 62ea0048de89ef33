package session

import (
	"time"

	"alfred/internal/audio"
	"alfred/internal/router"
)

type event interface {
	isEvent()
}

type utterance struct {
	text string
	at   time.Time
}

type resolved struct {
	cycle   uint64
	outcome router.Outcome
}

type audioStarted struct {
	id     string
	length time.Duration
}

type audioFinished struct {
	audio.Completion
}

type stopRequested struct{}

type greetRequested struct{}

type visualClosed struct{}

func (utterance) isEvent()      {}
func (resolved) isEvent()       {}
func (audioStarted) isEvent()   {}
func (audioFinished) isEvent()  {}
func (stopRequested) isEvent()  {}
func (greetRequested) isEvent() {}
func (visualClosed) isEvent()   {}
