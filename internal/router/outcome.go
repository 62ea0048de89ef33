package router

import "fmt"

type Action int

const (
	ActionNone Action = iota
	ActionStop
	ActionSingSong
	ActionShowProject
	ActionShowContact
	ActionError
)

var actionNames = map[Action]string{
	ActionNone:        "none",
	ActionStop:        "stop_audio",
	ActionSingSong:    "sing_song",
	ActionShowProject: "show_project",
	ActionShowContact: "show_contact",
	ActionError:       "error",
}

func (a Action) String() string {
	if s, ok := actionNames[a]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", int(a))
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// SongRequest is the payload of ActionSingSong.
type SongRequest struct {
	Query string `json:"query"`
}

// Card is the payload of the show-card actions.
type Card struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	Link        string `json:"link,omitempty"`
}

// Outcome is the result of routing one utterance. Payload is a SongRequest,
// a Card, or nil.
type Outcome struct {
	SpokenText string `json:"spoken_text"`
	Action     Action `json:"action"`
	Payload    any    `json:"payload,omitempty"`
}

// Visual returns the card to display, if the action shows one.
func (o Outcome) Visual() *Card {
	if o.Action != ActionShowProject && o.Action != ActionShowContact {
		return nil
	}
	if c, ok := o.Payload.(Card); ok {
		return &c
	}
	return nil
}

// Song returns the requested song query for ActionSingSong.
func (o Outcome) Song() (string, bool) {
	if o.Action != ActionSingSong {
		return "", false
	}
	req, ok := o.Payload.(SongRequest)
	if !ok {
		return "", false
	}
	return req.Query, true
}
