// Package intent maps recognized speech to one of a fixed set of intents.
//
// Matching is a case-insensitive substring test over ordered phrase tables:
// stop wins over sing, sing over show-card, and anything else is conversation.
package intent

import (
	"regexp"
	"strings"
)

type Kind int

const (
	Converse Kind = iota
	Stop
	Sing
	ShowCard
)

func (k Kind) String() string {
	switch k {
	case Stop:
		return "stop"
	case Sing:
		return "sing"
	case ShowCard:
		return "show_card"
	default:
		return "converse"
	}
}

// RandomSong is the query used when a sing request names no song.
const RandomSong = "random"

const (
	CardProject = "project"
	CardContact = "contact"
)

// Intent is a tagged variant; only the field matching Kind is set.
type Intent struct {
	Kind      Kind
	SongQuery string
	CardID    string
	Prompt    string
}

var stopPhrases = []string{"stop", "quiet", "shut up", "停", "别唱", "安静"}

var singPhrases = []string{"sing", "唱", "听", "放"}

var cardPhrases = []struct {
	card    string
	phrases []string
}{
	{CardProject, []string{"project", "work", "项目"}},
	{CardContact, []string{"contact", "email", "联系"}},
}

var (
	latinStripRe = regexp.MustCompile(`\b(sing|play|me|a|song|listen|to)\b`)
	cjkStripRe   = regexp.MustCompile(`给我|唱|一首|歌|我想|听|放|为我|音乐`)
	punctRe      = regexp.MustCompile(`\p{P}+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Classify never fails: text matching no rule becomes Converse with the
// original, unlowered text as prompt.
func Classify(text string) Intent {
	t := strings.ToLower(text)

	if IsStop(t) {
		return Intent{Kind: Stop}
	}

	if isSing(t) {
		return Intent{Kind: Sing, SongQuery: SongQuery(t)}
	}

	for _, c := range cardPhrases {
		if containsAny(t, c.phrases) {
			return Intent{Kind: ShowCard, CardID: c.card}
		}
	}

	return Intent{Kind: Converse, Prompt: text}
}

// IsStop reports whether text contains a stop phrase. It is the only check
// applied to speech heard while a song is playing.
func IsStop(text string) bool {
	return containsAny(strings.ToLower(text), stopPhrases)
}

// SongQuery strips punctuation and command words from text and returns what
// remains, or RandomSong when nothing does.
func SongQuery(text string) string {
	q := strings.ToLower(text)
	q = punctRe.ReplaceAllString(q, " ")
	q = latinStripRe.ReplaceAllString(q, " ")
	q = cjkStripRe.ReplaceAllString(q, "")
	q = strings.TrimSpace(spaceRe.ReplaceAllString(q, " "))

	if q == "" {
		return RandomSong
	}
	return q
}

func isSing(t string) bool {
	if containsAny(t, singPhrases) {
		return true
	}
	return strings.Contains(t, "play") && strings.Contains(t, "song")
}

func containsAny(t string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}
