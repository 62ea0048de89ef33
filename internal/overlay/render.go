package overlay

import (
	"fmt"
	"strings"
)

var modeGlyphs = map[string]string{
	"idle":       "·",
	"listening":  "◉",
	"processing": "…",
	"speaking":   "♪",
	"singing":    "♫",
}

// Render formats a view as the few lines a terminal display shows.
func Render(v View) string {
	var b strings.Builder

	glyph, ok := modeGlyphs[v.Mode]
	if !ok {
		glyph = "?"
	}
	mic := "mic off"
	if v.MicArmed {
		mic = "mic on"
	}
	fmt.Fprintf(&b, "%s %-10s [%s]", glyph, strings.ToUpper(v.Mode), mic)
	if v.Audio != nil {
		fmt.Fprintf(&b, "  %s %q", v.Audio.Source, v.Audio.Label)
		if v.Audio.Duration > 0 {
			fmt.Fprintf(&b, " %.0fs", v.Audio.Duration)
		}
	}
	b.WriteByte('\n')

	if v.Transcript != "" {
		fmt.Fprintf(&b, "  you:    %s\n", v.Transcript)
	}
	if v.Response != "" {
		fmt.Fprintf(&b, "  alfred: %s\n", v.Response)
	}
	if v.Visual != nil {
		fmt.Fprintf(&b, "  ┌ %s\n", v.Visual.Title)
		if v.Visual.Description != "" {
			fmt.Fprintf(&b, "  │ %s\n", v.Visual.Description)
		}
		if v.Visual.Link != "" {
			fmt.Fprintf(&b, "  └ %s\n", v.Visual.Link)
		}
	}
	return b.String()
}
