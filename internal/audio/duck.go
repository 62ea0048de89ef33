package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

// mixer is the sink-input volume control. PulseAudio's pactl is the default.
type mixer interface {
	List(ctx context.Context) ([]sinkInput, error)
	SetVolume(ctx context.Context, id, percent int) error
}

// Ducker lowers every other application's stream while Alfred is audible and
// restores them afterwards. Streams whose application.name is in self are left alone.
type Ducker struct {
	mixer  mixer
	self   []string
	factor float64
	fade   time.Duration

	mu       sync.Mutex
	ducked   bool
	original map[int]int
}

func NewDucker(self []string, factor float64, fade time.Duration) *Ducker {
	return &Ducker{
		mixer:    pactl{},
		self:     append([]string(nil), self...),
		factor:   math.Max(0, math.Min(factor, 1)),
		fade:     fade,
		original: make(map[int]int),
	}
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked {
		return nil
	}

	inputs, err := d.mixer.List(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	d.original = make(map[int]int)
	var fades []fade
	for _, in := range d.others(inputs) {
		d.original[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: int(math.Round(float64(in.Volume) * d.factor))})
	}

	d.ducked = true
	return d.apply(ctx, fades)
}

func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ducked {
		return nil
	}

	inputs, err := d.mixer.List(ctx)
	if err != nil {
		return fmt.Errorf("list sink inputs: %w", err)
	}

	var fades []fade
	for _, in := range d.others(inputs) {
		// Streams that appeared while ducked were never lowered.
		if orig, ok := d.original[in.ID]; ok {
			fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
		}
	}

	d.ducked = false
	d.original = make(map[int]int)
	return d.apply(ctx, fades)
}

// Set ducks when audible and restores otherwise. Failures are logged.
func (d *Ducker) Set(ctx context.Context, audible bool) {
	var err error
	if audible {
		err = d.Duck(ctx)
	} else {
		err = d.Restore(ctx)
	}
	if err != nil {
		log.Warn("Failed to adjust other streams", "audible", audible, "err", err)
	}
}

func (d *Ducker) others(inputs []sinkInput) []sinkInput {
	var out []sinkInput
outer:
	for _, in := range inputs {
		for _, name := range d.self {
			if in.AppName == name {
				continue outer
			}
		}
		out = append(out, in)
	}
	return out
}

func (d *Ducker) apply(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := int(d.fade / minStep)
	if steps < 1 {
		steps = 1
	}

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.mixer.SetVolume(ctx, f.id, v); err != nil {
				return fmt.Errorf("set volume id=%d: %w", f.id, err)
			}
		}

		if i < steps {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.fade / time.Duration(steps)):
			}
		}
	}
	return nil
}

type pactl struct{}

func (pactl) List(ctx context.Context) ([]sinkInput, error) {
	out, err := exec.CommandContext(ctx, "pactl", "list", "sink-inputs").Output()
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (pactl) SetVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, 150))
	return exec.CommandContext(ctx, "pactl", "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)).Run()
}

func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	if len(blocks) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && in.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			}
			if rest, ok := strings.CutPrefix(line, "application.name = "); ok && in.AppName == "" {
				in.AppName = strings.Trim(rest, `"`)
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}
