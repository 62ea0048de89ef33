package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/vorbis"
	"github.com/faiface/beep/wav"
)

type Format int

const (
	FormatUnknown Format = iota
	FormatMP3
	FormatWAV
	FormatVorbis
)

// DetectFormat sniffs the container from the first bytes of a stream.
func DetectFormat(magic []byte) Format {
	switch {
	case bytes.HasPrefix(magic, []byte("ID3")):
		return FormatMP3
	case bytes.HasPrefix(magic, []byte("RIFF")):
		return FormatWAV
	case bytes.HasPrefix(magic, []byte("OggS")):
		return FormatVorbis
	case len(magic) >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// Speaker plays streams on the default output device through beep. The device
// is opened on first use at a fixed rate; other rates are resampled.
type Speaker struct {
	rate beep.SampleRate

	initOnce sync.Once
	initErr  error
}

func NewSpeaker(sampleRate int) *Speaker {
	return &Speaker{rate: beep.SampleRate(sampleRate)}
}

func (s *Speaker) init() error {
	s.initOnce.Do(func() {
		s.initErr = speaker.Init(s.rate, s.rate.N(time.Second/10))
	})
	return s.initErr
}

func (s *Speaker) Play(ctx context.Context, stream io.ReadCloser, started func(time.Duration)) error {
	streamer, format, err := decode(stream)
	if err != nil {
		stream.Close()
		return fmt.Errorf("%w: %w", ErrPlaybackBlocked, err)
	}
	defer streamer.Close()

	if err := s.init(); err != nil {
		return fmt.Errorf("%w: init speaker: %w", ErrPlaybackBlocked, err)
	}

	var src beep.Streamer = streamer
	if format.SampleRate != s.rate {
		src = beep.Resample(4, format.SampleRate, s.rate, streamer)
	}

	var length time.Duration
	if n := streamer.Len(); n > 0 {
		length = format.SampleRate.D(n)
	}

	done := make(chan struct{})
	ctrl := &beep.Ctrl{Streamer: beep.Seq(src, beep.Callback(func() {
		close(done)
	}))}

	speaker.Play(ctrl)
	if started != nil {
		started(length)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Lock()
		ctrl.Streamer = nil
		speaker.Unlock()
		return ctx.Err()
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

func decode(stream io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
	br := bufio.NewReader(stream)
	magic, _ := br.Peek(4)
	rc := readCloser{Reader: br, Closer: stream}

	switch DetectFormat(magic) {
	case FormatMP3:
		return mp3.Decode(rc)
	case FormatWAV:
		return wav.Decode(rc)
	case FormatVorbis:
		return vorbis.Decode(rc)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format %q", magic)
	}
}
