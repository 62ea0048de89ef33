package audio

import (
	"context"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

// CaptureRate is the sample rate the recorder delivers, as whisper expects.
const CaptureRate = 16000

type VAD struct {
	Threshold float64       // frame RMS above which the frame counts as voice
	Silence   time.Duration // trailing silence that ends an utterance
	MaxLength time.Duration
}

var DefaultVAD = VAD{
	Threshold: 0.015,
	Silence:   600 * time.Millisecond,
	MaxLength: 10 * time.Second,
}

type Recorder struct {
	vad VAD
}

func NewRecorder(vad VAD) *Recorder { return &Recorder{vad: vad} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordUtterance captures mono 16 kHz audio from the default input until a
// voiced segment is followed by enough silence, MaxLength is reached, or ctx is
// cancelled. Silence before the first voiced frame is not kept, and waiting for
// it does not count against MaxLength.
func (r *Recorder) RecordUtterance(ctx context.Context) ([]float32, error) {
	const frameSize = CaptureRate / 50 // 20ms

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, CaptureRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	seg := newSegmenter(r.vad, frameSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		if seg.push(buf) {
			return seg.out, nil
		}
	}
}

// segmenter holds the voice-activity bookkeeping, kept apart from the device
// so it can be fed recorded frames.
type segmenter struct {
	vad           VAD
	frame         time.Duration
	out           []float32
	speaking      bool
	silenceFrames int
	keptFrames    int
}

func newSegmenter(vad VAD, frameSize int) *segmenter {
	return &segmenter{
		vad:   vad,
		frame: time.Duration(frameSize) * time.Second / CaptureRate,
		out:   make([]float32, 0, CaptureRate*3),
	}
}

// push consumes one frame and reports whether the utterance is complete.
func (s *segmenter) push(frame []float32) bool {
	if frameRMS(frame) > s.vad.Threshold {
		s.speaking = true
		s.silenceFrames = 0
	} else if !s.speaking {
		return false
	} else {
		s.silenceFrames++
	}

	s.keptFrames++
	s.out = append(s.out, frame...)

	if time.Duration(s.silenceFrames)*s.frame >= s.vad.Silence {
		return true
	}
	return time.Duration(s.keptFrames)*s.frame >= s.vad.MaxLength
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
