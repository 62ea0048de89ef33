// Package listen turns microphone audio into utterances: record a voiced
// segment, transcribe it, hand the text on.
package listen

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"alfred/pkg/audioconv"
)

// maxFileSamples bounds hear-file input to 30 seconds.
const maxFileSamples = 30 * audioconv.TargetRate

type Capturer interface {
	RecordUtterance(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, pcm16k []float32) (string, error)
}

// Listener runs the capture loop between Start and Stop. Each non-empty
// transcript is passed to sink.
type Listener struct {
	parent  context.Context
	capture Capturer
	stt     Transcriber
	sink    func(string)
	retry   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(ctx context.Context, capture Capturer, stt Transcriber, sink func(string)) *Listener {
	return &Listener{
		parent:  ctx,
		capture: capture,
		stt:     stt,
		sink:    sink,
		retry:   time.Second,
	}
}

func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return nil
	}
	if err := l.parent.Err(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(l.parent)
	prev, done := l.done, make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		// A stopped loop may still be inside a transcription.
		if prev != nil {
			<-prev
		}
		l.loop(ctx)
	}()
	return nil
}

// Stop cancels the capture in progress without waiting for it.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	return nil
}

// Wait blocks until the most recent loop has exited.
func (l *Listener) Wait() {
	l.mu.Lock()
	done := l.done
	l.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (l *Listener) loop(ctx context.Context) {
	log.Debug("Listening")
	defer log.Debug("Stopped listening")

	for ctx.Err() == nil {
		pcm, err := l.capture.RecordUtterance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("Failed to record", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.retry):
			}
			continue
		}

		text, err := l.stt.Transcribe(ctx, pcm)
		if err != nil {
			log.Warn("Failed to transcribe", "err", err, "samples", len(pcm))
			continue
		}
		if text == "" || ctx.Err() != nil {
			continue
		}

		log.Debug("Transcribed", "text", text)
		l.sink(text)
	}
}

// TranscribeFile decodes an audio file and transcribes it.
func (l *Listener) TranscribeFile(ctx context.Context, path string) (string, error) {
	pcm, err := audioconv.Load(path, maxFileSamples)
	if err != nil {
		return "", err
	}
	text, err := l.stt.Transcribe(ctx, pcm)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", path, err)
	}
	if text == "" {
		return "", errors.New("no speech recognized")
	}
	return text, nil
}
