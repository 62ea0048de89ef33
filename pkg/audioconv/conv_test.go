package audioconv_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alfred/pkg/audioconv"
)

func TestMono(t *testing.T) {
	t.Parallel()

	in := []float32{1, 0, 0.5, 0.5, -1, 1}
	assert.Equal(t, []float32{0.5, 0.5, 0}, audioconv.Mono(in, 2))
	assert.Equal(t, in, audioconv.Mono(in, 1))
}

func TestResample(t *testing.T) {
	t.Parallel()

	in := []float32{0, 1, 0, -1}
	assert.Equal(t, in, audioconv.Resample(in, 16000, 16000))

	up := audioconv.Resample(in, 8000, 16000)
	require.Len(t, up, 8)
	assert.InDelta(t, 0.5, up[1], 1e-6)
	assert.InDelta(t, -1, up[7], 1e-6)

	down := audioconv.Resample(make([]float32, 48000), 48000, 16000)
	assert.Len(t, down, 16000)

	assert.Empty(t, audioconv.Resample(nil, 8000, 16000))
}

func TestLoadWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stereo.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	const frames = 3200 // 0.1s at 32 kHz
	data := make([]int, frames*2)
	for i := range frames {
		data[2*i] = 16384
		data[2*i+1] = 0
	}
	enc := wav.NewEncoder(f, 32000, 16, 2, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 32000},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	pcm, err := audioconv.Load(path, 0)
	require.NoError(t, err)
	assert.Len(t, pcm, frames/2)
	assert.InDelta(t, 0.25, pcm[10], 1e-3)

	pcm, err = audioconv.Load(path, 100)
	require.NoError(t, err)
	assert.Len(t, pcm, 100)
}

func TestDecodeUnsupported(t *testing.T) {
	t.Parallel()

	_, err := audioconv.Decode(bytes.NewReader([]byte("not audio at all")))
	assert.ErrorIs(t, err, audioconv.ErrUnsupported)

	_, err = audioconv.Decode(bytes.NewReader(nil))
	assert.ErrorIs(t, err, audioconv.ErrUnsupported)
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()

	_, err := audioconv.Load(filepath.Join(t.TempDir(), "nope.wav"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
