package voice

import (
	"context"
	"encoding/binary"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 16000

// frame returns 20ms of constant-amplitude PCM at testRate.
func frame(amp int16) []byte {
	const samples = testRate / 50
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(amp))
	}
	return out
}

func frames(n int, amp int16) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame(amp)
	}
	return out
}

type fakeMic struct {
	script  [][]byte
	startErr error
	started chan struct{}
	starts  int32
	stops   int32
}

func (m *fakeMic) Start() (<-chan []byte, error) {
	atomic.AddInt32(&m.starts, 1)
	if m.started != nil {
		close(m.started)
	}
	if m.startErr != nil {
		return nil, m.startErr
	}
	ch := make(chan []byte, len(m.script))
	for _, f := range m.script {
		ch <- f
	}
	return ch, nil
}

func (m *fakeMic) Stop() error     { atomic.AddInt32(&m.stops, 1); return nil }
func (m *fakeMic) SampleRate() int { return testRate }

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	f.got = pcm
	return f.text, f.err
}

func newTestInput(mic Microphone, tr Transcriber) *Input {
	in := NewInput(mic, tr)
	in.StallTimeout = 100 * time.Millisecond
	return in
}

var listen = ListenOptions{Timeout: 500 * time.Millisecond, PhraseLimit: 2 * time.Second, Ambient: 100 * time.Millisecond}

func TestRecord_CapturesPhraseUntilPause(t *testing.T) {
	var script [][]byte
	script = append(script, frames(5, 50)...)    // ambient 100ms
	script = append(script, frames(5, 50)...)    // quiet before speech
	script = append(script, frames(10, 4000)...) // 200ms speech
	script = append(script, frames(50, 50)...)   // 1s trailing silence
	mic := &fakeMic{script: script}
	in := newTestInput(mic, &fakeTranscriber{})

	pcm, err := in.Record(context.Background(), listen)
	require.NoError(t, err)

	// pre-roll (5 quiet frames) + 10 speech frames + 40 frames of pause
	assert.Equal(t, (5+10+40)*len(frame(0)), len(pcm))
	assert.EqualValues(t, 1, atomic.LoadInt32(&mic.stops))
}

func TestRecord_StopsAtPhraseLimit(t *testing.T) {
	var script [][]byte
	script = append(script, frames(5, 50)...)
	script = append(script, frames(200, 4000)...)
	in := newTestInput(&fakeMic{script: script}, &fakeTranscriber{})

	opts := listen
	opts.PhraseLimit = 400 * time.Millisecond
	pcm, err := in.Record(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 20*len(frame(0)), len(pcm))
}

func TestCaptureOnce_NoSpeechTimesOut(t *testing.T) {
	tr := &fakeTranscriber{text: "never"}
	in := newTestInput(&fakeMic{script: frames(100, 50)}, tr)

	_, err := in.CaptureOnce(context.Background(), listen)
	assert.ErrorIs(t, err, ErrNoSpeechDetected)
	assert.Nil(t, tr.got, "transcriber must not run without speech")
}

func TestCaptureOnce_Unintelligible(t *testing.T) {
	var script [][]byte
	script = append(script, frames(5, 50)...)
	script = append(script, frames(5, 4000)...)
	script = append(script, frames(50, 50)...)
	in := newTestInput(&fakeMic{script: script}, &fakeTranscriber{text: "   "})

	_, err := in.CaptureOnce(context.Background(), listen)
	assert.ErrorIs(t, err, ErrUnintelligible)
}

func TestCaptureOnce_ReturnsTranscript(t *testing.T) {
	var script [][]byte
	script = append(script, frames(5, 50)...)
	script = append(script, frames(5, 4000)...)
	script = append(script, frames(50, 50)...)
	tr := &fakeTranscriber{text: " hello mio "}
	in := newTestInput(&fakeMic{script: script}, tr)

	text, err := in.CaptureOnce(context.Background(), listen)
	require.NoError(t, err)
	assert.Equal(t, "hello mio", text)
	assert.NotEmpty(t, tr.got)
}

func TestCaptureOnce_TranscriberFailure(t *testing.T) {
	var script [][]byte
	script = append(script, frames(5, 50)...)
	script = append(script, frames(5, 4000)...)
	script = append(script, frames(50, 50)...)
	in := newTestInput(&fakeMic{script: script}, &fakeTranscriber{err: errors.New("ws closed")})

	_, err := in.CaptureOnce(context.Background(), listen)
	assert.ErrorIs(t, err, ErrTranscription)
}

func TestRecord_DeviceErrors(t *testing.T) {
	in := newTestInput(&fakeMic{startErr: errors.New("no device")}, &fakeTranscriber{})
	_, err := in.Record(context.Background(), listen)
	assert.ErrorIs(t, err, ErrDevice)

	// stalled stream: no frames at all
	in = newTestInput(&fakeMic{}, &fakeTranscriber{})
	_, err = in.Record(context.Background(), listen)
	assert.ErrorIs(t, err, ErrDevice)
}

func TestRecord_MicrophoneIsExclusive(t *testing.T) {
	mic := &fakeMic{started: make(chan struct{})}
	in := newTestInput(mic, &fakeTranscriber{})
	in.StallTimeout = time.Second

	errc := make(chan error, 1)
	go func() {
		_, err := in.Record(context.Background(), listen)
		errc <- err
	}()
	<-mic.started

	_, err := in.Record(context.Background(), listen)
	assert.ErrorIs(t, err, ErrDevice)
	assert.EqualValues(t, 1, atomic.LoadInt32(&mic.starts), "second capture must not touch the device")

	assert.ErrorIs(t, <-errc, ErrDevice)
}
