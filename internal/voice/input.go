package voice

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/mio/internal/audio"
)

// Microphone delivers PCM16LE mono frames between Start and Stop.
type Microphone interface {
	Start() (<-chan []byte, error)
	Stop() error
	SampleRate() int
}

// Transcriber converts one recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// ListenOptions bounds one capture. Timeout is how long to wait for speech to
// start, PhraseLimit caps the recorded phrase, Ambient is the calibration
// window measured before listening.
type ListenOptions struct {
	Timeout     time.Duration
	PhraseLimit time.Duration
	Ambient     time.Duration
}

// Input records single utterances from an exclusive microphone.
type Input struct {
	mic         Microphone
	transcriber Transcriber

	// MinThreshold is the lowest RMS accepted as speech.
	MinThreshold float64
	// EnergyRatio scales the ambient level into the speech threshold.
	EnergyRatio float64
	// Pause is the trailing silence that ends a phrase.
	Pause time.Duration
	// PreRoll keeps audio from just before speech was detected.
	PreRoll time.Duration
	// StallTimeout fails the capture when the device stops delivering frames.
	StallTimeout time.Duration

	busy sync.Mutex
}

// NewInput creates an Input with endpointing defaults close to common desktop
// speech recognizers.
func NewInput(mic Microphone, transcriber Transcriber) *Input {
	return &Input{
		mic:          mic,
		transcriber:  transcriber,
		MinThreshold: 300,
		EnergyRatio:  1.5,
		Pause:        800 * time.Millisecond,
		PreRoll:      300 * time.Millisecond,
		StallTimeout: 2 * time.Second,
	}
}

// CaptureOnce records one phrase and transcribes it.
func (in *Input) CaptureOnce(ctx context.Context, opts ListenOptions) (string, error) {
	pcm, err := in.Record(ctx, opts)
	if err != nil {
		return "", err
	}
	return in.Transcribe(ctx, pcm)
}

// Record calibrates against ambient noise, waits for speech and returns the
// phrase audio. Only one Record runs at a time; a concurrent call fails with
// ErrDevice instead of sharing the device.
func (in *Input) Record(ctx context.Context, opts ListenOptions) ([]byte, error) {
	if !in.busy.TryLock() {
		return nil, fmt.Errorf("%w: microphone busy", ErrDevice)
	}
	defer in.busy.Unlock()

	frames, err := in.mic.Start()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDevice, err)
	}
	defer func() {
		if err := in.mic.Stop(); err != nil {
			log.Printf("mic stop error: %v", err)
		}
	}()

	r := &recorder{ctx: ctx, frames: frames, rate: in.mic.SampleRate(), stall: in.StallTimeout}

	threshold, err := in.calibrate(r, opts.Ambient)
	if err != nil {
		return nil, err
	}

	var (
		preroll    [][]byte
		prerollDur time.Duration
		waited     time.Duration
		first      []byte
	)
	for first == nil {
		f, err := r.next()
		if err != nil {
			return nil, err
		}
		d := audio.Duration(f, r.rate)
		if audio.RMS(f) >= threshold {
			first = f
			continue
		}
		waited += d
		if opts.Timeout > 0 && waited >= opts.Timeout {
			return nil, ErrNoSpeechDetected
		}
		preroll = append(preroll, f)
		prerollDur += d
		for len(preroll) > 1 && prerollDur-audio.Duration(preroll[0], r.rate) >= in.PreRoll {
			prerollDur -= audio.Duration(preroll[0], r.rate)
			preroll = preroll[1:]
		}
	}

	var buf []byte
	for _, f := range preroll {
		buf = append(buf, f...)
	}
	buf = append(buf, first...)
	phrase := audio.Duration(first, r.rate)
	var silence time.Duration
	for opts.PhraseLimit <= 0 || phrase < opts.PhraseLimit {
		f, err := r.next()
		if err != nil {
			if errors.Is(err, ErrDevice) && len(buf) > 0 {
				// keep what was heard when the device drops mid-phrase
				log.Printf("mic: capture ended early: %v", err)
				break
			}
			return nil, err
		}
		d := audio.Duration(f, r.rate)
		buf = append(buf, f...)
		phrase += d
		if audio.RMS(f) >= threshold {
			silence = 0
			continue
		}
		silence += d
		if silence >= in.Pause {
			break
		}
	}
	return buf, nil
}

// Transcribe converts recorded audio to text.
func (in *Input) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", ErrUnintelligible
	}
	text, err := in.transcriber.Transcribe(ctx, pcm)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrUnintelligible
	}
	return text, nil
}

func (in *Input) calibrate(r *recorder, window time.Duration) (float64, error) {
	var (
		sum     float64
		n       int
		elapsed time.Duration
	)
	for elapsed < window {
		f, err := r.next()
		if err != nil {
			return 0, err
		}
		sum += audio.RMS(f)
		n++
		elapsed += audio.Duration(f, r.rate)
	}
	threshold := in.MinThreshold
	if n > 0 {
		if adjusted := sum / float64(n) * in.EnergyRatio; adjusted > threshold {
			threshold = adjusted
		}
	}
	return threshold, nil
}

type recorder struct {
	ctx    context.Context
	frames <-chan []byte
	rate   int
	stall  time.Duration
}

func (r *recorder) next() ([]byte, error) {
	stall := time.NewTimer(r.stall)
	defer stall.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		case f, ok := <-r.frames:
			if !ok {
				return nil, fmt.Errorf("%w: capture stream closed", ErrDevice)
			}
			if len(f) < 2 {
				continue
			}
			return f, nil
		case <-stall.C:
			return nil, fmt.Errorf("%w: no audio from microphone", ErrDevice)
		}
	}
}
