// Package tts turns assistant replies into audio on the local speaker.
package tts

import (
	"context"
	"errors"
	"log"
	"strings"
)

// Synthesizer streams 48 kHz PCM16LE mono audio for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Sink plays PCM. Wait blocks until everything written has been played.
type Sink interface {
	WritePCM(pcm []byte)
	Wait(ctx context.Context) error
	Reset()
}

// Voice speaks replies sentence by sentence so playback starts before the
// whole reply is synthesized.
type Voice struct {
	synth Synthesizer
	sink  Sink
}

func NewVoice(synth Synthesizer, sink Sink) *Voice {
	return &Voice{synth: synth, sink: sink}
}

// Say synthesizes and plays text, returning once playback has finished.
// Cancelling ctx stops synthesis and discards queued audio.
func (v *Voice) Say(ctx context.Context, text string) error {
	var errs []error
	for _, chunk := range chunkReply(text) {
		if err := v.sayChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				v.sink.Reset()
				return ctx.Err()
			}
			errs = append(errs, err)
		}
	}
	if err := v.sink.Wait(ctx); err != nil {
		v.sink.Reset()
		return err
	}
	return errors.Join(errs...)
}

func (v *Voice) sayChunk(ctx context.Context, chunk string) error {
	pcmCh, errCh := v.synth.Synthesize(ctx, chunk)
	var firstErr error
	for pcmCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-pcmCh:
			if !ok {
				pcmCh = nil
				continue
			}
			if len(b) > 0 {
				v.sink.WritePCM(b)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Silent is used when no synthesizer is configured.
type Silent struct{}

func (Silent) Say(ctx context.Context, text string) error {
	log.Printf("tts disabled, not speaking: %q", text)
	return nil
}

// chunkReply splits a reply into sentence-like chunks on terminal
// punctuation and line breaks.
func chunkReply(reply string) []string {
	txt := strings.TrimSpace(reply)
	if txt == "" {
		return nil
	}
	var chunks []string
	var b strings.Builder
	flush := func() {
		if chunk := strings.TrimSpace(b.String()); chunk != "" {
			chunks = append(chunks, chunk)
		}
		b.Reset()
	}
	for _, r := range txt {
		switch r {
		case '.', '!', '?':
			b.WriteRune(r)
			flush()
		case '\n', '\r':
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return chunks
}
