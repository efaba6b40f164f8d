package tts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

const defaultDeepgramModel = "aura-2-thalia-en"

// Deepgram synthesizes speech over the Deepgram speak WebSocket.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	// IdleWindow ends a synthesis once audio has started and then stopped
	// arriving for this long.
	IdleWindow time.Duration
	// MaxDuration caps a single synthesis.
	MaxDuration time.Duration
}

func NewDeepgram(apiKey, model string) *Deepgram {
	if model == "" {
		model = defaultDeepgramModel
	}
	return &Deepgram{
		apiKey:      apiKey,
		model:       model,
		sampleRate:  48000,
		IdleWindow:  400 * time.Millisecond,
		MaxDuration: 12 * time.Second,
	}
}

// Synthesize streams linear16 PCM at 48 kHz for text. Both channels are
// closed when synthesis ends.
func (d *Deepgram) Synthesize(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)

		if d.apiKey == "" {
			close(pcmCh)
			errCh <- errors.New("deepgram: API key missing")
			return
		}
		if text == "" {
			close(pcmCh)
			return
		}

		var (
			lastRecv  atomic.Int64
			closeOnce sync.Once
			closed    atomic.Bool
		)
		closePCM := func() {
			closeOnce.Do(func() {
				closed.Store(true)
				close(pcmCh)
			})
		}

		cb := &speakCallback{onBinary: func(data []byte) error {
			if len(data) == 0 || closed.Load() {
				return nil
			}
			lastRecv.Store(time.Now().UnixNano())
			b := make([]byte, len(data))
			copy(b, data)
			select {
			case pcmCh <- b:
			case <-ctx.Done():
			}
			return nil
		}}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   "linear16",
			SampleRate: d.sampleRate,
		}
		dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			closePCM()
			errCh <- fmt.Errorf("deepgram: create ws client: %w", err)
			return
		}
		// stop the client before closing pcmCh so no callback races the close
		defer closePCM()
		defer dg.Stop()

		if ok := dg.Connect(); !ok {
			errCh <- errors.New("deepgram: connect failed")
			return
		}
		if err := dg.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram: speak text: %w", err)
			return
		}
		if err := dg.Flush(); err != nil {
			log.Printf("deepgram: flush error: %v", err)
		}

		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(d.MaxDuration)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if last := lastRecv.Load(); last != 0 && now.Sub(time.Unix(0, last)) > d.IdleWindow {
					return
				}
				if now.After(deadline) {
					log.Printf("deepgram: synthesis exceeded %s, cutting off", d.MaxDuration)
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Error(er *msginterfaces.ErrorResponse) error {
	if er != nil {
		log.Printf("deepgram: server error: %+v", er)
	}
	return nil
}
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
