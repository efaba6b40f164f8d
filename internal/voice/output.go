package voice

import (
	"context"
	"log"
	"strings"
	"sync"
)

// Speaker vocalizes text and blocks until playback finishes.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Output plays utterances one at a time in submission order.
type Output struct {
	speaker Speaker

	mu      sync.Mutex
	queue   []string
	pending int           // queued plus playing
	idle    chan struct{} // closed while pending == 0
	wake    chan struct{}
	closed  bool
	stop    chan struct{}
}

func NewOutput(speaker Speaker) *Output {
	idle := make(chan struct{})
	close(idle)
	return &Output{
		speaker: speaker,
		idle:    idle,
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}
}

// Speak enqueues text and returns immediately.
func (o *Output) Speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	if o.pending == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
	o.queue = append(o.queue, text)
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Run plays queued utterances until ctx is done or Close is called.
func (o *Output) Run(ctx context.Context) {
	for {
		text, ok := o.pop()
		if !ok {
			select {
			case <-ctx.Done():
				o.Close()
				return
			case <-o.stop:
				return
			case <-o.wake:
			}
			continue
		}
		if err := o.speaker.Say(ctx, text); err != nil && ctx.Err() == nil {
			log.Printf("tts error: %v", err)
		}
		o.done()
	}
}

// Drain blocks until nothing is queued or playing.
func (o *Output) Drain(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drops queued utterances and stops the worker after the current one.
func (o *Output) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.stop)
	o.queue = nil
	if o.pending > 0 {
		o.pending = 0
		close(o.idle)
	}
}

func (o *Output) pop() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || len(o.queue) == 0 {
		return "", false
	}
	text := o.queue[0]
	o.queue = o.queue[1:]
	return text, true
}

func (o *Output) done() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.pending == 0 {
		return
	}
	o.pending--
	if o.pending == 0 {
		close(o.idle)
	}
}
