package agent

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/chadiek/mio/internal/metrics"
	"github.com/chadiek/mio/internal/voice"
)

type CallState int

const (
	CallIdle CallState = iota
	CallListening
	CallTranscribing
	CallDispatching
	CallSpeaking
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallListening:
		return "listening"
	case CallTranscribing:
		return "transcribing"
	case CallDispatching:
		return "dispatching"
	case CallSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// CallOptions tunes the call loop.
type CallOptions struct {
	Listen voice.ListenOptions
	// Settle is the pause after speaking before listening again.
	Settle time.Duration
	// Backoff is the pause after a device or transcription error.
	Backoff time.Duration
}

// DefaultCallOptions returns the loop timing used for calls.
func DefaultCallOptions() CallOptions {
	return CallOptions{
		Listen: voice.ListenOptions{
			Timeout:     4 * time.Second,
			PhraseLimit: 8 * time.Second,
			Ambient:     300 * time.Millisecond,
		},
		Settle:  400 * time.Millisecond,
		Backoff: time.Second,
	}
}

// Call is one continuous voice conversation. Stop is cooperative: it is
// checked between steps and never interrupts a capture or a request that is
// already running.
type Call struct {
	listener   Listener
	dispatcher *Dispatcher
	out        Speaker
	notify     Notifier
	metrics    *metrics.Metrics
	opts       CallOptions

	mu    sync.Mutex
	state CallState

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func newCall(l Listener, d *Dispatcher, out Speaker, n Notifier, m *metrics.Metrics, opts CallOptions) *Call {
	return &Call{
		listener:   l,
		dispatcher: d,
		out:        out,
		notify:     n,
		metrics:    m,
		opts:       opts,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Stop asks the loop to end at the next step boundary.
func (c *Call) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the loop has returned to Idle.
func (c *Call) Done() <-chan struct{} { return c.done }

func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) setState(s CallState) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify.Notify(Event{Type: EventCallState, State: s.String(), At: time.Now().UTC()})
	}
}

func (c *Call) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// pause waits for d unless the call is stopped first.
func (c *Call) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.stop:
	case <-ctx.Done():
	}
}

func (c *Call) run(ctx context.Context) {
	c.metrics.RecordCallStart()
	c.notify.Notify(noticeEvent("Call started. Speak whenever, MIO will reply aloud."))
	defer func() {
		c.setState(CallIdle)
		c.metrics.RecordCallEnd()
		c.notify.Notify(noticeEvent("Call ended."))
		close(c.done)
	}()

	for !c.stopped() && ctx.Err() == nil {
		c.iterate(ctx)
	}
}

func (c *Call) iterate(ctx context.Context) {
	c.setState(CallListening)
	pcm, err := c.listener.Record(ctx, c.opts.Listen)
	if c.stopped() || ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, voice.ErrNoSpeechDetected) {
			c.metrics.RecordCallIteration("no_speech")
			return
		}
		c.fail(ctx, err)
		return
	}

	c.setState(CallTranscribing)
	text, err := c.listener.Transcribe(ctx, pcm)
	if c.stopped() || ctx.Err() != nil {
		return
	}
	if err != nil {
		if errors.Is(err, voice.ErrUnintelligible) {
			c.metrics.RecordCallIteration("unintelligible")
			return
		}
		c.fail(ctx, err)
		return
	}

	c.setState(CallDispatching)
	_, replies, err := c.dispatcher.Submit(text)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	var reply Reply
	select {
	case reply = <-replies:
	case <-ctx.Done():
		return
	}
	if reply.Err != nil {
		// the dispatcher already surfaced the error
		c.metrics.RecordCallIteration("dispatch_error")
		return
	}
	c.metrics.RecordCallIteration("reply")
	if c.stopped() {
		return
	}

	c.setState(CallSpeaking)
	if err := c.out.Drain(ctx); err != nil {
		return
	}
	c.pause(ctx, c.opts.Settle)
}

func (c *Call) fail(ctx context.Context, err error) {
	log.Printf("call error: %v", err)
	c.metrics.RecordCallIteration("error")
	c.notify.Notify(noticeEvent(DescribeError(err)))
	if errors.Is(err, ErrClosed) {
		c.Stop()
		return
	}
	c.pause(ctx, c.opts.Backoff)
}
