package agent

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/metrics"
	"github.com/chadiek/mio/internal/subscription"
	"github.com/chadiek/mio/internal/voice"
)

// Options wires a Session. Completer, Listener and Voice are required.
type Options struct {
	Persona   string
	Completer Completer
	Listener  Listener
	Voice     voice.Speaker
	Store     subscription.Saver
	Notifier  Notifier
	Metrics   *metrics.Metrics

	// RequestTimeout bounds each completion; zero keeps the dispatcher default.
	RequestTimeout time.Duration
	Call           CallOptions
	PushToTalk     voice.ListenOptions
}

// DefaultPushToTalk is the single-shot voice message capture window.
var DefaultPushToTalk = voice.ListenOptions{
	Timeout:     5 * time.Second,
	PhraseLimit: 12 * time.Second,
	Ambient:     500 * time.Millisecond,
}

// Session owns the conversation and exposes the operations the UI calls.
type Session struct {
	log        *conversation.Log
	out        *voice.Output
	dispatcher *Dispatcher
	watcher    *Watcher
	listener   Listener
	notify     Notifier
	metrics    *metrics.Metrics
	callOpts   CallOptions
	pushOpts   voice.ListenOptions

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	call *Call
}

func New(opts Options) *Session {
	notify := opts.Notifier
	if notify == nil {
		notify = nopNotifier{}
	}
	if opts.Call == (CallOptions{}) {
		opts.Call = DefaultCallOptions()
	}
	if opts.PushToTalk == (voice.ListenOptions{}) {
		opts.PushToTalk = DefaultPushToTalk
	}

	l := conversation.NewLog(opts.Persona)
	out := voice.NewOutput(opts.Voice)
	d := NewDispatcher(l, opts.Completer, out, notify, opts.Metrics)
	if opts.RequestTimeout > 0 {
		d.Timeout = opts.RequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		log:        l,
		out:        out,
		dispatcher: d,
		watcher:    NewWatcher(l, opts.Store, d, notify, opts.Metrics),
		listener:   opts.Listener,
		notify:     notify,
		metrics:    opts.Metrics,
		callOpts:   opts.Call,
		pushOpts:   opts.PushToTalk,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run drives the dispatcher and speech output until ctx is done or Close is
// called.
func (s *Session) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, s.Close)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.out.Run(s.ctx)
	}()
	go func() {
		defer wg.Done()
		s.dispatcher.Run(s.ctx)
	}()
	wg.Wait()
}

// SendText submits a typed message.
func (s *Session) SendText(text string) (conversation.Turn, <-chan Reply, error) {
	return s.dispatcher.Submit(text)
}

// SendVoice records one push-to-talk phrase and submits its transcript.
// Failures are surfaced as a notice and returned.
func (s *Session) SendVoice(ctx context.Context) (conversation.Turn, <-chan Reply, error) {
	s.notify.Notify(noticeEvent("🎧 Listening..."))
	text, err := s.capture(ctx)
	if err != nil {
		s.metrics.RecordVoiceCapture("error")
		s.notify.Notify(noticeEvent(DescribeError(err)))
		return conversation.Turn{}, nil, err
	}
	s.metrics.RecordVoiceCapture("ok")
	return s.dispatcher.Submit(text)
}

func (s *Session) capture(ctx context.Context) (string, error) {
	pcm, err := s.listener.Record(ctx, s.pushOpts)
	if err != nil {
		return "", err
	}
	return s.listener.Transcribe(ctx, pcm)
}

// StartCall begins the call loop. Only one call runs at a time.
func (s *Session) StartCall() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return ErrClosed
	}
	if s.call != nil {
		select {
		case <-s.call.Done():
		default:
			return ErrCallActive
		}
	}
	c := newCall(s.listener, s.dispatcher, s.out, s.notify, s.metrics, s.callOpts)
	s.call = c
	go c.run(s.ctx)
	log.Printf("call started")
	return nil
}

// StopCall asks the running call to end and reports whether one was running.
// The call finishes its current step before returning to Idle.
func (s *Session) StopCall() bool {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return false
	}
	select {
	case <-c.Done():
		return false
	default:
	}
	c.Stop()
	log.Printf("call stop requested")
	return true
}

// CallState reports the live call's state, or CallIdle.
func (s *Session) CallState() CallState {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil {
		return CallIdle
	}
	return c.State()
}

// Call returns the current or most recent call, or nil.
func (s *Session) Call() *Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

// Conversation returns a copy of the log.
func (s *Session) Conversation() []conversation.Turn {
	return s.log.Snapshot()
}

func (s *Session) Premium() PremiumState {
	return s.watcher.State()
}

// HandleWidgetSignal forwards a payment widget signal to the watcher.
func (s *Session) HandleWidgetSignal(value string) bool {
	return s.watcher.HandleSignal(s.ctx, value)
}

// Watcher exposes the premium watcher.
func (s *Session) Watcher() *Watcher { return s.watcher }

// Close stops the call, rejects new input and stops the workers.
func (s *Session) Close() {
	s.StopCall()
	s.dispatcher.Close()
	s.out.Close()
	s.cancel()
}
