package agent

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/subscription"
	"github.com/chadiek/mio/internal/voice"
)

// fakeCompleter answers "re: <last user message>" unless fn is set.
type fakeCompleter struct {
	mu       sync.Mutex
	calls    [][]conversation.Turn
	fn       func(turns []conversation.Turn) (string, error)
	started  chan struct{}
	gate     chan struct{}
	inFlight int32
	maxSeen  int32
}

func (f *fakeCompleter) Complete(ctx context.Context, turns []conversation.Turn) (string, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		m := atomic.LoadInt32(&f.maxSeen)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxSeen, m, n) {
			break
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, turns)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fn != nil {
		return f.fn(turns)
	}
	return "re: " + turns[len(turns)-1].Content, nil
}

func (f *fakeCompleter) requests() [][]conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]conversation.Turn(nil), f.calls...)
}

type fakeSpeaker struct {
	mu   sync.Mutex
	said []string
}

func (s *fakeSpeaker) Speak(text string) {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
}

func (s *fakeSpeaker) Drain(ctx context.Context) error { return ctx.Err() }

func (s *fakeSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.said...)
}

// fakeVoice satisfies voice.Speaker for Session tests.
type fakeVoice struct{ fakeSpeaker }

func (v *fakeVoice) Say(ctx context.Context, text string) error {
	v.Speak(text)
	return nil
}

type events struct {
	mu  sync.Mutex
	all []Event
}

func (e *events) Notify(ev Event) {
	e.mu.Lock()
	e.all = append(e.all, ev)
	e.mu.Unlock()
}

func (e *events) notices() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []string
	for _, ev := range e.all {
		if ev.Type == EventNotice {
			out = append(out, ev.Text)
		}
	}
	return out
}

func (e *events) ofType(t EventType) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Event
	for _, ev := range e.all {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type captureResult struct {
	pcm  []byte
	text string
	rerr error
	terr error
}

// fakeListener replays results; once exhausted it reports no speech after a
// short wait. When hold is set each Record waits for a release first.
type fakeListener struct {
	mu       sync.Mutex
	script   []captureResult
	records  int32
	recorded chan struct{}
	hold     chan struct{}
	current  captureResult
}

func (l *fakeListener) Record(ctx context.Context, opts voice.ListenOptions) ([]byte, error) {
	atomic.AddInt32(&l.records, 1)
	if l.recorded != nil {
		select {
		case l.recorded <- struct{}{}:
		default:
		}
	}
	if l.hold != nil {
		select {
		case <-l.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	l.mu.Lock()
	if len(l.script) == 0 {
		l.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return nil, voice.ErrNoSpeechDetected
	}
	l.current = l.script[0]
	l.script = l.script[1:]
	r := l.current
	l.mu.Unlock()
	return r.pcm, r.rerr
}

func (l *fakeListener) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	l.mu.Lock()
	r := l.current
	l.mu.Unlock()
	return strings.TrimSpace(r.text), r.terr
}

func (l *fakeListener) recordCount() int { return int(atomic.LoadInt32(&l.records)) }

type memStore struct {
	mu    sync.Mutex
	saved []subscription.Record
	err   error
}

func (m *memStore) Save(ctx context.Context, rec subscription.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, rec)
	return nil
}

type announcement struct {
	text  string
	speak bool
}

type fakeAnnouncer struct {
	mu  sync.Mutex
	got []announcement
}

func (a *fakeAnnouncer) Announce(text string, speak bool) error {
	a.mu.Lock()
	a.got = append(a.got, announcement{text, speak})
	a.mu.Unlock()
	return nil
}

func (a *fakeAnnouncer) all() []announcement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]announcement(nil), a.got...)
}

func waitReply(ch <-chan Reply) Reply {
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		return Reply{Err: context.DeadlineExceeded}
	}
}
