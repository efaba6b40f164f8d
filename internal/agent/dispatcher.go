package agent

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/llm"
	"github.com/chadiek/mio/internal/metrics"
)

// Reply is the outcome of one submission.
type Reply struct {
	Turn conversation.Turn
	Err  error
}

type job struct {
	user  conversation.Turn
	reply chan Reply

	// announce jobs carry text for the UI and never reach the log
	announce bool
	text     string
	speak    bool
}

// Dispatcher is the single worker between user input and the completion
// service. Jobs run one at a time in submission order, so replies land in the
// log in the order their user turns were appended.
type Dispatcher struct {
	log     *conversation.Log
	llm     Completer
	out     Speaker
	notify  Notifier
	metrics *metrics.Metrics

	// Timeout bounds a single completion request.
	Timeout time.Duration

	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
}

func NewDispatcher(l *conversation.Log, c Completer, out Speaker, n Notifier, m *metrics.Metrics) *Dispatcher {
	if n == nil {
		n = nopNotifier{}
	}
	return &Dispatcher{
		log:     l,
		llm:     c,
		out:     out,
		notify:  n,
		metrics: m,
		Timeout: 30 * time.Second,
		wake:    make(chan struct{}, 1),
	}
}

// Submit appends text as a user turn right away and queues the completion.
// The returned channel receives exactly one Reply.
func (d *Dispatcher) Submit(text string) (conversation.Turn, <-chan Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conversation.Turn{}, nil, ErrEmptyMessage
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return conversation.Turn{}, nil, ErrClosed
	}
	// append and enqueue under one lock so queue order matches log order
	turn := d.log.Append(conversation.RoleUser, text)
	ch := make(chan Reply, 1)
	d.queue = append(d.queue, job{user: turn, reply: ch})
	d.mu.Unlock()

	d.notify.Notify(turnEvent(turn))
	d.signal()
	return turn, ch, nil
}

// Announce queues a notice behind any pending completions. It never touches
// the log or the completion service.
func (d *Dispatcher) Announce(text string, speak bool) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.queue = append(d.queue, job{announce: true, text: text, speak: speak})
	d.mu.Unlock()
	d.signal()
	return nil
}

// Run processes jobs until ctx is done, or until Close has been called and
// the queue is empty. Jobs still queued when ctx ends fail with ctx.Err().
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		j, ok, closed := d.next()
		if !ok {
			if closed {
				return
			}
			select {
			case <-ctx.Done():
				d.failPending(ctx.Err())
				return
			case <-d.wake:
			}
			continue
		}
		if ctx.Err() != nil {
			d.finish(j, Reply{Err: ctx.Err()})
			d.failPending(ctx.Err())
			return
		}
		d.process(ctx, j)
	}
}

// Close rejects further submissions. Queued jobs still run.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
}

func (d *Dispatcher) process(ctx context.Context, j job) {
	if j.announce {
		d.notify.Notify(noticeEvent(j.text))
		if j.speak {
			d.out.Speak(j.text)
			d.metrics.RecordUtterance()
		}
		return
	}

	cctx, cancel := context.WithTimeout(ctx, d.Timeout)
	start := time.Now()
	reply, err := d.llm.Complete(cctx, d.contextFor(j.user))
	cancel()
	reply = strings.TrimSpace(reply)
	if err == nil && reply == "" {
		err = &llm.Error{Kind: llm.KindMalformed, Err: errors.New("empty reply")}
	}
	d.metrics.RecordCompletion(outcome(err), time.Since(start))
	if err != nil {
		log.Printf("llm error: %v", err)
		d.notify.Notify(noticeEvent(DescribeError(err)))
		d.finish(j, Reply{Err: err})
		return
	}

	turn := d.log.Append(conversation.RoleAssistant, reply)
	d.notify.Notify(turnEvent(turn))
	d.out.Speak(reply)
	d.metrics.RecordUtterance()
	d.finish(j, Reply{Turn: turn})
}

// contextFor returns the log as the model should see it for user: user
// turns queued after it are left out, and user is moved last so the request
// always ends with the message being answered.
func (d *Dispatcher) contextFor(user conversation.Turn) []conversation.Turn {
	snap := d.log.Snapshot()
	out := make([]conversation.Turn, 0, len(snap))
	for _, t := range snap {
		if t.Seq == user.Seq {
			continue
		}
		if t.Role == conversation.RoleUser && t.Seq > user.Seq {
			continue
		}
		out = append(out, t)
	}
	return append(out, user)
}

func (d *Dispatcher) next() (job, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return job{}, false, d.closed
	}
	j := d.queue[0]
	d.queue = d.queue[1:]
	return j, true, false
}

func (d *Dispatcher) failPending(err error) {
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.closed = true
	d.mu.Unlock()
	for _, j := range pending {
		d.finish(j, Reply{Err: err})
	}
}

func (d *Dispatcher) finish(j job, r Reply) {
	if j.reply != nil {
		j.reply <- r
	}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := llm.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
