package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/metrics"
	"github.com/chadiek/mio/internal/subscription"
)

// signalPrefix marks an approval signal from the payment widget.
const signalPrefix = "sub:"

// PremiumPrompt is appended to the log once premium activates.
const PremiumPrompt = "The user is a premium subscriber. Use a warmer, slightly more intimate tone."

// OnboardingLines are announced after activation; only the first is spoken.
var OnboardingLines = []string{
	"💖 Oh, thank you! You're officially a premium human now. I'm so excited.",
	"I'll keep your secret safe. ✨",
	"If you'd like, I can enable extra features now. Say 'show me premium' or just keep chatting. 💬",
}

// Announcer queues turn-free notices.
type Announcer interface {
	Announce(text string, speak bool) error
}

// Watcher turns a payment approval into premium state exactly once.
type Watcher struct {
	log      *conversation.Log
	store    subscription.Saver
	announce Announcer
	notify   Notifier
	metrics  *metrics.Metrics

	// Delay before onboarding line i is BaseDelay + i*Step.
	BaseDelay time.Duration
	Step      time.Duration
	now       func() time.Time

	mu         sync.Mutex
	state      PremiumState
	onboarding chan struct{}
}

func NewWatcher(l *conversation.Log, store subscription.Saver, a Announcer, n Notifier, m *metrics.Metrics) *Watcher {
	if n == nil {
		n = nopNotifier{}
	}
	return &Watcher{
		log:       l,
		store:     store,
		announce:  a,
		notify:    n,
		metrics:   m,
		BaseDelay: 700 * time.Millisecond,
		Step:      300 * time.Millisecond,
		now:       time.Now,
	}
}

// HandleSignal accepts the widget's "sub:<id>" value. Anything else is
// ignored.
func (w *Watcher) HandleSignal(ctx context.Context, value string) bool {
	id, ok := strings.CutPrefix(strings.TrimSpace(value), signalPrefix)
	id = strings.TrimSpace(id)
	if !ok || id == "" {
		return false
	}
	return w.OnApprovalEvent(ctx, id)
}

// OnApprovalEvent activates premium for id. It reports whether this call did
// the activation; later calls are no-ops. ctx bounds the onboarding sequence.
func (w *Watcher) OnApprovalEvent(ctx context.Context, id string) bool {
	w.mu.Lock()
	if w.state.Active {
		w.mu.Unlock()
		log.Printf("subscription: already premium, ignoring approval for %s", id)
		return false
	}
	now := w.now().UTC()
	w.state = PremiumState{Active: true, SubscriptionID: id, ActivatedAt: now}
	state := w.state
	done := make(chan struct{})
	w.onboarding = done
	w.mu.Unlock()

	if w.store != nil {
		if err := w.store.Save(ctx, subscription.NewRecord(id, now)); err != nil {
			log.Printf("subscription: could not save record: %v", err)
		}
	}
	w.metrics.RecordPremiumActivation()

	turn := w.log.Append(conversation.RoleSystem, PremiumPrompt)
	w.notify.Notify(turnEvent(turn))
	w.notify.Notify(Event{Type: EventPremium, Premium: &state, At: now})

	go w.onboard(ctx, id, done)
	return true
}

// State returns the current premium state.
func (w *Watcher) State() PremiumState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnboardingDone is closed when the onboarding sequence has finished. It is
// nil before activation.
func (w *Watcher) OnboardingDone() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.onboarding
}

func (w *Watcher) onboard(ctx context.Context, id string, done chan struct{}) {
	defer close(done)
	for i, line := range OnboardingLines {
		t := time.NewTimer(w.BaseDelay + time.Duration(i)*w.Step)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if err := w.announce.Announce(line, i == 0); err != nil {
			log.Printf("subscription: onboarding stopped: %v", err)
			return
		}
	}
	summary := fmt.Sprintf("Thanks for subscribing. Subscription id: %s. MIO's premium features are active.", id)
	if err := w.announce.Announce(summary, false); err != nil {
		log.Printf("subscription: onboarding stopped: %v", err)
	}
}
