// Package agent orchestrates MIO's conversation: one dispatcher serializing
// completion requests, the call loop and premium activation.
package agent

import (
	"context"
	"time"

	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/voice"
)

// Completer produces one assistant reply for the whole ordered log.
type Completer interface {
	Complete(ctx context.Context, turns []conversation.Turn) (string, error)
}

// Listener records and transcribes a single phrase from the microphone.
type Listener interface {
	Record(ctx context.Context, opts voice.ListenOptions) ([]byte, error)
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}

// Speaker queues text for playback. Speak never blocks; Drain waits until
// everything queued has been played.
type Speaker interface {
	Speak(text string)
	Drain(ctx context.Context) error
}

// Notifier delivers events to the UI. Implementations must not block.
type Notifier interface {
	Notify(ev Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(ev Event) { f(ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

type EventType string

const (
	EventTurn      EventType = "turn"
	EventNotice    EventType = "notice"
	EventCallState EventType = "call_state"
	EventPremium   EventType = "premium"
)

// Event is what the UI receives over the notification channel.
type Event struct {
	ID      string             `json:"id"`
	Type    EventType          `json:"type"`
	Turn    *conversation.Turn `json:"turn,omitempty"`
	Text    string             `json:"text,omitempty"`
	State   string             `json:"state,omitempty"`
	Premium *PremiumState      `json:"premium,omitempty"`
	At      time.Time          `json:"at"`
}

func turnEvent(t conversation.Turn) Event {
	return Event{Type: EventTurn, Turn: &t, At: time.Now().UTC()}
}

func noticeEvent(text string) Event {
	return Event{Type: EventNotice, Text: text, At: time.Now().UTC()}
}

// PremiumState is session scoped and activates at most once.
type PremiumState struct {
	Active         bool      `json:"active"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ActivatedAt    time.Time `json:"activated_at,omitempty"`
}
