// Package conversation holds the ordered, append-only dialogue shared by
// every input surface of a session.
package conversation

import (
	"strings"
	"sync"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one immutable message of the dialogue. Seq is assigned by the Log
// and is the only authoritative ordering.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Seq     int    `json:"seq"`
}

// Log is an append-only sequence of turns whose first element is the persona
// system turn.
type Log struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewLog creates a log seeded with the persona system turn at sequence 0.
func NewLog(persona string) *Log {
	l := &Log{}
	l.Append(RoleSystem, strings.TrimSpace(persona))
	return l
}

// Append adds a turn and returns it with its assigned sequence number.
func (l *Log) Append(role Role, content string) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := Turn{Role: role, Content: content, Seq: len(l.turns)}
	l.turns = append(l.turns, t)
	return t
}

// Snapshot returns a copy of all turns in sequence order.
func (l *Log) Snapshot() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Len reports the number of turns.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}
