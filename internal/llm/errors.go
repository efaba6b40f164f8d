package llm

import (
	"errors"
	"fmt"
)

// Kind classifies a completion failure.
type Kind int

const (
	KindNetwork Kind = iota + 1
	KindTimeout
	KindHTTP
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindHTTP:
		return "http"
	case KindMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Complete for every failed request.
type Error struct {
	Kind   Kind
	Status int // set for KindHTTP
	Err    error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("completion %s error: status=%d: %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("completion %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 when err is not a completion error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
