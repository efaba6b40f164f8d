package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/chadiek/mio/internal/llm"
	"github.com/chadiek/mio/internal/voice"
)

var (
	// ErrCallActive is returned when a call is started while one is running.
	ErrCallActive = errors.New("a call is already running")
	// ErrClosed is returned once the session or dispatcher has shut down.
	ErrClosed = errors.New("session closed")
	// ErrEmptyMessage rejects blank submissions.
	ErrEmptyMessage = errors.New("message is empty")
)

// DescribeError renders the user-facing text for an error. It is the only
// place such text is produced.
func DescribeError(err error) string {
	var lerr *llm.Error
	switch {
	case errors.As(err, &lerr):
		switch lerr.Kind {
		case llm.KindTimeout:
			return "MIO took too long to answer. Please try again."
		case llm.KindNetwork:
			return "Couldn't reach MIO. Check your connection and try again."
		case llm.KindHTTP:
			return fmt.Sprintf("The completion service refused the request (HTTP %d).", lerr.Status)
		case llm.KindMalformed:
			return "MIO sent back something unreadable. Please try again."
		}
	case errors.Is(err, voice.ErrNoSpeechDetected):
		return "Didn't hear anything. Try again."
	case errors.Is(err, voice.ErrUnintelligible):
		return "Couldn't understand you."
	case errors.Is(err, voice.ErrTranscription):
		return "Voice error: the transcription service is unavailable."
	case errors.Is(err, voice.ErrDevice):
		return fmt.Sprintf("Voice error: %v", err)
	case errors.Is(err, ErrCallActive):
		return "A call is already running."
	case errors.Is(err, ErrClosed):
		return "MIO is shutting down."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "The request was cancelled."
	}
	return fmt.Sprintf("[error] %v", err)
}
