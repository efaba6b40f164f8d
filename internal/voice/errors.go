// Package voice turns the microphone into one-shot transcripts and
// serializes spoken output.
package voice

import "errors"

var (
	// ErrNoSpeechDetected is returned when nothing louder than the ambient
	// level was heard before the listen timeout.
	ErrNoSpeechDetected = errors.New("no speech detected")
	// ErrUnintelligible is returned when audio was captured but produced no
	// transcript.
	ErrUnintelligible = errors.New("speech was unintelligible")
	// ErrDevice covers a busy, missing or failing microphone.
	ErrDevice = errors.New("microphone error")
	// ErrTranscription is returned when the transcription service failed.
	ErrTranscription = errors.New("transcription failed")
)
