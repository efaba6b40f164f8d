// Package audio wraps the local capture and playback devices and a few PCM
// helpers. All PCM is 16-bit little-endian mono.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the microphone rate expected by the transcriber.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate produced by the synthesizers.
	PlaybackSampleRate = 48000
)

// RMS returns the root-mean-square energy of a PCM16LE buffer. Large buffers
// are sampled sparsely to keep the scan cheap.
func RMS(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	step := 1
	if len(pcm) > 3200 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sumSquares / float64(count))
}

// Duration returns the playback length of a PCM16LE mono buffer.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
