package audio

import (
	"encoding/binary"
	"testing"
	"time"
)

func constantPCM(samples int, v int16) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(v))
	}
	return out
}

func TestRMS_ConstantSignal(t *testing.T) {
	if got := RMS(constantPCM(160, 3000)); got < 2999 || got > 3001 {
		t.Fatalf("expected ~3000, got %f", got)
	}
	if got := RMS(constantPCM(4000, -1200)); got < 1199 || got > 1201 {
		t.Fatalf("expected ~1200 on sparse scan, got %f", got)
	}
	if RMS(nil) != 0 || RMS([]byte{1}) != 0 {
		t.Fatalf("expected zero energy for short buffers")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration(constantPCM(1600, 0), CaptureSampleRate); d != 100*time.Millisecond {
		t.Fatalf("expected 100ms, got %v", d)
	}
	if Duration(constantPCM(10, 0), 0) != 0 {
		t.Fatalf("expected zero duration for invalid rate")
	}
}
