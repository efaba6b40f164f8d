package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDeepgram_NoKeyFailsFast(t *testing.T) {
	d := NewDeepgram("", "")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	pcmCh, errCh := d.Synthesize(ctx, "hello")
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected error when api key missing")
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatalf("timeout waiting for error")
	}
	if _, ok := <-pcmCh; ok {
		t.Fatalf("expected pcm channel to be closed")
	}
}

func TestElevenLabs_StreamsBody(t *testing.T) {
	var gotPath, gotKey, gotFormat, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		var body struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotText = body.Text
		_, _ = w.Write(make([]byte, 9000))
	}))
	defer srv.Close()

	e := NewElevenLabs("k", "voice-1")
	e.BaseURL = srv.URL
	pcmCh, errCh := e.Synthesize(context.Background(), "Hi there.")
	total := 0
	for b := range pcmCh {
		total += len(b)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 9000 {
		t.Fatalf("expected 9000 bytes, got %d", total)
	}
	if gotPath != "/v1/text-to-speech/voice-1/stream" || gotKey != "k" || gotFormat != "pcm_48000" || gotText != "Hi there." {
		t.Fatalf("unexpected request path=%s key=%s format=%s text=%s", gotPath, gotKey, gotFormat, gotText)
	}
}

func TestElevenLabs_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusPaymentRequired)
	}))
	defer srv.Close()

	e := NewElevenLabs("k", "v")
	e.BaseURL = srv.URL
	pcmCh, errCh := e.Synthesize(context.Background(), "hello")
	for range pcmCh {
	}
	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "status=402") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestElevenLabs_MissingCredentials(t *testing.T) {
	pcmCh, errCh := NewElevenLabs("", "").Synthesize(context.Background(), "hello")
	for range pcmCh {
	}
	if err := <-errCh; err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}
