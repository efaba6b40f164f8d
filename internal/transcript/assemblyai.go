package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultURL is the AssemblyAI v3 streaming endpoint.
const DefaultURL = "wss://streaming.assemblyai.com/v3/ws"

// chunkDuration is the audio sent per websocket frame. AssemblyAI accepts
// 50ms to 1000ms per message.
const chunkDuration = 50 * time.Millisecond

// ErrEmptyKey is returned when no AssemblyAI API key is configured.
var ErrEmptyKey = errors.New("assemblyai: API key is empty")

// AssemblyAI transcribes recorded utterances over the streaming API, one
// short-lived session per utterance.
type AssemblyAI struct {
	apiKey string
	// URL overrides DefaultURL.
	URL        string
	SampleRate int
	Dialer     *websocket.Dialer
	// ResultTimeout bounds the wait for the final transcript after all audio
	// has been sent.
	ResultTimeout time.Duration
}

// AssemblyAI message types
type BeginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type TurnMessage struct {
	Type          string `json:"type"`
	TurnOrder     int    `json:"turn_order"`
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type TerminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// NewAssemblyAI creates a transcriber for 16 kHz PCM16LE audio.
func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{
		apiKey:        apiKey,
		URL:           DefaultURL,
		SampleRate:    16000,
		Dialer:        &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ResultTimeout: 10 * time.Second,
	}
}

// Transcribe streams pcm to AssemblyAI, terminates the session and returns
// the concatenated turn transcripts. An empty string with a nil error means
// the service heard nothing intelligible.
func (a *AssemblyAI) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if a.apiKey == "" {
		return "", ErrEmptyKey
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(a.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	base := a.URL
	if base == "" {
		base = DefaultURL
	}
	wsURL := base + "?" + params.Encode()

	headers := http.Header{}
	headers.Set("Authorization", a.apiKey)

	conn, resp, err := a.Dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connection failed with status: %d", resp.StatusCode)
		}
		return "", fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}
	defer conn.Close()

	// unblock reads and writes when the caller gives up
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	sess := newSession()
	readDone := make(chan error, 1)
	go func() { readDone <- sess.readLoop(conn) }()

	if err := a.sendAudio(conn, pcm); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", err
	}

	timer := time.NewTimer(a.ResultTimeout)
	defer timer.Stop()
	select {
	case err = <-readDone:
	case <-timer.C:
		err = fmt.Errorf("assemblyai: no termination after %s", a.ResultTimeout)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		return "", err
	}
	return sess.text(), nil
}

func (a *AssemblyAI) sendAudio(conn *websocket.Conn, pcm []byte) error {
	chunk := a.SampleRate * 2 * int(chunkDuration/time.Millisecond) / 1000
	if chunk <= 0 {
		chunk = len(pcm)
	}
	for off := 0; off < len(pcm); off += chunk {
		end := off + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[off:end]); err != nil {
			return fmt.Errorf("error sending audio data: %w", err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		return fmt.Errorf("error sending terminate: %w", err)
	}
	return nil
}

// session accumulates turn transcripts for one utterance.
type session struct {
	mu    sync.Mutex
	turns map[int]string
}

func newSession() *session {
	return &session{turns: make(map[int]string)}
}

func (s *session) readLoop(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("error reading message: %w", err)
		}
		if finished, err := s.processMessage(message); err != nil || finished {
			return err
		}
	}
}

// processMessage handles different message types from AssemblyAI. It reports
// whether the session is over.
func (s *session) processMessage(message []byte) (bool, error) {
	var baseMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("assemblyai: error unmarshaling message: %v", err)
		return false, nil
	}
	switch baseMsg.Type {
	case "Begin":
		var msg BeginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling Begin message: %v", err)
			return false, nil
		}
		log.Printf("assemblyai: session began: ID=%s", msg.ID)
	case "Turn":
		var msg TurnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("assemblyai: error unmarshaling Turn message: %v", err)
			return false, nil
		}
		// later messages for the same turn supersede earlier partials
		s.mu.Lock()
		s.turns[msg.TurnOrder] = msg.Transcript
		s.mu.Unlock()
	case "Termination":
		var msg TerminationMessage
		_ = json.Unmarshal(message, &msg)
		log.Printf("assemblyai: session terminated: AudioDuration=%.2fs", msg.AudioDurationSeconds)
		return true, nil
	case "Error":
		var msg ErrorMessage
		_ = json.Unmarshal(message, &msg)
		return true, fmt.Errorf("assemblyai: %s", msg.Error)
	default:
		log.Printf("assemblyai: unknown message type: %s", baseMsg.Type)
	}
	return false, nil
}

func (s *session) text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	orders := make([]int, 0, len(s.turns))
	for o := range s.turns {
		orders = append(orders, o)
	}
	sort.Ints(orders)
	parts := make([]string, 0, len(orders))
	for _, o := range orders {
		if t := strings.TrimSpace(s.turns[o]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
