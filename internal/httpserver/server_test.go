package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chadiek/mio/internal/agent"
	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/llm"
	"github.com/chadiek/mio/internal/voice"
)

type fakeSession struct {
	turns    []conversation.Turn
	sendErr  error
	voiceErr error
	reply    *agent.Reply
	callErr  error
	stopped  bool
	premium  agent.PremiumState
	signals  []string
}

func (f *fakeSession) submit(text string) (conversation.Turn, <-chan agent.Reply, error) {
	turn := conversation.Turn{Role: conversation.RoleUser, Content: text, Seq: len(f.turns)}
	f.turns = append(f.turns, turn)
	ch := make(chan agent.Reply, 1)
	if f.reply != nil {
		ch <- *f.reply
	}
	return turn, ch, nil
}

func (f *fakeSession) SendText(text string) (conversation.Turn, <-chan agent.Reply, error) {
	if f.sendErr != nil {
		return conversation.Turn{}, nil, f.sendErr
	}
	return f.submit(strings.TrimSpace(text))
}

func (f *fakeSession) SendVoice(ctx context.Context) (conversation.Turn, <-chan agent.Reply, error) {
	if f.voiceErr != nil {
		return conversation.Turn{}, nil, f.voiceErr
	}
	return f.submit("spoken words")
}

func (f *fakeSession) StartCall() error                  { return f.callErr }
func (f *fakeSession) StopCall() bool                    { return f.stopped }
func (f *fakeSession) CallState() agent.CallState        { return agent.CallListening }
func (f *fakeSession) Conversation() []conversation.Turn { return f.turns }
func (f *fakeSession) Premium() agent.PremiumState       { return f.premium }

func (f *fakeSession) HandleWidgetSignal(value string) bool {
	f.signals = append(f.signals, value)
	if value == "sub:ABC" && !f.premium.Active {
		f.premium = agent.PremiumState{Active: true, SubscriptionID: "ABC"}
		return true
	}
	return false
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, r)
	return w
}

func TestServer_Healthz(t *testing.T) {
	srv := New(Options{Session: &fakeSession{}, AuthPassword: "secret"})
	w := do(t, srv, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_MetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "mio_up 1")
	})
	srv := New(Options{Session: &fakeSession{}, AuthPassword: "secret", Metrics: metrics})
	w := do(t, srv, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "mio_up") {
		t.Fatalf("unexpected metrics response: %d %q", w.Code, w.Body.String())
	}
}

func TestServer_APIRequiresPassword(t *testing.T) {
	srv := New(Options{Session: &fakeSession{}, AuthPassword: "secret"})
	if w := do(t, srv, http.MethodGet, "/api/conversation", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := do(t, srv, http.MethodGet, "/api/conversation?password=secret", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_SendMessageAccepted(t *testing.T) {
	sess := &fakeSession{}
	srv := New(Options{Session: sess})
	w := do(t, srv, http.MethodPost, "/api/messages", `{"text":"  hello "}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var got turnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Turn.Content != "hello" || got.Turn.Role != conversation.RoleUser {
		t.Fatalf("unexpected turn: %+v", got.Turn)
	}
	if got.Reply != nil {
		t.Fatalf("expected no reply without wait")
	}
}

func TestServer_SendMessageWaitsForReply(t *testing.T) {
	sess := &fakeSession{reply: &agent.Reply{Turn: conversation.Turn{Role: conversation.RoleAssistant, Content: "Hi! I'm MIO.", Seq: 1}}}
	srv := New(Options{Session: sess})
	w := do(t, srv, http.MethodPost, "/api/messages?wait=true", `{"text":"hello"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got turnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Reply == nil || got.Reply.Content != "Hi! I'm MIO." {
		t.Fatalf("unexpected reply: %+v", got.Reply)
	}
}

func TestServer_SendMessageReplyFailure(t *testing.T) {
	sess := &fakeSession{reply: &agent.Reply{Err: &llm.Error{Kind: llm.KindTimeout}}}
	srv := New(Options{Session: sess, ReplyTimeout: time.Second})
	w := do(t, srv, http.MethodPost, "/api/messages?wait=true", `{"text":"hello"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "took too long") {
		t.Fatalf("expected friendly error, got %s", w.Body.String())
	}
}

func TestServer_SubmitErrorStatuses(t *testing.T) {
	cases := []struct {
		name string
		err  error
		path string
		want int
	}{
		{"empty", agent.ErrEmptyMessage, "/api/messages", http.StatusBadRequest},
		{"closed", agent.ErrClosed, "/api/messages", http.StatusServiceUnavailable},
		{"no speech", voice.ErrNoSpeechDetected, "/api/voice", http.StatusUnprocessableEntity},
		{"unintelligible", voice.ErrUnintelligible, "/api/voice", http.StatusUnprocessableEntity},
		{"device", fmt.Errorf("%w: busy", voice.ErrDevice), "/api/voice", http.StatusConflict},
		{"transcription", voice.ErrTranscription, "/api/voice", http.StatusBadGateway},
		{"other", errors.New("boom"), "/api/voice", http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := &fakeSession{sendErr: tc.err, voiceErr: tc.err}
			srv := New(Options{Session: sess})
			w := do(t, srv, http.MethodPost, tc.path, `{"text":"x"}`)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if !strings.Contains(w.Body.String(), agent.DescribeError(tc.err)) {
				t.Fatalf("body %q lacks user message", w.Body.String())
			}
		})
	}
}

func TestServer_Call(t *testing.T) {
	sess := &fakeSession{stopped: true}
	srv := New(Options{Session: sess})
	if w := do(t, srv, http.MethodPost, "/api/call/start", ""); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	w := do(t, srv, http.MethodGet, "/api/call", "")
	if !strings.Contains(w.Body.String(), `"listening"`) {
		t.Fatalf("unexpected call state: %s", w.Body.String())
	}
	w = do(t, srv, http.MethodPost, "/api/call/stop", "")
	if !strings.Contains(w.Body.String(), `"stopped":true`) {
		t.Fatalf("unexpected stop response: %s", w.Body.String())
	}

	sess.callErr = agent.ErrCallActive
	if w := do(t, srv, http.MethodPost, "/api/call/start", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestServer_WidgetSignal(t *testing.T) {
	sess := &fakeSession{}
	srv := New(Options{Session: sess})
	w := do(t, srv, http.MethodPost, "/api/widget/signal", `{"value":"sub:ABC"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"activated":true`) {
		t.Fatalf("unexpected response: %d %s", w.Code, w.Body.String())
	}
	w = do(t, srv, http.MethodPost, "/api/widget/signal", `{"value":"sub:ABC"}`)
	if !strings.Contains(w.Body.String(), `"activated":false`) {
		t.Fatalf("second approval must not activate: %s", w.Body.String())
	}
	w = do(t, srv, http.MethodGet, "/api/premium", "")
	var st agent.PremiumState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Active || st.SubscriptionID != "ABC" {
		t.Fatalf("unexpected premium state: %+v", st)
	}
}

func TestAuthOK(t *testing.T) {
	if !authOK(nil, "") {
		t.Fatalf("expected true when expected empty")
	}
	r := httptest.NewRequest(http.MethodGet, "/?password=secret", nil)
	if !authOK(r, "secret") {
		t.Fatalf("expected true with query password")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("X-Auth-Token", "tok")
	if !authOK(r2, "tok") {
		t.Fatalf("expected true with X-Auth-Token")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/", nil)
	r3.Header.Set("Authorization", "bearer abc")
	if !authOK(r3, "abc") {
		t.Fatalf("expected true with lowercase bearer prefix")
	}
}

func TestAuthOK_NegativeCases(t *testing.T) {
	r1 := httptest.NewRequest(http.MethodGet, "/?password=wrong", nil)
	if authOK(r1, "secret") {
		t.Fatalf("expected false with wrong query token")
	}
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "Basic secret")
	if authOK(r2, "secret") {
		t.Fatalf("expected false with non-bearer scheme")
	}
	r3 := httptest.NewRequest(http.MethodGet, "/?password=", nil)
	if authOK(r3, "secret") {
		t.Fatalf("expected false with empty token")
	}
}
