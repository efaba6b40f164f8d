package httpserver

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/chadiek/mio/internal/agent"
	"github.com/chadiek/mio/internal/conversation"
	"github.com/chadiek/mio/internal/voice"
)

// Session is the part of agent.Session the API exposes.
type Session interface {
	SendText(text string) (conversation.Turn, <-chan agent.Reply, error)
	SendVoice(ctx context.Context) (conversation.Turn, <-chan agent.Reply, error)
	StartCall() error
	StopCall() bool
	CallState() agent.CallState
	Conversation() []conversation.Turn
	Premium() agent.PremiumState
	HandleWidgetSignal(value string) bool
}

type Options struct {
	Session      Session
	AuthPassword string
	// WebSocket serves /ws; nil leaves the route out.
	WebSocket echo.HandlerFunc
	// Metrics serves /metrics; nil leaves the route out.
	Metrics http.Handler
	// ReplyTimeout bounds ?wait=true requests.
	ReplyTimeout time.Duration
}

// Server bundles the HTTP router and its dependencies.
type Server struct {
	Router  *echo.Echo
	session Session
	wait    time.Duration
}

type messageRequest struct {
	Text string `json:"text"`
}

type signalRequest struct {
	Value string `json:"value"`
}

type turnResponse struct {
	Turn  conversation.Turn  `json:"turn"`
	Reply *conversation.Turn `json:"reply,omitempty"`
	Error string             `json:"error,omitempty"`
}

// New constructs the HTTP server with routes.
func New(opts Options) *Server {
	s := &Server{Router: NewRouter(), session: opts.Session, wait: opts.ReplyTimeout}
	if s.wait <= 0 {
		s.wait = 45 * time.Second
	}
	e := s.Router

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if opts.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}

	auth := requireAuth(opts.AuthPassword)
	if opts.WebSocket != nil {
		e.GET("/ws", opts.WebSocket, auth)
	}

	api := e.Group("/api", auth)
	api.GET("/conversation", s.conversation)
	api.POST("/messages", s.sendMessage)
	api.POST("/voice", s.sendVoice)
	api.GET("/call", s.callState)
	api.POST("/call/start", s.startCall)
	api.POST("/call/stop", s.stopCall)
	api.GET("/premium", s.premium)
	api.POST("/widget/signal", s.widgetSignal)

	return s
}

func (s *Server) conversation(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"turns": s.session.Conversation()})
}

// sendMessage accepts a typed message. With ?wait=true the response carries
// the assistant reply; otherwise it returns as soon as the turn is queued.
func (s *Server) sendMessage(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	turn, replies, err := s.session.SendText(req.Text)
	if err != nil {
		return submitError(err)
	}
	return s.respond(c, turn, replies)
}

func (s *Server) sendVoice(c echo.Context) error {
	turn, replies, err := s.session.SendVoice(c.Request().Context())
	if err != nil {
		return submitError(err)
	}
	return s.respond(c, turn, replies)
}

func (s *Server) respond(c echo.Context, turn conversation.Turn, replies <-chan agent.Reply) error {
	if c.QueryParam("wait") != "true" {
		return c.JSON(http.StatusAccepted, turnResponse{Turn: turn})
	}
	t := time.NewTimer(s.wait)
	defer t.Stop()
	select {
	case r := <-replies:
		if r.Err != nil {
			return c.JSON(http.StatusBadGateway, turnResponse{Turn: turn, Error: agent.DescribeError(r.Err)})
		}
		return c.JSON(http.StatusOK, turnResponse{Turn: turn, Reply: &r.Turn})
	case <-t.C:
		return c.JSON(http.StatusAccepted, turnResponse{Turn: turn})
	case <-c.Request().Context().Done():
		return c.Request().Context().Err()
	}
}

func (s *Server) callState(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"state": s.session.CallState().String()})
}

func (s *Server) startCall(c echo.Context) error {
	if err := s.session.StartCall(); err != nil {
		return submitError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"state": s.session.CallState().String()})
}

func (s *Server) stopCall(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"stopped": s.session.StopCall()})
}

func (s *Server) premium(c echo.Context) error {
	return c.JSON(http.StatusOK, s.session.Premium())
}

func (s *Server) widgetSignal(c echo.Context) error {
	var req signalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	activated := s.session.HandleWidgetSignal(req.Value)
	if activated {
		log.Printf("premium activated via widget signal")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"activated": activated,
		"premium":   s.session.Premium(),
	})
}

// submitError maps session errors to HTTP statuses.
func submitError(err error) error {
	msg := agent.DescribeError(err)
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	case errors.Is(err, agent.ErrCallActive), errors.Is(err, voice.ErrDevice):
		return echo.NewHTTPError(http.StatusConflict, msg)
	case errors.Is(err, voice.ErrNoSpeechDetected), errors.Is(err, voice.ErrUnintelligible):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, msg)
	case errors.Is(err, agent.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, msg)
	default:
		log.Printf("api error: %v", err)
		return echo.NewHTTPError(http.StatusBadGateway, msg)
	}
}
