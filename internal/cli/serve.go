package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/mio/internal/agent"
	"github.com/chadiek/mio/internal/audio"
	"github.com/chadiek/mio/internal/config"
	"github.com/chadiek/mio/internal/httpserver"
	"github.com/chadiek/mio/internal/llm"
	"github.com/chadiek/mio/internal/metrics"
	"github.com/chadiek/mio/internal/notify"
	"github.com/chadiek/mio/internal/subscription"
	"github.com/chadiek/mio/internal/transcript"
	"github.com/chadiek/mio/internal/tts"
	"github.com/chadiek/mio/internal/voice"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the companion and its HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.HTTPAddress = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	completer := llm.NewClient(cfg.CompletionURL, cfg.CompletionAPIKey, cfg.CompletionModel)
	completer.Temperature = cfg.CompletionTemperature
	completer.MaxTokens = cfg.CompletionMaxTokens
	completer.HTTPClient.Timeout = cfg.CompletionTimeout

	mic := audio.NewMicrophone(audio.CaptureSampleRate)
	stt := transcript.NewAssemblyAI(cfg.AssemblyAIKey)
	stt.SampleRate = mic.SampleRate()
	input := voice.NewInput(mic, stt)

	speech, closeSpeech := buildVoice(cfg)
	defer closeSpeech()

	m := metrics.New("mio")
	hub := notify.NewHub()
	go hub.Run(ctx)
	m.RegisterGaugeFunc("ui_connections", "Number of connected UI clients.", func() float64 {
		return float64(hub.ConnectionCount())
	})

	sess := agent.New(agent.Options{
		Persona:        cfg.Persona,
		Completer:      completer,
		Listener:       input,
		Voice:          speech,
		Store:          buildStore(cfg),
		Notifier:       hub,
		Metrics:        m,
		RequestTimeout: cfg.CompletionTimeout,
	})
	sessionDone := make(chan struct{})
	go func() {
		sess.Run(ctx)
		close(sessionDone)
	}()

	srv := httpserver.New(httpserver.Options{
		Session:      sess,
		AuthPassword: cfg.AuthPassword,
		WebSocket:    notify.NewServer(hub).HandleWebSocket,
		Metrics:      m.Handler(),
		ReplyTimeout: cfg.CompletionTimeout + 15*time.Second,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Printf("shutdown signal received")
	}

	sess.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
	select {
	case <-sessionDone:
	case <-shutdownCtx.Done():
		log.Printf("session did not stop in time")
	}
	return runErr
}

// buildVoice picks the configured synthesizer and opens the speaker. Without
// an output device or provider, replies are only logged.
func buildVoice(cfg config.Config) (voice.Speaker, func()) {
	var synth tts.Synthesizer
	switch cfg.TTSProvider {
	case "deepgram":
		synth = tts.NewDeepgram(cfg.DeepgramKey, cfg.DeepgramModel)
	case "elevenlabs":
		synth = tts.NewElevenLabs(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
	default:
		log.Printf("tts disabled, replies are text only")
		return tts.Silent{}, func() {}
	}

	speaker, err := audio.NewSpeaker(audio.PlaybackSampleRate)
	if err != nil {
		log.Printf("speaker unavailable, replies are text only: %v", err)
		return tts.Silent{}, func() {}
	}
	return tts.NewVoice(synth, speaker), func() {
		if err := speaker.Close(); err != nil {
			log.Printf("speaker close error: %v", err)
		}
	}
}

// buildStore always writes the local record and mirrors it to Supabase when
// credentials are present.
func buildStore(cfg config.Config) subscription.Saver {
	stores := subscription.Multi{subscription.NewFileStore(cfg.SubscriptionFile)}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
		return stores
	}
	remote, err := subscription.NewSupabaseStore(subscription.SupabaseConfig{
		URL:            cfg.SupabaseURL,
		ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		Bucket:         cfg.SupabaseBucket,
	})
	if err != nil {
		log.Printf("supabase mirror disabled: %v", err)
		return stores
	}
	return append(stores, remote)
}
