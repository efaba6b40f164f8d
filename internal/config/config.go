package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultCompletionURL   = "https://openrouter.ai/api/v1/chat/completions"
	defaultCompletionModel = "deepseek/deepseek-r1"

	// DefaultPersona is the system turn every conversation starts with.
	DefaultPersona = "You are MIO, a playful and flirty and seductive AI girlfriend. Keep replies short, affectionate, and lightly teasing. Use emojis lightly."
)

// ErrInvalid is wrapped by every fatal configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application configuration.
type Config struct {
	HTTPAddress  string
	AuthPassword string

	CompletionURL         string
	CompletionModel       string
	CompletionAPIKey      string
	CompletionTemperature float64
	CompletionMaxTokens   int
	CompletionTimeout     time.Duration
	Persona               string

	AssemblyAIKey string

	TTSProvider       string
	DeepgramKey       string
	DeepgramModel     string
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	SubscriptionFile       string
	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

// Load reads environment variables (after an optional .env file) and returns
// Config with sane defaults. Missing or placeholder completion settings are
// returned as an error wrapping ErrInvalid.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("config: no .env file loaded: %v", err)
	}

	cfg := Config{
		HTTPAddress:            getEnv("HTTP_ADDRESS", "127.0.0.1:8080"),
		AuthPassword:           os.Getenv("AUTH_PASSWORD"),
		CompletionURL:          getEnv("COMPLETION_URL", defaultCompletionURL),
		CompletionModel:        getEnv("COMPLETION_MODEL", defaultCompletionModel),
		CompletionAPIKey:       getEnv("COMPLETION_API_KEY", os.Getenv("OPENROUTER_API_KEY")),
		Persona:                getEnv("PERSONA_PROMPT", DefaultPersona),
		AssemblyAIKey:          os.Getenv("ASSEMBLYAI_API_KEY"),
		TTSProvider:            strings.ToLower(getEnv("TTS_PROVIDER", "deepgram")),
		DeepgramKey:            os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:          os.Getenv("DEEPGRAM_MODEL"),
		ElevenLabsKey:          os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:      os.Getenv("ELEVENLABS_VOICE_ID"),
		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "subscriptions"),
	}

	var err error
	if cfg.CompletionTemperature, err = strconv.ParseFloat(getEnv("COMPLETION_TEMPERATURE", "0.9"), 64); err != nil {
		return Config{}, fmt.Errorf("%w: COMPLETION_TEMPERATURE: %v", ErrInvalid, err)
	}
	if cfg.CompletionMaxTokens, err = strconv.Atoi(getEnv("COMPLETION_MAX_TOKENS", "512")); err != nil {
		return Config{}, fmt.Errorf("%w: COMPLETION_MAX_TOKENS: %v", ErrInvalid, err)
	}
	if cfg.CompletionTimeout, err = time.ParseDuration(getEnv("COMPLETION_TIMEOUT", "30s")); err != nil {
		return Config{}, fmt.Errorf("%w: COMPLETION_TIMEOUT: %v", ErrInvalid, err)
	}

	cfg.SubscriptionFile = os.Getenv("SUBSCRIPTION_FILE")
	if cfg.SubscriptionFile == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return Config{}, fmt.Errorf("%w: resolve home directory: %v", ErrInvalid, herr)
		}
		cfg.SubscriptionFile = filepath.Join(home, ".mio_subscription.json")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - voice input will not work")
	}
	switch cfg.TTSProvider {
	case "deepgram":
		if cfg.DeepgramKey == "" {
			log.Println("Warning: DEEPGRAM_API_KEY not set - spoken replies will not work")
		}
	case "elevenlabs":
		if cfg.ElevenLabsKey == "" || cfg.ElevenLabsVoiceID == "" {
			log.Println("Warning: ELEVENLABS_API_KEY or ELEVENLABS_VOICE_ID not set - spoken replies will not work")
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s COMPLETION_MODEL=%s TTS_PROVIDER=%s", cfg.HTTPAddress, cfg.CompletionModel, cfg.TTSProvider)
	return cfg, nil
}

// Validate checks the process-wide completion settings.
func (c Config) Validate() error {
	required := []struct{ name, value string }{
		{"COMPLETION_URL", c.CompletionURL},
		{"COMPLETION_MODEL", c.CompletionModel},
		{"COMPLETION_API_KEY", c.CompletionAPIKey},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return fmt.Errorf("%w: %s is not set", ErrInvalid, r.name)
		}
		if isPlaceholder(r.value) {
			return fmt.Errorf("%w: %s still holds a placeholder value", ErrInvalid, r.name)
		}
	}
	switch c.TTSProvider {
	case "deepgram", "elevenlabs", "none":
	default:
		return fmt.Errorf("%w: unknown TTS_PROVIDER %q", ErrInvalid, c.TTSProvider)
	}
	return nil
}

func isPlaceholder(v string) bool {
	u := strings.ToUpper(strings.TrimSpace(v))
	return strings.HasPrefix(u, "REPLACE") ||
		strings.HasPrefix(u, "YOUR_") ||
		strings.HasPrefix(u, "YOUR-") ||
		strings.HasPrefix(u, "CHANGEME") ||
		(strings.HasPrefix(u, "<") && strings.HasSuffix(u, ">"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
