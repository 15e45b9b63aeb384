package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory (audio artifacts, sqlite database)
	Data string
	// Driver is the session store driver (sqlite, postgres or memory)
	Driver string
	// DSN points to where duetcast stores session state
	DSN string
	// Version is the current version of server
	Version string

	// Generation configuration
	OpenAIAPIKey  string        // DUETCAST_OPENAI_API_KEY
	OpenAIBaseURL string        // DUETCAST_OPENAI_BASE_URL (default: https://api.openai.com/v1)
	ChatModel     string        // DUETCAST_CHAT_MODEL (default: gpt-4o-mini)
	GenMaxTokens  int           // DUETCAST_GEN_MAX_TOKENS (default: 200)
	GenTimeout    time.Duration // DUETCAST_GEN_TIMEOUT (default: 30s)

	// Speech synthesis configuration
	TTSProvider      string        // DUETCAST_TTS_PROVIDER: openai, elevenlabs or none
	TTSModel         string        // DUETCAST_TTS_MODEL (default: tts-1)
	ElevenLabsAPIKey string        // DUETCAST_ELEVENLABS_API_KEY
	SynthTimeout     time.Duration // DUETCAST_SYNTH_TIMEOUT (default: 30s)
	// SynthesizeHumanTurns controls whether human-supplied turns get audio.
	SynthesizeHumanTurns bool // DUETCAST_SYNTH_HUMAN_TURNS (default: false)

	// Session configuration
	SessionTTL    time.Duration // DUETCAST_SESSION_TTL (default: 24h)
	AudioTTL      time.Duration // DUETCAST_AUDIO_TTL (default: 2h)
	HistoryWindow int           // DUETCAST_HISTORY_WINDOW (default: 10)

	// Phase thresholds are progress-ratio boundaries between conversation
	// phases. They are policy constants, kept configurable.
	PhaseIntroEnd int // percent, DUETCAST_PHASE_INTRO_END (default: 30)
	PhaseTalkEnd  int // percent, DUETCAST_PHASE_TALK_END (default: 70)
	PhaseFlirtEnd int // percent, DUETCAST_PHASE_FLIRT_END (default: 85)

	// Upstream retry policy
	RetryMaxAttempts int           // DUETCAST_RETRY_MAX_ATTEMPTS (default: 3)
	RetryBaseDelay   time.Duration // DUETCAST_RETRY_BASE_DELAY (default: 500ms)

	// MaxInflightTurns bounds concurrent upstream calls system-wide.
	MaxInflightTurns int // DUETCAST_MAX_INFLIGHT_TURNS (default: 8)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsSynthesisEnabled returns true if a speech provider is configured.
func (p *Profile) IsSynthesisEnabled() bool {
	switch p.TTSProvider {
	case "openai":
		return p.OpenAIAPIKey != ""
	case "elevenlabs":
		return p.ElevenLabsAPIKey != ""
	default:
		return false
	}
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from DUETCAST_* environment variables.
func (p *Profile) FromEnv() {
	p.OpenAIAPIKey = getEnvOrDefault("DUETCAST_OPENAI_API_KEY", p.OpenAIAPIKey)
	p.OpenAIBaseURL = getEnvOrDefault("DUETCAST_OPENAI_BASE_URL", "https://api.openai.com/v1")
	p.ChatModel = getEnvOrDefault("DUETCAST_CHAT_MODEL", "gpt-4o-mini")
	p.GenMaxTokens = getIntEnv("DUETCAST_GEN_MAX_TOKENS", 200)
	p.GenTimeout = getDurationEnv("DUETCAST_GEN_TIMEOUT", 30*time.Second)

	p.TTSProvider = getEnvOrDefault("DUETCAST_TTS_PROVIDER", "openai")
	p.TTSModel = getEnvOrDefault("DUETCAST_TTS_MODEL", "tts-1")
	p.ElevenLabsAPIKey = getEnvOrDefault("DUETCAST_ELEVENLABS_API_KEY", p.ElevenLabsAPIKey)
	p.SynthTimeout = getDurationEnv("DUETCAST_SYNTH_TIMEOUT", 30*time.Second)
	p.SynthesizeHumanTurns = os.Getenv("DUETCAST_SYNTH_HUMAN_TURNS") == "true"

	p.SessionTTL = getDurationEnv("DUETCAST_SESSION_TTL", 24*time.Hour)
	p.AudioTTL = getDurationEnv("DUETCAST_AUDIO_TTL", 2*time.Hour)
	p.HistoryWindow = getIntEnv("DUETCAST_HISTORY_WINDOW", 10)

	p.PhaseIntroEnd = getIntEnv("DUETCAST_PHASE_INTRO_END", 30)
	p.PhaseTalkEnd = getIntEnv("DUETCAST_PHASE_TALK_END", 70)
	p.PhaseFlirtEnd = getIntEnv("DUETCAST_PHASE_FLIRT_END", 85)

	p.RetryMaxAttempts = getIntEnv("DUETCAST_RETRY_MAX_ATTEMPTS", 3)
	p.RetryBaseDelay = getDurationEnv("DUETCAST_RETRY_BASE_DELAY", 500*time.Millisecond)
	p.MaxInflightTurns = getIntEnv("DUETCAST_MAX_INFLIGHT_TURNS", 8)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/duetcast"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			dbFile := fmt.Sprintf("duetcast_%s.db", p.Mode)
			p.DSN = filepath.Join(dataDir, dbFile)
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("dsn is required for postgres driver")
		}
	case "memory":
		// No DSN needed.
	default:
		return errors.Errorf("unknown session store driver %q: only 'sqlite', 'postgres' and 'memory' are supported", p.Driver)
	}

	if p.HistoryWindow < 1 {
		return errors.New("history window must be at least 1")
	}
	if !(0 < p.PhaseIntroEnd && p.PhaseIntroEnd < p.PhaseTalkEnd && p.PhaseTalkEnd < p.PhaseFlirtEnd && p.PhaseFlirtEnd <= 100) {
		return errors.New("phase thresholds must satisfy 0 < intro < talk < flirt <= 100")
	}
	if p.RetryMaxAttempts < 1 {
		p.RetryMaxAttempts = 1
	}
	if p.MaxInflightTurns < 1 {
		p.MaxInflightTurns = 1
	}

	return nil
}
