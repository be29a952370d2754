package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Decoding
	FFmpegPath string

	// Transport
	PollInterval  time.Duration // position poll period while a deck plays
	WaveformWidth int           // default waveform preview width

	// Initial mixer levels
	MasterVolume float64
	DeckVolume   float64

	// Sessions
	SessionDir    string
	RedisAddr     string // empty disables the Redis session store
	RedisPassword string
	RedisDB       int

	// Monitors
	OpusBitrate int  // bit/s
	MP3Bitrate  int  // kbit/s
	Speaker     bool // play the master bus on the local sound card

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads configuration from the environment with sane defaults. A .env
// file in the working directory is read first; it never overrides variables
// that are already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port: envInt("TWINDECK_PORT", 8080),

		FFmpegPath: envStr("TWINDECK_FFMPEG", "ffmpeg"),

		PollInterval:  time.Duration(envInt("TWINDECK_POLL_INTERVAL_MS", 50)) * time.Millisecond,
		WaveformWidth: envInt("TWINDECK_WAVEFORM_WIDTH", 600),

		MasterVolume: envFloat("TWINDECK_MASTER_VOLUME", 1.0),
		DeckVolume:   envFloat("TWINDECK_DECK_VOLUME", 1.0),

		SessionDir:    envStr("TWINDECK_SESSION_DIR", "sessions"),
		RedisAddr:     envStr("TWINDECK_REDIS_ADDR", ""),
		RedisPassword: envStr("TWINDECK_REDIS_PASSWORD", ""),
		RedisDB:       envInt("TWINDECK_REDIS_DB", 0),

		OpusBitrate: envInt("TWINDECK_OPUS_BITRATE", 128000),
		MP3Bitrate:  envInt("TWINDECK_MP3_BITRATE", 192),
		Speaker:     envBool("TWINDECK_SPEAKER", false),

		LogLevel: envStr("TWINDECK_LOG_LEVEL", "info"),
		LogFile:  envStr("TWINDECK_LOG_FILE", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
