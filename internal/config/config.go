package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "WHITENOISE_"

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(prefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Server
	Port int

	// Composition repository. An empty RepositoryURL serves CompositionsDir locally.
	RepositoryURL    string
	CompositionsDir  string
	DescriptionsPath string // sound library YAML (categories -> files)
	ComposedDir      string // exported mixdowns

	// Assets
	AssetSource        string // dir, http or minio
	AudioDir           string
	PreloadConcurrency int
	FFmpegPath         string

	// Playback
	MasterVolume      float64
	DefaultClipVolume float64 // volume for clips that omit it
	PollInterval      time.Duration

	// Streaming output
	StreamBitrate string

	// Logging
	LogLevel string
	LogFile  string

	// Redis composition cache (disabled when RedisAddr is empty)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// MinIO asset bucket
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioPrefix    string

	// Ollama-backed AI composer (disabled when OllamaURL is empty)
	OllamaURL   string
	OllamaModel string
}

// Load reads configuration from the environment with sane defaults.
// A .env file in the working directory is applied first; it never
// overrides variables that are already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port: envInt("PORT", 8080),

		RepositoryURL:    strings.TrimRight(envStr("REPOSITORY_URL", ""), "/"),
		CompositionsDir:  envStr("COMPOSITIONS_DIR", "compositions"),
		DescriptionsPath: envStr("DESCRIPTIONS_PATH", "audio_descriptions.yaml"),
		ComposedDir:      envStr("COMPOSED_DIR", "composed"),

		AssetSource:        envStr("ASSET_SOURCE", "dir"),
		AudioDir:           envStr("AUDIO_DIR", "pixabay"),
		PreloadConcurrency: envInt("PRELOAD_CONCURRENCY", 4),
		FFmpegPath:         envStr("FFMPEG_PATH", "ffmpeg"),

		MasterVolume:      envFloat("MASTER_VOLUME", 0.8),
		DefaultClipVolume: envFloat("DEFAULT_CLIP_VOLUME", 1.0),
		PollInterval:      time.Duration(envInt("POLL_INTERVAL_MS", 100)) * time.Millisecond,

		StreamBitrate: envStr("STREAM_BITRATE", "192k"),

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogFile:  envStr("LOG_FILE", ""),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		RedisTTL:      time.Duration(envInt("REDIS_TTL_SEC", 300)) * time.Second,

		MinioEndpoint:  envStr("MINIO_ENDPOINT", ""),
		MinioAccessKey: envStr("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: envStr("MINIO_SECRET_KEY", ""),
		MinioBucket:    envStr("MINIO_BUCKET", "whitenoise"),
		MinioUseSSL:    envBool("MINIO_USE_SSL", false),
		MinioPrefix:    envStr("MINIO_PREFIX", "audio/"),

		OllamaURL:   envStr("OLLAMA_URL", ""),
		OllamaModel: envStr("OLLAMA_MODEL", "qwen3:8b"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(prefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(prefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(prefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
