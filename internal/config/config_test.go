package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that might interfere
	envVars := []string{
		"PORT", "REPOSITORY_URL", "COMPOSITIONS_DIR", "DESCRIPTIONS_PATH",
		"COMPOSED_DIR", "ASSET_SOURCE", "AUDIO_DIR", "PRELOAD_CONCURRENCY",
		"FFMPEG_PATH", "MASTER_VOLUME", "DEFAULT_CLIP_VOLUME",
		"POLL_INTERVAL_MS", "LOG_LEVEL", "REDIS_ADDR", "REDIS_TTL_SEC",
		"MINIO_BUCKET", "MINIO_USE_SSL", "OLLAMA_URL",
	}
	for _, k := range envVars {
		os.Unsetenv(prefix + k)
	}

	cfg := Load()

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.RepositoryURL != "" {
		t.Errorf("RepositoryURL = %q, want empty default", cfg.RepositoryURL)
	}
	if cfg.CompositionsDir != "compositions" {
		t.Errorf("CompositionsDir = %q, want default", cfg.CompositionsDir)
	}
	if cfg.AssetSource != "dir" {
		t.Errorf("AssetSource = %q, want 'dir'", cfg.AssetSource)
	}
	if cfg.PreloadConcurrency != 4 {
		t.Errorf("PreloadConcurrency = %d, want 4", cfg.PreloadConcurrency)
	}
	if cfg.MasterVolume != 0.8 {
		t.Errorf("MasterVolume = %f, want 0.8", cfg.MasterVolume)
	}
	if cfg.DefaultClipVolume != 1.0 {
		t.Errorf("DefaultClipVolume = %f, want 1.0", cfg.DefaultClipVolume)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Errorf("PollInterval = %v, want 100ms", cfg.PollInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want 'info'", cfg.LogLevel)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (cache disabled)", cfg.RedisAddr)
	}
	if cfg.RedisTTL != 5*time.Minute {
		t.Errorf("RedisTTL = %v, want 5m", cfg.RedisTTL)
	}
	if cfg.MinioBucket != "whitenoise" {
		t.Errorf("MinioBucket = %q, want 'whitenoise'", cfg.MinioBucket)
	}
	if cfg.MinioUseSSL {
		t.Error("MinioUseSSL = true, want false")
	}
	if cfg.OllamaURL != "" {
		t.Errorf("OllamaURL = %q, want empty (AI composer disabled)", cfg.OllamaURL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(prefix+"PORT", "3000")
	t.Setenv(prefix+"REPOSITORY_URL", "http://compositions.local:5000/")
	t.Setenv(prefix+"ASSET_SOURCE", "minio")
	t.Setenv(prefix+"MASTER_VOLUME", "0.35")
	t.Setenv(prefix+"DEFAULT_CLIP_VOLUME", "0.5")
	t.Setenv(prefix+"POLL_INTERVAL_MS", "250")
	t.Setenv(prefix+"REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv(prefix+"REDIS_DB", "2")
	t.Setenv(prefix+"MINIO_USE_SSL", "true")

	cfg := Load()

	if cfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.Port)
	}
	if cfg.RepositoryURL != "http://compositions.local:5000" {
		t.Errorf("RepositoryURL = %q, want trailing slash trimmed", cfg.RepositoryURL)
	}
	if cfg.AssetSource != "minio" {
		t.Errorf("AssetSource = %q, want 'minio'", cfg.AssetSource)
	}
	if cfg.MasterVolume != 0.35 {
		t.Errorf("MasterVolume = %f, want 0.35", cfg.MasterVolume)
	}
	if cfg.DefaultClipVolume != 0.5 {
		t.Errorf("DefaultClipVolume = %f, want 0.5", cfg.DefaultClipVolume)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
	if cfg.RedisAddr != "127.0.0.1:6379" || cfg.RedisDB != 2 {
		t.Errorf("Redis = %q db %d, want env override", cfg.RedisAddr, cfg.RedisDB)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL = false, want true")
	}
}

func TestEnvIntInvalidFallsBack(t *testing.T) {
	t.Setenv(prefix+"PORT", "not-a-number")
	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Invalid int env should fallback to default: got %d, want 8080", cfg.Port)
	}
}

func TestEnvFloatInvalidFallsBack(t *testing.T) {
	t.Setenv(prefix+"MASTER_VOLUME", "loud")
	cfg := Load()
	if cfg.MasterVolume != 0.8 {
		t.Errorf("Invalid float env should fallback to default: got %f", cfg.MasterVolume)
	}
}

func TestEnvBoolInvalidFallsBack(t *testing.T) {
	t.Setenv(prefix+"MINIO_USE_SSL", "maybe")
	cfg := Load()
	if cfg.MinioUseSSL {
		t.Error("Invalid bool env should fallback to false")
	}
}
