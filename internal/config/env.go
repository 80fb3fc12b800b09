package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvConfig    = "TWOTOWER_CONFIG"
	EnvDataDir   = "TWOTOWER_DATA_DIR"
	EnvRedisAddr = "TWOTOWER_REDIS_ADDR"
	EnvOllamaURL = "OLLAMA_URL"
	EnvOpenAIKey = "OPENAI_API_KEY"
	EnvBaseline  = "TWOTOWER_BASELINE"
)

// GetConfigValue returns the environment variable if set, otherwise the
// fallback value.
func GetConfigValue(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() {
	c.DataDir = GetConfigValue(EnvDataDir, c.DataDir)
	c.Metrics.RedisAddr = GetConfigValue(EnvRedisAddr, c.Metrics.RedisAddr)
	c.Baseline.Provider = GetConfigValue(EnvBaseline, c.Baseline.Provider)
	c.Baseline.OllamaURL = GetConfigValue(EnvOllamaURL, c.Baseline.OllamaURL)
	c.Baseline.APIKey = GetConfigValue(EnvOpenAIKey, c.Baseline.APIKey)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[1:])
}
