package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matsen/twotower/internal/projector"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvConfig, EnvDataDir, EnvRedisAddr, EnvOllamaURL, EnvOpenAIKey, EnvBaseline} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ConfigFile)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Query.Output != projector.OutputDimension || cfg.Doc.Dropout != projector.DefaultDocDropout {
		t.Errorf("unexpected tower defaults %+v %+v", cfg.Query, cfg.Doc)
	}
	if cfg.Index.Collection != "docs" || cfg.Index.BatchSize != 1000 || cfg.Index.K != 10 {
		t.Errorf("unexpected index defaults %+v", cfg.Index)
	}
}

func TestLoad_MissingImplicitFile(t *testing.T) {
	clearEnv(t)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != DefaultDataDir || cfg.Train.Epochs != 100 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yml")); err == nil {
		t.Error("Load() should fail for a missing explicit file")
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
data_dir: /srv/twotower
train:
  margin: 0.15
  early_stop_after: 7
  diagnostic: false
doc:
  hidden: 64
  output: 256
  dropout: 0.2
baseline:
  provider: ollama
  model: nomic-embed-text
metrics:
  redis_addr: localhost:6379
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/srv/twotower" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.Train.Margin != 0.15 || cfg.Train.EarlyStopAfter != 7 || cfg.Train.Diagnostic {
		t.Errorf("Train = %+v", cfg.Train)
	}
	// Unset keys keep their defaults.
	if cfg.Train.BatchSize != 64 || cfg.Query.Hidden != projector.DefaultHiddenDimension {
		t.Errorf("defaults lost: batch %d, query hidden %d", cfg.Train.BatchSize, cfg.Query.Hidden)
	}
	if cfg.Doc.Hidden != 64 || cfg.Doc.Dropout != 0.2 {
		t.Errorf("Doc = %+v", cfg.Doc)
	}
	if cfg.Baseline.Provider != BaselineOllama || cfg.Baseline.Model != "nomic-embed-text" {
		t.Errorf("Baseline = %+v", cfg.Baseline)
	}
	if cfg.Metrics.RedisAddr != "localhost:6379" || !cfg.Metrics.JSONL {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_EnvConfigPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "data_dir: /from/env/file\n")
	t.Setenv(EnvConfig, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/from/env/file" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}

	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "missing.yml"))
	if _, err := Load(""); err == nil {
		t.Error("Load() should fail when $TWOTOWER_CONFIG names a missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "data_dir: /from/file\nbaseline:\n  provider: words\n")
	t.Setenv(EnvDataDir, "/from/env")
	t.Setenv(EnvRedisAddr, "redis:6379")
	t.Setenv(EnvOllamaURL, "http://ollama:11434")
	t.Setenv(EnvOpenAIKey, "sk-test")
	t.Setenv(EnvBaseline, BaselineOpenAI)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DataDir != "/from/env" {
		t.Errorf("DataDir = %q, want /from/env", cfg.DataDir)
	}
	if cfg.Metrics.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q", cfg.Metrics.RedisAddr)
	}
	if cfg.Baseline.Provider != BaselineOpenAI || cfg.Baseline.OllamaURL != "http://ollama:11434" || cfg.Baseline.APIKey != "sk-test" {
		t.Errorf("Baseline = %+v", cfg.Baseline)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed yaml", "train: [unterminated"},
		{"negative epochs", "train:\n  epochs: -1\n"},
		{"zero learning rate", "train:\n  learning_rate: 0\n"},
		{"negative margin", "train:\n  margin: -0.5\n"},
		{"test fraction of one", "train:\n  test_fraction: 1\n"},
		{"mismatched outputs", "query:\n  output: 128\n"},
		{"dropout of one", "doc:\n  dropout: 1\n"},
		{"zero index batch", "index:\n  batch_size: 0\n"},
		{"unknown baseline", "baseline:\n  provider: spacy\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() should fail")
			}
		})
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.DataDir = "/tmp/twotower"
	cfg.Train.Margin = 0.15
	cfg.Baseline.APIKey = "secret"

	path := filepath.Join(t.TempDir(), ConfigFile)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("API key must not be written to the config file")
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DataDir != cfg.DataDir || loaded.Train.Margin != 0.15 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data"

	if got := cfg.DBPath(); got != "/data/twotower.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := cfg.IndexPath(); got != "/data/index" {
		t.Errorf("IndexPath() = %q", got)
	}
	if got := cfg.Resolve("docs.csv"); got != "/data/docs.csv" {
		t.Errorf("Resolve(relative) = %q", got)
	}
	if got := cfg.Resolve("/elsewhere/docs.csv"); got != "/elsewhere/docs.csv" {
		t.Errorf("Resolve(absolute) = %q", got)
	}
}

func TestConfig_Tower(t *testing.T) {
	cfg := Default()
	q := cfg.Tower(projector.RoleQuery, 300)
	d := cfg.Tower(projector.RoleDoc, 300)

	if q.Role != projector.RoleQuery || q.EmbeddingDim != 300 || q.Dropout != 0 {
		t.Errorf("query tower = %+v", q)
	}
	if d.Role != projector.RoleDoc || d.Dropout != projector.DefaultDocDropout {
		t.Errorf("doc tower = %+v", d)
	}
	if err := q.Validate(); err != nil {
		t.Errorf("query tower invalid: %v", err)
	}

	tc := cfg.TrainConfig()
	if tc.OutputDir != cfg.DataDir {
		t.Errorf("TrainConfig().OutputDir = %q, want %q", tc.OutputDir, cfg.DataDir)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get home directory")
	}

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"relative", "relative"},
		{"~", home},
		{"~/data", filepath.Join(home, "data")},
		{"~other/data", "~other/data"},
	}
	for _, tt := range tests {
		if got := ExpandPath(tt.in); got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGetConfigValue(t *testing.T) {
	t.Setenv("TEST_CONFIG_KEY", "from-env")
	if got := GetConfigValue("TEST_CONFIG_KEY", "from-config"); got != "from-env" {
		t.Errorf("GetConfigValue() = %q, want from-env", got)
	}

	t.Setenv("TEST_CONFIG_KEY", "")
	if got := GetConfigValue("TEST_CONFIG_KEY", "from-config"); got != "from-config" {
		t.Errorf("GetConfigValue() = %q, want from-config", got)
	}
}
