package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sources.News.MaxResults != 20 || cfg.Sources.Video.MaxResults != 20 || cfg.Sources.Social.MaxResults != 50 {
		t.Fatalf("unexpected default caps: %+v", cfg.Sources)
	}
	if got := cfg.Sources.News.Timeout(); got != 30*time.Second {
		t.Fatalf("expected 30s fetch timeout, got %v", got)
	}
	if cfg.Tasks.Workers != 4 || cfg.Tasks.QueueDepth != 64 || cfg.Tasks.MaxAttempts != 3 {
		t.Fatalf("unexpected task defaults: %+v", cfg.Tasks)
	}
	if cfg.Results.PreviewChars != 500 {
		t.Fatalf("expected preview 500, got %d", cfg.Results.PreviewChars)
	}
	if cfg.Tasks.Backend != BackendMemory || cfg.Storage.Backend != BackendNone {
		t.Fatalf("unexpected backends: tasks=%q storage=%q", cfg.Tasks.Backend, cfg.Storage.Backend)
	}
	if cfg.Live.PingInterval() != 30*time.Second || cfg.Progress.MaxBatchWait() != 500*time.Millisecond {
		t.Fatalf("unexpected live/progress defaults: %+v %+v", cfg.Live, cfg.Progress)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
sources:
  video:
    enabled: true
    max_results: 5
  social:
    timeout_seconds: 10
video:
  api_key: yt-key
tasks:
  workers: 8
  backend: redis
  ttl_hours: 2
redis:
  addr: localhost:6379
storage:
  backend: local
  local_dir: /tmp/archive
db:
  dsn: postgres://localhost/content
results:
  preview_chars: 200
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server/auth overrides, got %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides, got %+v", cfg.Logging)
	}
	if !cfg.Sources.Video.Enabled || cfg.Sources.Video.MaxResults != 5 || cfg.Video.APIKey != "yt-key" {
		t.Fatalf("expected video overrides, got %+v %+v", cfg.Sources.Video, cfg.Video)
	}
	if cfg.Sources.Video.TimeoutSeconds != 30 {
		t.Fatalf("expected untouched keys to keep defaults, got %d", cfg.Sources.Video.TimeoutSeconds)
	}
	if cfg.Sources.Social.Timeout() != 10*time.Second {
		t.Fatalf("expected social timeout override, got %v", cfg.Sources.Social.Timeout())
	}
	if cfg.Tasks.Workers != 8 || cfg.Tasks.TTL() != 2*time.Hour || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("expected task overrides, got %+v %+v", cfg.Tasks, cfg.Redis)
	}
	if cfg.Storage.LocalDir != "/tmp/archive" || cfg.DB.DSN == "" || cfg.DB.Table != "content" {
		t.Fatalf("expected storage/db overrides, got %+v %+v", cfg.Storage, cfg.DB)
	}
	if cfg.Results.PreviewChars != 200 {
		t.Fatalf("expected preview override, got %d", cfg.Results.PreviewChars)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLER_SERVER_PORT", "7070")
	t.Setenv("CRAWLER_SOURCES_SOCIAL_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port override, got %d", cfg.Server.Port)
	}
	if cfg.Sources.Social.Enabled {
		t.Fatal("expected social source disabled via env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:  ServerConfig{Port: 8080},
			Sources: SourcesConfig{News: SourceConfig{Enabled: true, MaxResults: 20, TimeoutSeconds: 30}},
			Tasks:   TasksConfig{Workers: 1, QueueDepth: 1, MaxAttempts: 1, Backend: BackendMemory},
			Storage: StorageConfig{Backend: BackendNone},
			Results: ResultsConfig{PreviewChars: 500},
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid base config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"news cap", func(c *Config) { c.Sources.News.MaxResults = 0 }, "sources.news.max_results"},
		{"news timeout", func(c *Config) { c.Sources.News.TimeoutSeconds = 0 }, "sources.news.timeout_seconds"},
		{"video key", func(c *Config) {
			c.Sources.Video = SourceConfig{Enabled: true, MaxResults: 1, TimeoutSeconds: 1}
		}, "video.api_key"},
		{"social rate", func(c *Config) {
			c.Sources.Social = SourceConfig{Enabled: true, MaxResults: 1, TimeoutSeconds: 1}
		}, "social.requests_per_second"},
		{"workers", func(c *Config) { c.Tasks.Workers = 0 }, "tasks.workers"},
		{"queue depth", func(c *Config) { c.Tasks.QueueDepth = 0 }, "tasks.queue_depth"},
		{"attempts", func(c *Config) { c.Tasks.MaxAttempts = 0 }, "tasks.max_attempts"},
		{"task backend", func(c *Config) { c.Tasks.Backend = "etcd" }, "tasks.backend"},
		{"redis addr", func(c *Config) { c.Tasks.Backend = BackendRedis }, "redis.addr"},
		{"local dir", func(c *Config) { c.Storage.Backend = BackendLocal }, "storage.local_dir"},
		{"gcs bucket", func(c *Config) { c.Storage.Backend = BackendGCS }, "storage.gcs_bucket"},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }, "storage.backend"},
		{"pubsub project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
		{"preview", func(c *Config) { c.Results.PreviewChars = 0 }, "results.preview_chars"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
