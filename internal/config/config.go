// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend names accepted by tasks.backend and storage.backend.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendNone   = "none"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Sources  SourcesConfig  `mapstructure:"sources"`
	News     NewsConfig     `mapstructure:"news"`
	Video    VideoConfig    `mapstructure:"video"`
	Social   SocialConfig   `mapstructure:"social"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Redis    RedisConfig    `mapstructure:"redis"`
	DB       DBConfig       `mapstructure:"db"`
	Storage  StorageConfig  `mapstructure:"storage"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Results  ResultsConfig  `mapstructure:"results"`
	Live     LiveConfig     `mapstructure:"live"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig is the shared per-source knob set.
type SourceConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxResults     int  `mapstructure:"max_results"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// Timeout converts TimeoutSeconds to a duration.
func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// SourcesConfig groups the per-source settings.
type SourcesConfig struct {
	News   SourceConfig `mapstructure:"news"`
	Video  SourceConfig `mapstructure:"video"`
	Social SourceConfig `mapstructure:"social"`
}

// NewsConfig configures the RSS search feed and article downloads.
// ArticleRPS paces article downloads per host; <= 0 disables pacing.
type NewsConfig struct {
	FeedURL       string  `mapstructure:"feed_url"`
	UserAgent     string  `mapstructure:"user_agent"`
	FetchArticles bool    `mapstructure:"fetch_articles"`
	RespectRobots bool    `mapstructure:"respect_robots"`
	ArticleRPS    float64 `mapstructure:"article_rps"`
	ArticleBurst  int     `mapstructure:"article_burst"`
}

// VideoConfig configures the YouTube Data API client.
type VideoConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
}

// SocialConfig configures the Reddit client.
type SocialConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	BaseURL           string  `mapstructure:"base_url"`
	LinkBase          string  `mapstructure:"link_base"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// TasksConfig governs the queue, worker pool and task state backend.
type TasksConfig struct {
	Workers        int    `mapstructure:"workers"`
	QueueDepth     int    `mapstructure:"queue_depth"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	Backend        string `mapstructure:"backend"`
	TTLHours       int    `mapstructure:"ttl_hours"`
}

// TTL converts TTLHours to a duration.
func (t TasksConfig) TTL() time.Duration {
	return time.Duration(t.TTLHours) * time.Hour
}

// RetryBackoff converts RetryBackoffMs to a duration.
func (t TasksConfig) RetryBackoff() time.Duration {
	return time.Duration(t.RetryBackoffMs) * time.Millisecond
}

// RedisConfig locates the Redis server holding task state.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the content database. An empty DSN selects the
// in-memory content store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// StorageConfig selects where raw item payloads are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ResultsConfig shapes the poll response.
type ResultsConfig struct {
	PreviewChars int `mapstructure:"preview_chars"`
}

// LiveConfig tunes live channel connections.
type LiveConfig struct {
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
	SendBuffer          int `mapstructure:"send_buffer"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from defaults, an optional file and CRAWLER_* environment variables.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")

	v.SetDefault("sources.news.enabled", true)
	v.SetDefault("sources.news.max_results", 20)
	v.SetDefault("sources.news.timeout_seconds", 30)
	v.SetDefault("sources.video.enabled", false)
	v.SetDefault("sources.video.max_results", 20)
	v.SetDefault("sources.video.timeout_seconds", 30)
	v.SetDefault("sources.social.enabled", true)
	v.SetDefault("sources.social.max_results", 50)
	v.SetDefault("sources.social.timeout_seconds", 30)

	v.SetDefault("news.feed_url", "https://news.google.com/rss/search?q=%s&hl=en-US&gl=US&ceid=US:en")
	v.SetDefault("news.user_agent", "ondemand-crawler/1.0")
	v.SetDefault("news.fetch_articles", true)
	v.SetDefault("news.respect_robots", true)
	v.SetDefault("news.article_rps", 2.0)
	v.SetDefault("news.article_burst", 2)
	v.SetDefault("video.api_key", "")
	v.SetDefault("video.endpoint", "")
	v.SetDefault("social.user_agent", "ondemand-crawler/1.0")
	v.SetDefault("social.base_url", "https://www.reddit.com")
	v.SetDefault("social.link_base", "https://www.reddit.com")
	v.SetDefault("social.requests_per_second", 1.0)

	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.queue_depth", 64)
	v.SetDefault("tasks.max_attempts", 3)
	v.SetDefault("tasks.retry_backoff_ms", 1000)
	v.SetDefault("tasks.backend", BackendMemory)
	v.SetDefault("tasks.ttl_hours", 24)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "content")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)

	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.prefix", "raw")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("results.preview_chars", 500)

	v.SetDefault("live.write_timeout_seconds", 10)
	v.SetDefault("live.ping_interval_seconds", 30)
	v.SetDefault("live.send_buffer", 64)

	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for _, named := range []struct {
		name string
		src  SourceConfig
	}{
		{"news", c.Sources.News}, {"video", c.Sources.Video}, {"social", c.Sources.Social},
	} {
		name, src := named.name, named.src
		if !src.Enabled {
			continue
		}
		if src.MaxResults <= 0 {
			return fmt.Errorf("sources.%s.max_results must be > 0", name)
		}
		if src.TimeoutSeconds <= 0 {
			return fmt.Errorf("sources.%s.timeout_seconds must be > 0", name)
		}
	}
	if c.Sources.Video.Enabled && c.Video.APIKey == "" {
		return fmt.Errorf("video.api_key must be set when the video source is enabled")
	}
	if c.Sources.Social.Enabled && c.Social.RequestsPerSecond <= 0 {
		return fmt.Errorf("social.requests_per_second must be > 0")
	}
	if c.Tasks.Workers <= 0 {
		return fmt.Errorf("tasks.workers must be > 0")
	}
	if c.Tasks.QueueDepth <= 0 {
		return fmt.Errorf("tasks.queue_depth must be > 0")
	}
	if c.Tasks.MaxAttempts <= 0 {
		return fmt.Errorf("tasks.max_attempts must be > 0")
	}
	switch c.Tasks.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when tasks.backend is redis")
		}
	default:
		return fmt.Errorf("tasks.backend must be %q or %q, got %q", BackendMemory, BackendRedis, c.Tasks.Backend)
	}
	switch c.Storage.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Results.PreviewChars <= 0 {
		return fmt.Errorf("results.preview_chars must be > 0")
	}
	return nil
}

// WriteTimeout returns the live channel write deadline.
func (l LiveConfig) WriteTimeout() time.Duration {
	return time.Duration(l.WriteTimeoutSeconds) * time.Second
}

// PingInterval returns the live channel keep-alive interval.
func (l LiveConfig) PingInterval() time.Duration {
	return time.Duration(l.PingIntervalSeconds) * time.Second
}

// MaxBatchWait returns the hub flush interval.
func (p ProgressConfig) MaxBatchWait() time.Duration {
	return time.Duration(p.MaxBatchWaitMs) * time.Millisecond
}
