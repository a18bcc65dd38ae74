// Package config loads and validates engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Classify   ClassifyConfig   `mapstructure:"classify"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	DB         DBConfig         `mapstructure:"db"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs dispatch and fetch pipeline behavior.
type CrawlerConfig struct {
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	DomainConcurrencyCap  int           `mapstructure:"domain_concurrency_cap"`
	DefaultCrawlDelay     time.Duration `mapstructure:"default_crawl_delay"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	MaxRetryAttempts      int           `mapstructure:"max_retry_attempts"`
	BackoffBase           time.Duration `mapstructure:"backoff_base"`
	BackoffMax            time.Duration `mapstructure:"backoff_max"`
	MaxContentSize        int64         `mapstructure:"max_content_size"`
	StrictContentSize     bool          `mapstructure:"strict_content_size"`
	MaxRedirects          int           `mapstructure:"max_redirects"`
	UserAgent             string        `mapstructure:"user_agent"`
}

// PolitenessConfig governs robots.txt handling.
type PolitenessConfig struct {
	RespectRobots bool          `mapstructure:"respect_robots"`
	RobotsTTL     time.Duration `mapstructure:"robots_ttl"`
	RobotsTimeout time.Duration `mapstructure:"robots_timeout"`
	FailClosed    bool          `mapstructure:"fail_closed"`
}

// ClassifyConfig tunes topic classification output.
type ClassifyConfig struct {
	MinTopicConfidence float64 `mapstructure:"min_topic_confidence"`
	MaxTopicsPerPage   int     `mapstructure:"max_topics_per_page"`
}

// ExtractConfig bounds per-page enumeration.
type ExtractConfig struct {
	MaxImages int `mapstructure:"max_images"`
	MaxLinks  int `mapstructure:"max_links"`
}

// DBConfig controls the optional Postgres repository. An empty DSN selects
// the in-memory repository.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ResultsTable    string        `mapstructure:"results_table"`
	DomainsTable    string        `mapstructure:"domains_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
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
	v.SetDefault("crawler.max_concurrent_requests", 100)
	v.SetDefault("crawler.domain_concurrency_cap", 1)
	v.SetDefault("crawler.default_crawl_delay", "1s")
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_retry_attempts", 3)
	v.SetDefault("crawler.backoff_base", "1s")
	v.SetDefault("crawler.backoff_max", "60s")
	v.SetDefault("crawler.max_content_size", 10*1024*1024)
	v.SetDefault("crawler.strict_content_size", false)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.user_agent", "metascan-crawler/1.0 (+https://github.com/metascan/crawler)")
	v.SetDefault("politeness.respect_robots", true)
	v.SetDefault("politeness.robots_ttl", "24h")
	v.SetDefault("politeness.robots_timeout", "5s")
	v.SetDefault("politeness.fail_closed", false)
	v.SetDefault("classify.min_topic_confidence", 0.5)
	v.SetDefault("classify.max_topics_per_page", 10)
	v.SetDefault("extract.max_images", 500)
	v.SetDefault("extract.max_links", 500)
	v.SetDefault("db.results_table", "crawl_results")
	v.SetDefault("db.domains_table", "crawl_domains")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("crawler.max_concurrent_requests must be > 0")
	}
	if c.Crawler.DomainConcurrencyCap <= 0 {
		return fmt.Errorf("crawler.domain_concurrency_cap must be > 0")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.Crawler.MaxRetryAttempts <= 0 {
		return fmt.Errorf("crawler.max_retry_attempts must be > 0")
	}
	if c.Crawler.MaxContentSize <= 0 {
		return fmt.Errorf("crawler.max_content_size must be > 0")
	}
	if c.Classify.MinTopicConfidence < 0 || c.Classify.MinTopicConfidence > 1 {
		return fmt.Errorf("classify.min_topic_confidence must be in [0,1]")
	}
	if c.Classify.MaxTopicsPerPage <= 0 {
		return fmt.Errorf("classify.max_topics_per_page must be > 0")
	}
	return nil
}
