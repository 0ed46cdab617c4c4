// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/paper-harvester/internal/classifier"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Site     SiteConfig     `mapstructure:"site"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Annotate AnnotateConfig `mapstructure:"annotate"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
}

// SiteConfig describes the proceedings site being harvested.
type SiteConfig struct {
	BaseURL     string          `mapstructure:"base_url"`
	TargetYears []string        `mapstructure:"target_years"`
	Selectors   SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig holds the CSS selectors used at each level of the listing.
type SelectorsConfig struct {
	Year     string `mapstructure:"year"`
	Document string `mapstructure:"document"`
	Artifact string `mapstructure:"artifact"`
}

// CrawlerConfig governs concurrency and politeness.
type CrawlerConfig struct {
	Concurrency    int     `mapstructure:"concurrency"`
	UserAgent      string  `mapstructure:"user_agent"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// HTTPConfig configures per-attempt timeouts and the retry policy.
type HTTPConfig struct {
	TimeoutSeconds int   `mapstructure:"timeout_seconds"`
	MaxAttempts    int   `mapstructure:"max_attempts"`
	BackoffSeconds int   `mapstructure:"backoff_seconds"`
	MaxPageBytes   int64 `mapstructure:"max_page_bytes"`
}

// StorageConfig sets where artifacts, logs and run state live.
type StorageConfig struct {
	ArtifactDir  string `mapstructure:"artifact_dir"`
	ResultLog    string `mapstructure:"result_log"`
	AnnotatedLog string `mapstructure:"annotated_log"`
	CatalogPath  string `mapstructure:"catalog_path"`
	SummaryPath  string `mapstructure:"summary_path"`
}

// AnnotateConfig configures the classification pass. An empty ClassifierURL
// selects the offline keyword classifier.
type AnnotateConfig struct {
	Concurrency      int               `mapstructure:"concurrency"`
	ClassifierURL    string            `mapstructure:"classifier_url"`
	ClassifierAPIKey string            `mapstructure:"classifier_api_key"`
	TimeoutSeconds   int               `mapstructure:"timeout_seconds"`
	KeywordRules     []classifier.Rule `mapstructure:"keyword_rules"`
	KeywordFallback  string            `mapstructure:"keyword_fallback"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ServerConfig controls the optional metrics and progress endpoint. An empty
// MetricsAddr disables it.
type ServerConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERHARVEST")
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
	v.SetDefault("site.base_url", "https://papers.nips.cc")
	v.SetDefault("site.target_years", []string{"2020", "2021", "2022", "2023"})
	v.SetDefault("site.selectors.year", "a[href^='/paper_files/paper/']")
	v.SetDefault("site.selectors.document", "a[href*='Abstract']")
	v.SetDefault("site.selectors.artifact", "a[href*='.pdf']")
	v.SetDefault("crawler.concurrency", 50)
	v.SetDefault("crawler.user_agent", "paper-harvester/0.1")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.rate_limit_rps", 0)
	v.SetDefault("crawler.rate_limit_burst", 1)
	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_seconds", 2)
	v.SetDefault("http.max_page_bytes", 5*1024*1024)
	v.SetDefault("storage.artifact_dir", "data/pdfs")
	v.SetDefault("storage.result_log", "data/output.csv")
	v.SetDefault("storage.annotated_log", "data/output_annotated.csv")
	v.SetDefault("storage.catalog_path", "")
	v.SetDefault("storage.summary_path", "")
	v.SetDefault("annotate.concurrency", 10)
	v.SetDefault("annotate.classifier_url", "")
	v.SetDefault("annotate.classifier_api_key", "")
	v.SetDefault("annotate.timeout_seconds", 30)
	v.SetDefault("annotate.keyword_fallback", "Theory")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("server.metrics_addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute url")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.RateLimitRPS < 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.BackoffSeconds < 0 {
		return fmt.Errorf("http.backoff_seconds must be >= 0")
	}
	if c.Storage.ArtifactDir == "" || c.Storage.ResultLog == "" {
		return fmt.Errorf("storage.artifact_dir and storage.result_log are required")
	}
	if c.Annotate.Concurrency <= 0 {
		return fmt.Errorf("annotate.concurrency must be > 0")
	}
	if c.Annotate.TimeoutSeconds <= 0 {
		return fmt.Errorf("annotate.timeout_seconds must be > 0")
	}
	return nil
}

// RootURL is the listing root that links to every year.
func (c Config) RootURL() string {
	return strings.TrimRight(c.Site.BaseURL, "/") + "/"
}

// AttemptTimeout converts the per-attempt timeout to a duration.
func (c Config) AttemptTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Backoff converts the retry delay to a duration.
func (c Config) Backoff() time.Duration {
	return time.Duration(c.HTTP.BackoffSeconds) * time.Second
}

// ClassifierTimeout converts the classification request timeout to a duration.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Annotate.TimeoutSeconds) * time.Second
}
