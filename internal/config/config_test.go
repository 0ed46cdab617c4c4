package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RootURL() != "https://papers.nips.cc/" {
		t.Fatalf("unexpected root url %q", cfg.RootURL())
	}
	if got := strings.Join(cfg.Site.TargetYears, ","); got != "2020,2021,2022,2023" {
		t.Fatalf("unexpected target years %q", got)
	}
	if cfg.Crawler.Concurrency != 50 || cfg.Annotate.Concurrency != 10 {
		t.Fatalf("unexpected concurrency defaults: %+v %+v", cfg.Crawler, cfg.Annotate)
	}
	if cfg.HTTP.MaxAttempts != 3 || cfg.Backoff() != 2*time.Second || cfg.AttemptTimeout() != time.Minute {
		t.Fatalf("unexpected retry defaults: %+v", cfg.HTTP)
	}
	if cfg.Storage.ResultLog != "data/output.csv" || cfg.Storage.AnnotatedLog != "data/output_annotated.csv" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if cfg.Site.Selectors.Artifact != "a[href*='.pdf']" {
		t.Fatalf("unexpected artifact selector %q", cfg.Site.Selectors.Artifact)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
site:
  base_url: https://proceedings.example/
  target_years: ["2019"]
  selectors:
    document: a.paper
crawler:
  concurrency: 8
  user_agent: harvest-test
  respect_robots: true
  rate_limit_rps: 2.5
  rate_limit_burst: 3
http:
  timeout_seconds: 5
  max_attempts: 4
  backoff_seconds: 0
storage:
  artifact_dir: /tmp/pdfs
  result_log: /tmp/out.csv
  catalog_path: /tmp/catalog.db
annotate:
  concurrency: 2
  classifier_url: http://classifier:8080
  keyword_rules:
    - category: Optimization
      keywords: [gradient, convex]
logging:
  development: false
  level: debug
server:
  metrics_addr: ":9090"
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RootURL() != "https://proceedings.example/" {
		t.Fatalf("unexpected root url %q", cfg.RootURL())
	}
	if len(cfg.Site.TargetYears) != 1 || cfg.Site.TargetYears[0] != "2019" {
		t.Fatalf("expected target years override, got %v", cfg.Site.TargetYears)
	}
	if cfg.Site.Selectors.Document != "a.paper" || cfg.Site.Selectors.Year == "" {
		t.Fatalf("expected partial selector override: %+v", cfg.Site.Selectors)
	}
	if cfg.Crawler.Concurrency != 8 || !cfg.Crawler.RespectRobots || cfg.Crawler.RateLimitRPS != 2.5 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.HTTP.MaxAttempts != 4 || cfg.Backoff() != 0 {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	if cfg.Storage.CatalogPath != "/tmp/catalog.db" || cfg.Storage.AnnotatedLog != "data/output_annotated.csv" {
		t.Fatalf("expected storage overrides merged with defaults: %+v", cfg.Storage)
	}
	if len(cfg.Annotate.KeywordRules) != 1 || cfg.Annotate.KeywordRules[0].Category != "Optimization" {
		t.Fatalf("expected keyword rules to load: %+v", cfg.Annotate.KeywordRules)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if cfg.Server.MetricsAddr != ":9090" {
		t.Fatalf("expected metrics addr override, got %q", cfg.Server.MetricsAddr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAPERHARVEST_CRAWLER_CONCURRENCY", "12")
	t.Setenv("PAPERHARVEST_STORAGE_RESULT_LOG", "/var/lib/harvest/out.csv")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawler.Concurrency != 12 {
		t.Fatalf("expected concurrency 12, got %d", cfg.Crawler.Concurrency)
	}
	if cfg.Storage.ResultLog != "/var/lib/harvest/out.csv" {
		t.Fatalf("expected result log override, got %q", cfg.Storage.ResultLog)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Site:     SiteConfig{BaseURL: "https://papers.example"},
		Crawler:  CrawlerConfig{Concurrency: 1},
		HTTP:     HTTPConfig{TimeoutSeconds: 10, MaxAttempts: 3},
		Storage:  StorageConfig{ArtifactDir: "pdfs", ResultLog: "out.csv"},
		Annotate: AnnotateConfig{Concurrency: 1, TimeoutSeconds: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "relative base url", mutate: func(c *Config) { c.Site.BaseURL = "/papers" }, want: "site.base_url"},
		{name: "invalid concurrency", mutate: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "negative rate", mutate: func(c *Config) { c.Crawler.RateLimitRPS = -1 }, want: "crawler.rate_limit_rps"},
		{name: "invalid timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "no attempts", mutate: func(c *Config) { c.HTTP.MaxAttempts = 0 }, want: "http.max_attempts"},
		{name: "negative backoff", mutate: func(c *Config) { c.HTTP.BackoffSeconds = -1 }, want: "http.backoff_seconds"},
		{name: "missing result log", mutate: func(c *Config) { c.Storage.ResultLog = "" }, want: "storage.result_log"},
		{name: "annotate concurrency", mutate: func(c *Config) { c.Annotate.Concurrency = 0 }, want: "annotate.concurrency"},
		{name: "annotate timeout", mutate: func(c *Config) { c.Annotate.TimeoutSeconds = 0 }, want: "annotate.timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
