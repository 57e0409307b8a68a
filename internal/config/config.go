package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths" mapstructure:"paths"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Render    RenderConfig    `yaml:"render" mapstructure:"render"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	DeepSeek  DeepSeekConfig  `yaml:"deepseek" mapstructure:"deepseek"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Normalize NormalizeConfig `yaml:"normalize" mapstructure:"normalize"`
	Runlog    RunlogConfig    `yaml:"runlog" mapstructure:"runlog"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates the seed file, the output template, and the data
// directories holding every stage's durable store.
type PathsConfig struct {
	SeedCSV     string `yaml:"seed_csv" mapstructure:"seed_csv"`
	TemplateCSV string `yaml:"template_csv" mapstructure:"template_csv"`
	DataDir     string `yaml:"data_dir" mapstructure:"data_dir"`
}

// PagesDir is where raw listing-page HTML is stored, one file per page.
func (p PathsConfig) PagesDir() string { return filepath.Join(p.DataDir, "raw", "pages") }

// InterimDir holds the per-stage NDJSON stores.
func (p PathsConfig) InterimDir() string { return filepath.Join(p.DataDir, "interim") }

// ManualDir holds the operator-editable review/override file.
func (p PathsConfig) ManualDir() string { return filepath.Join(p.DataDir, "manual") }

// OutputDir holds the exported CSV.
func (p PathsConfig) OutputDir() string { return filepath.Join(p.DataDir, "output") }

// SeedIssuesPath is the store of rejected seed rows.
func (p PathsConfig) SeedIssuesPath() string {
	return filepath.Join(p.InterimDir(), "seed_issues.jsonl")
}

// ListingPagesPath is the discovery stage's listing-page store.
func (p PathsConfig) ListingPagesPath() string {
	return filepath.Join(p.InterimDir(), "phase1_listing_pages.jsonl")
}

// CandidatesPath is the discovery stage's name-candidate store.
func (p PathsConfig) CandidatesPath() string {
	return filepath.Join(p.InterimDir(), "phase1_name_candidates.jsonl")
}

// NamesPath is the discovery stage's professor-name store.
func (p PathsConfig) NamesPath() string {
	return filepath.Join(p.InterimDir(), "phase1_professor_names.jsonl")
}

// EnrichedPath is the enrichment stage store.
func (p PathsConfig) EnrichedPath() string {
	return filepath.Join(p.InterimDir(), "phase2_professors_enriched.jsonl")
}

// NormalizedPath is the normalization stage store.
func (p PathsConfig) NormalizedPath() string {
	return filepath.Join(p.InterimDir(), "phase3_professors_normalized.jsonl")
}

// ReviewPath is the operator-editable normalization review file.
func (p PathsConfig) ReviewPath() string {
	return filepath.Join(p.ManualDir(), "normalization_review.jsonl")
}

// OutputCSVPath is the exported table.
func (p PathsConfig) OutputCSVPath() string {
	return filepath.Join(p.OutputDir(), "professors_output.csv")
}

// CrawlConfig configures the per-seed pagination walk.
type CrawlConfig struct {
	MaxPagesPerSeed int     `yaml:"max_pages_per_seed" mapstructure:"max_pages_per_seed"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryBudget     int     `yaml:"retry_budget" mapstructure:"retry_budget"`
	SeedWorkers     int     `yaml:"seed_workers" mapstructure:"seed_workers"`
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerHost     float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
}

// RenderConfig points at an optional remote rendering service used when a
// listing page needs script execution. An empty URL disables the fallback.
type RenderConfig struct {
	URL         string `yaml:"url" mapstructure:"url"`
	Token       string `yaml:"token" mapstructure:"token"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// LLMConfig selects the model-inference provider.
type LLMConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"` // "deepseek" or "anthropic"
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// DeepSeekConfig holds DeepSeek API settings.
type DeepSeekConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// EnrichConfig configures the enrichment stage.
type EnrichConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// NormalizeConfig configures the normalization stage.
type NormalizeConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
}

// RunlogConfig configures the run-history database.
type RunlogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROFPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("paths.seed_csv", "schools_seed.csv")
	v.SetDefault("paths.template_csv", "professors_template.csv")
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("crawl.max_pages_per_seed", 30)
	v.SetDefault("crawl.timeout_secs", 25)
	v.SetDefault("crawl.retry_budget", 3)
	v.SetDefault("crawl.seed_workers", 1)
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (compatible; ProfPipeBot/1.0)")
	v.SetDefault("crawl.rate_per_host", 2.0)
	v.SetDefault("render.timeout_secs", 40)
	v.SetDefault("llm.provider", "deepseek")
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.max_retries", 4)
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("enrich.workers", 3)
	v.SetDefault("normalize.confidence_threshold", 0.8)
	v.SetDefault("runlog.path", "data/runs.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// LLMKey returns the API key for the configured provider.
func (c *Config) LLMKey() string {
	if c.LLM.Provider == "anthropic" {
		return c.Anthropic.Key
	}
	return c.DeepSeek.Key
}

// ValidateRequireLLM promotes a missing model-inference capability to a
// structural failure, for callers that passed a fail-fast flag.
func (c *Config) ValidateRequireLLM() error {
	if c.LLMKey() == "" {
		return eris.Errorf("config: llm provider %q required but no API key is configured", c.LLM.Provider)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
