package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Catalog  CatalogConfig  `mapstructure:"catalog" yaml:"catalog"`
	Coverage CoverageConfig `mapstructure:"coverage" yaml:"coverage"`
	Crawler  CrawlerConfig  `mapstructure:"crawler" yaml:"crawler"`
	Agents   AgentsConfig   `mapstructure:"agents" yaml:"agents"`
	Pipeline PipelineConfig `mapstructure:"pipeline" yaml:"pipeline"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
}

type ServerConfig struct {
	Port         int    `mapstructure:"port" yaml:"port"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
	ReadTimeout  int    `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Host            string `mapstructure:"host" yaml:"host"`
	Port            int    `mapstructure:"port" yaml:"port"`
	User            string `mapstructure:"user" yaml:"user"`
	Password        string `mapstructure:"password" yaml:"-"`
	DBName          string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode         string `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint. Empty APIBase,
// APIKey and Model fall back to OPENAI_API_BASE, OPENAI_API_KEY and
// MODEL_ID.
type LLMConfig struct {
	APIBase     string  `mapstructure:"api_base" yaml:"api_base"`
	APIKey      string  `mapstructure:"api_key" yaml:"-"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Timeout     int     `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries  int     `mapstructure:"max_retries" yaml:"max_retries"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `mapstructure:"temperature" yaml:"temperature"`
}

type EventsConfig struct {
	ShutdownTimeout int `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type CatalogConfig struct {
	Path   string `mapstructure:"path" yaml:"path"`
	RawDir string `mapstructure:"raw_dir" yaml:"raw_dir"`
}

type CoverageConfig struct {
	K           int   `mapstructure:"k" yaml:"k"`
	Parallelism int   `mapstructure:"parallelism" yaml:"parallelism"`
	Seed        int64 `mapstructure:"seed" yaml:"seed"`
}

type CrawlerConfig struct {
	BaseURL         string `mapstructure:"base_url" yaml:"base_url"`
	OutputDir       string `mapstructure:"output_dir" yaml:"output_dir"`
	UserAgent       string `mapstructure:"user_agent" yaml:"user_agent"`
	Referer         string `mapstructure:"referer" yaml:"referer"`
	RequestInterval int    `mapstructure:"request_interval_ms" yaml:"request_interval_ms"`
	Timeout         int    `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries"`
	SkipSections    int    `mapstructure:"skip_sections" yaml:"skip_sections"`
}

type AgentsConfig struct {
	SystemPrompt string `mapstructure:"system_prompt" yaml:"system_prompt"`
	Library      string `mapstructure:"library" yaml:"library"`
	Mode         string `mapstructure:"mode" yaml:"mode"`
	MaxRounds    int    `mapstructure:"max_rounds" yaml:"max_rounds"`
	UseEvaluator bool   `mapstructure:"use_evaluator" yaml:"use_evaluator"`
}

type PipelineConfig struct {
	Workers         int     `mapstructure:"workers" yaml:"workers"`
	Iterations      int     `mapstructure:"iterations" yaml:"iterations"`
	TargetCoverage  float64 `mapstructure:"target_coverage" yaml:"target_coverage"`
	ShutdownTimeout int     `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DumpCompletions bool    `mapstructure:"dump_completions" yaml:"dump_completions"`
	// FailureBackoffMS is the first pause a worker takes after a failed
	// attempt. It doubles on each consecutive failure. Zero disables it.
	FailureBackoffMS int `mapstructure:"failure_backoff_ms" yaml:"failure_backoff_ms"`
}

type RunConfig struct {
	RunsDir string `mapstructure:"runs_dir" yaml:"runs_dir"`
	Resume  bool   `mapstructure:"resume" yaml:"resume"`
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// Agent generation modes
const (
	ModeExplicit = "explicit"
	ModeImplicit = "implicit"
)

func Load() (*Config, error) {
	return LoadWith(viper.GetViper())
}

// LoadWith reads configuration through v, which lets the CLI bind flags
// before the file and environment are merged.
func LoadWith(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	// Set defaults
	setDefaults(v)

	// Enable environment variable support
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	runsDir, err := expandPath(config.Run.RunsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve runs_dir: %w", err)
	}
	config.Run.RunsDir = runsDir

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "lcmeval")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)

	v.SetDefault("llm.api_base", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.timeout", 120)
	v.SetDefault("llm.max_retries", 0)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.0)

	v.SetDefault("events.shutdown_timeout", 10)

	v.SetDefault("catalog.path", "numpy_apis/apis.csv")
	v.SetDefault("catalog.raw_dir", "numpy_apis/raw")

	v.SetDefault("coverage.k", 1)
	v.SetDefault("coverage.parallelism", 0) // 0 = GOMAXPROCS
	v.SetDefault("coverage.seed", 0)        // 0 = time seeded

	v.SetDefault("crawler.base_url", "https://numpy.org/doc/stable/reference")
	v.SetDefault("crawler.output_dir", "numpy_apis/raw")
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("crawler.referer", "https://numpy.org/")
	v.SetDefault("crawler.request_interval_ms", 1000)
	v.SetDefault("crawler.timeout", 30)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.skip_sections", 21)

	v.SetDefault("agents.system_prompt", "You are a NumPy expert and proficient in the usage of various APIs of NumPy.")
	v.SetDefault("agents.library", "NumPy")
	v.SetDefault("agents.mode", ModeExplicit)
	v.SetDefault("agents.max_rounds", 5)
	v.SetDefault("agents.use_evaluator", false)

	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.iterations", 10)
	v.SetDefault("pipeline.target_coverage", 1.0)
	v.SetDefault("pipeline.shutdown_timeout", 30)
	v.SetDefault("pipeline.dump_completions", true)
	v.SetDefault("pipeline.failure_backoff_ms", 500)

	v.SetDefault("run.runs_dir", "runs")
	v.SetDefault("run.resume", false)
	v.SetDefault("run.log_file", "run.log")
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	if c.Coverage.K < 1 {
		return ValidationError{Field: "coverage.k", Value: c.Coverage.K, Message: "must be at least 1"}
	}
	if c.Pipeline.Workers <= 0 {
		return ValidationError{Field: "pipeline.workers", Value: c.Pipeline.Workers, Message: "must be greater than 0"}
	}
	if c.Pipeline.Iterations < 0 {
		return ValidationError{Field: "pipeline.iterations", Value: c.Pipeline.Iterations, Message: "must not be negative"}
	}
	if c.Pipeline.TargetCoverage < 0 || c.Pipeline.TargetCoverage > 1 {
		return ValidationError{Field: "pipeline.target_coverage", Value: c.Pipeline.TargetCoverage, Message: "must be within [0, 1]"}
	}
	if c.Pipeline.ShutdownTimeout <= 0 {
		return ValidationError{Field: "pipeline.shutdown_timeout", Value: c.Pipeline.ShutdownTimeout, Message: "must be greater than 0"}
	}
	if c.Pipeline.FailureBackoffMS < 0 {
		return ValidationError{Field: "pipeline.failure_backoff_ms", Value: c.Pipeline.FailureBackoffMS, Message: "must not be negative"}
	}
	if c.Agents.Mode != ModeExplicit && c.Agents.Mode != ModeImplicit {
		return ValidationError{Field: "agents.mode", Value: c.Agents.Mode, Message: "must be explicit or implicit"}
	}
	if c.Agents.MaxRounds <= 0 {
		return ValidationError{Field: "agents.max_rounds", Value: c.Agents.MaxRounds, Message: "must be greater than 0"}
	}
	if c.LLM.Timeout <= 0 {
		return ValidationError{Field: "llm.timeout", Value: c.LLM.Timeout, Message: "must be greater than 0"}
	}
	if c.LLM.MaxRetries < 0 {
		return ValidationError{Field: "llm.max_retries", Value: c.LLM.MaxRetries, Message: "must not be negative"}
	}
	return nil
}

// SeedPtr returns the configured sampling seed, or nil when unset.
func (c CoverageConfig) SeedPtr() *int64 {
	if c.Seed == 0 {
		return nil
	}
	seed := c.Seed
	return &seed
}

// Dump writes cfg as config.yaml into dir. An existing file is kept as
// config.bak.<timestamp>.yaml.
func Dump(cfg *Config, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create runs dir: %w", err)
	}

	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		backup := filepath.Join(dir, fmt.Sprintf("config.bak.%s.yaml", time.Now().Format("20060102150405")))
		if err := os.Rename(path, backup); err != nil {
			return "", fmt.Errorf("failed to back up previous config: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// ValidationError reports an unusable configuration value.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for field %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
