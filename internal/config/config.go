package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS    NATSConfig    `yaml:"nats"`
	Store   StoreConfig   `yaml:"store"`
	Web     WebConfig     `yaml:"web"`
	Pool    PoolConfig    `yaml:"pool"`
	Engine  EngineConfig  `yaml:"engine"`
	LLM     LLMConfig     `yaml:"llm"`
	Build   BuildConfig   `yaml:"build"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Review  ReviewConfig  `yaml:"review"`
	Janitor JanitorConfig `yaml:"janitor"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
	// Passphrase enables encryption of agent blobs at rest.
	Passphrase string `yaml:"passphrase"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type PoolConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	SlotWaitTimeout  time.Duration `yaml:"slot_wait_timeout"`
	SlotPollInterval time.Duration `yaml:"slot_poll_interval"`
	IDPrefix         string        `yaml:"id_prefix"`
}

type EngineConfig struct {
	MaxIterations     int           `yaml:"max_iterations"`
	MaxBuildFailures  int           `yaml:"max_build_failures"`
	MaxReviewRounds   int           `yaml:"max_review_rounds"`
	ChildPollInterval time.Duration `yaml:"child_poll_interval"`
	ChildWaitTimeout  time.Duration `yaml:"child_wait_timeout"`
	FeedbackTimeout   time.Duration `yaml:"feedback_timeout"`
	TraceDir          string        `yaml:"trace_dir"`
	// Language of user-facing text in generated pages and messages.
	Language string `yaml:"language"`
}

type LLMConfig struct {
	Backends            []BackendConfig `yaml:"backends"`
	DifficultyThreshold int             `yaml:"difficulty_threshold"`
	ConnectTimeout      time.Duration   `yaml:"connect_timeout"`
	ReadTimeout         time.Duration   `yaml:"read_timeout"`
	WriteTimeout        time.Duration   `yaml:"write_timeout"`
}

// BackendConfig describes one text-generation endpoint. Provider is
// "openai" (any OpenAI-compatible streaming API) or "gemini".
type BackendConfig struct {
	Name        string  `yaml:"name"`
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Advanced    bool    `yaml:"advanced"`
}

type BuildConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type DeployConfig struct {
	URL           string        `yaml:"url"`
	AccessKey     string        `yaml:"access_key"`
	ExpiresInDays int           `yaml:"expires_in_days"`
	Retries       int           `yaml:"retries"`
	Backoff       time.Duration `yaml:"backoff"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ReviewConfig tunes the pre-deploy review. Standard is "strict",
// "standard" or "lenient".
type ReviewConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Attempts int    `yaml:"attempts"`
	Standard string `yaml:"standard"`
}

type JanitorConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

func defaults() Config {
	return Config{
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/webforge.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Pool: PoolConfig{
			MaxConcurrent:    5,
			SlotWaitTimeout:  5 * time.Minute,
			SlotPollInterval: 2 * time.Second,
			IDPrefix:         "Web",
		},
		Engine: EngineConfig{
			MaxIterations:     20,
			MaxBuildFailures:  3,
			MaxReviewRounds:   3,
			ChildPollInterval: 3 * time.Second,
			ChildWaitTimeout:  30 * time.Minute,
			FeedbackTimeout:   24 * time.Hour,
			TraceDir:          "data/traces",
		},
		LLM: LLMConfig{
			DifficultyThreshold: 4,
			ConnectTimeout:      10 * time.Second,
			ReadTimeout:         120 * time.Second,
			WriteTimeout:        30 * time.Second,
		},
		Build: BuildConfig{
			URL:     "http://localhost:8787",
			Timeout: 2 * time.Minute,
		},
		Deploy: DeployConfig{
			ExpiresInDays: 30,
			Retries:       3,
			Backoff:       time.Second,
			Timeout:       30 * time.Second,
		},
		Review: ReviewConfig{
			Enabled:  true,
			Attempts: 3,
			Standard: "standard",
		},
		Janitor: JanitorConfig{
			Schedule: "*/15 * * * *",
			MaxAge:   72 * time.Hour,
		},
	}
}

// Path returns the config file location.
func Path() string {
	if path := os.Getenv("WEBFORGE_CONFIG"); path != "" {
		return path
	}
	return "config/webforge.yaml"
}

func Load() (*Config, error) {
	return LoadFile(Path())
}

func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Pool.MaxConcurrent < 1 {
		return fmt.Errorf("pool.max_concurrent must be positive")
	}
	if c.Engine.MaxBuildFailures < 1 {
		return fmt.Errorf("engine.max_build_failures must be positive")
	}
	switch c.Review.Standard {
	case "strict", "standard", "lenient":
	default:
		return fmt.Errorf("review.standard: unknown value %q", c.Review.Standard)
	}
	for i, b := range c.LLM.Backends {
		switch b.Provider {
		case "openai", "gemini":
		default:
			return fmt.Errorf("llm.backends[%d]: unknown provider %q", i, b.Provider)
		}
		if b.Model == "" {
			return fmt.Errorf("llm.backends[%d]: model is required", i)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("WEBFORGE_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("WEBFORGE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("WEBFORGE_STORE_PASSPHRASE"); v != "" {
		cfg.Store.Passphrase = v
	}
	if v := os.Getenv("WEBFORGE_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("WEBFORGE_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("WEBFORGE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxConcurrent = n
		}
	}
	if v := os.Getenv("WEBFORGE_BUILD_URL"); v != "" {
		cfg.Build.URL = v
	}
	if v := os.Getenv("WEBFORGE_DEPLOY_URL"); v != "" {
		cfg.Deploy.URL = v
	}
	if v := os.Getenv("WEBFORGE_DEPLOY_KEY"); v != "" {
		cfg.Deploy.AccessKey = v
	}
	// Provider keys fill backends that leave api_key empty.
	for i := range cfg.LLM.Backends {
		b := &cfg.LLM.Backends[i]
		if b.APIKey != "" {
			continue
		}
		switch b.Provider {
		case "openai":
			b.APIKey = os.Getenv("OPENAI_API_KEY")
		case "gemini":
			b.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// LogLevel parses WEBFORGE_LOG_LEVEL, defaulting to info.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("WEBFORGE_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
