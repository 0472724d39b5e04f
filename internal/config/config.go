package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/toolplan/toolplan/internal/policy"
	"github.com/toolplan/toolplan/internal/scheduler"
)

type Config struct {
	DataDir   string          `yaml:"data_dir"`
	Registry  string          `yaml:"registry"` // path to the tool catalog
	Executor  ExecutorConfig  `yaml:"executor"`
	Cache     CacheConfig     `yaml:"cache"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ExecutorConfig tunes retries and concurrency. Durations are strings in
// time.ParseDuration syntax.
type ExecutorConfig struct {
	MaxRetries     int    `yaml:"max_retries"`
	BackoffBase    string `yaml:"backoff_base"`
	StepTimeout    string `yaml:"step_timeout"`
	PlanDeadline   string `yaml:"plan_deadline"`
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// Policy converts the retry settings into an executor policy.
func (e ExecutorConfig) Policy() (policy.Policy, error) {
	backoff, err := parseDuration("executor.backoff_base", e.BackoffBase)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.Policy{MaxRetries: e.MaxRetries, BackoffBase: backoff}, nil
}

func (e ExecutorConfig) StepTimeoutDuration() (time.Duration, error) {
	return parseDuration("executor.step_timeout", e.StepTimeout)
}

func (e ExecutorConfig) PlanDeadlineDuration() (time.Duration, error) {
	if e.PlanDeadline == "" {
		return 0, nil
	}
	return parseDuration("executor.plan_deadline", e.PlanDeadline)
}

// CacheConfig picks the result cache backend: "memory" (default) or "redis".
type CacheConfig struct {
	Backend string `yaml:"backend"`
	Addr    string `yaml:"addr"` // redis only
}

// BreakerConfig mirrors policy.BreakerConfig with string durations.
type BreakerConfig struct {
	Window           string  `yaml:"window"`
	Buckets          int     `yaml:"buckets"`
	MinRequests      int     `yaml:"min_requests"`
	FailureThreshold float64 `yaml:"failure_threshold"`
	Cooldown         string  `yaml:"cooldown"`
}

// Build converts to the runtime breaker configuration.
func (b BreakerConfig) Build() (policy.BreakerConfig, error) {
	window, err := parseDuration("breaker.window", b.Window)
	if err != nil {
		return policy.BreakerConfig{}, err
	}
	if window <= 0 {
		return policy.BreakerConfig{}, fmt.Errorf("config: breaker.window must be positive")
	}
	cooldown, err := parseDuration("breaker.cooldown", b.Cooldown)
	if err != nil {
		return policy.BreakerConfig{}, err
	}
	return policy.BreakerConfig{
		Window:           window,
		Buckets:          b.Buckets,
		MinRequests:      b.MinRequests,
		FailureThreshold: b.FailureThreshold,
		Cooldown:         cooldown,
	}, nil
}

type SchedulerConfig struct {
	Jobs           []scheduler.Job `yaml:"jobs"`
	Approvers      []string        `yaml:"approvers"`
	MaxJobsPerUser int             `yaml:"max_jobs_per_user"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)}`)

func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", field)
	}
	return d, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.Executor.MaxRetries == 0 {
		cfg.Executor.MaxRetries = 2
	}
	if cfg.Executor.BackoffBase == "" {
		cfg.Executor.BackoffBase = "250ms"
	}
	if cfg.Executor.StepTimeout == "" {
		cfg.Executor.StepTimeout = "10s"
	}
	if cfg.Executor.MaxConcurrency == 0 {
		cfg.Executor.MaxConcurrency = 4
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	def := policy.DefaultBreakerConfig()
	if cfg.Breaker.Window == "" {
		cfg.Breaker.Window = def.Window.String()
	}
	if cfg.Breaker.Buckets == 0 {
		cfg.Breaker.Buckets = def.Buckets
	}
	if cfg.Breaker.MinRequests == 0 {
		cfg.Breaker.MinRequests = def.MinRequests
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = def.FailureThreshold
	}
	if cfg.Breaker.Cooldown == "" {
		cfg.Breaker.Cooldown = def.Cooldown.String()
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults, expands ${ENV} references in paths
// and addresses, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	cfg.DataDir = expandEnv(cfg.DataDir)
	cfg.Registry = expandEnv(cfg.Registry)
	cfg.Cache.Addr = expandEnv(cfg.Cache.Addr)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.Cache.Backend {
	case "memory":
	case "redis":
		if cfg.Cache.Addr == "" {
			return fmt.Errorf("config: cache.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown cache backend %q", cfg.Cache.Backend)
	}
	if cfg.Executor.MaxRetries < 0 {
		return fmt.Errorf("config: executor.max_retries must not be negative")
	}
	if _, err := cfg.Executor.Policy(); err != nil {
		return err
	}
	if _, err := cfg.Executor.StepTimeoutDuration(); err != nil {
		return err
	}
	if _, err := cfg.Executor.PlanDeadlineDuration(); err != nil {
		return err
	}
	if _, err := cfg.Breaker.Build(); err != nil {
		return err
	}
	return nil
}
