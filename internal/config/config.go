// Package config loads the orchestrator's configuration: a viper-backed,
// mapstructure-tagged struct tree with an XDG-aware user config path and
// a project-local override file, covering every option group the engine
// exposes (merge queue, meta-planner, convergence, substrate registry,
// alignment, HTTP servers).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every configurable option group.
type Config struct {
	MergeQueue   MergeQueueConfig   `mapstructure:"merge_queue"`
	MetaPlanner  MetaPlannerConfig  `mapstructure:"meta_planner"`
	Convergence  ConvergenceConfig  `mapstructure:"convergence"`
	Substrates   SubstrateRegistryConfig `mapstructure:"substrates"`
	Alignment    AlignmentConfig    `mapstructure:"alignment"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	DataDir      string             `mapstructure:"data_dir"`
}

// MergeQueueConfig mirrors the merge queue option group.
type MergeQueueConfig struct {
	RepoPath                   string `mapstructure:"repo_path"`
	MainBranch                 string `mapstructure:"main_branch"`
	RequireVerification        bool   `mapstructure:"require_verification"`
	AutoRetry                  bool   `mapstructure:"auto_retry"`
	MaxRetries                 int    `mapstructure:"max_retries"`
	RouteConflictsToSpecialist bool   `mapstructure:"route_conflicts_to_specialist"`
}

// MetaPlannerConfig mirrors the meta-planner option group.
type MetaPlannerConfig struct {
	MaxDecompositionDepth   int    `mapstructure:"max_decomposition_depth"`
	DefaultAgentTier        string `mapstructure:"default_agent_tier"`
	AutoGenerateAgents      bool   `mapstructure:"auto_generate_agents"`
	MaxTasksPerDecomposition int   `mapstructure:"max_tasks_per_decomposition"`
	UseLLMDecomposition     bool   `mapstructure:"use_llm_decomposition"`
}

// ConvergenceConfig mirrors the convergence option group.
type ConvergenceConfig struct {
	MinConfidenceThreshold    float64 `mapstructure:"min_confidence_threshold"`
	AutoRetryPartial          bool    `mapstructure:"auto_retry_partial"`
	MaxFreshStarts            int     `mapstructure:"max_fresh_starts"`
	MaxParallelTrajectories   int     `mapstructure:"max_parallel_trajectories"`
	EnableProactiveDecomposition bool `mapstructure:"enable_proactive_decomposition"`
	EventEmissionEnabled      bool    `mapstructure:"event_emission_enabled"`
}

// SubstrateConfig is one entry in the substrate registry.
type SubstrateConfig struct {
	Model           string        `mapstructure:"model"`
	BaseURL         string        `mapstructure:"base_url"`
	CommandTemplate string        `mapstructure:"command_template"`
	APIKey          string        `mapstructure:"api_key"`
	TimeoutSecs     int           `mapstructure:"timeout_secs"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialBackoffMs int          `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs    int           `mapstructure:"max_backoff_ms"`
}

// SubstrateRegistryConfig mirrors the substrate registry option
// group.
type SubstrateRegistryConfig struct {
	Enabled         []string                   `mapstructure:"enabled"`
	Default         string                     `mapstructure:"default"`
	AgentMappings   map[string]string          `mapstructure:"agent_mappings"`
	PerSubstrate    map[string]SubstrateConfig `mapstructure:"per_substrate"`
}

// AlignmentConfig mirrors the alignment option group.
type AlignmentConfig struct {
	MinAlignmentScore          float64 `mapstructure:"min_alignment_score"`
	PriorityWeight              float64 `mapstructure:"priority_weight"`
	ConstraintViolationPenalty  float64 `mapstructure:"constraint_violation_penalty"`
	CheckAllActiveGoals         bool    `mapstructure:"check_all_active_goals"`
	MinGoalsSatisfied           int     `mapstructure:"min_goals_satisfied"`
}

// HTTPConfig mirrors the HTTP servers option group.
type HTTPConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	EnableCORS bool   `mapstructure:"enable_cors"`
}

// Load loads configuration with the usual precedence order (highest to
// lowest): environment variables (SWARM_* prefix), project config
// (.swarm.yaml in cwd or a parent), user config
// (~/.config/swarm/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("SWARM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	for name, sub := range cfg.Substrates.PerSubstrate {
		sub.APIKey = os.ExpandEnv(sub.APIKey)
		cfg.Substrates.PerSubstrate[name] = sub
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path (tests,
// `swarmctl --config`).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with the stock defaults.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")

	v.SetDefault("merge_queue.main_branch", "main")
	v.SetDefault("merge_queue.require_verification", true)
	v.SetDefault("merge_queue.auto_retry", true)
	v.SetDefault("merge_queue.max_retries", 3)
	v.SetDefault("merge_queue.route_conflicts_to_specialist", true)

	v.SetDefault("meta_planner.max_decomposition_depth", 10)
	v.SetDefault("meta_planner.default_agent_tier", "worker")
	v.SetDefault("meta_planner.auto_generate_agents", false)
	v.SetDefault("meta_planner.max_tasks_per_decomposition", 20)
	v.SetDefault("meta_planner.use_llm_decomposition", true)

	v.SetDefault("convergence.min_confidence_threshold", 0.9)
	v.SetDefault("convergence.auto_retry_partial", false)
	v.SetDefault("convergence.max_fresh_starts", 3)
	v.SetDefault("convergence.max_parallel_trajectories", 4)
	v.SetDefault("convergence.enable_proactive_decomposition", true)
	v.SetDefault("convergence.event_emission_enabled", true)

	v.SetDefault("substrates.enabled", []string{"mock"})
	v.SetDefault("substrates.default", "mock")
	v.SetDefault("substrates.per_substrate.cli.command_template", "claude --print --output-format stream-json")

	v.SetDefault("alignment.min_alignment_score", 0.6)
	v.SetDefault("alignment.priority_weight", 1.5)
	v.SetDefault("alignment.constraint_violation_penalty", 0.3)
	v.SetDefault("alignment.check_all_active_goals", true)
	v.SetDefault("alignment.min_goals_satisfied", 1)

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8787)
	v.SetDefault("http.enable_cors", false)
}

// UserConfigDir returns the per-user configuration directory, honoring
// XDG_CONFIG_HOME.
func UserConfigDir() string { return getUserConfigDir() }

func getUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "swarm")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "swarm")
	}
	return filepath.Join(home, ".config", "swarm")
}

// findProjectConfig walks up from the current directory looking for
// .swarm.yaml.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		p := filepath.Join(cwd, ".swarm.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// GlobalDataDir returns the XDG data directory swarmd uses for its SQLite
// store and worktree registry when DataDir is unset.
func (c *Config) GlobalDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "swarm")
}

// SubstrateTimeout returns cfg's per-call timeout as a time.Duration.
func (c SubstrateConfig) SubstrateTimeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 120 * time.Second
	}
	return time.Duration(c.TimeoutSecs) * time.Second
}
