// Package config loads and validates Spacebot kernel configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level kernel configuration, loaded from YAML with
// environment overrides applied on top.
type Config struct {
	Kernel    KernelConfig    `yaml:"kernel"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Compactor CompactorConfig `yaml:"compactor"`
	Cortex    CortexConfig    `yaml:"cortex"`
	Channel   ChannelConfig   `yaml:"channel"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// KernelConfig names the agent instance and its data directory.
type KernelConfig struct {
	AgentName string `yaml:"agent_name"`
	DataDir   string `yaml:"data_dir"`
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "genai"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`
}

// MemoryConfig configures the Memory Pipeline, its storage, and embeddings.
type MemoryConfig struct {
	DatabasePath     string  `yaml:"database_path"`
	EmbeddingConfig  EmbeddingConfig `yaml:"embedding"`
	RRFK             float64 `yaml:"rrf_k"`
	MaxResultsPerSource int  `yaml:"max_results_per_source"`
	MaxGraphDepth    int     `yaml:"max_graph_depth"`
	UpdatesThreshold float64 `yaml:"updates_threshold"`
	DecayInterval    string  `yaml:"decay_interval"`
	ImportanceFloor  float64 `yaml:"importance_floor"`
	MergeThreshold   float64 `yaml:"merge_threshold"`
}

// EmbeddingConfig selects and configures an embedding backend.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	TaskType       string `yaml:"task_type"`
}

// CompactorConfig configures tiered context-pressure responses.
type CompactorConfig struct {
	ThresholdSoft      float64 `yaml:"threshold_soft"`
	ThresholdHard      float64 `yaml:"threshold_hard"`
	ThresholdEmergency float64 `yaml:"threshold_emergency"`
	SoftSummarizeTarget float64 `yaml:"soft_summarize_target"`
	HardSummarizeTarget float64 `yaml:"hard_summarize_target"`
	WorkerBudget       string  `yaml:"worker_budget"`
}

// CortexConfig configures the bulletin generation loop.
type CortexConfig struct {
	Interval          string `yaml:"interval"`
	BulletinMaxWords  int    `yaml:"bulletin_max_words"`
	RecallCapPerKind  int    `yaml:"recall_cap_per_kind"`
	StartupRetries    int    `yaml:"startup_retries"`
	StartupRetryDelay string `yaml:"startup_retry_delay"`
	MaxTurns          int    `yaml:"max_turns"`
}

// ChannelConfig configures per-Channel concurrency and visibility knobs.
type ChannelConfig struct {
	MaxConcurrentBranches  int    `yaml:"max_concurrent_branches"`
	MaxTurnSteps           int    `yaml:"max_turn_steps"`
	BranchVisibilityDelay  string `yaml:"branch_visibility_delay"`
	TerminalRetentionWindow string `yaml:"terminal_retention_window"`
	CoalesceWindow         string `yaml:"coalesce_window"`
	SeenInboundRetention    int   `yaml:"seen_inbound_retention"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
	Debug  bool   `yaml:"debug"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Kernel: KernelConfig{
			AgentName: "spacebot",
			DataDir:   "data",
		},
		LLM: LLMConfig{
			Provider: "genai",
			Model:    "gemini-2.0-flash",
			Timeout:  "120s",
		},
		Memory: MemoryConfig{
			DatabasePath: "data/spacebot.db",
			EmbeddingConfig: EmbeddingConfig{
				Provider:       "ollama",
				OllamaEndpoint: "http://localhost:11434",
				OllamaModel:    "embeddinggemma",
				GenAIModel:     "gemini-embedding-001",
				TaskType:       "SEMANTIC_SIMILARITY",
			},
			RRFK:                60.0,
			MaxResultsPerSource: 50,
			MaxGraphDepth:       2,
			UpdatesThreshold:    0.9,
			DecayInterval:       "24h",
			ImportanceFloor:     0.05,
			MergeThreshold:      0.95,
		},
		Compactor: CompactorConfig{
			ThresholdSoft:       0.80,
			ThresholdHard:       0.85,
			ThresholdEmergency:  0.95,
			SoftSummarizeTarget: 0.30,
			HardSummarizeTarget: 0.50,
			WorkerBudget:        "5m",
		},
		Cortex: CortexConfig{
			Interval:          "60m",
			BulletinMaxWords:  1500,
			RecallCapPerKind:  25,
			StartupRetries:    3,
			StartupRetryDelay: "15s",
			MaxTurns:          20,
		},
		Channel: ChannelConfig{
			MaxConcurrentBranches:   5,
			MaxTurnSteps:            5,
			BranchVisibilityDelay:   "3s",
			TerminalRetentionWindow: "5m",
			CoalesceWindow:          "250ms",
			SeenInboundRetention:    1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "spacebot.log",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides on top of a
// loaded or default configuration.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.Memory.EmbeddingConfig.GenAIAPIKey == "" {
			c.Memory.EmbeddingConfig.GenAIAPIKey = key
		}
	}
	if path := os.Getenv("SPACEBOT_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if dir := os.Getenv("SPACEBOT_DATA_DIR"); dir != "" {
		c.Kernel.DataDir = dir
	}
	if ep := os.Getenv("OLLAMA_ENDPOINT"); ep != "" {
		c.Memory.EmbeddingConfig.OllamaEndpoint = ep
	}
	if _, ok := os.LookupEnv("SPACEBOT_DEBUG"); ok {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY)")
	}
	if c.Compactor.ThresholdSoft >= c.Compactor.ThresholdHard {
		return fmt.Errorf("compactor threshold_soft (%.2f) must be below threshold_hard (%.2f)", c.Compactor.ThresholdSoft, c.Compactor.ThresholdHard)
	}
	if c.Compactor.ThresholdHard >= c.Compactor.ThresholdEmergency {
		return fmt.Errorf("compactor threshold_hard (%.2f) must be below threshold_emergency (%.2f)", c.Compactor.ThresholdHard, c.Compactor.ThresholdEmergency)
	}
	if c.Channel.MaxConcurrentBranches <= 0 {
		return fmt.Errorf("channel.max_concurrent_branches must be positive")
	}
	return nil
}

// GetLLMTimeout returns the LLM call timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetCortexInterval returns the Cortex bulletin interval as a duration.
func (c *Config) GetCortexInterval() time.Duration {
	d, err := time.ParseDuration(c.Cortex.Interval)
	if err != nil {
		return 60 * time.Minute
	}
	return d
}

// GetCortexStartupRetryDelay returns the Cortex startup retry delay.
func (c *Config) GetCortexStartupRetryDelay() time.Duration {
	d, err := time.ParseDuration(c.Cortex.StartupRetryDelay)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// GetBranchVisibilityDelay returns the Status Projection's Branch visibility
// delay as a duration.
func (c *Config) GetBranchVisibilityDelay() time.Duration {
	d, err := time.ParseDuration(c.Channel.BranchVisibilityDelay)
	if err != nil {
		return 3 * time.Second
	}
	return d
}

// GetTerminalRetentionWindow returns the Status Projection's terminal
// retention window as a duration.
func (c *Config) GetTerminalRetentionWindow() time.Duration {
	d, err := time.ParseDuration(c.Channel.TerminalRetentionWindow)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetCoalesceWindow returns the Channel's inbound coalescing window.
func (c *Config) GetCoalesceWindow() time.Duration {
	d, err := time.ParseDuration(c.Channel.CoalesceWindow)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// GetDecayInterval returns the Memory Pipeline's maintenance decay interval.
func (c *Config) GetDecayInterval() time.Duration {
	d, err := time.ParseDuration(c.Memory.DecayInterval)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetCompactionWorkerBudget returns the compaction Worker's step/time budget.
func (c *Config) GetCompactionWorkerBudget() time.Duration {
	d, err := time.ParseDuration(c.Compactor.WorkerBudget)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}
