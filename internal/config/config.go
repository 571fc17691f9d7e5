package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main Pensieve configuration
type Config struct {
	// Directory watched for incoming screen captures
	WatchDir string `json:"watch_dir" mapstructure:"watch_dir"`

	// Data directory (databases, pid file, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Capture admission
	Capture CaptureConfig `json:"capture" mapstructure:"capture"`

	// Batch scheduling
	Batch BatchConfig `json:"batch" mapstructure:"batch"`

	// Batch analysis
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`

	// Entity reconciliation
	Entities EntitiesConfig `json:"entities" mapstructure:"entities"`

	// Retention sweep
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`
}

// CaptureConfig holds deduplication settings
type CaptureConfig struct {
	Threshold        int  `json:"threshold" mapstructure:"threshold"`                 // max Hamming distance for a duplicate
	WindowSize       int  `json:"window_size" mapstructure:"window_size"`             // recency set capacity
	DeleteDuplicates bool `json:"delete_duplicates" mapstructure:"delete_duplicates"` // remove duplicate files from disk
}

// BatchConfig holds batch accumulation settings
type BatchConfig struct {
	Size           int `json:"size" mapstructure:"size"`
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxRawCaptures int `json:"max_raw_captures" mapstructure:"max_raw_captures"`
}

// Timeout returns the batch timeout as a duration.
func (b BatchConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// AnalysisConfig holds vision model settings
type AnalysisConfig struct {
	Model       string  `json:"model" mapstructure:"model"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
}

// EntitiesConfig holds entity reconciliation settings
type EntitiesConfig struct {
	Enabled        bool    `json:"enabled" mapstructure:"enabled"`
	EmbeddingModel string  `json:"embedding_model" mapstructure:"embedding_model"`
	SimilarityMin  float64 `json:"similarity_min" mapstructure:"similarity_min"`
	CandidateLimit int     `json:"candidate_limit" mapstructure:"candidate_limit"`
	MaxHops        int     `json:"max_hops" mapstructure:"max_hops"`
}

// RetentionConfig holds the record retention sweep settings
type RetentionConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	MaxAge   int    `json:"max_age" mapstructure:"max_age"` // days
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Capture: CaptureConfig{
			Threshold:  2,
			WindowSize: 20,
		},
		Batch: BatchConfig{
			Size:           10,
			TimeoutSeconds: 20,
			MaxRawCaptures: 5,
		},
		Analysis: AnalysisConfig{
			Model:       "claude-sonnet-4",
			MaxTokens:   4096,
			Temperature: 0.2,
		},
		Entities: EntitiesConfig{
			Enabled:        true,
			EmbeddingModel: "text-embedding-3-small",
			SimilarityMin:  0.80,
			CandidateLimit: 3,
			MaxHops:        2,
		},
		Retention: RetentionConfig{
			Enabled:  false,
			MaxAge:   30,
			Schedule: "0 3 * * *",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9194,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.WatchDir == "" {
		return fmt.Errorf("watch_dir is required")
	}

	if c.Capture.Threshold < 0 {
		return fmt.Errorf("capture threshold must not be negative")
	}
	if c.Capture.WindowSize < 1 {
		return fmt.Errorf("capture window_size must be at least 1")
	}

	if c.Batch.Size < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.Batch.TimeoutSeconds < 1 {
		return fmt.Errorf("batch timeout_seconds must be at least 1")
	}
	if c.Batch.MaxRawCaptures < 1 {
		return fmt.Errorf("batch max_raw_captures must be at least 1")
	}

	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	if c.Entities.Enabled && c.Entities.EmbeddingModel == "" {
		return fmt.Errorf("entities embedding_model is required when entity reconciliation is enabled")
	}

	if c.Retention.Enabled {
		if c.Retention.MaxAge < 1 {
			return fmt.Errorf("retention max_age must be at least 1 day")
		}
		if c.Retention.Schedule == "" {
			return fmt.Errorf("retention schedule is required when retention is enabled")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics port must be between 1 and 65535")
	}

	return nil
}

// PrimaryProfile returns the highest-priority AI profile.
func (c *Config) PrimaryProfile() (AIProfile, error) {
	if len(c.AI.Profiles) == 0 {
		return AIProfile{}, fmt.Errorf("no AI profiles configured")
	}
	best := c.AI.Profiles[0]
	for _, p := range c.AI.Profiles[1:] {
		if p.Priority > best.Priority {
			best = p
		}
	}
	return best, nil
}

// OpenAIKey returns the API key of the first openai profile, if any.
func (c *Config) OpenAIKey() string {
	for _, p := range c.AI.Profiles {
		if p.Provider == "openai" {
			return p.APIKey
		}
	}
	return ""
}
