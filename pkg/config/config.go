package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Request   RequestConfig   `yaml:"request"`
	Log       LogConfig       `yaml:"log"`
	DB        DBConfig        `yaml:"db"`
	Server    ServerConfig    `yaml:"server"`
	Tags      TagsConfig      `yaml:"tags"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Rank      RankConfig      `yaml:"rank"`
	Agent     AgentConfig     `yaml:"agent"`
}

// RequestConfig holds outbound HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// LLMConfig holds settings for the Large Language Model provider.
type LLMConfig struct {
	Provider string            `yaml:"provider"` // "openai", "gemini"
	BaseURL  string            `yaml:"base_url"` // OpenAI-compatible root, e.g. https://api.openai.com/v1
	Key      string            `yaml:"key"`      // API Key (env fallback: OPENAI_API_KEY / GEMINI_API_KEY)
	Profiles map[string]string `yaml:"profiles"` // Map of intent -> model
	LogPath  string            `yaml:"log_path"` // Prompt/response log, empty disables
}

// TagsConfig holds settings for the controlled tag vocabulary.
type TagsConfig struct {
	Dir     string `yaml:"dir"`     // Directory holding tag_schema_<version>.json files
	Version string `yaml:"version"` // Active schema version, e.g. "v1.0.0"
}

// RetrievalConfig holds settings for the candidate retrieval layer.
type RetrievalConfig struct {
	DefaultLimit  int  `yaml:"default_limit"`  // Per-primitive candidate cap
	LLMSQLEnabled bool `yaml:"llm_sql"`        // Allow LLM-synthesised SQL before the cascade
	SQLRepairMax  int  `yaml:"sql_repair_max"` // Corrective regenerations for rejected SQL
}

// RankConfig holds fusion weights for result ranking.
type RankConfig struct {
	NameWeight       float64 `yaml:"name_weight"`
	CategoryWeight   float64 `yaml:"category_weight"`
	TagOverlapWeight float64 `yaml:"tag_overlap_weight"`
	SeasonWeight     float64 `yaml:"season_weight"`
	TopK             int     `yaml:"top_k"`       // Default result count
	EnrichLimit      int     `yaml:"enrich_limit"` // Parallel enrichment workers
}

// AgentConfig holds settings for the tool-calling agent.
type AgentConfig struct {
	MaxIterations      int      `yaml:"max_iterations"`
	Temperature        float32  `yaml:"temperature"`
	MaxToolOutputBytes int      `yaml:"max_tool_output_bytes"`
	Timeout            Duration `yaml:"timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Request: RequestConfig{
			Retries: 3,
			Timeout: Duration(120 * time.Second),
			Backoff: BackoffConfig{
				BaseDelay: Duration(1 * time.Second),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/tourrag.db",
		},
		Server: ServerConfig{
			Address: "localhost:8080",
		},
		Tags: TagsConfig{
			Dir:     "./configs/tags",
			Version: "v1.0.0",
		},
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Key:      "",
			Profiles: map[string]string{
				"intent": "gpt-4o-mini",
				"sql":    "gpt-4o-mini",
				"agent":  "gpt-4o",
			},
			LogPath: "./logs/llm.log",
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:  50,
			LLMSQLEnabled: true,
			SQLRepairMax:  1,
		},
		Rank: RankConfig{
			NameWeight:       0.4,
			CategoryWeight:   0.2,
			TagOverlapWeight: 0.3,
			SeasonWeight:     0.1,
			TopK:             5,
			EnrichLimit:      4,
		},
		Agent: AgentConfig{
			MaxIterations:      5,
			Temperature:        0.3,
			MaxToolOutputBytes: 8192,
			Timeout:            Duration(120 * time.Second),
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT save
// back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		applyEnvFallbacks(cfg)

		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// If file does not exist, save defaults
	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnvFallbacks(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvFallbacks fills in secrets from the environment when the config file
// leaves them empty. The env value is never written back to disk.
func applyEnvFallbacks(cfg *Config) {
	if cfg.LLM.Key != "" {
		return
	}
	switch cfg.LLM.Provider {
	case "gemini":
		cfg.LLM.Key = os.Getenv("GEMINI_API_KEY")
	default:
		cfg.LLM.Key = os.Getenv("OPENAI_API_KEY")
	}
}

var schemaVersionRe = regexp.MustCompile(`^v\d+\.\d+\.\d+$`)

func (c *Config) validate() error {
	if !schemaVersionRe.MatchString(c.Tags.Version) {
		return fmt.Errorf("invalid tags.version %q: must be 'vX.Y.Z'", c.Tags.Version)
	}
	if c.Rank.TopK <= 0 {
		return fmt.Errorf("rank.top_k must be positive, got %d", c.Rank.TopK)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown llm.provider %q", c.LLM.Provider)
	}
	return nil
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# TourRAG Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)

`)
	data = append(header, data...)

	// Inject comments for enum fields
	reProvider := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProvider.ReplaceAll(data, []byte("${1}# Options: openai, gemini\n${1}provider:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
