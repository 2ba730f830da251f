package config

import "time"

// Config is the umbrella configuration object for the orchestrator.
// This is the primary object returned by Initialize() and used throughout
// the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Server *ServerConfig `yaml:"server"`
	LLM    *LLMConfig    `yaml:"llm"`
	Atoms  *AtomsConfig  `yaml:"atoms"`
	Mongo  *MongoConfig  `yaml:"mongo"`
	Redis  *RedisConfig  `yaml:"redis"`
	Blob   *BlobConfig   `yaml:"blob"`
	Limits *Limits       `yaml:"limits"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port             string        `yaml:"port"`
	AllowedWSOrigins []string      `yaml:"allowed_ws_origins"`
	WSWriteTimeout   time.Duration `yaml:"ws_write_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig holds settings for the platform LLM gateway (an
// OpenAI-compatible chat-completions endpoint).
type LLMConfig struct {
	BaseURL         string  `yaml:"base_url"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	Model           string  `yaml:"model"`
	PlanTemperature float64 `yaml:"plan_temperature"`
	EvalTemperature float64 `yaml:"eval_temperature"`
	MaxTokens       int     `yaml:"max_tokens"`
}

// AtomsConfig holds settings for the atom executor endpoints.
type AtomsConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// MongoConfig holds document store settings.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	StateColl  string `yaml:"state_collection"`
	ResultColl string `yaml:"result_collection"`
}

// RedisConfig holds insight cache settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BlobConfig holds blob store settings. The filesystem implementation
// stores objects under Root; object keys are slash-separated paths.
type BlobConfig struct {
	Root string `yaml:"root"`
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}
