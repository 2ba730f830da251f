package config

import "time"

// Limits holds the resource caps and timing bounds of the ReAct engine and
// sync hub. Every value has a production default; tests inject much smaller
// ones to keep suites fast.
type Limits struct {
	// Step cycle caps
	MaxSteps          int `yaml:"max_steps"`
	MaxOperations     int `yaml:"max_operations"`
	MaxStalled        int `yaml:"max_stalled"`
	MaxReplays        int `yaml:"max_replays"`
	MaxRetriesPerStep int `yaml:"max_retries_per_step"`

	// LLM bounds
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	PlanBound         time.Duration `yaml:"plan_bound"`
	EvalBound         time.Duration `yaml:"eval_bound"`
	PlanJSONRetries   int           `yaml:"plan_json_retries"`
	EvalJSONRetries   int           `yaml:"eval_json_retries"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Atom invocation
	AtomRetries     int           `yaml:"atom_retries"`
	AtomRetryDelay  time.Duration `yaml:"atom_retry_delay"`
	InsightTimeout  time.Duration `yaml:"insight_timeout"`
	MetadataTTL     time.Duration `yaml:"metadata_ttl"`
	InsightTTLGood  time.Duration `yaml:"insight_ttl_good"`
	InsightTTLBad   time.Duration `yaml:"insight_ttl_fallback"`

	// Coordination
	GuardBackoff    time.Duration `yaml:"guard_backoff"`
	DebouncePersist time.Duration `yaml:"debounce_persist"`
}

// DefaultLimits returns the production caps.
func DefaultLimits() *Limits {
	return &Limits{
		MaxSteps:          20,
		MaxOperations:     12,
		MaxStalled:        4,
		MaxReplays:        7,
		MaxRetriesPerStep: 2,
		LLMTimeout:        60 * time.Second,
		PlanBound:         90 * time.Second,
		EvalBound:         120 * time.Second,
		PlanJSONRetries:   3,
		EvalJSONRetries:   2,
		HeartbeatInterval: 10 * time.Second,
		AtomRetries:       3,
		AtomRetryDelay:    2 * time.Second,
		InsightTimeout:    30 * time.Second,
		MetadataTTL:       10 * time.Minute,
		InsightTTLGood:    6 * time.Hour,
		InsightTTLBad:     10 * time.Minute,
		GuardBackoff:      500 * time.Millisecond,
		DebouncePersist:   time.Second,
	}
}

// defaultConfig returns the full default configuration that user-provided
// YAML is merged on top of.
func defaultConfig() *Config {
	return &Config{
		Server: &ServerConfig{
			Port:            "8080",
			WSWriteTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: &LLMConfig{
			BaseURL:         "http://localhost:8001/v1",
			APIKeyEnv:       "TRINITY_LLM_API_KEY",
			Model:           "deepseek-chat",
			PlanTemperature: 0.4,
			EvalTemperature: 0.1,
			MaxTokens:       4096,
		},
		Atoms: &AtomsConfig{
			BaseURL:        "http://localhost:8000",
			RequestTimeout: 120 * time.Second,
		},
		Mongo: &MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "trinity",
			StateColl:  "laboratory_states",
			ResultColl: "workflow_results",
		},
		Redis: &RedisConfig{
			Addr: "localhost:6379",
		},
		Blob: &BlobConfig{
			Root: "./data",
		},
		Limits: DefaultLimits(),
	}
}
