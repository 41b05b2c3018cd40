package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Retry    RetryConfig    `mapstructure:"retry" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Events   EventsConfig   `mapstructure:"events"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory document store.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// LLMConfig contains all LLM integration related settings.
type LLMConfig struct {
	GeminiAPIKey   string        `mapstructure:"gemini_api_key" validate:"required"`
	ModelName      string        `mapstructure:"model_name" validate:"required"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// StageModels maps a stage name to the model used for it when the run
	// request does not override it.
	StageModels map[string]string `mapstructure:"stage_models"`
}

// RetryConfig controls the backoff applied to outbound AI calls.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" validate:"gte=1,lte=10"`
	BaseWait        time.Duration `mapstructure:"base_wait" validate:"gte=0"`
	Multiplier      float64       `mapstructure:"multiplier" validate:"gte=1"`
	MaxWait         time.Duration `mapstructure:"max_wait" validate:"gte=0"`
	RetryableStatus []int         `mapstructure:"retryable_status" validate:"dive,gte=400,lte=599"`
}

// TaskConfig contains background task processing settings.
type TaskConfig struct {
	WorkerCount int           `mapstructure:"worker_count" validate:"gte=1"`
	QueueSize   int           `mapstructure:"queue_size" validate:"gte=1"`
	Retention   time.Duration `mapstructure:"retention" validate:"gte=0"`
}

// PipelineConfig contains orchestrator settings.
type PipelineConfig struct {
	StudentConcurrency int `mapstructure:"student_concurrency" validate:"gte=1"`
}

// CacheConfig sizes the in-process document cache. Zero disables it.
type CacheConfig struct {
	MaxCostBytes int64         `mapstructure:"max_cost_bytes" validate:"gte=0"`
	TTL          time.Duration `mapstructure:"ttl" validate:"gte=0"`
}

// EventsConfig configures progress event publishing. An empty NATS URL keeps
// events in-process.
type EventsConfig struct {
	NATSURL string `mapstructure:"nats_url" validate:"omitempty,url"`
}

// BreakerConfig configures the circuit breaker around the AI provider.
type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures" validate:"gte=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
}
