package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Auth        AuthConfig        `mapstructure:"auth" validate:"required"`
	Extraction  ExtractionConfig  `mapstructure:"extraction" validate:"required"`
	Recognition RecognitionConfig `mapstructure:"recognition" validate:"required"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" validate:"required"`
	LLM         LLMConfig         `mapstructure:"llm"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// StreamHeartbeat is the maximum time a streaming response waits for a
	// progress event before emitting a heartbeat to keep the connection open.
	StreamHeartbeat time.Duration `mapstructure:"stream_heartbeat" validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`
}

// AuthConfig contains authentication settings for the caller-facing API.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// ExtractionConfig groups the settings of the extraction pipeline.
type ExtractionConfig struct {
	// AudioDir is the directory for temporary audio artifacts.
	AudioDir string `mapstructure:"audio_dir" validate:"required"`

	// LanguagePriority is the ordered caption language preference list.
	LanguagePriority []string `mapstructure:"language_priority" validate:"required,min=1"`

	// SiteCookie is the video-site session cookie. AI caption tracks are
	// usually only listed for requests carrying a complete cookie.
	SiteCookie string `mapstructure:"site_cookie"`

	// SelfHostedURL, when set, enables direct-link mode: audio files are
	// served from this publicly reachable origin instead of being uploaded
	// to anonymous file hosts.
	SelfHostedURL string `mapstructure:"self_hosted_url"`

	// UploadTimeout bounds each anonymous-host upload attempt.
	UploadTimeout time.Duration `mapstructure:"upload_timeout" validate:"required"`

	// RetentionAge is how long terminal task records are kept before the
	// janitor evicts them from the record store.
	RetentionAge time.Duration `mapstructure:"retention_age" validate:"required"`
}

// RecognitionConfig groups the speech recognition collaborator settings.
type RecognitionConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`
	MaxPolls     int           `mapstructure:"max_polls" validate:"required,gt=0"`
}

// ConcurrencyConfig sizes the worker pools and the guest admission gate.
type ConcurrencyConfig struct {
	// DirectPoolSize is the worker count for privileged direct-link traffic.
	DirectPoolSize int `mapstructure:"direct_pool_size" validate:"required,gt=0"`

	// AnonPoolSize is the worker count for anonymous-host traffic.
	AnonPoolSize int `mapstructure:"anon_pool_size" validate:"required,gt=0"`

	// GuestPoolSize is the worker count for the guest traffic pool.
	GuestPoolSize int `mapstructure:"guest_pool_size" validate:"required,gt=0"`

	// GuestMaxConcurrent caps concurrently active guest executions
	// process-wide, independent of pool sizing.
	GuestMaxConcurrent int `mapstructure:"guest_max_concurrent" validate:"required,gt=0"`

	// QueueSize is the buffer size of each pool's submission queue.
	QueueSize int `mapstructure:"queue_size" validate:"required,gt=0"`
}

// LLMConfig contains settings for the optional transcript post-processing
// integration.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
}
