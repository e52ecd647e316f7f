package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Optionally read config.yaml from the working directory.
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; environment variables alone may suffice.
	}

	// Configure environment variables with the VIDSUB_ prefix,
	// e.g. VIDSUB_DATABASE_URL -> database.url.
	v.SetEnvPrefix("VIDSUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind critical environment variables. AutomaticEnv alone
	// does not surface keys that are absent from config files or defaults.
	bindEnvs := []struct {
		key    string
		envVar string
	}{
		{"database.url", "VIDSUB_DATABASE_URL"},
		{"auth.jwt_secret", "VIDSUB_AUTH_JWT_SECRET"},
		{"recognition.api_key", "VIDSUB_RECOGNITION_API_KEY"},
		{"extraction.self_hosted_url", "VIDSUB_EXTRACTION_SELF_HOSTED_URL"},
		{"extraction.site_cookie", "VIDSUB_EXTRACTION_SITE_COOKIE"},
		{"llm.gemini_api_key", "VIDSUB_LLM_GEMINI_API_KEY"},
		{"llm.model", "VIDSUB_LLM_MODEL"},
		{"server.port", "VIDSUB_SERVER_PORT"},
		{"server.log_level", "VIDSUB_SERVER_LOG_LEVEL"},
	}
	for _, env := range bindEnvs {
		if err := v.BindEnv(env.key, env.envVar); err != nil {
			return nil, fmt.Errorf("error binding environment variable %s: %w", env.envVar, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers default values for everything that has a sensible
// one. Secrets and the database URL deliberately have no default.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.stream_heartbeat", 120*time.Second)

	v.SetDefault("extraction.audio_dir", "/tmp/vidsub_audio")
	v.SetDefault("extraction.language_priority", []string{"ai-zh", "zh-Hans", "zh-CN", "zh"})
	v.SetDefault("extraction.upload_timeout", 120*time.Second)
	v.SetDefault("extraction.retention_age", 24*time.Hour)

	v.SetDefault("recognition.poll_interval", 500*time.Millisecond)
	v.SetDefault("recognition.max_polls", 600)

	v.SetDefault("concurrency.direct_pool_size", 8)
	v.SetDefault("concurrency.anon_pool_size", 5)
	v.SetDefault("concurrency.guest_pool_size", 5)
	v.SetDefault("concurrency.guest_max_concurrent", 5)
	v.SetDefault("concurrency.queue_size", 100)

	// Polishing works out of the box once an API key is supplied.
	v.SetDefault("llm.model", "gemini-1.5-flash")
}
