// Package config defines the application configuration structure and
// loading logic. Configuration is read from an optional config.yaml and
// from VIDSUB_-prefixed environment variables, with environment variables
// taking precedence, then validated before use.
package config
