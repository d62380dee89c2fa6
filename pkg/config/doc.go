// Package config loads Chronicle configuration from CHRONICLE_* environment
// variables with typed getters, sensible defaults, and startup validation.
package config
