// Package config loads runtime configuration from multiple sources (YAML files,
// environment variables optionally seeded from a .env file, CLI flags) with
// precedence: CLI flags > YAML config > Environment variables > Defaults. It
// carries the office settings (commission rate, exchangerate-api.com key,
// storage path of the exchange table) alongside the HTTP server settings.
package config
