// Package config resolves process configuration, grounded on the
// teacher's getEnv-with-default pattern (cmd/server/main.go), extended
// with an optional YAML overlay file (gopkg.in/yaml.v3) so a deployment
// can check in one config file instead of a long list of env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every process-wide setting the server and worker binaries
// need to wire their dependencies.
type Config struct {
	Port        string        `yaml:"port"`
	UserAgent   string        `yaml:"userAgent"`
	DataDir     string        `yaml:"dataDir"`
	KVBackend   string        `yaml:"kvBackend"` // "memory" or "badger"
	WorkerCount int           `yaml:"workerCount"`
	PollInterval time.Duration `yaml:"pollInterval"`
	IdempotencyTTL time.Duration `yaml:"idempotencyTTL"`
	AnthropicModel string      `yaml:"anthropicModel"`
	BlocklistDomains []string  `yaml:"blocklistDomains"`
	AllowKeywords    []string  `yaml:"allowKeywords"`
	APIKeys map[string]string `yaml:"apiKeys"` // token -> teamID, plan combined as "teamID:plan"
}

// Default returns the baseline configuration before env/file overlays.
func Default() Config {
	return Config{
		Port:           "8080",
		UserAgent:      "CrawlForge/1.0 (+https://crawlforge.dev/bot)",
		DataDir:        "./data/kv",
		KVBackend:      "memory",
		WorkerCount:    4,
		PollInterval:   250 * time.Millisecond,
		IdempotencyTTL: 24 * time.Hour,
		AnthropicModel: "claude-3-5-sonnet-latest",
	}
}

// Load builds a Config from defaults, an optional YAML file (path from
// CRAWLFORGE_CONFIG_FILE if set), then environment variable overrides —
// the same precedence order the teacher applies implicitly by reading env
// vars at each call site, made explicit here as a single resolution pass.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CRAWLFORGE_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.UserAgent = getEnv("CRAWLFORGE_USER_AGENT", cfg.UserAgent)
	cfg.DataDir = getEnv("CRAWLFORGE_DATA_DIR", cfg.DataDir)
	cfg.KVBackend = getEnv("CRAWLFORGE_KV_BACKEND", cfg.KVBackend)
	cfg.WorkerCount = getEnvInt("CRAWLFORGE_WORKER_COUNT", cfg.WorkerCount)
	cfg.AnthropicModel = getEnv("ANTHROPIC_MODEL", cfg.AnthropicModel)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}
