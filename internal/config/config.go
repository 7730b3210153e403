// Package config loads server configuration from defaults, an optional
// podium.yaml, and PODIUM_* environment variables, in increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Port          string `mapstructure:"port"`
	GatewayURL    string `mapstructure:"gateway_url"`
	GatewayAPIKey string `mapstructure:"gateway_api_key"`
	DataDir       string `mapstructure:"data_dir"`
	ProjectsDir   string `mapstructure:"projects_dir"`

	DefaultModel  string   `mapstructure:"default_model"`
	WorkerModels  []string `mapstructure:"worker_models"`
	WorkerCount   int      `mapstructure:"worker_count"`
	MaxParallel   int      `mapstructure:"max_parallel"`
	MaxIterations int      `mapstructure:"max_iterations"`
	MaxOutput     int      `mapstructure:"max_output"`
	Temperature   float64  `mapstructure:"temperature"`

	IterationDelay      time.Duration `mapstructure:"iteration_delay"`
	MaxDecisionFailures int           `mapstructure:"max_decision_failures"`
	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay      time.Duration `mapstructure:"retry_base_delay"`
}

// Load reads the configuration. A missing config file is fine; a malformed
// one is not.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("podium")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	v.SetEnvPrefix("PODIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8090")
	v.SetDefault("gateway_url", "http://localhost:8080")
	v.SetDefault("data_dir", "data/tasks")
	v.SetDefault("projects_dir", "data/projects")
	v.SetDefault("default_model", "anthropic.claude-sonnet-4-5-20250929-v1:0")
	v.SetDefault("worker_models", []string{
		"amazon.nova-pro-v1:0",
		"meta.llama3-3-70b-instruct-v1:0",
		"deepseek.r1-v1:0",
	})
	v.SetDefault("worker_count", 3)
	v.SetDefault("max_parallel", 5)
	v.SetDefault("max_iterations", 25)
	v.SetDefault("max_output", 4096)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("iteration_delay", 2*time.Second)
	v.SetDefault("max_decision_failures", 5)
	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("retry_base_delay", 2*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
