package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML application config. Anything not set here
// falls back to environment variables and built-in defaults.
type Config struct {
	Questions struct {
		Path string `yaml:"path"`
	} `yaml:"questions"`
	Scheduler struct {
		BatchSize int32 `yaml:"batch_size"`
	} `yaml:"scheduler"`
	Outbox struct {
		PollInterval time.Duration `yaml:"poll_interval"`
		BatchSize    int32         `yaml:"batch_size"`
	} `yaml:"outbox"`
}

func defaultConfig() *Config {
	var config Config
	config.Questions.Path = getEnv("QUESTIONS_PATH", "questions.yaml")
	config.Scheduler.BatchSize = int32(getEnvAsInt("SCHEDULER_BATCH_SIZE", 50))
	config.Outbox.PollInterval = time.Second
	config.Outbox.BatchSize = 100
	return &config
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
