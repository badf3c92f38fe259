// Package config loads and validates the on-disk configuration for a
// changelog-consuming process: broker connection details, the metadata
// (control-plane) endpoint, and per-store consumer tuning. Adapted from
// abd-ulbasit-goqueue's internal/config/validate.go accumulate-all-errors
// pattern.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// KafkaConfig configures the concrete franz-go-backed PubSubConsumer.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// MetadataConfig configures the HTTP metadata client used to resolve
// store layout and schemas.
type MetadataConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ConsumerConfig is the per-store tuning applied on top of
// changelog.DefaultChangeConsumerConfig.
type ConsumerConfig struct {
	StoreName   string        `yaml:"store_name"`
	PollTimeout time.Duration `yaml:"poll_timeout"`
	RMDVersion  int           `yaml:"rmd_version"`
}

// Config is the top-level YAML configuration document.
type Config struct {
	Kafka    KafkaConfig    `yaml:"kafka"`
	Metadata MetadataConfig `yaml:"metadata"`
	Consumer ConsumerConfig `yaml:"consumer"`
}

// Default returns a Config with the package's defaults filled in.
func Default() Config {
	return Config{
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
		},
		Metadata: MetadataConfig{
			Timeout: 5 * time.Second,
		},
		Consumer: ConsumerConfig{
			PollTimeout: 500 * time.Millisecond,
			RMDVersion:  1,
		},
	}
}

// Load reads and parses a YAML config document from path, applying
// defaults for any field the document leaves out, then validates. A field
// set explicitly to its zero value keeps that value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ValidationError accumulates every configuration problem found, rather
// than surfacing only the first, so an operator fixing a config file finds
// out about all its mistakes in one pass.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %d validation error(s): %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// Validate checks Config for internal consistency, returning a
// *ValidationError listing every problem found, or nil.
func (c Config) Validate() error {
	verr := &ValidationError{}

	if len(c.Kafka.Brokers) == 0 {
		verr.add("kafka.brokers must not be empty")
	}
	if c.Metadata.BaseURL == "" {
		verr.add("metadata.base_url must not be empty")
	}
	if c.Metadata.Timeout <= 0 {
		verr.add("metadata.timeout must be positive")
	}
	if c.Consumer.StoreName == "" {
		verr.add("consumer.store_name must not be empty")
	}
	if c.Consumer.PollTimeout <= 0 {
		verr.add("consumer.poll_timeout must be positive")
	}
	if c.Consumer.RMDVersion < 0 {
		verr.add("consumer.rmd_version must not be negative")
	}

	if len(verr.Errors) == 0 {
		return nil
	}
	return verr
}
