// Package config loads the playground settings file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Settings carries the endpoints and scheduling knobs of a playground instance.
type Settings struct {
	Port               int           `yaml:"port"                validate:"min=1,max=65535"`
	LogLevel           string        `yaml:"log_level"           validate:"oneof=debug info warn error"`
	StreamingEndpoint  string        `yaml:"streaming_endpoint"  validate:"omitempty,url"`
	StreamingTransport string        `yaml:"streaming_transport" validate:"oneof=websocket eventbus"`
	APIBaseURL         string        `yaml:"api_base_url"        validate:"omitempty,url"`
	Debounce           time.Duration `yaml:"debounce"            validate:"min=0"`
	ExecutionTimeout   time.Duration `yaml:"execution_timeout"`
	EventBus           string        `yaml:"event_bus"           validate:"oneof=gochannel kafka"`
	KafkaBrokers       []string      `yaml:"kafka_brokers"       validate:"required_if=EventBus kafka"`
	PersistenceURL     string        `yaml:"persistence_url"     validate:"required"`
	OTelService        string        `yaml:"otel_service"`
}

// Default returns the settings used when no file is given.
func Default() Settings {
	return Settings{
		Port:               9091,
		LogLevel:           "info",
		StreamingTransport: "websocket",
		ExecutionTimeout:   30 * time.Second,
		EventBus:           "gochannel",
		PersistenceURL:     "file://./data",
		OTelService:        "formula-playground",
	}
}

// Load reads a YAML settings file over the defaults and validates the result.
func Load(path string) (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return settings, settings.Validate()
}

// LoadOrDefault loads path when it is set and falls back to the defaults otherwise.
func LoadOrDefault(path string) (Settings, error) {
	if path == "" {
		return Default(), nil
	}

	return Load(path)
}

func (s Settings) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(s); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}

	return nil
}
