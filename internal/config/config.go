package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Traceboard configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Datasets DatasetsConfig `yaml:"datasets"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	CORS      bool   `yaml:"cors"`
	StaticDir string `yaml:"static_dir"` // testing interface assets
}

type StorageConfig struct {
	Driver         string   `yaml:"driver"` // "file" or "sqlite"
	Path           string   `yaml:"path"`
	BackupInterval Duration `yaml:"backup_interval"`
}

type DatasetsConfig struct {
	Dir   string   `yaml:"dir"`
	Names []string `yaml:"names"`
	Watch bool     `yaml:"watch"` // reload dataset files on change
}

// Duration accepts Go duration strings ("1h", "90s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a config with sensible defaults for zero-config startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      5000,
			LogLevel:  "info",
			CORS:      true,
			StaticDir: "./apps",
		},
		Storage: StorageConfig{
			Driver:         "file",
			Path:           "./data/traces_store.json",
			BackupInterval: Duration(time.Hour),
		},
		Datasets: DatasetsConfig{
			Dir:   "./data",
			Names: []string{"original", "augmented"},
			Watch: true,
		},
	}
}
