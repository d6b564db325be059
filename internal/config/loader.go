package config

import (
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and holds the active configuration. Get always returns a
// usable config: defaults before Load, the parsed file after.
type Loader struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
}

func NewLoader() *Loader {
	return &Loader{cfg: DefaultConfig()}
}

// Load reads, env-substitutes and parses the YAML file at path. The parsed
// values overlay the defaults, so a partial file is fine.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(substituteEnvVars(data), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	l.cfg = cfg
	return nil
}

// Reload re-reads the file from the last Load.
func (l *Loader) Reload() error {
	l.mu.RLock()
	path := l.path
	l.mu.RUnlock()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return l.Load(path)
}

// Get returns the current config.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the loaded config file, or "".
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

var envVarPattern = regexp.MustCompile(`\$\{(\w+)\}`)

// substituteEnvVars replaces ${VAR} references with their environment
// values. Unset variables substitute to the empty string.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// GenerateDefault writes a commented starter config file to path. It refuses
// to overwrite an existing file.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal default config: %w", err)
	}
	header := []byte("# Traceboard configuration.\n# Values support ${ENV_VAR} substitution.\n")
	return os.WriteFile(path, append(header, data...), 0o644)
}
