package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		layers:    []string{},
		envPrefix: "ESPCLIENT",
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw loads a YAML or JSON layer as a map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields present in the map
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}

	baseYAML, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := yaml.Unmarshal(baseYAML, &baseMap); err != nil {
		return nil, err
	}

	mergedYAML, err := yaml.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := yaml.Unmarshal(mergedYAML, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}

	return result
}

func (l *Loader) env(name string) (string, bool) {
	key := l.envPrefix + "_" + name
	val := os.Getenv(key)
	if val == "" {
		return "", false
	}
	if err := checkEnv(key, val); err != nil {
		return "", false
	}
	return val, true
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	if err := applyConnectionEnv(&cfg.Connection); err != nil {
		return err
	}
	if val, ok := l.env("CA_FILES"); ok {
		cfg.Connection.TLS.CAFiles = strings.Split(val, ",")
	}

	if val, ok := l.env("LOG_LEVEL"); ok {
		cfg.Logging.Level = val
	}
	if val, ok := l.env("LOG_FORMAT"); ok {
		cfg.Logging.Format = val
	}
	if val, ok := l.env("METRICS_ADDR"); ok {
		cfg.Metrics.Addr = val
		cfg.Metrics.Enabled = true
	}

	if val, ok := l.env("NATS_URLS"); ok {
		cfg.Bridge.NATS.URLs = strings.Split(val, ",")
	}
	if val, ok := l.env("NATS_USERNAME"); ok {
		cfg.Bridge.NATS.Username = val
	}
	if val, ok := l.env("NATS_PASSWORD"); ok {
		cfg.Bridge.NATS.Password = val
	}
	if val, ok := l.env("NATS_TOKEN"); ok {
		cfg.Bridge.NATS.Token = val
	}
	if val, ok := l.env("REDIS_ADDR"); ok {
		cfg.Bridge.Redis.Addr = val
	}
	if val, ok := l.env("REDIS_DB"); ok {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Bridge.Redis.DB = db
		}
	}
	return nil
}

// SaveToFile writes the configuration as YAML
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}
