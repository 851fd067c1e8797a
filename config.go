package llmprovider

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

//go:embed config/providers.yaml
var providersYAML []byte

// ProviderConfig holds connection defaults for one provider.
// Embedded defaults can be overridden with LoadConfigFromFile or RegisterProviderConfig.
type ProviderConfig struct {
	BaseURL          string            `yaml:"base_url" toml:"base_url"`
	APIKeyEnv        string            `yaml:"api_key_env" toml:"api_key_env"`
	DefaultModel     string            `yaml:"default_model" toml:"default_model"`
	MaxTokens        int               `yaml:"max_tokens" toml:"max_tokens"`
	Timeout          time.Duration     `yaml:"timeout" toml:"timeout"`
	AnthropicVersion string            `yaml:"anthropic_version" toml:"anthropic_version"`
	ModelPrefixes    []string          `yaml:"model_prefixes" toml:"model_prefixes"`
	Headers          map[string]string `yaml:"headers" toml:"headers"`
	Retry            RetryPolicy       `yaml:"retry" toml:"retry"`
}

// APIKey reads the provider's key from its environment variable.
func (c ProviderConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// SupportsModel reports whether model starts with one of the configured prefixes.
func (c ProviderConfig) SupportsModel(model string) bool {
	for _, prefix := range c.ModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// configFile is the on-disk layout shared by the embedded defaults and user files.
type configFile struct {
	Version     string                    `yaml:"version" toml:"version"`
	LastUpdated string                    `yaml:"last_updated" toml:"last_updated"`
	Providers   map[string]ProviderConfig `yaml:"providers" toml:"providers"`
}

// ConfigRegistry manages provider configs
type ConfigRegistry struct {
	configs map[ProviderID]ProviderConfig
	mu      sync.RWMutex
}

var (
	globalConfig     *ConfigRegistry
	globalConfigOnce sync.Once
)

// GetConfigRegistry returns the global config registry (singleton), seeded
// with the embedded defaults.
func GetConfigRegistry() *ConfigRegistry {
	globalConfigOnce.Do(func() {
		globalConfig = NewConfigRegistry()
		if err := globalConfig.loadYAML(providersYAML); err != nil {
			panic(fmt.Sprintf("llmprovider: embedded provider config: %v", err))
		}
	})
	return globalConfig
}

// NewConfigRegistry returns an empty registry.
func NewConfigRegistry() *ConfigRegistry {
	return &ConfigRegistry{configs: make(map[ProviderID]ProviderConfig)}
}

func (r *ConfigRegistry) loadYAML(data []byte) error {
	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return r.apply(file)
}

func (r *ConfigRegistry) loadTOML(data []byte) error {
	var file configFile
	if _, err := toml.Decode(string(data), &file); err != nil {
		return fmt.Errorf("failed to parse TOML: %w", err)
	}
	return r.apply(file)
}

// apply merges file over the registered configs; set fields win.
func (r *ConfigRegistry) apply(file configFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, override := range file.Providers {
		id := ProviderID(name)
		merged := r.configs[id]
		if err := mergo.Merge(&merged, override, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge config for %s: %w", name, err)
		}
		r.configs[id] = merged
	}
	return nil
}

// LoadFromFile merges a YAML (.yaml, .yml) or TOML (.toml) file over the registered configs.
func (r *ConfigRegistry) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return r.loadYAML(data)
	case ".toml":
		return r.loadTOML(data)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

// Register replaces the config for a provider.
func (r *ConfigRegistry) Register(id ProviderID, cfg ProviderConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[id] = cfg
}

// Get returns the config for a provider.
func (r *ConfigRegistry) Get(id ProviderID) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[id]
	return cfg, ok
}

// ProviderFor returns the first provider whose model prefixes match model.
func (r *ConfigRegistry) ProviderFor(model string) (ProviderID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range []ProviderID{ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOpenRouter, ProviderLorem} {
		if cfg, ok := r.configs[id]; ok && cfg.SupportsModel(model) {
			return id, true
		}
	}
	return "", false
}

// LoadConfigFromFile merges a user config file into the global registry.
func LoadConfigFromFile(path string) error {
	return GetConfigRegistry().LoadFromFile(path)
}

// RegisterProviderConfig replaces a provider's config in the global registry.
func RegisterProviderConfig(id ProviderID, cfg ProviderConfig) {
	GetConfigRegistry().Register(id, cfg)
}

// GetProviderConfig returns a provider's config from the global registry.
// Unknown providers get a zero config.
func GetProviderConfig(id ProviderID) ProviderConfig {
	cfg, _ := GetConfigRegistry().Get(id)
	return cfg
}
