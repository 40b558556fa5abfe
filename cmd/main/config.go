package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the configuration for the HTTP servers.
type ServerConfig struct {
	ServerAddr     string   `json:"server_addr" yaml:"server_addr"`
	ApiAddr        string   `json:"api_addr" yaml:"api_addr"`
	LogLevel       string   `json:"log_level" yaml:"log_level"`
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
	DataDir        string   `json:"data_dir" yaml:"data_dir"`
	DatabasePath   string   `json:"database_path" yaml:"database_path"`
}

// ModelConfig holds the settings used when training models and generating words.
type ModelConfig struct {
	TopK          int    `json:"top_k" yaml:"top_k"`
	DefaultModel  string `json:"default_model" yaml:"default_model"`
	DefaultLength int    `json:"default_length" yaml:"default_length"`
	MaxLength     int    `json:"max_length" yaml:"max_length"`
	MaxCount      int    `json:"max_count" yaml:"max_count"`
}

// Config is the top-level configuration struct that aggregates all other configs.
type Config struct {
	Server *ServerConfig `json:"server_config" yaml:"server_config"`
	Model  *ModelConfig  `json:"model_config" yaml:"model_config"`
}

// DefaultServerConfig creates a server configuration with default values.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ServerAddr:     ":7380",
		ApiAddr:        ":7381",
		LogLevel:       "info",
		TrustedProxies: []string{},
		DataDir:        "./data",
		DatabasePath:   "./data/logogen.db?_journal_mode=WAL&_busy_timeout=5000",
	}
}

// DefaultModelConfig creates a model configuration with default values.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		TopK:          6,
		DefaultModel:  "default",
		DefaultLength: 6,
		MaxLength:     24,
		MaxCount:      100,
	}
}

// isYAML reports whether the config at path should be read and written as YAML.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func marshalConfig(path string, config *Config) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(config)
	}
	return json.MarshalIndent(config, "", "  ")
}

func unmarshalConfig(path string, data []byte, config *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, config)
	}
	return json.Unmarshal(data, config)
}

// LoadConfig reads the configuration from a JSON or YAML file at the given path,
// chosen by its extension. If the file doesn't exist, it creates one with default values.
func LoadConfig(path string) (*Config, error) {
	// Initialize with default configurations
	config := &Config{
		Server: DefaultServerConfig(),
		Model:  DefaultModelConfig(),
	}

	file, err := os.ReadFile(path)
	if err != nil {
		// If the file doesn't exist, create it with the default config.
		if os.IsNotExist(err) {
			var data []byte
			data, err = marshalConfig(path, config)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal default config: %w", err)
			}
			if err = atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
				// Log a warning instead of failing, as the server can still run with defaults.
				fmt.Printf("warning: failed to write default config file: %v\n", err)
			}
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err = unmarshalConfig(path, file, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if config.Server == nil {
		config.Server = DefaultServerConfig()
	}
	if config.Model == nil {
		config.Model = DefaultModelConfig()
	}

	return config, nil
}

// ConfigManager handles thread-safe access to configuration and derived state (trusted proxies).
type ConfigManager struct {
	config       *Config
	mu           sync.RWMutex
	trustedCIDRs []*net.IPNet
	trustedIPs   []net.IP
	configPath   string
	logger       *slog.Logger
}

// NewConfigManager loads the config and initializes the manager.
func NewConfigManager(path string) (*ConfigManager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	cm := &ConfigManager{
		config:     cfg,
		configPath: path,
		// Log to stdout before the application-specific logger is set.
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	cm.refreshCache()

	return cm, nil
}

// SetLogger sets the logger used to report config problems.
func (cm *ConfigManager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns a copy of the current configuration. The nested structs are
// copied too, so callers may read them without holding any lock.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	server := *cm.config.Server
	model := *cm.config.Model
	return Config{Server: &server, Model: &model}
}

// Update validates and applies a new configuration, saves it to disk, and refreshes derived state.
func (cm *ConfigManager) Update(newConfig Config) error {
	if newConfig.Server == nil || newConfig.Model == nil {
		return fmt.Errorf("configuration must contain both server_config and model_config")
	}
	if err := validateModelConfig(newConfig.Model); err != nil {
		return err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := marshalConfig(cm.configPath, &newConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = atomic.WriteFile(cm.configPath, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	*cm.config = newConfig
	cm.refreshCache()
	return nil
}

func validateModelConfig(mc *ModelConfig) error {
	switch {
	case mc.DefaultLength < 2:
		return fmt.Errorf("default_length must be at least 2, got %d", mc.DefaultLength)
	case mc.MaxLength < mc.DefaultLength:
		return fmt.Errorf("max_length (%d) must not be below default_length (%d)", mc.MaxLength, mc.DefaultLength)
	case mc.MaxCount < 1:
		return fmt.Errorf("max_count must be positive, got %d", mc.MaxCount)
	}
	return nil
}

// IsTrusted checks if an IP is in the trusted proxies list using the cache.
func (cm *ConfigManager) IsTrusted(ipAddr string) bool {
	parsedIP := net.ParseIP(ipAddr)
	if parsedIP == nil {
		return false
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, ipNet := range cm.trustedCIDRs {
		if ipNet.Contains(parsedIP) {
			return true
		}
	}

	for _, trustedIP := range cm.trustedIPs {
		if trustedIP.Equal(parsedIP) {
			return true
		}
	}

	return false
}

// refreshCache rebuilds the binary IP lists from the config strings.
func (cm *ConfigManager) refreshCache() {
	var cidrs []*net.IPNet
	var ips []net.IP

	for _, t := range cm.config.Server.TrustedProxies {
		if strings.Contains(t, "/") {
			_, ipNet, err := net.ParseCIDR(t)
			if err == nil {
				cidrs = append(cidrs, ipNet)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy CIDR", "cidr", t, "error", err)
			}
		} else {
			ip := net.ParseIP(t)
			if ip != nil {
				ips = append(ips, ip)
			} else {
				cm.logger.Warn("Failed to parse trusted proxy IP", "ip", t)
			}
		}
	}
	cm.trustedCIDRs = cidrs
	cm.trustedIPs = ips
}
