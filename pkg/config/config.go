/*
Package config manages the TOML config of predictserve.
*/
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bastiangx/predictserve/internal/utils"
	"github.com/bastiangx/predictserve/pkg/predict"
	"github.com/bastiangx/predictserve/pkg/provider"
	"github.com/charmbracelet/log"
)

// FileName is the config file name inside the config dir.
const FileName = "predictserve.toml"

// Config holds the entire config structure
type Config struct {
	Prediction PredictionConfig `toml:"prediction"`
	Context    ContextConfig    `toml:"context"`
	Provider   ProviderConfig   `toml:"provider"`
	Server     ServerConfig     `toml:"server"`
}

// PredictionConfig holds the prediction lifecycle tunables.
type PredictionConfig struct {
	DebounceMs           int `toml:"debounce_ms"`
	MaxCacheSize         int `toml:"max_cache_size"`
	MaxPending           int `toml:"max_pending"`
	RequestTimeoutMs     int `toml:"request_timeout_ms"`
	JustAcceptedWindowMs int `toml:"just_accepted_window_ms"`
	MaxLineLength        int `toml:"max_line_length"`
	MaxLineBreaks        int `toml:"max_line_breaks"`
}

// ContextConfig bounds the text sent to the provider.
type ContextConfig struct {
	MaxLinesRemote int `toml:"max_lines_remote"`
	MaxLinesLocal  int `toml:"max_lines_local"`
}

// ProviderConfig selects and configures the completion backend.
type ProviderConfig struct {
	Kind        string  `toml:"kind"`
	Endpoint    string  `toml:"endpoint"`
	Model       string  `toml:"model"`
	APIKeyEnv   string  `toml:"api_key_env"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	// Local overrides the locality the provider kind implies, which picks
	// the context window size.
	Local *bool `toml:"local,omitempty"`
}

// ServerConfig has server related options.
type ServerConfig struct {
	Languages []string `toml:"languages"`
}

// GetConfigDir returns the config directory with fallback priority:
// 1. platform config dir ($XDG_CONFIG_HOME, ~/.config, %APPDATA%)
// 2. ~/Library/Application Support/ (macOS)
// 3. Current executable dir
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Errorf("Failed to get home directory: %v", err)
		return utils.GetExecutableDir()
	}
	primaryPath := utils.PlatformConfigDir(homeDir, "predictserve")
	if result := utils.CheckDirStatus(primaryPath); result.Writable {
		return primaryPath, nil
	}
	macOSPath := filepath.Join(homeDir, "Library", "Application Support", "predictserve")
	if result := utils.CheckDirStatus(macOSPath); result.Writable {
		return macOSPath, nil
	}
	execDir, err := utils.GetExecutableDir()
	if err != nil {
		log.Errorf("Failed to get executable directory: %v", err)
		return "", err
	}
	return execDir, nil
}

// GetDefaultConfigPath returns the default path for predictserve.toml
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, FileName), nil
}

// LoadConfigWithPriority loads config with priority:
// 1. Custom path from -config flag
// 2. Default path: [config dir]/predictserve/predictserve.toml
// 3. Builtin defaults
func LoadConfigWithPriority(customConfigPath string) (*Config, string, error) {
	if customConfigPath != "" {
		if _, statErr := os.Stat(customConfigPath); statErr == nil {
			config, err := LoadConfig(customConfigPath)
			if err != nil {
				log.Warnf("Failed to load custom config from %s: %v. Trying default path...", customConfigPath, err)
			} else {
				log.Debugf("Loaded config from custom path: %s", customConfigPath)
				return config, customConfigPath, nil
			}
		} else {
			log.Warnf("Custom config file not found at %s: %v. Trying default path...", customConfigPath, statErr)
		}
	}
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		log.Warnf("Failed to determine default config path: %v. Using built-in defaults...", err)
		return DefaultConfig(), "", nil
	}

	config, err := InitConfig(defaultPath)
	if err != nil {
		log.Warnf("Failed to load/create config at default path %s: %v. Using builtin defaults...", defaultPath, err)
		return DefaultConfig(), "", nil
	}
	log.Debugf("Loaded config from default path: %s", defaultPath)
	return config, defaultPath, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	opts := predict.DefaultOptions()
	return &Config{
		Prediction: PredictionConfig{
			DebounceMs:           int(opts.Debounce / time.Millisecond),
			MaxCacheSize:         opts.MaxCacheSize,
			MaxPending:           opts.MaxPending,
			RequestTimeoutMs:     int(opts.RequestTimeout / time.Millisecond),
			JustAcceptedWindowMs: int(opts.JustAcceptedWindow / time.Millisecond),
			MaxLineLength:        opts.MaxLineLength,
			MaxLineBreaks:        opts.MaxLineBreaks,
		},
		Context: ContextConfig{
			MaxLinesRemote: opts.MaxContextLinesRemote,
			MaxLinesLocal:  opts.MaxContextLinesLocal,
		},
		Provider: ProviderConfig{
			Kind:        "ollama",
			Model:       "qwen2.5-coder:1.5b",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   128,
			Temperature: 0.2,
		},
		Server: ServerConfig{
			Languages: []string{
				"c", "cpp", "csharp", "go", "java", "javascript", "javascriptreact",
				"lua", "php", "python", "ruby", "rust", "shellscript", "typescript",
				"typescriptreact", "zig",
			},
		},
	}
}

// InitConfig loads config from file or creates default if missing
func InitConfig(configPath string) (*Config, error) {
	configDir := filepath.Dir(configPath)

	if err := utils.EnsureDir(configDir); err != nil {
		log.Warnf("Failed to create config directory %s: %v. Using built-in defaults...", configDir, err)
		return DefaultConfig(), nil
	}

	if !utils.FileExists(configPath) {
		config := DefaultConfig()
		if err := SaveConfig(config, configPath); err != nil {
			log.Warnf("Failed to create default config file at %s: %v. Using built-in defaults...", configPath, err)
			return DefaultConfig(), nil
		}
		log.Debugf("Created default config file at: %s", configPath)
		return config, nil
	}

	return LoadConfig(configPath)
}

// LoadConfig loads from a TOML file. Keys missing from the file keep their
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	unknown, err := utils.LoadTOMLFile(configPath, config)
	if err != nil {
		return tryPartialParse(configPath)
	}
	if len(unknown) > 0 {
		log.Warnf("Ignoring unknown keys in %s: %s", configPath, utils.JoinKeys(unknown))
	}
	return config, nil
}

// tryPartialParse keeps every key of a broken file that still decodes with
// the right type.
func tryPartialParse(configPath string) (*Config, error) {
	config := DefaultConfig()

	tempConfig, err := utils.ParseTOMLWithRecovery(configPath)
	if err != nil {
		log.Warnf("Could not parse any valid configuration from %s: %v. Using all defaults.", configPath, err)
		return config, nil
	}

	if section, ok := utils.ExtractSection(tempConfig, "prediction"); ok {
		extractPredictionConfig(section, &config.Prediction)
	}
	if section, ok := utils.ExtractSection(tempConfig, "context"); ok {
		extractContextConfig(section, &config.Context)
	}
	if section, ok := utils.ExtractSection(tempConfig, "provider"); ok {
		extractProviderConfig(section, &config.Provider)
	}
	if section, ok := utils.ExtractSection(tempConfig, "server"); ok {
		if val, ok := utils.ExtractStrings(section, "languages"); ok {
			config.Server.Languages = val
		}
	}
	return config, nil
}

func extractPredictionConfig(data map[string]any, p *PredictionConfig) {
	fields := map[string]*int{
		"debounce_ms":             &p.DebounceMs,
		"max_cache_size":          &p.MaxCacheSize,
		"max_pending":             &p.MaxPending,
		"request_timeout_ms":      &p.RequestTimeoutMs,
		"just_accepted_window_ms": &p.JustAcceptedWindowMs,
		"max_line_length":         &p.MaxLineLength,
		"max_line_breaks":         &p.MaxLineBreaks,
	}
	for key, dst := range fields {
		if val, ok := utils.ExtractInt64(data, key); ok {
			*dst = val
		}
	}
}

func extractContextConfig(data map[string]any, c *ContextConfig) {
	if val, ok := utils.ExtractInt64(data, "max_lines_remote"); ok {
		c.MaxLinesRemote = val
	}
	if val, ok := utils.ExtractInt64(data, "max_lines_local"); ok {
		c.MaxLinesLocal = val
	}
}

func extractProviderConfig(data map[string]any, p *ProviderConfig) {
	if val, ok := utils.ExtractString(data, "kind"); ok {
		p.Kind = val
	}
	if val, ok := utils.ExtractString(data, "endpoint"); ok {
		p.Endpoint = val
	}
	if val, ok := utils.ExtractString(data, "model"); ok {
		p.Model = val
	}
	if val, ok := utils.ExtractString(data, "api_key_env"); ok {
		p.APIKeyEnv = val
	}
	if val, ok := utils.ExtractInt64(data, "max_tokens"); ok {
		p.MaxTokens = val
	}
	if val, ok := utils.ExtractFloat(data, "temperature"); ok {
		p.Temperature = val
	}
	if val, ok := utils.ExtractBool(data, "local"); ok {
		p.Local = &val
	}
}

// Options converts the prediction, context and server sections for the
// controller.
func (c *Config) Options() predict.Options {
	p := c.Prediction
	return predict.Options{
		Debounce:              time.Duration(p.DebounceMs) * time.Millisecond,
		MaxCacheSize:          p.MaxCacheSize,
		MaxPending:            p.MaxPending,
		RequestTimeout:        time.Duration(p.RequestTimeoutMs) * time.Millisecond,
		MaxContextLinesRemote: c.Context.MaxLinesRemote,
		MaxContextLinesLocal:  c.Context.MaxLinesLocal,
		JustAcceptedWindow:    time.Duration(p.JustAcceptedWindowMs) * time.Millisecond,
		MaxLineLength:         p.MaxLineLength,
		MaxLineBreaks:         p.MaxLineBreaks,
		Languages:             append([]string(nil), c.Server.Languages...),
	}
}

// Build creates the provider the section describes.
func (p ProviderConfig) Build() (provider.Provider, error) {
	switch p.Kind {
	case "", "ollama":
		return provider.NewOllama(provider.OllamaConfig{
			Endpoint:    p.Endpoint,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Remote:      p.Local != nil && !*p.Local,
		})
	case "openai":
		var key string
		if p.APIKeyEnv != "" {
			key = os.Getenv(p.APIKeyEnv)
		}
		return provider.NewOpenAI(provider.OpenAIConfig{
			Endpoint:    p.Endpoint,
			APIKey:      key,
			Model:       p.Model,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
			Local:       p.Local != nil && *p.Local,
		})
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// GetActiveConfigPath returns the absolute path of loaded config file
func GetActiveConfigPath(configPath string) string {
	if configPath == "" {
		if defaultPath, err := GetDefaultConfigPath(); err == nil {
			return defaultPath
		}
		return "unknown"
	}
	return utils.GetAbsolutePath(configPath)
}

// SaveConfig saves into a TOML file
func SaveConfig(config *Config, configPath string) error {
	return utils.SaveTOMLFile(config, configPath)
}

// RebuildConfigFile force creates a new predictserve.toml at default
func RebuildConfigFile() error {
	defaultPath, err := GetDefaultConfigPath()
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(filepath.Dir(defaultPath)); err != nil {
		return err
	}
	return utils.SaveTOMLFile(DefaultConfig(), defaultPath)
}
