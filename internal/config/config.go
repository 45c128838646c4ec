// Package config handles Pseudo configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./pseudo.yaml, ~/.config/pseudo/pseudo.yaml, /etc/pseudo/pseudo.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"pseudo.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pseudo", "pseudo.yaml"))
	}

	paths = append(paths, "/etc/pseudo/pseudo.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Pseudo configuration.
type Config struct {
	Listen          ListenConfig    `yaml:"listen"`
	Providers       ProvidersConfig `yaml:"providers"`
	DataDir         string          `yaml:"data_dir"`
	CredentialsFile string          `yaml:"credentials_file"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProvidersConfig defines provider endpoint settings. API keys do not
// live here; they belong in the credentials file.
type ProvidersConfig struct {
	OllamaURL    string `yaml:"ollama_url"`
	OpenAIURL    string `yaml:"openai_url"`
	AnthropicURL string `yaml:"anthropic_url"`
}

// ChatsDir returns the directory that holds conversation threads.
func (c *Config) ChatsDir() string {
	return filepath.Join(c.DataDir, "chat_history")
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "data",
		Providers: ProvidersConfig{
			OllamaURL:    "http://localhost:11434",
			OpenAIURL:    "https://api.openai.com",
			AnthropicURL: "https://api.anthropic.com",
		},
	}
}
