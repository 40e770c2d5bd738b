// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"stagehand/internal/diff"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Host string `json:"host" yaml:"host"`
		Port int    `json:"port" yaml:"port"`
	} `json:"server" yaml:"server"`

	Repository struct {
		Path string `json:"path" yaml:"path"`
	} `json:"repository" yaml:"repository"`

	History struct {
		Path    string `json:"path" yaml:"path"`
		Limit   int    `json:"limit" yaml:"limit"`
		Persist bool   `json:"persist" yaml:"persist"`
	} `json:"history" yaml:"history"`

	Diff diff.Options `json:"diff" yaml:"diff"`

	Git struct {
		Binary string `json:"binary" yaml:"binary"`
	} `json:"git" yaml:"git"`

	Environment string `json:"environment" yaml:"environment"` // development, production
	LogLevel    string `json:"log_level" yaml:"log_level"`     // debug, info, warn, error
}

const envPrefix = "STAGEHAND_"

func Default() *Config {
	var c Config
	c.Server.Host = "127.0.0.1"
	c.Server.Port = 7420
	c.Repository.Path = "."
	c.History.Limit = 100
	c.History.Persist = true
	c.Diff = diff.DefaultOptions()
	c.Environment = "development"
	c.LogLevel = "info"
	return &c
}

// ConfigPath resolves config/config.<STAGEHAND_ENV>.json.
func ConfigPath() string {
	env := os.Getenv(envPrefix + "ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load overlays the file at path onto the defaults. The format follows the
// extension: .yaml and .yml are YAML, anything else JSON.
func Load(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return config, nil
}

// LoadOrDefault is Load, falling back to the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	config, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return config, err
}

// ApplyEnv loads a .env file if there is one and applies STAGEHAND_*
// overrides.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
		return nil
	}
	flag := func(name string, dst *bool) error {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
		return nil
	}

	str("HOST", &c.Server.Host)
	str("REPO", &c.Repository.Path)
	str("HISTORY_PATH", &c.History.Path)
	str("GIT_BINARY", &c.Git.Binary)
	str("ENV", &c.Environment)
	str("LOG_LEVEL", &c.LogLevel)

	for name, dst := range map[string]*int{
		"PORT":          &c.Server.Port,
		"HISTORY_LIMIT": &c.History.Limit,
		"CONTEXT_LINES": &c.Diff.ContextLines,
	} {
		if err := num(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*bool{
		"HISTORY_PERSIST": &c.History.Persist,
		"DETECT_RENAMES":  &c.Diff.DetectRenames,
		"UNTRACKED_DIFF":  &c.Diff.ShowUntrackedContent,
	} {
		if err := flag(name, dst); err != nil {
			return err
		}
	}
	return c.Validate()
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Diff.ContextLines < 0 {
		return fmt.Errorf("context lines must not be negative")
	}
	if c.History.Limit < 0 {
		return fmt.Errorf("history limit must not be negative")
	}
	return nil
}

// HistoryPath is where the history database lives. Unset means a
// directory under the user's config dir.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "stagehand", "history"), nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
