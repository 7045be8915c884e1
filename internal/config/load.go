package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for config files that are neither YAML nor TOML.
var ErrUnknownFormat = errors.New("unknown config format")

// Config file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

var candidateNames = []string{"uvatlas.yaml", "uvatlas.yml", "uvatlas.toml"}

// Load loads configuration with priority: defaults < file. An empty path
// searches the working directory, then ConfigDir.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	for _, dir := range []string{".", ConfigDir()} {
		for _, name := range candidateNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "uvatlas")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "uvatlas")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "uvatlas")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "uvatlas")
	}
}

// FormatOf picks the file format from the extension.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// loadFromFile loads config from a YAML or TOML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Decode(cfg, data, format)
}

// Decode merges data in the given format into cfg.
func Decode(cfg *Config, data []byte, format string) error {
	switch format {
	case FormatYAML:
		return yaml.Unmarshal(data, cfg)
	case FormatTOML:
		return toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
