package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Save writes the config to the user's config directory as YAML.
func (c *Config) Save() error {
	return c.SaveTo(filepath.Join(ConfigDir(), candidateNames[0]))
}

// SaveTo writes the config to a specific path, in the format of its extension.
func (c *Config) SaveTo(path string) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	data, err := c.Encode(format)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Encode renders the config in the given format.
func (c *Config) Encode(format string) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(c)
	case FormatTOML:
		return toml.Marshal(c)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
}
