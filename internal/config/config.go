// Package config handles unwrapper configuration loading and management.
package config

import (
	"fmt"

	"github.com/Faultbox/uvatlas/internal/logger"
	"github.com/Faultbox/uvatlas/pkg/atlas"
)

// Config holds all settings. Option keys match the command line option names.
type Config struct {
	Chart   ChartConfig   `yaml:"chart" toml:"chart"`
	Pack    PackConfig    `yaml:"pack" toml:"pack"`
	Output  OutputConfig  `yaml:"output" toml:"output"`
	Workers int           `yaml:"workers" toml:"workers"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// ChartConfig holds chart growing weights and limits.
type ChartConfig struct {
	MaxChartArea          float64 `yaml:"maxChartArea" toml:"maxChartArea"`
	MaxBoundaryLength     float64 `yaml:"maxBoundaryLength" toml:"maxBoundaryLength"`
	NormalDeviationWeight float64 `yaml:"normalDeviationWeight" toml:"normalDeviationWeight"`
	RoundnessWeight       float64 `yaml:"roundnessWeight" toml:"roundnessWeight"`
	StraightnessWeight    float64 `yaml:"straightnessWeight" toml:"straightnessWeight"`
	NormalSeamWeight      float64 `yaml:"normalSeamWeight" toml:"normalSeamWeight"`
	TextureSeamWeight     float64 `yaml:"textureSeamWeight" toml:"textureSeamWeight"`
	MaxCost               float64 `yaml:"maxCost" toml:"maxCost"`
	MaxIterations         int     `yaml:"maxIterations" toml:"maxIterations"`
	PackOnly              bool    `yaml:"packOnly" toml:"packOnly"`
}

// PackConfig holds packing settings.
type PackConfig struct {
	BruteForce    bool    `yaml:"bruteForce" toml:"bruteForce"`
	Resolution    int     `yaml:"resolution" toml:"resolution"`
	Padding       int     `yaml:"padding" toml:"padding"`
	Bilinear      bool    `yaml:"bilinear" toml:"bilinear"`
	BlockAlign    bool    `yaml:"blockAlign" toml:"blockAlign"`
	MaxChartSize  int     `yaml:"maxChartSize" toml:"maxChartSize"`
	TexelsPerUnit float64 `yaml:"texelsPerUnit" toml:"texelsPerUnit"`
	TightShapes   bool    `yaml:"tightShapes" toml:"tightShapes"`
	MaxPages      int     `yaml:"maxPages" toml:"maxPages"`
}

// OutputConfig controls what the unwrap command writes.
type OutputConfig struct {
	Layout  atlas.Layout `yaml:"atlasLayout" toml:"atlasLayout"`
	Dir     string       `yaml:"dir" toml:"dir"`         // Empty writes next to the input
	GLB     bool         `yaml:"glb" toml:"glb"`         // Also write a .glb
	Preview bool         `yaml:"preview" toml:"preview"` // Also write page PNGs
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level" toml:"level"`
	LogFile string `yaml:"log_file" toml:"log_file"`
}

// Default returns a Config with the engine defaults.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
	cfg.FromOptions(atlas.DefaultOptions())
	return cfg
}

// Options converts the config into engine options. The logger is left unset.
func (c *Config) Options() atlas.Options {
	return atlas.Options{
		BruteForce:    c.Pack.BruteForce,
		Resolution:    c.Pack.Resolution,
		Padding:       c.Pack.Padding,
		Bilinear:      c.Pack.Bilinear,
		BlockAlign:    c.Pack.BlockAlign,
		MaxChartSize:  c.Pack.MaxChartSize,
		TexelsPerUnit: c.Pack.TexelsPerUnit,
		TightShapes:   c.Pack.TightShapes,
		MaxPages:      c.Pack.MaxPages,

		MaxChartArea:          c.Chart.MaxChartArea,
		MaxBoundaryLength:     c.Chart.MaxBoundaryLength,
		NormalDeviationWeight: c.Chart.NormalDeviationWeight,
		RoundnessWeight:       c.Chart.RoundnessWeight,
		StraightnessWeight:    c.Chart.StraightnessWeight,
		NormalSeamWeight:      c.Chart.NormalSeamWeight,
		TextureSeamWeight:     c.Chart.TextureSeamWeight,
		MaxCost:               c.Chart.MaxCost,
		MaxIterations:         c.Chart.MaxIterations,

		PackOnly: c.Chart.PackOnly,
		Layout:   c.Output.Layout,
		Workers:  c.Workers,
	}
}

// FromOptions copies engine options into the config.
func (c *Config) FromOptions(o atlas.Options) {
	c.Pack = PackConfig{
		BruteForce:    o.BruteForce,
		Resolution:    o.Resolution,
		Padding:       o.Padding,
		Bilinear:      o.Bilinear,
		BlockAlign:    o.BlockAlign,
		MaxChartSize:  o.MaxChartSize,
		TexelsPerUnit: o.TexelsPerUnit,
		TightShapes:   o.TightShapes,
		MaxPages:      o.MaxPages,
	}
	c.Chart = ChartConfig{
		MaxChartArea:          o.MaxChartArea,
		MaxBoundaryLength:     o.MaxBoundaryLength,
		NormalDeviationWeight: o.NormalDeviationWeight,
		RoundnessWeight:       o.RoundnessWeight,
		StraightnessWeight:    o.StraightnessWeight,
		NormalSeamWeight:      o.NormalSeamWeight,
		TextureSeamWeight:     o.TextureSeamWeight,
		MaxCost:               o.MaxCost,
		MaxIterations:         o.MaxIterations,
		PackOnly:              o.PackOnly,
	}
	c.Output.Layout = o.Layout
	c.Workers = o.Workers
}

// Set assigns an engine option by its command line name.
func (c *Config) Set(name, value string) error {
	o := c.Options()
	if err := o.Set(name, value); err != nil {
		return err
	}
	c.FromOptions(o)
	return nil
}

// Validate checks option ranges and the log level.
func (c *Config) Validate() error {
	if err := c.Options().Validate(); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
