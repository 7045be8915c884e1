package config

import (
	"flag"

	"github.com/Faultbox/uvatlas/pkg/atlas"
)

var optionUsage = map[string]string{
	"bruteForce":            "Try every position and rotation when packing (slow)",
	"resolution":            "Page size in texels, 0 for one page sized to fit",
	"padding":               "Texels between charts",
	"bilinear":              "Add one texel of padding for bilinear filtering",
	"blockAlign":            "Align charts to 4x4 blocks",
	"maxChartSize":          "Maximum chart edge in texels, 0 for no limit",
	"texelsPerUnit":         "Texel density, 0 to estimate it",
	"maxChartArea":          "Maximum chart area, 0 for no limit",
	"maxBoundaryLength":     "Maximum chart boundary length, 0 for no limit",
	"normalDeviationWeight": "Weight of normal deviation from the chart average",
	"roundnessWeight":       "Weight of chart roundness",
	"straightnessWeight":    "Weight of boundary straightness",
	"normalSeamWeight":      "Weight of normal seams, 1000 or more makes them hard",
	"textureSeamWeight":     "Weight of existing texture seams",
	"maxCost":               "Cost above which charts stop growing",
	"maxIterations":         "Chart growing iterations",
	"packOnly":              "Pack existing UV islands instead of charting",
	"atlasLayout":           "Page layout: OVERLAP, SPREADX or UDIM",
	"tightShapes":           "Pack chart shapes instead of bounding boxes",
	"maxPages":              "Maximum number of pages, 0 for no limit",
	"workers":               "Worker goroutines, 0 for GOMAXPROCS",
}

// Flags holds the command line overrides of one subcommand.
type Flags struct {
	ConfigPath string
	Debug      bool
	LogFile    string

	overrides []override
}

type override struct {
	name, value string
}

// Register adds -config, -debug, -log and one flag per engine option to fs.
// Option flags are range checked while parsing.
func Register(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file (.yaml or .toml)")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogFile, "log", "", "Also log to this file, rotated")

	for _, name := range atlas.OptionNames() {
		set := func(value string) error {
			probe := atlas.DefaultOptions()
			if err := probe.Set(name, value); err != nil {
				return err
			}
			f.overrides = append(f.overrides, override{name: name, value: value})
			return nil
		}
		if atlas.IsBoolOption(name) {
			fs.BoolFunc(name, optionUsage[name], set)
		} else {
			fs.Func(name, optionUsage[name], set)
		}
	}
	return f
}

// Load loads the config named by -config (or found in the standard
// locations) and applies the flags on top: defaults < file < flags.
func (f *Flags) Load() (*Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := f.applyFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// applyFlags applies CLI flag overrides to the config, in command line order.
func (f *Flags) applyFlags(cfg *Config) error {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	for _, o := range f.overrides {
		if err := cfg.Set(o.name, o.value); err != nil {
			return err
		}
	}
	return nil
}
