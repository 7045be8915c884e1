package config

import (
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Faultbox/uvatlas/pkg/atlas"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Pack.Resolution != 256 {
		t.Errorf("expected resolution 256, got %d", cfg.Pack.Resolution)
	}
	if cfg.Pack.Padding != 2 {
		t.Errorf("expected padding 2, got %d", cfg.Pack.Padding)
	}
	if !cfg.Pack.Bilinear {
		t.Error("expected bilinear to be true by default")
	}
	if cfg.Pack.BruteForce {
		t.Error("expected bruteForce to be false by default")
	}
	if cfg.Chart.MaxCost != 2 || cfg.Chart.MaxIterations != 1 {
		t.Errorf("unexpected chart defaults: %+v", cfg.Chart)
	}
	if cfg.Output.Layout != atlas.LayoutOverlap {
		t.Errorf("expected OVERLAP layout, got %s", cfg.Output.Layout)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
}

func TestOptionsRoundTrip(t *testing.T) {
	cfg := Default()
	if got, want := cfg.Options(), atlas.DefaultOptions(); !reflect.DeepEqual(got, want) {
		t.Errorf("Default().Options() = %+v, want %+v", got, want)
	}

	o := atlas.DefaultOptions()
	o.TightShapes = true
	o.MaxPages = 3
	o.Layout = atlas.LayoutUDIM
	o.Workers = 2
	cfg.FromOptions(o)
	if got := cfg.Options(); !reflect.DeepEqual(got, o) {
		t.Errorf("Options() after FromOptions = %+v, want %+v", got, o)
	}
}

func TestLoadFromFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"config.yaml", `
pack:
  resolution: 1024
  bruteForce: true
  padding: 4
chart:
  maxChartArea: 2.5
  maxIterations: 3
output:
  atlasLayout: UDIM
  glb: true
workers: 2
logging:
  level: "debug"
  log_file: "uvatlas.log"
`},
		{"config.toml", `
workers = 2

[pack]
resolution = 1024
bruteForce = true
padding = 4

[chart]
maxChartArea = 2.5
maxIterations = 3

[output]
atlasLayout = "udim"
glb = true

[logging]
level = "debug"
log_file = "uvatlas.log"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}

			cfg := Default()
			if err := loadFromFile(cfg, path); err != nil {
				t.Fatalf("failed to load config: %v", err)
			}

			if cfg.Pack.Resolution != 1024 || !cfg.Pack.BruteForce || cfg.Pack.Padding != 4 {
				t.Errorf("unexpected pack config: %+v", cfg.Pack)
			}
			// Unset keys keep their defaults.
			if !cfg.Pack.Bilinear {
				t.Error("expected bilinear to keep its default")
			}
			if cfg.Chart.MaxChartArea != 2.5 || cfg.Chart.MaxIterations != 3 {
				t.Errorf("unexpected chart config: %+v", cfg.Chart)
			}
			if cfg.Chart.NormalSeamWeight != 4 {
				t.Errorf("expected normalSeamWeight default 4, got %g", cfg.Chart.NormalSeamWeight)
			}
			if cfg.Output.Layout != atlas.LayoutUDIM || !cfg.Output.GLB {
				t.Errorf("unexpected output config: %+v", cfg.Output)
			}
			if cfg.Workers != 2 {
				t.Errorf("expected 2 workers, got %d", cfg.Workers)
			}
			if cfg.Logging.Level != "debug" || cfg.Logging.LogFile != "uvatlas.log" {
				t.Errorf("unexpected logging config: %+v", cfg.Logging)
			}
		})
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid.yaml", "pack:\n  resolution: not a number\n  invalid syntax here\n"},
		{"invalid.toml", "[pack]\nresolution = \"big\"\n"},
		{"layout.yaml", "output:\n  atlasLayout: TILES\n"},
		{"unknown.toml", "[pack]\ncolour = 1\n"},
		{"config.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			if err := loadFromFile(Default(), path); err == nil {
				t.Error("expected error loading invalid config, got nil")
			}
		})
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	err := loadFromFile(Default(), "/nonexistent/path/uvatlas.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestLoadOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uvatlas.yaml")
	if err := os.WriteFile(path, []byte("pack:\n  padding: 500\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, atlas.ErrInvalidOption) {
		t.Errorf("Load() error = %v, want ErrInvalidOption", err)
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))
	t.Setenv("HOME", filepath.Join(tmpDir, "home"))

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "uvatlas.toml")
	if err := os.WriteFile(configPath, []byte("[pack]\nresolution = 512\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find uvatlas.toml in current directory")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pack.Resolution != 512 {
		t.Errorf("expected resolution 512 from found file, got %d", cfg.Pack.Resolution)
	}
}

func parseFlags(t *testing.T, args ...string) *Flags {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := Register(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return f
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: "debug flag",
			args: []string{"-debug"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "log file",
			args: []string{"-log", "out.log"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.LogFile != "out.log" {
					t.Errorf("expected log file out.log, got %s", cfg.Logging.LogFile)
				}
			},
		},
		{
			name: "boolean options",
			args: []string{"-bruteForce", "-bilinear=false"},
			verify: func(t *testing.T, cfg *Config) {
				if !cfg.Pack.BruteForce || cfg.Pack.Bilinear {
					t.Errorf("unexpected pack config: %+v", cfg.Pack)
				}
			},
		},
		{
			name: "valued options",
			args: []string{"-resolution", "2048", "-atlasLayout", "spreadx", "-maxChartArea=8"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Pack.Resolution != 2048 || cfg.Output.Layout != atlas.LayoutSpreadX || cfg.Chart.MaxChartArea != 8 {
					t.Errorf("unexpected config: %+v", cfg)
				}
			},
		},
		{
			name: "last flag wins",
			args: []string{"-padding", "1", "-padding", "6"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Pack.Padding != 6 {
					t.Errorf("expected padding 6, got %d", cfg.Pack.Padding)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parseFlags(t, tt.args...)
			cfg := Default()
			if err := f.applyFlags(cfg); err != nil {
				t.Fatalf("applyFlags failed: %v", err)
			}
			tt.verify(t, cfg)
		})
	}
}

func TestRegisterRejectsOutOfRange(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	Register(fs)
	if err := fs.Parse([]string{"-resolution", "99999"}); err == nil {
		t.Error("expected parse error for out-of-range resolution")
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "uvatlas.yaml")
	yamlContent := `
pack:
  resolution: 1600
  padding: 8
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	f := parseFlags(t, "-config", configPath, "-resolution", "1920")
	cfg, err := f.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Resolution comes from the flag, padding from the file.
	if cfg.Pack.Resolution != 1920 {
		t.Errorf("expected resolution 1920 from flag, got %d", cfg.Pack.Resolution)
	}
	if cfg.Pack.Padding != 8 {
		t.Errorf("expected padding 8 from file, got %d", cfg.Pack.Padding)
	}
}

func TestSaveTo(t *testing.T) {
	for _, name := range []string{"out/uvatlas.yaml", "out/uvatlas.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Pack.TightShapes = true
			cfg.Output.Layout = atlas.LayoutSpreadX
			cfg.Output.Dir = "atlas"

			path := filepath.Join(t.TempDir(), name)
			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo failed: %v", err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !reflect.DeepEqual(got, cfg) {
				t.Errorf("round trip = %+v, want %+v", got, cfg)
			}
		})
	}

	if err := Default().SaveTo(filepath.Join(t.TempDir(), "uvatlas.ini")); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("SaveTo(.ini) error = %v, want ErrUnknownFormat", err)
	}
}
