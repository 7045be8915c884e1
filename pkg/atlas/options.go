package atlas

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/uvatlas/pkg/atlas/chart"
	"github.com/Faultbox/uvatlas/pkg/atlas/pack"
)

// ErrInvalidOption is returned for unknown option names and out-of-range values.
var ErrInvalidOption = errors.New("invalid option")

// Layout controls how pages relate in the final UV space.
type Layout int

const (
	LayoutOverlap Layout = iota // Every page maps onto [0,1]
	LayoutSpreadX               // Page i maps onto [i,i+1] in u
	LayoutUDIM                  // Page i maps onto tile (i%10, i/10)
)

var layoutNames = []string{"OVERLAP", "SPREADX", "UDIM"}

func (l Layout) String() string {
	if l >= 0 && int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout parses a layout name, ignoring case.
func ParseLayout(s string) (Layout, error) {
	for i, name := range layoutNames {
		if strings.EqualFold(s, name) {
			return Layout(i), nil
		}
	}
	return 0, fmt.Errorf("%w: atlasLayout %q (want OVERLAP, SPREADX or UDIM)", ErrInvalidOption, s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Layout) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Layout) UnmarshalText(b []byte) error {
	v, err := ParseLayout(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Options configures Generate. The zero value is valid but differs from
// DefaultOptions; start from DefaultOptions for the usual weights.
type Options struct {
	// Packing
	BruteForce    bool
	Resolution    int
	Padding       int
	Bilinear      bool
	// BlockAlign anchors every padded chart footprint on a 4x4 texel block.
	// The chart starts padding texels inside that block, so it is block
	// aligned only when the padding is a multiple of 4.
	BlockAlign    bool
	MaxChartSize  int
	TexelsPerUnit float64
	TightShapes   bool
	MaxPages      int

	// Charting
	MaxChartArea          float64
	MaxBoundaryLength     float64
	NormalDeviationWeight float64
	RoundnessWeight       float64
	StraightnessWeight    float64
	NormalSeamWeight      float64
	TextureSeamWeight     float64
	MaxCost               float64
	MaxIterations         int

	PackOnly bool
	Layout   Layout
	Workers  int // 0 means GOMAXPROCS

	Logger *zap.Logger // nil discards engine logs
}

// DefaultOptions returns the defaults of the Blender add-on.
func DefaultOptions() Options {
	c := chart.DefaultOptions()
	return Options{
		Resolution:            256,
		Padding:               2,
		Bilinear:              true,
		NormalDeviationWeight: c.NormalDeviationWeight,
		RoundnessWeight:       c.RoundnessWeight,
		StraightnessWeight:    c.StraightnessWeight,
		NormalSeamWeight:      c.NormalSeamWeight,
		TextureSeamWeight:     c.TextureSeamWeight,
		MaxCost:               c.MaxCost,
		MaxIterations:         c.MaxIterations,
	}
}

// ChartOptions returns the chart builder settings.
func (o Options) ChartOptions() chart.Options {
	return chart.Options{
		MaxChartArea:          o.MaxChartArea,
		MaxBoundaryLength:     o.MaxBoundaryLength,
		NormalDeviationWeight: o.NormalDeviationWeight,
		RoundnessWeight:       o.RoundnessWeight,
		StraightnessWeight:    o.StraightnessWeight,
		NormalSeamWeight:      o.NormalSeamWeight,
		TextureSeamWeight:     o.TextureSeamWeight,
		MaxCost:               o.MaxCost,
		MaxIterations:         o.MaxIterations,
	}
}

// PackOptions returns the packer settings.
func (o Options) PackOptions() pack.Options {
	return pack.Options{
		Resolution:    o.Resolution,
		TexelsPerUnit: o.TexelsPerUnit,
		Padding:       o.Padding,
		Bilinear:      o.Bilinear,
		BlockAlign:    o.BlockAlign,
		BruteForce:    o.BruteForce,
		TightShapes:   o.TightShapes,
		MaxChartSize:  o.MaxChartSize,
		MaxPages:      o.MaxPages,
		Workers:       o.Workers,
	}
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// option binds a name to a field of Options.
type option struct {
	name    string
	boolean bool
	get     func(o *Options) string
	set     func(o *Options, v string) error
	check   func(o *Options) error
}

func boolOption(name string, field func(o *Options) *bool) option {
	return option{
		name:    name,
		boolean: true,
		get:     func(o *Options) string { return strconv.FormatBool(*field(o)) },
		set: func(o *Options, v string) error {
			if v == "" {
				*field(o) = true
				return nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalidOption, name, v)
			}
			*field(o) = b
			return nil
		},
		check: func(*Options) error { return nil },
	}
}

func intOption(name string, lo, hi int, field func(o *Options) *int) option {
	check := func(o *Options) error {
		if v := *field(o); v < lo || v > hi {
			return fmt.Errorf("%w: %s=%d out of range [%d,%d]", ErrInvalidOption, name, v, lo, hi)
		}
		return nil
	}
	return option{
		name: name,
		get:  func(o *Options) string { return strconv.Itoa(*field(o)) },
		set: func(o *Options, v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidOption, name, v)
			}
			old := *field(o)
			*field(o) = n
			if err := check(o); err != nil {
				*field(o) = old
				return err
			}
			return nil
		},
		check: check,
	}
}

func floatOption(name string, lo, hi float64, field func(o *Options) *float64) option {
	check := func(o *Options) error {
		if v := *field(o); math.IsNaN(v) || v < lo || v > hi {
			return fmt.Errorf("%w: %s=%g out of range [%g,%g]", ErrInvalidOption, name, v, lo, hi)
		}
		return nil
	}
	return option{
		name: name,
		get:  func(o *Options) string { return strconv.FormatFloat(*field(o), 'g', -1, 64) },
		set: func(o *Options, v string) error {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidOption, name, v)
			}
			old := *field(o)
			*field(o) = f
			if err := check(o); err != nil {
				*field(o) = old
				return err
			}
			return nil
		},
		check: check,
	}
}

var options = []option{
	boolOption("bruteForce", func(o *Options) *bool { return &o.BruteForce }),
	intOption("resolution", 0, 4096, func(o *Options) *int { return &o.Resolution }),
	intOption("padding", 0, 64, func(o *Options) *int { return &o.Padding }),
	boolOption("bilinear", func(o *Options) *bool { return &o.Bilinear }),
	boolOption("blockAlign", func(o *Options) *bool { return &o.BlockAlign }),
	intOption("maxChartSize", 0, 10000, func(o *Options) *int { return &o.MaxChartSize }),
	floatOption("texelsPerUnit", 0, 10000, func(o *Options) *float64 { return &o.TexelsPerUnit }),
	floatOption("maxChartArea", 0, 10000, func(o *Options) *float64 { return &o.MaxChartArea }),
	floatOption("maxBoundaryLength", 0, 10000, func(o *Options) *float64 { return &o.MaxBoundaryLength }),
	floatOption("normalDeviationWeight", 0, 10000, func(o *Options) *float64 { return &o.NormalDeviationWeight }),
	floatOption("roundnessWeight", 0, 10000, func(o *Options) *float64 { return &o.RoundnessWeight }),
	floatOption("straightnessWeight", 0, 10000, func(o *Options) *float64 { return &o.StraightnessWeight }),
	floatOption("normalSeamWeight", 0, 10000, func(o *Options) *float64 { return &o.NormalSeamWeight }),
	floatOption("textureSeamWeight", 0, 10000, func(o *Options) *float64 { return &o.TextureSeamWeight }),
	floatOption("maxCost", 0, 10000, func(o *Options) *float64 { return &o.MaxCost }),
	intOption("maxIterations", 0, 1000, func(o *Options) *int { return &o.MaxIterations }),
	boolOption("packOnly", func(o *Options) *bool { return &o.PackOnly }),
	{
		name: "atlasLayout",
		get:  func(o *Options) string { return o.Layout.String() },
		set: func(o *Options, v string) error {
			l, err := ParseLayout(strings.TrimSpace(v))
			if err != nil {
				return err
			}
			o.Layout = l
			return nil
		},
		check: func(o *Options) error {
			if o.Layout < LayoutOverlap || o.Layout > LayoutUDIM {
				return fmt.Errorf("%w: atlasLayout %d", ErrInvalidOption, int(o.Layout))
			}
			return nil
		},
	},
	boolOption("tightShapes", func(o *Options) *bool { return &o.TightShapes }),
	intOption("maxPages", 0, 10000, func(o *Options) *int { return &o.MaxPages }),
	intOption("workers", 0, 1024, func(o *Options) *int { return &o.Workers }),
}

func lookup(name string) (option, bool) {
	name = strings.TrimLeft(name, "-")
	for _, opt := range options {
		if strings.EqualFold(opt.name, name) {
			return opt, true
		}
	}
	return option{}, false
}

// OptionNames lists every recognized option in canonical spelling.
func OptionNames() []string {
	names := make([]string, len(options))
	for i, opt := range options {
		names[i] = opt.name
	}
	return names
}

// IsBoolOption reports whether name is a flag-style boolean option.
func IsBoolOption(name string) bool {
	opt, ok := lookup(name)
	return ok && opt.boolean
}

// Set assigns an option by name. Names are matched ignoring case and leading
// dashes; an empty value turns a boolean option on. The value is range checked
// and the options are left unchanged on error.
func (o *Options) Set(name, value string) error {
	opt, ok := lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
	}
	return opt.set(o, value)
}

// Get returns the textual value of an option.
func (o *Options) Get(name string) (string, error) {
	opt, ok := lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: unknown option %q", ErrInvalidOption, name)
	}
	return opt.get(o), nil
}

// Validate range checks every option.
func (o Options) Validate() error {
	for _, opt := range options {
		if err := opt.check(&o); err != nil {
			return err
		}
	}
	return nil
}

// ParseArgs applies original-style command line options such as
// "-resolution 512 -bruteForce -atlasLayout UDIM". A boolean option consumes
// the next argument only when it parses as a boolean.
func (o *Options) ParseArgs(args []string) error {
	for i := 0; i < len(args); i++ {
		name := args[i]
		if !strings.HasPrefix(name, "-") {
			return fmt.Errorf("%w: unexpected argument %q", ErrInvalidOption, name)
		}
		if k, v, ok := strings.Cut(name, "="); ok {
			if err := o.Set(k, v); err != nil {
				return err
			}
			continue
		}
		value := ""
		if IsBoolOption(name) {
			if i+1 < len(args) {
				if _, err := strconv.ParseBool(args[i+1]); err == nil {
					value = args[i+1]
					i++
				}
			}
		} else {
			if i+1 >= len(args) {
				return fmt.Errorf("%w: option %s needs a value", ErrInvalidOption, name)
			}
			value = args[i+1]
			i++
		}
		if err := o.Set(name, value); err != nil {
			return err
		}
	}
	return nil
}
