// Package stats normalises stats verbosity settings and renders the
// human-readable summary printed after each compile cycle.
package stats

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/term"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

// ErrUnknownPreset is returned for a preset name that doesn't exist
var ErrUnknownPreset = fmt.Errorf("%w: unknown stats preset", config.ErrConfiguration)

// DefaultExclude lists the dependency directories hidden from module listings
var DefaultExclude = []string{"node_modules", "bower_components", "components"}

// Options controls what the summary shows
type Options struct {
	Colors   bool
	Hash     bool
	Timings  bool
	Assets   bool
	Modules  bool
	Errors   bool
	Warnings bool
	Analysis bool

	// Cached shows modules unchanged since the previous cycle
	Cached bool
	// CachedAssets shows assets unchanged since the previous cycle
	CachedAssets bool
	// Exclude hides modules beneath directories with these names
	Exclude []string
}

// Empty reports whether the options render nothing
func (o Options) Empty() bool {
	return !o.Hash && !o.Timings && !o.Assets && !o.Modules && !o.Errors && !o.Warnings && !o.Analysis
}

var presets = map[string]Options{
	"none":        {},
	"errors-only": {Errors: true},
	"minimal":     {Errors: true, Warnings: true, Assets: true},
	"normal":      {Hash: true, Timings: true, Assets: true, Errors: true, Warnings: true},
	"detailed":    {Hash: true, Timings: true, Assets: true, Modules: true, Errors: true, Warnings: true},
	"verbose": {
		Hash: true, Timings: true, Assets: true, Modules: true, Errors: true, Warnings: true,
		Analysis: true, Cached: true, CachedAssets: true, Exclude: []string{},
	},
}

// Preset returns the options of a named preset
func Preset(name string) (Options, error) {
	o, ok := presets[strings.ToLower(name)]
	if !ok {
		return Options{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return o, nil
}

// overrides mirrors Options with every field optional
type overrides struct {
	Preset       string    `mapstructure:"preset"`
	Colors       *bool     `mapstructure:"colors"`
	Hash         *bool     `mapstructure:"hash"`
	Timings      *bool     `mapstructure:"timings"`
	Assets       *bool     `mapstructure:"assets"`
	Modules      *bool     `mapstructure:"modules"`
	Errors       *bool     `mapstructure:"errors"`
	Warnings     *bool     `mapstructure:"warnings"`
	Analysis     *bool     `mapstructure:"analysis"`
	Cached       *bool     `mapstructure:"cached"`
	CachedAssets *bool     `mapstructure:"cached_assets"`
	Exclude      *[]string `mapstructure:"exclude"`
}

// Normalize turns a configured stats value into Options. v may be nil, a
// bool, a preset name, an options map or an Options value. Unset colors
// follow terminal detection; unset cached and cached_assets are false;
// an unset exclude hides DefaultExclude.
func Normalize(v any) (Options, error) {
	var (
		opts       Options
		ov         overrides
		colorsSet  bool
		excludeSet bool
	)

	switch val := v.(type) {
	case nil:
		opts = presets["normal"]
	case bool:
		if val {
			opts = presets["normal"]
		} else {
			opts = presets["none"]
		}
	case string:
		p, err := Preset(val)
		if err != nil {
			return Options{}, err
		}
		opts = p
	case Options:
		return val, nil
	case map[string]any:
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &ov,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
		})
		if err != nil {
			return Options{}, err
		}
		if err := decoder.Decode(val); err != nil {
			return Options{}, fmt.Errorf("%w: invalid stats options: %v", config.ErrConfiguration, err)
		}
		preset := ov.Preset
		if preset == "" {
			preset = "normal"
		}
		if opts, err = Preset(preset); err != nil {
			return Options{}, err
		}
		applyOverrides(&opts, ov)
		colorsSet = ov.Colors != nil
		excludeSet = ov.Exclude != nil
	default:
		return Options{}, fmt.Errorf("%w: stats must be a bool, a preset name or an options map, got %T", config.ErrConfiguration, v)
	}

	if !colorsSet {
		opts.Colors = supportsColor()
	}
	if !excludeSet && opts.Exclude == nil {
		opts.Exclude = DefaultExclude
	}

	return opts, nil
}

func applyOverrides(o *Options, ov overrides) {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.Colors, ov.Colors)
	set(&o.Hash, ov.Hash)
	set(&o.Timings, ov.Timings)
	set(&o.Assets, ov.Assets)
	set(&o.Modules, ov.Modules)
	set(&o.Errors, ov.Errors)
	set(&o.Warnings, ov.Warnings)
	set(&o.Analysis, ov.Analysis)
	set(&o.Cached, ov.Cached)
	set(&o.CachedAssets, ov.CachedAssets)
	if ov.Exclude != nil {
		o.Exclude = *ov.Exclude
	}
}

func supportsColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
