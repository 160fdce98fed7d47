package config

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
)

// ErrConfiguration is the root of every configuration error. Errors raised
// before a compile is attempted wrap it so callers can test with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// DefaultFilename is the output filename template used when none is configured
const DefaultFilename = "[name].js"

// BuildConfig is the bundler configuration a pipeline run works on
type BuildConfig struct {
	// Entry maps an entry point name to the ordered files it starts from.
	// It is filled from the input stream when absent.
	Entry map[string][]string `mapstructure:"entry" yaml:"entry" json:"entry"`

	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	Watch        bool           `mapstructure:"watch" yaml:"watch" json:"watch"`
	WatchOptions map[string]any `mapstructure:"watch_options" yaml:"watch_options" json:"watch_options,omitempty"`

	// Stats is a bool, a preset name or an options map (see internal/stats)
	Stats any `mapstructure:"stats" yaml:"stats" json:"stats,omitempty"`

	// AdditionalEntries is a list of files, or a function of the incoming
	// file, prepended to every generated entry point (see internal/entries)
	AdditionalEntries any `mapstructure:"additional_entries" yaml:"additional_entries" json:"-"`

	// WorkingDir is the root the output filesystem is walked from.
	// Output paths are relative to it. Defaults to the process working directory.
	WorkingDir string `mapstructure:"working_dir" yaml:"working_dir" json:"working_dir,omitempty"`

	// Engine pass-through settings
	Format    string            `mapstructure:"format" yaml:"format" json:"format,omitempty"`
	Platform  string            `mapstructure:"platform" yaml:"platform" json:"platform,omitempty"`
	Target    string            `mapstructure:"target" yaml:"target" json:"target,omitempty"`
	Minify    bool              `mapstructure:"minify" yaml:"minify" json:"minify,omitempty"`
	Sourcemap bool              `mapstructure:"sourcemap" yaml:"sourcemap" json:"sourcemap,omitempty"`
	External  []string          `mapstructure:"external" yaml:"external" json:"external,omitempty"`
	Define    map[string]string `mapstructure:"define" yaml:"define" json:"define,omitempty"`
}

// OutputConfig describes where and under which names bundles are emitted
type OutputConfig struct {
	// Path is the output directory, relative to WorkingDir when not absolute
	Path string `mapstructure:"path" yaml:"path" json:"path,omitempty"`
	// Filename is a template such as "dist/[name].js"
	Filename   string `mapstructure:"filename" yaml:"filename" json:"filename"`
	PublicPath string `mapstructure:"public_path" yaml:"public_path" json:"public_path,omitempty"`
}

// Clone returns a shallow copy of the config. Entry is copied one level deep
// so registering files on the copy never mutates the caller's table.
func (c *BuildConfig) Clone() *BuildConfig {
	if c == nil {
		return &BuildConfig{}
	}
	cp := *c
	if c.Entry != nil {
		cp.Entry = make(map[string][]string, len(c.Entry))
		for name, files := range c.Entry {
			cp.Entry[name] = slices.Clone(files)
		}
	}
	cp.WatchOptions = maps.Clone(c.WatchOptions)
	return &cp
}

// EntryNames returns the entry point names in lexicographic order
func (c *BuildConfig) EntryNames() []string {
	return slices.Sorted(maps.Keys(c.Entry))
}

// OutputDir resolves the absolute output directory
func (c *BuildConfig) OutputDir() string {
	dir := c.Output.Path
	if dir == "" {
		return c.WorkingDir
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(c.WorkingDir, dir)
	}
	return filepath.Clean(dir)
}

// FilenameTemplate returns the configured output filename template or the default
func (c *BuildConfig) FilenameTemplate() string {
	if c.Output.Filename == "" {
		return DefaultFilename
	}
	return c.Output.Filename
}

// Validate validates the build configuration
func (c *BuildConfig) Validate() error {
	if c.WorkingDir != "" && !filepath.IsAbs(c.WorkingDir) {
		return fmt.Errorf("%w: working_dir must be absolute, got %q", ErrConfiguration, c.WorkingDir)
	}

	filename := c.FilenameTemplate()
	if !strings.Contains(filename, "[name]") && len(c.Entry) > 1 {
		return fmt.Errorf("%w: output.filename %q must contain [name] when bundling multiple entry points", ErrConfiguration, filename)
	}
	if strings.HasPrefix(filename, "/") {
		return fmt.Errorf("%w: output.filename %q must be relative", ErrConfiguration, filename)
	}

	for name, files := range c.Entry {
		if name == "" {
			return fmt.Errorf("%w: entry point name cannot be empty", ErrConfiguration)
		}
		if len(files) == 0 {
			return fmt.Errorf("%w: entry point %q has no files", ErrConfiguration, name)
		}
	}

	return nil
}
