// Package entries turns incoming files into bundler entry points.
package entries

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

var (
	// ErrInvalidAdditionalEntries is returned when an additional entries
	// function produces something other than a list of files
	ErrInvalidAdditionalEntries = fmt.Errorf("%w: additional entries function must return a list of files", config.ErrConfiguration)

	// ErrUnsupportedAdditionalEntriesType is returned when additional entries
	// is configured as neither a list nor a function
	ErrUnsupportedAdditionalEntriesType = fmt.Errorf("%w: additional entries must be a list or a function", config.ErrConfiguration)
)

// File is an incoming unit of work. Only Path matters for registration.
type File struct {
	Path     string
	Contents []byte
}

// EntriesFunc computes the files prepended to the entry point of file
type EntriesFunc func(file File) any

// Registrar maps incoming files onto a config's entry table
type Registrar struct {
	static []string
	fn     EntriesFunc
}

// NewRegistrar creates a registrar. additional may be nil, a list of files
// ([]string or []any of strings, as decoded from YAML), or a function of
// the incoming file returning such a list.
func NewRegistrar(additional any) (*Registrar, error) {
	r := &Registrar{}

	switch v := additional.(type) {
	case nil:
	case []string:
		r.static = v
	case []any:
		files, ok := toFileList(v)
		if !ok {
			return nil, fmt.Errorf("%w: got %T", ErrUnsupportedAdditionalEntriesType, additional)
		}
		r.static = files
	case EntriesFunc:
		r.fn = v
	case func(File) any:
		r.fn = v
	case func(File) []string:
		r.fn = func(f File) any { return v(f) }
	default:
		return nil, fmt.Errorf("%w: got %T", ErrUnsupportedAdditionalEntriesType, additional)
	}

	return r, nil
}

// Name derives the entry point name for a path: the base name with its
// extension stripped. A leading dot does not start an extension, so
// ".eslintrc" keeps its name.
func Name(path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext == base {
		return base
	}
	return strings.TrimSuffix(base, ext)
}

// Register adds file as an entry point of cfg, replacing any entry point
// registered under the same name
func (r *Registrar) Register(cfg *config.BuildConfig, file File) error {
	name := Name(file.Path)

	files, err := r.entryFiles(file)
	if err != nil {
		return err
	}

	if cfg.Entry == nil {
		cfg.Entry = make(map[string][]string)
	}
	if previous, exists := cfg.Entry[name]; exists {
		log.Debug().
			Str("entry", name).
			Strs("previous", previous).
			Str("file", file.Path).
			Msg("Entry point overwritten")
	}
	cfg.Entry[name] = files

	return nil
}

func (r *Registrar) entryFiles(file File) ([]string, error) {
	var files []string

	switch {
	case r.fn != nil:
		result := r.fn(file)
		var ok bool
		switch v := result.(type) {
		case []string:
			files, ok = v, true
		case []any:
			files, ok = toFileList(v)
		}
		if !ok {
			return nil, fmt.Errorf("%w: got %T for %s", ErrInvalidAdditionalEntries, result, file.Path)
		}
	case r.static != nil:
		files = r.static
	}

	out := make([]string, 0, len(files)+1)
	out = append(out, files...)
	return append(out, file.Path), nil
}

func toFileList(values []any) ([]string, bool) {
	files := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		files = append(files, s)
	}
	return files, true
}
