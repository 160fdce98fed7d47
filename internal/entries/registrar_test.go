package entries

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

func TestName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/src/entry.js", "entry"},
		{"/src/entry.test.js", "entry.test"},
		{"/src/Makefile", "Makefile"},
		{"/src/.eslintrc", ".eslintrc"},
		{"/src/.babelrc.js", ".babelrc"},
		{"relative/app.tsx", "app"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Name(tt.path))
		})
	}
}

func TestRegister_Default(t *testing.T) {
	r, err := NewRegistrar(nil)
	require.NoError(t, err)

	cfg := &config.BuildConfig{}
	require.NoError(t, r.Register(cfg, File{Path: "/src/a.js"}))
	require.NoError(t, r.Register(cfg, File{Path: "/src/lib/b.ts"}))

	assert.Equal(t, map[string][]string{
		"a": {"/src/a.js"},
		"b": {"/src/lib/b.ts"},
	}, cfg.Entry)
}

func TestRegister_Collision(t *testing.T) {
	r, err := NewRegistrar(nil)
	require.NoError(t, err)

	cfg := &config.BuildConfig{Entry: map[string][]string{}}
	require.NoError(t, r.Register(cfg, File{Path: "/first/entry.js"}))
	require.NoError(t, r.Register(cfg, File{Path: "/second/entry.js"}))

	assert.Equal(t, map[string][]string{"entry": {"/second/entry.js"}}, cfg.Entry)
}

func TestRegister_SameFileTwice(t *testing.T) {
	r, err := NewRegistrar([]string{"/src/polyfill.js"})
	require.NoError(t, err)

	cfg := &config.BuildConfig{}
	require.NoError(t, r.Register(cfg, File{Path: "/src/a.js"}))
	require.NoError(t, r.Register(cfg, File{Path: "/src/a.js"}))

	assert.Equal(t, []string{"/src/polyfill.js", "/src/a.js"}, cfg.Entry["a"])
}

func TestRegister_StaticAdditionalEntries(t *testing.T) {
	tests := []struct {
		name       string
		additional any
	}{
		{"string slice", []string{"/src/polyfill.js", "/src/setup.js"}},
		{"yaml list", []any{"/src/polyfill.js", "/src/setup.js"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistrar(tt.additional)
			require.NoError(t, err)

			cfg := &config.BuildConfig{}
			require.NoError(t, r.Register(cfg, File{Path: "/src/app.js"}))
			require.NoError(t, r.Register(cfg, File{Path: "/src/admin.js"}))

			assert.Equal(t, []string{"/src/polyfill.js", "/src/setup.js", "/src/app.js"}, cfg.Entry["app"])
			assert.Equal(t, []string{"/src/polyfill.js", "/src/setup.js", "/src/admin.js"}, cfg.Entry["admin"])
		})
	}
}

func TestRegister_StaticListNotShared(t *testing.T) {
	static := []string{"/src/polyfill.js"}
	r, err := NewRegistrar(static)
	require.NoError(t, err)

	cfg := &config.BuildConfig{}
	require.NoError(t, r.Register(cfg, File{Path: "/src/a.js"}))
	require.NoError(t, r.Register(cfg, File{Path: "/src/b.js"}))

	cfg.Entry["a"][0] = "/mutated.js"
	assert.Equal(t, "/src/polyfill.js", cfg.Entry["b"][0])
	assert.Equal(t, []string{"/src/polyfill.js"}, static)
}

func TestRegister_FunctionAdditionalEntries(t *testing.T) {
	var seen []string
	fn := func(f File) []string {
		seen = append(seen, f.Path)
		return []string{"/src/" + Name(f.Path) + ".css"}
	}

	r, err := NewRegistrar(fn)
	require.NoError(t, err)

	cfg := &config.BuildConfig{}
	require.NoError(t, r.Register(cfg, File{Path: "/src/app.js"}))

	assert.Equal(t, []string{"/src/app.css", "/src/app.js"}, cfg.Entry["app"])
	assert.Equal(t, []string{"/src/app.js"}, seen)
}

func TestRegister_InvalidFunctionResult(t *testing.T) {
	tests := []struct {
		name string
		fn   EntriesFunc
	}{
		{"string", func(File) any { return "/src/polyfill.js" }},
		{"nil", func(File) any { return nil }},
		{"mixed list", func(File) any { return []any{"/src/a.js", 42} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRegistrar(tt.fn)
			require.NoError(t, err)

			cfg := &config.BuildConfig{}
			err = r.Register(cfg, File{Path: "/src/app.js"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAdditionalEntries))
			assert.True(t, errors.Is(err, config.ErrConfiguration))
			assert.Empty(t, cfg.Entry)
		})
	}
}

func TestNewRegistrar_UnsupportedType(t *testing.T) {
	for _, additional := range []any{"polyfill.js", 42, map[string]any{"a": "b"}, []any{1, 2}} {
		_, err := NewRegistrar(additional)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnsupportedAdditionalEntriesType))
		assert.True(t, errors.Is(err, config.ErrConfiguration))
	}
}
