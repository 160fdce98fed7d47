package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxbase-eu/pipedbundle/internal/bundler"
	"github.com/fluxbase-eu/pipedbundle/internal/config"
	"github.com/fluxbase-eu/pipedbundle/internal/entries"
	"github.com/fluxbase-eu/pipedbundle/internal/observability"
	"github.com/fluxbase-eu/pipedbundle/internal/stream"
	"github.com/fluxbase-eu/pipedbundle/internal/testutil"
	"github.com/fluxbase-eu/pipedbundle/internal/vfs"
)

func writeSources(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
	return dir
}

func collect(t *testing.T, s *stream.Stream) ([]vfs.OutputFile, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Collect(ctx)
}

func paths(files []vfs.OutputFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

func TestRun_ConfiguredEntries(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"src/a.js": `console.log("a");`,
		"src/b.js": `console.log("b");`,
	})
	cfg := &config.BuildConfig{
		Entry: map[string][]string{
			"entryA": {filepath.Join(dir, "src/a.js")},
			"entryB": {filepath.Join(dir, "src/b.js")},
		},
		Output:     config.OutputConfig{Filename: "dist/[name].js"},
		WorkingDir: dir,
		Stats:      "none",
	}

	s, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	files, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/entryA.js", "dist/entryB.js"}, paths(files))
}

func TestRun_GeneratedEntriesIndependentOfOrder(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"src/home.js":  `console.log("home");`,
		"src/about.js": `console.log("about");`,
	})

	build := func(order ...string) []string {
		cfg := &config.BuildConfig{
			Output:     config.OutputConfig{Filename: "out/[name].js"},
			WorkingDir: dir,
			Stats:      false,
		}
		s, err := Run(context.Background(), cfg, nil)
		require.NoError(t, err)
		for _, name := range order {
			require.NoError(t, s.Write(entries.File{Path: filepath.Join(dir, "src", name)}))
		}
		require.NoError(t, s.CloseWrite())

		files, err := collect(t, s)
		require.NoError(t, err)
		return paths(files)
	}

	first := build("home.js", "about.js")
	second := build("about.js", "home.js")
	assert.Equal(t, []string{"out/about.js", "out/home.js"}, first)
	assert.Equal(t, first, second)
}

func TestRun_CompileErrorEndToEnd(t *testing.T) {
	dir := writeSources(t, map[string]string{"broken.js": `const = ;`})
	cfg := &config.BuildConfig{
		Entry:      map[string][]string{"broken": {filepath.Join(dir, "broken.js")}},
		Output:     config.OutputConfig{Filename: "out/[name].js"},
		WorkingDir: dir,
		Stats:      false,
	}

	s, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	files, err := collect(t, s)
	require.Error(t, err)
	var compileErr *bundler.CompileError
	assert.True(t, errors.As(err, &compileErr))
	assert.Empty(t, files)
}

func TestRun_DefaultWorkingDir(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"src/a.js": `console.log("a");`,
		"src/b.js": `console.log("b");`,
	})
	t.Chdir(dir)

	cfg := &config.BuildConfig{
		Entry: map[string][]string{
			"entryA": {"./src/a.js"},
			"entryB": {"./src/b.js"},
		},
		Output: config.OutputConfig{Filename: "dist/[name].js"},
		Stats:  false,
	}

	s, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	files, err := collect(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"dist/entryA.js", "dist/entryB.js"}, paths(files))
	assert.Empty(t, cfg.WorkingDir)
}

func TestRun_EveryCompileErrorReachesReader(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"first.js":  `const = ;`,
		"second.js": `let = ;`,
	})
	cfg := &config.BuildConfig{
		Entry: map[string][]string{
			"first":  {filepath.Join(dir, "first.js")},
			"second": {filepath.Join(dir, "second.js")},
		},
		Output:     config.OutputConfig{Filename: "out/[name].js"},
		WorkingDir: dir,
		Stats:      false,
	}

	s, err := Run(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	_, err = collect(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first.js")
	assert.Contains(t, err.Error(), "second.js")
}

func TestRun_ReportsEachCompileErrorMessage(t *testing.T) {
	engine := &testutil.MockEngine{
		Cycles: []testutil.Cycle{{
			Result: bundler.Result{Stats: &bundler.Stats{Errors: []bundler.Message{
				{Text: "unexpected token", File: "a.js", Line: 1},
				{Text: "missing export", File: "b.js", Line: 3},
			}}},
		}},
	}
	cfg := &config.BuildConfig{
		Entry:      map[string][]string{"a": {"/src/a.js"}, "b": {"/src/b.js"}},
		WorkingDir: "/work",
		Stats:      false,
	}

	s, err := Run(context.Background(), cfg, &BundlerFactory{Engine: engine})
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	_, err = collect(t, s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected token")
	assert.Contains(t, err.Error(), "missing export")
	var compileErr *bundler.CompileError
	assert.True(t, errors.As(err, &compileErr))
}

func TestRun_WatchStreamsRebuildsUntilCancelled(t *testing.T) {
	engine := &testutil.MockEngine{
		Cycles: []testutil.Cycle{
			{Result: testutil.Success("h1"), Files: map[string]string{"app.js": "v1"}},
			{Result: testutil.Success("h2"), Files: map[string]string{"app.js": "v2"}},
		},
	}
	cfg := &config.BuildConfig{
		Entry:      map[string][]string{"app": {"/src/app.js"}},
		WorkingDir: "/work",
		Watch:      true,
		Stats:      false,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, err := Run(ctx, cfg, &BundlerFactory{Engine: engine})
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	readCtx, readCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer readCancel()

	for _, want := range []string{"v1", "v2"} {
		f, err := s.Read(readCtx)
		require.NoError(t, err)
		assert.Equal(t, "app.js", f.Path)
		assert.Equal(t, want, string(f.Contents))
	}

	cancel()
	_, err = s.Read(readCtx)
	assert.ErrorIs(t, err, io.EOF)
	<-s.Compiled()
	assert.NoError(t, s.Err())
}

func TestRun_EmptyInput(t *testing.T) {
	engine := &testutil.MockEngine{}
	cfg := &config.BuildConfig{WorkingDir: "/work"}

	s, err := Run(context.Background(), cfg, &BundlerFactory{Engine: engine})
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	files, err := collect(t, s)
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.Empty(t, engine.Configs(), "no compile must be attempted")
}

func TestRun_DoesNotMutateCallerConfig(t *testing.T) {
	engine := &testutil.MockEngine{
		Cycles: []testutil.Cycle{{
			Result: testutil.Success("h"),
			Files:  map[string]string{"app.js": "bundle"},
		}},
	}
	cfg := &config.BuildConfig{
		Entry:             map[string][]string{"vendor": {"/src/vendor.js"}},
		AdditionalEntries: []string{"/src/polyfill.js"},
		WorkingDir:        "/work",
		Stats:             false,
	}

	s, err := Run(context.Background(), cfg, &BundlerFactory{Engine: engine, Metrics: observability.NewMetrics()})
	require.NoError(t, err)
	require.NoError(t, s.Write(entries.File{Path: "/src/app.js"}))
	require.NoError(t, s.CloseWrite())

	files, err := collect(t, s)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "app.js", files[0].Path)
	assert.Equal(t, "bundle", string(files[0].Contents))

	configs := engine.Configs()
	require.Len(t, configs, 1)
	assert.Equal(t, map[string][]string{
		"vendor": {"/src/vendor.js"},
		"app":    {"/src/polyfill.js", "/src/app.js"},
	}, configs[0].Entry)
	assert.Equal(t, map[string][]string{"vendor": {"/src/vendor.js"}}, cfg.Entry)
}

func TestRun_OneCompileErrorOneChannelError(t *testing.T) {
	engine := &testutil.MockEngine{
		Cycles: []testutil.Cycle{{
			Result: bundler.Result{Stats: &bundler.Stats{Errors: []bundler.Message{{Text: "nope"}}}},
			Files:  map[string]string{"a.js": "stale"},
		}},
	}
	cfg := &config.BuildConfig{
		Entry:      map[string][]string{"a": {"/src/a.js"}},
		WorkingDir: "/work",
		Stats:      false,
	}

	s, err := Run(context.Background(), cfg, &BundlerFactory{Engine: engine})
	require.NoError(t, err)
	require.NoError(t, s.CloseWrite())

	var items, errs int
	for _, err := range s.Files(context.Background()) {
		if err != nil {
			errs++
			continue
		}
		items++
	}
	assert.Equal(t, 0, items)
	assert.Equal(t, 1, errs)
}

type spyPlugin struct {
	cfg *config.BuildConfig
}

func (p *spyPlugin) Run(ctx context.Context) (*stream.Stream, error) {
	return nil, nil
}

func TestRun_CustomFactory(t *testing.T) {
	var spy *spyPlugin
	factory := FactoryFunc(func(cfg *config.BuildConfig) (Plugin, error) {
		spy = &spyPlugin{cfg: cfg}
		return spy, nil
	})
	cfg := &config.BuildConfig{Watch: true}

	_, err := Run(context.Background(), cfg, factory)
	require.NoError(t, err)
	require.NotNil(t, spy)
	assert.Same(t, cfg, spy.cfg)
}

// engineFactory is both a plugin factory and a bundler engine
type engineFactory struct {
	constructed bool
}

func (e *engineFactory) Construct(cfg *config.BuildConfig) (Plugin, error) {
	e.constructed = true
	return &spyPlugin{cfg: cfg}, nil
}

func (e *engineFactory) NewCompiler(cfg *config.BuildConfig) (bundler.Compiler, error) {
	return nil, errors.New("unreachable")
}

func TestRun_RejectsEngine(t *testing.T) {
	factory := &engineFactory{}

	_, err := Run(context.Background(), &config.BuildConfig{}, factory)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatiblePlugin))
	assert.True(t, errors.Is(err, config.ErrConfiguration))
	assert.False(t, factory.constructed)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.BuildConfig
		want error
	}{
		{
			name: "unsupported additional entries",
			cfg:  &config.BuildConfig{AdditionalEntries: 42},
			want: entries.ErrUnsupportedAdditionalEntriesType,
		},
		{
			name: "unknown stats preset",
			cfg:  &config.BuildConfig{Stats: "chatty"},
			want: config.ErrConfiguration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(context.Background(), tt.cfg, &BundlerFactory{Engine: &testutil.MockEngine{}})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want))
		})
	}
}
