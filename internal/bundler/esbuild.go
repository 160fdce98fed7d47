package bundler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/fluxbase-eu/pipedbundle/internal/config"
)

// entryNamespace holds the synthetic modules that join multi-file entry points
const entryNamespace = "pipedbundle-entry"

var formats = map[string]api.Format{
	"":     api.FormatDefault,
	"iife": api.FormatIIFE,
	"cjs":  api.FormatCommonJS,
	"esm":  api.FormatESModule,
}

var platforms = map[string]api.Platform{
	"":        api.PlatformBrowser,
	"browser": api.PlatformBrowser,
	"node":    api.PlatformNode,
	"neutral": api.PlatformNeutral,
}

var targets = map[string]api.Target{
	"":       api.ESNext,
	"esnext": api.ESNext,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
}

// Esbuild is the production engine, backed by esbuild's Go API
type Esbuild struct{}

// NewEsbuild creates the esbuild engine
func NewEsbuild() *Esbuild {
	return &Esbuild{}
}

// NewCompiler creates an esbuild build context for cfg. Errors creating the
// context are returned as *FatalError.
func (e *Esbuild) NewCompiler(cfg *config.BuildConfig) (Compiler, error) {
	c := &esbuildCompiler{
		cfg:        cfg,
		outputFS:   afero.NewMemMapFs(),
		prevAssets: map[string]string{},
		prevInputs: map[string]int{},
	}

	opts, err := c.buildOptions()
	if err != nil {
		return nil, &FatalError{Err: err}
	}

	bctx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return nil, &FatalError{
			Err:     errors.New("failed to create build context"),
			Details: formatMessages(ctxErr.Errors),
		}
	}
	c.bctx = bctx

	return c, nil
}

type esbuildCompiler struct {
	cfg  *config.BuildConfig
	bctx api.BuildContext

	mu         sync.Mutex
	outputFS   afero.Fs
	watchCb    Callback
	started    time.Time
	prevAssets map[string]string // asset name -> esbuild hash
	prevInputs map[string]int    // input path -> bytes
}

func (c *esbuildCompiler) buildOptions() (api.BuildOptions, error) {
	format, ok := formats[strings.ToLower(c.cfg.Format)]
	if !ok {
		return api.BuildOptions{}, fmt.Errorf("unsupported format %q", c.cfg.Format)
	}
	platform, ok := platforms[strings.ToLower(c.cfg.Platform)]
	if !ok {
		return api.BuildOptions{}, fmt.Errorf("unsupported platform %q", c.cfg.Platform)
	}
	target, ok := targets[strings.ToLower(c.cfg.Target)]
	if !ok {
		return api.BuildOptions{}, fmt.Errorf("unsupported target %q", c.cfg.Target)
	}

	outputPath, ext := splitFilenameTemplate(c.cfg.FilenameTemplate())

	var entryPoints []api.EntryPoint
	multi := map[string][]string{}
	for _, name := range c.cfg.EntryNames() {
		files := c.cfg.Entry[name]
		input := files[len(files)-1]
		if len(files) > 1 {
			input = entryNamespace + ":" + name
			multi[name] = files
		}
		entryPoints = append(entryPoints, api.EntryPoint{
			InputPath:  input,
			OutputPath: strings.ReplaceAll(outputPath, "[name]", name),
		})
	}

	opts := api.BuildOptions{
		EntryPointsAdvanced: entryPoints,
		Bundle:              true,
		Write:               false,
		Metafile:            true,
		Outdir:              c.cfg.OutputDir(),
		AbsWorkingDir:       c.cfg.WorkingDir,
		Format:              format,
		Platform:            platform,
		Target:              target,
		MinifyWhitespace:    c.cfg.Minify,
		MinifyIdentifiers:   c.cfg.Minify,
		MinifySyntax:        c.cfg.Minify,
		External:            c.cfg.External,
		Define:              c.cfg.Define,
		PublicPath:          c.cfg.Output.PublicPath,
		LogLevel:            api.LogLevelSilent,
	}
	if c.cfg.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	if ext != ".js" {
		opts.OutExtension = map[string]string{".js": ext}
	}

	if len(multi) > 0 {
		opts.Plugins = append(opts.Plugins, multiEntryPlugin(multi, c.cfg.WorkingDir))
	}
	if c.cfg.Watch {
		opts.Plugins = append(opts.Plugins, c.watchPlugin())
	}

	return opts, nil
}

// splitFilenameTemplate separates "dist/[name].js" into the extensionless
// output path and the extension esbuild appends
func splitFilenameTemplate(filename string) (string, string) {
	ext := filepath.Ext(filename)
	if ext == "" || strings.Contains(ext, "]") {
		return filename, ".js"
	}
	return strings.TrimSuffix(filename, ext), ext
}

// multiEntryPlugin resolves synthetic entry modules importing every file of
// a multi-file entry point. The last file's exports are the entry's exports.
func multiEntryPlugin(entries map[string][]string, resolveDir string) api.Plugin {
	return api.Plugin{
		Name: "pipedbundle-multi-entry",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^` + entryNamespace + `:`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, entryNamespace+":"),
						Namespace: entryNamespace,
					}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: entryNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					files, ok := entries[args.Path]
					if !ok {
						return api.OnLoadResult{}, fmt.Errorf("unknown entry point %q", args.Path)
					}
					var b strings.Builder
					for _, f := range files[:len(files)-1] {
						fmt.Fprintf(&b, "import %s;\n", strconv.Quote(f))
					}
					fmt.Fprintf(&b, "export * from %s;\n", strconv.Quote(files[len(files)-1]))
					contents := b.String()
					return api.OnLoadResult{
						Contents:   &contents,
						ResolveDir: resolveDir,
						Loader:     api.LoaderJS,
					}, nil
				})
		},
	}
}

// watchPlugin forwards every watch-mode build to the registered callback
func (c *esbuildCompiler) watchPlugin() api.Plugin {
	return api.Plugin{
		Name: "pipedbundle-watch",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				c.mu.Lock()
				c.started = time.Now()
				c.mu.Unlock()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				c.mu.Lock()
				cb := c.watchCb
				started := c.started
				c.mu.Unlock()
				if cb != nil {
					cb(c.collect(result, started))
				}
				return api.OnEndResult{}, nil
			})
		},
	}
}

func (c *esbuildCompiler) Run(ctx context.Context, cb Callback) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.bctx.Cancel()
		case <-done:
		}
	}()

	started := time.Now()
	result := c.bctx.Rebuild()
	if err := ctx.Err(); err != nil {
		return err
	}

	cb(c.collect(&result, started))
	return nil
}

func (c *esbuildCompiler) Watch(ctx context.Context, opts map[string]any, cb Callback) error {
	for key := range opts {
		log.Debug().Str("option", key).Msg("Watch option not supported by esbuild, ignoring")
	}

	c.mu.Lock()
	c.watchCb = cb
	c.mu.Unlock()

	if err := c.bctx.Watch(api.WatchOptions{}); err != nil {
		return &FatalError{Err: err}
	}

	<-ctx.Done()
	c.bctx.Cancel()
	return nil
}

func (c *esbuildCompiler) OutputFS() afero.Fs {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outputFS
}

func (c *esbuildCompiler) Close() error {
	c.bctx.Dispose()
	return nil
}

// collect converts an esbuild result into a Result and refreshes the
// output filesystem
func (c *esbuildCompiler) collect(result *api.BuildResult, started time.Time) Result {
	stats := &Stats{
		Start:    started,
		Duration: time.Since(started),
		Errors:   convertMessages(result.Errors),
		Warnings: convertMessages(result.Warnings),
	}
	if stats.HasErrors() {
		return Result{Stats: stats}
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return Result{Err: &FatalError{Err: err}}
	}

	fs := afero.NewMemMapFs()
	contents := make(map[string][]byte, len(result.OutputFiles))
	assets := make(map[string]string, len(result.OutputFiles))

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range result.OutputFiles {
		if err := fs.MkdirAll(filepath.Dir(f.Path), 0750); err != nil {
			return Result{Err: &FatalError{Err: fmt.Errorf("failed to create output directory: %w", err)}}
		}
		if err := afero.WriteFile(fs, f.Path, f.Contents, 0600); err != nil {
			return Result{Err: &FatalError{Err: fmt.Errorf("failed to write output %s: %w", f.Path, err)}}
		}

		name := c.relative(f.Path)
		contents[name] = f.Contents
		assets[name] = f.Hash
		stats.Assets = append(stats.Assets, Asset{
			Name:       name,
			Size:       len(f.Contents),
			EntryPoint: meta.Outputs[name].EntryPoint,
			Cached:     c.prevAssets[name] != "" && c.prevAssets[name] == f.Hash,
		})
	}

	inputs := make(map[string]int, len(meta.Inputs))
	for path, in := range meta.Inputs {
		prev, seen := c.prevInputs[path]
		stats.Modules = append(stats.Modules, Module{
			Path:   path,
			Size:   in.Bytes,
			Cached: seen && prev == in.Bytes,
		})
		inputs[path] = in.Bytes
	}
	slices.SortFunc(stats.Modules, func(a, b Module) int {
		return strings.Compare(a.Path, b.Path)
	})

	stats.Hash = OutputHash(contents)
	if result.Metafile != "" {
		stats.Analysis = api.AnalyzeMetafile(result.Metafile, api.AnalyzeMetafileOptions{})
	}

	c.outputFS = fs
	c.prevAssets = assets
	c.prevInputs = inputs

	return Result{Stats: stats}
}

func (c *esbuildCompiler) relative(path string) string {
	rel, err := filepath.Rel(c.cfg.WorkingDir, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func convertMessages(msgs []api.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		msg := Message{
			Text:   m.Text,
			Plugin: m.PluginName,
		}
		if m.Location != nil {
			msg.File = m.Location.File
			msg.Line = m.Location.Line
			msg.Column = m.Location.Column
			msg.LineText = m.Location.LineText
		}
		for _, n := range m.Notes {
			msg.Notes = append(msg.Notes, n.Text)
		}
		out = append(out, msg)
	}
	return out
}

func formatMessages(msgs []api.Message) []string {
	return api.FormatMessages(msgs, api.FormatMessagesOptions{
		Kind: api.ErrorMessage,
	})
}
